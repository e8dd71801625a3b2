package verify

import (
	"errors"
	"fmt"

	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/internal/format"
)

// ValidationError describes one broken region invariant.
type ValidationError struct {
	Type    string
	Message string
	Addr    heap.Addr
	Details map[string]interface{}
}

func (e *ValidationError) Error() string {
	if e.Addr != heap.Nil {
		return fmt.Sprintf("%s at %s: %s", e.Type, e.Addr, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// AllInvariants validates all region invariants in one call.
// Returns the first error encountered, or nil if all checks pass.
func AllInvariants(r *heap.Region) error {
	if err := Bounds(r); err != nil {
		return err
	}
	if err := Records(r); err != nil {
		return err
	}
	if err := ForwardingClear(r); err != nil {
		return err
	}
	return nil
}

// Bounds checks that the cursor lies inside the region and on a word boundary.
func Bounds(r *heap.Region) error {
	used := r.Used()
	if used < 0 || used > r.Capacity() {
		return &ValidationError{
			Type:    "Bounds",
			Message: fmt.Sprintf("cursor offset %d outside capacity %d", used, r.Capacity()),
			Details: map[string]interface{}{"used": used, "capacity": r.Capacity()},
		}
	}
	if used%format.RecordAlignment != 0 {
		return &ValidationError{
			Type:    "Bounds",
			Message: fmt.Sprintf("cursor offset %d not %d-byte aligned", used, format.RecordAlignment),
		}
	}
	return nil
}

// Records walks the region from base to cursor and checks every record's
// guards, size and policy. A region that passes is walkable end to end.
func Records(r *heap.Region) error {
	data := r.Bytes()
	for off := 0; off < len(data); {
		_, next, err := format.NextRecord(data, off, len(data))
		if err != nil {
			return &ValidationError{
				Type:    "Records",
				Message: err.Error(),
				Addr:    r.Base().Add(off),
			}
		}
		off = next
	}
	return nil
}

// ForwardingClear checks that no record of a live region carries a
// forwarding address. Forwarding slots only hold values during a cycle.
func ForwardingClear(r *heap.Region) error {
	return walk(r, "ForwardingClear", func(rec heap.Addr, h heap.Header) error {
		if h.Forward != 0 {
			return &ValidationError{
				Type:    "ForwardingClear",
				Message: fmt.Sprintf("stale forwarding address 0x%X", h.Forward),
				Addr:    rec,
			}
		}
		return nil
	})
}

// Pointers checks that every word of words that falls inside the region's
// address range addresses an allocated byte and resolves to a record.
// Words outside the range are ignored; they are either data or pointers
// elsewhere.
func Pointers(r *heap.Region, words []uint64) error {
	starts := make([]heap.Addr, 0, 64)
	ends := make([]heap.Addr, 0, 64)
	if err := walk(r, "Pointers", func(rec heap.Addr, h heap.Header) error {
		starts = append(starts, rec)
		ends = append(ends, rec.Add(int(h.Size)))
		return nil
	}); err != nil {
		return err
	}
	for i, w := range words {
		a := heap.Addr(w)
		if a < r.Base() || a >= r.Limit() {
			continue
		}
		if !r.Contains(a) {
			return &ValidationError{
				Type:    "Pointers",
				Message: fmt.Sprintf("word %d points past the cursor %s", i, r.Cursor()),
				Addr:    a,
			}
		}
		if !covered(starts, ends, a) {
			return &ValidationError{
				Type:    "Pointers",
				Message: fmt.Sprintf("word %d not inside any record", i),
				Addr:    a,
			}
		}
	}
	return nil
}

// Count returns the number of records in the region.
func Count(r *heap.Region) (int, error) {
	n := 0
	err := walk(r, "Count", func(heap.Addr, heap.Header) error {
		n++
		return nil
	})
	return n, err
}

func covered(starts, ends []heap.Addr, a heap.Addr) bool {
	lo, hi := 0, len(starts)
	for lo < hi {
		mid := (lo + hi) / 2
		if ends[mid] <= a {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo < len(starts) && starts[lo] <= a
}

func walk(r *heap.Region, kind string, fn func(rec heap.Addr, h heap.Header) error) error {
	err := r.Walk(fn)
	if err == nil {
		return nil
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return err
	}
	return &ValidationError{Type: kind, Message: err.Error()}
}
