package heap

import (
	"fmt"

	"github.com/joshuapare/heapkit/internal/format"
	"github.com/joshuapare/heapkit/internal/mmap"
)

// RegionState is the lifecycle state of a region.
type RegionState uint8

const (
	// RegionActive regions receive allocations.
	RegionActive RegionState = iota
	// RegionCondemned regions are the source of the running cycle.
	RegionCondemned
	// RegionReleased regions have had their memory returned.
	RegionReleased
)

func (s RegionState) String() string {
	switch s {
	case RegionActive:
		return "active"
	case RegionCondemned:
		return "condemned"
	case RegionReleased:
		return "released"
	default:
		return "!err"
	}
}

// Header is the decoded header of an allocation record.
type Header = format.Header

// Region is a contiguous memory segment holding a run of allocation records
// laid out back to back from its base. It is the unit of reclamation: a cycle
// condemns the live region, copies what is reachable into a fresh one and
// releases the old one whole.
//
// A Region is owned by whoever holds the heap lock; its methods are not
// safe for concurrent use.
type Region struct {
	id       uint64
	base     Addr
	data     []byte
	release  func() error
	cursor   int // offset of the next free byte
	state    RegionState
	growNext bool

	roots *RootTable

	// finalizable lists records that carry a finalizer.
	finalizable []Addr

	// sites maps record address to allocation call site (TrackSites only).
	sites map[Addr]string
}

// newRegion maps capacity bytes at base and attaches roots.
func newRegion(id uint64, base Addr, capacity int, roots *RootTable, trackSites bool) (*Region, error) {
	data, release, err := mmap.Anon(capacity)
	if err != nil {
		return nil, fmt.Errorf("heap: new region: %w", err)
	}
	r := &Region{
		id:      id,
		base:    base,
		data:    data,
		release: release,
		roots:   roots,
	}
	if trackSites {
		r.sites = make(map[Addr]string)
	}
	return r, nil
}

// ID returns the region's sequence number within its heap.
func (r *Region) ID() uint64 { return r.id }

// Base returns the address of the first byte of the region.
func (r *Region) Base() Addr { return r.base }

// Cursor returns the address where the next record will be placed.
func (r *Region) Cursor() Addr { return r.base.Add(r.cursor) }

// Limit returns the address one past the region's capacity.
func (r *Region) Limit() Addr { return r.base.Add(len(r.data)) }

// Capacity returns the region size in bytes.
func (r *Region) Capacity() int { return len(r.data) }

// Used returns the number of bytes occupied by records.
func (r *Region) Used() int { return r.cursor }

// Free returns the number of unallocated bytes.
func (r *Region) Free() int { return len(r.data) - r.cursor }

// State returns the lifecycle state.
func (r *Region) State() RegionState { return r.state }

// GrowNext reports whether the region's successor will double in capacity.
func (r *Region) GrowNext() bool { return r.growNext }

// Roots returns the root table attached to the region.
func (r *Region) Roots() *RootTable { return r.roots }

// Bytes returns the allocated prefix of the region's memory. The slice
// aliases region memory and is invalid once the region is released.
func (r *Region) Bytes() []byte { return r.data[:r.cursor] }

// Contains reports whether a addresses an allocated byte of the region.
func (r *Region) Contains(a Addr) bool {
	return a >= r.base && a < r.base.Add(r.cursor)
}

// Site returns the recorded allocation site of the record at rec.
func (r *Region) Site(rec Addr) string {
	if r.sites == nil {
		return ""
	}
	return r.sites[rec]
}

// off converts an address inside the region to a byte offset.
func (r *Region) off(a Addr) int { return a.Sub(r.base) }

// reserve bumps the cursor by size bytes and returns the record address.
func (r *Region) reserve(size int) (Addr, bool) {
	if size > len(r.data)-r.cursor {
		return Nil, false
	}
	rec := r.base.Add(r.cursor)
	r.cursor += size
	return rec, true
}

// header decodes the header of the record at rec without validation.
func (r *Region) header(rec Addr) format.Header {
	h, _ := format.ReadHeader(r.data, r.off(rec))
	return h
}

// writeHeader encodes h at rec, including the rear guard.
func (r *Region) writeHeader(rec Addr, h format.Header) {
	format.WriteHeader(r.data, r.off(rec), h)
}

func (r *Region) word(a Addr) uint64 { return format.ReadU64(r.data, r.off(a)) }

func (r *Region) setWord(a Addr, v uint64) { format.PutU64(r.data, r.off(a), v) }

// payload returns the payload bytes of the record at rec.
func (r *Region) payload(rec Addr, h format.Header) []byte {
	start := r.off(rec) + format.PayloadOffset
	return r.data[start : start+h.PayloadSize()]
}

// Walk calls fn for every record from the base to the cursor, in address
// order. It stops at the first corrupt record and returns its error.
func (r *Region) Walk(fn func(rec Addr, h Header) error) error {
	for off := 0; off < r.cursor; {
		h, next, err := format.NextRecord(r.data, off, r.cursor)
		if err != nil {
			return fmt.Errorf("region %d: %w", r.id, err)
		}
		if err := fn(r.base.Add(off), h); err != nil {
			return err
		}
		off = next
	}
	return nil
}

// locateOwner returns the record containing a by scanning backwards word by
// word for the front guard. A guard hit only counts when the header it starts
// is well formed and spans a, so payload words that happen to equal the guard
// pattern are skipped. Rear guards are left to the audit. The caller must
// have checked r.Contains(a).
func (r *Region) locateOwner(a Addr) (Addr, bool) {
	target := r.off(a)
	for off := int(format.AlignDown8(uint64(target))); off >= 0; off -= format.WordSize {
		if format.ReadU64(r.data, off) != format.GuardFront {
			continue
		}
		h, err := format.CheckHeader(r.data, off, r.cursor)
		if err != nil || off+int(h.Size) <= target {
			continue
		}
		return r.base.Add(off), true
	}
	return Nil, false
}

// free returns the region's memory and marks it released.
func (r *Region) free() error {
	r.state = RegionReleased
	r.finalizable = nil
	r.sites = nil
	var err error
	if r.release != nil {
		err = r.release()
		r.release = nil
	}
	r.data = r.data[:0:0]
	r.cursor = 0
	return err
}
