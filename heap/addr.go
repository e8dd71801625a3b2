package heap

import (
	"fmt"

	"github.com/joshuapare/heapkit/internal/format"
)

// Addr is a simulated machine address. Heap words that hold pointers store
// Addr values, so an Addr is always exactly one word wide.
type Addr uint64

// Nil is the zero address.
const Nil Addr = 0

// WordSize is the size of a heap word in bytes.
const WordSize = format.WordSize

// Add returns a offset by n bytes.
func (a Addr) Add(n int) Addr { return Addr(int64(a) + int64(n)) }

// Sub returns the signed byte distance a - b.
func (a Addr) Sub(b Addr) int { return int(int64(a) - int64(b)) }

func (a Addr) String() string { return fmt.Sprintf("0x%012X", uint64(a)) }

const (
	// firstRegionBase is where the first region of every heap is mapped.
	// Keeping it far above small integers makes accidental aliasing by plain
	// counters rare in conservatively scanned payloads.
	firstRegionBase Addr = 0x0000_7A00_0000_0000

	// regionGap separates consecutive regions so that a one-past-the-end
	// address of one region never equals the base of the next.
	regionGap = format.RegionAlignment
)

// addressSpace hands out region base addresses. Addresses are never reused,
// so a stale pointer into a released region can never alias a live one.
type addressSpace struct {
	next Addr
}

func newAddressSpace() addressSpace {
	return addressSpace{next: firstRegionBase}
}

func (s *addressSpace) reserve(capacity int) Addr {
	base := s.next
	s.next = s.next.Add(format.AlignRegion(capacity) + regionGap)
	return base
}
