package heap

import "github.com/joshuapare/heapkit/internal/format"

// nextCapacity returns the destination capacity for a cycle: double when the
// outgoing region asked to grow, otherwise unchanged, never above max.
func nextCapacity(current int, grow bool, max int) int {
	next := current
	if grow {
		next = current * 2
	}
	if next > max {
		next = max
	}
	if next < current {
		next = current
	}
	return format.AlignRegion(next)
}

// flagGrowth marks r to double at the next cycle when its live set exceeds
// 9/16 of its capacity.
func flagGrowth(r *Region) {
	r.growNext = r.Used()*growDenominator > r.Capacity()*growNumerator
}
