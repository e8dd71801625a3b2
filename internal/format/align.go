package format

// Align8 returns n aligned up to the next 8-byte boundary.
// Used for record sizes, which must keep every record start word-aligned.
//
// Example:
//
//	Align8(1)  = 8
//	Align8(8)  = 8
//	Align8(9)  = 16
func Align8(n int) int {
	return (n + RecordAlignmentMask) & ^RecordAlignmentMask
}

// AlignRegion returns n aligned up to the next 4KB boundary.
// Region capacities are always whole pages so they can be mapped directly.
//
// Example:
//
//	AlignRegion(1)    = 4096
//	AlignRegion(4096) = 4096
//	AlignRegion(4097) = 8192
func AlignRegion(n int) int {
	return (n + RegionAlignmentMask) & ^RegionAlignmentMask
}

// AlignDown8 returns n rounded down to an 8-byte boundary.
func AlignDown8(n uint64) uint64 {
	return n &^ RecordAlignmentMask
}

// RecordSize returns the total record size for a payload of the requested size.
func RecordSize(requested int) int {
	return Align8(requested) + RecordOverhead
}
