// Package verify provides validation functions for heap regions.
// These helpers are used in tests and by heapctl to check that a region is
// walkable and that the collector left no cycle state behind.
//
// # Quick Start
//
//	err := h.View(func(r *heap.Region) error {
//	    return verify.AllInvariants(r)
//	})
//
// # Checks
//
//   - Bounds: cursor inside capacity and word aligned
//   - Records: guards, sizes and policies of every record, base to cursor
//   - ForwardingClear: no forwarding address survives a cycle
//   - Pointers: words that fall in the region's range address a record
//
// All checks return *ValidationError on failure.
package verify
