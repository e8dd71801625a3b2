// Package heap implements the managed heap of a language runtime: bump
// allocation into regions of simulated raw memory and a tracing, copying
// garbage collector that reclaims them.
//
// # Overview
//
// A Heap owns exactly one live Region at a time. Records are bump-allocated
// back to back from the region base; every record starts with a fixed 64-byte
// header (see internal/format) and ends with a rear guard word:
//
//	[guard|size|requested|policy|finalizer|type|forward|hash][payload...][rear guard]
//
// Addresses are simulated (type Addr). Payload words that hold pointers store
// Addr values, so pointer identity, interior pointers and aliasing behave the
// way they do in real memory.
//
// # Collection
//
// Collect condemns the live region, maps a fresh destination and copies
// everything reachable from the static tables, the root table and the
// mutators' shadow stacks. Traversal is breadth-first over a FIFO worklist.
// Each record is forwarded once: its forwarding slot is set on first
// discovery and later references reuse it, which is what makes cyclic graphs
// terminate. Interior pointers keep their offset from the record start.
//
//	h, _ := heap.New(heap.Config{RegionSize: 1 << 20})
//	defer h.Close()
//
//	node, _ := h.Alloc(16, heap.AllocOptions{Scan: heap.ScanAll})
//	root := []uint64{uint64(node)}
//	h.RegisterRoot(root, "example")
//
//	h.Collect()
//	node = heap.Addr(root[0]) // rewritten in place
//
// # Scan Policies
//
// Every record carries one of three policies, chosen by the allocating code:
//
//   - ScanNone: no pointers, copied verbatim
//   - ScanAll: every word that addresses the condemned region is relocated
//   - ScanBitmap: a registered BitmapFunc flags exactly the pointer words
//
// Conservative scanning may rewrite an integer that happens to alias a heap
// address. That is safe: the word either was a pointer or is never read as
// one by its owner.
//
// # Growth
//
// A destination region has the source's capacity, doubled when the source
// was flagged. After a cycle the destination is flagged when its live set is
// above 9/16 of its capacity.
//
// # Errors
//
// Collect never returns an error. Heap corruption and broken collector
// invariants panic with *FatalError; allocation and access errors are
// ordinary errors wrapping the Err values of this package.
//
// # Thread Safety
//
// Heap methods lock the heap. A cycle holds the lock from start to finish
// and calls Config.World to pause other mutators, which must not touch heap
// memory until the world restarts.
package heap
