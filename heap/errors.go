package heap

import (
	"errors"
	"fmt"
)

var (
	// ErrBadSize indicates a negative or oversized allocation request.
	ErrBadSize = errors.New("heap: bad allocation size")

	// ErrRegionFull indicates the bump allocator ran out of room in the live region.
	ErrRegionFull = errors.New("heap: region full")

	// ErrOutOfMemory indicates an allocation still did not fit after collecting
	// and growing up to the configured maximum region size.
	ErrOutOfMemory = errors.New("heap: out of memory")

	// ErrBadPolicy indicates an unknown scan policy kind.
	ErrBadPolicy = errors.New("heap: bad scan policy")

	// ErrBadAddr indicates an address that is not inside an allocated record
	// of the live region.
	ErrBadAddr = errors.New("heap: address not in live region")

	// ErrUnknownLayout indicates a bitmap layout id that was never registered.
	ErrUnknownLayout = errors.New("heap: unknown layout")

	// ErrLayoutExists indicates a layout name registered twice.
	ErrLayoutExists = errors.New("heap: layout already registered")

	// ErrUnknownFinalizer indicates a finalizer id that was never registered.
	ErrUnknownFinalizer = errors.New("heap: unknown finalizer")

	// ErrFinalizerExists indicates a finalizer name registered twice.
	ErrFinalizerExists = errors.New("heap: finalizer already registered")

	// ErrClosed indicates use of a heap after Close.
	ErrClosed = errors.New("heap: closed")
)

// FatalError is the panic value raised when the collector detects heap
// corruption or a broken internal invariant. A cycle that panics with a
// FatalError leaves the heap unusable.
type FatalError struct {
	Op  string
	Msg string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("heap: fatal: %s: %s", e.Op, e.Msg)
}

// fatal logs the condition and aborts the cycle.
func (h *Heap) fatal(op, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	h.log.Error("fatal heap error", "op", op, "msg", msg)
	panic(&FatalError{Op: op, Msg: msg})
}
