package heap

import (
	"errors"
	"fmt"

	"github.com/joshuapare/heapkit/internal/format"
)

// maxAllocAttempts bounds the collect-and-grow loop in Mutator.Alloc.
const maxAllocAttempts = 64

// Mutator is a registered thread of the managed program. It owns a shadow
// stack: a chain of frames whose slots hold the addresses the thread is
// currently working with. The collector scans the slots conservatively and
// rewrites them in place, the same way it treats root ranges.
//
// A Mutator is not safe for concurrent use; it belongs to one goroutine.
type Mutator struct {
	id     uint64
	h      *Heap
	frames []*Frame
}

// Frame is one activation record on a mutator's shadow stack.
type Frame struct {
	Slots []uint64
}

// Get returns slot i as an address.
func (f *Frame) Get(i int) Addr { return Addr(f.Slots[i]) }

// Set stores a in slot i.
func (f *Frame) Set(i int, a Addr) { f.Slots[i] = uint64(a) }

// NewMutator registers a mutator with the heap.
func (h *Heap) NewMutator() *Mutator {
	m := &Mutator{id: h.nextMutator.Add(1), h: h}
	h.mutators.Store(m.id, m)
	return m
}

// ID returns the mutator's registration id.
func (m *Mutator) ID() uint64 { return m.id }

// Close unregisters the mutator; its stack is no longer scanned.
func (m *Mutator) Close() {
	m.h.mutators.Delete(m.id)
	m.frames = nil
}

// PushFrame pushes a frame with n zeroed slots.
func (m *Mutator) PushFrame(n int) *Frame {
	f := &Frame{Slots: make([]uint64, n)}
	m.frames = append(m.frames, f)
	return f
}

// PopFrame discards the innermost frame.
func (m *Mutator) PopFrame() {
	if len(m.frames) == 0 {
		return
	}
	m.frames[len(m.frames)-1] = nil
	m.frames = m.frames[:len(m.frames)-1]
}

// Depth returns the number of frames on the shadow stack.
func (m *Mutator) Depth() int { return len(m.frames) }

// Collect runs a full cycle with m as the initiating thread.
func (m *Mutator) Collect() { m.h.collect(m) }

// Alloc allocates like Heap.Alloc but collects when the live region is
// full. If the record still does not fit, the heap is forced to grow until
// it does or MaxRegionSize is reached. Any address the caller needs after
// Alloc must be held in a frame slot, root or reachable record.
func (m *Mutator) Alloc(size int, opts AllocOptions) (Addr, error) {
	h := m.h
	for attempt := 0; ; attempt++ {
		h.mu.Lock()
		a, err := h.allocLocked(size, opts, 2)
		if !errors.Is(err, ErrRegionFull) {
			h.mu.Unlock()
			return a, err
		}
		need := format.RecordSize(size)
		if attempt > 0 {
			if attempt > maxAllocAttempts || h.current.Capacity() >= h.cfg.MaxRegionSize || need > h.cfg.MaxRegionSize {
				h.mu.Unlock()
				return Nil, fmt.Errorf("alloc %d bytes after %d cycles: %w", size, attempt, ErrOutOfMemory)
			}
			h.forceGrow = true
		}
		h.mu.Unlock()
		m.Collect()
	}
}

// stackWords calls fn for every frame on the shadow stack, innermost last.
func (m *Mutator) stackWords(fn func(words []uint64)) {
	for _, f := range m.frames {
		fn(f.Slots)
	}
}
