package heap

import (
	"fmt"
	"sync"

	"github.com/joshuapare/heapkit/internal/format"
)

// FinalizerID identifies a registered finalizer. Zero means none.
type FinalizerID uint32

// Finalizer is called for an unreachable finalizable record. addr is the
// record's payload address in the region it died in; payload holds its
// bytes. In immediate mode payload aliases the condemned region and is only
// valid for the duration of the call, and the finalizer runs under the heap
// lock: calling back into the Heap from it deadlocks.
type Finalizer func(addr Addr, payload []byte)

type finalizerTable struct {
	mu     sync.RWMutex
	byName map[string]FinalizerID
	fns    []Finalizer
}

func newFinalizerTable() *finalizerTable {
	return &finalizerTable{byName: make(map[string]FinalizerID)}
}

func (t *finalizerTable) register(name string, fn Finalizer) (FinalizerID, error) {
	if fn == nil {
		return 0, fmt.Errorf("register finalizer %q: nil function", name)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byName[name]; ok {
		return 0, fmt.Errorf("register finalizer %q: %w", name, ErrFinalizerExists)
	}
	t.fns = append(t.fns, fn)
	id := FinalizerID(len(t.fns))
	t.byName[name] = id
	return id, nil
}

func (t *finalizerTable) lookup(id FinalizerID) (Finalizer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if id == 0 || int(id) > len(t.fns) {
		return nil, false
	}
	return t.fns[id-1], true
}

// RegisterFinalizer adds fn under name and returns the id to pass in
// AllocOptions.Finalizer.
func (h *Heap) RegisterFinalizer(name string, fn Finalizer) (FinalizerID, error) {
	return h.finalizers.register(name, fn)
}

// pendingFinalizer is a deferred finalization with a detached payload copy.
type pendingFinalizer struct {
	fn      Finalizer
	addr    Addr
	payload []byte
}

// migrateFinalizers relinks reachable finalizable records onto the
// destination region and disposes of unreachable ones according to the
// configured mode. It runs after the worklist is drained, so every forwarded
// record has its final destination.
func (c *collection) migrateFinalizers() {
	for _, rec := range c.from.finalizable {
		h := c.from.header(rec)
		if h.Forward != 0 {
			c.to.finalizable = append(c.to.finalizable, Addr(h.Forward))
			continue
		}
		fn, ok := c.h.finalizers.lookup(FinalizerID(h.Finalizer))
		if !ok {
			c.h.fatal("finalize", "record %s references unregistered finalizer %d", rec, h.Finalizer)
		}
		payload := c.from.payload(rec, h)
		addr := rec.Add(format.PayloadOffset)
		switch c.h.cfg.Finalizers {
		case FinalizeDeferred:
			c.h.pending = append(c.h.pending, pendingFinalizer{
				fn:      fn,
				addr:    addr,
				payload: append([]byte(nil), payload...),
			})
			c.stats.FinalizersQueued++
		default:
			fn(addr, payload)
			c.stats.FinalizersRun++
		}
	}
}

// RunFinalizers invokes every finalizer queued by deferred-mode cycles and
// returns how many ran. It runs without the heap lock, so finalizers may
// allocate or register roots.
func (h *Heap) RunFinalizers() int {
	h.mu.Lock()
	queue := h.pending
	h.pending = nil
	h.mu.Unlock()

	for _, p := range queue {
		p.fn(p.addr, p.payload)
	}
	return len(queue)
}

// PendingFinalizers returns the number of queued deferred finalizers.
func (h *Heap) PendingFinalizers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}
