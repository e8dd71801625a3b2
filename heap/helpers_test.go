package heap_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/heap/verify"
)

func newHeap(t *testing.T, cfg heap.Config) *heap.Heap {
	t.Helper()
	h, err := heap.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

// node allocates a conservatively scanned two-word record: next, value.
func node(t *testing.T, h *heap.Heap, next heap.Addr, val uint64) heap.Addr {
	t.Helper()
	a, err := h.Alloc(16, heap.AllocOptions{Scan: heap.ScanAll})
	require.NoError(t, err)
	require.NoError(t, h.StoreAddr(a, next))
	require.NoError(t, h.Store(a.Add(8), val))
	return a
}

func next(t *testing.T, h *heap.Heap, a heap.Addr) heap.Addr {
	t.Helper()
	n, err := h.LoadAddr(a)
	require.NoError(t, err)
	return n
}

func value(t *testing.T, h *heap.Heap, a heap.Addr) uint64 {
	t.Helper()
	v, err := h.Load(a.Add(8))
	require.NoError(t, err)
	return v
}

// list builds n nodes valued 0..n-1 and returns them head first.
func list(t *testing.T, h *heap.Heap, n int) []heap.Addr {
	t.Helper()
	nodes := make([]heap.Addr, n)
	nxt := heap.Nil
	for i := n - 1; i >= 0; i-- {
		nodes[i] = node(t, h, nxt, uint64(i))
		nxt = nodes[i]
	}
	return nodes
}

func values(t *testing.T, h *heap.Heap, head heap.Addr) []uint64 {
	t.Helper()
	var out []uint64
	for a := head; a != heap.Nil; a = next(t, h, a) {
		out = append(out, value(t, h, a))
	}
	return out
}

func requireValid(t *testing.T, h *heap.Heap, roots ...[]uint64) {
	t.Helper()
	require.NoError(t, h.View(func(r *heap.Region) error {
		if err := verify.AllInvariants(r); err != nil {
			return err
		}
		for _, words := range roots {
			if err := verify.Pointers(r, words); err != nil {
				return err
			}
		}
		return nil
	}))
}

func liveCount(t *testing.T, h *heap.Heap) int {
	t.Helper()
	var n int
	require.NoError(t, h.View(func(r *heap.Region) error {
		var err error
		n, err = verify.Count(r)
		return err
	}))
	return n
}

// catchFatal runs fn and returns the FatalError it panicked with, if any.
func catchFatal(fn func()) (fe *heap.FatalError) {
	defer func() {
		if r := recover(); r != nil {
			var ok bool
			if fe, ok = r.(*heap.FatalError); !ok {
				panic(r)
			}
		}
	}()
	fn()
	return nil
}
