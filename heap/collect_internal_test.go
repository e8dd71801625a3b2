package heap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/heapkit/internal/format"
)

func TestCollect_SelfTypedRecord(t *testing.T) {
	h, err := New(Config{})
	require.NoError(t, err)
	defer h.Close()

	a, err := h.Alloc(16, AllocOptions{Scan: ScanAll})
	require.NoError(t, err)
	rec := a.Add(-format.PayloadOffset)
	// A metaclass-style record whose type is itself.
	h.current.setWord(rec.Add(format.TypeOffset), uint64(a))
	root := []uint64{uint64(a)}
	h.RegisterRoot(root, "self")

	h.Collect()

	require.Equal(t, 1, h.LastStats().Migrated)
	got, err := h.RecordOf(Addr(root[0]))
	require.NoError(t, err)
	require.Equal(t, Addr(root[0]), got.Type)
}

func TestCollect_ForwardingClearedAfterCycle(t *testing.T) {
	h, err := New(Config{})
	require.NoError(t, err)
	defer h.Close()

	a, err := h.Alloc(16, AllocOptions{Scan: ScanAll})
	require.NoError(t, err)
	b, err := h.Alloc(16, AllocOptions{Scan: ScanAll})
	require.NoError(t, err)
	require.NoError(t, h.StoreAddr(a, b))
	h.RegisterRoot([]uint64{uint64(a)}, "pair")

	h.Collect()

	require.NoError(t, h.current.Walk(func(rec Addr, hdr Header) error {
		require.Zero(t, hdr.Forward)
		return nil
	}))
	require.Equal(t, RegionActive, h.current.State())
}

func TestCollect_DestinationOverflowIsFatal(t *testing.T) {
	h, err := New(Config{RegionSize: 4096})
	require.NoError(t, err)
	defer h.Close()

	a, err := h.Alloc(1024, AllocOptions{})
	require.NoError(t, err)
	h.RegisterRoot([]uint64{uint64(a)}, "big")
	// Forge a size larger than any destination could hold.
	c := &collection{h: h, from: h.current}
	c.to, err = h.newRegion(4096, NewRootTable())
	require.NoError(t, err)
	defer c.to.free()
	_, ok := c.to.reserve(4096 - 64)
	require.True(t, ok)

	require.PanicsWithError(t, "heap: fatal: forward: destination region 2 overflow copying "+
		a.Add(-format.PayloadOffset).String()+" (1096 bytes, 64 free)", func() {
		c.forward(a.Add(-format.PayloadOffset))
	})
}
