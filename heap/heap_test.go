package heap_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/internal/format"
)

func TestNew_Defaults(t *testing.T) {
	h := newHeap(t, heap.Config{RegionSize: 1000})
	cfg := h.Config()
	require.Equal(t, 4096, cfg.RegionSize, "region size rounds up to a page")
	require.Equal(t, heap.DefaultMaxRegionSize, cfg.MaxRegionSize)
	require.NotNil(t, cfg.Logger)
	require.NotNil(t, cfg.World)

	used, capacity := h.Usage()
	require.Zero(t, used)
	require.Equal(t, 4096, capacity)
}

func TestAlloc_Errors(t *testing.T) {
	h := newHeap(t, heap.Config{RegionSize: 4096, MaxRegionSize: 4096})

	tests := []struct {
		name string
		size int
		opts heap.AllocOptions
		want error
	}{
		{"negative size", -1, heap.AllocOptions{}, heap.ErrBadSize},
		{"bad scan kind", 8, heap.AllocOptions{Scan: 7}, heap.ErrBadPolicy},
		{"unknown layout", 8, heap.AllocOptions{Scan: heap.ScanBitmap, Layout: 3}, heap.ErrUnknownLayout},
		{"unknown finalizer", 8, heap.AllocOptions{Finalizer: 5}, heap.ErrUnknownFinalizer},
		{"larger than any region", 8192, heap.AllocOptions{}, heap.ErrOutOfMemory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Alloc(tt.size, tt.opts)
			require.ErrorIs(t, err, tt.want)
		})
	}

	var err error
	for i := 0; i < 100 && err == nil; i++ {
		_, err = h.Alloc(256, heap.AllocOptions{})
	}
	require.ErrorIs(t, err, heap.ErrRegionFull)
}

func TestAlloc_Record(t *testing.T) {
	h := newHeap(t, heap.Config{TrackSites: true})
	a, err := h.Alloc(20, heap.AllocOptions{Scan: heap.ScanAll})
	require.NoError(t, err)

	rec, err := h.RecordOf(a.Add(19))
	require.NoError(t, err)
	require.Equal(t, a, rec.Payload)
	require.Equal(t, a.Add(-format.PayloadOffset), rec.Addr)
	require.Equal(t, 20, rec.Requested)
	require.Equal(t, format.RecordSize(20), rec.Size)
	require.Equal(t, heap.ScanAll, rec.Scan)
	require.Contains(t, rec.Site, "heap_test.go")

	payload, err := h.Payload(a)
	require.NoError(t, err)
	require.Len(t, payload, format.RecordSize(20)-format.RecordOverhead)
	require.Equal(t, make([]byte, len(payload)), payload, "fresh payloads are zeroed")
}

func TestLoadStore_Bounds(t *testing.T) {
	h := newHeap(t, heap.Config{})
	a, err := h.Alloc(16, heap.AllocOptions{})
	require.NoError(t, err)

	require.NoError(t, h.Store(a.Add(8), 5))
	v, err := h.Load(a.Add(8))
	require.NoError(t, err)
	require.Equal(t, uint64(5), v)

	require.ErrorIs(t, h.Store(a.Add(4), 1), heap.ErrBadAddr, "unaligned")
	require.ErrorIs(t, h.Store(a.Add(-8), 1), heap.ErrBadAddr, "header word")
	require.ErrorIs(t, h.Store(a.Add(16), 1), heap.ErrBadAddr, "rear guard")
	_, err = h.Load(heap.Addr(12))
	require.ErrorIs(t, err, heap.ErrBadAddr)

	require.NoError(t, h.WritePayload(a.Add(2), []byte{1, 2, 3}))
	require.ErrorIs(t, h.WritePayload(a.Add(8), make([]byte, 9)), heap.ErrBadAddr)
	payload, err := h.Payload(a)
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0, 1, 2, 3}, payload[:5])
}

func TestIdentityHash_SurvivesRelocation(t *testing.T) {
	h := newHeap(t, heap.Config{})
	a := node(t, h, heap.Nil, 1)
	b := node(t, h, heap.Nil, 2)
	root := []uint64{uint64(a), uint64(b)}
	h.RegisterRoot(root, "hashed")

	ha, err := h.IdentityHash(a)
	require.NoError(t, err)
	require.NotZero(t, ha)
	again, err := h.IdentityHash(a.Add(8))
	require.NoError(t, err)
	require.Equal(t, ha, again)
	hb, err := h.IdentityHash(b)
	require.NoError(t, err)
	require.NotEqual(t, ha, hb)

	h.Collect()

	got, err := h.IdentityHash(heap.Addr(root[0]))
	require.NoError(t, err)
	require.Equal(t, ha, got)
	got, err = h.IdentityHash(heap.Addr(root[1]))
	require.NoError(t, err)
	require.Equal(t, hb, got)
}

func TestHeap_Closed(t *testing.T) {
	h, err := heap.New(heap.Config{})
	require.NoError(t, err)
	a, err := h.Alloc(8, heap.AllocOptions{})
	require.NoError(t, err)
	require.NoError(t, h.Close())

	_, err = h.Alloc(8, heap.AllocOptions{})
	require.ErrorIs(t, err, heap.ErrClosed)
	_, err = h.Load(a)
	require.ErrorIs(t, err, heap.ErrClosed)
	require.ErrorIs(t, h.View(func(*heap.Region) error { return nil }), heap.ErrClosed)
}
