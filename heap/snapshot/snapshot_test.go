package snapshot

import (
	"bytes"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/internal/format"
)

func buildHeap(t *testing.T) (*heap.Heap, heap.LayoutID) {
	t.Helper()
	h, err := heap.New(heap.Config{RegionSize: 64 << 10})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	pair, err := h.Layouts().Register("pair", heap.PointerWords(0, 1))
	require.NoError(t, err)

	leaf, err := h.Alloc(24, heap.AllocOptions{Scan: heap.ScanNone})
	require.NoError(t, err)
	require.NoError(t, h.WritePayload(leaf, []byte("hello heap image")))
	p, err := h.Alloc(16, heap.AllocOptions{Scan: heap.ScanBitmap, Layout: pair})
	require.NoError(t, err)
	require.NoError(t, h.StoreAddr(p, leaf))
	_, err = h.Alloc(8, heap.AllocOptions{Scan: heap.ScanAll, Type: leaf})
	require.NoError(t, err)
	return h, pair
}

func TestRoundTrip(t *testing.T) {
	h, _ := buildHeap(t)

	var out bytes.Buffer
	require.NoError(t, Write(&out, h))
	require.Equal(t, Magic[:], out.Bytes()[:4])

	img, err := Read(&out, h.Layouts())
	require.NoError(t, err)

	used, capacity := h.Usage()
	require.Equal(t, used, img.Used)
	require.Equal(t, capacity, img.Capacity)
	require.Len(t, img.Records, 3)
	require.Equal(t, map[heap.LayoutID]string{1: "pair"}, img.Layouts)

	require.Equal(t, heap.ScanNone, img.Records[0].Scan)
	require.Equal(t, []byte("hello heap image"), img.Payload(img.Records[0])[:16])
	require.Equal(t, heap.ScanBitmap, img.Records[1].Scan)
	require.Equal(t, "pair", img.Records[1].Layout)
	require.Equal(t, img.Records[0].Addr.Add(format.PayloadOffset), img.Records[2].Type)

	s := img.Summarize()
	require.Equal(t, 3, s.Records)
	require.Equal(t, used, s.Bytes)
	require.Equal(t, 1, s.ByScan[heap.ScanBitmap])

	require.NoError(t, h.View(func(r *heap.Region) error {
		require.Equal(t, r.Base(), img.Base)
		require.Equal(t, r.Bytes(), img.Data)
		return nil
	}))
}

func TestRead_UnresolvedLayout(t *testing.T) {
	h, _ := buildHeap(t)
	var out bytes.Buffer
	require.NoError(t, WriteWithOptions(&out, h, Options{Quality: 11}))

	other, err := heap.New(heap.Config{})
	require.NoError(t, err)
	defer other.Close()

	_, err = Read(bytes.NewReader(out.Bytes()), other.Layouts())
	require.ErrorIs(t, err, ErrUnresolvedLayout)

	// Without a registry names are taken as written.
	img, err := Read(bytes.NewReader(out.Bytes()), nil)
	require.NoError(t, err)
	require.Equal(t, "pair", img.Records[1].Layout)

	// The same name under a different id resolves.
	_, err = other.Layouts().Register("unrelated", heap.PointerWords())
	require.NoError(t, err)
	_, err = other.Layouts().Register("pair", heap.PointerWords(0, 1))
	require.NoError(t, err)
	_, err = Read(bytes.NewReader(out.Bytes()), other.Layouts())
	require.NoError(t, err)
}

func TestRead_HeaderErrors(t *testing.T) {
	h, _ := buildHeap(t)
	var out bytes.Buffer
	require.NoError(t, Write(&out, h))
	good := out.Bytes()

	tests := []struct {
		name   string
		mutate func(b []byte) []byte
		want   error
	}{
		{"bad magic", func(b []byte) []byte { b[0] = 'X'; return b }, ErrBadMagic},
		{"bad version", func(b []byte) []byte { format.PutU32(b, 4, 9); return b }, ErrBadVersion},
		{"used past capacity", func(b []byte) []byte { format.PutU64(b, 0x18, 1<<40); return b }, ErrCorruptRecord},
		{"huge used and capacity", func(b []byte) []byte {
			format.PutU64(b, 0x10, 1<<62)
			format.PutU64(b, 0x18, 1<<62)
			return b
		}, ErrCorruptRecord},
		{"used short of stream", func(b []byte) []byte {
			format.PutU64(b, 0x18, format.ReadU64(b, 0x18)-format.RecordAlignment)
			return b
		}, ErrCorruptRecord},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.mutate(append([]byte(nil), good...))
			_, err := Read(bytes.NewReader(b), nil)
			require.ErrorIs(t, err, tt.want)
		})
	}

	_, err := Read(bytes.NewReader(good[:10]), nil)
	require.Error(t, err)
}

func TestRead_CorruptRecord(t *testing.T) {
	h, _ := buildHeap(t)
	require.NoError(t, h.View(func(r *heap.Region) error {
		// Clobber the second record's rear guard.
		data := r.Bytes()
		_, next, err := format.NextRecord(data, 0, len(data))
		require.NoError(t, err)
		_, end, err := format.NextRecord(data, next, len(data))
		require.NoError(t, err)
		format.PutU64(data, end-format.RearGuardSize, 0)
		return nil
	}))

	// Write walks the region to collect layout names and refuses it.
	var out bytes.Buffer
	err := Write(&out, h)
	require.ErrorIs(t, err, format.ErrBadGuard)
}

func TestRead_CorruptStream(t *testing.T) {
	rec := make([]byte, format.RecordSize(8))
	format.WriteHeader(rec, 0, format.Header{
		Guard: format.GuardFront,
		Size:  uint64(len(rec)),
	})
	format.PutU64(rec, len(rec)-format.RearGuardSize, 0x1234)

	hdr := make([]byte, headerSize)
	copy(hdr, Magic[:])
	format.PutU32(hdr, 0x04, Version)
	format.PutU64(hdr, 0x08, 0x7A00_0000_0000_0000)
	format.PutU64(hdr, 0x10, 4096)
	format.PutU64(hdr, 0x18, uint64(len(rec)))

	var out bytes.Buffer
	out.Write(hdr)
	zw := brotli.NewWriter(&out)
	_, err := zw.Write(rec)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = Read(&out, nil)
	require.ErrorIs(t, err, ErrCorruptRecord)
	require.ErrorIs(t, err, format.ErrBadGuard)
}

func TestRead_EmptyHeap(t *testing.T) {
	h, err := heap.New(heap.Config{})
	require.NoError(t, err)
	defer h.Close()

	var out bytes.Buffer
	require.NoError(t, Write(&out, h))
	img, err := Read(&out, h.Layouts())
	require.NoError(t, err)
	require.Zero(t, img.Used)
	require.Empty(t, img.Records)
}
