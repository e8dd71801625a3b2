package heap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/heapkit/internal/format"
)

func newTestRegion(t *testing.T, capacity int) *Region {
	t.Helper()
	space := newAddressSpace()
	r, err := newRegion(1, space.reserve(capacity), capacity, NewRootTable(), false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.free() })
	return r
}

func place(t *testing.T, r *Region, payload int) Addr {
	t.Helper()
	size := format.RecordSize(payload)
	rec, ok := r.reserve(size)
	require.True(t, ok)
	r.writeHeader(rec, format.Header{
		Guard:     format.GuardFront,
		Size:      uint64(size),
		Requested: uint64(payload),
		Policy:    format.PackPolicy(format.PolicyAll, 0),
	})
	return rec
}

func TestRegion_Reserve(t *testing.T) {
	r := newTestRegion(t, format.RegionAlignment)
	require.Equal(t, 0, r.Used())
	require.Equal(t, format.RegionAlignment, r.Free())

	rec, ok := r.reserve(128)
	require.True(t, ok)
	require.Equal(t, r.Base(), rec)
	require.Equal(t, 128, r.Used())

	_, ok = r.reserve(format.RegionAlignment)
	require.False(t, ok)
	require.Equal(t, 128, r.Used(), "failed reserve must not move the cursor")
}

func TestRegion_Contains(t *testing.T) {
	r := newTestRegion(t, format.RegionAlignment)
	require.False(t, r.Contains(r.Base()), "empty region contains nothing")

	place(t, r, 16)
	require.True(t, r.Contains(r.Base()))
	require.True(t, r.Contains(r.Cursor().Add(-1)))
	require.False(t, r.Contains(r.Cursor()))
	require.False(t, r.Contains(r.Base().Add(-8)))
}

func TestRegion_LocateOwner(t *testing.T) {
	r := newTestRegion(t, format.RegionAlignment)
	a := place(t, r, 32)
	b := place(t, r, 64)
	c := place(t, r, 0)

	tests := []struct {
		name string
		addr Addr
		want Addr
	}{
		{"record start", a, a},
		{"first payload byte", a.Add(format.PayloadOffset), a},
		{"unaligned interior", a.Add(format.PayloadOffset + 13), a},
		{"rear guard", b.Add(format.RecordSize(64) - 1), b},
		{"second record header", b.Add(format.SizeOffset), b},
		{"empty payload", c.Add(format.PayloadOffset), c},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := r.locateOwner(tt.addr)
			require.True(t, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestRegion_LocateOwnerSkipsFakeGuard(t *testing.T) {
	r := newTestRegion(t, format.RegionAlignment)
	a := place(t, r, 64)

	// A payload word equal to the guard, followed by garbage where the size
	// would be, must not be taken for a record start.
	p := a.Add(format.PayloadOffset)
	r.setWord(p.Add(16), format.GuardFront)
	r.setWord(p.Add(24), 3)

	got, ok := r.locateOwner(p.Add(40))
	require.True(t, ok)
	require.Equal(t, a, got)

	// A plausible size is still rejected when the fake record overruns the cursor.
	r.setWord(p.Add(24), uint64(format.MinRecordSize))
	got, ok = r.locateOwner(p.Add(40))
	require.True(t, ok)
	require.Equal(t, a, got)
}

func TestRegion_LocateOwnerWithSmashedRearGuard(t *testing.T) {
	r := newTestRegion(t, format.RegionAlignment)
	a := place(t, r, 32)
	b := place(t, r, 16)
	r.setWord(a.Add(format.RecordSize(32)-format.RearGuardSize), 0x4141_4141_4141_4141)

	got, ok := r.locateOwner(a.Add(format.PayloadOffset + 8))
	require.True(t, ok)
	require.Equal(t, a, got)

	got, ok = r.locateOwner(b.Add(format.PayloadOffset))
	require.True(t, ok)
	require.Equal(t, b, got)
}

func TestRegion_Walk(t *testing.T) {
	r := newTestRegion(t, format.RegionAlignment)
	want := []Addr{place(t, r, 8), place(t, r, 24), place(t, r, 100)}

	var got []Addr
	require.NoError(t, r.Walk(func(rec Addr, h Header) error {
		got = append(got, rec)
		require.Equal(t, format.GuardFront, h.Guard)
		return nil
	}))
	require.Equal(t, want, got)

	r.setWord(want[1], 0)
	err := r.Walk(func(Addr, Header) error { return nil })
	require.ErrorIs(t, err, format.ErrBadGuard)
}

func TestRegion_Free(t *testing.T) {
	space := newAddressSpace()
	r, err := newRegion(1, space.reserve(format.RegionAlignment), format.RegionAlignment, NewRootTable(), true)
	require.NoError(t, err)
	rec := place(t, r, 8)
	r.sites[rec] = "here"
	require.Equal(t, "here", r.Site(rec))

	require.NoError(t, r.free())
	require.Equal(t, RegionReleased, r.State())
	require.Equal(t, 0, r.Used())
	require.Empty(t, r.Site(rec))
	require.NoError(t, r.free(), "double free is harmless")
}

func TestAddressSpace_NeverReuses(t *testing.T) {
	s := newAddressSpace()
	a := s.reserve(format.RegionAlignment)
	b := s.reserve(1)
	require.Equal(t, firstRegionBase, a)
	require.Greater(t, b, a.Add(format.RegionAlignment))
	require.Zero(t, uint64(b)%format.RegionAlignment)
}
