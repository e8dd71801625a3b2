package heap_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/heap/verify"
)

// FuzzConservativeScan fills conservatively scanned payloads with a mix of
// plain integers and interior addresses and checks that a cycle leaves a
// walkable region whose every pointer resolves to a live record.
func FuzzConservativeScan(f *testing.F) {
	f.Add([]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15})
	f.Add([]byte{3, 0, 0, 0, 0, 0, 0, 0, 6, 1, 0, 0, 0, 0, 0, 0})
	f.Add(make([]byte, 128))

	f.Fuzz(func(t *testing.T, data []byte) {
		const records, words = 8, 8
		h, err := heap.New(heap.Config{RegionSize: 64 << 10})
		require.NoError(t, err)
		defer h.Close()

		addrs := make([]heap.Addr, records)
		for i := range addrs {
			addrs[i], err = h.Alloc(words*8, heap.AllocOptions{Scan: heap.ScanAll})
			require.NoError(t, err)
		}

		word := func(i int) uint64 {
			var b [8]byte
			for j := range b {
				if k := i*8 + j; k < len(data) {
					b[j] = data[k]
				}
			}
			return binary.LittleEndian.Uint64(b[:])
		}
		for i := 0; i < records*words; i++ {
			w := word(i)
			if w%3 == 0 {
				// Interior address anywhere in a record, header included.
				target := addrs[(w>>8)%records]
				w = uint64(target.Add(int((w>>16)%(words*8+64)) - 64))
			} else {
				// Stay clear of every region's address range.
				w &= 1<<40 - 1
			}
			require.NoError(t, h.Store(addrs[i/words].Add(i%words*8), w))
		}

		root := []uint64{uint64(addrs[word(records*words)%records])}
		h.RegisterRoot(root, "fuzz")
		h.Collect()
		migrated := h.LastStats().Migrated
		require.GreaterOrEqual(t, migrated, 1)

		require.NoError(t, h.View(func(r *heap.Region) error {
			if err := verify.AllInvariants(r); err != nil {
				return err
			}
			n, err := verify.Count(r)
			if err != nil {
				return err
			}
			require.Equal(t, migrated, n)
			if err := verify.Pointers(r, root); err != nil {
				return err
			}
			return r.Walk(func(rec heap.Addr, hdr heap.Header) error {
				payload := r.Bytes()[rec.Sub(r.Base())+64:][:hdr.PayloadSize()]
				ws := make([]uint64, len(payload)/8)
				for i := range ws {
					ws[i] = binary.LittleEndian.Uint64(payload[i*8:])
				}
				return verify.Pointers(r, ws)
			})
		}))

		// A second cycle over the compacted heap keeps everything.
		h.Collect()
		require.Equal(t, migrated, h.LastStats().Migrated)
	})
}
