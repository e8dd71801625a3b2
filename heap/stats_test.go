package heap_test

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/internal/format"
)

func TestStats_Enabled(t *testing.T) {
	var logs bytes.Buffer
	h := newHeap(t, heap.Config{
		Stats:  true,
		Logger: slog.New(slog.NewTextHandler(&logs, nil)),
	})
	nodes := list(t, h, 10)
	h.RegisterRoot([]uint64{uint64(nodes[6])}, "tail")

	h.Collect()

	s := h.LastStats()
	require.Equal(t, uint64(1), s.Cycle)
	require.Equal(t, 4, s.Migrated)
	require.Equal(t, 6, s.Discarded)
	require.Equal(t, 4*format.RecordSize(16), s.CopiedBytes)
	require.Equal(t, s.TotalBytes, s.LiveBytes+s.FreeBytes)
	require.GreaterOrEqual(t, s.PeakWorklist, 1)
	require.Contains(t, s.String(), "cycle 1: live")
	require.Contains(t, s.String(), "migrated 4, discarded 6")
	require.Contains(t, logs.String(), "heap cycle")

	tot := h.Totals()
	require.Equal(t, uint64(1), tot.Cycles)
	require.Equal(t, uint64(4), tot.Migrated)
	require.Equal(t, uint64(6), tot.Discarded)
	require.Equal(t, uint64(6*format.RecordSize(16)), tot.ReclaimedBytes)
	require.Contains(t, tot.String(), "1 cycles, 4 migrated, 6 discarded")
}

func TestStats_Disabled(t *testing.T) {
	var logs bytes.Buffer
	h := newHeap(t, heap.Config{Logger: slog.New(slog.NewTextHandler(&logs, nil))})
	list(t, h, 3)

	h.Collect()

	require.Zero(t, h.LastStats().Discarded, "discarded records are only counted with stats on")
	require.Equal(t, uint64(1), h.LastStats().Cycle)
	require.Empty(t, logs.String())
}

func TestTrace_Logs(t *testing.T) {
	var logs bytes.Buffer
	h := newHeap(t, heap.Config{
		Trace:  true,
		Logger: slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
	})
	nodes := list(t, h, 3)
	h.RegisterRoot([]uint64{uint64(nodes[0])}, "head")

	h.Collect()

	out := logs.String()
	require.Contains(t, out, "cycle start")
	require.Contains(t, out, "provenance=head")
	require.Contains(t, out, "forward")
	require.Contains(t, out, "drained worklist")
}

func TestStats_PeakWorklistPerGroup(t *testing.T) {
	build := func(batch bool) int {
		h := newHeap(t, heap.Config{BatchRoots: batch})
		roots := make([]uint64, 0, 8)
		for i := 0; i < 8; i++ {
			roots = append(roots, uint64(node(t, h, heap.Nil, uint64(i))))
		}
		for i := range roots {
			h.RegisterRoot(roots[i:i+1], "single")
		}
		h.Collect()
		return h.LastStats().PeakWorklist
	}
	require.Equal(t, 1, build(false))
	require.Equal(t, 8, build(true))
}
