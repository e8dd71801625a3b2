package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/heap/snapshot"
	"github.com/joshuapare/heapkit/heap/verify"
)

var (
	simulateConfig   string
	simulateSnapshot string
)

func init() {
	cmd := newSimulateCmd()
	cmd.Flags().StringVarP(&simulateConfig, "config", "c", "", "YAML workload configuration")
	cmd.Flags().StringVar(&simulateSnapshot, "snapshot", "", "Write a heap image to this path after the run")
	rootCmd.AddCommand(cmd)
}

func newSimulateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "simulate",
		Short: "Run a synthetic allocation workload and report collector statistics",
		Long: `The simulate command builds linked lists on a mutator's shadow stack,
churns through unreachable records and runs a collection after every round.
The heap is validated after the last round.

Example:
  heapctl simulate
  heapctl simulate --config workload.yaml --snapshot heap.img
  heapctl simulate --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate()
		},
	}
}

// simReport is the outcome of one simulation.
type simReport struct {
	Rounds        []heap.CycleStats `json:"rounds"`
	Totals        heap.Totals       `json:"totals"`
	Finalized     int               `json:"finalized"`
	LiveRecords   int               `json:"live_records"`
	Capacity      int               `json:"capacity"`
	DefiniteError bool              `json:"definite_error"`
}

func runSimulate() error {
	cfg, err := loadSimConfig(simulateConfig)
	if err != nil {
		return err
	}
	printVerbose("Region size: %d, max: %d\n", cfg.Heap.RegionSize, cfg.Heap.MaxRegionSize)

	report, err := simulate(cfg, simulateSnapshot)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(report)
	}
	for _, s := range report.Rounds {
		printInfo("%s\n", s)
	}
	printInfo("\n%s\n", report.Totals)
	printInfo("live records: %d, region capacity: %d, finalized: %d\n",
		report.LiveRecords, report.Capacity, report.Finalized)
	if simulateSnapshot != "" {
		printInfo("heap image written to %s\n", simulateSnapshot)
	}
	return nil
}

// simulate runs the workload described by cfg and validates the heap
// afterwards. When imagePath is set the final heap is written there.
func simulate(cfg simConfig, imagePath string) (*simReport, error) {
	h, err := heap.New(cfg.heapConfig())
	if err != nil {
		return nil, err
	}
	defer h.Close()

	nodeLayout, err := h.Layouts().Register("list-node", heap.PointerWords(0))
	if err != nil {
		return nil, err
	}
	finalized := 0
	var finalizer heap.FinalizerID
	if cfg.Workload.Finalizable {
		finalizer, err = h.RegisterFinalizer("count", func(heap.Addr, []byte) { finalized++ })
		if err != nil {
			return nil, err
		}
	}

	m := h.NewMutator()
	defer m.Close()
	w := cfg.Workload
	frame := m.PushFrame(w.Lists)

	report := &simReport{}
	for round := 0; round < w.Rounds; round++ {
		for i := 0; i < w.Lists; i++ {
			frame.Set(i, heap.Nil)
			for n := w.Length - 1; n >= 0; n-- {
				node, err := m.Alloc(16, heap.AllocOptions{Scan: heap.ScanBitmap, Layout: nodeLayout})
				if err != nil {
					return nil, fmt.Errorf("round %d list %d: %w", round, i, err)
				}
				if err := h.StoreAddr(node, frame.Get(i)); err != nil {
					return nil, err
				}
				if err := h.Store(node.Add(heap.WordSize), uint64(n)); err != nil {
					return nil, err
				}
				frame.Set(i, node)
			}
		}
		for g := 0; g < w.Garbage; g++ {
			if _, err := m.Alloc(int(w.Payload), heap.AllocOptions{Scan: heap.ScanAll, Finalizer: finalizer}); err != nil {
				return nil, fmt.Errorf("round %d garbage %d: %w", round, g, err)
			}
		}
		m.Collect()
		report.Rounds = append(report.Rounds, h.LastStats())
		finalized += h.RunFinalizers()
	}

	if err := checkLists(h, frame, w.Length); err != nil {
		return nil, err
	}
	err = h.View(func(r *heap.Region) error {
		if err := verify.AllInvariants(r); err != nil {
			return err
		}
		if err := verify.Pointers(r, frame.Slots); err != nil {
			return err
		}
		report.LiveRecords, err = verify.Count(r)
		report.Capacity = r.Capacity()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("heap validation: %w", err)
	}

	if imagePath != "" {
		if err := writeImage(h, imagePath); err != nil {
			return nil, err
		}
	}

	report.Totals = h.Totals()
	report.Finalized = finalized
	report.DefiniteError = h.DefiniteError()
	return report, nil
}

// checkLists walks every list held in frame and checks its values.
func checkLists(h *heap.Heap, frame *heap.Frame, length int) error {
	for i := range frame.Slots {
		n := 0
		for a := frame.Get(i); a != heap.Nil; n++ {
			v, err := h.Load(a.Add(heap.WordSize))
			if err != nil {
				return fmt.Errorf("list %d node %d: %w", i, n, err)
			}
			if v != uint64(n) {
				return fmt.Errorf("list %d node %d: value %d", i, n, v)
			}
			if a, err = h.LoadAddr(a); err != nil {
				return fmt.Errorf("list %d node %d: %w", i, n, err)
			}
		}
		if n != length {
			return fmt.Errorf("list %d: %d nodes, want %d", i, n, length)
		}
	}
	return nil
}

func writeImage(h *heap.Heap, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create image: %w", err)
	}
	if err := snapshot.Write(f, h); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
