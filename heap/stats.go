package heap

import (
	"time"

	"github.com/inhies/go-bytesize"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// CycleStats describes one collection cycle.
type CycleStats struct {
	Cycle      uint64
	FromRegion uint64
	ToRegion   uint64

	LiveBytes  int // bytes copied into the destination region
	FreeBytes  int // destination capacity left after the copy
	TotalBytes int // destination capacity

	// CopiedBytes counts record bytes copied by the drain loop.
	CopiedBytes int

	Migrated  int // records copied
	Discarded int // records left behind; counted only when Config.Stats is set

	StaticWords int // static table words that pointed into the condemned region
	RootWords   int // root words that pointed into the condemned region
	StackWords  int // stack slots that pointed into the condemned region

	PeakWorklist int

	FinalizersRun    int
	FinalizersQueued int
	AuditFindings    int

	Grew     bool // destination is larger than the source
	GrowNext bool // the next region will double
	Duration time.Duration
}

// Totals accumulates across cycles.
type Totals struct {
	Cycles         uint64
	Migrated       uint64
	Discarded      uint64
	ReclaimedBytes uint64
}

var statsPrinter = message.NewPrinter(language.English)

func (s CycleStats) String() string {
	return statsPrinter.Sprintf(
		"cycle %d: live %s, free %s, total %s; migrated %d, discarded %d; worklist peak %d; %v",
		s.Cycle,
		bytesize.New(float64(s.LiveBytes)),
		bytesize.New(float64(s.FreeBytes)),
		bytesize.New(float64(s.TotalBytes)),
		s.Migrated, s.Discarded, s.PeakWorklist, s.Duration,
	)
}

func (t Totals) String() string {
	return statsPrinter.Sprintf("%d cycles, %d migrated, %d discarded, %s reclaimed",
		t.Cycles, t.Migrated, t.Discarded, bytesize.New(float64(t.ReclaimedBytes)))
}

// record folds a finished cycle into the running totals and logs it when
// statistics are enabled.
func (h *Heap) record(s CycleStats, fromUsed int) {
	h.last = s
	h.totals.Cycles++
	h.totals.Migrated += uint64(s.Migrated)
	h.totals.Discarded += uint64(s.Discarded)
	if fromUsed > s.LiveBytes {
		h.totals.ReclaimedBytes += uint64(fromUsed - s.LiveBytes)
	}
	if !h.cfg.Stats {
		return
	}
	h.log.Info("heap cycle",
		"cycle", s.Cycle,
		"live", s.LiveBytes,
		"free", s.FreeBytes,
		"total", s.TotalBytes,
		"migrated", s.Migrated,
		"discarded", s.Discarded,
		"grow_next", s.GrowNext,
		"duration", s.Duration,
		"summary", s.String(),
		"totals", h.totals.String(),
	)
}
