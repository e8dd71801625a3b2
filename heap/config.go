package heap

import (
	"io"
	"log/slog"
	"os"

	"github.com/joshuapare/heapkit/internal/format"
)

const (
	// DefaultRegionSize is the capacity of the first region when Config.RegionSize is zero.
	DefaultRegionSize = 1 << 20

	// DefaultMaxRegionSize caps region growth when Config.MaxRegionSize is zero.
	DefaultMaxRegionSize = 1 << 30

	// growNumerator/growDenominator is the live-set fraction of destination
	// capacity above which the next region doubles.
	growNumerator   = 9
	growDenominator = 16
)

// Runtime trace toggle - controlled by the HEAPKIT_TRACE env var.
var traceEnv = os.Getenv("HEAPKIT_TRACE") != ""

// AuditMode selects what happens to guard corruption found before a
// condemned region is released.
type AuditMode uint8

const (
	// AuditOff skips the guard audit.
	AuditOff AuditMode = iota
	// AuditAdvisory logs corruption, sets the definite-error latch and continues.
	AuditAdvisory
	// AuditStrict aborts the cycle with a FatalError on the first corrupt record.
	AuditStrict
)

func (m AuditMode) String() string {
	switch m {
	case AuditOff:
		return "off"
	case AuditAdvisory:
		return "advisory"
	case AuditStrict:
		return "strict"
	default:
		return "unknown"
	}
}

// FinalizerMode selects how unreachable finalizable records are handled.
type FinalizerMode uint8

const (
	// FinalizeImmediate runs finalizers of unreachable records inside the
	// cycle, with the stale payload, before the source region is released.
	// Finalizers run under the heap lock and must not call back into the heap.
	FinalizeImmediate FinalizerMode = iota
	// FinalizeDeferred queues unreachable records with a detached copy of
	// their payload; Heap.RunFinalizers invokes them later.
	FinalizeDeferred
)

func (m FinalizerMode) String() string {
	switch m {
	case FinalizeImmediate:
		return "immediate"
	case FinalizeDeferred:
		return "deferred"
	default:
		return "unknown"
	}
}

// World pauses and resumes every mutator other than the one running a
// collection. The collector rewrites pointers in place, so no mutator may run
// between StopTheWorld and StartTheWorld.
type World interface {
	StopTheWorld()
	StartTheWorld()
}

type noWorld struct{}

func (noWorld) StopTheWorld()  {}
func (noWorld) StartTheWorld() {}

// Config configures a Heap. The zero value is usable; DefaultConfig spells
// out the defaults.
type Config struct {
	// RegionSize is the capacity of the first region in bytes, rounded up to
	// whole pages.
	RegionSize int

	// MaxRegionSize bounds growth. Allocations that cannot fit a region of
	// this size fail with ErrOutOfMemory.
	MaxRegionSize int

	// Stats enables per-cycle statistics logging and the discarded-record count.
	Stats bool

	// Trace enables step-level debug logging of roots, stacks and the worklist.
	Trace bool

	// Audit selects the guard audit run before the source region is released.
	Audit AuditMode

	// AuditMissedPointers scans live bitmap-scanned records for unflagged
	// words that alias discarded records. Findings are warnings only.
	AuditMissedPointers bool

	// TrackSites records the allocation call site of every record so the
	// audit can report provenance.
	TrackSites bool

	// Finalizers selects the finalizer migration mode.
	Finalizers FinalizerMode

	// BatchRoots drains the worklist once after all root groups instead of
	// after each group. Draining per group bounds peak worklist size.
	BatchRoots bool

	// World stops and restarts other mutators around a cycle. Nil means the
	// caller guarantees exclusivity.
	World World

	// Logger receives statistics, trace and audit output. Nil discards.
	Logger *slog.Logger
}

// DefaultConfig returns the configuration used for a zero Config.
func DefaultConfig() Config {
	return Config{
		RegionSize:    DefaultRegionSize,
		MaxRegionSize: DefaultMaxRegionSize,
		Audit:         AuditOff,
		Finalizers:    FinalizeImmediate,
	}
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	if c.RegionSize <= 0 {
		c.RegionSize = DefaultRegionSize
	}
	c.RegionSize = format.AlignRegion(c.RegionSize)
	if c.MaxRegionSize <= 0 {
		c.MaxRegionSize = DefaultMaxRegionSize
	}
	c.MaxRegionSize = format.AlignRegion(c.MaxRegionSize)
	if c.MaxRegionSize < c.RegionSize {
		c.MaxRegionSize = c.RegionSize
	}
	if c.World == nil {
		c.World = noWorld{}
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if traceEnv {
		c.Trace = true
	}
	return c
}
