package heap

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/joshuapare/heapkit/internal/buf"
	"github.com/joshuapare/heapkit/internal/format"
)

// Heap is the handle for one managed heap: the live region, its root table,
// the static tables, the layout and finalizer registries and the registered
// mutators. All collector state hangs off the handle; nothing is global.
type Heap struct {
	mu  sync.Mutex
	cfg Config
	log *slog.Logger

	space   addressSpace
	current *Region
	regions uint64 // regions created so far

	statics []RootRecord

	layouts    *Layouts
	finalizers *finalizerTable
	hooks      hookList

	mutators    *xsync.MapOf[uint64, *Mutator]
	nextMutator atomic.Uint64

	pending []pendingFinalizer

	last   CycleStats
	totals Totals

	hashState uint64
	definite  atomic.Bool
	forceGrow bool
	closed    bool
}

// New creates a heap with one active region of cfg.RegionSize bytes.
func New(cfg Config) (*Heap, error) {
	cfg = cfg.withDefaults()
	h := &Heap{
		cfg:        cfg,
		log:        cfg.Logger,
		space:      newAddressSpace(),
		layouts:    newLayouts(),
		finalizers: newFinalizerTable(),
		mutators:   xsync.NewMapOf[uint64, *Mutator](),
		hashState:  0x9E37_79B9_7F4A_7C15,
	}
	r, err := h.newRegion(cfg.RegionSize, NewRootTable())
	if err != nil {
		return nil, err
	}
	h.current = r
	return h, nil
}

func (h *Heap) newRegion(capacity int, roots *RootTable) (*Region, error) {
	h.regions++
	base := h.space.reserve(capacity)
	return newRegion(h.regions, base, capacity, roots, h.cfg.TrackSites)
}

// Close releases the live region. Pending deferred finalizers are dropped.
func (h *Heap) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.pending = nil
	return h.current.free()
}

// Config returns the effective configuration.
func (h *Heap) Config() Config { return h.cfg }

// Layouts returns the heap's bitmap layout registry.
func (h *Heap) Layouts() *Layouts { return h.layouts }

// DefiniteError reports whether an advisory audit has found heap corruption.
// The latch is never cleared; test harnesses query it after a run.
func (h *Heap) DefiniteError() bool { return h.definite.Load() }

// View runs fn with the live region while holding the heap lock. fn must not
// retain the region or slices into it.
func (h *Heap) View(fn func(r *Region) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	return fn(h.current)
}

// AllocOptions describes a new record.
type AllocOptions struct {
	// Scan selects the scan policy.
	Scan ScanKind
	// Layout is the bitmap layout for ScanBitmap records.
	Layout LayoutID
	// Finalizer is run when the record is found unreachable.
	Finalizer FinalizerID
	// Type is the record's type reference; it is relocated like any pointer.
	Type Addr
}

// Alloc bump-allocates a record with a size-byte payload in the live region.
// It never collects: when the region is full it returns ErrRegionFull and the
// caller decides whether to collect (see Mutator.Alloc). The returned address
// is the payload start.
func (h *Heap) Alloc(size int, opts AllocOptions) (Addr, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.allocLocked(size, opts, 2)
}

func (h *Heap) allocLocked(size int, opts AllocOptions, skip int) (Addr, error) {
	if h.closed {
		return Nil, ErrClosed
	}
	if err := h.checkOptions(size, opts); err != nil {
		return Nil, err
	}
	recSize := format.RecordSize(size)
	if recSize > h.cfg.MaxRegionSize {
		return Nil, fmt.Errorf("alloc %d bytes: %w", size, ErrOutOfMemory)
	}
	r := h.current
	rec, ok := r.reserve(recSize)
	if !ok {
		return Nil, ErrRegionFull
	}
	r.writeHeader(rec, format.Header{
		Guard:     format.GuardFront,
		Size:      uint64(recSize),
		Requested: uint64(size),
		Policy:    format.PackPolicy(uint32(opts.Scan), uint32(opts.Layout)),
		Finalizer: uint64(opts.Finalizer),
		Type:      uint64(opts.Type),
	})
	if opts.Finalizer != 0 {
		r.finalizable = append(r.finalizable, rec)
	}
	if r.sites != nil {
		if _, file, line, ok := runtime.Caller(skip); ok {
			r.sites[rec] = fmt.Sprintf("%s:%d", file, line)
		}
	}
	return rec.Add(format.PayloadOffset), nil
}

func (h *Heap) checkOptions(size int, opts AllocOptions) error {
	if size < 0 {
		return fmt.Errorf("alloc %d bytes: %w", size, ErrBadSize)
	}
	switch opts.Scan {
	case ScanNone, ScanAll:
	case ScanBitmap:
		if _, ok := h.layouts.Lookup(opts.Layout); !ok {
			return fmt.Errorf("alloc layout %d: %w", opts.Layout, ErrUnknownLayout)
		}
	default:
		return fmt.Errorf("alloc scan kind %d: %w", opts.Scan, ErrBadPolicy)
	}
	if opts.Finalizer != 0 {
		if _, ok := h.finalizers.lookup(opts.Finalizer); !ok {
			return fmt.Errorf("alloc finalizer %d: %w", opts.Finalizer, ErrUnknownFinalizer)
		}
	}
	return nil
}

// RegisterRoot adds words to the live region's root table. Every word that
// holds a heap address is rewritten in place when its referent moves.
func (h *Heap) RegisterRoot(words []uint64, provenance string) RootID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current.roots.Add(words, provenance)
}

// UnregisterRoot removes a root range.
func (h *Heap) UnregisterRoot(id RootID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current.roots.Remove(id)
}

// RegisterStatic permanently registers a static table (for example interned
// type descriptors). Static tables are scanned before any other root.
func (h *Heap) RegisterStatic(words []uint64, provenance string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statics = append(h.statics, RootRecord{Words: words, Provenance: provenance})
}

// Record describes one allocation record of the live region.
type Record struct {
	Addr      Addr // record start
	Payload   Addr // payload start
	Size      int  // total record size
	Requested int
	Scan      ScanKind
	Layout    LayoutID
	Finalizer FinalizerID
	Type      Addr
	Hash      uint64
	Site      string
}

// RecordOf returns the record containing a, which may be any interior address.
func (h *Heap) RecordOf(a Addr) (Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, hdr, err := h.ownerLocked(a)
	if err != nil {
		return Record{}, err
	}
	return Record{
		Addr:      rec,
		Payload:   rec.Add(format.PayloadOffset),
		Size:      int(hdr.Size),
		Requested: int(hdr.Requested),
		Scan:      ScanKind(hdr.Kind()),
		Layout:    LayoutID(hdr.Layout()),
		Finalizer: FinalizerID(hdr.Finalizer),
		Type:      Addr(hdr.Type),
		Hash:      hdr.Hash,
		Site:      h.current.Site(rec),
	}, nil
}

func (h *Heap) ownerLocked(a Addr) (Addr, format.Header, error) {
	if h.closed {
		return Nil, format.Header{}, ErrClosed
	}
	r := h.current
	if !r.Contains(a) {
		return Nil, format.Header{}, fmt.Errorf("%s: %w", a, ErrBadAddr)
	}
	rec, ok := r.locateOwner(a)
	if !ok {
		return Nil, format.Header{}, fmt.Errorf("%s: no owning record: %w", a, ErrBadAddr)
	}
	return rec, r.header(rec), nil
}

// payloadWord validates that a is a word-aligned payload address of the live region.
func (h *Heap) payloadWord(a Addr) error {
	rec, hdr, err := h.ownerLocked(a)
	if err != nil {
		return err
	}
	off := a.Sub(rec) - format.PayloadOffset
	if off < 0 || off+format.WordSize > hdr.PayloadSize() || off%format.WordSize != 0 {
		return fmt.Errorf("%s: not a payload word of %s: %w", a, rec, ErrBadAddr)
	}
	return nil
}

// Load reads the payload word at a.
func (h *Heap) Load(a Addr) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.payloadWord(a); err != nil {
		return 0, err
	}
	return h.current.word(a), nil
}

// LoadAddr reads the payload word at a as an address.
func (h *Heap) LoadAddr(a Addr) (Addr, error) {
	v, err := h.Load(a)
	return Addr(v), err
}

// Store writes v to the payload word at a.
func (h *Heap) Store(a Addr, v uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.payloadWord(a); err != nil {
		return err
	}
	h.current.setWord(a, v)
	return nil
}

// StoreAddr writes p to the payload word at a.
func (h *Heap) StoreAddr(a, p Addr) error { return h.Store(a, uint64(p)) }

// Payload returns a copy of the payload of the record containing a.
func (h *Heap) Payload(a Addr) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, hdr, err := h.ownerLocked(a)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), h.current.payload(rec, hdr)...), nil
}

// WritePayload copies data into the payload of the record containing a,
// starting at a.
func (h *Heap) WritePayload(a Addr, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, hdr, err := h.ownerLocked(a)
	if err != nil {
		return err
	}
	off := a.Sub(rec) - format.PayloadOffset
	if _, err := buf.CheckRange(hdr.PayloadSize(), off, len(data), 1); err != nil {
		return fmt.Errorf("%s: write to %s: %v: %w", a, rec, err, ErrBadAddr)
	}
	copy(h.current.payload(rec, hdr)[off:], data)
	return nil
}

// IdentityHash returns the identity hash of the record containing a,
// assigning one on first use. The hash lives in the record header and
// survives relocation.
func (h *Heap) IdentityHash(a Addr) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, hdr, err := h.ownerLocked(a)
	if err != nil {
		return 0, err
	}
	if hdr.Hash != 0 {
		return hdr.Hash, nil
	}
	v := h.nextHash()
	h.current.setWord(rec.Add(format.HashOffset), v)
	return v, nil
}

// nextHash is splitmix64 over a per-heap counter; it never returns 0.
func (h *Heap) nextHash() uint64 {
	for {
		h.hashState += 0x9E37_79B9_7F4A_7C15
		z := h.hashState
		z = (z ^ (z >> 30)) * 0xBF58_476D_1CE4_E5B9
		z = (z ^ (z >> 27)) * 0x94D0_49BB_1331_11EB
		z ^= z >> 31
		if z != 0 {
			return z
		}
	}
}

// LastStats returns the statistics of the most recent cycle.
func (h *Heap) LastStats() CycleStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// Totals returns running totals across all cycles.
func (h *Heap) Totals() Totals {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.totals
}

// Usage reports the live region's capacity and occupancy.
func (h *Heap) Usage() (used, capacity int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current.Used(), h.current.Capacity()
}
