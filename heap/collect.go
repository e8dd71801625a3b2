package heap

import (
	"time"
)

// Collect runs a full cycle on behalf of no particular mutator: every
// registered mutator's stack is scanned.
func (h *Heap) Collect() { h.collect(nil) }

// collect runs one stop-and-copy cycle:
//
//  1. stop the world and condemn the live region;
//  2. map a destination of the same or double capacity with a copy of the
//     root table;
//  3. relocate static tables, then roots, then mutator stacks (initiator
//     first), draining the worklist after each group;
//  4. check that every discovered record was copied exactly once;
//  5. migrate finalizers, flag growth, audit;
//  6. install the destination, run hooks, release the source.
//
// There is no way to cancel a cycle: a half-forwarded heap is inconsistent.
func (h *Heap) collect(initiator *Mutator) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	h.cfg.World.StopTheWorld()
	defer h.cfg.World.StartTheWorld()

	start := time.Now()
	from := h.current
	from.state = RegionCondemned

	capacity := nextCapacity(from.Capacity(), from.growNext || h.forceGrow, h.cfg.MaxRegionSize)
	h.forceGrow = false
	to, err := h.newRegion(capacity, from.roots.Clone())
	if err != nil {
		// Nothing has been forwarded yet, so the heap is still intact.
		from.state = RegionActive
		h.log.Error("heap cycle skipped: cannot map destination region", "capacity", capacity, "err", err)
		return
	}

	c := &collection{h: h, from: from, to: to}
	c.stats.Cycle = h.totals.Cycles + 1
	c.stats.FromRegion = from.id
	c.stats.ToRegion = to.id
	if h.cfg.Trace {
		h.log.Debug("cycle start", "cycle", c.stats.Cycle, "from", from.id, "from_used", from.Used(),
			"to", to.id, "to_capacity", to.Capacity())
	}

	c.scanRoots(initiator)
	c.finish()
	c.migrateFinalizers()

	flagGrowth(to)
	c.audit()

	c.stats.Migrated = c.copied
	c.stats.LiveBytes = to.Used()
	c.stats.FreeBytes = to.Free()
	c.stats.TotalBytes = to.Capacity()
	c.stats.PeakWorklist = c.work.peak
	c.stats.Grew = to.Capacity() > from.Capacity()
	c.stats.GrowNext = to.growNext
	if h.cfg.Stats {
		c.stats.Discarded = countDiscarded(from)
	}
	fromUsed := from.Used()

	to.state = RegionActive
	h.current = to
	h.hooks.run()

	if err := from.free(); err != nil {
		h.log.Warn("heap: release condemned region", "region", from.id, "err", err)
	}
	c.stats.Duration = time.Since(start)
	h.record(c.stats, fromUsed)
}

// scanRoots seeds the worklist. Groups are independent; draining after each
// one keeps the worklist short.
func (c *collection) scanRoots(initiator *Mutator) {
	drain := func(group string) {
		if !c.h.cfg.BatchRoots {
			c.drain(group)
		}
	}

	for _, st := range c.h.statics {
		n := c.scanWords(st.Words)
		c.stats.StaticWords += n
		c.traceRange("static", st.Provenance, len(st.Words), n)
		drain("static")
	}

	for _, rr := range c.from.roots.Records() {
		n := c.scanWords(rr.Words)
		c.stats.RootWords += n
		c.traceRange("root", rr.Provenance, len(rr.Words), n)
		drain("root")
	}

	scanStack := func(m *Mutator) {
		m.stackWords(func(words []uint64) {
			c.stats.StackWords += c.scanWords(words)
		})
		if c.h.cfg.Trace {
			c.h.log.Debug("scan stack", "mutator", m.id, "frames", len(m.frames), "initiator", m == initiator)
		}
		drain("stack")
	}
	if initiator != nil {
		scanStack(initiator)
	}
	c.h.mutators.Range(func(id uint64, m *Mutator) bool {
		if m != initiator {
			scanStack(m)
		}
		return true
	})

	c.drain("final")
}

func (c *collection) traceRange(kind, provenance string, words, hits int) {
	if !c.h.cfg.Trace {
		return
	}
	c.h.log.Debug("scan "+kind, "provenance", provenance, "words", words, "hits", hits,
		"pending", c.work.pending())
}

// countDiscarded walks the condemned region and counts records that were
// never forwarded.
func countDiscarded(r *Region) int {
	n := 0
	for off := 0; off < r.cursor; {
		rec := r.base.Add(off)
		h := r.header(rec)
		if h.Size == 0 {
			break
		}
		if h.Forward == 0 {
			n++
		}
		off += int(h.Size)
	}
	return n
}
