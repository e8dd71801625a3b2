package heap

import (
	"github.com/joshuapare/heapkit/internal/format"
)

// collection is the state of one cycle. It owns the worklist and the
// (from, to) region pair and is discarded when the cycle ends.
type collection struct {
	h    *Heap
	from *Region
	to   *Region
	work worklist

	// discovered counts records forwarded this cycle; copied counts drained
	// items. They must agree once the worklist is empty.
	discovered int
	copied     int

	bits  Bitmap
	stats CycleStats
}

// relocate returns the post-cycle address for a. Addresses outside the
// condemned region come back unchanged. Inside it, the owning record is
// forwarded on first sight and the offset of a within the record is kept,
// so interior pointers stay interior pointers.
func (c *collection) relocate(a Addr) Addr {
	if !c.from.Contains(a) {
		return a
	}
	src, ok := c.from.locateOwner(a)
	if !ok {
		c.h.fatal("relocate", "no record owns %s in region %d", a, c.from.id)
	}
	dst := c.forward(src)
	return dst.Add(a.Sub(src))
}

// forward returns the destination of the record at src, allocating it and
// queueing the copy the first time src is seen this cycle. The forwarding
// slot is written before the type reference is relocated so that records
// whose type chain leads back to themselves terminate.
func (c *collection) forward(src Addr) Addr {
	h := c.from.header(src)
	if h.Forward != 0 {
		return Addr(h.Forward)
	}

	dst, ok := c.to.reserve(int(h.Size))
	if !ok {
		c.h.fatal("forward", "destination region %d overflow copying %s (%d bytes, %d free)",
			c.to.id, src, h.Size, c.to.Free())
	}
	c.from.setWord(src.Add(format.ForwardOffset), uint64(dst))
	c.discovered++
	c.work.push(src, dst)

	if c.from.sites != nil {
		if site, ok := c.from.sites[src]; ok && c.to.sites != nil {
			c.to.sites[dst] = site
		}
	}

	typ := h.Type
	if typ != 0 {
		typ = uint64(c.relocate(Addr(typ)))
	}
	c.to.writeHeader(dst, format.Header{
		Guard:     format.GuardFront,
		Size:      h.Size,
		Requested: h.Requested,
		Policy:    h.Policy,
		Finalizer: h.Finalizer,
		Type:      typ,
		Hash:      h.Hash,
	})
	if c.h.cfg.Trace {
		c.h.log.Debug("forward", "src", src, "dst", dst, "size", h.Size, "policy", ScanKind(h.Kind()))
	}
	return dst
}

// drain copies queued records strictly in FIFO order until the read index
// catches the write index. Copying may discover and queue further records.
func (c *collection) drain(group string) {
	n := 0
	for {
		it, ok := c.work.pop()
		if !ok {
			break
		}
		c.copyRecord(it)
		c.copied++
		n++
	}
	c.work.compact()
	if c.h.cfg.Trace && n > 0 {
		c.h.log.Debug("drained worklist", "group", group, "items", n, "peak", c.work.peak)
	}
}

// scanWords relocates, in place, every word of an external range that
// addresses the condemned region. The range is treated conservatively.
func (c *collection) scanWords(words []uint64) int {
	hits := 0
	for i, w := range words {
		if !c.from.Contains(Addr(w)) {
			continue
		}
		words[i] = uint64(c.relocate(Addr(w)))
		hits++
	}
	return hits
}

// finish checks the exactly-once invariant.
func (c *collection) finish() {
	if c.work.pending() != 0 {
		c.h.fatal("drain", "%d items still queued at cycle end", c.work.pending())
	}
	if c.copied != c.discovered {
		c.h.fatal("drain", "copied %d records but discovered %d", c.copied, c.discovered)
	}
}
