package heap

import (
	"github.com/joshuapare/heapkit/internal/format"
)

// copyRecord copies the payload of one queued record into its destination
// and then rewrites the destination's pointer words according to the
// record's scan policy. Relocating a word may queue more records.
func (c *collection) copyRecord(it workItem) {
	h := c.from.header(it.src)
	src := c.from.payload(it.src, h)
	dst := c.to.payload(it.dst, h)
	copy(dst, src)
	c.stats.CopiedBytes += int(h.Size)

	switch kind := h.Kind(); kind {
	case format.PolicyNone:
		// No pointers.
	case format.PolicyAll:
		c.scanConservative(it.dst, len(dst))
	case format.PolicyBitmap:
		c.scanPrecise(it.src, it.dst, h, src)
	default:
		c.h.fatal("copy", "record %s has unknown scan policy %d", it.src, kind)
	}
}

// scanConservative relocates every destination payload word that addresses
// the condemned region. A plain integer that aliases a from-space address is
// rewritten too; that is the accepted cost of not knowing the layout.
func (c *collection) scanConservative(dst Addr, n int) {
	start := dst.Add(format.PayloadOffset)
	for off := 0; off+format.WordSize <= n; off += format.WordSize {
		slot := start.Add(off)
		w := c.to.word(slot)
		if !c.from.Contains(Addr(w)) {
			continue
		}
		c.to.setWord(slot, uint64(c.relocate(Addr(w))))
	}
}

// scanPrecise relocates only the words the record's layout flags. Every
// other word is copied verbatim even if it looks like a heap address.
func (c *collection) scanPrecise(src, dst Addr, h format.Header, payload []byte) {
	fn, ok := c.h.layouts.Lookup(LayoutID(h.Layout()))
	if !ok {
		c.h.fatal("copy", "record %s references unregistered layout %d", src, h.Layout())
	}
	words := len(payload) / format.WordSize
	c.bits.Reset(words)
	fn(&c.bits, payload)

	start := dst.Add(format.PayloadOffset)
	c.bits.each(func(i int) {
		if i >= words {
			return
		}
		slot := start.Add(i * format.WordSize)
		w := c.to.word(slot)
		if c.from.Contains(Addr(w)) {
			c.to.setWord(slot, uint64(c.relocate(Addr(w))))
		}
	})
}
