package heap

import (
	"github.com/joshuapare/heapkit/internal/format"
)

// audit re-validates the condemned region before it is released. Guard
// mismatches are fatal in strict mode; in advisory mode they are logged and
// latch the heap's definite-error flag.
func (c *collection) audit() {
	if c.h.cfg.Audit != AuditOff {
		c.auditGuards()
	}
	if c.h.cfg.AuditMissedPointers {
		c.auditMissedPointers()
	}
}

func (c *collection) auditGuards() {
	r := c.from
	for off := 0; off < r.cursor; {
		rec := r.base.Add(off)
		front := format.ReadU64(r.data, off+format.GuardOffset)
		size := format.ReadU64(r.data, off+format.SizeOffset)
		if size < format.MinRecordSize || size&format.RecordAlignmentMask != 0 || off+int(size) > r.cursor {
			// The walk cannot continue past a record whose size is gone.
			c.guardFailure(rec, "size", size)
			return
		}
		if front != format.GuardFront {
			c.guardFailure(rec, "front guard", front)
		}
		if rear := format.ReadU64(r.data, off+int(size)-format.RearGuardSize); rear != format.GuardRear {
			c.guardFailure(rec, "rear guard", rear)
		}
		off += int(size)
	}
}

func (c *collection) guardFailure(rec Addr, field string, got uint64) {
	c.stats.AuditFindings++
	site := c.from.Site(rec)
	if c.h.cfg.Audit == AuditStrict {
		c.h.fatal("audit", "record %s: corrupt %s 0x%X (allocated at %q)", rec, field, got, site)
	}
	c.h.definite.Store(true)
	c.h.log.Warn("heap audit: corrupt record",
		"region", c.from.id, "record", rec, "field", field, "value", got, "site", site)
}

// auditMissedPointers looks for words in live bitmap-scanned records that
// the layout did not flag but that point at a record left behind. That is
// the signature of a layout under-reporting its pointers. Plain integers
// that alias heap addresses trip it too, so findings are warnings only.
func (c *collection) auditMissedPointers() {
	r := c.from
	var bits Bitmap
	_ = r.Walk(func(rec Addr, h format.Header) error {
		if h.Forward == 0 || h.Kind() != format.PolicyBitmap {
			return nil
		}
		fn, ok := c.h.layouts.Lookup(LayoutID(h.Layout()))
		if !ok {
			return nil
		}
		payload := r.payload(rec, h)
		words := len(payload) / format.WordSize
		bits.Reset(words)
		fn(&bits, payload)
		for i := 0; i < words; i++ {
			if bits.IsSet(i) {
				continue
			}
			w := Addr(format.ReadU64(payload, i*format.WordSize))
			if !r.Contains(w) {
				continue
			}
			owner, ok := r.locateOwner(w)
			if !ok || r.header(owner).Forward != 0 {
				continue
			}
			c.stats.AuditFindings++
			c.h.log.Warn("heap audit: possible missed pointer",
				"record", rec, "word", i, "value", w, "target", owner,
				"site", r.Site(rec), "target_site", r.Site(owner))
		}
		return nil
	})
}
