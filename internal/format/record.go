package format

import (
	"fmt"

	"github.com/joshuapare/heapkit/internal/buf"
)

// Header is the decoded form of an allocation record header.
//
// Record layout (little-endian words):
//
//	Offset  Size  Description
//	0x00    8     Front guard (GuardFront).
//	0x08    8     Total size including header and rear guard.
//	0x10    8     Requested payload size.
//	0x18    8     Scan policy word (see PackPolicy).
//	0x20    8     Finalizer id, 0 when none.
//	0x28    8     Type reference address, 0 when none.
//	0x30    8     Forwarding address, 0 until copied.
//	0x38    8     Cached identity hash, 0 until requested.
//	0x40    ...   Payload.
//	size-8  8     Rear guard (GuardRear).
type Header struct {
	Guard     uint64
	Size      uint64
	Requested uint64
	Policy    uint64
	Finalizer uint64
	Type      uint64
	Forward   uint64
	Hash      uint64
}

// PayloadSize returns the usable payload bytes of the record.
func (h Header) PayloadSize() int {
	return int(h.Size) - RecordOverhead
}

// Kind returns the scan policy kind stored in the header.
func (h Header) Kind() uint32 {
	k, _ := UnpackPolicy(h.Policy)
	return k
}

// Layout returns the bitmap layout id stored in the header.
func (h Header) Layout() uint32 {
	_, l := UnpackPolicy(h.Policy)
	return l
}

// ReadHeader decodes the header at off. It does not validate guards; use
// CheckRecord for that.
func ReadHeader(b []byte, off int) (Header, error) {
	if !buf.Has(b, off, HeaderSize) {
		return Header{}, fmt.Errorf("header at %d: %w", off, ErrTruncated)
	}
	return Header{
		Guard:     ReadU64(b, off+GuardOffset),
		Size:      ReadU64(b, off+SizeOffset),
		Requested: ReadU64(b, off+RequestedOffset),
		Policy:    ReadU64(b, off+PolicyOffset),
		Finalizer: ReadU64(b, off+FinalizerOffset),
		Type:      ReadU64(b, off+TypeOffset),
		Forward:   ReadU64(b, off+ForwardOffset),
		Hash:      ReadU64(b, off+HashOffset),
	}, nil
}

// WriteHeader encodes h at off and stamps the rear guard at off+h.Size-8.
func WriteHeader(b []byte, off int, h Header) {
	PutU64(b, off+GuardOffset, h.Guard)
	PutU64(b, off+SizeOffset, h.Size)
	PutU64(b, off+RequestedOffset, h.Requested)
	PutU64(b, off+PolicyOffset, h.Policy)
	PutU64(b, off+FinalizerOffset, h.Finalizer)
	PutU64(b, off+TypeOffset, h.Type)
	PutU64(b, off+ForwardOffset, h.Forward)
	PutU64(b, off+HashOffset, h.Hash)
	PutU64(b, off+int(h.Size)-RearGuardSize, GuardRear)
}

// CheckHeader validates the header at off against a region whose allocated
// bytes end at limit: front guard, size bounds and policy kind. The rear
// guard is not read, so a record whose payload overran still resolves.
func CheckHeader(b []byte, off, limit int) (Header, error) {
	h, err := ReadHeader(b, off)
	if err != nil {
		return Header{}, err
	}
	if h.Guard != GuardFront {
		return h, fmt.Errorf("record at %d: front %w (0x%X)", off, ErrBadGuard, h.Guard)
	}
	if h.Size < MinRecordSize || h.Size&RecordAlignmentMask != 0 {
		return h, fmt.Errorf("record at %d: %w (%d)", off, ErrBadSize, h.Size)
	}
	end, ok := buf.AddOverflowSafe(off, int(h.Size))
	if !ok || end > limit || end > len(b) {
		return h, fmt.Errorf("record at %d: %w (%d past limit %d)", off, ErrTruncated, h.Size, limit)
	}
	if h.Requested > h.Size-RecordOverhead {
		return h, fmt.Errorf("record at %d: %w (requested %d > payload %d)",
			off, ErrBadSize, h.Requested, h.Size-RecordOverhead)
	}
	if h.Kind() > PolicyBitmap {
		return h, fmt.Errorf("record at %d: %w (%d)", off, ErrBadPolicy, h.Kind())
	}
	return h, nil
}

// CheckRecord is CheckHeader plus the rear guard.
func CheckRecord(b []byte, off, limit int) (Header, error) {
	h, err := CheckHeader(b, off, limit)
	if err != nil {
		return h, err
	}
	end := off + int(h.Size)
	if rear := ReadU64(b, end-RearGuardSize); rear != GuardRear {
		return h, fmt.Errorf("record at %d: rear %w (0x%X)", off, ErrBadGuard, rear)
	}
	return h, nil
}

// NextRecord validates the record at off and returns it along with the offset
// of the following record. Walking from a region's start with NextRecord
// visits every record up to limit.
func NextRecord(b []byte, off, limit int) (Header, int, error) {
	h, err := CheckRecord(b, off, limit)
	if err != nil {
		return h, 0, err
	}
	return h, off + int(h.Size), nil
}
