// Package format houses the binary layout of heapkit allocation records. The
// layout is a stable contract shared by the collector and the heap image
// (snapshot) reader and writer, so both sides decode headers through this
// package instead of hard-coding offsets.
package format

const (
	// WordSize is the size of one heap word. Pointers, header fields and
	// scanned payload slots are all one word wide.
	WordSize = 8

	// GuardFront marks the first word of every allocation record. A backward
	// word-by-word scan from any interior address stops on this pattern.
	GuardFront uint64 = 0xC0FF_EE0D_DBA1_1A5A

	// GuardRear marks the last word of every allocation record. The audit
	// checks it to detect payload overruns.
	GuardRear uint64 = 0x5A1A_B1DD_E0EE_FF0C

	// HeaderSize is the number of bytes preceding the payload.
	HeaderSize = 0x40

	// RearGuardSize is the number of bytes following the payload.
	RearGuardSize = WordSize

	// RecordOverhead is the fixed per-record cost on top of the payload.
	RecordOverhead = HeaderSize + RearGuardSize

	// MinRecordSize is the size of a record with an empty payload.
	MinRecordSize = RecordOverhead

	// RecordAlignment is the required alignment of record starts and sizes.
	RecordAlignment = WordSize

	// RecordAlignmentMask is RecordAlignment - 1.
	RecordAlignmentMask = RecordAlignment - 1

	// RegionAlignment is the granularity of region capacities (one page).
	RegionAlignment = 0x1000

	// RegionAlignmentMask is RegionAlignment - 1.
	RegionAlignmentMask = RegionAlignment - 1
)

// Record header field offsets. Every field is one little-endian word.
//
//	Offset  Field
//	0x00    front guard
//	0x08    total size (header + payload + rear guard)
//	0x10    requested payload size
//	0x18    scan policy (kind in low 32 bits, layout id in high 32 bits)
//	0x20    finalizer id
//	0x28    type reference
//	0x30    forwarding address
//	0x38    cached identity hash
//	0x40    payload ...
//	size-8  rear guard
const (
	GuardOffset     = 0x00
	SizeOffset      = 0x08
	RequestedOffset = 0x10
	PolicyOffset    = 0x18
	FinalizerOffset = 0x20
	TypeOffset      = 0x28
	ForwardOffset   = 0x30
	HashOffset      = 0x38
	PayloadOffset   = HeaderSize
)

// Scan policy kinds stored in the low half of the policy word.
const (
	PolicyNone   uint32 = 0
	PolicyAll    uint32 = 1
	PolicyBitmap uint32 = 2
)
