package snapshot

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"

	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/internal/buf"
	"github.com/joshuapare/heapkit/internal/format"
)

// Magic identifies a heap image.
var Magic = [4]byte{'H', 'K', 'I', 'M'}

// Version is the image format version written by Write.
const Version uint32 = 1

const (
	headerSize    = 0x24
	maxLayoutName = 1<<16 - 1
)

var (
	// ErrBadMagic indicates the input is not a heap image.
	ErrBadMagic = errors.New("snapshot: bad magic")

	// ErrBadVersion indicates an image written by an unsupported version.
	ErrBadVersion = errors.New("snapshot: unsupported version")

	// ErrCorruptRecord indicates an image whose record stream does not walk.
	ErrCorruptRecord = errors.New("snapshot: corrupt record")

	// ErrUnresolvedLayout indicates a bitmap record whose layout the reader
	// does not know.
	ErrUnresolvedLayout = errors.New("snapshot: unresolved layout")
)

// Options tunes Write.
type Options struct {
	// Quality is the brotli quality level, 1 (fastest) to 11 (smallest).
	// Zero uses brotli.DefaultCompression.
	Quality int
}

// Write dumps h's live region to w with default options.
func Write(w io.Writer, h *heap.Heap) error {
	return WriteWithOptions(w, h, Options{})
}

// WriteWithOptions dumps h's live region to w.
func WriteWithOptions(w io.Writer, h *heap.Heap, opts Options) error {
	quality := opts.Quality
	if quality <= 0 {
		quality = brotli.DefaultCompression
	}

	var header, body bytes.Buffer
	err := h.View(func(r *heap.Region) error {
		names, err := layoutTable(r, h.Layouts())
		if err != nil {
			return err
		}
		writeHeader(&header, r, names)

		zw := brotli.NewWriterLevel(&body, quality)
		if _, err := zw.Write(r.Bytes()); err != nil {
			return fmt.Errorf("snapshot: compress: %w", err)
		}
		return zw.Close()
	})
	if err != nil {
		return err
	}

	if _, err := w.Write(header.Bytes()); err != nil {
		return fmt.Errorf("snapshot: write header: %w", err)
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		return fmt.Errorf("snapshot: write records: %w", err)
	}
	return nil
}

// layoutEntry is one row of the layout name table.
type layoutEntry struct {
	id   heap.LayoutID
	name string
}

// layoutTable collects the names of the layouts used by bitmap records,
// in first-use order.
func layoutTable(r *heap.Region, layouts *heap.Layouts) ([]layoutEntry, error) {
	var out []layoutEntry
	seen := make(map[heap.LayoutID]bool)
	err := r.Walk(func(rec heap.Addr, h heap.Header) error {
		if h.Kind() != format.PolicyBitmap {
			return nil
		}
		id := heap.LayoutID(h.Layout())
		if seen[id] {
			return nil
		}
		seen[id] = true
		name, ok := layouts.Name(id)
		if !ok {
			return fmt.Errorf("record %s layout %d: %w", rec, id, ErrUnresolvedLayout)
		}
		if len(name) > maxLayoutName {
			return fmt.Errorf("layout %d name is %d bytes", id, len(name))
		}
		out = append(out, layoutEntry{id: id, name: name})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return out, nil
}

func writeHeader(w *bytes.Buffer, r *heap.Region, names []layoutEntry) {
	b := make([]byte, headerSize)
	copy(b, Magic[:])
	format.PutU32(b, 0x04, Version)
	format.PutU64(b, 0x08, uint64(r.Base()))
	format.PutU64(b, 0x10, uint64(r.Capacity()))
	format.PutU64(b, 0x18, uint64(r.Used()))
	format.PutU32(b, 0x20, uint32(len(names)))
	w.Write(b)

	var row [6]byte
	for _, e := range names {
		format.PutU32(row[:], 0, uint32(e.id))
		row[4] = byte(len(e.name))
		row[5] = byte(len(e.name) >> 8)
		w.Write(row[:])
		w.WriteString(e.name)
	}
}

// Image is a decoded heap image.
type Image struct {
	Base     heap.Addr
	Capacity int
	Used     int

	// Layouts maps the writer's layout ids to names.
	Layouts map[heap.LayoutID]string

	// Data holds the used bytes of the region.
	Data []byte

	Records []Record
}

// Record is one allocation record of an image.
type Record struct {
	Addr      heap.Addr
	Size      int
	Requested int
	Scan      heap.ScanKind
	// Layout is the layout name for bitmap records.
	Layout    string
	Finalizer heap.FinalizerID
	Type      heap.Addr
	Hash      uint64
}

// Payload returns the record's payload bytes within img.Data, or nil when
// rec does not belong to img.
func (img *Image) Payload(rec Record) []byte {
	b, _ := buf.Slice(img.Data, rec.Addr.Sub(img.Base)+format.PayloadOffset, rec.Size-format.RecordOverhead)
	return b
}

// Read decodes an image from r. Every record header is validated. When
// layouts is non-nil every bitmap layout name must be registered in it.
func Read(r io.Reader, layouts *heap.Layouts) (*Image, error) {
	br := bufio.NewReader(r)

	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(br, hdr); err != nil {
		return nil, fmt.Errorf("snapshot: read header: %w", err)
	}
	if !bytes.Equal(hdr[:4], Magic[:]) {
		return nil, fmt.Errorf("%w: %q", ErrBadMagic, hdr[:4])
	}
	if v := format.ReadU32(hdr, 0x04); v != Version {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, v)
	}

	img := &Image{
		Base:     heap.Addr(format.ReadU64(hdr, 0x08)),
		Capacity: int(format.ReadU64(hdr, 0x10)),
		Used:     int(format.ReadU64(hdr, 0x18)),
		Layouts:  make(map[heap.LayoutID]string),
	}
	if img.Used < 0 || img.Used > img.Capacity || img.Used%format.RecordAlignment != 0 {
		return nil, fmt.Errorf("%w: used %d of capacity %d", ErrCorruptRecord, img.Used, img.Capacity)
	}

	count := format.ReadU32(hdr, 0x20)
	var row [6]byte
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(br, row[:]); err != nil {
			return nil, fmt.Errorf("snapshot: read layout table: %w", err)
		}
		name := make([]byte, int(row[4])|int(row[5])<<8)
		if _, err := io.ReadFull(br, name); err != nil {
			return nil, fmt.Errorf("snapshot: read layout name: %w", err)
		}
		img.Layouts[heap.LayoutID(format.ReadU32(row[:], 0))] = string(name)
	}

	// The header sizes are untrusted; let the stream decide how much to
	// buffer and reject any disagreement.
	data, err := io.ReadAll(io.LimitReader(brotli.NewReader(br), int64(img.Used)+1))
	if err != nil {
		return nil, fmt.Errorf("snapshot: decompress records: %w", err)
	}
	if len(data) != img.Used {
		return nil, fmt.Errorf("%w: header claims %d record bytes, stream holds %d", ErrCorruptRecord, img.Used, len(data))
	}
	img.Data = data

	if err := img.decodeRecords(layouts); err != nil {
		return nil, err
	}
	return img, nil
}

func (img *Image) decodeRecords(layouts *heap.Layouts) error {
	for off := 0; off < len(img.Data); {
		h, next, err := format.NextRecord(img.Data, off, len(img.Data))
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCorruptRecord, err)
		}
		if h.Forward != 0 {
			return fmt.Errorf("%w: record at %d has forwarding address 0x%X", ErrCorruptRecord, off, h.Forward)
		}
		rec := Record{
			Addr:      img.Base.Add(off),
			Size:      int(h.Size),
			Requested: int(h.Requested),
			Scan:      heap.ScanKind(h.Kind()),
			Finalizer: heap.FinalizerID(h.Finalizer),
			Type:      heap.Addr(h.Type),
			Hash:      h.Hash,
		}
		if rec.Scan == heap.ScanBitmap {
			name, ok := img.Layouts[heap.LayoutID(h.Layout())]
			if !ok {
				return fmt.Errorf("%w: record %s layout id %d not in image", ErrUnresolvedLayout, rec.Addr, h.Layout())
			}
			if layouts != nil {
				if _, ok := layouts.ID(name); !ok {
					return fmt.Errorf("%w: record %s layout %q", ErrUnresolvedLayout, rec.Addr, name)
				}
			}
			rec.Layout = name
		}
		img.Records = append(img.Records, rec)
		off = next
	}
	return nil
}

// Stats summarizes an image by scan policy.
type Stats struct {
	Records int
	Bytes   int
	ByScan  map[heap.ScanKind]int
}

// Summarize counts the image's records.
func (img *Image) Summarize() Stats {
	s := Stats{ByScan: make(map[heap.ScanKind]int)}
	for _, rec := range img.Records {
		s.Records++
		s.Bytes += rec.Size
		s.ByScan[rec.Scan]++
	}
	return s
}
