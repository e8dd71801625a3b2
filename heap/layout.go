package heap

import (
	"fmt"
	"math/bits"
	"sync"

	"github.com/joshuapare/heapkit/internal/format"
)

// ScanKind is the per-record policy the collector uses to tell pointer
// words from plain data in a payload.
type ScanKind uint32

const (
	// ScanNone marks payloads without pointers; they are copied verbatim.
	ScanNone = ScanKind(format.PolicyNone)
	// ScanAll treats every payload word that addresses the condemned region
	// as a pointer (conservative scanning).
	ScanAll = ScanKind(format.PolicyAll)
	// ScanBitmap asks a registered layout which words are pointers (precise
	// scanning).
	ScanBitmap = ScanKind(format.PolicyBitmap)
)

func (k ScanKind) String() string {
	switch k {
	case ScanNone:
		return "none"
	case ScanAll:
		return "all"
	case ScanBitmap:
		return "bitmap"
	default:
		return "!err"
	}
}

// LayoutID identifies a registered bitmap function. Zero is never assigned.
type LayoutID uint32

// BitmapFunc marks the pointer words of payload in bits. bits has one bit per
// payload word and arrives cleared. Missing a pointer word is a latent bug
// (the referent may be reclaimed); flagging a plain word only costs time.
type BitmapFunc func(bits *Bitmap, payload []byte)

// Bitmap is one bit per payload word.
type Bitmap struct {
	words []uint64
	n     int
}

// NewBitmap returns a cleared bitmap of n bits.
func NewBitmap(n int) *Bitmap {
	b := &Bitmap{}
	b.Reset(n)
	return b
}

// Reset clears the bitmap and resizes it to n bits, reusing storage.
func (b *Bitmap) Reset(n int) {
	need := (n + 63) / 64
	if cap(b.words) < need {
		b.words = make([]uint64, need)
	} else {
		b.words = b.words[:need]
		clear(b.words)
	}
	b.n = n
}

// Len returns the number of bits.
func (b *Bitmap) Len() int { return b.n }

// Set flags word i as a pointer. Out-of-range indexes are ignored.
func (b *Bitmap) Set(i int) {
	if i < 0 || i >= b.n {
		return
	}
	b.words[i/64] |= 1 << (i % 64)
}

// IsSet reports whether word i is flagged.
func (b *Bitmap) IsSet(i int) bool {
	if i < 0 || i >= b.n {
		return false
	}
	return b.words[i/64]&(1<<(i%64)) != 0
}

// Count returns the number of flagged words.
func (b *Bitmap) Count() int {
	n := 0
	for _, w := range b.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// each calls fn for every flagged index in ascending order.
func (b *Bitmap) each(fn func(i int)) {
	for wi, w := range b.words {
		for w != 0 {
			tz := bits.TrailingZeros64(w)
			fn(wi*64 + tz)
			w &= w - 1
		}
	}
}

// Layouts is the registry of bitmap functions. Ids are stored in record
// headers and in heap images, so they must resolve identically in every
// consumer of the header layout.
type Layouts struct {
	mu     sync.RWMutex
	byName map[string]LayoutID
	names  []string
	funcs  []BitmapFunc
}

func newLayouts() *Layouts {
	return &Layouts{byName: make(map[string]LayoutID)}
}

// Register adds fn under name and returns its id.
func (l *Layouts) Register(name string, fn BitmapFunc) (LayoutID, error) {
	if fn == nil {
		return 0, fmt.Errorf("register layout %q: nil bitmap function", name)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.byName[name]; ok {
		return 0, fmt.Errorf("register layout %q: %w", name, ErrLayoutExists)
	}
	l.names = append(l.names, name)
	l.funcs = append(l.funcs, fn)
	id := LayoutID(len(l.funcs))
	l.byName[name] = id
	return id, nil
}

// Lookup returns the bitmap function for id.
func (l *Layouts) Lookup(id LayoutID) (BitmapFunc, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if id == 0 || int(id) > len(l.funcs) {
		return nil, false
	}
	return l.funcs[id-1], true
}

// ID returns the id registered under name.
func (l *Layouts) ID(name string) (LayoutID, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.byName[name]
	return id, ok
}

// Name returns the name registered for id.
func (l *Layouts) Name(id LayoutID) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if id == 0 || int(id) > len(l.names) {
		return "", false
	}
	return l.names[id-1], true
}

// Len returns the number of registered layouts.
func (l *Layouts) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.funcs)
}

// PointerWords returns a BitmapFunc that flags the given word indexes of
// every payload. It covers the common fixed-struct case.
func PointerWords(idx ...int) BitmapFunc {
	return func(b *Bitmap, _ []byte) {
		for _, i := range idx {
			b.Set(i)
		}
	}
}

// RepeatWords returns a BitmapFunc for arrays of stride-word elements whose
// pointer words sit at the given offsets inside each element.
func RepeatWords(stride int, idx ...int) BitmapFunc {
	return func(b *Bitmap, _ []byte) {
		for base := 0; base+stride <= b.Len(); base += stride {
			for _, i := range idx {
				b.Set(base + i)
			}
		}
	}
}
