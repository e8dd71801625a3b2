package heap

// RootID identifies a registered root range.
type RootID uint64

// RootRecord is an externally owned range of words that is always live.
// Words that address the condemned region are rewritten in place during a
// cycle; the range itself is never relocated.
type RootRecord struct {
	ID         RootID
	Words      []uint64
	Provenance string
}

// RootTable is the set of root ranges attached to a region. A new region
// receives a copy of its predecessor's table.
type RootTable struct {
	next    RootID
	records []RootRecord
}

// NewRootTable returns an empty table.
func NewRootTable() *RootTable {
	return &RootTable{next: 1}
}

// Add registers words as a root range and returns its id.
func (t *RootTable) Add(words []uint64, provenance string) RootID {
	id := t.next
	t.next++
	t.records = append(t.records, RootRecord{ID: id, Words: words, Provenance: provenance})
	return id
}

// Remove unregisters the range with the given id.
func (t *RootTable) Remove(id RootID) bool {
	for i, rec := range t.records {
		if rec.ID == id {
			t.records = append(t.records[:i], t.records[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of registered ranges.
func (t *RootTable) Len() int { return len(t.records) }

// Words returns the total number of words across all ranges.
func (t *RootTable) Words() int {
	n := 0
	for _, rec := range t.records {
		n += len(rec.Words)
	}
	return n
}

// Records returns the registered ranges in registration order. The slice is
// shared with the table and must not be modified.
func (t *RootTable) Records() []RootRecord { return t.records }

// Clone copies the table. The word slices are shared: they name the same
// externally owned memory.
func (t *RootTable) Clone() *RootTable {
	c := &RootTable{next: t.next, records: make([]RootRecord, len(t.records))}
	copy(c.records, t.records)
	return c
}
