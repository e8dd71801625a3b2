package heap

// workItem is one pending copy: src has been forwarded to dst but its
// payload has not been copied yet.
type workItem struct {
	src Addr
	dst Addr
}

// worklist is the FIFO queue of pending copies for one cycle. Items are
// consumed in discovery order, which makes the copy breadth-first.
//
// Drained items stay in the backing slice until reset so that the read index
// only ever moves forward; compact reclaims the prefix once it is large.
type worklist struct {
	items []workItem
	read  int
	peak  int
}

func (w *worklist) push(src, dst Addr) {
	w.items = append(w.items, workItem{src: src, dst: dst})
	if n := w.pending(); n > w.peak {
		w.peak = n
	}
}

// pop returns the oldest pending item.
func (w *worklist) pop() (workItem, bool) {
	if w.read == len(w.items) {
		return workItem{}, false
	}
	it := w.items[w.read]
	w.read++
	return it, true
}

func (w *worklist) pending() int { return len(w.items) - w.read }

// compact drops consumed items once the queue is empty.
func (w *worklist) compact() {
	if w.read == len(w.items) {
		w.items = w.items[:0]
		w.read = 0
	}
}
