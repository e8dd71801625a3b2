package heap

// Hook runs after every cycle, once the destination region is live and
// before the source region is released. Hooks run under the heap lock and
// must not keep addresses into the released region.
type Hook func()

type hookNode struct {
	fn   Hook
	next *hookNode
}

// hookList is a singly linked list run in registration order.
type hookList struct {
	head *hookNode
	tail *hookNode
}

func (l *hookList) add(fn Hook) {
	node := &hookNode{fn: fn}
	if l.tail == nil {
		l.head = node
	} else {
		l.tail.next = node
	}
	l.tail = node
}

func (l *hookList) run() {
	for node := l.head; node != nil; node = node.next {
		node.fn()
	}
}

// AddHook registers fn to run after every cycle. Hooks are meant to be
// registered once at startup and cannot be removed.
func (h *Heap) AddHook(fn Hook) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks.add(fn)
}
