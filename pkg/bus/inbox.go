package bus

import (
	"container/heap"
	"sync"
)

// queueItem is one message plus the monotonic sequence number that breaks
// ties within a priority band, giving FIFO order for equal priorities.
type queueItem struct {
	msg *Message
	seq uint64
}

// priorityHeap orders by priority descending, then by sequence ascending.
type priorityHeap []*queueItem

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].msg.Priority != h[j].msg.Priority {
		return h[i].msg.Priority > h[j].msg.Priority
	}
	return h[i].seq < h[j].seq
}
func (h priorityHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *priorityHeap) Push(x any)   { *h = append(*h, x.(*queueItem)) }
func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// inbox is a bounded priority queue for one role, shared across every
// worker in that role's pool. Receive blocks until a message is available
// or the context is cancelled; a closed inbox only rejects further pushes.
type inbox struct {
	capacity int

	mu      sync.Mutex
	items   priorityHeap
	nextSeq uint64
	notify  chan struct{}
	closed  bool
}

func newInbox(capacity int) *inbox {
	return &inbox{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

func (ib *inbox) depth() int {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return len(ib.items)
}

// tryPush enqueues msg if there's room, returning false when full.
func (ib *inbox) tryPush(msg *Message) bool {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	if ib.closed || len(ib.items) >= ib.capacity {
		return false
	}
	heap.Push(&ib.items, &queueItem{msg: msg, seq: ib.nextSeq})
	ib.nextSeq++
	ib.signal()
	return true
}

func (ib *inbox) signal() {
	select {
	case ib.notify <- struct{}{}:
	default:
	}
}

// pop removes and returns the highest-priority message, or (nil, false) if
// empty.
func (ib *inbox) pop() (*Message, bool) {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	if len(ib.items) == 0 {
		return nil, false
	}
	item := heap.Pop(&ib.items).(*queueItem)
	ib.signal() // wake a sender waiting for a freed slot
	return item.msg, true
}

func (ib *inbox) close() {
	ib.mu.Lock()
	ib.closed = true
	ib.mu.Unlock()
	ib.signal()
}
