package worker

import (
	"container/heap"
	"errors"
	"sync"
)

// ErrNilTask is returned when attempting to push a nil task
var ErrNilTask = errors.New("cannot push nil task")

// Priority orders queued tasks. Higher values are processed first.
type Priority int

const (
	// PriorityPrefetch is speculative work ahead of the reader
	PriorityPrefetch Priority = 0
	// PriorityInteractive is work the reader is waiting on
	PriorityInteractive Priority = 10
)

func (p Priority) String() string {
	if p >= PriorityInteractive {
		return "interactive"
	}
	return "prefetch"
}

type unit struct {
	priority Priority
	run      func()
}

// queue is a thread-safe priority queue. Equal priorities pop in FIFO order.
type queue struct {
	mu     sync.Mutex
	items  unitHeap
	seq    uint64
	notify chan struct{}
}

func newQueue() *queue {
	q := &queue{
		items:  make(unitHeap, 0),
		notify: make(chan struct{}, 1),
	}
	heap.Init(&q.items)
	return q
}

func (q *queue) push(u *unit) error {
	if u == nil || u.run == nil {
		return ErrNilTask
	}

	q.mu.Lock()
	q.seq++
	heap.Push(&q.items, &item{unit: u, seq: q.seq})
	q.mu.Unlock()

	// Wake one waiting consumer
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// pop blocks until a unit is available or done is closed (then returns nil)
func (q *queue) pop(done <-chan struct{}) *unit {
	for {
		q.mu.Lock()
		if q.items.Len() > 0 {
			it := heap.Pop(&q.items).(*item)
			more := q.items.Len() > 0
			q.mu.Unlock()
			if more {
				// Pass the wakeup on so other idle workers see the rest
				select {
				case q.notify <- struct{}{}:
				default:
				}
			}
			return it.unit
		}
		q.mu.Unlock()

		select {
		case <-done:
			return nil
		case <-q.notify:
		}
	}
}

// depth returns queued units by priority class
func (q *queue) depth() (interactive, prefetch int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if it.unit.priority >= PriorityInteractive {
			interactive++
		} else {
			prefetch++
		}
	}
	return interactive, prefetch
}

type item struct {
	unit *unit
	seq  uint64
}

type unitHeap []*item

func (h unitHeap) Len() int { return len(h) }

func (h unitHeap) Less(i, j int) bool {
	if h[i].unit.priority != h[j].unit.priority {
		return h[i].unit.priority > h[j].unit.priority
	}
	return h[i].seq < h[j].seq
}

func (h unitHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *unitHeap) Push(x any) {
	*h = append(*h, x.(*item))
}

func (h *unitHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}
