// Package queue provides the shared work queue submissions travel through
// on their way to the executor, and the worker handle that polls it.
package queue

import (
	"sync"

	"github.com/gammazero/deque"

	"github.com/ehrlich-b/go-aio/internal/uapi"
)

// Item is one queued submission and the context it came from.
type Item struct {
	ContextID uint64
	Entry     uapi.SQE
}

// WorkQueue is a FIFO of Items safe for any number of producers and
// consumers. Every operation takes the lock; none of them block otherwise.
type WorkQueue struct {
	mu    sync.Mutex
	items deque.Deque[Item]
}

// NewWorkQueue creates an empty queue.
func NewWorkQueue() *WorkQueue {
	return &WorkQueue{}
}

// Submit appends an item.
func (q *WorkQueue) Submit(contextID uint64, sqe uapi.SQE) {
	q.mu.Lock()
	q.items.PushBack(Item{ContextID: contextID, Entry: sqe})
	q.mu.Unlock()
}

// Pop removes and returns the oldest item.
func (q *WorkQueue) Pop() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Len() == 0 {
		return Item{}, false
	}
	return q.items.PopFront(), true
}

// PopBatch removes up to max items, oldest first, appending them to dst.
func (q *WorkQueue) PopBatch(dst []Item, max int) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := 0; i < max && q.items.Len() > 0; i++ {
		dst = append(dst, q.items.PopFront())
	}
	return dst
}

// Len returns the number of queued items.
func (q *WorkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// IsEmpty reports whether the queue is empty.
func (q *WorkQueue) IsEmpty() bool {
	return q.Len() == 0
}
