package queue

import "sync/atomic"

// Worker is the identity and run state of one polling loop. The loop itself
// lives with whoever owns the worker; Worker only records whether it should
// be running.
type Worker struct {
	id      uint32
	running atomic.Bool
	queue   *WorkQueue
}

// NewWorker creates a stopped worker that polls q.
func NewWorker(id uint32, q *WorkQueue) *Worker {
	return &Worker{id: id, queue: q}
}

// ID returns the worker id.
func (w *Worker) ID() uint32 {
	return w.id
}

// Start marks the worker running.
func (w *Worker) Start() {
	w.running.Store(true)
}

// Stop marks the worker stopped. A polling loop checks IsRunning between
// items, so an item already popped is still processed.
func (w *Worker) Stop() {
	w.running.Store(false)
}

// IsRunning reports the run state.
func (w *Worker) IsRunning() bool {
	return w.running.Load()
}

// Queue returns the queue the worker polls. The worker does not own it.
func (w *Worker) Queue() *WorkQueue {
	return w.queue
}
