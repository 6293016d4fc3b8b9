package aio

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ehrlich-b/go-aio/backend"
	"github.com/ehrlich-b/go-aio/internal/executor"
	"github.com/ehrlich-b/go-aio/internal/logging"
	"github.com/ehrlich-b/go-aio/internal/queue"
	"github.com/ehrlich-b/go-aio/internal/timer"
)

// Subsystem owns the executor and every context feeding it.
//
// Submissions reach the executor two ways: through a Context's submission
// ring, drained by Process, or through the shared work queue, drained by
// the workers Serve starts. Both paths funnel through one executor lock.
type Subsystem struct {
	params  Params
	logger  *logging.Logger
	backend Backend
	timers  *timer.Wheel

	ctx    context.Context
	cancel context.CancelFunc

	execMu  sync.Mutex
	exec    *executor.Executor
	scratch []SQE

	metrics  *Metrics
	observer Observer

	mu       sync.RWMutex
	contexts map[uint64]*Context
	nextID   atomic.Uint64

	queue   *queue.WorkQueue
	workers []*queue.Worker
	serving atomic.Bool
	closed  atomic.Bool
}

// NewSubsystem creates a subsystem. opts.Backend is required.
func NewSubsystem(params Params, opts *Options) (*Subsystem, error) {
	if opts == nil || opts.Backend == nil {
		return nil, NewError("NEW", ErrCodeInvalidParameters, "backend is required")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	params = params.withDefaults()

	base := opts.Context
	if base == nil {
		base = context.Background()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	s := &Subsystem{
		params:   params,
		logger:   logger,
		backend:  opts.Backend,
		timers:   timer.NewWheel(),
		metrics:  NewMetrics(),
		contexts: make(map[uint64]*Context),
		queue:    queue.NewWorkQueue(),
	}
	s.ctx, s.cancel = context.WithCancel(base)

	s.observer = NewMetricsObserver(s.metrics)
	if opts.Observer != nil {
		s.observer = multiObserver{s.observer, opts.Observer}
	}

	events := opts.Async
	if events == nil {
		if a, ok := opts.Backend.(AsyncBackend); ok {
			events = a
		}
	}

	s.exec = executor.New(executor.Config{
		Backend:  opts.Backend,
		Async:    backend.NewAsyncRouter(s.timers, events),
		Stats:    opts.Stats,
		Observer: s.observer,
		Logger:   logger,
		Deliver:  s.route,
	})

	logger.Info("subsystem created",
		"ring_size", params.RingSize,
		"workers", params.Workers,
		"async", events != nil)
	return s, nil
}

// CreateContext creates a context whose rings hold at least ringSize
// entries. 0 selects Params.RingSize; sizes above MaxRingSize are clamped.
func (s *Subsystem) CreateContext(ringSize uint32) (*Context, error) {
	if s.closed.Load() {
		return nil, NewError("CREATE_CONTEXT", ErrCodeClosed, "")
	}

	id := s.nextID.Add(1)
	size := clampRingSize(ringSize, s.params.RingSize)
	c := newContext(id, size, s.params.CheckedRings, s.params.IdleBackoff, s.logger)

	s.mu.Lock()
	s.contexts[id] = c
	s.mu.Unlock()

	c.logger.Debug("context created", "ring_size", c.RingSize())
	return c, nil
}

// Context returns the context with the given id
func (s *Subsystem) Context(id uint64) (*Context, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contexts[id]
	return c, ok
}

// DestroyContext forgets a context. Completions still arriving for it are
// dropped.
func (s *Subsystem) DestroyContext(id uint64) error {
	s.mu.Lock()
	c, ok := s.contexts[id]
	delete(s.contexts, id)
	s.mu.Unlock()

	if !ok {
		return NewContextError("DESTROY_CONTEXT", id, ErrCodeContextNotFound, "")
	}
	c.logger.Debug("context destroyed")
	return nil
}

// Contexts returns the number of live contexts
func (s *Subsystem) Contexts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.contexts)
}

// snapshot returns the live contexts in id order
func (s *Subsystem) snapshot() []*Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Context, 0, len(s.contexts))
	for _, id := range slices.Sorted(maps.Keys(s.contexts)) {
		out = append(out, s.contexts[id])
	}
	return out
}

// route hands a completion to its origin context
func (s *Subsystem) route(origin uint64, cqe CQE) {
	c, ok := s.Context(origin)
	if !ok {
		s.logger.Debug("dropping completion for unknown context",
			"ctx_id", origin, "token", cqe.UserData, "res", cqe.Res)
		return
	}
	c.complete(cqe)
}

// Process drains every context's submission ring into the executor, runs
// the backlog and routes the completions. It returns the number of
// completions routed.
func (s *Subsystem) Process() int {
	if s.closed.Load() {
		return 0
	}
	ctxs := s.snapshot()

	s.execMu.Lock()
	defer s.execMu.Unlock()

	for _, c := range ctxs {
		s.scratch = c.drainSubmissions(s.scratch[:0])
		if len(s.scratch) > 0 {
			s.observer.ObserveQueueDepth(uint32(len(s.scratch)))
		}
		for _, sqe := range s.scratch {
			s.exec.SubmitFrom(c.id, sqe)
		}
	}
	return s.exec.Drain(s.route)
}

// Submit queues sqe on the shared work queue on behalf of a context
func (s *Subsystem) Submit(ctxID uint64, sqe SQE) error {
	if s.closed.Load() {
		return NewContextError("SUBMIT", ctxID, ErrCodeClosed, "")
	}
	c, ok := s.Context(ctxID)
	if !ok {
		return NewContextError("SUBMIT", ctxID, ErrCodeContextNotFound, "")
	}
	c.stats.Submissions.Add(1)
	c.stats.InFlight.Add(1)
	s.queue.Submit(ctxID, sqe)
	return nil
}

// ProcessQueue runs everything currently on the work queue on the calling
// goroutine. It returns the number of items run.
func (s *Subsystem) ProcessQueue() int {
	n := 0
	for {
		item, ok := s.queue.Pop()
		if !ok {
			return n
		}
		s.run(item)
		n++
	}
}

// run executes one work queue item
func (s *Subsystem) run(item queue.Item) {
	c, ok := s.Context(item.ContextID)
	if !ok {
		s.logger.Debug("dropping submission for unknown context",
			"ctx_id", item.ContextID, "token", item.Entry.UserData)
		return
	}
	c.track(item.Entry)

	s.execMu.Lock()
	cqe, done := s.exec.ProcessFrom(c.id, item.Entry)
	s.execMu.Unlock()

	if done {
		c.complete(cqe)
	}
}

// Complete delivers a completion produced outside the subsystem, for an
// operation whose backend left it to an external source
func (s *Subsystem) Complete(ctxID uint64, cqe CQE) error {
	c, ok := s.Context(ctxID)
	if !ok {
		return NewContextError("COMPLETE", ctxID, ErrCodeContextNotFound, "")
	}

	s.execMu.Lock()
	s.exec.Resolve(cqe)
	s.execMu.Unlock()

	c.complete(cqe)
	return nil
}

// Cancel cancels the oldest queued operation with the given token, or asks
// the async backend to abort it if it is already armed. Either way the
// operation completes with -ECANCELED.
func (s *Subsystem) Cancel(token uint64) bool {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	if s.exec.Cancel(token) {
		return true
	}
	return s.exec.CancelAsync(token)
}

// RegisterFiles replaces the fixed file table
func (s *Subsystem) RegisterFiles(fds []int32) error {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	if err := s.exec.RegisterFiles(fds); err != nil {
		return WrapError("REGISTER_FILES", err)
	}
	s.logger.Debug("registered files", "count", len(fds))
	return nil
}

// UnregisterFiles clears the fixed file table
func (s *Subsystem) UnregisterFiles() {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	s.exec.UnregisterFiles()
}

// RegisterBuffers replaces the fixed buffer table
func (s *Subsystem) RegisterBuffers(bufs []Buffer) error {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	if err := s.exec.RegisterBuffers(bufs); err != nil {
		return WrapError("REGISTER_BUFFERS", err)
	}
	s.logger.Debug("registered buffers", "count", len(bufs))
	return nil
}

// UnregisterBuffers clears the fixed buffer table
func (s *Subsystem) UnregisterBuffers() {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	s.exec.UnregisterBuffers()
}

// Stats returns a snapshot of the executor counters
func (s *Subsystem) Stats() executor.StatsSnapshot {
	return s.exec.Stats().Snapshot()
}

// Metrics returns the subsystem's metrics
func (s *Subsystem) Metrics() *Metrics {
	return s.metrics
}

// Records returns the operations the executor is tracking
func (s *Subsystem) Records() []executor.Record {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	return s.exec.Records()
}

// Outstanding returns the number of armed asynchronous operations
func (s *Subsystem) Outstanding() int64 {
	return s.exec.Outstanding()
}

// QueueLen returns the number of items on the work queue
func (s *Subsystem) QueueLen() int {
	return s.queue.Len()
}

// BackendStats returns the backend's statistics, if it reports any
func (s *Subsystem) BackendStats() map[string]interface{} {
	if sb, ok := s.backend.(StatBackend); ok {
		return sb.Stats()
	}
	return nil
}

// Serve runs Params.Workers work queue workers and a ring poller calling
// Process every Params.PollInterval. It returns when ctx ends or the
// subsystem is closed.
func (s *Subsystem) Serve(ctx context.Context) error {
	if s.closed.Load() {
		return NewError("SERVE", ErrCodeClosed, "")
	}
	if !s.serving.CompareAndSwap(false, true) {
		return NewError("SERVE", ErrCodeInvalidParameters, "already serving")
	}
	defer s.serving.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	s.workers = s.workers[:0]
	for i := 0; i < s.params.Workers; i++ {
		w := queue.NewWorker(uint32(i), s.queue)
		w.Start()
		s.workers = append(s.workers, w)
		g.Go(func() error {
			return s.work(gctx, w)
		})
	}
	g.Go(func() error {
		return s.poll(gctx)
	})

	s.logger.Info("serving", "workers", s.params.Workers, "poll_interval", s.params.PollInterval)
	err := g.Wait()
	for _, w := range s.workers {
		w.Stop()
	}
	s.logger.Info("stopped serving")
	return err
}

// work is one worker's loop
func (s *Subsystem) work(ctx context.Context, w *queue.Worker) error {
	logger := s.logger.WithWorker(w.ID())
	logger.Debug("worker started")
	defer logger.Debug("worker stopped")

	idle := time.NewTimer(s.params.IdleBackoff)
	defer idle.Stop()

	for w.IsRunning() {
		if item, ok := w.Queue().Pop(); ok {
			s.run(item)
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-idle.C:
			idle.Reset(s.params.IdleBackoff)
		}
	}
	return nil
}

// poll is the ring poller's loop
func (s *Subsystem) poll(ctx context.Context) error {
	ticker := time.NewTicker(s.params.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Process()
			return nil
		case <-ticker.C:
			s.Process()
			if d := s.queue.Len(); d > 0 {
				s.observer.ObserveQueueDepth(uint32(d))
			}
		}
	}
}

// Close stops serving, fires pending timeouts as cancelled and shuts the
// backend down if it holds resources
func (s *Subsystem) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()

	var err error
	if cerr := s.timers.Close(); cerr != nil {
		err = WrapError("CLOSE", cerr)
	}
	if sd, ok := s.backend.(Shutdowner); ok {
		if serr := sd.Shutdown(); serr != nil && err == nil {
			err = WrapError("CLOSE", fmt.Errorf("backend shutdown: %w", serr))
		}
	}
	s.metrics.Stop()
	s.logger.Info("subsystem closed")
	return err
}
