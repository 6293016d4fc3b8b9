// Package executor dispatches submission descriptors to opcode handlers and
// produces completion descriptors.
//
// An Executor is not safe for concurrent use: Process, Submit, Cancel, Tick
// and the register calls must be serialized by the owner. The only path that
// may run on another goroutine is the completion callback handed to an
// AsyncBackend.
package executor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/go-aio/internal/interfaces"
	"github.com/ehrlich-b/go-aio/internal/uapi"
)

// Observer receives one call per resolved operation.
type Observer interface {
	ObserveOp(op uapi.Opcode, bytes uint64, latencyNs uint64, res int64)
}

// Logger is the subset of the logging API the executor uses.
type Logger interface {
	Debugf(format string, args ...interface{})
}

// Buffer is a registered fixed buffer.
type Buffer struct {
	Addr uint64
	Len  uint32
}

// Config configures an Executor.
type Config struct {
	// Backend performs the data transfers. Required.
	Backend interfaces.Backend

	// Async arms poll, timeout, accept, connect and recvmsg. When nil and
	// Backend implements interfaces.AsyncBackend, Backend is used. When
	// neither is set those operations stay pending until a completion is
	// injected from outside.
	Async interfaces.AsyncBackend

	// Stats receives the counters. A private instance is used when nil.
	Stats *Stats

	Observer Observer
	Logger   Logger

	// Deliver receives asynchronous completions as soon as they arrive,
	// tagged with the origin passed to ProcessFrom or SubmitFrom. When nil
	// they are handed out by the next Tick or Drain instead.
	Deliver func(origin uint64, cqe uapi.CQE)

	// Now is the clock used for latency and record timestamps.
	Now func() time.Time
}

// Executor runs submissions against a backend.
type Executor struct {
	backend interfaces.Backend
	vector  interfaces.VectorBackend
	socket  interfaces.SocketBackend
	async   interfaces.AsyncBackend

	stats    *Stats
	observer Observer
	logger   Logger
	deliver  func(origin uint64, cqe uapi.CQE)
	now      func() time.Time

	files   []int32
	buffers []Buffer

	backlog  []entry
	inflight []*record
	nextID   uint64
	severing bool // a LINK in the current chain failed

	// external counts pending direct submissions per token that wait for
	// Resolve. Queued submissions are found through their record instead.
	external map[uint64]int

	// outstanding counts armed asynchronous operations. It is the only
	// executor state touched from completion callbacks, together with done.
	outstanding atomic.Int64
	doneMu      sync.Mutex
	done        []asyncDone
}

type entry struct {
	origin uint64
	sqe    uapi.SQE
	rec    *record
}

type asyncDone struct {
	origin    uint64
	recID     uint64
	cqe       uapi.CQE
	delivered bool
}

// New creates an executor. It panics if cfg.Backend is nil.
func New(cfg Config) *Executor {
	if cfg.Backend == nil {
		panic("executor: nil backend")
	}
	e := &Executor{
		backend:  cfg.Backend,
		async:    cfg.Async,
		stats:    cfg.Stats,
		observer: cfg.Observer,
		logger:   cfg.Logger,
		deliver:  cfg.Deliver,
		now:      cfg.Now,
	}
	if v, ok := cfg.Backend.(interfaces.VectorBackend); ok {
		e.vector = v
	}
	if s, ok := cfg.Backend.(interfaces.SocketBackend); ok {
		e.socket = s
	}
	if e.async == nil {
		if a, ok := cfg.Backend.(interfaces.AsyncBackend); ok {
			e.async = a
		}
	}
	if e.stats == nil {
		e.stats = &Stats{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Stats returns the executor's counters.
func (e *Executor) Stats() *Stats {
	return e.stats
}

// Process executes one submission. It returns the completion and true, or
// false if the operation completes later.
func (e *Executor) Process(sqe uapi.SQE) (uapi.CQE, bool) {
	return e.ProcessFrom(0, sqe)
}

// ProcessFrom is Process with asynchronous completions tagged with origin.
func (e *Executor) ProcessFrom(origin uint64, sqe uapi.SQE) (uapi.CQE, bool) {
	return e.process(origin, sqe, nil)
}

func (e *Executor) process(origin uint64, sqe uapi.SQE, rec *record) (uapi.CQE, bool) {
	e.stats.OpsProcessed.Add(1)
	start := e.now()

	res := e.dispatch(origin, sqe, rec, start)
	if res.IsPending() {
		return uapi.CQE{}, false
	}

	cqe := res.Complete(sqe.UserData)
	e.account(sqe.Opcode, cqe, start)
	return cqe, true
}

// account updates counters and the observer for a resolved operation.
func (e *Executor) account(op uapi.Opcode, cqe uapi.CQE, start time.Time) {
	if cqe.Res < 0 {
		e.stats.OpsFailed.Add(1)
		if e.logger != nil {
			e.logger.Debugf("%s token=%d failed: %v", op, cqe.UserData, cqe.Errno())
		}
	} else {
		e.stats.OpsCompleted.Add(1)
	}
	if e.observer != nil {
		var bytes uint64
		if cqe.Res > 0 && movesData(op) {
			bytes = uint64(cqe.Res)
		}
		e.observer.ObserveOp(op, bytes, uint64(e.now().Sub(start).Nanoseconds()), cqe.Res)
	}
}

func movesData(op uapi.Opcode) bool {
	switch op {
	case uapi.OpRead, uapi.OpWrite, uapi.OpReadv, uapi.OpWritev, uapi.OpSendMsg, uapi.OpRecvMsg:
		return true
	}
	return false
}
