package aio

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/go-aio/internal/logging"
)

// ContextStats counts one context's activity. Fields are updated atomically.
type ContextStats struct {
	Submissions  atomic.Uint64
	Completions  atomic.Uint64
	InFlight     atomic.Int64
	BytesRead    atomic.Uint64
	BytesWritten atomic.Uint64
	SQOverflows  atomic.Uint64
	CQOverflows  atomic.Uint64
}

// ContextStatsSnapshot is a point-in-time copy of ContextStats
type ContextStatsSnapshot struct {
	Submissions  uint64
	Completions  uint64
	InFlight     int64
	BytesRead    uint64
	BytesWritten uint64
	SQOverflows  uint64
	CQOverflows  uint64
}

// Snapshot copies the counters
func (s *ContextStats) Snapshot() ContextStatsSnapshot {
	return ContextStatsSnapshot{
		Submissions:  s.Submissions.Load(),
		Completions:  s.Completions.Load(),
		InFlight:     s.InFlight.Load(),
		BytesRead:    s.BytesRead.Load(),
		BytesWritten: s.BytesWritten.Load(),
		SQOverflows:  s.SQOverflows.Load(),
		CQOverflows:  s.CQOverflows.Load(),
	}
}

// Context is one submitter's pair of rings.
//
// Submit, PollCompletion and friends are meant for a single user goroutine.
// The subsystem is the only consumer of the submission ring and the only
// producer of the completion ring.
type Context struct {
	id      uint64
	sq      *SubmissionRing
	cq      *CompletionRing
	backoff time.Duration
	logger  *logging.Logger
	stats   ContextStats

	// cqMu serializes completion producers: Process and async callbacks
	cqMu     sync.Mutex
	overflow []CQE
	ops      map[uint64]Opcode // data-moving submissions awaiting completion, by token
}

func newContext(id uint64, size uint32, checked bool, backoff time.Duration, logger *logging.Logger) *Context {
	sq, cq := newRings(size, checked)
	return &Context{
		id:      id,
		sq:      sq,
		cq:      cq,
		backoff: backoff,
		logger:  logger.WithContext(id),
		ops:     make(map[uint64]Opcode),
	}
}

// ID returns the context id
func (c *Context) ID() uint64 {
	return c.id
}

// Stats returns the context's counters
func (c *Context) Stats() *ContextStats {
	return &c.stats
}

// RingSize returns the capacity of each ring
func (c *Context) RingSize() uint32 {
	return uint32(c.sq.Cap())
}

// Submit pushes sqe onto the submission ring
func (c *Context) Submit(sqe SQE) error {
	if !c.sq.Push(sqe) {
		c.stats.SQOverflows.Add(1)
		return NewContextError("SUBMIT", c.id, ErrCodeRingFull,
			"submission ring full")
	}
	c.stats.Submissions.Add(1)
	c.stats.InFlight.Add(1)
	return nil
}

// PollCompletion pops one completion if available
func (c *Context) PollCompletion() (CQE, bool) {
	cqe, ok := c.cq.Pop()
	if !ok {
		if !c.flushOverflow() {
			return CQE{}, false
		}
		if cqe, ok = c.cq.Pop(); !ok {
			return CQE{}, false
		}
	}
	c.stats.Completions.Add(1)
	for {
		n := c.stats.InFlight.Load()
		if n <= 0 || c.stats.InFlight.CompareAndSwap(n, n-1) {
			break
		}
	}
	return cqe, true
}

// PollCompletions pops up to max completions
func (c *Context) PollCompletions(max int) []CQE {
	out := make([]CQE, 0, max)
	for len(out) < max {
		cqe, ok := c.PollCompletion()
		if !ok {
			break
		}
		out = append(out, cqe)
	}
	return out
}

// SubmitAndWait returns the completions available for the operations
// currently in flight, without blocking
func (c *Context) SubmitAndWait() []CQE {
	n := c.stats.InFlight.Load()
	if n <= 0 {
		return nil
	}
	return c.PollCompletions(int(n))
}

// WaitCompletion polls until a completion arrives or ctx ends. Some
// goroutine must be driving the subsystem (Serve or Process) meanwhile.
func (c *Context) WaitCompletion(ctx context.Context) (CQE, error) {
	if cqe, ok := c.PollCompletion(); ok {
		return cqe, nil
	}

	timer := time.NewTimer(c.backoff)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return CQE{}, &Error{
				Op:      "WAIT",
				Context: c.id,
				Code:    ErrCodeTimeout,
				Msg:     "no completion",
				Inner:   ctx.Err(),
			}
		case <-timer.C:
		}
		if cqe, ok := c.PollCompletion(); ok {
			return cqe, nil
		}
		timer.Reset(c.backoff)
	}
}

// complete posts a completion. When the ring is full the entry is parked on
// the overflow list and posted, in order, once there is room again.
func (c *Context) complete(cqe CQE) {
	c.cqMu.Lock()
	defer c.cqMu.Unlock()

	c.account(cqe)
	c.flushLocked()
	if len(c.overflow) == 0 && c.cq.Push(cqe) {
		return
	}
	c.stats.CQOverflows.Add(1)
	c.overflow = append(c.overflow, cqe)
	if len(c.overflow) == 1 {
		c.logger.Warn("completion ring full, buffering", "token", cqe.UserData)
	}
}

func (c *Context) account(cqe CQE) {
	op, ok := c.ops[cqe.UserData]
	if !ok {
		return
	}
	delete(c.ops, cqe.UserData)
	if cqe.Res <= 0 {
		return
	}
	switch FamilyOf(op) {
	case FamilyRead:
		c.stats.BytesRead.Add(uint64(cqe.Res))
	case FamilyWrite:
		c.stats.BytesWritten.Add(uint64(cqe.Res))
	}
}

// track remembers a data-moving submission so its byte count can be
// attributed when it completes
func (c *Context) track(sqe SQE) {
	switch FamilyOf(sqe.Opcode) {
	case FamilyRead, FamilyWrite:
		c.cqMu.Lock()
		c.ops[sqe.UserData] = sqe.Opcode
		c.cqMu.Unlock()
	}
}

func (c *Context) flushOverflow() bool {
	c.cqMu.Lock()
	defer c.cqMu.Unlock()
	return c.flushLocked() > 0
}

func (c *Context) flushLocked() int {
	n := 0
	for n < len(c.overflow) && c.cq.Push(c.overflow[n]) {
		n++
	}
	if n > 0 {
		c.overflow = append(c.overflow[:0:0], c.overflow[n:]...)
	}
	return n
}

// Overflowed returns the number of completions waiting for ring space
func (c *Context) Overflowed() int {
	c.cqMu.Lock()
	defer c.cqMu.Unlock()
	return len(c.overflow)
}

// drainSubmissions pops everything on the submission ring
func (c *Context) drainSubmissions(dst []SQE) []SQE {
	for {
		sqe, ok := c.sq.Pop()
		if !ok {
			return dst
		}
		c.track(sqe)
		dst = append(dst, sqe)
	}
}
