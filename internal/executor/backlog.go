package executor

import (
	"time"

	"github.com/ehrlich-b/go-aio/internal/uapi"
)

// State is the lifecycle stage of a submitted operation.
type State uint8

const (
	StateQueued State = iota
	StateExecuting
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateExecuting:
		return "executing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (s State) terminal() bool {
	return s >= StateCompleted
}

type record struct {
	id         uint64
	userData   uint64
	opcode     uapi.Opcode
	state      State
	submitTime time.Time
	startTime  time.Time
}

// Record is a read-only view of an in-flight operation.
type Record struct {
	UserData   uint64
	Opcode     uapi.Opcode
	State      State
	SubmitTime time.Time
	StartTime  time.Time
}

// Submit queues sqe for the next Tick.
func (e *Executor) Submit(sqe uapi.SQE) {
	e.SubmitFrom(0, sqe)
}

// SubmitFrom queues sqe with its completions tagged with origin.
func (e *Executor) SubmitFrom(origin uint64, sqe uapi.SQE) {
	e.nextID++
	rec := &record{
		id:         e.nextID,
		userData:   sqe.UserData,
		opcode:     sqe.Opcode,
		state:      StateQueued,
		submitTime: e.now(),
	}
	e.inflight = append(e.inflight, rec)
	e.backlog = append(e.backlog, entry{origin: origin, sqe: sqe, rec: rec})
}

// Cancel marks the oldest queued operation with the given token as
// cancelled. It returns false when no such operation is still queued;
// operations that have started cannot be cancelled here.
func (e *Executor) Cancel(userData uint64) bool {
	for _, rec := range e.inflight {
		if rec.userData == userData && rec.state == StateQueued {
			rec.state = StateCancelled
			e.stats.OpsCancelled.Add(1)
			return true
		}
	}
	return false
}

// CancelAsync asks the async backend to abort an armed operation. The
// operation still completes, with -ECANCELED, through the usual path.
func (e *Executor) CancelAsync(userData uint64) bool {
	if e.async == nil {
		return false
	}
	return e.async.Cancel(userData)
}

// Resolve records an externally produced completion for a pending operation
// that has no async backend behind it, whether it was queued with Submit or
// run directly with Process. It returns false if no such operation carries
// the token.
func (e *Executor) Resolve(cqe uapi.CQE) bool {
	for _, rec := range e.inflight {
		if rec.userData == cqe.UserData && rec.state == StateExecuting {
			rec.state = resolvedState(cqe)
			e.countResolved(cqe)
			return true
		}
	}
	if n := e.external[cqe.UserData]; n > 0 {
		if n == 1 {
			delete(e.external, cqe.UserData)
		} else {
			e.external[cqe.UserData] = n - 1
		}
		e.countResolved(cqe)
		return true
	}
	return false
}

func (e *Executor) countResolved(cqe uapi.CQE) {
	if cqe.Res < 0 {
		e.stats.OpsFailed.Add(1)
	} else {
		e.stats.OpsCompleted.Add(1)
	}
}

func resolvedState(cqe uapi.CQE) State {
	if cqe.Res < 0 {
		return StateFailed
	}
	return StateCompleted
}

// Tick runs the backlog and returns the completions produced. Completions
// for submissions made with a non-zero origin go to Config.Deliver when it
// is set.
func (e *Executor) Tick() []uapi.CQE {
	var out []uapi.CQE
	e.Drain(func(origin uint64, cqe uapi.CQE) {
		if origin != 0 && e.deliver != nil {
			e.deliver(origin, cqe)
			return
		}
		out = append(out, cqe)
	})
	return out
}

// Drain runs the backlog in order, passing every completion to emit, then
// sweeps finished records. It returns the number of completions emitted.
//
// A failed LINK entry cancels the rest of its chain with -ECANCELED; a
// HARDLINK entry does not. A DRAIN entry waits, together with everything
// queued after it, until no asynchronous operation is outstanding.
func (e *Executor) Drain(emit func(origin uint64, cqe uapi.CQE)) int {
	n := e.collectAsync(emit)

	i := 0
	for ; i < len(e.backlog); i++ {
		ent := e.backlog[i]
		if ent.sqe.Flags.Has(uapi.SQEDrain) && e.outstanding.Load() > 0 {
			break
		}

		failed := false
		switch {
		case ent.rec.state == StateCancelled:
			emit(ent.origin, uapi.Fail(uapi.ECANCELED).Complete(ent.sqe.UserData))
			n++
			failed = true
		case e.severing:
			ent.rec.state = StateCancelled
			e.stats.OpsCancelled.Add(1)
			emit(ent.origin, uapi.Fail(uapi.ECANCELED).Complete(ent.sqe.UserData))
			n++
			failed = true
		default:
			ent.rec.state = StateExecuting
			ent.rec.startTime = e.now()
			cqe, ok := e.process(ent.origin, ent.sqe, ent.rec)
			if ok {
				ent.rec.state = resolvedState(cqe)
				emit(ent.origin, cqe)
				n++
				failed = cqe.Res < 0
			}
		}

		switch {
		case !ent.sqe.Linked():
			e.severing = false
		case failed && !ent.sqe.Flags.Has(uapi.SQEHardLink):
			e.severing = true
		}
	}

	// Drop the consumed prefix without keeping the old array alive forever.
	rest := e.backlog[i:]
	e.backlog = append(e.backlog[:0:0], rest...)

	n += e.collectAsync(emit)
	e.sweep()
	return n
}

// collectAsync applies asynchronous completions to their records and emits
// the ones not already delivered.
func (e *Executor) collectAsync(emit func(origin uint64, cqe uapi.CQE)) int {
	e.doneMu.Lock()
	done := e.done
	e.done = nil
	e.doneMu.Unlock()

	n := 0
	for _, d := range done {
		if d.recID != 0 {
			for _, rec := range e.inflight {
				if rec.id == d.recID {
					rec.state = resolvedState(d.cqe)
					break
				}
			}
		}
		if !d.delivered {
			emit(d.origin, d.cqe)
			n++
		}
	}
	return n
}

// sweep drops records in a terminal state.
func (e *Executor) sweep() {
	kept := e.inflight[:0]
	for _, rec := range e.inflight {
		if !rec.state.terminal() {
			kept = append(kept, rec)
		}
	}
	for i := len(kept); i < len(e.inflight); i++ {
		e.inflight[i] = nil
	}
	e.inflight = kept
}

// Records returns a snapshot of the in-flight records, oldest first.
func (e *Executor) Records() []Record {
	out := make([]Record, len(e.inflight))
	for i, rec := range e.inflight {
		out[i] = Record{
			UserData:   rec.userData,
			Opcode:     rec.opcode,
			State:      rec.state,
			SubmitTime: rec.submitTime,
			StartTime:  rec.startTime,
		}
	}
	return out
}

// Outstanding returns the number of armed asynchronous operations.
func (e *Executor) Outstanding() int64 {
	return e.outstanding.Load()
}

// Pending returns the number of submissions waiting for Tick.
func (e *Executor) Pending() int {
	return len(e.backlog)
}

// InFlight returns the number of tracked records, including started
// operations still waiting for an asynchronous completion.
func (e *Executor) InFlight() int {
	return len(e.inflight)
}
