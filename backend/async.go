package backend

import (
	"github.com/ehrlich-b/go-aio/internal/interfaces"
	"github.com/ehrlich-b/go-aio/internal/uapi"
)

// AsyncRouter sends timeouts to a timer facility and every other
// asynchronous operation to an event source. A nil Events leaves those
// operations to external completion.
type AsyncRouter struct {
	Timers interfaces.AsyncBackend
	Events interfaces.AsyncBackend
}

// NewAsyncRouter creates a router. Either side may be nil.
func NewAsyncRouter(timers, events interfaces.AsyncBackend) *AsyncRouter {
	return &AsyncRouter{Timers: timers, Events: events}
}

func (r *AsyncRouter) route(op uapi.Opcode) interfaces.AsyncBackend {
	if op == uapi.OpTimeout {
		return r.Timers
	}
	return r.Events
}

// Arm implements interfaces.AsyncBackend
func (r *AsyncRouter) Arm(sqe uapi.SQE, complete func(uapi.CQE)) error {
	target := r.route(sqe.Opcode)
	if target == nil {
		return interfaces.ErrExternal
	}
	return target.Arm(sqe, complete)
}

// Cancel implements interfaces.AsyncBackend. Tokens are not tagged with
// their opcode, so both sides are asked.
func (r *AsyncRouter) Cancel(userData uint64) bool {
	if r.Timers != nil && r.Timers.Cancel(userData) {
		return true
	}
	return r.Events != nil && r.Events.Cancel(userData)
}

var _ interfaces.AsyncBackend = (*AsyncRouter)(nil)
