// Package timer completes timeout submissions. It implements
// interfaces.AsyncBackend for the timeout opcode only.
package timer

import (
	"errors"
	"sync"
	"time"

	"github.com/ehrlich-b/go-aio/internal/uapi"
)

// ErrNotTimeout is returned by Arm for any opcode other than timeout.
var ErrNotTimeout = uapi.EINVAL

// ErrClosed is returned by Arm after Close.
var ErrClosed = errors.New("timer: closed")

type pending struct {
	t        *time.Timer
	complete func(uapi.CQE)
}

// Wheel tracks armed timeouts by token.
//
// Timeouts that carry a completion count (SQE.Off) only honor the relative
// expiry; the count is not tracked.
type Wheel struct {
	mu      sync.Mutex
	pending map[uint64]*pending
	closed  bool
}

// NewWheel creates an empty Wheel.
func NewWheel() *Wheel {
	return &Wheel{pending: make(map[uint64]*pending)}
}

// Arm starts a timer for the relative nanoseconds in sqe.Addr. On expiry the
// completion carries -ETIME.
func (w *Wheel) Arm(sqe uapi.SQE, complete func(uapi.CQE)) error {
	if sqe.Opcode != uapi.OpTimeout {
		return ErrNotTimeout
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if _, dup := w.pending[sqe.UserData]; dup {
		return uapi.EAGAIN
	}

	token := sqe.UserData
	p := &pending{complete: complete}
	w.pending[token] = p
	p.t = time.AfterFunc(time.Duration(sqe.Addr), func() {
		if w.take(token, p) {
			complete(uapi.CQE{UserData: token, Res: -int64(uapi.ETIME)})
		}
	})
	return nil
}

// take removes p if it is still the armed entry for token.
func (w *Wheel) take(token uint64, p *pending) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending[token] != p {
		return false
	}
	delete(w.pending, token)
	return true
}

// Cancel stops the timeout with the given token and completes it with
// -ECANCELED.
func (w *Wheel) Cancel(userData uint64) bool {
	w.mu.Lock()
	p, ok := w.pending[userData]
	if ok {
		delete(w.pending, userData)
		p.t.Stop()
	}
	w.mu.Unlock()

	if ok {
		p.complete(uapi.CQE{UserData: userData, Res: -int64(uapi.ECANCELED)})
	}
	return ok
}

// Len returns the number of armed timeouts.
func (w *Wheel) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Close cancels every armed timeout and rejects new ones.
func (w *Wheel) Close() error {
	w.mu.Lock()
	w.closed = true
	armed := w.pending
	w.pending = make(map[uint64]*pending)
	w.mu.Unlock()

	for token, p := range armed {
		p.t.Stop()
		p.complete(uapi.CQE{UserData: token, Res: -int64(uapi.ECANCELED)})
	}
	return nil
}
