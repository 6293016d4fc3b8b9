package backend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-aio/internal/interfaces"
	"github.com/ehrlich-b/go-aio/internal/timer"
	"github.com/ehrlich-b/go-aio/internal/uapi"
)

type recordingAsync struct {
	armed     []uapi.Opcode
	cancelled []uint64
}

func (r *recordingAsync) Arm(sqe uapi.SQE, complete func(uapi.CQE)) error {
	r.armed = append(r.armed, sqe.Opcode)
	return nil
}

func (r *recordingAsync) Cancel(userData uint64) bool {
	r.cancelled = append(r.cancelled, userData)
	return true
}

func TestAsyncRouterRoutes(t *testing.T) {
	timers := &recordingAsync{}
	events := &recordingAsync{}
	r := NewAsyncRouter(timers, events)

	require.NoError(t, r.Arm(uapi.Timeout(time.Second, 0, 1), nil))
	require.NoError(t, r.Arm(uapi.PollAdd(3, uapi.PollIn, 2), nil))
	require.NoError(t, r.Arm(uapi.Accept(3, 0, 0, 3), nil))

	assert.Equal(t, []uapi.Opcode{uapi.OpTimeout}, timers.armed)
	assert.Equal(t, []uapi.Opcode{uapi.OpPollAdd, uapi.OpAccept}, events.armed)

	// Timers answer first
	assert.True(t, r.Cancel(9))
	assert.Equal(t, []uint64{9}, timers.cancelled)
	assert.Empty(t, events.cancelled)
}

func TestAsyncRouterExternal(t *testing.T) {
	r := NewAsyncRouter(timer.NewWheel(), nil)

	err := r.Arm(uapi.RecvMsg(3, 0x10, 8, 0, 1), func(uapi.CQE) {})
	assert.ErrorIs(t, err, interfaces.ErrExternal)
	assert.False(t, r.Cancel(1))

	done := make(chan uapi.CQE, 1)
	require.NoError(t, r.Arm(uapi.Timeout(time.Millisecond, 0, 2), func(c uapi.CQE) { done <- c }))
	select {
	case cqe := <-done:
		assert.Equal(t, -int64(uapi.ETIME), cqe.Res)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout never fired")
	}
}
