package aio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSubsystem(t *testing.T, b Backend) *Subsystem {
	t.Helper()
	if b == nil {
		b = NewMockBackend(1 << 16)
	}
	s, err := NewSubsystem(DefaultParams(), &Options{Backend: b})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func tokens(cqes []CQE) []uint64 {
	out := make([]uint64, len(cqes))
	for i, c := range cqes {
		out[i] = c.UserData
	}
	return out
}

func TestContextRingSize(t *testing.T) {
	s := newTestSubsystem(t, nil)

	tests := []struct {
		requested uint32
		want      uint32
	}{
		{0, DefaultRingSize},
		{5, 8},
		{64, 64},
		{MaxRingSize, MaxRingSize},
		{MaxRingSize + 1, MaxRingSize},
		{1 << 20, MaxRingSize},
	}
	for _, tt := range tests {
		c, err := s.CreateContext(tt.requested)
		require.NoError(t, err)
		assert.Equal(t, tt.want, c.RingSize(), "requested %d", tt.requested)
	}
}

func TestContextIDsAreUnique(t *testing.T) {
	s := newTestSubsystem(t, nil)
	seen := map[uint64]bool{}
	for i := 0; i < 16; i++ {
		c, err := s.CreateContext(4)
		require.NoError(t, err)
		assert.NotZero(t, c.ID())
		assert.False(t, seen[c.ID()])
		seen[c.ID()] = true
	}
	assert.Equal(t, 16, s.Contexts())
}

func TestContextSubmitFull(t *testing.T) {
	s := newTestSubsystem(t, nil)
	c, err := s.CreateContext(4)
	require.NoError(t, err)

	for i := uint64(1); i <= 4; i++ {
		require.NoError(t, c.Submit(Nop(i)))
	}
	err = c.Submit(Nop(5))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRingFull))
	assert.True(t, IsCode(err, ErrCodeRingFull))

	snap := c.Stats().Snapshot()
	assert.Equal(t, uint64(4), snap.Submissions)
	assert.Equal(t, int64(4), snap.InFlight)
	assert.Equal(t, uint64(1), snap.SQOverflows)
}

func TestContextPollEmpty(t *testing.T) {
	s := newTestSubsystem(t, nil)
	c, err := s.CreateContext(4)
	require.NoError(t, err)

	_, ok := c.PollCompletion()
	assert.False(t, ok)
	assert.Empty(t, c.PollCompletions(8))
	assert.Nil(t, c.SubmitAndWait())
}

func TestContextCompletionsInOrder(t *testing.T) {
	s := newTestSubsystem(t, nil)
	c, err := s.CreateContext(8)
	require.NoError(t, err)

	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, c.Submit(Nop(i)))
	}
	assert.Equal(t, 5, s.Process())

	got := c.SubmitAndWait()
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, tokens(got))
	for _, cqe := range got {
		assert.Equal(t, int64(0), cqe.Res)
	}

	snap := c.Stats().Snapshot()
	assert.Equal(t, uint64(5), snap.Completions)
	assert.Equal(t, int64(0), snap.InFlight)
}

func TestContextCompletionOverflow(t *testing.T) {
	s := newTestSubsystem(t, nil)
	c, err := s.CreateContext(2)
	require.NoError(t, err)

	require.NoError(t, c.Submit(Nop(1)))
	require.NoError(t, c.Submit(Nop(2)))
	s.Process()
	require.NoError(t, c.Submit(Nop(3)))
	require.NoError(t, c.Submit(Nop(4)))
	s.Process()

	assert.Equal(t, 2, c.Overflowed())
	assert.Equal(t, uint64(2), c.Stats().CQOverflows.Load())

	got := c.PollCompletions(8)
	assert.Equal(t, []uint64{1, 2, 3, 4}, tokens(got))
	assert.Equal(t, 0, c.Overflowed())
}

func TestContextInFlightFloor(t *testing.T) {
	s := newTestSubsystem(t, nil)
	c, err := s.CreateContext(4)
	require.NoError(t, err)

	// A completion nobody submitted must not drive InFlight negative
	require.NoError(t, s.Complete(c.ID(), CQE{UserData: 77, Res: 0}))
	cqe, ok := c.PollCompletion()
	require.True(t, ok)
	assert.Equal(t, uint64(77), cqe.UserData)
	assert.Equal(t, int64(0), c.Stats().InFlight.Load())
}

func TestContextWaitCompletionTimeout(t *testing.T) {
	s := newTestSubsystem(t, nil)
	c, err := s.CreateContext(4)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err = c.WaitCompletion(ctx)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeTimeout))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestContextWaitCompletion(t *testing.T) {
	s := newTestSubsystem(t, nil)
	c, err := s.CreateContext(4)
	require.NoError(t, err)

	require.NoError(t, c.Submit(Timeout(time.Millisecond, 0, 9)))
	s.Process()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cqe, err := c.WaitCompletion(ctx)
	require.NoError(t, err)

	want := CQE{UserData: 9, Res: -int64(ETIME)}
	if diff := cmp.Diff(want, cqe); diff != "" {
		t.Errorf("completion mismatch (-want +got):\n%s", diff)
	}
}

func TestContextCheckedRings(t *testing.T) {
	params := DefaultParams()
	params.CheckedRings = true
	s, err := NewSubsystem(params, &Options{Backend: NewMockBackend(4096)})
	require.NoError(t, err)
	defer s.Close()

	c, err := s.CreateContext(4)
	require.NoError(t, err)
	require.NoError(t, c.Submit(Nop(1)))
	s.Process()
	cqe, ok := c.PollCompletion()
	require.True(t, ok)
	assert.Equal(t, uint64(1), cqe.UserData)
}
