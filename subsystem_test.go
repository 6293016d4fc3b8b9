package aio

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-aio/backend"
	"github.com/ehrlich-b/go-aio/internal/executor"
)

func TestNewSubsystemValidation(t *testing.T) {
	_, err := NewSubsystem(DefaultParams(), nil)
	assert.True(t, errors.Is(err, ErrInvalidParameters))

	_, err = NewSubsystem(DefaultParams(), &Options{})
	assert.True(t, errors.Is(err, ErrInvalidParameters))

	params := DefaultParams()
	params.RingSize = MaxRingSize + 1
	_, err = NewSubsystem(params, &Options{Backend: NewMockBackend(16)})
	assert.True(t, IsCode(err, ErrCodeInvalidParameters))

	params = DefaultParams()
	params.Workers = -1
	assert.Error(t, params.Validate())

	assert.NoError(t, Params{}.Validate())
	assert.Equal(t, DefaultParams(), Params{}.withDefaults())
}

func TestMemoryWriteThenRead(t *testing.T) {
	mem := backend.NewMemory()
	s := newTestSubsystem(t, mem)
	c, err := s.CreateContext(16)
	require.NoError(t, err)

	fd := mem.Open(8192)
	src, srcBuf := mem.Alloc(4096)
	dst, dstBuf := mem.Alloc(4096)
	for i := range srcBuf {
		srcBuf[i] = byte(i * 7)
	}

	require.NoError(t, c.Submit(Write(fd, src, 4096, 4096, 1)))
	require.NoError(t, c.Submit(Fsync(fd, true, 2)))
	require.NoError(t, c.Submit(Read(fd, dst, 4096, 4096, 3)))
	require.NoError(t, c.Submit(Read(fd, dst, 4096, 8192, 4))) // at EOF
	s.Process()

	want := []CQE{
		{UserData: 1, Res: 4096},
		{UserData: 2, Res: 0},
		{UserData: 3, Res: 4096},
		{UserData: 4, Res: 0},
	}
	if diff := cmp.Diff(want, c.PollCompletions(8)); diff != "" {
		t.Errorf("completions mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, bytes.Equal(srcBuf, dstBuf))

	snap := c.Stats().Snapshot()
	assert.Equal(t, uint64(4096), snap.BytesRead)
	assert.Equal(t, uint64(4096), snap.BytesWritten)

	stats := s.Stats()
	assert.Equal(t, uint64(4), stats.OpsProcessed)
	assert.Equal(t, uint64(4), stats.OpsCompleted)
	assert.Equal(t, uint64(4096), stats.BytesRead)
	assert.Equal(t, uint64(4096), stats.BytesWritten)

	m := s.Metrics().Snapshot()
	assert.Equal(t, uint64(2), m.Read.Ops)
	assert.Equal(t, uint64(1), m.Write.Ops)
	assert.Equal(t, uint64(1), m.Sync.Ops)
}

func TestMemoryVectored(t *testing.T) {
	mem := backend.NewMemory()
	s := newTestSubsystem(t, mem)
	c, err := s.CreateContext(8)
	require.NoError(t, err)

	fd := mem.Open(64)
	a, aBuf := mem.Alloc(8)
	b, bBuf := mem.Alloc(8)
	copy(aBuf, "abcdefgh")
	copy(bBuf, "ijklmnop")
	iov, iovBuf := mem.Alloc(2 * 16)
	copy(iovBuf, MarshalIovecs([]Iovec{{Base: a, Len: 8}, {Base: b, Len: 8}}))

	require.NoError(t, c.Submit(Writev(fd, iov, 2, 0, 1)))
	s.Process()

	cqe, ok := c.PollCompletion()
	require.True(t, ok)
	assert.Equal(t, int64(16), cqe.Res)

	file, ok := mem.File(fd)
	require.True(t, ok)
	assert.Equal(t, "abcdefghijklmnop", string(file[:16]))
}

func TestProcessRoutesByContext(t *testing.T) {
	s := newTestSubsystem(t, nil)
	c1, err := s.CreateContext(8)
	require.NoError(t, err)
	c2, err := s.CreateContext(8)
	require.NoError(t, err)

	require.NoError(t, c1.Submit(Nop(11)))
	require.NoError(t, c2.Submit(Nop(21)))
	require.NoError(t, c1.Submit(Nop(12)))
	assert.Equal(t, 3, s.Process())

	assert.Equal(t, []uint64{11, 12}, tokens(c1.PollCompletions(8)))
	assert.Equal(t, []uint64{21}, tokens(c2.PollCompletions(8)))
}

func TestDestroyContext(t *testing.T) {
	s := newTestSubsystem(t, nil)
	c, err := s.CreateContext(8)
	require.NoError(t, err)

	require.NoError(t, s.DestroyContext(c.ID()))
	_, ok := s.Context(c.ID())
	assert.False(t, ok)

	err = s.DestroyContext(c.ID())
	assert.True(t, errors.Is(err, ErrContextNotFound))
	assert.True(t, errors.Is(s.Submit(c.ID(), Nop(1)), ErrContextNotFound))
	assert.True(t, errors.Is(s.Complete(c.ID(), CQE{UserData: 1}), ErrContextNotFound))
}

func TestWorkQueuePath(t *testing.T) {
	mock := NewMockBackend(4096)
	mock.AddFile(3, []byte("hello, world"))
	s := newTestSubsystem(t, mock)
	c, err := s.CreateContext(8)
	require.NoError(t, err)

	require.NoError(t, s.Submit(c.ID(), Read(3, 0x100, 5, 7, 1)))
	require.NoError(t, s.Submit(c.ID(), Nop(2)))
	assert.Equal(t, 2, s.QueueLen())
	assert.Equal(t, 2, s.ProcessQueue())
	assert.Equal(t, 0, s.QueueLen())

	want := []CQE{{UserData: 1, Res: 5}, {UserData: 2, Res: 0}}
	if diff := cmp.Diff(want, c.PollCompletions(8)); diff != "" {
		t.Errorf("completions mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "world", string(mock.Memory()[0x100:0x105]))

	snap := c.Stats().Snapshot()
	assert.Equal(t, uint64(2), snap.Submissions)
	assert.Equal(t, uint64(5), snap.BytesRead)
	assert.Equal(t, int64(0), snap.InFlight)
}

func TestBackendFailure(t *testing.T) {
	mock := NewMockBackend(4096)
	mock.AddFile(3, make([]byte, 64))
	s := newTestSubsystem(t, mock)
	c, err := s.CreateContext(8)
	require.NoError(t, err)

	mock.FailNext("write", EIO)
	require.NoError(t, c.Submit(Write(3, 0x10, 8, 0, 1)))
	require.NoError(t, c.Submit(Write(3, 0x10, 8, 0, 2)))
	s.Process()

	got := c.PollCompletions(8)
	require.Len(t, got, 2)
	assert.Equal(t, EIO, got[0].Errno())
	assert.Equal(t, int64(8), got[1].Res)
	assert.True(t, IsCode(CompletionError(got[0]), ErrCodeIOError))

	assert.Equal(t, uint64(1), s.Metrics().Snapshot().Write.Errors)
	assert.Equal(t, 2, mock.CallCounts()["write"])
}

func TestLinkChainThroughSubsystem(t *testing.T) {
	s := newTestSubsystem(t, nil)
	c, err := s.CreateContext(8)
	require.NoError(t, err)

	require.NoError(t, c.Submit(Read(-1, 0x10, 8, 0, 1).WithLink()))
	require.NoError(t, c.Submit(Nop(2).WithLink()))
	require.NoError(t, c.Submit(Nop(3)))
	require.NoError(t, c.Submit(Nop(4)))
	s.Process()

	want := []CQE{
		{UserData: 1, Res: -int64(EBADF)},
		{UserData: 2, Res: -int64(ECANCELED)},
		{UserData: 3, Res: -int64(ECANCELED)},
		{UserData: 4, Res: 0},
	}
	if diff := cmp.Diff(want, c.PollCompletions(8)); diff != "" {
		t.Errorf("completions mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, uint64(2), s.Stats().OpsCancelled)
}

func TestFixedFilesThroughSubsystem(t *testing.T) {
	mock := NewMockBackend(4096)
	mock.AddFile(5, []byte("fixed"))
	s := newTestSubsystem(t, mock)
	c, err := s.CreateContext(8)
	require.NoError(t, err)

	require.NoError(t, s.RegisterFiles([]int32{-1, 5}))
	require.NoError(t, s.RegisterBuffers([]Buffer{{Addr: 0x200, Len: 16}}))

	require.NoError(t, c.Submit(Read(1, 0, 0, 0, 1).WithFixedFile().WithBuffer(0)))
	require.NoError(t, c.Submit(Read(0, 0x10, 4, 0, 2).WithFixedFile()))
	s.Process()

	got := c.PollCompletions(8)
	require.Len(t, got, 2)
	assert.Equal(t, int64(5), got[0].Res)
	assert.Equal(t, "fixed", string(mock.Memory()[0x200:0x205]))
	assert.Equal(t, EBADF, got[1].Errno())

	s.UnregisterFiles()
	s.UnregisterBuffers()
	require.NoError(t, c.Submit(Read(1, 0x10, 4, 0, 3).WithFixedFile()))
	s.Process()
	cqe, ok := c.PollCompletion()
	require.True(t, ok)
	assert.Equal(t, EBADF, cqe.Errno())
}

func TestSendMsgThroughSubsystem(t *testing.T) {
	mock := NewMockBackend(4096)
	copy(mock.Memory()[0x40:], "ping")
	s := newTestSubsystem(t, mock)
	c, err := s.CreateContext(8)
	require.NoError(t, err)

	require.NoError(t, c.Submit(SendMsg(7, 0x40, 4, 0, 1)))
	s.Process()

	cqe, ok := c.PollCompletion()
	require.True(t, ok)
	assert.Equal(t, int64(4), cqe.Res)
	assert.Equal(t, [][]byte{[]byte("ping")}, mock.Sent())
	assert.Equal(t, uint64(4), c.Stats().BytesWritten.Load())
}

func TestExternalCompletion(t *testing.T) {
	s := newTestSubsystem(t, nil)
	c, err := s.CreateContext(8)
	require.NoError(t, err)

	require.NoError(t, c.Submit(PollAdd(4, 1, 9)))
	assert.Equal(t, 0, s.Process())

	recs := s.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, uint64(9), recs[0].UserData)
	assert.Equal(t, executor.StateExecuting, recs[0].State)
	assert.Equal(t, int64(0), s.Outstanding())

	require.NoError(t, s.Complete(c.ID(), CQE{UserData: 9, Res: 1}))
	cqe, ok := c.PollCompletion()
	require.True(t, ok)
	assert.Equal(t, CQE{UserData: 9, Res: 1}, cqe)

	s.Process()
	assert.Empty(t, s.Records())
}

func TestExternalCompletionCounted(t *testing.T) {
	tests := []struct {
		name   string
		submit func(s *Subsystem, c *Context) error
	}{
		{"ring", func(s *Subsystem, c *Context) error {
			if err := c.Submit(PollAdd(4, 1, 9)); err != nil {
				return err
			}
			s.Process()
			return nil
		}},
		{"work queue", func(s *Subsystem, c *Context) error {
			if err := s.Submit(c.ID(), PollAdd(4, 1, 9)); err != nil {
				return err
			}
			s.ProcessQueue()
			return nil
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSubsystem(t, nil)
			c, err := s.CreateContext(8)
			require.NoError(t, err)

			require.NoError(t, tt.submit(s, c))
			_, ok := c.PollCompletion()
			require.False(t, ok)

			require.NoError(t, s.Complete(c.ID(), CQE{UserData: 9, Res: 1}))
			cqe, ok := c.PollCompletion()
			require.True(t, ok)
			assert.Equal(t, CQE{UserData: 9, Res: 1}, cqe)

			stats := s.Stats()
			assert.Equal(t, uint64(1), stats.OpsProcessed)
			assert.Equal(t, uint64(1), stats.OpsCompleted)
			assert.Equal(t, uint64(0), stats.OpsFailed)
		})
	}
}

func TestCancelQueuedAndArmed(t *testing.T) {
	s := newTestSubsystem(t, nil)
	c, err := s.CreateContext(8)
	require.NoError(t, err)

	require.NoError(t, c.Submit(Timeout(time.Hour, 0, 1)))
	require.NoError(t, c.Submit(Nop(2).WithDrain()))
	assert.Equal(t, 0, s.Process())
	assert.Equal(t, int64(1), s.Outstanding())

	// The drain entry is still queued behind the armed timeout
	assert.True(t, s.Cancel(2))
	assert.True(t, s.Cancel(1))
	assert.False(t, s.Cancel(42))

	s.Process()
	want := []CQE{
		{UserData: 1, Res: -int64(ECANCELED)},
		{UserData: 2, Res: -int64(ECANCELED)},
	}
	if diff := cmp.Diff(want, c.PollCompletions(8)); diff != "" {
		t.Errorf("completions mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, int64(0), s.Outstanding())
	assert.Empty(t, s.Records())
}

func TestTimeoutFires(t *testing.T) {
	s := newTestSubsystem(t, nil)
	c, err := s.CreateContext(8)
	require.NoError(t, err)

	require.NoError(t, c.Submit(Timeout(time.Millisecond, 0, 3)))
	s.Process()

	var got CQE
	require.Eventually(t, func() bool {
		var ok bool
		got, ok = c.PollCompletion()
		return ok
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, ETIME, got.Errno())
	assert.Equal(t, uint64(1), s.Metrics().Snapshot().Other.Errors)
}

func TestServe(t *testing.T) {
	params := DefaultParams()
	params.Workers = 2
	params.PollInterval = time.Millisecond
	s, err := NewSubsystem(params, &Options{Backend: NewMockBackend(4096)})
	require.NoError(t, err)
	defer s.Close()

	c, err := s.CreateContext(64)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	var serveErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		serveErr = s.Serve(ctx)
	}()

	require.Eventually(t, func() bool {
		return s.serving.Load()
	}, 5*time.Second, time.Millisecond)
	assert.Error(t, s.Serve(ctx), "second Serve should be rejected")

	for i := uint64(1); i <= 10; i++ {
		require.NoError(t, c.Submit(Nop(i)))
		require.NoError(t, s.Submit(c.ID(), Nop(100+i)))
	}

	seen := map[uint64]bool{}
	require.Eventually(t, func() bool {
		for _, cqe := range c.PollCompletions(64) {
			seen[cqe.UserData] = true
		}
		return len(seen) == 20
	}, 5*time.Second, time.Millisecond)

	cancel()
	wg.Wait()
	assert.NoError(t, serveErr)
	for _, w := range s.workers {
		assert.False(t, w.IsRunning())
	}
}

func TestServeStopsOnClose(t *testing.T) {
	s, err := NewSubsystem(DefaultParams(), &Options{Backend: NewMockBackend(16)})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Serve(context.Background()) }()

	require.Eventually(t, func() bool {
		return s.serving.Load()
	}, 5*time.Second, time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
}

func TestClose(t *testing.T) {
	s, err := NewSubsystem(DefaultParams(), &Options{Backend: NewMockBackend(16)})
	require.NoError(t, err)
	c, err := s.CreateContext(8)
	require.NoError(t, err)

	require.NoError(t, c.Submit(Timeout(time.Hour, 0, 1)))
	s.Process()

	require.NoError(t, s.Close())
	cqe, ok := c.PollCompletion()
	require.True(t, ok)
	assert.Equal(t, ECANCELED, cqe.Errno())

	_, err = s.CreateContext(8)
	assert.True(t, errors.Is(err, ErrClosed))
	assert.True(t, errors.Is(s.Submit(c.ID(), Nop(2)), ErrClosed))
	assert.True(t, errors.Is(s.Serve(context.Background()), ErrClosed))
	assert.Equal(t, 0, s.Process())
	assert.NoError(t, s.Close())
}

func TestBackendStats(t *testing.T) {
	mock := NewMockBackend(16)
	mock.SetCustomStats(map[string]interface{}{"kind": "mock"})
	s := newTestSubsystem(t, mock)

	stats := s.BackendStats()
	assert.Equal(t, "mock", stats["kind"])
	assert.Equal(t, 0, stats["read_calls"])
}
