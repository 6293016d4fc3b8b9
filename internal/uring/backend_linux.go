//go:build linux

package uring

import (
	"errors"
	"fmt"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"github.com/pawelgaczynski/giouring"
	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-aio/internal/logging"
	"github.com/ehrlich-b/go-aio/internal/uapi"
)

// wakeID marks the no-op that tells the reaper to exit.
const wakeID = ^uint64(0)

// call is one submission waiting for its kernel completion. Exactly one of
// ch and complete is set.
type call struct {
	token    uint64
	ch       chan int32
	complete func(uapi.CQE)
	keep     any // memory the kernel reads after submit, e.g. a timespec
}

// backend owns one kernel ring. Submissions may come from any goroutine;
// completions are reaped by a single goroutine.
type backend struct {
	ring   *giouring.Ring
	logger *logging.Logger

	mu      sync.Mutex // guards the SQ and the maps below
	nextID  uint64
	calls   map[uint64]*call
	byToken map[uint64]uint64 // async token -> internal id
	closed  bool

	reaped chan struct{}
}

func newBackend(entries uint32, logger *logging.Logger) (Forwarder, error) {
	ring, err := giouring.CreateRing(entries)
	if err != nil {
		return nil, err
	}
	b := &backend{
		ring:    ring,
		logger:  logger,
		calls:   make(map[uint64]*call),
		byToken: make(map[uint64]uint64),
		reaped:  make(chan struct{}),
	}
	go b.reap()
	return b, nil
}

// submit queues one SQE prepared by prep. The caller holds no locks.
func (b *backend) submit(c *call, prep func(sqe *giouring.SubmissionQueueEntry)) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrClosed
	}

	sqe := b.ring.GetSQE()
	if sqe == nil {
		// SQ full: flush what is queued and try once more
		if _, err := b.ring.Submit(); err != nil {
			return 0, err
		}
		if sqe = b.ring.GetSQE(); sqe == nil {
			return 0, uapi.EAGAIN
		}
	}

	b.nextID++
	if b.nextID == wakeID {
		b.nextID = 1
	}
	id := b.nextID
	prep(sqe)
	sqe.UserData = id

	if c != nil {
		b.calls[id] = c
		if c.complete != nil {
			b.byToken[c.token] = id
		}
	}
	if _, err := b.ring.Submit(); err != nil {
		delete(b.calls, id)
		if c != nil && c.complete != nil {
			delete(b.byToken, c.token)
		}
		return 0, err
	}
	return id, nil
}

// wait submits and blocks for the result.
func (b *backend) wait(prep func(sqe *giouring.SubmissionQueueEntry)) (int32, error) {
	c := &call{ch: make(chan int32, 1)}
	if _, err := b.submit(c, prep); err != nil {
		return 0, err
	}
	res := <-c.ch
	if res < 0 {
		return res, syscall.Errno(-res)
	}
	return res, nil
}

func rw(op uapi.Opcode, fd int32, addr uint64, length uint32, off uint64) func(*giouring.SubmissionQueueEntry) {
	return func(sqe *giouring.SubmissionQueueEntry) {
		sqe.PrepareRW(uint8(op), int(fd), uintptr(addr), length, off)
	}
}

func (b *backend) ReadAt(fd int32, addr uint64, length uint32, off uint64) (int, error) {
	n, err := b.wait(rw(uapi.OpRead, fd, addr, length, off))
	return int(n), err
}

func (b *backend) WriteAt(fd int32, addr uint64, length uint32, off uint64) (int, error) {
	n, err := b.wait(rw(uapi.OpWrite, fd, addr, length, off))
	return int(n), err
}

func (b *backend) ReadvAt(fd int32, iov uint64, iovcnt uint32, off uint64) (int, error) {
	n, err := b.wait(rw(uapi.OpReadv, fd, iov, iovcnt, off))
	return int(n), err
}

func (b *backend) WritevAt(fd int32, iov uint64, iovcnt uint32, off uint64) (int, error) {
	n, err := b.wait(rw(uapi.OpWritev, fd, iov, iovcnt, off))
	return int(n), err
}

func (b *backend) Sync(fd int32, datasync bool) error {
	var flags uint32
	if datasync {
		flags = uapi.FsyncDatasync
	}
	_, err := b.wait(func(sqe *giouring.SubmissionQueueEntry) {
		sqe.PrepareRW(uint8(uapi.OpFsync), int(fd), 0, 0, 0)
		sqe.OpcodeFlags = flags
	})
	return err
}

func (b *backend) Close(fd int32) error {
	_, err := b.wait(rw(uapi.OpClose, fd, 0, 0, 0))
	return err
}

func (b *backend) SendMsg(fd int32, msg uint64, length uint32, flags uint32) (int, error) {
	n, err := b.wait(func(sqe *giouring.SubmissionQueueEntry) {
		sqe.PrepareRW(uint8(uapi.OpSendMsg), int(fd), uintptr(msg), 1, 0)
		sqe.OpcodeFlags = flags
	})
	return int(n), err
}

// Arm forwards poll, timeout, accept, connect and recvmsg.
func (b *backend) Arm(sqe uapi.SQE, complete func(uapi.CQE)) error {
	c := &call{token: sqe.UserData, complete: complete}

	var prep func(*giouring.SubmissionQueueEntry)
	switch sqe.Opcode {
	case uapi.OpPollAdd:
		prep = func(k *giouring.SubmissionQueueEntry) {
			k.PrepareRW(uint8(uapi.OpPollAdd), int(sqe.FD), 0, 0, 0)
			k.OpcodeFlags = sqe.OpFlags
		}
	case uapi.OpTimeout:
		ts := unix.NsecToTimespec(int64(time.Duration(sqe.Addr)))
		c.keep = &ts
		prep = func(k *giouring.SubmissionQueueEntry) {
			k.PrepareRW(uint8(uapi.OpTimeout), -1, uintptr(unsafe.Pointer(&ts)), 1, sqe.Off)
		}
	case uapi.OpAccept:
		// Peer addresses are not collected; the completion carries the new fd.
		prep = func(k *giouring.SubmissionQueueEntry) {
			k.PrepareRW(uint8(uapi.OpAccept), int(sqe.FD), 0, 0, 0)
			k.OpcodeFlags = sqe.OpFlags
		}
	case uapi.OpConnect:
		prep = rw(uapi.OpConnect, sqe.FD, sqe.Addr, 0, sqe.Off)
	case uapi.OpRecvMsg:
		prep = func(k *giouring.SubmissionQueueEntry) {
			k.PrepareRW(uint8(uapi.OpRecvMsg), int(sqe.FD), uintptr(sqe.Addr), 1, 0)
			k.OpcodeFlags = sqe.OpFlags
		}
	default:
		return uapi.EOPNOTSUPP
	}

	_, err := b.submit(c, prep)
	return err
}

// Cancel asks the kernel to abort the armed operation with the given token.
func (b *backend) Cancel(userData uint64) bool {
	b.mu.Lock()
	id, ok := b.byToken[userData]
	b.mu.Unlock()
	if !ok {
		return false
	}
	_, err := b.submit(nil, rw(uapi.OpAsyncCancel, -1, id, 0, 0))
	return err == nil
}

func (b *backend) reap() {
	defer close(b.reaped)
	for {
		cqe, err := b.ring.WaitCQE()
		if err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
				continue
			}
			b.logger.Error("io_uring wait failed", "error", err)
			b.failAll(-int32(uapi.EIO))
			return
		}
		id, res := cqe.UserData, cqe.Res
		b.ring.CQESeen(cqe)

		if id == wakeID {
			b.failAll(-int32(uapi.ECANCELED))
			return
		}
		b.resolve(id, res)
	}
}

func (b *backend) resolve(id uint64, res int32) {
	b.mu.Lock()
	c, ok := b.calls[id]
	if ok {
		delete(b.calls, id)
		if c.complete != nil {
			delete(b.byToken, c.token)
		}
	}
	b.mu.Unlock()
	if !ok {
		// cancel requests have no waiter
		return
	}

	if c.ch != nil {
		c.ch <- res
		return
	}
	c.complete(uapi.CQE{UserData: c.token, Res: int64(res)})
}

// failAll completes everything still waiting with res.
func (b *backend) failAll(res int32) {
	b.mu.Lock()
	ids := make([]uint64, 0, len(b.calls))
	for id := range b.calls {
		ids = append(ids, id)
	}
	b.mu.Unlock()
	for _, id := range ids {
		b.resolve(id, res)
	}
}

// Shutdown wakes the reaper, waits for it and tears down the ring.
// Operations still armed complete with -ECANCELED. If the wake-up cannot be
// submitted the backend stops accepting work but the ring is left in place,
// since the reaper may still be inside WaitCQE.
func (b *backend) Shutdown() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	err := b.wake()
	b.mu.Unlock()
	if err != nil {
		b.logger.Error("io_uring shutdown: wake failed", "error", err)
		return fmt.Errorf("uring: wake reaper: %w", err)
	}

	<-b.reaped
	b.ring.QueueExit()
	return nil
}

// wake submits the no-op that stops the reaper. Called with b.mu held.
func (b *backend) wake() error {
	select {
	case <-b.reaped:
		return nil
	default:
	}
	sqe := b.ring.GetSQE()
	if sqe == nil {
		if _, err := b.ring.Submit(); err != nil {
			return err
		}
		if sqe = b.ring.GetSQE(); sqe == nil {
			return uapi.EAGAIN
		}
	}
	sqe.PrepareNop()
	sqe.UserData = wakeID
	_, err := b.ring.Submit()
	return err
}
