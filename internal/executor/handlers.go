package executor

import (
	"errors"
	"time"

	"github.com/ehrlich-b/go-aio/internal/interfaces"
	"github.com/ehrlich-b/go-aio/internal/uapi"
)

func (e *Executor) dispatch(origin uint64, sqe uapi.SQE, rec *record, start time.Time) uapi.Result {
	if sqe.Flags.Has(uapi.SQEFixedFile) && sqe.Opcode != uapi.OpNop && sqe.Opcode != uapi.OpTimeout {
		sqe.FD = e.fixedFile(sqe.FD)
	}
	if sqe.Flags.Has(uapi.SQEBufferSelect) {
		if !e.selectBuffer(&sqe) {
			return uapi.Fail(uapi.EINVAL)
		}
	}

	switch sqe.Opcode {
	case uapi.OpNop:
		return uapi.Success()
	case uapi.OpRead:
		return e.handleRead(sqe)
	case uapi.OpWrite:
		return e.handleWrite(sqe)
	case uapi.OpReadv:
		return e.handleReadv(sqe)
	case uapi.OpWritev:
		return e.handleWritev(sqe)
	case uapi.OpFsync:
		return e.handleFsync(sqe)
	case uapi.OpPollAdd:
		if sqe.FD < 0 {
			return uapi.Fail(uapi.EBADF)
		}
		return e.arm(origin, sqe, rec, start)
	case uapi.OpTimeout:
		return e.arm(origin, sqe, rec, start)
	case uapi.OpClose:
		return e.handleClose(sqe)
	case uapi.OpAccept, uapi.OpConnect, uapi.OpRecvMsg:
		if sqe.FD < 0 {
			return uapi.Fail(uapi.EBADF)
		}
		return e.arm(origin, sqe, rec, start)
	case uapi.OpSendMsg:
		return e.handleSendMsg(sqe)
	default:
		return uapi.Fail(uapi.EOPNOTSUPP)
	}
}

// checkBuffer validates the descriptor and buffer of a transfer.
func checkBuffer(sqe uapi.SQE) (uapi.Result, bool) {
	if sqe.FD < 0 {
		return uapi.Fail(uapi.EBADF), false
	}
	if sqe.Addr == 0 || sqe.Len == 0 {
		return uapi.Fail(uapi.EINVAL), false
	}
	return uapi.Result{}, true
}

func (e *Executor) handleRead(sqe uapi.SQE) uapi.Result {
	if res, ok := checkBuffer(sqe); !ok {
		return res
	}
	n, err := e.backend.ReadAt(sqe.FD, sqe.Addr, sqe.Len, sqe.Off)
	if err != nil {
		return uapi.Fail(uapi.ErrnoOf(err))
	}
	e.stats.BytesRead.Add(uint64(n))
	return uapi.Bytes(int64(n))
}

func (e *Executor) handleWrite(sqe uapi.SQE) uapi.Result {
	if res, ok := checkBuffer(sqe); !ok {
		return res
	}
	n, err := e.backend.WriteAt(sqe.FD, sqe.Addr, sqe.Len, sqe.Off)
	if err != nil {
		return uapi.Fail(uapi.ErrnoOf(err))
	}
	e.stats.BytesWritten.Add(uint64(n))
	return uapi.Bytes(int64(n))
}

func (e *Executor) handleReadv(sqe uapi.SQE) uapi.Result {
	if res, ok := checkBuffer(sqe); !ok {
		return res
	}
	if e.vector == nil {
		return uapi.Fail(uapi.EOPNOTSUPP)
	}
	n, err := e.vector.ReadvAt(sqe.FD, sqe.Addr, sqe.Len, sqe.Off)
	if err != nil {
		return uapi.Fail(uapi.ErrnoOf(err))
	}
	e.stats.BytesRead.Add(uint64(n))
	return uapi.Bytes(int64(n))
}

func (e *Executor) handleWritev(sqe uapi.SQE) uapi.Result {
	if res, ok := checkBuffer(sqe); !ok {
		return res
	}
	if e.vector == nil {
		return uapi.Fail(uapi.EOPNOTSUPP)
	}
	n, err := e.vector.WritevAt(sqe.FD, sqe.Addr, sqe.Len, sqe.Off)
	if err != nil {
		return uapi.Fail(uapi.ErrnoOf(err))
	}
	e.stats.BytesWritten.Add(uint64(n))
	return uapi.Bytes(int64(n))
}

func (e *Executor) handleFsync(sqe uapi.SQE) uapi.Result {
	if sqe.FD < 0 {
		return uapi.Fail(uapi.EBADF)
	}
	if err := e.backend.Sync(sqe.FD, sqe.OpFlags&uapi.FsyncDatasync != 0); err != nil {
		return uapi.Fail(uapi.ErrnoOf(err))
	}
	return uapi.Success()
}

func (e *Executor) handleClose(sqe uapi.SQE) uapi.Result {
	if sqe.FD < 0 {
		return uapi.Fail(uapi.EBADF)
	}
	if err := e.backend.Close(sqe.FD); err != nil {
		return uapi.Fail(uapi.ErrnoOf(err))
	}
	return uapi.Success()
}

func (e *Executor) handleSendMsg(sqe uapi.SQE) uapi.Result {
	if sqe.FD < 0 {
		return uapi.Fail(uapi.EBADF)
	}
	if e.socket == nil {
		return uapi.Fail(uapi.EOPNOTSUPP)
	}
	n, err := e.socket.SendMsg(sqe.FD, sqe.Addr, sqe.Len, sqe.OpFlags)
	if err != nil {
		return uapi.Fail(uapi.ErrnoOf(err))
	}
	e.stats.BytesWritten.Add(uint64(n))
	return uapi.Bytes(int64(n))
}

// arm hands an asynchronous operation to the async backend. Without one the
// operation stays pending until someone outside the executor completes it.
func (e *Executor) arm(origin uint64, sqe uapi.SQE, rec *record, start time.Time) uapi.Result {
	if e.async == nil {
		e.awaitExternal(sqe, rec)
		return uapi.Pending()
	}

	var recID uint64
	if rec != nil {
		recID = rec.id
	}
	op := sqe.Opcode
	e.outstanding.Add(1)
	err := e.async.Arm(sqe, func(cqe uapi.CQE) {
		e.finishAsync(origin, recID, op, start, cqe)
	})
	if err != nil {
		e.outstanding.Add(-1)
		if errors.Is(err, interfaces.ErrExternal) {
			e.awaitExternal(sqe, rec)
			return uapi.Pending()
		}
		return uapi.Fail(uapi.ErrnoOf(err))
	}
	return uapi.Pending()
}

// awaitExternal remembers a direct submission left for Resolve.
func (e *Executor) awaitExternal(sqe uapi.SQE, rec *record) {
	if rec != nil {
		return
	}
	if e.external == nil {
		e.external = make(map[uint64]int)
	}
	e.external[sqe.UserData]++
}

// finishAsync runs on whatever goroutine the async backend completes on.
func (e *Executor) finishAsync(origin, recID uint64, op uapi.Opcode, start time.Time, cqe uapi.CQE) {
	if op == uapi.OpRecvMsg && cqe.Res > 0 {
		e.stats.BytesRead.Add(uint64(cqe.Res))
	}
	e.account(op, cqe, start)

	d := asyncDone{origin: origin, recID: recID, cqe: cqe}
	if e.deliver != nil {
		e.deliver(origin, cqe)
		d.delivered = true
	}

	e.doneMu.Lock()
	e.done = append(e.done, d)
	e.doneMu.Unlock()
	e.outstanding.Add(-1)
}
