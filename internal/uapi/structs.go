package uapi

import "time"

// SQE is a submission descriptor. It is copied into and out of rings and
// queues by value; nothing keeps a reference to a caller's SQE.
type SQE struct {
	Opcode      Opcode   // operation to perform
	Flags       SQEFlags // scheduling flags
	IOPrio      uint16   // request priority
	FD          int32    // file descriptor, or fixed-file index with SQEFixedFile; negative means none
	Off         uint64   // byte offset (timeout: completion count)
	Addr        uint64   // buffer, iovec array or msghdr address (timeout: relative nanoseconds)
	Len         uint32   // buffer length or iovec count
	OpFlags     uint32   // opcode-specific flags (fsync flags, poll mask, msg flags)
	UserData    uint64   // correlation token echoed in the completion
	BufIndex    uint16   // registered buffer index with SQEBufferSelect
	Personality uint16   // credential token
}

// CQE is a completion descriptor.
type CQE struct {
	UserData uint64   // token of the originating submission
	Res      int64    // byte count or 0 on success, negated errno on failure
	Flags    CQEFlags // completion flags
}

// IsError reports whether the completion carries an error.
func (c CQE) IsError() bool {
	return c.Res < 0
}

// Errno returns the error code of a failed completion, or 0.
func (c CQE) Errno() Errno {
	if c.Res < 0 {
		return Errno(-c.Res)
	}
	return 0
}

// Iovec is one segment of a vectored request. Layout matches struct iovec.
type Iovec struct {
	Base uint64
	Len  uint64
}

// Nop builds a no-op submission.
func Nop(userData uint64) SQE {
	return SQE{Opcode: OpNop, FD: -1, UserData: userData}
}

// Read builds a read of length bytes at offset into buf.
func Read(fd int32, buf uint64, length uint32, offset uint64, userData uint64) SQE {
	return SQE{Opcode: OpRead, FD: fd, Addr: buf, Len: length, Off: offset, UserData: userData}
}

// Write builds a write of length bytes at offset from buf.
func Write(fd int32, buf uint64, length uint32, offset uint64, userData uint64) SQE {
	return SQE{Opcode: OpWrite, FD: fd, Addr: buf, Len: length, Off: offset, UserData: userData}
}

// Readv builds a scatter read. iov is the address of an Iovec array of iovcnt entries.
func Readv(fd int32, iov uint64, iovcnt uint32, offset uint64, userData uint64) SQE {
	return SQE{Opcode: OpReadv, FD: fd, Addr: iov, Len: iovcnt, Off: offset, UserData: userData}
}

// Writev builds a gather write.
func Writev(fd int32, iov uint64, iovcnt uint32, offset uint64, userData uint64) SQE {
	return SQE{Opcode: OpWritev, FD: fd, Addr: iov, Len: iovcnt, Off: offset, UserData: userData}
}

// Fsync builds a sync request, fdatasync when datasync is set.
func Fsync(fd int32, datasync bool, userData uint64) SQE {
	sqe := SQE{Opcode: OpFsync, FD: fd, UserData: userData}
	if datasync {
		sqe.OpFlags = FsyncDatasync
	}
	return sqe
}

// PollAdd registers interest in events on fd.
func PollAdd(fd int32, events uint32, userData uint64) SQE {
	return SQE{Opcode: OpPollAdd, FD: fd, OpFlags: events, UserData: userData}
}

// Timeout builds a timeout that fires after d, or after count other
// completions when count is non-zero.
func Timeout(d time.Duration, count uint32, userData uint64) SQE {
	return SQE{Opcode: OpTimeout, FD: -1, Addr: uint64(d), Len: 1, Off: uint64(count), UserData: userData}
}

// Close builds a close of fd.
func Close(fd int32, userData uint64) SQE {
	return SQE{Opcode: OpClose, FD: fd, UserData: userData}
}

// Accept builds an accept on a listening socket. addr/addrLen may be zero.
func Accept(fd int32, addr uint64, addrLen uint32, userData uint64) SQE {
	return SQE{Opcode: OpAccept, FD: fd, Addr: addr, Len: addrLen, UserData: userData}
}

// Connect builds a connect of fd to the sockaddr at addr.
func Connect(fd int32, addr uint64, addrLen uint32, userData uint64) SQE {
	return SQE{Opcode: OpConnect, FD: fd, Addr: addr, Off: uint64(addrLen), UserData: userData}
}

// SendMsg builds a sendmsg. msg is the address of a msghdr, length the payload size.
func SendMsg(fd int32, msg uint64, length uint32, flags uint32, userData uint64) SQE {
	return SQE{Opcode: OpSendMsg, FD: fd, Addr: msg, Len: length, OpFlags: flags, UserData: userData}
}

// RecvMsg builds a recvmsg.
func RecvMsg(fd int32, msg uint64, length uint32, flags uint32, userData uint64) SQE {
	return SQE{Opcode: OpRecvMsg, FD: fd, Addr: msg, Len: length, OpFlags: flags, UserData: userData}
}

// WithLink links the submission to the next one; a failure cancels the rest of the chain.
func (s SQE) WithLink() SQE {
	s.Flags |= SQELink
	return s
}

// WithHardLink links the submission to the next one without breaking on failure.
func (s SQE) WithHardLink() SQE {
	s.Flags |= SQEHardLink
	return s
}

// WithDrain makes the submission wait until everything before it has completed.
func (s SQE) WithDrain() SQE {
	s.Flags |= SQEDrain
	return s
}

// WithFixedFile treats FD as an index into the registered file table.
func (s SQE) WithFixedFile() SQE {
	s.Flags |= SQEFixedFile
	return s
}

// WithBuffer selects registered buffer index for the data transfer.
func (s SQE) WithBuffer(index uint16) SQE {
	s.Flags |= SQEBufferSelect
	s.BufIndex = index
	return s
}

// Linked reports whether the submission continues into the next one.
func (s SQE) Linked() bool {
	return s.Flags&(SQELink|SQEHardLink) != 0
}
