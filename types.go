// Package aio is an io_uring-style asynchronous I/O subsystem.
//
// Producers push submission descriptors onto a Context's submission ring
// (or a shared work queue), the Subsystem dispatches them to an executor,
// and completions come back on the Context's completion ring carrying the
// submitter's correlation token.
//
// Example:
//
//	sub, _ := aio.NewSubsystem(aio.DefaultParams(), &aio.Options{Backend: backend.NewMemory()})
//	ctx, _ := sub.CreateContext(64)
//	ctx.Submit(aio.Read(fd, addr, 4096, 0, 1))
//	sub.Process()
//	cqe, ok := ctx.PollCompletion()
package aio

import (
	"github.com/ehrlich-b/go-aio/internal/constants"
	"github.com/ehrlich-b/go-aio/internal/executor"
	"github.com/ehrlich-b/go-aio/internal/interfaces"
	"github.com/ehrlich-b/go-aio/internal/ring"
	"github.com/ehrlich-b/go-aio/internal/uapi"
)

// Descriptor types
type (
	SQE      = uapi.SQE
	CQE      = uapi.CQE
	Opcode   = uapi.Opcode
	SQEFlags = uapi.SQEFlags
	CQEFlags = uapi.CQEFlags
	Iovec    = uapi.Iovec
	Errno    = uapi.Errno
	Buffer   = executor.Buffer
)

// Backend interfaces
type (
	Backend       = interfaces.Backend
	VectorBackend = interfaces.VectorBackend
	SocketBackend = interfaces.SocketBackend
	AsyncBackend  = interfaces.AsyncBackend
	StatBackend   = interfaces.StatBackend
	Shutdowner    = interfaces.Shutdowner
)

// ErrExternal marks asynchronous operations completed through Subsystem.Complete
var ErrExternal = interfaces.ErrExternal

// Opcodes
const (
	OpNop     = uapi.OpNop
	OpRead    = uapi.OpRead
	OpWrite   = uapi.OpWrite
	OpReadv   = uapi.OpReadv
	OpWritev  = uapi.OpWritev
	OpFsync   = uapi.OpFsync
	OpPollAdd = uapi.OpPollAdd
	OpTimeout = uapi.OpTimeout
	OpClose   = uapi.OpClose
	OpAccept  = uapi.OpAccept
	OpConnect = uapi.OpConnect
	OpSendMsg = uapi.OpSendMsg
	OpRecvMsg = uapi.OpRecvMsg
)

// Submission flags
const (
	SQEFixedFile    = uapi.SQEFixedFile
	SQEDrain        = uapi.SQEDrain
	SQELink         = uapi.SQELink
	SQEHardLink     = uapi.SQEHardLink
	SQEAsync        = uapi.SQEAsync
	SQEBufferSelect = uapi.SQEBufferSelect
)

// Completion error codes
const (
	EBADF      = uapi.EBADF
	EINVAL     = uapi.EINVAL
	EOPNOTSUPP = uapi.EOPNOTSUPP
	ECANCELED  = uapi.ECANCELED
	ETIME      = uapi.ETIME
	EIO        = uapi.EIO
	EAGAIN     = uapi.EAGAIN
	EFAULT     = uapi.EFAULT
	ENOSPC     = uapi.ENOSPC
)

// Re-export constants for public API
const (
	DefaultRingSize     = constants.DefaultRingSize
	MaxRingSize         = constants.MaxRingSize
	DefaultWorkers      = constants.DefaultWorkers
	DefaultPollInterval = constants.DefaultPollInterval
	DefaultIdleBackoff  = constants.DefaultIdleBackoff
)

// Submission constructors
var (
	Nop     = uapi.Nop
	Read    = uapi.Read
	Write   = uapi.Write
	Readv   = uapi.Readv
	Writev  = uapi.Writev
	Fsync   = uapi.Fsync
	PollAdd = uapi.PollAdd
	Timeout = uapi.Timeout
	Close   = uapi.Close
	Accept  = uapi.Accept
	Connect = uapi.Connect
	SendMsg = uapi.SendMsg
	RecvMsg = uapi.RecvMsg
)

// Iovec array encoding
var (
	MarshalIovecs   = uapi.MarshalIovecs
	UnmarshalIovecs = uapi.UnmarshalIovecs
)

// SubmissionRing is an SPSC ring of submissions.
type SubmissionRing = ring.Ring[SQE]

// CompletionRing is an SPSC ring of completions.
type CompletionRing = ring.Ring[CQE]

// NewSubmissionRing creates a submission ring of at least capacity entries.
func NewSubmissionRing(capacity uint32) *SubmissionRing {
	return ring.New(capacity, uapi.Nop(0))
}

// NewCompletionRing creates a completion ring of at least capacity entries.
func NewCompletionRing(capacity uint32) *CompletionRing {
	return ring.New(capacity, CQE{})
}

func newRings(capacity uint32, checked bool) (*SubmissionRing, *CompletionRing) {
	if checked {
		return ring.NewChecked(capacity, uapi.Nop(0)), ring.NewChecked(capacity, CQE{})
	}
	return NewSubmissionRing(capacity), NewCompletionRing(capacity)
}
