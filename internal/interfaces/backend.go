// Package interfaces defines how executor handlers reach storage, sockets
// and asynchronous event sources. Addresses are opaque to the executor; each
// backend decides what address space they refer to.
package interfaces

import (
	"errors"

	"github.com/ehrlich-b/go-aio/internal/uapi"
)

// ErrExternal is returned by AsyncBackend.Arm for operations it does not
// handle. The operation stays pending and its completion must be injected
// by whoever owns the event it waits for.
var ErrExternal = errors.New("completion left to an external source")

// Backend is the minimum every backend implements: plain transfers, sync and
// close. Methods return a byte count and an error; a syscall.Errno error is
// reported to the submitter as-is, anything else as EIO.
type Backend interface {
	// ReadAt reads length bytes at offset off of fd into the buffer at addr.
	ReadAt(fd int32, addr uint64, length uint32, off uint64) (int, error)

	// WriteAt writes length bytes from the buffer at addr to fd at offset off.
	WriteAt(fd int32, addr uint64, length uint32, off uint64) (int, error)

	// Sync flushes fd to stable storage. datasync skips metadata.
	Sync(fd int32, datasync bool) error

	// Close releases fd.
	Close(fd int32) error
}

// VectorBackend is an optional interface for scatter/gather transfers.
// iov is the address of an array of iovcnt uapi.Iovec entries.
type VectorBackend interface {
	Backend

	ReadvAt(fd int32, iov uint64, iovcnt uint32, off uint64) (int, error)
	WritevAt(fd int32, iov uint64, iovcnt uint32, off uint64) (int, error)
}

// SocketBackend is an optional interface for synchronous message sends.
type SocketBackend interface {
	Backend

	// SendMsg sends the message described by the msghdr at msg. length is
	// the payload size the submitter expects to move.
	SendMsg(fd int32, msg uint64, length uint32, flags uint32) (int, error)
}

// AsyncBackend accepts operations that complete later: poll, timeout,
// accept, connect and recvmsg.
//
// Arm must not block. complete is called exactly once, from any goroutine,
// with the final completion; it is not called if Arm returns an error.
// Arm may call complete before returning.
type AsyncBackend interface {
	Arm(sqe uapi.SQE, complete func(uapi.CQE)) error

	// Cancel stops an armed operation by token. The completion is still
	// delivered, with -ECANCELED. Returns false if nothing was armed.
	Cancel(userData uint64) bool
}

// StatBackend is an optional interface that provides backend statistics.
type StatBackend interface {
	Stats() map[string]interface{}
}

// Shutdowner is implemented by backends that hold resources beyond their
// descriptors. The subsystem calls Shutdown when it closes.
type Shutdowner interface {
	Shutdown() error
}
