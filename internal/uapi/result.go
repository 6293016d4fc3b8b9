package uapi

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

// Errno is a positive error number carried negated in CQE.Res.
type Errno = syscall.Errno

// Error codes produced by the executor and the bundled backends
const (
	EBADF      = unix.EBADF
	EINVAL     = unix.EINVAL
	EOPNOTSUPP = unix.EOPNOTSUPP
	ECANCELED  = unix.ECANCELED
	ETIME      = unix.ETIME
	EIO        = unix.EIO
	EAGAIN     = unix.EAGAIN
	EFAULT     = unix.EFAULT
	EEXIST     = unix.EEXIST
	ENOSPC     = unix.ENOSPC
)

// ResultKind tags a Result.
type ResultKind uint8

const (
	ResultSuccess ResultKind = iota // bare success, encodes as 0
	ResultBytes                     // byte count
	ResultError                     // negated errno
	ResultPending                   // completion produced later, out of band
)

// Result is the outcome of one handler. Pending results have no numeric encoding.
type Result struct {
	Kind  ResultKind
	N     int64
	Errno Errno
}

// Success is a bare success.
func Success() Result { return Result{Kind: ResultSuccess} }

// Bytes is a successful transfer of n bytes.
func Bytes(n int64) Result { return Result{Kind: ResultBytes, N: n} }

// Fail is a failure with errno.
func Fail(errno Errno) Result { return Result{Kind: ResultError, Errno: errno} }

// Pending defers the completion.
func Pending() Result { return Result{Kind: ResultPending} }

// FromError converts a backend (n, err) pair.
func FromError(n int, err error) Result {
	if err != nil {
		return Fail(ErrnoOf(err))
	}
	return Bytes(int64(n))
}

// OK reports whether the result is a success of either kind.
func (r Result) OK() bool {
	return r.Kind == ResultSuccess || r.Kind == ResultBytes
}

// IsPending reports whether the completion is deferred.
func (r Result) IsPending() bool {
	return r.Kind == ResultPending
}

// Code encodes the result for CQE.Res. Pending encodes as 0 but must never
// be placed in a completion.
func (r Result) Code() int64 {
	switch r.Kind {
	case ResultBytes:
		return r.N
	case ResultError:
		return -int64(r.Errno)
	default:
		return 0
	}
}

// Complete builds the completion for a resolved result.
func (r Result) Complete(userData uint64) CQE {
	return CQE{UserData: userData, Res: r.Code()}
}

// ErrnoOf maps an error to an errno. Wrapped syscall.Errno values are kept,
// everything else becomes EIO.
func ErrnoOf(err error) Errno {
	if err == nil {
		return 0
	}
	var errno syscall.Errno
	if errors.As(err, &errno) && errno != 0 {
		return errno
	}
	return EIO
}
