package aio

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// Error represents a structured subsystem error with context and errno mapping
type Error struct {
	Op      string        // Operation that failed (e.g., "SUBMIT", "CREATE_CONTEXT")
	Context uint64        // I/O context id (0 if not applicable)
	Code    ErrorCode     // High-level error category
	Errno   syscall.Errno // errno (0 if not applicable)
	Msg     string        // Human-readable message
	Inner   error         // Wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, "op="+e.Op)
	}
	if e.Context != 0 {
		parts = append(parts, fmt.Sprintf("ctx=%d", e.Context))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", int(e.Errno)))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if len(parts) > 0 {
		return fmt.Sprintf("aio: %s (%s)", msg, strings.Join(parts, ", "))
	}
	return "aio: " + msg
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is matches sentinels and other structured errors by code
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case Sentinel:
		return e.Code == ErrorCode(t)
	case *Error:
		return e.Code == t.Code
	}
	return false
}

// ErrorCode represents high-level error categories
type ErrorCode string

const (
	ErrCodeRingFull          ErrorCode = "submission ring full"
	ErrCodeContextNotFound   ErrorCode = "context not found"
	ErrCodeInvalidParameters ErrorCode = "invalid parameters"
	ErrCodeClosed            ErrorCode = "subsystem closed"
	ErrCodeNotSupported      ErrorCode = "operation not supported"
	ErrCodeBadDescriptor     ErrorCode = "bad file descriptor"
	ErrCodeCancelled         ErrorCode = "operation cancelled"
	ErrCodeTimeout           ErrorCode = "timeout"
	ErrCodeIOError           ErrorCode = "I/O error"
)

// Sentinel is a comparable error value matching an ErrorCode
type Sentinel string

func (e Sentinel) Error() string {
	return "aio: " + string(e)
}

// Sentinel errors for errors.Is
const (
	ErrRingFull          Sentinel = Sentinel(ErrCodeRingFull)
	ErrContextNotFound   Sentinel = Sentinel(ErrCodeContextNotFound)
	ErrInvalidParameters Sentinel = Sentinel(ErrCodeInvalidParameters)
	ErrClosed            Sentinel = Sentinel(ErrCodeClosed)
	ErrNotSupported      Sentinel = Sentinel(ErrCodeNotSupported)
	ErrTimeout           Sentinel = Sentinel(ErrCodeTimeout)
)

// NewError creates a new structured error
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewContextError creates an error tied to one I/O context
func NewContextError(op string, ctxID uint64, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Context: ctxID, Code: code, Msg: msg}
}

// WrapError wraps an existing error with subsystem context
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	var se *Error
	if errors.As(inner, &se) {
		wrapped := *se
		wrapped.Op = op
		return &wrapped
	}

	var errno syscall.Errno
	if errors.As(inner, &errno) {
		return &Error{
			Op:    op,
			Code:  mapErrnoToCode(errno),
			Errno: errno,
			Msg:   errno.Error(),
			Inner: inner,
		}
	}

	return &Error{
		Op:    op,
		Code:  ErrCodeIOError,
		Msg:   inner.Error(),
		Inner: inner,
	}
}

// mapErrnoToCode maps errno values to error categories
func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.EAGAIN, syscall.EBUSY:
		return ErrCodeRingFull
	case syscall.ENOENT:
		return ErrCodeContextNotFound
	case syscall.EINVAL, syscall.EFAULT:
		return ErrCodeInvalidParameters
	case syscall.ENOSYS, syscall.EOPNOTSUPP:
		return ErrCodeNotSupported
	case syscall.EBADF:
		return ErrCodeBadDescriptor
	case syscall.ECANCELED:
		return ErrCodeCancelled
	case syscall.ETIME, syscall.ETIMEDOUT:
		return ErrCodeTimeout
	default:
		return ErrCodeIOError
	}
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code ErrorCode) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsErrno checks if an error carries a specific errno
func IsErrno(err error, errno syscall.Errno) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Errno == errno
	}
	return false
}

// CompletionError converts a failed completion into an error, or nil on success
func CompletionError(cqe CQE) error {
	if cqe.Res >= 0 {
		return nil
	}
	return WrapError("COMPLETE", cqe.Errno())
}
