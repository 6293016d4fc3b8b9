package aio

import (
	"context"
	"errors"
	"syscall"
	"testing"
)

func TestStructuredError(t *testing.T) {
	// Test basic error creation
	err := NewError("CREATE_CONTEXT", ErrCodeInvalidParameters, "ring size too large")

	if err.Op != "CREATE_CONTEXT" {
		t.Errorf("Expected Op=CREATE_CONTEXT, got %s", err.Op)
	}

	if err.Code != ErrCodeInvalidParameters {
		t.Errorf("Expected Code=ErrCodeInvalidParameters, got %s", err.Code)
	}

	expected := "aio: ring size too large (op=CREATE_CONTEXT)"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestContextError(t *testing.T) {
	err := NewContextError("SUBMIT", 3, ErrCodeRingFull, "")

	expected := "aio: submission ring full (op=SUBMIT, ctx=3)"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}

	if !errors.Is(err, ErrRingFull) {
		t.Error("Context error should match ErrRingFull")
	}
}

func TestWrapError(t *testing.T) {
	inner := syscall.EBADF
	err := WrapError("CLOSE", inner)

	if err.Code != ErrCodeBadDescriptor {
		t.Errorf("Expected Code=ErrCodeBadDescriptor, got %s", err.Code)
	}

	if err.Errno != syscall.EBADF {
		t.Errorf("Expected Errno=EBADF, got %v", err.Errno)
	}

	if !errors.Is(err, syscall.EBADF) {
		t.Error("Expected wrapped error to satisfy errors.Is for EBADF")
	}

	if WrapError("CLOSE", nil) != nil {
		t.Error("Wrapping nil should return nil")
	}
}

func TestWrapStructuredError(t *testing.T) {
	inner := NewContextError("SUBMIT", 7, ErrCodeRingFull, "full")
	err := WrapError("PROCESS", inner)

	if err.Op != "PROCESS" {
		t.Errorf("Expected Op=PROCESS, got %s", err.Op)
	}
	if err.Context != 7 || err.Code != ErrCodeRingFull {
		t.Errorf("Expected context and code to be preserved, got ctx=%d code=%s", err.Context, err.Code)
	}
	if inner.Op != "SUBMIT" {
		t.Error("Wrapping should not modify the inner error")
	}
}

func TestWrapPlainError(t *testing.T) {
	err := WrapError("SERVE", context.Canceled)

	if err.Code != ErrCodeIOError {
		t.Errorf("Expected Code=ErrCodeIOError, got %s", err.Code)
	}
	if !errors.Is(err, context.Canceled) {
		t.Error("Expected wrapped error to satisfy errors.Is for context.Canceled")
	}
}

func TestSentinelErrors(t *testing.T) {
	// Sentinel errors work with errors.Is
	var sentinelErr error = ErrContextNotFound

	// Structured error should match sentinel by code
	structuredErr := &Error{Code: ErrCodeContextNotFound}

	if !errors.Is(structuredErr, ErrContextNotFound) {
		t.Error("Structured error should match sentinel via errors.Is")
	}

	if errors.Is(structuredErr, ErrRingFull) {
		t.Error("Structured error should not match a different sentinel")
	}

	// Sentinel error message
	if sentinelErr.Error() != "aio: context not found" {
		t.Errorf("Expected sentinel error message, got %q", sentinelErr.Error())
	}

	// Wrapped errors should match sentinel
	wrappedErr := WrapError("TEST_OP", syscall.ETIME)
	if !errors.Is(wrappedErr, ErrTimeout) {
		t.Error("Wrapped ETIME should match ErrTimeout")
	}
}

func TestIsCode(t *testing.T) {
	err := NewError("TEST", ErrCodeTimeout, "operation timed out")

	if !IsCode(err, ErrCodeTimeout) {
		t.Error("IsCode should return true for matching code")
	}

	if IsCode(err, ErrCodeIOError) {
		t.Error("IsCode should return false for non-matching code")
	}

	// Test with nil error
	if IsCode(nil, ErrCodeTimeout) {
		t.Error("IsCode should return false for nil error")
	}
}

func TestIsErrno(t *testing.T) {
	// Create error with errno via WrapError
	err := WrapError("TEST", syscall.EIO)

	if !IsErrno(err, syscall.EIO) {
		t.Error("IsErrno should return true for matching errno")
	}

	if IsErrno(err, syscall.EPERM) {
		t.Error("IsErrno should return false for non-matching errno")
	}

	// Test with nil error
	if IsErrno(nil, syscall.EIO) {
		t.Error("IsErrno should return false for nil error")
	}
}

func TestErrnoMapping(t *testing.T) {
	testCases := []struct {
		errno    syscall.Errno
		expected ErrorCode
	}{
		{syscall.EAGAIN, ErrCodeRingFull},
		{syscall.ENOENT, ErrCodeContextNotFound},
		{syscall.EINVAL, ErrCodeInvalidParameters},
		{syscall.EFAULT, ErrCodeInvalidParameters},
		{syscall.EOPNOTSUPP, ErrCodeNotSupported},
		{syscall.EBADF, ErrCodeBadDescriptor},
		{syscall.ECANCELED, ErrCodeCancelled},
		{syscall.ETIME, ErrCodeTimeout},
		{syscall.ETIMEDOUT, ErrCodeTimeout},
		{syscall.ENOSPC, ErrCodeIOError},
	}

	for _, tc := range testCases {
		code := mapErrnoToCode(tc.errno)
		if code != tc.expected {
			t.Errorf("mapErrnoToCode(%v) = %s, want %s", tc.errno, code, tc.expected)
		}
	}
}

func TestCompletionError(t *testing.T) {
	if err := CompletionError(CQE{UserData: 1, Res: 4096}); err != nil {
		t.Errorf("Successful completion should give nil, got %v", err)
	}

	err := CompletionError(CQE{UserData: 1, Res: -int64(syscall.ECANCELED)})
	if !IsCode(err, ErrCodeCancelled) {
		t.Errorf("Expected cancelled code, got %v", err)
	}
	if !errors.Is(err, syscall.ECANCELED) {
		t.Error("Completion error should unwrap to the errno")
	}
}
