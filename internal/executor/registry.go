package executor

import "github.com/ehrlich-b/go-aio/internal/uapi"

// RegisterFiles replaces the fixed file table. Negative entries are empty
// slots. The table is copied.
func (e *Executor) RegisterFiles(fds []int32) error {
	e.files = append(e.files[:0:0], fds...)
	return nil
}

// UnregisterFiles clears the fixed file table.
func (e *Executor) UnregisterFiles() {
	e.files = nil
}

// RegisterBuffers replaces the fixed buffer table. The table is copied.
func (e *Executor) RegisterBuffers(bufs []Buffer) error {
	e.buffers = append(e.buffers[:0:0], bufs...)
	return nil
}

// UnregisterBuffers clears the fixed buffer table.
func (e *Executor) UnregisterBuffers() {
	e.buffers = nil
}

// Files returns the number of fixed file slots.
func (e *Executor) Files() int {
	return len(e.files)
}

// Buffers returns the number of fixed buffers.
func (e *Executor) Buffers() int {
	return len(e.buffers)
}

// fixedFile maps a fixed file index to a descriptor, or -1.
func (e *Executor) fixedFile(idx int32) int32 {
	if idx < 0 || int(idx) >= len(e.files) {
		return -1
	}
	return e.files[idx]
}

// selectBuffer points sqe at its registered buffer. An unset address or
// length defaults to the whole buffer and the length never exceeds it.
func (e *Executor) selectBuffer(sqe *uapi.SQE) bool {
	if int(sqe.BufIndex) >= len(e.buffers) {
		return false
	}
	buf := e.buffers[sqe.BufIndex]
	if sqe.Addr == 0 {
		sqe.Addr = buf.Addr
	}
	if sqe.Addr < buf.Addr || sqe.Addr-buf.Addr >= uint64(buf.Len) {
		return false
	}
	avail := buf.Len - uint32(sqe.Addr-buf.Addr)
	if sqe.Len == 0 || sqe.Len > avail {
		sqe.Len = avail
	}
	return true
}
