package backend

import (
	"sync/atomic"

	"github.com/ehrlich-b/go-aio/internal/constants"
	"github.com/ehrlich-b/go-aio/internal/interfaces"
)

// Null accepts every operation and moves no data. Transfers report the
// requested size: Len bytes for read, write and sendmsg, and one
// VectorSegmentSize per iovec for readv and writev. Useful for measuring
// dispatch overhead.
type Null struct {
	ops atomic.Uint64
}

// NewNull creates a Null backend.
func NewNull() *Null {
	return &Null{}
}

func (n *Null) ReadAt(fd int32, addr uint64, length uint32, off uint64) (int, error) {
	n.ops.Add(1)
	return int(length), nil
}

func (n *Null) WriteAt(fd int32, addr uint64, length uint32, off uint64) (int, error) {
	n.ops.Add(1)
	return int(length), nil
}

func (n *Null) ReadvAt(fd int32, iov uint64, iovcnt uint32, off uint64) (int, error) {
	n.ops.Add(1)
	return int(iovcnt) * constants.VectorSegmentSize, nil
}

func (n *Null) WritevAt(fd int32, iov uint64, iovcnt uint32, off uint64) (int, error) {
	n.ops.Add(1)
	return int(iovcnt) * constants.VectorSegmentSize, nil
}

func (n *Null) SendMsg(fd int32, msg uint64, length uint32, flags uint32) (int, error) {
	n.ops.Add(1)
	return int(length), nil
}

func (n *Null) Sync(fd int32, datasync bool) error {
	n.ops.Add(1)
	return nil
}

func (n *Null) Close(fd int32) error {
	n.ops.Add(1)
	return nil
}

// Stats implements interfaces.StatBackend
func (n *Null) Stats() map[string]interface{} {
	return map[string]interface{}{
		"type": "null",
		"ops":  n.ops.Load(),
	}
}

var (
	_ interfaces.VectorBackend = (*Null)(nil)
	_ interfaces.SocketBackend = (*Null)(nil)
	_ interfaces.StatBackend   = (*Null)(nil)
)
