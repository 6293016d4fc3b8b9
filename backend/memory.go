// Package backend provides standard go-aio backend implementations
package backend

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/btree"

	"github.com/ehrlich-b/go-aio/internal/bufpool"
	"github.com/ehrlich-b/go-aio/internal/interfaces"
	"github.com/ehrlich-b/go-aio/internal/uapi"
)

// firstAddr is where Alloc starts handing out addresses. Zero stays unmapped
// so a null address never resolves.
const (
	firstAddr = 0x10000
	pageSize  = 4096
)

type region struct {
	start uint64
	buf   []byte
}

func (r region) end() uint64 {
	return r.start + uint64(len(r.buf))
}

// Memory is a RAM-based backend with its own address space. Buffers are
// mapped at addresses that submissions then refer to, and files are byte
// slices keyed by descriptor.
type Memory struct {
	mu       sync.RWMutex
	regions  *btree.BTreeG[region]
	nextAddr uint64
	files    map[int32][]byte
	nextFD   int32

	reads  atomic.Uint64
	writes atomic.Uint64
	syncs  atomic.Uint64
}

// NewMemory creates an empty memory backend.
func NewMemory() *Memory {
	return &Memory{
		regions: btree.NewG(16, func(a, b region) bool {
			return a.start < b.start
		}),
		nextAddr: firstAddr,
		files:    make(map[int32][]byte),
		nextFD:   3,
	}
}

// Map makes buf addressable at addr. The range must not overlap an existing
// mapping. buf is used in place, not copied.
func (m *Memory) Map(addr uint64, buf []byte) error {
	if addr == 0 || len(buf) == 0 {
		return uapi.EINVAL
	}
	r := region{start: addr, buf: buf}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.overlaps(r) {
		return fmt.Errorf("map %#x+%d: %w", addr, len(buf), uapi.EEXIST)
	}
	m.regions.ReplaceOrInsert(r)
	if r.end() > m.nextAddr {
		m.nextAddr = alignUp(r.end())
	}
	return nil
}

// Alloc maps a fresh zeroed buffer of size bytes and returns its address.
func (m *Memory) Alloc(size int) (uint64, []byte) {
	buf := make([]byte, size)
	m.mu.Lock()
	defer m.mu.Unlock()
	addr := m.nextAddr
	m.regions.ReplaceOrInsert(region{start: addr, buf: buf})
	m.nextAddr = alignUp(addr + uint64(size) + 1)
	return addr, buf
}

// Unmap removes the mapping that starts at addr.
func (m *Memory) Unmap(addr uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.regions.Delete(region{start: addr})
	return ok
}

func alignUp(addr uint64) uint64 {
	return (addr + pageSize - 1) &^ (pageSize - 1)
}

func (m *Memory) overlaps(r region) bool {
	hit := false
	m.regions.DescendLessOrEqual(region{start: r.end() - 1}, func(prev region) bool {
		hit = prev.end() > r.start
		return false
	})
	return hit
}

// slice resolves [addr, addr+n) to the backing bytes. Caller holds mu.
func (m *Memory) slice(addr uint64, n uint64) ([]byte, error) {
	var found region
	ok := false
	m.regions.DescendLessOrEqual(region{start: addr}, func(r region) bool {
		found, ok = r, true
		return false
	})
	if !ok || addr+n > found.end() || addr+n < addr {
		return nil, uapi.EFAULT
	}
	off := addr - found.start
	return found.buf[off : off+n], nil
}

// Open creates a file of size bytes and returns its descriptor.
func (m *Memory) Open(size int) int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	fd := m.nextFD
	m.nextFD++
	m.files[fd] = make([]byte, size)
	return fd
}

// File returns the contents of fd. The slice aliases the file.
func (m *Memory) File(fd int32) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[fd]
	return data, ok
}

// ReadAt implements interfaces.Backend. Reads past end of file are short.
func (m *Memory) ReadAt(fd int32, addr uint64, length uint32, off uint64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.files[fd]
	if !ok {
		return 0, uapi.EBADF
	}
	dst, err := m.slice(addr, uint64(length))
	if err != nil {
		return 0, err
	}
	m.reads.Add(1)
	if off >= uint64(len(data)) {
		return 0, nil
	}
	return copy(dst, data[off:]), nil
}

// WriteAt implements interfaces.Backend. Files do not grow; a write that
// starts past the end fails with ENOSPC and one that crosses it is short.
func (m *Memory) WriteAt(fd int32, addr uint64, length uint32, off uint64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.files[fd]
	if !ok {
		return 0, uapi.EBADF
	}
	src, err := m.slice(addr, uint64(length))
	if err != nil {
		return 0, err
	}
	if off >= uint64(len(data)) {
		return 0, uapi.ENOSPC
	}
	m.writes.Add(1)
	return copy(data[off:], src), nil
}

// iovecs decodes the iovec array at iov. Caller holds mu.
func (m *Memory) iovecs(iov uint64, iovcnt uint32) ([]uapi.Iovec, error) {
	raw, err := m.slice(iov, uint64(iovcnt)*uapi.IovecSize)
	if err != nil {
		return nil, err
	}
	return uapi.UnmarshalIovecs(raw, int(iovcnt))
}

// ReadvAt implements interfaces.VectorBackend.
func (m *Memory) ReadvAt(fd int32, iov uint64, iovcnt uint32, off uint64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.files[fd]
	if !ok {
		return 0, uapi.EBADF
	}
	vecs, err := m.iovecs(iov, iovcnt)
	if err != nil {
		return 0, err
	}
	m.reads.Add(1)

	total := 0
	for _, v := range vecs {
		dst, err := m.slice(v.Base, v.Len)
		if err != nil {
			return 0, err
		}
		if off >= uint64(len(data)) {
			break
		}
		n := copy(dst, data[off:])
		total += n
		off += uint64(n)
	}
	return total, nil
}

// WritevAt implements interfaces.VectorBackend. Segments are gathered into
// one buffer first so the file sees a single write.
func (m *Memory) WritevAt(fd int32, iov uint64, iovcnt uint32, off uint64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.files[fd]
	if !ok {
		return 0, uapi.EBADF
	}
	vecs, err := m.iovecs(iov, iovcnt)
	if err != nil {
		return 0, err
	}
	if off >= uint64(len(data)) {
		return 0, uapi.ENOSPC
	}

	// Resolve every segment before sizing the gather buffer. The buffer
	// never exceeds what the file can take.
	srcs := make([][]byte, len(vecs))
	var total uint64
	for i, v := range vecs {
		src, err := m.slice(v.Base, v.Len)
		if err != nil {
			return 0, err
		}
		if total+uint64(len(src)) < total {
			return 0, uapi.EINVAL
		}
		total += uint64(len(src))
		srcs[i] = src
	}
	if room := uint64(len(data)) - off; total > room {
		total = room
	}

	buf := bufpool.Get(int(total))
	defer bufpool.Put(buf)
	pos := 0
	for _, src := range srcs {
		if pos == len(buf) {
			break
		}
		pos += copy(buf[pos:], src)
	}

	m.writes.Add(1)
	return copy(data[off:], buf[:pos]), nil
}

// Sync implements interfaces.Backend. Memory needs no flushing.
func (m *Memory) Sync(fd int32, datasync bool) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.files[fd]; !ok {
		return uapi.EBADF
	}
	m.syncs.Add(1)
	return nil
}

// Close implements interfaces.Backend. The file's contents are dropped.
func (m *Memory) Close(fd int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[fd]; !ok {
		return uapi.EBADF
	}
	delete(m.files, fd)
	return nil
}

// Stats implements interfaces.StatBackend
func (m *Memory) Stats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"type":    "memory",
		"files":   len(m.files),
		"regions": m.regions.Len(),
		"reads":   m.reads.Load(),
		"writes":  m.writes.Load(),
		"syncs":   m.syncs.Load(),
	}
}

// Compile-time interface checks
var (
	_ interfaces.Backend       = (*Memory)(nil)
	_ interfaces.VectorBackend = (*Memory)(nil)
	_ interfaces.StatBackend   = (*Memory)(nil)
)
