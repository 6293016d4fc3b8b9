package aio

import (
	"math"
	"sync"

	"github.com/ehrlich-b/go-aio/internal/uapi"
)

// MaxMockFileSize bounds how far a MockBackend file may grow. Writes that
// would end beyond it fail with ENOSPC.
const MaxMockFileSize = 64 << 20

// MockBackend provides a mock implementation of Backend for testing.
// Addresses index one flat memory slice; files are byte slices keyed by
// descriptor. It implements the optional vector, socket and stat interfaces
// and tracks method calls for verification.
type MockBackend struct {
	mem   []byte
	files map[int32][]byte
	stats map[string]interface{}
	fail  map[string]Errno

	// Method call tracking
	mu         sync.RWMutex
	readCalls  int
	writeCalls int
	syncCalls  int
	closeCalls int
	sendCalls  int
	sent       [][]byte
}

// NewMockBackend creates a mock backend with memSize bytes of addressable
// memory. This is useful for unit testing code built on the subsystem.
func NewMockBackend(memSize int) *MockBackend {
	return &MockBackend{
		mem:   make([]byte, memSize),
		files: make(map[int32][]byte),
		stats: make(map[string]interface{}),
		fail:  make(map[string]Errno),
	}
}

// AddFile installs data as the contents of fd
func (m *MockBackend) AddFile(fd int32, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[fd] = data
}

// File returns the contents of fd
func (m *MockBackend) File(fd int32) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.files[fd]
}

// Memory returns the addressable memory
func (m *MockBackend) Memory() []byte {
	return m.mem
}

// FailNext makes the next call of the named method ("read", "write",
// "sync", "close", "send") fail with errno
func (m *MockBackend) FailNext(method string, errno Errno) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[method] = errno
}

func (m *MockBackend) injected(method string) error {
	if errno, ok := m.fail[method]; ok {
		delete(m.fail, method)
		return errno
	}
	return nil
}

func (m *MockBackend) span(addr uint64, n uint64) ([]byte, error) {
	if addr > uint64(len(m.mem)) || n > uint64(len(m.mem))-addr {
		return nil, uapi.EFAULT
	}
	return m.mem[addr : addr+n], nil
}

// ReadAt implements the Backend interface
func (m *MockBackend) ReadAt(fd int32, addr uint64, length uint32, off uint64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.readCalls++
	if err := m.injected("read"); err != nil {
		return 0, err
	}
	return m.readLocked(fd, addr, length, off)
}

func (m *MockBackend) readLocked(fd int32, addr uint64, length uint32, off uint64) (int, error) {
	data, ok := m.files[fd]
	if !ok {
		return 0, uapi.EBADF
	}
	dst, err := m.span(addr, uint64(length))
	if err != nil {
		return 0, err
	}
	if off >= uint64(len(data)) {
		return 0, nil
	}
	return copy(dst, data[off:]), nil
}

// WriteAt implements the Backend interface. Files grow to fit.
func (m *MockBackend) WriteAt(fd int32, addr uint64, length uint32, off uint64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.writeCalls++
	if err := m.injected("write"); err != nil {
		return 0, err
	}
	return m.writeLocked(fd, addr, length, off)
}

func (m *MockBackend) writeLocked(fd int32, addr uint64, length uint32, off uint64) (int, error) {
	data, ok := m.files[fd]
	if !ok {
		return 0, uapi.EBADF
	}
	src, err := m.span(addr, uint64(length))
	if err != nil {
		return 0, err
	}
	end := off + uint64(length)
	if end < off || end > MaxMockFileSize {
		return 0, uapi.ENOSPC
	}
	if end > uint64(len(data)) {
		grown := make([]byte, end)
		copy(grown, data)
		data = grown
		m.files[fd] = data
	}
	return copy(data[off:], src), nil
}

func (m *MockBackend) iovecs(iov uint64, iovcnt uint32) ([]Iovec, error) {
	raw, err := m.span(iov, uint64(iovcnt)*uapi.IovecSize)
	if err != nil {
		return nil, err
	}
	vecs, err := uapi.UnmarshalIovecs(raw, int(iovcnt))
	if err != nil {
		return nil, err
	}
	for _, v := range vecs {
		if v.Len > math.MaxUint32 {
			return nil, uapi.EINVAL
		}
	}
	return vecs, nil
}

// ReadvAt implements the VectorBackend interface
func (m *MockBackend) ReadvAt(fd int32, iov uint64, iovcnt uint32, off uint64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.readCalls++
	if err := m.injected("read"); err != nil {
		return 0, err
	}
	vecs, err := m.iovecs(iov, iovcnt)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, v := range vecs {
		n, err := m.readLocked(fd, v.Base, uint32(v.Len), off)
		total += n
		off += uint64(n)
		if err != nil {
			return total, err
		}
		if n < int(v.Len) {
			break
		}
	}
	return total, nil
}

// WritevAt implements the VectorBackend interface
func (m *MockBackend) WritevAt(fd int32, iov uint64, iovcnt uint32, off uint64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.writeCalls++
	if err := m.injected("write"); err != nil {
		return 0, err
	}
	vecs, err := m.iovecs(iov, iovcnt)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, v := range vecs {
		n, err := m.writeLocked(fd, v.Base, uint32(v.Len), off)
		total += n
		off += uint64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// SendMsg implements the SocketBackend interface. The payload at msg is
// recorded and can be read back with Sent.
func (m *MockBackend) SendMsg(fd int32, msg uint64, length uint32, flags uint32) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sendCalls++
	if err := m.injected("send"); err != nil {
		return 0, err
	}
	payload, err := m.span(msg, uint64(length))
	if err != nil {
		return 0, err
	}
	m.sent = append(m.sent, append([]byte(nil), payload...))
	return int(length), nil
}

// Sync implements the Backend interface
func (m *MockBackend) Sync(fd int32, datasync bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.syncCalls++
	if err := m.injected("sync"); err != nil {
		return err
	}
	if _, ok := m.files[fd]; !ok {
		return uapi.EBADF
	}
	return nil
}

// Close implements the Backend interface
func (m *MockBackend) Close(fd int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeCalls++
	if err := m.injected("close"); err != nil {
		return err
	}
	if _, ok := m.files[fd]; !ok {
		return uapi.EBADF
	}
	delete(m.files, fd)
	return nil
}

// Stats implements the StatBackend interface
func (m *MockBackend) Stats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]interface{})
	for k, v := range m.stats {
		stats[k] = v
	}

	stats["read_calls"] = m.readCalls
	stats["write_calls"] = m.writeCalls
	stats["sync_calls"] = m.syncCalls
	stats["close_calls"] = m.closeCalls
	stats["send_calls"] = m.sendCalls

	return stats
}

// Testing utility methods

// Sent returns the payloads passed to SendMsg, in order
func (m *MockBackend) Sent() [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([][]byte(nil), m.sent...)
}

// CallCounts returns the number of times each method has been called
func (m *MockBackend) CallCounts() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]int{
		"read":  m.readCalls,
		"write": m.writeCalls,
		"sync":  m.syncCalls,
		"close": m.closeCalls,
		"send":  m.sendCalls,
	}
}

// Reset resets all call counters and pending failures
func (m *MockBackend) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.readCalls = 0
	m.writeCalls = 0
	m.syncCalls = 0
	m.closeCalls = 0
	m.sendCalls = 0
	m.sent = nil
	m.fail = make(map[string]Errno)
}

// SetCustomStats allows setting custom statistics for testing
func (m *MockBackend) SetCustomStats(stats map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats = make(map[string]interface{})
	for k, v := range stats {
		m.stats[k] = v
	}
}

// Compile-time interface checks
var (
	_ Backend       = (*MockBackend)(nil)
	_ VectorBackend = (*MockBackend)(nil)
	_ SocketBackend = (*MockBackend)(nil)
	_ StatBackend   = (*MockBackend)(nil)
)
