// Package bufpool hands out scratch buffers for gather writes and vectored
// transfers so the hot path does not allocate per request.
//
// Buckets are sized 4KB, 64KB, 256KB and 1MB. Larger requests get a fresh
// slice that is dropped on Put. Pools hold *[]byte to avoid the interface
// allocation sync.Pool would otherwise make on every Put.
package bufpool

import (
	"sync"

	"github.com/ehrlich-b/go-aio/internal/constants"
)

var pools = [...]struct {
	size int
	pool sync.Pool
}{
	{size: constants.PoolSize4K},
	{size: constants.PoolSize64K},
	{size: constants.PoolSize256K},
	{size: constants.PoolSize1M},
}

func init() {
	for i := range pools {
		size := pools[i].size
		pools[i].pool.New = func() any {
			b := make([]byte, size)
			return &b
		}
	}
}

// Get returns a buffer of length size. Call Put when done.
func Get(size int) []byte {
	for i := range pools {
		if size <= pools[i].size {
			return (*pools[i].pool.Get().(*[]byte))[:size]
		}
	}
	return make([]byte, size)
}

// Put returns buf to its bucket. Buffers not obtained from Get are ignored.
func Put(buf []byte) {
	c := cap(buf)
	buf = buf[:c]
	for i := range pools {
		if c == pools[i].size {
			pools[i].pool.Put(&buf)
			return
		}
	}
}
