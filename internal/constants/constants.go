package constants

import "time"

// Ring sizing
const (
	// DefaultRingSize is the ring size used when a context asks for 0 entries
	DefaultRingSize = 256

	// MaxRingSize is the largest ring a context may request
	MaxRingSize = 4096
)

// VectorSegmentSize is the byte count the accounting backend assumes for
// each iovec of a vectored request
const VectorSegmentSize = 4096

// Worker defaults
const (
	// DefaultWorkers is the number of work queue workers started by Serve
	DefaultWorkers = 4

	// DefaultPollInterval is how often Serve drains the submission rings
	DefaultPollInterval = 500 * time.Microsecond

	// DefaultIdleBackoff is how long an idle worker sleeps before polling again
	DefaultIdleBackoff = 200 * time.Microsecond
)

// Buffer pool size classes
const (
	PoolSize4K   = 4 * 1024
	PoolSize64K  = 64 * 1024
	PoolSize256K = 256 * 1024
	PoolSize1M   = 1024 * 1024
)
