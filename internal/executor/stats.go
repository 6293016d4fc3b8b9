package executor

import "sync/atomic"

// Stats counts executor activity. All fields are safe to read concurrently.
type Stats struct {
	OpsProcessed atomic.Uint64
	OpsCompleted atomic.Uint64
	OpsFailed    atomic.Uint64
	OpsCancelled atomic.Uint64
	BytesRead    atomic.Uint64
	BytesWritten atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	OpsProcessed uint64
	OpsCompleted uint64
	OpsFailed    uint64
	OpsCancelled uint64
	BytesRead    uint64
	BytesWritten uint64
}

// Snapshot copies the counters. Individual fields are read atomically but
// not as a group.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		OpsProcessed: s.OpsProcessed.Load(),
		OpsCompleted: s.OpsCompleted.Load(),
		OpsFailed:    s.OpsFailed.Load(),
		OpsCancelled: s.OpsCancelled.Load(),
		BytesRead:    s.BytesRead.Load(),
		BytesWritten: s.BytesWritten.Load(),
	}
}
