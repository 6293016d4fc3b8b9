package aio

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds.
// Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Family groups opcodes for metrics.
type Family int

const (
	FamilyRead  Family = iota // read, readv, recvmsg
	FamilyWrite               // write, writev, sendmsg
	FamilySync                // fsync
	FamilyOther               // everything else
	numFamilies
)

func (f Family) String() string {
	switch f {
	case FamilyRead:
		return "read"
	case FamilyWrite:
		return "write"
	case FamilySync:
		return "sync"
	default:
		return "other"
	}
}

// FamilyOf returns the metrics family of op.
func FamilyOf(op Opcode) Family {
	switch op {
	case OpRead, OpReadv, OpRecvMsg:
		return FamilyRead
	case OpWrite, OpWritev, OpSendMsg:
		return FamilyWrite
	case OpFsync:
		return FamilySync
	default:
		return FamilyOther
	}
}

type familyCounters struct {
	ops    atomic.Uint64
	bytes  atomic.Uint64
	errors atomic.Uint64
}

// Metrics tracks performance and operational statistics for a subsystem
type Metrics struct {
	families [numFamilies]familyCounters

	// Cancelled completions (-ECANCELED) are counted separately from errors
	Cancelled atomic.Uint64

	// Queue statistics
	QueueDepthTotal atomic.Uint64 // Cumulative queue depth samples
	QueueDepthCount atomic.Uint64 // Number of queue depth measurements
	MaxQueueDepth   atomic.Uint32 // Maximum observed queue depth

	// Performance tracking
	TotalLatencyNs atomic.Uint64 // Cumulative operation latency in nanoseconds
	OpCount        atomic.Uint64 // Total operations (for average latency calculation)

	// Latency histogram buckets (cumulative counts)
	// Each bucket[i] contains the count of operations with latency <= LatencyBuckets[i]
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64 // UnixNano
	StopTime  atomic.Int64 // UnixNano
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordOp records one resolved operation. res is the completion result.
func (m *Metrics) RecordOp(op Opcode, bytes uint64, latencyNs uint64, res int64) {
	f := &m.families[FamilyOf(op)]
	f.ops.Add(1)
	switch {
	case res == -int64(ECANCELED):
		m.Cancelled.Add(1)
	case res < 0:
		f.errors.Add(1)
	default:
		f.bytes.Add(bytes)
	}
	m.recordLatency(latencyNs)
}

// RecordQueueDepth records current queue depth for statistics
func (m *Metrics) RecordQueueDepth(depth uint32) {
	m.QueueDepthTotal.Add(uint64(depth))
	m.QueueDepthCount.Add(1)

	for {
		current := m.MaxQueueDepth.Load()
		if depth <= current {
			break
		}
		if m.MaxQueueDepth.CompareAndSwap(current, depth) {
			break
		}
	}
}

// recordLatency records operation latency and updates histogram
func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the subsystem as stopped
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// FamilySnapshot holds the counters of one opcode family
type FamilySnapshot struct {
	Ops    uint64
	Bytes  uint64
	Errors uint64
}

// MetricsSnapshot is a point-in-time copy of Metrics
type MetricsSnapshot struct {
	Read  FamilySnapshot
	Write FamilySnapshot
	Sync  FamilySnapshot
	Other FamilySnapshot

	Cancelled uint64

	// Queue statistics
	AvgQueueDepth float64
	MaxQueueDepth uint32

	// Performance
	AvgLatencyNs uint64
	UptimeNs     uint64

	// Latency percentiles (in nanoseconds)
	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	// Histogram bucket counts (cumulative)
	LatencyHistogram [numLatencyBuckets]uint64

	// Computed statistics
	IOPS           float64
	ReadBandwidth  float64 // Bytes per second
	WriteBandwidth float64
	TotalOps       uint64
	TotalBytes     uint64
	ErrorRate      float64 // Percentage of failed operations
}

func (m *Metrics) family(f Family) FamilySnapshot {
	c := &m.families[f]
	return FamilySnapshot{Ops: c.ops.Load(), Bytes: c.bytes.Load(), Errors: c.errors.Load()}
}

// Snapshot creates a point-in-time snapshot of metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Read:          m.family(FamilyRead),
		Write:         m.family(FamilyWrite),
		Sync:          m.family(FamilySync),
		Other:         m.family(FamilyOther),
		Cancelled:     m.Cancelled.Load(),
		MaxQueueDepth: m.MaxQueueDepth.Load(),
	}

	snap.TotalOps = snap.Read.Ops + snap.Write.Ops + snap.Sync.Ops + snap.Other.Ops
	snap.TotalBytes = snap.Read.Bytes + snap.Write.Bytes

	if n := m.QueueDepthCount.Load(); n > 0 {
		snap.AvgQueueDepth = float64(m.QueueDepthTotal.Load()) / float64(n)
	}

	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = m.TotalLatencyNs.Load() / opCount
	}

	startTime := m.StartTime.Load()
	if stopTime := m.StopTime.Load(); stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.IOPS = float64(snap.TotalOps) / uptimeSeconds
		snap.ReadBandwidth = float64(snap.Read.Bytes) / uptimeSeconds
		snap.WriteBandwidth = float64(snap.Write.Bytes) / uptimeSeconds
	}

	totalErrors := snap.Read.Errors + snap.Write.Errors + snap.Sync.Errors + snap.Other.Errors
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters (useful for testing)
func (m *Metrics) Reset() {
	for i := range m.families {
		m.families[i].ops.Store(0)
		m.families[i].bytes.Store(0)
		m.families[i].errors.Store(0)
	}
	m.Cancelled.Store(0)
	m.QueueDepthTotal.Store(0)
	m.QueueDepthCount.Store(0)
	m.MaxQueueDepth.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer interface allows pluggable metrics collection
type Observer interface {
	// ObserveOp is called once per resolved operation with its completion result
	ObserveOp(op Opcode, bytes uint64, latencyNs uint64, res int64)

	// ObserveQueueDepth is called with the depth of the work queue or a
	// submission ring when the subsystem drains it
	ObserveQueueDepth(depth uint32)
}

// NoOpObserver is a no-op implementation of Observer
type NoOpObserver struct{}

func (NoOpObserver) ObserveOp(Opcode, uint64, uint64, int64) {}
func (NoOpObserver) ObserveQueueDepth(uint32)                {}

// MetricsObserver implements Observer using the built-in Metrics
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveOp(op Opcode, bytes uint64, latencyNs uint64, res int64) {
	o.metrics.RecordOp(op, bytes, latencyNs, res)
}

func (o *MetricsObserver) ObserveQueueDepth(depth uint32) {
	o.metrics.RecordQueueDepth(depth)
}

// multiObserver fans out to several observers
type multiObserver []Observer

func (m multiObserver) ObserveOp(op Opcode, bytes uint64, latencyNs uint64, res int64) {
	for _, o := range m {
		o.ObserveOp(op, bytes, latencyNs, res)
	}
}

func (m multiObserver) ObserveQueueDepth(depth uint32) {
	for _, o := range m {
		o.ObserveQueueDepth(depth)
	}
}

// Compile-time interface check
var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
