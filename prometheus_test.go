package aio

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	o, err := NewPrometheusObserver(reg, "test")
	require.NoError(t, err)

	o.ObserveOp(OpRead, 4096, 2_000, 4096)
	o.ObserveOp(OpReadv, 8192, 3_000, 8192)
	o.ObserveOp(OpWrite, 0, 1_000, -int64(EBADF))
	o.ObserveQueueDepth(12)

	assert.Equal(t, 1.0, testutil.ToFloat64(o.ops.WithLabelValues("READ", "read")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.ops.WithLabelValues("READV", "read")))
	assert.Equal(t, 12288.0, testutil.ToFloat64(o.bytes.WithLabelValues("read")))
	assert.Equal(t, 0.0, testutil.ToFloat64(o.bytes.WithLabelValues("write")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.errors.WithLabelValues("WRITE", "9")))
	assert.Equal(t, 12.0, testutil.ToFloat64(o.queueDepth))

	assert.Equal(t, 2, testutil.CollectAndCount(o.latency))
}

func TestPrometheusObserverReuse(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewPrometheusObserver(reg, "")
	require.NoError(t, err)
	b, err := NewPrometheusObserver(reg, "")
	require.NoError(t, err)

	a.ObserveOp(OpFsync, 0, 1_000, 0)
	b.ObserveOp(OpFsync, 0, 1_000, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(a.ops.WithLabelValues("FSYNC", "sync")))

	n, err := testutil.GatherAndCount(reg, "aio_executor_ops_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPrometheusObserverInSubsystem(t *testing.T) {
	reg := prometheus.NewRegistry()
	o, err := NewPrometheusObserver(reg, "")
	require.NoError(t, err)

	s, err := NewSubsystem(DefaultParams(), &Options{Backend: NewMockBackend(1 << 16), Observer: o})
	require.NoError(t, err)
	defer s.Close()

	c, err := s.CreateContext(8)
	require.NoError(t, err)
	require.NoError(t, c.Submit(Nop(1)))
	s.Process()

	assert.Equal(t, 1.0, testutil.ToFloat64(o.ops.WithLabelValues("NOP", "other")))
	assert.Equal(t, uint64(1), s.Metrics().Snapshot().Other.Ops)
}
