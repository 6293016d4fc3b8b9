package aio

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const defaultMetricsNamespace = "aio"

// PrometheusObserver exports operation counters and latencies to a
// Prometheus registry
type PrometheusObserver struct {
	ops        *prometheus.CounterVec
	bytes      *prometheus.CounterVec
	errors     *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	queueDepth prometheus.Gauge
}

// NewPrometheusObserver registers the collectors on registry (the default
// registerer when nil) under namespace ("aio" when empty). Registering twice
// on the same registry reuses the collectors already there.
func NewPrometheusObserver(registry prometheus.Registerer, namespace string) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = defaultMetricsNamespace
	}
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	o := &PrometheusObserver{}
	o.ops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "executor",
		Name:      "ops_total",
		Help:      "Number of resolved operations.",
	}, []string{"op", "family"})

	o.bytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "executor",
		Name:      "bytes_total",
		Help:      "Bytes moved by successful operations.",
	}, []string{"family"})

	o.errors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "executor",
		Name:      "errors_total",
		Help:      "Number of failed operations by errno.",
	}, []string{"op", "errno"})

	o.latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "executor",
		Name:      "op_duration_seconds",
		Help:      "Operation latency from dispatch to completion.",
		Buckets:   prometheus.ExponentialBuckets(1e-6, 10, len(LatencyBuckets)),
	}, []string{"family"})

	o.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "executor",
		Name:      "queue_depth",
		Help:      "Most recently observed submission queue depth.",
	})

	var err error
	if o.ops, err = register(registry, o.ops); err != nil {
		return nil, err
	}
	if o.bytes, err = register(registry, o.bytes); err != nil {
		return nil, err
	}
	if o.errors, err = register(registry, o.errors); err != nil {
		return nil, err
	}
	if o.latency, err = register(registry, o.latency); err != nil {
		return nil, err
	}
	if o.queueDepth, err = register(registry, o.queueDepth); err != nil {
		return nil, err
	}
	return o, nil
}

func register[C prometheus.Collector](registry prometheus.Registerer, c C) (C, error) {
	var alreadyRegistered prometheus.AlreadyRegisteredError
	if err := registry.Register(c); err != nil {
		if errors.As(err, &alreadyRegistered) {
			if existing, ok := alreadyRegistered.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (o *PrometheusObserver) ObserveOp(op Opcode, bytes uint64, latencyNs uint64, res int64) {
	family := FamilyOf(op).String()
	o.ops.WithLabelValues(op.String(), family).Inc()
	if res < 0 {
		o.errors.WithLabelValues(op.String(), strconv.FormatInt(-res, 10)).Inc()
	} else if bytes > 0 {
		o.bytes.WithLabelValues(family).Add(float64(bytes))
	}
	o.latency.WithLabelValues(family).Observe(float64(latencyNs) / 1e9)
}

func (o *PrometheusObserver) ObserveQueueDepth(depth uint32) {
	o.queueDepth.Set(float64(depth))
}

var _ Observer = (*PrometheusObserver)(nil)
