package docstore

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of one store.
type Metrics struct {
	backend     string
	ops         *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	liveQueries prometheus.Gauge
	snapshots   prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer, backend string) *Metrics {
	m := &Metrics{
		backend: backend,
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatcore",
			Subsystem: "docstore",
			Name:      "operations_total",
			Help:      "Document store operations by kind and result.",
		}, []string{"backend", "op", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chatcore",
			Subsystem: "docstore",
			Name:      "operation_duration_seconds",
			Help:      "Document store operation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"backend", "op"}),
		liveQueries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatcore",
			Subsystem: "docstore",
			Name:      "live_queries",
			Help:      "Active live query subscriptions.",
		}),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatcore",
			Subsystem: "docstore",
			Name:      "snapshots_delivered_total",
			Help:      "Snapshots delivered to live query subscribers.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ops, m.latency, m.liveQueries, m.snapshots)
	}
	return m
}

// LiveQueries is the gauge of active live subscriptions.
func (m *Metrics) LiveQueries() prometheus.Gauge { return m.liveQueries }

func (m *Metrics) observe(op string, start time.Time, err error) {
	m.ops.WithLabelValues(m.backend, op, Result(err)).Inc()
	m.latency.WithLabelValues(m.backend, op).Observe(time.Since(start).Seconds())
}

type Instrumented struct {
	inner Store
	m     *Metrics
}

// Instrument records every operation of inner in m.
func Instrument(inner Store, m *Metrics) *Instrumented {
	return &Instrumented{inner: inner, m: m}
}

func (s *Instrumented) Get(ctx context.Context, path, id string) (doc Document, err error) {
	defer func(start time.Time) { s.m.observe("get", start, err) }(time.Now())
	return s.inner.Get(ctx, path, id)
}

func (s *Instrumented) Query(ctx context.Context, q Query) (docs []Document, err error) {
	defer func(start time.Time) { s.m.observe("query", start, err) }(time.Now())
	return s.inner.Query(ctx, q)
}

func (s *Instrumented) Batch(ctx context.Context, ops ...Op) (err error) {
	defer func(start time.Time) { s.m.observe("batch", start, err) }(time.Now())
	return s.inner.Batch(ctx, ops...)
}

func (s *Instrumented) RunTransaction(ctx context.Context, fn TxnFunc) (err error) {
	defer func(start time.Time) { s.m.observe("transaction", start, err) }(time.Now())
	return s.inner.RunTransaction(ctx, fn)
}

func (s *Instrumented) Close() error { return s.inner.Close() }
