// Package metrics exposes Prometheus instrumentation for the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine-level collectors. Construct one per process and
// share it between the store and the serving surfaces.
type Metrics struct {
	OperationsTotal *prometheus.CounterVec
	ActiveWaiters   prometheus.Gauge
	LocksReclaimed  prometheus.Counter
	BroadcastFanout prometheus.Histogram

	registry *prometheus.Registry
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		OperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agenthub_operations_total",
			Help: "Engine operations by name and outcome.",
		}, []string{"op", "outcome"}),
		ActiveWaiters: factory.NewGauge(prometheus.GaugeOpts{
			Name: "agenthub_active_waiters",
			Help: "Bounded-wait loops currently polling.",
		}),
		LocksReclaimed: factory.NewCounter(prometheus.CounterOpts{
			Name: "agenthub_stale_locks_reclaimed_total",
			Help: "Stale lock files forcibly removed.",
		}),
		BroadcastFanout: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "agenthub_broadcast_fanout",
			Help:    "Recipients per broadcast delivery.",
			Buckets: prometheus.LinearBuckets(1, 2, 10),
		}),
		registry: reg,
	}
}

// Registry returns the backing registry for HTTP exposition.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveOp records one engine operation outcome. Nil-safe so the engine can
// run without instrumentation in tests.
func (m *Metrics) ObserveOp(op, outcome string) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) WaiterStarted() {
	if m == nil {
		return
	}
	m.ActiveWaiters.Inc()
}

func (m *Metrics) WaiterFinished() {
	if m == nil {
		return
	}
	m.ActiveWaiters.Dec()
}

func (m *Metrics) StaleLockReclaimed() {
	if m == nil {
		return
	}
	m.LocksReclaimed.Inc()
}

func (m *Metrics) ObserveBroadcast(recipients int) {
	if m == nil {
		return
	}
	m.BroadcastFanout.Observe(float64(recipients))
}
