// Package metrics holds the Prometheus collectors of the workflow engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	transitions    *prometheus.CounterVec
	failures       *prometheus.CounterVec
	retries        *prometheus.CounterVec
	opLatency      *prometheus.HistogramVec
	notifyFailures prometheus.Counter
	outboxDepth    prometheus.Gauge
	outboxReplayed *prometheus.CounterVec
	rateLimited    prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "projectflow_transitions_total",
				Help: "Committed state transitions by entity and resulting status",
			},
			[]string{"entity", "status"},
		),
		failures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "projectflow_operation_errors_total",
				Help: "Failed workflow operations by operation and error kind",
			},
			[]string{"operation", "kind"},
		),
		retries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "projectflow_retries_total",
				Help: "Operation re-runs by reason",
			},
			[]string{"reason"},
		),
		opLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "projectflow_operation_duration_seconds",
				Help:    "Latency of workflow operations including retries",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"operation"},
		),
		notifyFailures: f.NewCounter(
			prometheus.CounterOpts{
				Name: "projectflow_notify_failures_total",
				Help: "Notifications that could not be delivered",
			},
		),
		outboxDepth: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "projectflow_outbox_pending",
				Help: "Commands waiting in the outbox",
			},
		),
		outboxReplayed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "projectflow_outbox_replayed_total",
				Help: "Outbox commands replayed by result",
			},
			[]string{"result"},
		),
		rateLimited: f.NewCounter(
			prometheus.CounterOpts{
				Name: "projectflow_rate_limited_total",
				Help: "HTTP requests rejected by the rate limiter",
			},
		),
	}
}

func (m *Metrics) Transition(entity, status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(entity, status).Inc()
}

func (m *Metrics) Failure(op, kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "internal"
	}
	m.failures.WithLabelValues(op, kind).Inc()
}

// Retry counts one re-run; reason is "conflict" or "unavailable".
func (m *Metrics) Retry(reason string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveOperation(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.opLatency.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) NotifyFailed() {
	if m == nil {
		return
	}
	m.notifyFailures.Inc()
}

func (m *Metrics) SetOutboxDepth(n int) {
	if m == nil {
		return
	}
	m.outboxDepth.Set(float64(n))
}

// OutboxReplayed counts a drained command; result is "ok", "dead" or "deferred".
func (m *Metrics) OutboxReplayed(result string) {
	if m == nil {
		return
	}
	m.outboxReplayed.WithLabelValues(result).Inc()
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
