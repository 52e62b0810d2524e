package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the adoption workflow.
type Metrics struct {
	Registry *prometheus.Registry

	// Operation outcomes by operation and outcome (ok, noop, error)
	Transitions *prometheus.CounterVec

	// Guarded writes that lost a race, by operation
	Conflicts *prometheus.CounterVec

	// Post-commit document and notification failures, by kind
	SideEffectFailures *prometheus.CounterVec

	Finalizations prometheus.Counter

	OperationLatency *prometheus.HistogramVec

	// Notifications waiting in the dispatcher queue
	QueueDepth prometheus.Gauge
}

// New registers every metric on a fresh registry, which also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "adoptline_operations_total",
			Help: "Workflow operations by operation and outcome",
		}, []string{"operation", "outcome"}),
		Conflicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "adoptline_tx_conflicts_total",
			Help: "Transactions retried after a concurrent update conflict",
		}, []string{"operation"}),
		SideEffectFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "adoptline_side_effect_failures_total",
			Help: "Failed document or notification side effects",
		}, []string{"kind"}),
		Finalizations: f.NewCounter(prometheus.CounterOpts{
			Name: "adoptline_adoptions_completed_total",
			Help: "Adoptions finalized",
		}),
		OperationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "adoptline_operation_duration_seconds",
			Help:    "Duration of workflow operations including retries",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"operation"}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "adoptline_notification_queue_depth",
			Help: "Notifications waiting for delivery",
		}),
	}
}

func (m *Metrics) ObserveOperation(op, outcome string, d time.Duration) {
	if m != nil {
		m.Transitions.WithLabelValues(op, outcome).Inc()
		m.OperationLatency.WithLabelValues(op).Observe(d.Seconds())
	}
}

func (m *Metrics) IncConflict(op string) {
	if m != nil {
		m.Conflicts.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) IncSideEffectFailure(kind string) {
	if m != nil {
		m.SideEffectFailures.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) IncFinalized() {
	if m != nil {
		m.Finalizations.Inc()
	}
}

func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.QueueDepth.Set(float64(n))
	}
}
