package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ReconcileMetrics tracks reconciliation outcomes and the notification queue.
type ReconcileMetrics struct {
	outcomes *prometheus.CounterVec
	duration prometheus.Histogram
	tasks    *prometheus.CounterVec
	enqueued *prometheus.CounterVec
}

// NewReconcileMetrics registers the reconciliation metrics on reg.
func NewReconcileMetrics(reg prometheus.Registerer) *ReconcileMetrics {
	if reg == nil {
		return &ReconcileMetrics{}
	}
	m := &ReconcileMetrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "reconcile_outcomes_total",
			Help:      "Reconciliation attempts by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "reconcile_duration_seconds",
			Help:      "Time spent reconciling one notification, gateway calls included.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "notification_tasks_total",
			Help:      "Notification tasks finished by the dispatcher, by result.",
		}, []string{"result"}),
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "notification_enqueued_total",
			Help:      "Notification hints accepted into the queue, by source and result.",
		}, []string{"source", "result"}),
	}
	reg.MustRegister(m.outcomes, m.duration, m.tasks, m.enqueued)
	return m
}

// ObserveOutcome records one reconciliation attempt.
func (m *ReconcileMetrics) ObserveOutcome(outcome string, duration time.Duration) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(outcome)).Inc()
	m.duration.Observe(duration.Seconds())
}

// IncTask records a dispatcher decision: handled, discarded, retried or failed.
func (m *ReconcileMetrics) IncTask(result string) {
	if m == nil || m.tasks == nil {
		return
	}
	m.tasks.WithLabelValues(normalizeLabel(result)).Inc()
}

// IncEnqueued records an enqueue attempt; result is queued or duplicate.
func (m *ReconcileMetrics) IncEnqueued(source, result string) {
	if m == nil || m.enqueued == nil {
		return
	}
	m.enqueued.WithLabelValues(normalizeLabel(source), normalizeLabel(result)).Inc()
}
