package metrics

import "github.com/prometheus/client_golang/prometheus"

// OutboxMetrics counts publisher results per event type.
type OutboxMetrics struct {
	published *prometheus.CounterVec
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	m := &OutboxMetrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "outbox",
			Name:      "publish_total",
			Help:      "Outbox publish attempts by event type and result.",
		}, []string{"event_type", "result"}),
	}
	reg.MustRegister(m.published)
	return m
}

// IncPublish records a publish attempt; result is published, retry, deferred or dead_letter.
func (m *OutboxMetrics) IncPublish(eventType, result string) {
	if m == nil || m.published == nil {
		return
	}
	m.published.WithLabelValues(normalizeLabel(eventType), normalizeLabel(result)).Inc()
}
