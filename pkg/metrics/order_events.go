package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OrderEventMetrics covers the consumer side of the orders topic.
type OrderEventMetrics struct {
	consumed *prometheus.CounterVec
	lag      *prometheus.HistogramVec
}

func NewOrderEventMetrics(reg prometheus.Registerer) *OrderEventMetrics {
	if reg == nil {
		return &OrderEventMetrics{}
	}
	m := &OrderEventMetrics{
		consumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "order_events",
			Name:      "consumed_total",
			Help:      "Order events received from Pub/Sub, by event type and result.",
		}, []string{"event_type", "result"}),
		lag: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "order_events",
			Name:      "lag_seconds",
			Help:      "Delay between the domain event and its consumption.",
			Buckets:   []float64{.1, .5, 1, 5, 15, 60, 300, 900},
		}, []string{"event_type"}),
	}
	reg.MustRegister(m.consumed, m.lag)
	return m
}

// ObserveConsumed records one message; lag is skipped when not positive.
func (m *OrderEventMetrics) ObserveConsumed(eventType, result string, lag time.Duration) {
	if m == nil || m.consumed == nil {
		return
	}
	eventType = normalizeLabel(eventType)
	m.consumed.WithLabelValues(eventType, normalizeLabel(result)).Inc()
	if lag > 0 {
		m.lag.WithLabelValues(eventType).Observe(lag.Seconds())
	}
}
