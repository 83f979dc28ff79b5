package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outbox dispatch outcomes.
const (
	OutboxPublished    = "published"
	OutboxRetried      = "retried"
	OutboxDeadLettered = "dead_lettered"
)

// OutboxMetrics tracks the outbox publisher loop.
type OutboxMetrics struct {
	events  *prometheus.CounterVec
	lag     prometheus.Histogram
	batches prometheus.Histogram
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	m := &OutboxMetrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_events_total",
			Help: "Outbox rows handled by the publisher, by outcome.",
		}, []string{"topic", "outcome"}),
		lag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "outbox_publish_lag_seconds",
			Help:    "Delay between an event being written and published.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 15, 60, 300, 1800},
		}),
		batches: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "outbox_batch_duration_seconds",
			Help:    "Wall time of one claimed batch, including publish waits.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.events, m.lag, m.batches)
	return m
}

// Event counts one handled row. lag is observed for published rows only.
func (m *OutboxMetrics) Event(topic, outcome string, lag time.Duration) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(topic), outcome).Inc()
	if outcome == OutboxPublished && lag >= 0 {
		m.lag.Observe(lag.Seconds())
	}
}

func (m *OutboxMetrics) Batch(took time.Duration) {
	if m == nil || m.batches == nil {
		return
	}
	m.batches.Observe(took.Seconds())
}
