package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// AccessMetrics counts access decisions by source and reason.
type AccessMetrics struct {
	decisions *prometheus.CounterVec
}

// NewAccessMetrics registers the access decision counter on reg.
func NewAccessMetrics(reg prometheus.Registerer) *AccessMetrics {
	if reg == nil {
		return &AccessMetrics{}
	}
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "access_decisions_total",
		Help: "Access decisions grouped by source and reason.",
	}, []string{"source", "reason"})
	reg.MustRegister(decisions)
	return &AccessMetrics{decisions: decisions}
}

// Observe records one decision.
func (m *AccessMetrics) Observe(source, reason string) {
	if m == nil || m.decisions == nil {
		return
	}
	m.decisions.WithLabelValues(normalizeLabel(source), normalizeLabel(reason)).Inc()
}

// ReconcileMetrics counts billing events by kind and outcome.
type ReconcileMetrics struct {
	events *prometheus.CounterVec
}

// NewReconcileMetrics registers the billing event counter on reg.
func NewReconcileMetrics(reg prometheus.Registerer) *ReconcileMetrics {
	if reg == nil {
		return &ReconcileMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_events_total",
		Help: "Reconciled billing events grouped by kind and outcome.",
	}, []string{"kind", "outcome"})
	reg.MustRegister(events)
	return &ReconcileMetrics{events: events}
}

// Observe records one reconciled event.
func (m *ReconcileMetrics) Observe(kind, outcome string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}

// RetentionMetrics counts persisted retention decisions.
type RetentionMetrics struct {
	decisions *prometheus.CounterVec
}

// NewRetentionMetrics registers the retention decision counter on reg.
func NewRetentionMetrics(reg prometheus.Registerer) *RetentionMetrics {
	if reg == nil {
		return &RetentionMetrics{}
	}
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "retention_decisions_total",
		Help: "Retention decisions grouped by kind and urgency.",
	}, []string{"kind", "urgency"})
	reg.MustRegister(decisions)
	return &RetentionMetrics{decisions: decisions}
}

// Observe records one persisted decision.
func (m *RetentionMetrics) Observe(kind, urgency string) {
	if m == nil || m.decisions == nil {
		return
	}
	m.decisions.WithLabelValues(normalizeLabel(kind), normalizeLabel(urgency)).Inc()
}
