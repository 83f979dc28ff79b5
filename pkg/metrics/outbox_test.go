package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestOutboxMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetrics(reg)

	m.Event("domain", OutboxPublished, 2*time.Second)
	m.Event("domain", OutboxPublished, time.Second)
	m.Event("", OutboxDeadLettered, 0)
	m.Batch(300 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("domain", OutboxPublished)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("unknown", OutboxDeadLettered)))
	assert.Equal(t, uint64(2), sampleCount(t, m.lag))
	assert.Equal(t, uint64(1), sampleCount(t, m.batches))
}

func TestOutboxMetricsNilSafe(t *testing.T) {
	var m *OutboxMetrics
	m.Event("domain", OutboxRetried, 0)
	m.Batch(time.Second)
	NewOutboxMetrics(nil).Event("domain", OutboxPublished, time.Second)
}
