package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronJobMetricsRecordsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	finished := time.Unix(1_790_000_000, 0)

	m.ObserveRun("trial-expiry", JobSucceeded, 250*time.Millisecond, finished)
	m.ObserveRun("trial-expiry", JobFailed, time.Second, finished.Add(time.Hour))
	m.ObserveRun("churn-sweep", JobPanicked, time.Second, finished)
	m.CycleSkipped()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("trial-expiry", JobSucceeded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("trial-expiry", JobFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("churn-sweep", JobPanicked)))
	assert.Equal(t, float64(finished.Unix()), testutil.ToFloat64(m.lastSuccess.WithLabelValues("trial-expiry")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.skipped))

	count, err := testutil.GatherAndCount(reg, "cron_job_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestCronJobMetricsNilSafe(t *testing.T) {
	var m *CronJobMetrics
	m.ObserveRun("job", JobSucceeded, time.Second, time.Now())
	m.CycleSkipped()

	NewCronJobMetrics(nil).ObserveRun("", "", 0, time.Now())
}
