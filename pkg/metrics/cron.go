package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Job run outcomes used as the "outcome" label.
const (
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
	JobPanicked  = "panicked"
)

// CronJobMetrics tracks scheduled job runs and lock contention.
type CronJobMetrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	skipped     prometheus.Counter
}

// NewCronJobMetrics registers the cron collectors on reg. A nil reg yields a
// no-op recorder.
func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	m := &CronJobMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cron_job_runs_total",
			Help: "Cron job runs grouped by job and outcome.",
		}, []string{"job", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cron_job_duration_seconds",
			Help:    "Wall time of cron job runs.",
			Buckets: []float64{.1, .5, 1, 5, 15, 60, 300, 900},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cron_job_last_success_timestamp_seconds",
			Help: "Unix time of each job's most recent successful run.",
		}, []string{"job"}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cron_cycles_skipped_total",
			Help: "Cycles skipped because another worker held the lock.",
		}),
	}
	reg.MustRegister(m.runs, m.duration, m.lastSuccess, m.skipped)
	return m
}

// ObserveRun records one finished job run.
func (c *CronJobMetrics) ObserveRun(job, outcome string, took time.Duration, finished time.Time) {
	if c == nil || c.runs == nil {
		return
	}
	job = normalizeLabel(job)
	c.runs.WithLabelValues(job, normalizeLabel(outcome)).Inc()
	c.duration.WithLabelValues(job).Observe(took.Seconds())
	if outcome == JobSucceeded {
		c.lastSuccess.WithLabelValues(job).Set(float64(finished.Unix()))
	}
}

// CycleSkipped counts a cycle lost to lock contention.
func (c *CronJobMetrics) CycleSkipped() {
	if c == nil || c.skipped == nil {
		return
	}
	c.skipped.Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
