package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	"github.com/angelmondragon/entitlements-backend/pkg/metrics"
)

const (
	defaultInterval   = time.Hour
	defaultJobTimeout = 15 * time.Minute
)

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Locker   Locker
	Metrics  *metrics.CronJobMetrics
	// Interval is the cycle cadence. Cycles start on wall-clock multiples of it.
	Interval time.Duration
	// JobTimeout bounds a single job run.
	JobTimeout time.Duration
	Clock      func() time.Time
}

// Service runs every registered job once per cycle while holding the lock.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	locker   Locker
	metrics  *metrics.CronJobMetrics
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("cron: logger required")
	}
	if params.Locker == nil {
		return nil, errors.New("cron: locker required")
	}
	s := &Service{
		logg:     params.Logger,
		registry: params.Registry,
		locker:   params.Locker,
		metrics:  params.Metrics,
		interval: params.Interval,
		timeout:  params.JobTimeout,
		now:      params.Clock,
	}
	if s.registry == nil {
		s.registry = &Registry{}
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	if s.timeout <= 0 {
		s.timeout = defaultJobTimeout
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Run executes a cycle immediately, then one per interval boundary, until
// ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	for {
		if err := s.RunOnce(ctx); err != nil {
			s.logg.Error(ctx, "cron cycle failed", err)
		}

		wait := s.untilNext(s.now())
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logg.Info(ctx, "cron service stopping")
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Service) untilNext(now time.Time) time.Duration {
	return now.Truncate(s.interval).Add(s.interval).Sub(now)
}

// RunOnce executes a single cycle. Losing the lock race is not an error.
func (s *Service) RunOnce(ctx context.Context) error {
	lease, ok, err := s.locker.TryLock(ctx)
	if err != nil {
		return err
	}
	if !ok {
		s.metrics.CycleSkipped()
		s.logg.Info(ctx, "cron lock held elsewhere, skipping cycle")
		return nil
	}
	defer func() {
		switch err := lease.Release(ctx); {
		case errors.Is(err, ErrLeaseLost):
			s.logg.Warn(ctx, "cron lease expired before the cycle finished")
		case err != nil:
			s.logg.Error(ctx, "cron lock release failed", err)
		}
	}()

	jobs := s.registry.Jobs()
	s.logg.Info(s.logg.WithField(ctx, "jobs", len(jobs)), "cron cycle starting")
	failed := 0
	for _, job := range jobs {
		if s.runJob(ctx, job) != metrics.JobSucceeded {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d cron jobs failed", failed, len(jobs))
	}
	return nil
}

func (s *Service) runJob(ctx context.Context, job Job) (outcome string) {
	name := job.Name()
	ctx = s.logg.WithJob(ctx, name)
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := s.now()
	defer func() {
		if r := recover(); r != nil {
			outcome = metrics.JobPanicked
			s.logg.Error(ctx, "cron job panicked", fmt.Errorf("panic: %v", r))
		}
		took := s.now().Sub(start)
		s.metrics.ObserveRun(name, outcome, took, s.now())
		if outcome == metrics.JobSucceeded {
			s.logg.Info(s.logg.WithField(ctx, "duration_ms", took.Milliseconds()), "cron job finished")
		}
	}()

	if err := job.Run(ctx); err != nil {
		s.logg.Error(ctx, "cron job failed", err)
		return metrics.JobFailed
	}
	return metrics.JobSucceeded
}
