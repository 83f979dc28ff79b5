package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/entitlements-backend/internal/churn"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

const defaultSweepBatch = 500

type trialExpirer interface {
	ExpireDue(ctx context.Context, now time.Time, limit int) (int, error)
}

type reminderSender interface {
	SendReminders(ctx context.Context, now time.Time, limit int) (int, error)
}

type churnSweeper interface {
	Sweep(ctx context.Context, now time.Time, pageSize int) (churn.SweepResult, error)
}

// TrialJobParams configures the trial lifecycle jobs.
type TrialJobParams struct {
	Logger *logger.Logger
	Batch  int
	Now    func() time.Time
}

func (p TrialJobParams) normalize() (TrialJobParams, error) {
	if p.Logger == nil {
		return p, fmt.Errorf("logger required")
	}
	if p.Batch <= 0 {
		p.Batch = defaultSweepBatch
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return p, nil
}

// NewTrialExpiryJob flips active trials past their end date to expired.
func NewTrialExpiryJob(params TrialJobParams, trials trialExpirer) (Job, error) {
	params, err := params.normalize()
	if err != nil {
		return nil, err
	}
	if trials == nil {
		return nil, fmt.Errorf("trial service required")
	}
	return &trialExpiryJob{params: params, trials: trials}, nil
}

type trialExpiryJob struct {
	params TrialJobParams
	trials trialExpirer
}

func (j *trialExpiryJob) Name() string { return "trial-expiry" }

func (j *trialExpiryJob) Run(ctx context.Context) error {
	expired, err := j.trials.ExpireDue(ctx, j.params.Now().UTC(), j.params.Batch)
	if err != nil {
		return fmt.Errorf("expire trials: %w", err)
	}
	j.params.Logger.Info(j.params.Logger.WithField(ctx, "expired", expired), "trial expiry sweep complete")
	return nil
}

// NewTrialReminderJob records 3-day and 1-day trial-ending reminders.
func NewTrialReminderJob(params TrialJobParams, retention reminderSender) (Job, error) {
	params, err := params.normalize()
	if err != nil {
		return nil, err
	}
	if retention == nil {
		return nil, fmt.Errorf("retention service required")
	}
	return &trialReminderJob{params: params, retention: retention}, nil
}

type trialReminderJob struct {
	params    TrialJobParams
	retention reminderSender
}

func (j *trialReminderJob) Name() string { return "trial-reminders" }

func (j *trialReminderJob) Run(ctx context.Context) error {
	sent, err := j.retention.SendReminders(ctx, j.params.Now().UTC(), j.params.Batch)
	j.params.Logger.Info(j.params.Logger.WithField(ctx, "recorded", sent), "trial reminder sweep complete")
	if err != nil {
		return fmt.Errorf("send reminders: %w", err)
	}
	return nil
}

// NewChurnSweepJob rescores every active trial and records interventions.
func NewChurnSweepJob(params TrialJobParams, scorer churnSweeper) (Job, error) {
	params, err := params.normalize()
	if err != nil {
		return nil, err
	}
	if scorer == nil {
		return nil, fmt.Errorf("churn service required")
	}
	return &churnSweepJob{params: params, scorer: scorer}, nil
}

type churnSweepJob struct {
	params TrialJobParams
	scorer churnSweeper
}

func (j *churnSweepJob) Name() string { return "churn-sweep" }

func (j *churnSweepJob) Run(ctx context.Context) error {
	res, err := j.scorer.Sweep(ctx, j.params.Now().UTC(), j.params.Batch)
	logCtx := j.params.Logger.WithFields(ctx, map[string]any{
		"scored":        res.Scored,
		"interventions": res.Interventions,
		"exported":      res.Exported,
	})
	j.params.Logger.Info(logCtx, "churn sweep complete")
	if err != nil {
		return fmt.Errorf("churn sweep: %w", err)
	}
	return nil
}
