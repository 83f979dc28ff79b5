package cron

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

const (
	defaultOutboxRetention = 30 * 24 * time.Hour
	defaultDLQRetention    = 90 * 24 * time.Hour
	defaultPruneBatch      = 1000
	outboxMinAttempts      = 5
)

type outboxPruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time, minAttempts, limit int) (int64, error)
}

type dlqPruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// OutboxRetentionJobParams configures outbox and DLQ pruning. Zero durations
// fall back to 30 and 90 days.
type OutboxRetentionJobParams struct {
	Logger       *logger.Logger
	Outbox       outboxPruner
	DLQ          dlqPruner
	Retention    time.Duration
	DLQRetention time.Duration
	Batch        int
	MinAttempts  int
}

// NewOutboxRetentionJob prunes published or abandoned outbox rows and old
// DLQ entries in bounded batches.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, errors.New("cron: logger required")
	}
	if params.Outbox == nil {
		return nil, errors.New("cron: outbox pruner required")
	}
	j := &outboxRetentionJob{
		logg:         params.Logger,
		outbox:       params.Outbox,
		dlq:          params.DLQ,
		retention:    orDefault(params.Retention, defaultOutboxRetention),
		dlqRetention: orDefault(params.DLQRetention, defaultDLQRetention),
		batch:        params.Batch,
		minAttempts:  params.MinAttempts,
		now:          time.Now,
	}
	if j.batch <= 0 {
		j.batch = defaultPruneBatch
	}
	if j.minAttempts <= 0 {
		j.minAttempts = outboxMinAttempts
	}
	return j, nil
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

type outboxRetentionJob struct {
	logg         *logger.Logger
	outbox       outboxPruner
	dlq          dlqPruner
	retention    time.Duration
	dlqRetention time.Duration
	batch        int
	minAttempts  int
	now          func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	outboxCutoff := now.Add(-j.retention)
	events, err := drain(ctx, j.batch, func(limit int) (int64, error) {
		return j.outbox.PruneBefore(ctx, outboxCutoff, j.minAttempts, limit)
	})
	if err != nil {
		return err
	}

	var dead int64
	if j.dlq != nil {
		dlqCutoff := now.Add(-j.dlqRetention)
		if dead, err = drain(ctx, j.batch, func(limit int) (int64, error) {
			return j.dlq.PruneBefore(ctx, dlqCutoff, limit)
		}); err != nil {
			return err
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"outbox_cutoff":  outboxCutoff,
		"outbox_deleted": events,
		"dlq_deleted":    dead,
	}), "outbox pruned")
	return nil
}

// drain calls prune until a batch comes back short or ctx ends.
func drain(ctx context.Context, limit int, prune func(limit int) (int64, error)) (int64, error) {
	var total int64
	for {
		n, err := prune(limit)
		total += n
		if err != nil {
			return total, err
		}
		if n < int64(limit) {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}
