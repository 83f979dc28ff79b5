package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/entitlements-backend/pkg/config"
	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	"github.com/angelmondragon/entitlements-backend/pkg/metrics"
	"github.com/angelmondragon/entitlements-backend/pkg/outbox/registry"
)

const (
	publishTimeout = 15 * time.Second
	maxBackoff     = 10 * time.Second
	jitterWindow   = 250 * time.Millisecond
)

type store interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type outboxRows interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type deadLetters interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type resolver interface {
	Resolve(models.OutboxEvent) (*registry.Resolved, error)
}

// sink delivers one message and blocks until the server acknowledges it.
type sink interface {
	Ping(context.Context) error
	Send(ctx context.Context, topic string, msg *gcppubsub.Message) error
}

type relayDeps struct {
	Store   store
	Rows    outboxRows
	DLQ     deadLetters
	Routes  resolver
	Sink    sink
	Metrics *metrics.OutboxMetrics
	Logger  *logger.Logger
}

// relay drains outbox_events onto Pub/Sub. Each batch is claimed with row
// locks inside one transaction, so several relays can run side by side.
type relay struct {
	relayDeps
	batch       int
	maxAttempts int
	poll        time.Duration
	now         func() time.Time
}

type tally struct {
	published    int
	retried      int
	deadLettered int
}

func newRelay(cfg config.OutboxConfig, deps relayDeps) (*relay, error) {
	var err error
	for _, dep := range []struct {
		name    string
		missing bool
	}{
		{"store", deps.Store == nil},
		{"outbox rows", deps.Rows == nil},
		{"dlq", deps.DLQ == nil},
		{"routes", deps.Routes == nil},
		{"sink", deps.Sink == nil},
		{"logger", deps.Logger == nil},
	} {
		if dep.missing {
			err = multierr.Append(err, fmt.Errorf("%s is required", dep.name))
		}
	}
	if err != nil {
		return nil, err
	}
	return &relay{
		relayDeps:   deps,
		batch:       positive(cfg.BatchSize, 50),
		maxAttempts: positive(cfg.MaxAttempts, 10),
		poll:        time.Duration(positive(cfg.PollIntervalMS, 500)) * time.Millisecond,
		now:         time.Now,
	}, nil
}

func positive(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// ready pings every dependency and reports all failures at once.
func (r *relay) ready(ctx context.Context) error {
	return multierr.Combine(
		wrapPing("database", r.Store.Ping(ctx)),
		wrapPing("pubsub", r.Sink.Ping(ctx)),
	)
}

func wrapPing(name string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s ping: %w", name, err)
}

func (r *relay) Run(ctx context.Context) error {
	if err := r.ready(ctx); err != nil {
		return err
	}
	wait := r.poll
	for ctx.Err() == nil {
		claimed, err := r.drain(ctx)
		switch {
		case err != nil:
			r.Logger.Error(ctx, "outbox batch failed", err)
			wait = min(max(wait*2, r.poll), maxBackoff)
		case claimed:
			wait = r.poll
			continue
		default:
			wait = r.poll
		}
		if err := pause(ctx, wait+rand.N(jitterWindow)); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// drain handles one claimed batch and reports whether it claimed anything,
// so a backlog is worked without sleeping between batches.
func (r *relay) drain(ctx context.Context) (bool, error) {
	started := r.now()
	var t tally
	claimed := 0
	err := r.Store.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := r.Rows.FetchUnpublishedForPublish(tx, r.batch, r.maxAttempts)
		if err != nil {
			return err
		}
		claimed = len(rows)
		for i := range rows {
			if err := r.handle(ctx, tx, rows[i], &t); err != nil {
				return err
			}
		}
		return nil
	})
	if claimed == 0 {
		return false, err
	}
	r.Metrics.Batch(r.now().Sub(started))
	r.Logger.Info(r.Logger.WithFields(ctx, map[string]any{
		"claimed":       claimed,
		"published":     t.published,
		"retried":       t.retried,
		"dead_lettered": t.deadLettered,
	}), "outbox batch done")
	return true, err
}

// handle publishes one row and records the outcome on it. Publish failures
// become row state; only bookkeeping failures are returned.
func (r *relay) handle(ctx context.Context, tx *gorm.DB, ev models.OutboxEvent, t *tally) error {
	resolved, err := r.Routes.Resolve(ev)
	if err != nil {
		return r.bury(ctx, tx, ev, "", enums.OutboxDLQReasonNonRetryable, err, t)
	}
	topic := resolved.Route.Topic

	sendCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	err = r.Sink.Send(sendCtx, topic, &gcppubsub.Message{
		Data:       ev.Payload,
		Attributes: attributes(ev, resolved.Envelope),
	})
	cancel()

	attempt := ev.AttemptCount + 1
	switch {
	case err == nil:
		if err := r.Rows.MarkPublishedTx(tx, ev.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", ev.ID, err)
		}
		t.published++
		r.Metrics.Event(topic, metrics.OutboxPublished, r.now().Sub(ev.CreatedAt))
		return nil
	case registry.IsPermanent(err):
		return r.bury(ctx, tx, ev, topic, enums.OutboxDLQReasonNonRetryable, err, t)
	case attempt >= r.maxAttempts:
		return r.bury(ctx, tx, ev, topic, enums.OutboxDLQReasonMaxAttempts, fmt.Errorf("attempt %d: %w", attempt, err), t)
	}

	logCtx := r.Logger.WithFields(ctx, rowFields(ev, topic))
	r.Logger.Warn(r.Logger.WithFields(logCtx, map[string]any{"attempt": attempt, "error": err.Error()}), "outbox publish failed, will retry")
	if err := r.Rows.MarkFailedTx(tx, ev.ID, err); err != nil {
		return fmt.Errorf("mark failed %s: %w", ev.ID, err)
	}
	t.retried++
	r.Metrics.Event(topic, metrics.OutboxRetried, 0)
	return nil
}

// bury copies the row into the dead-letter table and retires it.
func (r *relay) bury(ctx context.Context, tx *gorm.DB, ev models.OutboxEvent, topic string, reason enums.OutboxDLQErrorReason, cause error, t *tally) error {
	logCtx := r.Logger.WithFields(ctx, rowFields(ev, topic))
	r.Logger.Warn(r.Logger.WithFields(logCtx, map[string]any{"reason": reason, "error": cause.Error()}), "outbox event dead-lettered")

	msg := cause.Error()
	if err := r.DLQ.InsertTx(tx, models.OutboxDLQ{
		EventID:       ev.ID,
		EventType:     ev.EventType,
		AggregateType: ev.AggregateType,
		AggregateID:   ev.AggregateID,
		Payload:       ev.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  ev.AttemptCount,
		FailedAt:      r.now().UTC(),
	}); err != nil {
		return fmt.Errorf("insert dlq %s: %w", ev.ID, err)
	}
	if err := r.Rows.MarkTerminalTx(tx, ev.ID, cause, r.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", ev.ID, err)
	}
	t.deadLettered++
	r.Metrics.Event(topic, metrics.OutboxDeadLettered, 0)
	return nil
}

func rowFields(ev models.OutboxEvent, topic string) map[string]any {
	fields := map[string]any{
		"outbox_id":      ev.ID.String(),
		"event_type":     ev.EventType,
		"aggregate_type": ev.AggregateType,
		"aggregate_id":   ev.AggregateID.String(),
		"attempt_count":  ev.AttemptCount,
	}
	if topic != "" {
		fields["topic"] = topic
	}
	return fields
}

func pause(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var errNilResult = errors.New("publisher returned no result")
