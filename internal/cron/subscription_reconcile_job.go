package cron

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/entitlements-backend/internal/billing"
	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

const (
	defaultReconcileLimit     = 250
	defaultReconcileLookahead = 48 * time.Hour
)

type reconcileCandidates interface {
	ListSubscriptionsForReconciliation(ctx context.Context, now time.Time, lookahead time.Duration, limit int) ([]models.Subscription, error)
}

type eventApplier interface {
	ApplyEvent(ctx context.Context, event billing.Event) (billing.Result, error)
}

// SubscriptionReconcileJobParams configures the provider re-sync cron job.
type SubscriptionReconcileJobParams struct {
	Logger     *logger.Logger
	Candidates reconcileCandidates
	Fetcher    billing.SubscriptionFetcher
	Reconciler eventApplier
	Limit      int
	Lookahead  time.Duration
	Now        func() time.Time
}

// NewSubscriptionReconcileJob re-reads subscriptions nearing their period end
// (and delinquent ones) from the provider and feeds them through the
// reconciler, covering webhooks that never arrived.
func NewSubscriptionReconcileJob(params SubscriptionReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Candidates == nil {
		return nil, fmt.Errorf("billing repository required")
	}
	if params.Fetcher == nil {
		return nil, fmt.Errorf("subscription fetcher required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("billing reconciler required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	lookahead := params.Lookahead
	if lookahead <= 0 {
		lookahead = defaultReconcileLookahead
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultReconcileLimit
	}
	return &subscriptionReconcileJob{
		logg:       params.Logger,
		candidates: params.Candidates,
		fetcher:    params.Fetcher,
		reconciler: params.Reconciler,
		now:        now,
		limit:      limit,
		lookahead:  lookahead,
	}, nil
}

type subscriptionReconcileJob struct {
	logg       *logger.Logger
	candidates reconcileCandidates
	fetcher    billing.SubscriptionFetcher
	reconciler eventApplier
	now        func() time.Time
	limit      int
	lookahead  time.Duration
}

func (j *subscriptionReconcileJob) Name() string { return "subscription-reconcile" }

func (j *subscriptionReconcileJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	subs, err := j.candidates.ListSubscriptionsForReconciliation(ctx, now, j.lookahead, j.limit)
	if err != nil {
		return fmt.Errorf("list subscriptions for reconciliation: %w", err)
	}
	var errs error
	applied := 0
	for i := range subs {
		outcome, err := j.reconcile(ctx, &subs[i], now)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("reconcile %s: %w", subs[i].BillingRef, err))
			continue
		}
		if outcome == enums.BillingEventOutcomeApplied {
			applied++
		}
	}
	reportCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(subs),
		"applied":    applied,
		"failed":     len(multierr.Errors(errs)),
	})
	j.logg.Info(reportCtx, "subscription reconcile loop complete")
	return errs
}

func (j *subscriptionReconcileJob) reconcile(ctx context.Context, sub *models.Subscription, now time.Time) (enums.BillingEventOutcome, error) {
	if strings.TrimSpace(sub.BillingRef) == "" {
		return "", nil
	}
	snap, err := j.fetcher.FetchSubscription(ctx, sub.BillingRef)
	if err != nil {
		return "", err
	}
	if snap == nil {
		return "", fmt.Errorf("provider returned no subscription")
	}
	id := fmt.Sprintf("reconcile:%s:%d", sub.BillingRef, now.Unix())
	result, err := j.reconciler.ApplyEvent(ctx, billing.EventFromSnapshot(id, sub.UserID, sub.Platform, snap, now))
	if err != nil {
		return "", err
	}
	if result.Outcome == enums.BillingEventOutcomeApplied && result.Status != sub.Status {
		logCtx := j.logg.WithSubject(ctx, sub.UserID, sub.Platform)
		logCtx = j.logg.WithFields(logCtx, map[string]any{
			"billing_ref": sub.BillingRef,
			"from":        sub.Status,
			"to":          result.Status,
		})
		j.logg.Info(logCtx, "subscription drift corrected")
	}
	return result.Outcome, nil
}
