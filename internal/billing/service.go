package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/entitlements-backend/pkg/catalog"
	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	"github.com/angelmondragon/entitlements-backend/pkg/metrics"
	"github.com/angelmondragon/entitlements-backend/pkg/outbox"
	"github.com/angelmondragon/entitlements-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/entitlements-backend/pkg/pagination"
)

type grantsRepository interface {
	FindForUpdateTx(tx *gorm.DB, userID, platform string) (*models.AccessGrant, error)
	UpsertTx(tx *gorm.DB, grant *models.AccessGrant) error
	RevokeTx(tx *gorm.DB, userID, platform string, now time.Time) (int64, error)
}

type trialConverter interface {
	ConvertTx(tx *gorm.DB, userID, platform string, now time.Time) (*models.Trial, error)
}

type platformCatalog interface {
	Platform(key string) (catalog.Platform, error)
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.Event) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams groups dependencies for the billing reconciler.
type ServiceParams struct {
	Repo              Repository
	Grants            grantsRepository
	Trials            trialConverter
	Catalog           platformCatalog
	Outbox            outboxEmitter
	Fetcher           SubscriptionFetcher
	TransactionRunner txRunner
	Metrics           *metrics.ReconcileMetrics
	Logger            *logger.Logger
	Clock             func() time.Time
}

// Service folds provider events into Subscription and AccessGrant state.
type Service struct {
	repo    Repository
	grants  grantsRepository
	trials  trialConverter
	catalog platformCatalog
	outbox  outboxEmitter
	fetcher SubscriptionFetcher
	tx      txRunner
	metrics *metrics.ReconcileMetrics
	logg    *logger.Logger
	now     func() time.Time
}

// NewService builds a billing reconciler.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	if params.Grants == nil {
		return nil, errors.New("grants repository is required")
	}
	if params.Trials == nil {
		return nil, errors.New("trial converter is required")
	}
	if params.Catalog == nil {
		return nil, errors.New("platform catalog is required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox emitter is required")
	}
	if params.TransactionRunner == nil {
		return nil, errors.New("transaction runner is required")
	}
	now := params.Clock
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:    params.Repo,
		grants:  params.Grants,
		trials:  params.Trials,
		catalog: params.Catalog,
		outbox:  params.Outbox,
		fetcher: params.Fetcher,
		tx:      params.TransactionRunner,
		metrics: params.Metrics,
		logg:    params.Logger,
		now:     now,
	}, nil
}

// ApplyEvent reconciles one event. Stale and rejected events are recorded in
// the audit ledger and reported through Result without an error; any returned
// error means nothing was committed and the caller must retry.
func (s *Service) ApplyEvent(ctx context.Context, event Event) (Result, error) {
	if err := event.validate(); err != nil {
		return Result{}, err
	}
	policy, err := s.catalog.Platform(event.Platform)
	if err != nil {
		return Result{}, err
	}
	event.Platform = policy.Key
	receivedKind := event.Kind

	if event.Kind == enums.BillingEventPaymentSucceeded {
		if s.fetcher == nil {
			return Result{}, pkgerrors.New(pkgerrors.CodeDependency, "subscription fetcher not configured")
		}
		snap, err := s.fetcher.FetchSubscription(ctx, event.BillingRef)
		if err != nil {
			return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch subscription")
		}
		if snap == nil || !snap.Status.IsValid() || snap.PeriodEnd.IsZero() {
			return Result{}, pkgerrors.New(pkgerrors.CodeDependency, "provider returned incomplete subscription")
		}
		event = event.withSnapshot(snap)
	}

	now := s.now().UTC()
	if event.OccurredAt.IsZero() {
		event.OccurredAt = now
	}

	var result Result
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = s.applyTx(ctx, tx, event, receivedKind, now)
		return err
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return Result{}, err
		}
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply billing event")
	}

	s.metrics.Observe(string(receivedKind), string(result.Outcome))
	if s.logg != nil {
		logCtx := s.logg.WithSubject(ctx, event.UserID, event.Platform)
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"event_id":    event.ID,
			"kind":        receivedKind,
			"billing_ref": event.BillingRef,
			"outcome":     result.Outcome,
			"status":      result.Status,
		})
		if result.Outcome == enums.BillingEventOutcomeApplied {
			s.logg.Info(logCtx, "billing event applied")
		} else {
			s.logg.Warn(s.logg.WithField(logCtx, "detail", result.Detail), "billing event not applied")
		}
	}
	return result, nil
}

func (s *Service) applyTx(ctx context.Context, tx *gorm.DB, event Event, receivedKind enums.BillingEventKind, now time.Time) (Result, error) {
	repo := s.repo.WithTx(tx)
	target := targetStatus(event)

	incoming := &models.Subscription{UserID: event.UserID, Platform: event.Platform}
	applyEventFields(incoming, event, target, now)
	created, err := repo.InsertSubscriptionIfAbsent(ctx, incoming)
	if err != nil {
		return Result{}, fmt.Errorf("insert subscription: %w", err)
	}

	sub := incoming
	var previous enums.SubscriptionStatus
	if !created {
		current, err := repo.LockSubscription(ctx, event.UserID, event.Platform)
		if err != nil {
			return Result{}, fmt.Errorf("lock subscription: %w", err)
		}
		outcome, detail := compare(current, event, target)
		if outcome != enums.BillingEventOutcomeApplied {
			if err := s.recordTx(ctx, repo, event, receivedKind, target, outcome, detail, now); err != nil {
				return Result{}, err
			}
			return Result{
				Outcome:        outcome,
				Detail:         detail,
				SubscriptionID: current.ID.String(),
				Status:         current.Status,
			}, nil
		}
		previous = current.Status
		applyEventFields(current, event, target, now)
		if err := repo.SaveSubscription(ctx, current); err != nil {
			return Result{}, fmt.Errorf("save subscription: %w", err)
		}
		sub = current
	}

	if err := s.applyAccessEffectsTx(ctx, tx, sub, event.Kind, now); err != nil {
		return Result{}, err
	}
	if previous != sub.Status {
		if err := s.emitStatusChangedTx(ctx, tx, sub, previous); err != nil {
			return Result{}, err
		}
	}
	if err := s.recordTx(ctx, repo, event, receivedKind, target, enums.BillingEventOutcomeApplied, "", now); err != nil {
		return Result{}, err
	}
	return Result{
		Outcome:        enums.BillingEventOutcomeApplied,
		SubscriptionID: sub.ID.String(),
		Status:         sub.Status,
	}, nil
}

// compare applies the out-of-order guard: the provider's period end, not
// arrival order, decides which event wins.
func compare(current *models.Subscription, event Event, target enums.SubscriptionStatus) (enums.BillingEventOutcome, string) {
	if current.BillingRef != event.BillingRef {
		if event.PeriodEnd.After(current.CurrentPeriodEnd) {
			return enums.BillingEventOutcomeApplied, ""
		}
		return enums.BillingEventOutcomeStale, "billing reference superseded by " + current.BillingRef
	}
	if event.PeriodEnd.Before(current.CurrentPeriodEnd) {
		return enums.BillingEventOutcomeStale, "period end older than stored period"
	}
	if !current.Status.CanTransitionTo(target) {
		return enums.BillingEventOutcomeRejected, fmt.Sprintf("illegal transition %s -> %s", current.Status, target)
	}
	return enums.BillingEventOutcomeApplied, ""
}

func targetStatus(event Event) enums.SubscriptionStatus {
	if event.Kind == enums.BillingEventSubscriptionDeleted {
		return enums.SubscriptionStatusCanceled
	}
	return event.Status
}

func applyEventFields(sub *models.Subscription, event Event, target enums.SubscriptionStatus, now time.Time) {
	sameLifecycle := sub.BillingRef == event.BillingRef
	sub.BillingRef = event.BillingRef
	if event.CustomerRef != "" {
		sub.CustomerRef = event.CustomerRef
	}
	sub.Status = target
	if !event.PeriodStart.IsZero() {
		sub.CurrentPeriodStart = event.PeriodStart.UTC()
	} else if sub.CurrentPeriodStart.IsZero() {
		sub.CurrentPeriodStart = event.OccurredAt.UTC()
	}
	sub.CurrentPeriodEnd = event.PeriodEnd.UTC()
	sub.TrialStart = utcPtr(event.TrialStart)
	sub.TrialEnd = utcPtr(event.TrialEnd)
	sub.CancelAtPeriodEnd = event.CancelAtPeriodEnd
	if event.SelectedPlan != "" {
		sub.SelectedPlan = event.SelectedPlan
	}
	sub.LastEventID = event.ID
	switch {
	case target != enums.SubscriptionStatusCanceled:
		sub.CanceledAt = nil
	case sub.CanceledAt == nil || !sameLifecycle:
		canceledAt := now
		sub.CanceledAt = &canceledAt
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func (s *Service) applyAccessEffectsTx(ctx context.Context, tx *gorm.DB, sub *models.Subscription, kind enums.BillingEventKind, now time.Time) error {
	switch kind {
	case enums.BillingEventSubscriptionDeleted:
		return s.revokeTx(tx, sub, now)
	case enums.BillingEventPaymentFailed:
		switch {
		case sub.Status.Delinquent():
			return s.revokeTx(tx, sub, now)
		case sub.Status.GrantsAccess():
			return s.refreshGrantTx(tx, sub, now)
		}
		return nil
	}

	if !sub.Status.GrantsAccess() {
		return s.revokeSubscriptionGrantTx(tx, sub, now)
	}
	if err := s.grantTx(tx, sub, now); err != nil {
		return err
	}
	trial, err := s.trials.ConvertTx(tx, sub.UserID, sub.Platform, now)
	if err != nil {
		return fmt.Errorf("convert trial: %w", err)
	}
	if trial == nil {
		return nil
	}
	return s.outbox.Emit(ctx, tx, outbox.Event{
		EventType:     enums.EventTrialConverted,
		AggregateType: enums.AggregateTrial,
		AggregateID:   trial.ID,
		Actor:         &outbox.ActorRef{Kind: outbox.ActorBilling},
		OccurredAt:    now,
		Data: payloads.TrialConvertedEvent{
			TrialID:        trial.ID.String(),
			UserID:         trial.UserID,
			Platform:       trial.Platform,
			SubscriptionID: sub.ID.String(),
			ConvertedAt:    now,
		},
	})
}

// grantTx keeps granted_at stable when the grant already points at sub, so
// replays leave the grant unchanged.
func (s *Service) grantTx(tx *gorm.DB, sub *models.Subscription, now time.Time) error {
	current, err := s.grants.FindForUpdateTx(tx, sub.UserID, sub.Platform)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("load access grant: %w", err)
	}
	grantedAt := now
	if current != nil && current.IsActive && current.Source == enums.AccessSourceSubscription &&
		current.SourceSubscriptionID != nil && *current.SourceSubscriptionID == sub.ID {
		grantedAt = current.GrantedAt
	}
	subID := sub.ID
	grant := &models.AccessGrant{
		UserID:               sub.UserID,
		Platform:             sub.Platform,
		IsActive:             true,
		Source:               enums.AccessSourceSubscription,
		GrantedAt:            grantedAt,
		ExpiresAt:            sub.AccessUntil(),
		SourceSubscriptionID: &subID,
	}
	if err := s.grants.UpsertTx(tx, grant); err != nil {
		return fmt.Errorf("upsert access grant: %w", err)
	}
	return nil
}

// refreshGrantTx moves expires_at of the grant this subscription already holds
// to the new period end. Grants from other sources are left alone.
func (s *Service) refreshGrantTx(tx *gorm.DB, sub *models.Subscription, now time.Time) error {
	current, err := s.grants.FindForUpdateTx(tx, sub.UserID, sub.Platform)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load access grant: %w", err)
	}
	if current == nil || !current.IsActive || current.SourceSubscriptionID == nil || *current.SourceSubscriptionID != sub.ID {
		return nil
	}
	return s.grantTx(tx, sub, now)
}

func (s *Service) revokeTx(tx *gorm.DB, sub *models.Subscription, now time.Time) error {
	if _, err := s.grants.RevokeTx(tx, sub.UserID, sub.Platform, now); err != nil {
		return fmt.Errorf("revoke access grant: %w", err)
	}
	return nil
}

// revokeSubscriptionGrantTx leaves trial-backed grants alone.
func (s *Service) revokeSubscriptionGrantTx(tx *gorm.DB, sub *models.Subscription, now time.Time) error {
	current, err := s.grants.FindForUpdateTx(tx, sub.UserID, sub.Platform)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("load access grant: %w", err)
	}
	if !current.IsActive || current.Source != enums.AccessSourceSubscription {
		return nil
	}
	return s.revokeTx(tx, sub, now)
}

func (s *Service) emitStatusChangedTx(ctx context.Context, tx *gorm.DB, sub *models.Subscription, previous enums.SubscriptionStatus) error {
	return s.outbox.Emit(ctx, tx, outbox.Event{
		EventType:     enums.EventSubscriptionStatusChanged,
		AggregateType: enums.AggregateSubscription,
		AggregateID:   sub.ID,
		Actor:         &outbox.ActorRef{UserID: sub.UserID, Kind: outbox.ActorBilling},
		Data: payloads.SubscriptionStatusChangedEvent{
			SubscriptionID:   sub.ID.String(),
			UserID:           sub.UserID,
			Platform:         sub.Platform,
			BillingRef:       sub.BillingRef,
			PreviousStatus:   string(previous),
			Status:           string(sub.Status),
			CurrentPeriodEnd: sub.CurrentPeriodEnd,
			AccessActive:     sub.Status.GrantsAccess(),
		},
	})
}

func (s *Service) recordTx(ctx context.Context, repo Repository, event Event, kind enums.BillingEventKind, target enums.SubscriptionStatus, outcome enums.BillingEventOutcome, detail string, now time.Time) error {
	row := &models.BillingEvent{
		ProviderEventID: event.ID,
		Kind:            kind,
		UserID:          event.UserID,
		Platform:        event.Platform,
		BillingRef:      event.BillingRef,
		Status:          target,
		PeriodEnd:       event.PeriodEnd.UTC(),
		Outcome:         outcome,
		OccurredAt:      event.OccurredAt.UTC(),
		ProcessedAt:     now,
	}
	if detail != "" {
		row.Detail = &detail
	}
	if err := repo.RecordEvent(ctx, row); err != nil {
		return fmt.Errorf("record billing event: %w", err)
	}
	return nil
}

// HistoryPage is one newest-first page of the audit ledger.
type HistoryPage struct {
	Events     []models.BillingEvent
	NextCursor string
}

// History pages through the audit ledger rows for (user, platform).
func (s *Service) History(ctx context.Context, userID, platform string, page pagination.Params) (*HistoryPage, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	cursor, err := pagination.Parse(page.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	events, next, err := s.repo.ListEvents(ctx, userID, platform, cursor, page.Limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list billing events")
	}
	return &HistoryPage{Events: events, NextCursor: pagination.Encode(next)}, nil
}

// Subscription returns the stored subscription for (user, platform), or nil.
func (s *Service) Subscription(ctx context.Context, userID, platform string) (*models.Subscription, error) {
	sub, err := s.repo.FindSubscription(ctx, userID, platform)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	return sub, nil
}
