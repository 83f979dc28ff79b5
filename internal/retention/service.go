package retention

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	"github.com/angelmondragon/entitlements-backend/pkg/metrics"
	"github.com/angelmondragon/entitlements-backend/pkg/outbox"
	"github.com/angelmondragon/entitlements-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/entitlements-backend/pkg/pagination"
)

// DefaultInterventionCooldown is the minimum gap between two interventions for
// the same (user, platform).
const DefaultInterventionCooldown = 72 * time.Hour

// Reminder dedupe keys. Each trial gets at most one reminder per key.
const (
	ReminderKeyThreeDays = "trial_ending_3d"
	ReminderKeyOneDay    = "trial_ending_1d"
)

// Decision is outreach the notification dispatcher should act on.
type Decision struct {
	UserID     string
	Platform   string
	Kind       enums.RetentionDecisionKind
	Urgency    enums.Urgency
	Reason     string
	DedupeKey  string
	ChurnScore *int
	DecidedAt  time.Time
}

// Outcome describes what Record did with a decision.
type Outcome string

const (
	OutcomeRecorded  Outcome = "recorded"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeCooldown  Outcome = "cooldown"
)

// Result is returned by Record.
type Result struct {
	Outcome    Outcome
	DecisionID uuid.UUID
}

type decisionsRepository interface {
	InsertIfAbsentTx(tx *gorm.DB, decision *models.RetentionDecision) (bool, error)
	LatestTx(tx *gorm.DB, userID, platform string, kind enums.RetentionDecisionKind) (*models.RetentionDecision, error)
	List(ctx context.Context, userID, platform string, cursor *pagination.Cursor, limit int) ([]models.RetentionDecision, *pagination.Cursor, error)
}

type trialLister interface {
	ListEndingBetween(ctx context.Context, from, to time.Time, limit int) ([]models.Trial, error)
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.Event) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams groups dependencies for the retention service.
type ServiceParams struct {
	Repo                 decisionsRepository
	Trials               trialLister
	Outbox               outboxEmitter
	TransactionRunner    txRunner
	InterventionCooldown time.Duration
	Metrics              *metrics.RetentionMetrics
	Logger               *logger.Logger
}

// Service persists retention decisions and hands them to the outbox.
type Service struct {
	repo     decisionsRepository
	trials   trialLister
	outbox   outboxEmitter
	tx       txRunner
	cooldown time.Duration
	metrics  *metrics.RetentionMetrics
	logg     *logger.Logger
}

// NewService builds a retention service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("retention repository required")
	}
	if params.Trials == nil {
		return nil, fmt.Errorf("trial lister required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	cooldown := params.InterventionCooldown
	if cooldown <= 0 {
		cooldown = DefaultInterventionCooldown
	}
	return &Service{
		repo:     params.Repo,
		trials:   params.Trials,
		outbox:   params.Outbox,
		tx:       params.TransactionRunner,
		cooldown: cooldown,
		metrics:  params.Metrics,
		logg:     params.Logger,
	}, nil
}

// Record persists decision and queues its notification event in one
// transaction. A reused dedupe key or an intervention inside the cooldown
// window is reported through Result and is not an error.
func (s *Service) Record(ctx context.Context, decision Decision) (Result, error) {
	if err := validate(&decision); err != nil {
		return Result{}, err
	}

	row := &models.RetentionDecision{
		UserID:     decision.UserID,
		Platform:   decision.Platform,
		Kind:       decision.Kind,
		DedupeKey:  decision.DedupeKey,
		Urgency:    decision.Urgency,
		Reason:     decision.Reason,
		ChurnScore: decision.ChurnScore,
		DecidedAt:  decision.DecidedAt,
	}

	var result Result
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if decision.Kind == enums.RetentionDecisionIntervention {
			last, err := s.repo.LatestTx(tx, decision.UserID, decision.Platform, decision.Kind)
			if err != nil {
				return err
			}
			if last != nil && decision.DecidedAt.Sub(last.DecidedAt) < s.cooldown {
				result = Result{Outcome: OutcomeCooldown, DecisionID: last.ID}
				return nil
			}
		}

		inserted, err := s.repo.InsertIfAbsentTx(tx, row)
		if err != nil {
			return err
		}
		if !inserted {
			result = Result{Outcome: OutcomeDuplicate}
			return nil
		}
		result = Result{Outcome: OutcomeRecorded, DecisionID: row.ID}

		return s.outbox.Emit(ctx, tx, outbox.Event{
			EventType:     enums.EventRetentionDecisionRecorded,
			AggregateType: enums.AggregateRetentionDecision,
			AggregateID:   row.ID,
			Actor:         &outbox.ActorRef{Kind: outbox.ActorSystem},
			OccurredAt:    row.DecidedAt,
			Data: payloads.RetentionDecisionRecordedEvent{
				DecisionID: row.ID.String(),
				UserID:     row.UserID,
				Platform:   row.Platform,
				Kind:       string(row.Kind),
				Urgency:    string(row.Urgency),
				Reason:     row.Reason,
				DedupeKey:  row.DedupeKey,
				ChurnScore: row.ChurnScore,
				DecidedAt:  row.DecidedAt,
			},
		})
	})
	if err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record retention decision")
	}

	if result.Outcome == OutcomeRecorded {
		s.metrics.Observe(string(decision.Kind), string(decision.Urgency))
		if s.logg != nil {
			logCtx := s.logg.WithSubject(ctx, decision.UserID, decision.Platform)
			s.logg.Info(s.logg.WithFields(logCtx, map[string]any{
				"decision_id": result.DecisionID.String(),
				"kind":        decision.Kind,
				"urgency":     decision.Urgency,
				"dedupe_key":  decision.DedupeKey,
			}), "retention decision recorded")
		}
	}
	return result, nil
}

// DecisionsPage is one newest-first page of retention decisions.
type DecisionsPage struct {
	Decisions  []models.RetentionDecision
	NextCursor string
}

// Decisions pages through the decisions recorded for (user, platform).
func (s *Service) Decisions(ctx context.Context, userID, platform string, page pagination.Params) (*DecisionsPage, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	cursor, err := pagination.Parse(page.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, next, err := s.repo.List(ctx, userID, platform, cursor, page.Limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list retention decisions")
	}
	return &DecisionsPage{Decisions: rows, NextCursor: pagination.Encode(next)}, nil
}

// SendReminders records reminders for active trials ending within three days
// of now. It returns how many new reminders were recorded.
func (s *Service) SendReminders(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "limit must be positive")
	}
	now = now.UTC()
	ending, err := s.trials.ListEndingBetween(ctx, now, now.Add(3*24*time.Hour), limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list trials ending soon")
	}

	var (
		recorded int
		errs     error
	)
	for i := range ending {
		decision, ok := ReminderFor(&ending[i], now)
		if !ok {
			continue
		}
		res, err := s.Record(ctx, decision)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("reminder for trial %s: %w", ending[i].ID, err))
			continue
		}
		if res.Outcome == OutcomeRecorded {
			recorded++
		}
	}
	return recorded, errs
}

// ReminderFor builds the trial-ending reminder due at now, if any.
func ReminderFor(trial *models.Trial, now time.Time) (Decision, bool) {
	if trial == nil || !trial.ActiveAt(now) {
		return Decision{}, false
	}
	remaining := trial.EndsAt.Sub(now)
	decision := Decision{
		UserID:    trial.UserID,
		Platform:  trial.Platform,
		Kind:      enums.RetentionDecisionReminder,
		Reason:    "trial_ending",
		DecidedAt: now,
	}
	switch {
	case remaining <= 24*time.Hour:
		decision.Urgency = enums.UrgencyHigh
		decision.DedupeKey = ReminderKeyOneDay
	case remaining <= 3*24*time.Hour:
		decision.Urgency = enums.UrgencyMedium
		decision.DedupeKey = ReminderKeyThreeDays
	default:
		return Decision{}, false
	}
	return decision, true
}

// InterventionUrgency maps a churn level to outreach urgency.
func InterventionUrgency(level enums.ChurnRiskLevel) enums.Urgency {
	switch level {
	case enums.ChurnRiskCritical:
		return enums.UrgencyHigh
	case enums.ChurnRiskHigh:
		return enums.UrgencyMedium
	default:
		return enums.UrgencyLow
	}
}

func validate(d *Decision) error {
	d.UserID = strings.TrimSpace(d.UserID)
	d.Platform = strings.TrimSpace(d.Platform)
	d.DedupeKey = strings.TrimSpace(d.DedupeKey)
	switch {
	case d.UserID == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	case d.Platform == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "platform is required")
	case !d.Kind.IsValid():
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid decision kind")
	case !d.Urgency.IsValid():
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid urgency")
	case d.DedupeKey == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "dedupe key is required")
	}
	if d.DecidedAt.IsZero() {
		d.DecidedAt = time.Now()
	}
	d.DecidedAt = d.DecidedAt.UTC()
	return nil
}
