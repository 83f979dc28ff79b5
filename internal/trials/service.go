package trials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/entitlements-backend/internal/grants"
	"github.com/angelmondragon/entitlements-backend/pkg/catalog"
	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	"github.com/angelmondragon/entitlements-backend/pkg/outbox"
	"github.com/angelmondragon/entitlements-backend/pkg/outbox/payloads"
)

// Conflict reasons returned in error details when a trial already exists.
const (
	ReasonAlreadyActive = "already_active"
	ReasonAlreadyUsed   = "already_used"
)

// VerificationFlags are caller-supplied identity signals such as email_verified.
type VerificationFlags map[string]bool

type trialsRepository interface {
	InsertIfAbsentTx(tx *gorm.DB, trial *models.Trial) (bool, error)
	FindByUserPlatform(ctx context.Context, userID, platform string) (*models.Trial, error)
	FindByUserPlatformTx(tx *gorm.DB, userID, platform string) (*models.Trial, error)
	IncrementUsage(ctx context.Context, id uuid.UUID) (*models.Trial, error)
	ExpireIfActiveTx(tx *gorm.DB, id uuid.UUID, now time.Time) (bool, error)
	ListDueForExpiry(ctx context.Context, now time.Time, limit int) ([]models.Trial, error)
}

type grantsRepository interface {
	FindForUpdateTx(tx *gorm.DB, userID, platform string) (*models.AccessGrant, error)
	UpsertTx(tx *gorm.DB, grant *models.AccessGrant) error
	RevokeTrialGrantTx(tx *gorm.DB, trialID uuid.UUID, now time.Time) (int64, error)
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

// Service manages the one-trial-per-platform lifecycle.
type Service interface {
	ActivateTrial(ctx context.Context, userID, platform string, flags VerificationFlags) (*models.Trial, error)
	IncrementUsage(ctx context.Context, trialID uuid.UUID) (*models.Trial, error)
	GetTrial(ctx context.Context, userID, platform string) (*models.Trial, error)
	ExpireDue(ctx context.Context, now time.Time, limit int) (int, error)
}

// ServiceParams groups dependencies for the trial service.
type ServiceParams struct {
	Repo              trialsRepository
	Grants            grantsRepository
	Catalog           platformCatalog
	Outbox            outboxEmitter
	TransactionRunner txRunner
	RequiredFlags     []string
	Logger            *logger.Logger
	Clock             func() time.Time
}

type service struct {
	repo          trialsRepository
	grants        grantsRepository
	catalog       platformCatalog
	outbox        outboxEmitter
	tx            txRunner
	requiredFlags []string
	logg          *logger.Logger
	now           func() time.Time
}

// NewService builds a trial service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("trial repository required")
	}
	if params.Grants == nil {
		return nil, fmt.Errorf("grants repository required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("platform catalog required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	now := params.Clock
	if now == nil {
		now = time.Now
	}
	flags := make([]string, 0, len(params.RequiredFlags))
	for _, flag := range params.RequiredFlags {
		if trimmed := strings.TrimSpace(flag); trimmed != "" {
			flags = append(flags, trimmed)
		}
	}
	return &service{
		repo:          params.Repo,
		grants:        params.Grants,
		catalog:       params.Catalog,
		outbox:        params.Outbox,
		tx:            params.TransactionRunner,
		requiredFlags: flags,
		logg:          params.Logger,
		now:           now,
	}, nil
}

func (s *service) ActivateTrial(ctx context.Context, userID, platform string, flags VerificationFlags) (*models.Trial, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	policy, err := s.catalog.Platform(platform)
	if err != nil {
		return nil, err
	}
	if missing := s.missingFlags(flags); len(missing) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotEligible, "verification requirements not met").
			WithDetails(map[string]any{"missing_flags": missing})
	}

	now := s.now().UTC()
	trial := &models.Trial{
		UserID:     userID,
		Platform:   policy.Key,
		StartedAt:  now,
		EndsAt:     now.Add(policy.TrialDuration()),
		Status:     enums.TrialStatusActive,
		UsageLimit: policy.UsageLimit,
	}

	var existing *models.Trial
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		created, err := s.repo.InsertIfAbsentTx(tx, trial)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert trial")
		}
		if !created {
			existing, err = s.repo.FindByUserPlatformTx(tx, userID, policy.Key)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load existing trial")
			}
			return nil
		}

		if err := s.grantTrialAccessTx(tx, trial, now); err != nil {
			return err
		}

		return s.outbox.Emit(ctx, tx, outbox.Event{
			EventType:     enums.EventTrialActivated,
			AggregateType: enums.AggregateTrial,
			AggregateID:   trial.ID,
			Actor:         &outbox.ActorRef{UserID: userID, Kind: outbox.ActorUser},
			OccurredAt:    now,
			Data: payloads.TrialActivatedEvent{
				TrialID:   trial.ID.String(),
				UserID:    userID,
				Platform:  policy.Key,
				StartedAt: trial.StartedAt,
				EndsAt:    trial.EndsAt,
			},
		})
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "activate trial")
	}
	if existing != nil {
		return nil, conflictFor(existing, now)
	}

	if s.logg != nil {
		logCtx := s.logg.WithSubject(ctx, userID, policy.Key)
		s.logg.Info(s.logg.WithFields(logCtx, map[string]any{
			"trial_id": trial.ID.String(),
			"ends_at":  trial.EndsAt,
		}), "trial activated")
	}
	return trial, nil
}

// grantTrialAccessTx points the cached grant at the trial unless a live
// subscription grant already covers the platform.
func (s *service) grantTrialAccessTx(tx *gorm.DB, trial *models.Trial, now time.Time) error {
	current, err := s.grants.FindForUpdateTx(tx, trial.UserID, trial.Platform)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load access grant")
	}
	if grants.SubscriptionBacked(current, now) {
		return nil
	}
	trialID := trial.ID
	grant := &models.AccessGrant{
		UserID:        trial.UserID,
		Platform:      trial.Platform,
		IsActive:      true,
		Source:        enums.AccessSourceTrial,
		GrantedAt:     now,
		ExpiresAt:     trial.EndsAt,
		SourceTrialID: &trialID,
	}
	if err := s.grants.UpsertTx(tx, grant); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert access grant")
	}
	return nil
}

func (s *service) missingFlags(flags VerificationFlags) []string {
	var missing []string
	for _, flag := range s.requiredFlags {
		if !flags[flag] {
			missing = append(missing, flag)
		}
	}
	return missing
}

func conflictFor(existing *models.Trial, now time.Time) error {
	reason := ReasonAlreadyUsed
	message := "trial already used"
	if existing.ActiveAt(now) {
		reason = ReasonAlreadyActive
		message = "trial already active"
	}
	return pkgerrors.New(pkgerrors.CodeConflict, message).WithDetails(map[string]any{
		"reason":   reason,
		"trial_id": existing.ID.String(),
		"status":   existing.Status,
		"ends_at":  existing.EndsAt,
	})
}

func (s *service) IncrementUsage(ctx context.Context, trialID uuid.UUID) (*models.Trial, error) {
	if trialID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "trial id is required")
	}
	trial, err := s.repo.IncrementUsage(ctx, trialID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "trial not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "increment trial usage")
	}
	return trial, nil
}

func (s *service) GetTrial(ctx context.Context, userID, platform string) (*models.Trial, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	policy, err := s.catalog.Platform(platform)
	if err != nil {
		return nil, err
	}
	trial, err := s.repo.FindByUserPlatform(ctx, userID, policy.Key)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "trial not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load trial")
	}
	return trial, nil
}

// ExpireDue flips up to limit overdue trials to expired and revokes their grants.
// Per-trial failures are collected; the rest of the batch still runs.
func (s *service) ExpireDue(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "limit must be positive")
	}
	now = now.UTC()
	due, err := s.repo.ListDueForExpiry(ctx, now, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list trials due for expiry")
	}

	var (
		expired int
		errs    error
	)
	for _, trial := range due {
		trialID := trial.ID
		var flipped bool
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			ok, err := s.repo.ExpireIfActiveTx(tx, trialID, now)
			if err != nil || !ok {
				return err
			}
			flipped = true
			_, err = s.grants.RevokeTrialGrantTx(tx, trialID, now)
			return err
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire trial %s: %w", trialID, err))
			continue
		}
		if flipped {
			expired++
		}
	}

	if s.logg != nil && (expired > 0 || errs != nil) {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"scanned": len(due),
			"expired": expired,
		})
		if errs != nil {
			s.logg.Error(logCtx, "trial expiry sweep finished with errors", errs)
		} else {
			s.logg.Info(logCtx, "trial expiry sweep finished")
		}
	}
	return expired, errs
}
