package usage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/entitlements-backend/pkg/catalog"
	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

// Event is one recorded user action on a platform.
type Event struct {
	UserID     string    `json:"userId" validate:"required"`
	Platform   string    `json:"platform" validate:"required"`
	Action     string    `json:"action" validate:"required,max=64"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Recorded reports what Record stored.
type Recorded struct {
	EventID      uuid.UUID `json:"eventId"`
	TrialCounted bool      `json:"trialCounted"`
}

type trialCounter interface {
	IncrementUsageForSubjectTx(tx *gorm.DB, userID, platform string) (bool, error)
}

type platformCatalog interface {
	Platform(key string) (catalog.Platform, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams groups dependencies for the usage service.
type ServiceParams struct {
	Trials            trialCounter
	Catalog           platformCatalog
	TransactionRunner txRunner
	Logger            *logger.Logger
	Clock             func() time.Time
}

// Service appends usage events and keeps trial counters in step.
type Service struct {
	trials  trialCounter
	catalog platformCatalog
	tx      txRunner
	logg    *logger.Logger
	now     func() time.Time
}

// NewService builds a usage service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Trials == nil {
		return nil, fmt.Errorf("trial counter required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("platform catalog required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	now := params.Clock
	if now == nil {
		now = time.Now
	}
	return &Service{
		trials:  params.Trials,
		catalog: params.Catalog,
		tx:      params.TransactionRunner,
		logg:    params.Logger,
		now:     now,
	}, nil
}

// Record appends event and bumps the subject's active trial counter, if any.
// Both writes share one transaction.
func (s *Service) Record(ctx context.Context, event Event) (Recorded, error) {
	userID := strings.TrimSpace(event.UserID)
	if userID == "" {
		return Recorded{}, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	action := strings.TrimSpace(event.Action)
	if action == "" {
		return Recorded{}, pkgerrors.New(pkgerrors.CodeValidation, "action is required")
	}
	policy, err := s.catalog.Platform(event.Platform)
	if err != nil {
		return Recorded{}, err
	}
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.now()
	}

	row := &models.UsageEvent{
		UserID:     userID,
		Platform:   policy.Key,
		Action:     action,
		OccurredAt: occurredAt.UTC(),
	}
	var counted bool
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		var err error
		counted, err = s.trials.IncrementUsageForSubjectTx(tx, userID, policy.Key)
		return err
	})
	if err != nil {
		return Recorded{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record usage event")
	}

	if s.logg != nil {
		logCtx := s.logg.WithSubject(ctx, userID, policy.Key)
		s.logg.Info(s.logg.WithFields(logCtx, map[string]any{
			"usage_event_id": row.ID.String(),
			"action":         action,
			"trial_counted":  counted,
		}), "usage event recorded")
	}
	return Recorded{EventID: row.ID, TrialCounted: counted}, nil
}
