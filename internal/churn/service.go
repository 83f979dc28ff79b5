package churn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/entitlements-backend/internal/retention"
	"github.com/angelmondragon/entitlements-backend/internal/usage"
	"github.com/angelmondragon/entitlements-backend/pkg/catalog"
	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

type scoreRepository interface {
	Upsert(ctx context.Context, score *models.ChurnRiskScore) error
	Find(ctx context.Context, userID, platform string) (*models.ChurnRiskScore, error)
}

type trialsReader interface {
	FindByUserPlatform(ctx context.Context, userID, platform string) (*models.Trial, error)
	ListActive(ctx context.Context, now time.Time, after uuid.UUID, limit int) ([]models.Trial, error)
}

type usageHistory interface {
	Stats(ctx context.Context, userID, platform string, since time.Time) (usage.Stats, error)
}

type interventionRecorder interface {
	Record(ctx context.Context, decision retention.Decision) (retention.Result, error)
}

type scoreExporter interface {
	ExportScores(ctx context.Context, scores []models.ChurnRiskScore) error
}

type platformCatalog interface {
	Platform(key string) (catalog.Platform, error)
}

// ServiceParams groups dependencies for the churn scorer. Exporter is optional.
type ServiceParams struct {
	Repo      scoreRepository
	Trials    trialsReader
	History   usageHistory
	Retention interventionRecorder
	Catalog   platformCatalog
	Exporter  scoreExporter
	Logger    *logger.Logger
}

// Service scores active trials and raises interventions for risky ones.
type Service struct {
	repo      scoreRepository
	trials    trialsReader
	history   usageHistory
	retention interventionRecorder
	catalog   platformCatalog
	exporter  scoreExporter
	logg      *logger.Logger
}

// NewService builds a churn scorer.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("churn repository required")
	}
	if params.Trials == nil {
		return nil, fmt.Errorf("trial reader required")
	}
	if params.History == nil {
		return nil, fmt.Errorf("usage history required")
	}
	if params.Retention == nil {
		return nil, fmt.Errorf("retention recorder required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("platform catalog required")
	}
	return &Service{
		repo:      params.Repo,
		trials:    params.Trials,
		history:   params.History,
		retention: params.Retention,
		catalog:   params.Catalog,
		exporter:  params.Exporter,
		logg:      params.Logger,
	}, nil
}

// Score computes and stores the churn score for the subject's active trial.
func (s *Service) Score(ctx context.Context, userID, platform string, now time.Time) (*models.ChurnRiskScore, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	policy, err := s.catalog.Platform(platform)
	if err != nil {
		return nil, err
	}
	now = now.UTC()

	trial, err := s.trials.FindByUserPlatform(ctx, userID, policy.Key)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "trial not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load trial")
	}
	if !trial.ActiveAt(now) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "churn risk is only scored for active trials").
			WithDetails(map[string]any{"status": trial.Status, "ends_at": trial.EndsAt})
	}
	return s.scoreTrial(ctx, *trial, now)
}

// Latest returns the stored score for (user, platform) without recomputing it.
func (s *Service) Latest(ctx context.Context, userID, platform string) (*models.ChurnRiskScore, error) {
	score, err := s.repo.Find(ctx, userID, platform)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load churn score")
	}
	if score == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "churn score not found")
	}
	return score, nil
}

func (s *Service) scoreTrial(ctx context.Context, trial models.Trial, now time.Time) (*models.ChurnRiskScore, error) {
	stats, err := s.history.Stats(ctx, trial.UserID, trial.Platform, trial.StartedAt)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load usage stats")
	}
	features := DeriveFeatures(trial, stats, now)
	result := Compute(features)

	row := &models.ChurnRiskScore{
		UserID:            trial.UserID,
		Platform:          trial.Platform,
		TrialID:           trial.ID,
		Score:             result.Score,
		Level:             result.Level,
		EngagementScore:   result.EngagementScore,
		DaysSinceActivity: features.DaysSinceActivity,
		ActivityRate:      features.ActivityRate,
		DaysRemaining:     features.DaysRemaining,
		TotalActions:      features.TotalActions,
		CalculatedAt:      now,
	}
	if err := s.repo.Upsert(ctx, row); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store churn score")
	}
	return row, nil
}

// SweepResult summarizes one churn sweep.
type SweepResult struct {
	Scored        int
	Interventions int
	Exported      int
}

// Sweep scores every active trial, pageSize at a time, and records an
// intervention for each high or critical score. Item failures are collected
// and do not stop the sweep.
func (s *Service) Sweep(ctx context.Context, now time.Time, pageSize int) (SweepResult, error) {
	if pageSize <= 0 {
		return SweepResult{}, pkgerrors.New(pkgerrors.CodeValidation, "page size must be positive")
	}
	now = now.UTC()

	var (
		result SweepResult
		errs   error
		cursor uuid.UUID
	)
	for {
		page, err := s.trials.ListActive(ctx, now, cursor, pageSize)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("list active trials: %w", err))
			break
		}

		scored := make([]models.ChurnRiskScore, 0, len(page))
		for _, trial := range page {
			score, err := s.scoreTrial(ctx, trial, now)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("score trial %s: %w", trial.ID, err))
				continue
			}
			scored = append(scored, *score)
			result.Scored++

			if !score.Level.NeedsIntervention() {
				continue
			}
			res, err := s.retention.Record(ctx, InterventionFor(score))
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("intervention for trial %s: %w", trial.ID, err))
				continue
			}
			if res.Outcome == retention.OutcomeRecorded {
				result.Interventions++
			}
		}

		if s.exporter != nil && len(scored) > 0 {
			if err := s.exporter.ExportScores(ctx, scored); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("export churn scores: %w", err))
			} else {
				result.Exported += len(scored)
			}
		}

		if len(page) < pageSize {
			break
		}
		cursor = page[len(page)-1].ID
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"scored":        result.Scored,
			"interventions": result.Interventions,
			"exported":      result.Exported,
		})
		if errs != nil {
			s.logg.Error(logCtx, "churn sweep finished with errors", errs)
		} else {
			s.logg.Info(logCtx, "churn sweep finished")
		}
	}
	return result, errs
}

// InterventionFor builds the retention decision for a risky score. The dedupe
// key is per level and calendar day; the retention cooldown spaces them out.
func InterventionFor(score *models.ChurnRiskScore) retention.Decision {
	value := score.Score
	return retention.Decision{
		UserID:     score.UserID,
		Platform:   score.Platform,
		Kind:       enums.RetentionDecisionIntervention,
		Urgency:    retention.InterventionUrgency(score.Level),
		Reason:     "churn_risk_" + string(score.Level),
		DedupeKey:  fmt.Sprintf("churn_%s_%s", score.Level, score.CalculatedAt.UTC().Format("20060102")),
		ChurnScore: &value,
		DecidedAt:  score.CalculatedAt,
	}
}
