package experiments

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/angelmondragon/entitlements-backend/pkg/catalog"
	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

type assignmentRepository interface {
	InsertIfAbsent(ctx context.Context, assignment *models.ExperimentAssignment) (bool, error)
	Find(ctx context.Context, testID, userID string) (*models.ExperimentAssignment, error)
	MarkConverted(ctx context.Context, testID, userID string, at time.Time) (int64, error)
	Tally(ctx context.Context, testID string) ([]VariantTally, error)
}

type experimentCatalog interface {
	Experiment(testID string) catalog.Experiment
}

// ServiceParams groups dependencies for the experiment service.
type ServiceParams struct {
	Repo    assignmentRepository
	Catalog experimentCatalog
	Logger  *logger.Logger
	Clock   func() time.Time
	// Rand returns a value in [0, 1). Defaults to math/rand/v2.
	Rand func() float64
}

// Service assigns users to variants and evaluates stored outcomes.
type Service struct {
	repo    assignmentRepository
	catalog experimentCatalog
	logg    *logger.Logger
	now     func() time.Time
	rand    func() float64
}

// NewService builds an experiment service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("assignment repository required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("experiment catalog required")
	}
	now := params.Clock
	if now == nil {
		now = time.Now
	}
	rnd := params.Rand
	if rnd == nil {
		rnd = rand.Float64
	}
	return &Service{
		repo:    params.Repo,
		catalog: params.Catalog,
		logg:    params.Logger,
		now:     now,
		rand:    rnd,
	}, nil
}

// AssignOrFetch returns the user's variant for testID, drawing and storing one
// on first contact. A stored assignment is never changed; when two callers
// race, the loser reads back the winner's row.
func (s *Service) AssignOrFetch(ctx context.Context, testID, userID string) (*models.ExperimentAssignment, error) {
	testID, userID, err := normalize(testID, userID)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.Find(ctx, testID, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load assignment")
	}
	if existing != nil {
		return existing, nil
	}

	experiment := s.catalog.Experiment(testID)
	assignment := &models.ExperimentAssignment{
		TestID:     testID,
		UserID:     userID,
		Variant:    pickVariant(experiment.Variants, s.rand()),
		AssignedAt: s.now().UTC(),
	}
	inserted, err := s.repo.InsertIfAbsent(ctx, assignment)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store assignment")
	}
	if !inserted {
		winner, err := s.repo.Find(ctx, testID, userID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload assignment")
		}
		if winner == nil {
			return nil, pkgerrors.New(pkgerrors.CodeDependency, "assignment vanished after conflict")
		}
		return winner, nil
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(s.logg.WithUserID(ctx, userID), map[string]any{
			"test_id": testID,
			"variant": assignment.Variant,
		})
		s.logg.Info(logCtx, "experiment variant assigned")
	}
	return assignment, nil
}

// MarkConverted records a conversion for an enrolled user. Repeat calls keep
// the first conversion time.
func (s *Service) MarkConverted(ctx context.Context, testID, userID string) (*models.ExperimentAssignment, error) {
	testID, userID, err := normalize(testID, userID)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.MarkConverted(ctx, testID, userID, s.now().UTC()); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark conversion")
	}
	assignment, err := s.repo.Find(ctx, testID, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load assignment")
	}
	if assignment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user is not enrolled in this test")
	}
	return assignment, nil
}

// Results compares the control with the first challenger of a test.
type Results struct {
	TestID     string         `json:"testId"`
	Control    string         `json:"control"`
	Challenger string         `json:"challenger"`
	Variants   []VariantTally `json:"variants"`
	Evaluation Result         `json:"evaluation"`
	Winner     string         `json:"winner"`
}

// Results evaluates stored outcomes for testID.
func (s *Service) Results(ctx context.Context, testID string) (Results, error) {
	testID = strings.TrimSpace(testID)
	if testID == "" {
		return Results{}, pkgerrors.New(pkgerrors.CodeValidation, "test id is required")
	}
	experiment := s.catalog.Experiment(testID)
	tallies, err := s.repo.Tally(ctx, testID)
	if err != nil {
		return Results{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "tally assignments")
	}

	byVariant := make(map[string]VariantTally, len(tallies))
	for _, t := range tallies {
		byVariant[t.Variant] = t
	}
	ordered := make([]VariantTally, 0, len(experiment.Variants))
	for _, v := range experiment.Variants {
		tally, ok := byVariant[v.Name]
		if !ok {
			tally = VariantTally{Variant: v.Name}
		}
		ordered = append(ordered, tally)
	}

	control, challenger := ordered[0], ordered[1]
	eval, err := Evaluate(int(control.Conversions), int(control.Total), int(challenger.Conversions), int(challenger.Total))
	if err != nil {
		return Results{}, err
	}

	winner := WinnerNone
	switch eval.Winner {
	case WinnerA:
		winner = control.Variant
	case WinnerB:
		winner = challenger.Variant
	}
	return Results{
		TestID:     testID,
		Control:    control.Variant,
		Challenger: challenger.Variant,
		Variants:   ordered,
		Evaluation: eval,
		Winner:     winner,
	}, nil
}

// pickVariant walks the cumulative weights; r must be in [0, 1).
func pickVariant(variants []catalog.Variant, r float64) string {
	var total float64
	for _, v := range variants {
		total += v.Weight
	}
	target := r * total
	var cumulative float64
	for _, v := range variants {
		cumulative += v.Weight
		if target < cumulative {
			return v.Name
		}
	}
	return variants[len(variants)-1].Name
}

func normalize(testID, userID string) (string, string, error) {
	testID = strings.TrimSpace(testID)
	userID = strings.TrimSpace(userID)
	if testID == "" {
		return "", "", pkgerrors.New(pkgerrors.CodeValidation, "test id is required")
	}
	if userID == "" {
		return "", "", pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	return testID, userID, nil
}
