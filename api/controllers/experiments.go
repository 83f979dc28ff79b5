package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/entitlements-backend/api/responses"
	"github.com/angelmondragon/entitlements-backend/api/validators"
	"github.com/angelmondragon/entitlements-backend/internal/experiments"
	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

// ExperimentService assigns variants and evaluates stored outcomes.
type ExperimentService interface {
	AssignOrFetch(ctx context.Context, testID, userID string) (*models.ExperimentAssignment, error)
	MarkConverted(ctx context.Context, testID, userID string) (*models.ExperimentAssignment, error)
	Results(ctx context.Context, testID string) (experiments.Results, error)
}

// maxRelativeEffect bounds the relative lift accepted by the sample-size calculator.
const maxRelativeEffect = 10

func testIDParam(r *http.Request) string {
	return validators.SanitizeString(chi.URLParam(r, "testId"), 128)
}

// ExperimentAssignment returns (drawing on first contact) the caller's variant.
func ExperimentAssignment(svc ExperimentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.Fail(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "experiment service unavailable"))
			return
		}
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		assignment, err := svc.AssignOrFetch(r.Context(), testIDParam(r), userID)
		if err != nil {
			responses.Fail(r.Context(), logg, w, err)
			return
		}
		responses.OK(w, newAssignmentResponse(assignment))
	}
}

// ExperimentConversion marks the caller's assignment as converted.
func ExperimentConversion(svc ExperimentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.Fail(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "experiment service unavailable"))
			return
		}
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		assignment, err := svc.MarkConverted(r.Context(), testIDParam(r), userID)
		if err != nil {
			responses.Fail(r.Context(), logg, w, err)
			return
		}
		responses.OK(w, newAssignmentResponse(assignment))
	}
}

// ExperimentResults evaluates the stored conversions of a test.
func ExperimentResults(svc ExperimentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.Fail(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "experiment service unavailable"))
			return
		}
		results, err := svc.Results(r.Context(), testIDParam(r))
		if err != nil {
			responses.Fail(r.Context(), logg, w, err)
			return
		}
		responses.OK(w, results)
	}
}

type evaluateRequest struct {
	ConversionsA int `json:"conversionsA" validate:"min=0"`
	TotalA       int `json:"totalA" validate:"min=0"`
	ConversionsB int `json:"conversionsB" validate:"min=0"`
	TotalB       int `json:"totalB" validate:"min=0"`
}

// EvaluateExperiment runs the two-proportion z-test on caller-supplied counts.
func EvaluateExperiment(logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req evaluateRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.Fail(r.Context(), logg, w, err)
			return
		}
		result, err := experiments.Evaluate(req.ConversionsA, req.TotalA, req.ConversionsB, req.TotalB)
		if err != nil {
			responses.Fail(r.Context(), logg, w, err)
			return
		}
		responses.OK(w, result)
	}
}

// SampleSize returns the per-variant sample needed to detect mde over baseline.
func SampleSize(logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		baseline, err := validators.ParseQueryFloat(r, "baseline", 0, 1)
		if err != nil {
			responses.Fail(r.Context(), logg, w, err)
			return
		}
		mde, err := validators.ParseQueryFloat(r, "mde", 0, maxRelativeEffect)
		if err != nil {
			responses.Fail(r.Context(), logg, w, err)
			return
		}
		n, err := experiments.MinimumSampleSize(baseline, mde)
		if err != nil {
			responses.Fail(r.Context(), logg, w, err)
			return
		}
		responses.OK(w, map[string]any{
			"baseline":         baseline,
			"mde":              mde,
			"samplePerVariant": n,
			"totalSample":      2 * n,
			"confidence":       0.95,
			"power":            0.8,
		})
	}
}
