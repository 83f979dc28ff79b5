package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/entitlements-backend/api/middleware"
	"github.com/angelmondragon/entitlements-backend/api/responses"
	"github.com/angelmondragon/entitlements-backend/api/validators"
	"github.com/angelmondragon/entitlements-backend/internal/trials"
	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

// TrialService is the subset of the trial manager the HTTP layer needs.
type TrialService interface {
	ActivateTrial(ctx context.Context, userID, platform string, flags trials.VerificationFlags) (*models.Trial, error)
	GetTrial(ctx context.Context, userID, platform string) (*models.Trial, error)
}

type activateTrialRequest struct {
	Platform string `json:"platform" validate:"required,max=64,slug"`
}

// ActivateTrial starts the caller's one trial on a platform. Verification
// flags come from the token, never the body.
func ActivateTrial(svc TrialService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.Fail(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "trial service unavailable"))
			return
		}
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}

		var req activateTrialRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.Fail(r.Context(), logg, w, err)
			return
		}

		flags := trials.VerificationFlags(middleware.VerificationFromContext(r.Context()))
		trial, err := svc.ActivateTrial(r.Context(), userID, validators.SanitizeString(req.Platform, maxPlatformKeyLen), flags)
		if err != nil {
			responses.Fail(r.Context(), logg, w, err)
			return
		}
		responses.Created(w, newTrialResponse(trial))
	}
}

// GetTrial returns the caller's trial on the platform in the path.
func GetTrial(svc TrialService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.Fail(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "trial service unavailable"))
			return
		}
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}

		trial, err := svc.GetTrial(r.Context(), userID, platformParam(r))
		if err != nil {
			responses.Fail(r.Context(), logg, w, err)
			return
		}
		responses.OK(w, newTrialResponse(trial))
	}
}
