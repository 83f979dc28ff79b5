package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/entitlements-backend/api/responses"
	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

// ChurnScorer computes churn risk on demand.
type ChurnScorer interface {
	Score(ctx context.Context, userID, platform string, now time.Time) (*models.ChurnRiskScore, error)
}

// ChurnRisk scores the caller's active trial on the platform in the path.
func ChurnRisk(svc ChurnScorer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.Fail(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "churn service unavailable"))
			return
		}
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}

		score, err := svc.Score(r.Context(), userID, platformParam(r), time.Now())
		if err != nil {
			responses.Fail(r.Context(), logg, w, err)
			return
		}
		responses.OK(w, newChurnResponse(score))
	}
}
