package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/entitlements-backend/api/responses"
	"github.com/angelmondragon/entitlements-backend/api/validators"
	"github.com/angelmondragon/entitlements-backend/internal/usage"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

// UsageRecorder appends usage events.
type UsageRecorder interface {
	Record(ctx context.Context, event usage.Event) (usage.Recorded, error)
}

type recordUsageRequest struct {
	Platform   string     `json:"platform" validate:"required,max=64,slug"`
	Action     string     `json:"action" validate:"required,max=64"`
	OccurredAt *time.Time `json:"occurredAt,omitempty"`
}

// RecordUsage stores one action for the caller.
func RecordUsage(svc UsageRecorder, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.Fail(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "usage service unavailable"))
			return
		}
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}

		var req recordUsageRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.Fail(r.Context(), logg, w, err)
			return
		}

		event := usage.Event{
			UserID:   userID,
			Platform: validators.SanitizeString(req.Platform, maxPlatformKeyLen),
			Action:   validators.SanitizeString(req.Action, 64),
		}
		if req.OccurredAt != nil {
			event.OccurredAt = *req.OccurredAt
		}
		recorded, err := svc.Record(r.Context(), event)
		if err != nil {
			responses.Fail(r.Context(), logg, w, err)
			return
		}
		responses.Created(w, recorded)
	}
}
