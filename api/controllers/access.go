package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/entitlements-backend/api/middleware"
	"github.com/angelmondragon/entitlements-backend/api/responses"
	"github.com/angelmondragon/entitlements-backend/api/validators"
	"github.com/angelmondragon/entitlements-backend/internal/access"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

const maxPlatformKeyLen = 64

// AccessResolver answers entitlement checks.
type AccessResolver interface {
	ResolveAccess(ctx context.Context, userID, platform string, now time.Time) (access.Decision, error)
}

// ResolveAccess returns the caller's access decision for the platform in the path.
func ResolveAccess(svc AccessResolver, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.Fail(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "access resolver unavailable"))
			return
		}
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}

		decision, err := svc.ResolveAccess(r.Context(), userID, platformParam(r), time.Now())
		if err != nil {
			responses.Fail(r.Context(), logg, w, err)
			return
		}
		responses.OK(w, decision)
	}
}

func requireUser(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (string, bool) {
	userID := strings.TrimSpace(middleware.UserIDFromContext(r.Context()))
	if userID == "" {
		responses.Fail(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
		return "", false
	}
	return userID, true
}

func platformParam(r *http.Request) string {
	return validators.SanitizeString(chi.URLParam(r, "platform"), maxPlatformKeyLen)
}
