package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/angelmondragon/entitlements-backend/api/responses"
	"github.com/angelmondragon/entitlements-backend/pkg/auth"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

// TokenVerifier turns a raw bearer token into caller claims.
type TokenVerifier interface {
	Verify(raw string) (*auth.AccessTokenClaims, error)
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Auth requires a valid bearer token and seeds the context with the caller.
// Verification flags come only from the token; request bodies cannot set them.
func Auth(tokens TokenVerifier, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if tokens == nil {
				responses.Fail(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "token verifier not configured"))
				return
			}
			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				responses.Fail(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "bearer token required"))
				return
			}
			claims, err := tokens.Verify(raw)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, auth.ErrTokenExpired) {
					msg = "token expired"
				}
				responses.Fail(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, msg))
				return
			}

			ctx = withCaller(ctx, Caller{UserID: claims.UserID, Verification: claims.Verification})
			if logg != nil {
				ctx = logg.WithUserID(ctx, claims.UserID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
