package controllers

import (
	"net/http"

	"github.com/angelmondragon/entitlements-backend/api/middleware"
	"github.com/angelmondragon/entitlements-backend/api/responses"
)

func PublicPing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.OK(w, map[string]string{"scope": "public", "status": "ok"})
	}
}

// PrivatePing echoes the caller identity resolved from the bearer token.
func PrivatePing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{"scope": "private", "status": "ok"}
		if user := middleware.UserIDFromContext(r.Context()); user != "" {
			payload["user_id"] = user
		}
		if flags := middleware.VerificationFromContext(r.Context()); len(flags) > 0 {
			payload["verification"] = flags
		}
		responses.OK(w, payload)
	}
}
