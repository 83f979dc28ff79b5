package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS allows browser clients from origins. Only the API's own custom
// headers are exposed back to scripts.
func CORS(origins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", IdempotencyKeyHeader, RequestIDHeader},
		ExposedHeaders: []string{
			RequestIDHeader,
			ReplayedHeader,
			RateLimitLimitHeader,
			RateLimitRemainingHeader,
			"Retry-After",
		},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
