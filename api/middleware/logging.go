package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

// quietPrefixes are polled by infrastructure and only logged at debug.
var quietPrefixes = []string{"/health/", "/metrics"}

// Logging emits one line per request once the handler returns. The route
// pattern is logged instead of the raw path so ids do not explode cardinality.
func Logging(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logg == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			ctx := logg.WithFields(r.Context(), map[string]any{
				"method":      r.Method,
				"route":       route,
				"status":      status,
				"bytes":       ww.BytesWritten(),
				"duration_ms": time.Since(start).Milliseconds(),
			})

			switch {
			case quiet(r.URL.Path):
				logg.Debug(ctx, "http.request")
			case status >= http.StatusInternalServerError:
				logg.Warn(ctx, "http.request")
			default:
				logg.Info(ctx, "http.request")
			}
		})
	}
}

func quiet(path string) bool {
	for _, p := range quietPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
