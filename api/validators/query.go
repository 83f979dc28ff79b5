package validators

import (
	"net/http"
	"strconv"
	"strings"

	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
)

func queryError(key, msg string, extra map[string]any) error {
	details := map[string]any{"field": key}
	for k, v := range extra {
		details[k] = v
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "query parameter "+key+" "+msg).WithDetails(details)
}

// ParseQueryInt reads an optional integer within [min, max].
func ParseQueryInt(r *http.Request, key string, fallback, min, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, queryError(key, "must be an integer", nil)
	}
	if n < min || n > max {
		return 0, queryError(key, "out of range", map[string]any{"min": min, "max": max})
	}
	return n, nil
}

// ParseQueryFloat reads a required float strictly inside (min, max).
func ParseQueryFloat(r *http.Request, key string, min, max float64) (float64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, queryError(key, "is required", nil)
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, queryError(key, "must be a number", nil)
	}
	if !(f > min && f < max) {
		return 0, queryError(key, "out of range", map[string]any{"min": min, "max": max})
	}
	return f, nil
}
