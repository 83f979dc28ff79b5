package env

import (
	"os"
	"strings"
)

// First returns the first non-blank value among keys, or fallback. It lets
// prefixed variables (ENT_LOG_FORMAT) shadow their bare forms (LOG_FORMAT).
func First(fallback string, keys ...string) string {
	for _, key := range keys {
		if val := strings.TrimSpace(os.Getenv(key)); val != "" {
			return val
		}
	}
	return fallback
}
