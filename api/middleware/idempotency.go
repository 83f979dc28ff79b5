package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/entitlements-backend/api/responses"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	ReplayedHeader       = "Idempotent-Replayed"

	defaultIdempotencyTTL  = 24 * time.Hour
	criticalIdempotencyTTL = 7 * 24 * time.Hour
	// pendingTTL bounds how long a crashed request can block its key.
	pendingTTL = 2 * time.Minute
)

// IdempotencyStore is the Redis surface the middleware needs.
type IdempotencyStore interface {
	Get(context.Context, string) (string, error)
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	Set(context.Context, string, any, time.Duration) error
	Del(context.Context, ...string) error
	IdempotencyKey(scope, id string) string
}

// idempotentRoutes lists the mutating endpoints that require an
// Idempotency-Key. {name} segments match any single path segment.
var idempotentRoutes = []struct {
	method string
	path   string
	ttl    time.Duration
}{
	{http.MethodPost, "/api/v1/trials", criticalIdempotencyTTL},
	{http.MethodPost, "/api/v1/usage", defaultIdempotencyTTL},
	{http.MethodPost, "/api/v1/experiments/{testId}/conversion", defaultIdempotencyTTL},
}

func routeTTL(method, path string) (time.Duration, bool) {
	for _, route := range idempotentRoutes {
		if route.method == method && matchTemplate(route.path, path) {
			return route.ttl, true
		}
	}
	return 0, false
}

func matchTemplate(template, path string) bool {
	want := strings.Split(strings.Trim(template, "/"), "/")
	got := strings.Split(strings.Trim(path, "/"), "/")
	if len(want) != len(got) {
		return false
	}
	for i, seg := range want {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			if got[i] == "" {
				return false
			}
			continue
		}
		if seg != got[i] {
			return false
		}
	}
	return true
}

// idempotencyRecord is what Redis holds under a key. A record without a
// Status is a reservation for a request still in flight.
type idempotencyRecord struct {
	Fingerprint string `json:"fingerprint"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

func (r idempotencyRecord) pending() bool { return r.Status == 0 }

// Idempotency reserves the key before running the handler, replays the stored
// response for repeats with the same body and rejects reuse with a different
// one. 5xx responses are not cached so the client can retry.
func Idempotency(store IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, ok := routeTTL(r.Method, r.URL.Path)
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			id := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
			if id == "" {
				responses.Fail(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			}
			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.Fail(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			key := store.IdempotencyKey(UserIDFromContext(ctx)+"|"+r.Method+"|"+r.URL.Path, id)
			fingerprint := fingerprintOf(body)

			reservation, _ := json.Marshal(idempotencyRecord{Fingerprint: fingerprint})
			won, err := store.SetNX(ctx, key, string(reservation), pendingTTL)
			if err != nil {
				responses.Fail(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key"))
				return
			}
			if !won {
				replay(ctx, store, logg, w, key, fingerprint)
				return
			}

			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r)

			status := capture.statusOrOK()
			if status >= http.StatusInternalServerError {
				if err := store.Del(ctx, key); err != nil && logg != nil {
					logg.Error(ctx, "release idempotency reservation", err)
				}
				return
			}
			final, _ := json.Marshal(idempotencyRecord{
				Fingerprint: fingerprint,
				Status:      status,
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.body.Bytes(),
			})
			if err := store.Set(ctx, key, string(final), ttl); err != nil && logg != nil {
				logg.Error(ctx, "persist idempotency record", err)
			}
		})
	}
}

func replay(ctx context.Context, store IdempotencyStore, logg *logger.Logger, w http.ResponseWriter, key, fingerprint string) {
	raw, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		responses.Fail(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this Idempotency-Key just finished; retry"))
		return
	}
	if err != nil {
		responses.Fail(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load idempotency record"))
		return
	}
	var rec idempotencyRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		responses.Fail(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	switch {
	case rec.Fingerprint != fingerprint:
		responses.Fail(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
	case rec.pending():
		responses.Fail(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this Idempotency-Key is still in progress"))
	default:
		if rec.ContentType != "" {
			w.Header().Set("Content-Type", rec.ContentType)
		}
		w.Header().Set(ReplayedHeader, "true")
		w.WriteHeader(rec.Status)
		_, _ = w.Write(rec.Body)
	}
}

func fingerprintOf(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseCapture) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseCapture) statusOrOK() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}
