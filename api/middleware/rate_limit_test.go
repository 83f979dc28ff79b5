package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
)

type counterFake struct {
	mu     sync.Mutex
	counts map[string]int64
	ttls   map[string]time.Duration
	err    error
}

func newCounterFake() *counterFake {
	return &counterFake{counts: map[string]int64{}, ttls: map[string]time.Duration{}}
}

func (s *counterFake) IncrWithTTL(_ context.Context, key string, ttl time.Duration) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[key]++
	if s.counts[key] == 1 {
		s.ttls[key] = ttl
	}
	return s.counts[key], nil
}

func (s *counterFake) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.counts))
	for k := range s.counts {
		out = append(out, k)
	}
	return out
}

func freezeClock(t *testing.T, at time.Time) {
	t.Helper()
	prev := now
	now = func() time.Time { return at }
	t.Cleanup(func() { now = prev })
}

func userRequest(user string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/access/analytics-pro", nil)
	return req.WithContext(WithUserID(req.Context(), user))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitBlocksAfterLimit(t *testing.T) {
	freezeClock(t, time.Date(2026, 3, 1, 12, 0, 20, 0, time.UTC))
	store := newCounterFake()
	h := RateLimit(NewRateLimitPolicy("Access", time.Minute, 2), store, nil)(okHandler())

	for i, wantRemaining := range []string{"1", "0"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, userRequest("user-1"))
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
		assert.Equal(t, "2", rec.Header().Get(RateLimitLimitHeader))
		assert.Equal(t, wantRemaining, rec.Header().Get(RateLimitRemainingHeader))
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, userRequest("user-1"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get(RateLimitRemainingHeader))
	assert.Equal(t, "40", rec.Header().Get("Retry-After"))
	assert.Equal(t, string(pkgerrors.CodeRateLimit), errorCode(t, rec))

	keys := store.keys()
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], "ent:rl:access:user:user-1:"), keys[0])
	assert.Equal(t, 40*time.Second, store.ttls[keys[0]])
}

func TestRateLimitWindowRollsOver(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 59, 0, time.UTC)
	freezeClock(t, start)
	store := newCounterFake()
	h := RateLimit(NewRateLimitPolicy("access", time.Minute, 1), store, nil)(okHandler())

	h.ServeHTTP(httptest.NewRecorder(), userRequest("u"))

	now = func() time.Time { return start.Add(2 * time.Second) }
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, userRequest("u"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, store.keys(), 2)
}

func TestRateLimitCountsUsersSeparately(t *testing.T) {
	store := newCounterFake()
	h := RateLimit(NewRateLimitPolicy("access", time.Minute, 1), store, nil)(okHandler())

	for _, user := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, userRequest(user))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimitKeysAnonymousCallersByRemoteAddr(t *testing.T) {
	store := newCounterFake()
	h := RateLimit(NewRateLimitPolicy("webhook", time.Minute, 5), store, nil)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "9.9.9.9:4321"
	h.ServeHTTP(httptest.NewRecorder(), req)

	keys := store.keys()
	require.Len(t, keys, 1)
	assert.Contains(t, keys[0], ":ip:9.9.9.9:")
}

func TestRateLimitDisabledPolicyPassesThrough(t *testing.T) {
	store := newCounterFake()
	h := RateLimit(NewRateLimitPolicy("access", 0, 0), store, nil)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, userRequest("u"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, store.keys())
}

func TestRateLimitFailsOpenOnStoreError(t *testing.T) {
	store := newCounterFake()
	store.err = errors.New("redis down")
	h := RateLimit(NewRateLimitPolicy("access", time.Minute, 1), store, nil)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, userRequest("u"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(RateLimitLimitHeader))
}
