package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/entitlements-backend/api/responses"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	"github.com/angelmondragon/entitlements-backend/pkg/redis"
)

const (
	RateLimitLimitHeader     = "X-RateLimit-Limit"
	RateLimitRemainingHeader = "X-RateLimit-Remaining"
)

type counterStore interface {
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// RateLimitPolicy is a fixed window of limit requests per caller.
type RateLimitPolicy struct {
	Name   string
	Window time.Duration
	Limit  int
}

func NewRateLimitPolicy(name string, window time.Duration, limit int) RateLimitPolicy {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "api"
	}
	return RateLimitPolicy{Name: name, Window: window, Limit: limit}
}

func (p RateLimitPolicy) enabled() bool { return p.Window > 0 && p.Limit > 0 }

// bucket returns the counter key for subject in the window containing now,
// and how long until that window closes.
func (p RateLimitPolicy) bucket(subject string, now time.Time) (string, time.Duration) {
	w := p.Window.Nanoseconds()
	n := now.UnixNano()
	start := n - n%w
	return redis.Key("rl", p.Name, subject, strconv.FormatInt(start/int64(time.Second), 10)), time.Duration(start + w - n)
}

// subject identifies the caller: the user when authenticated, else the
// remote address (set from proxy headers by chi's RealIP upstream).
func subject(r *http.Request) string {
	if user := UserIDFromContext(r.Context()); user != "" {
		return "user:" + user
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return ""
	}
	return "ip:" + host
}

var now = time.Now

// RateLimit rejects callers over the policy with 429. Store failures let the
// request through: throttling must not take access checks down with Redis.
func RateLimit(policy RateLimitPolicy, store counterStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			who := subject(r)
			if who == "" {
				next.ServeHTTP(w, r)
				return
			}
			key, resetIn := policy.bucket(who, now())
			count, err := store.IncrWithTTL(ctx, key, resetIn)
			if err != nil {
				if logg != nil {
					logg.Error(logg.WithField(ctx, "policy", policy.Name), "rate_limit.store_unavailable", err)
				}
				next.ServeHTTP(w, r)
				return
			}

			remaining := int64(policy.Limit) - count
			w.Header().Set(RateLimitLimitHeader, strconv.Itoa(policy.Limit))
			w.Header().Set(RateLimitRemainingHeader, strconv.FormatInt(max(remaining, 0), 10))
			if remaining >= 0 {
				next.ServeHTTP(w, r)
				return
			}

			retry := max(int64((resetIn+time.Second-1)/time.Second), 1)
			w.Header().Set("Retry-After", strconv.FormatInt(retry, 10))
			if logg != nil {
				logg.Warn(logg.WithFields(ctx, map[string]any{
					"policy":   policy.Name,
					"subject":  who,
					"attempts": count,
					"limit":    policy.Limit,
				}), "rate_limit.blocked")
			}
			responses.Fail(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
		})
	}
}
