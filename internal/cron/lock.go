package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultLockTTL stays under the hourly cadence so a crashed holder never
// blocks the next cycle.
const DefaultLockTTL = 55 * time.Minute

// ErrLeaseLost means the lock expired or changed hands before Release.
var ErrLeaseLost = errors.New("cron: lease lost before release")

// Locker hands out exclusive leases on a cron cycle.
type Locker interface {
	TryLock(ctx context.Context) (Lease, bool, error)
}

type Lease interface {
	Release(ctx context.Context) error
}

type redisStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
}

// RedisLocker leases a single key with SET NX and a per-lease token.
type RedisLocker struct {
	store redisStore
	key   string
	ttl   time.Duration
	token func() string
}

func NewRedisLocker(store redisStore, key string, ttl time.Duration) (*RedisLocker, error) {
	if store == nil {
		return nil, errors.New("cron: redis store required for lock")
	}
	if key == "" {
		return nil, errors.New("cron: lock key required")
	}
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &RedisLocker{store: store, key: key, ttl: ttl, token: uuid.NewString}, nil
}

func (l *RedisLocker) TryLock(ctx context.Context) (Lease, bool, error) {
	token := l.token()
	ok, err := l.store.SetNX(ctx, l.key, token, l.ttl)
	if err != nil {
		return nil, false, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &redisLease{store: l.store, key: l.key, token: token}, true, nil
}

type redisLease struct {
	store redisStore
	key   string
	token string
}

// Release deletes the key only while it still holds this lease's token.
func (le *redisLease) Release(ctx context.Context) error {
	deleted, err := le.store.CompareAndDelete(ctx, le.key, le.token)
	if err != nil {
		return fmt.Errorf("release %s: %w", le.key, err)
	}
	if !deleted {
		return ErrLeaseLost
	}
	return nil
}
