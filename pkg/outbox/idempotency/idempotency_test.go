package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/entitlements-backend/pkg/redis"
)

func newGuard(t *testing.T, ttl time.Duration) (*Guard, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = client.Close() })
	guard, err := NewGuard(client, ttl)
	require.NoError(t, err)
	return guard, mr
}

func TestNewGuardValidation(t *testing.T) {
	_, err := NewGuard(nil, time.Hour)
	assert.ErrorIs(t, err, ErrNoStore)

	mr := miniredis.RunT(t)
	client := redis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	_, err = NewGuard(client, -time.Second)
	assert.Error(t, err)
}

func TestClaimConfirmLifecycle(t *testing.T) {
	ctx := context.Background()
	guard, mr := newGuard(t, 24*time.Hour)
	key := redis.Key("processed", "usage-worker", "evt-1")

	seen, err := guard.CheckAndMarkProcessed(ctx, "usage-worker", "evt-1")
	require.NoError(t, err)
	assert.False(t, seen)
	assert.Equal(t, ClaimLease, mr.TTL(key))

	_, err = guard.CheckAndMarkProcessed(ctx, "usage-worker", "evt-1")
	assert.ErrorIs(t, err, ErrInFlight)

	require.NoError(t, guard.Confirm(ctx, "usage-worker", "evt-1"))
	assert.Equal(t, 24*time.Hour, mr.TTL(key))

	seen, err = guard.CheckAndMarkProcessed(ctx, "usage-worker", "evt-1")
	require.NoError(t, err)
	assert.True(t, seen)

	// Markers are per consumer.
	seen, err = guard.CheckAndMarkProcessed(ctx, "square-webhook", "evt-1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestUnconfirmedClaimLapses(t *testing.T) {
	ctx := context.Background()
	guard, mr := newGuard(t, 24*time.Hour)

	_, err := guard.CheckAndMarkProcessed(ctx, "usage-worker", "evt-2")
	require.NoError(t, err)
	mr.FastForward(ClaimLease + time.Second)

	seen, err := guard.CheckAndMarkProcessed(ctx, "usage-worker", "evt-2")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestConfirmedMarkerExpires(t *testing.T) {
	ctx := context.Background()
	guard, mr := newGuard(t, time.Minute)

	require.NoError(t, guard.Confirm(ctx, "usage-worker", "evt-5"))
	assert.Equal(t, time.Minute, mr.TTL(redis.Key("processed", "usage-worker", "evt-5")))
	mr.FastForward(2 * time.Minute)

	seen, err := guard.Seen(ctx, "usage-worker", "evt-5")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestSeenIgnoresPendingClaims(t *testing.T) {
	ctx := context.Background()
	guard, _ := newGuard(t, time.Hour)

	seen, err := guard.Seen(ctx, "square-webhook", "evt-6")
	require.NoError(t, err)
	assert.False(t, seen)

	_, err = guard.CheckAndMarkProcessed(ctx, "square-webhook", "evt-6")
	require.NoError(t, err)
	seen, err = guard.Seen(ctx, "square-webhook", "evt-6")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, guard.Confirm(ctx, "square-webhook", "evt-6"))
	seen, err = guard.Seen(ctx, "square-webhook", "evt-6")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestDeleteAllowsRetry(t *testing.T) {
	ctx := context.Background()
	guard, _ := newGuard(t, time.Hour)

	_, err := guard.CheckAndMarkProcessed(ctx, "square-webhook", "evt-3")
	require.NoError(t, err)
	require.NoError(t, guard.Delete(ctx, "square-webhook", "evt-3"))

	seen, err := guard.CheckAndMarkProcessed(ctx, "square-webhook", "evt-3")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRequiresIdentifiers(t *testing.T) {
	ctx := context.Background()
	guard, _ := newGuard(t, time.Hour)

	_, err := guard.CheckAndMarkProcessed(ctx, "", "evt")
	assert.ErrorIs(t, err, ErrNoConsumer)
	_, err = guard.CheckAndMarkProcessed(ctx, "usage-worker", "  ")
	assert.ErrorIs(t, err, ErrNoEventID)
	assert.ErrorIs(t, guard.Delete(ctx, " ", "evt"), ErrNoConsumer)
	assert.ErrorIs(t, guard.Confirm(ctx, "usage-worker", ""), ErrNoEventID)
	_, err = guard.Seen(ctx, "", "evt")
	assert.ErrorIs(t, err, ErrNoConsumer)
}

func TestStoreFailure(t *testing.T) {
	guard, mr := newGuard(t, time.Hour)
	mr.Close()

	_, err := guard.CheckAndMarkProcessed(context.Background(), "usage-worker", "evt-4")
	assert.Error(t, err)
}
