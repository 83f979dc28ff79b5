// Package idempotency deduplicates at-least-once deliveries (outbox events,
// provider webhooks) by marking each (consumer, event) pair in Redis.
package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/angelmondragon/entitlements-backend/pkg/redis"
)

var (
	ErrNoStore    = errors.New("idempotency: store is required")
	ErrNoConsumer = errors.New("idempotency: consumer is required")
	ErrNoEventID  = errors.New("idempotency: event id is required")
	ErrInFlight   = errors.New("idempotency: event is still being processed")
)

// ClaimLease bounds how long an unconfirmed claim blocks redeliveries. A
// worker that dies mid-event loses its claim once the lease runs out.
const ClaimLease = 5 * time.Minute

const (
	markerPending = "pending"
	markerDone    = "done"
)

type markStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

// Guard remembers processed events for ttl. A zero ttl keeps markers forever.
type Guard struct {
	store markStore
	ttl   time.Duration
}

func NewGuard(store markStore, ttl time.Duration) (*Guard, error) {
	if store == nil {
		return nil, ErrNoStore
	}
	if ttl < 0 {
		return nil, errors.New("idempotency: ttl must be non-negative")
	}
	return &Guard{store: store, ttl: ttl}, nil
}

// CheckAndMarkProcessed claims eventID for consumer. It returns true when
// the event was already confirmed and ErrInFlight while another claim is
// pending. The winner must Confirm on success or Delete on failure.
func (g *Guard) CheckAndMarkProcessed(ctx context.Context, consumer, eventID string) (bool, error) {
	key, err := markerKey(consumer, eventID)
	if err != nil {
		return false, err
	}
	won, err := g.store.SetNX(ctx, key, markerPending, g.lease())
	if err != nil {
		return false, err
	}
	if won {
		return false, nil
	}
	state, err := g.store.Get(ctx, key)
	switch {
	case errors.Is(err, redis.Nil):
		// Claim lapsed between the two calls.
		return false, ErrInFlight
	case err != nil:
		return false, err
	case state == markerPending:
		return false, ErrInFlight
	}
	return true, nil
}

// Seen reports whether eventID has been confirmed for consumer.
func (g *Guard) Seen(ctx context.Context, consumer, eventID string) (bool, error) {
	key, err := markerKey(consumer, eventID)
	if err != nil {
		return false, err
	}
	state, err := g.store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return state == markerDone, nil
}

// Confirm records eventID as processed for the full ttl.
func (g *Guard) Confirm(ctx context.Context, consumer, eventID string) error {
	key, err := markerKey(consumer, eventID)
	if err != nil {
		return err
	}
	return g.store.Set(ctx, key, markerDone, g.ttl)
}

// Delete drops the marker so a failed delivery is processed again on retry.
func (g *Guard) Delete(ctx context.Context, consumer, eventID string) error {
	key, err := markerKey(consumer, eventID)
	if err != nil {
		return err
	}
	return g.store.Del(ctx, key)
}

func (g *Guard) lease() time.Duration {
	if g.ttl > 0 && g.ttl < ClaimLease {
		return g.ttl
	}
	return ClaimLease
}

func markerKey(consumer, eventID string) (string, error) {
	consumer = strings.TrimSpace(consumer)
	eventID = strings.TrimSpace(eventID)
	switch {
	case consumer == "":
		return "", ErrNoConsumer
	case eventID == "":
		return "", ErrNoEventID
	}
	return redis.Key("processed", consumer, eventID), nil
}
