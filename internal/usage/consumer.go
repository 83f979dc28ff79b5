package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/entitlements-backend/pkg/db"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	"github.com/angelmondragon/entitlements-backend/pkg/outbox/idempotency"
)

const usageConsumerName = "usage-ingest"

type recorder interface {
	Record(ctx context.Context, event Event) (Recorded, error)
}

type idempotencyGuard interface {
	CheckAndMarkProcessed(ctx context.Context, consumer, eventID string) (bool, error)
	Confirm(ctx context.Context, consumer, eventID string) error
	Delete(ctx context.Context, consumer, eventID string) error
}

// Message is the wire shape published to the usage topic.
type Message struct {
	EventID string `json:"eventId"`
	Event
}

// Consumer ingests usage events delivered at least once from Pub/Sub.
type Consumer struct {
	recorder     recorder
	subscription *pubsub.Subscriber
	idempotency  idempotencyGuard
	logg         *logger.Logger
}

// NewConsumer builds a usage consumer.
func NewConsumer(rec recorder, subscription *pubsub.Subscriber, guard idempotencyGuard, logg *logger.Logger) (*Consumer, error) {
	if rec == nil {
		return nil, fmt.Errorf("usage recorder required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("usage subscription required")
	}
	if guard == nil {
		return nil, fmt.Errorf("idempotency guard required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		recorder:     rec,
		subscription: subscription,
		idempotency:  guard,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.process(ctx, msg.ID, msg.Data).nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, messageID string, data []byte) processResult {
	logCtx := c.logg.WithField(ctx, "message_id", messageID)

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logg.Error(logCtx, "failed to decode usage message", err)
		return processResult{ack: true}
	}
	key := strings.TrimSpace(msg.EventID)
	if key == "" {
		key = messageID
	}
	logCtx = c.logg.WithSubject(logCtx, msg.UserID, msg.Platform)

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, usageConsumerName, key)
	if errors.Is(err, idempotency.ErrInFlight) {
		c.logg.Info(logCtx, "usage event claimed by another delivery")
		return processResult{nack: true}
	}
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "usage event already processed")
		return processResult{ack: true}
	}

	if _, err := c.recorder.Record(ctx, msg.Event); err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			c.logg.Warn(logCtx, "dropping invalid usage event")
			return c.settle(logCtx, key)
		}
		if db.Permanent(err) {
			c.logg.Error(c.logg.WithFields(logCtx, pkgerrors.LogFields(err)), "dropping usage event the store rejects", err)
			return c.settle(logCtx, key)
		}
		c.logg.Error(logCtx, "usage ingest failed", err)
		// The claim must go even when the delivery context is done, or the
		// redelivery would find it and be dropped.
		if delErr := c.idempotency.Delete(context.WithoutCancel(ctx), usageConsumerName, key); delErr != nil {
			c.logg.Error(logCtx, "release usage idempotency claim", delErr)
		}
		return processResult{nack: true}
	}
	return c.settle(logCtx, key)
}

// settle confirms the claim so later redeliveries are acked without work.
func (c *Consumer) settle(ctx context.Context, key string) processResult {
	if err := c.idempotency.Confirm(context.WithoutCancel(ctx), usageConsumerName, key); err != nil {
		c.logg.Error(ctx, "confirm usage idempotency claim", err)
	}
	return processResult{ack: true}
}
