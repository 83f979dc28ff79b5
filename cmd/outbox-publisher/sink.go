package main

import (
	"context"
	"strconv"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/outbox"
	"github.com/angelmondragon/entitlements-backend/pkg/outbox/registry"
	"github.com/angelmondragon/entitlements-backend/pkg/pubsub"
)

// pubsubSink publishes through the shared client's per-topic publishers.
type pubsubSink struct {
	client *pubsub.Client
}

func (s pubsubSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

func (s pubsubSink) Send(ctx context.Context, topic string, msg *gcppubsub.Message) error {
	pub, err := s.client.Publisher(topic)
	if err != nil {
		return registry.Permanent(err)
	}
	res := pub.Publish(ctx, msg)
	if res == nil {
		return errNilResult
	}
	_, err = res.Get(ctx)
	return err
}

// attributes lets subscribers filter and dedupe without decoding the body.
func attributes(ev models.OutboxEvent, env outbox.PayloadEnvelope) map[string]string {
	attrs := map[string]string{
		"event_id":         env.EventID,
		"outbox_id":        ev.ID.String(),
		"event_type":       string(ev.EventType),
		"aggregate_type":   string(ev.AggregateType),
		"aggregate_id":     ev.AggregateID.String(),
		"envelope_version": strconv.Itoa(env.Version),
		"occurred_at":      env.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	if env.Actor != nil && env.Actor.Kind != "" {
		attrs["actor_kind"] = env.Actor.Kind
	}
	return attrs
}
