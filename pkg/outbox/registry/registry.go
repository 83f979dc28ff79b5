// Package registry routes outbox rows to Pub/Sub topics and decodes their
// typed payloads. A row the registry cannot make sense of is permanent: the
// publisher dead-letters it instead of retrying.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/angelmondragon/entitlements-backend/pkg/config"
	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
	"github.com/angelmondragon/entitlements-backend/pkg/outbox"
	"github.com/angelmondragon/entitlements-backend/pkg/outbox/payloads"
)

// ErrPermanent marks failures that no amount of retrying will fix.
var ErrPermanent = errors.New("outbox: permanent failure")

// Permanent tags err so IsPermanent reports true for it.
func Permanent(err error) error {
	if err == nil {
		return ErrPermanent
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// IsPermanent reports whether err (or anything it wraps) was tagged Permanent.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// Route binds an event type to its aggregate, destination topic and payload shape.
type Route struct {
	Event     enums.OutboxEventType
	Aggregate enums.OutboxAggregateType
	Topic     string

	decode func(json.RawMessage) (any, error)
}

// Resolved is a decoded outbox row ready to publish.
type Resolved struct {
	Route    Route
	Envelope outbox.PayloadEnvelope
	Payload  any
}

// Registry is immutable after New and safe for concurrent use.
type Registry struct {
	routes map[enums.OutboxEventType]Route
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func route[T any](event enums.OutboxEventType, aggregate enums.OutboxAggregateType, topic string) Route {
	return Route{
		Event:     event,
		Aggregate: aggregate,
		Topic:     topic,
		decode: func(raw json.RawMessage) (any, error) {
			payload := new(T)
			dec := json.NewDecoder(bytes.NewReader(raw))
			if err := dec.Decode(payload); err != nil {
				return nil, err
			}
			if err := validate.Struct(payload); err != nil {
				return nil, err
			}
			return payload, nil
		},
	}
}

// New builds the registry. Retention decisions feed the notification
// dispatcher; every lifecycle event goes to the domain topic.
func New(cfg config.PubSubConfig) (*Registry, error) {
	if cfg.NotificationTopic == "" {
		return nil, errors.New("registry: notification topic is required")
	}
	if cfg.DomainTopic == "" {
		return nil, errors.New("registry: domain topic is required")
	}

	routes := []Route{
		route[payloads.TrialActivatedEvent](enums.EventTrialActivated, enums.AggregateTrial, cfg.DomainTopic),
		route[payloads.TrialConvertedEvent](enums.EventTrialConverted, enums.AggregateTrial, cfg.DomainTopic),
		route[payloads.SubscriptionStatusChangedEvent](enums.EventSubscriptionStatusChanged, enums.AggregateSubscription, cfg.DomainTopic),
		route[payloads.RetentionDecisionRecordedEvent](enums.EventRetentionDecisionRecorded, enums.AggregateRetentionDecision, cfg.NotificationTopic),
	}

	reg := &Registry{routes: make(map[enums.OutboxEventType]Route, len(routes))}
	for _, r := range routes {
		reg.routes[r.Event] = r
	}
	return reg, nil
}

// Topics lists every destination topic once, sorted.
func (r *Registry) Topics() []string {
	topics := make([]string, 0, len(r.routes))
	for _, rt := range r.routes {
		if !slices.Contains(topics, rt.Topic) {
			topics = append(topics, rt.Topic)
		}
	}
	slices.Sort(topics)
	return topics
}

// Resolve checks the row against its route and decodes the envelope payload.
// Every error it returns is permanent.
func (r *Registry) Resolve(event models.OutboxEvent) (*Resolved, error) {
	rt, ok := r.routes[event.EventType]
	if !ok {
		return nil, Permanent(fmt.Errorf("unsupported event type %q", event.EventType))
	}
	if rt.Aggregate != event.AggregateType {
		return nil, Permanent(fmt.Errorf("%s: aggregate %q, want %q", event.EventType, event.AggregateType, rt.Aggregate))
	}
	if event.AggregateID == uuid.Nil {
		return nil, Permanent(fmt.Errorf("%s: missing aggregate id", event.EventType))
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, Permanent(fmt.Errorf("%s: envelope: %w", event.EventType, err))
	}
	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, Permanent(fmt.Errorf("%s: empty payload", event.EventType))
	}

	payload, err := rt.decode(data)
	if err != nil {
		return nil, Permanent(fmt.Errorf("%s: payload: %w", event.EventType, err))
	}
	return &Resolved{Route: rt, Envelope: envelope, Payload: payload}, nil
}
