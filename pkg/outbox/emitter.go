// Package outbox implements the transactional outbox: domain services write
// events in the same transaction as the state change, and a separate relay
// publishes them to Pub/Sub.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

// EnvelopeVersion is bumped when the envelope itself changes shape.
const EnvelopeVersion = 1

// Actor kinds recorded on envelopes.
const (
	ActorUser    = "user"
	ActorBilling = "billing_provider"
	ActorSystem  = "system"
)

// ActorRef identifies who caused the event.
type ActorRef struct {
	UserID string `json:"userId,omitempty"`
	Kind   string `json:"kind,omitempty"`
}

// PayloadEnvelope is what outbox_events.payload holds and what subscribers
// receive as the message body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// Event is one domain fact to record. Data is marshaled as the envelope body.
type Event struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Actor         *ActorRef
	Data          any
	OccurredAt    time.Time
}

type inserter interface {
	Insert(tx *gorm.DB, event models.OutboxEvent) error
}

type Emitter struct {
	rows inserter
	logg *logger.Logger
	now  func() time.Time
}

func NewEmitter(rows *Repository, logg *logger.Logger) *Emitter {
	return &Emitter{rows: rows, logg: logg, now: time.Now}
}

// Emit appends ev inside tx so it commits or rolls back with the state change.
func (e *Emitter) Emit(ctx context.Context, tx *gorm.DB, ev Event) error {
	if tx == nil {
		return errTxRequired
	}
	if ev.AggregateID == uuid.Nil {
		return fmt.Errorf("outbox: %s has no aggregate id", ev.EventType)
	}
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("outbox: marshal %s: %w", ev.EventType, err)
	}
	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = e.now()
	}
	env := PayloadEnvelope{
		Version:    EnvelopeVersion,
		EventID:    uuid.NewString(),
		OccurredAt: occurred.UTC(),
		Actor:      ev.Actor,
		Data:       data,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("outbox: marshal envelope: %w", err)
	}
	if err := e.rows.Insert(tx, models.OutboxEvent{
		EventType:     ev.EventType,
		AggregateType: ev.AggregateType,
		AggregateID:   ev.AggregateID,
		Payload:       body,
	}); err != nil {
		return err
	}

	if e.logg != nil {
		e.logg.Debug(e.logg.WithFields(ctx, map[string]any{
			"event_id":       env.EventID,
			"event_type":     ev.EventType,
			"aggregate_type": ev.AggregateType,
			"aggregate_id":   ev.AggregateID.String(),
		}), "outbox event queued")
	}
	return nil
}
