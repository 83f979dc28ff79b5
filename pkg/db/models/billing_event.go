package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/entitlements-backend/pkg/enums"
)

// BillingEvent is the append-only audit ledger of every reconciled provider event.
type BillingEvent struct {
	ID              uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	ProviderEventID string                    `gorm:"column:provider_event_id;not null;index"`
	Kind            enums.BillingEventKind    `gorm:"column:kind;type:billing_event_kind;not null"`
	UserID          string                    `gorm:"column:user_id;not null;index:ix_billing_events_user_platform,priority:1"`
	Platform        string                    `gorm:"column:platform;not null;index:ix_billing_events_user_platform,priority:2"`
	BillingRef      string                    `gorm:"column:billing_ref;not null"`
	Status          enums.SubscriptionStatus  `gorm:"column:status;type:subscription_status"`
	PeriodEnd       time.Time                 `gorm:"column:period_end;not null"`
	Outcome         enums.BillingEventOutcome `gorm:"column:outcome;type:billing_event_outcome;not null"`
	Detail          *string                   `gorm:"column:detail"`
	OccurredAt      time.Time                 `gorm:"column:occurred_at;not null"`
	ProcessedAt     time.Time                 `gorm:"column:processed_at;not null"`
}

func (e *BillingEvent) BeforeCreate(*gorm.DB) error { return assignID(&e.ID) }
