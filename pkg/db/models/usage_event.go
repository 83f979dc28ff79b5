package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UsageEvent is one row of the append-only usage history.
type UsageEvent struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	UserID     string    `gorm:"column:user_id;not null;index:ix_usage_events_subject,priority:1"`
	Platform   string    `gorm:"column:platform;not null;index:ix_usage_events_subject,priority:2"`
	Action     string    `gorm:"column:action;not null"`
	OccurredAt time.Time `gorm:"column:occurred_at;not null;index:ix_usage_events_subject,priority:3"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (e *UsageEvent) BeforeCreate(*gorm.DB) error { return assignID(&e.ID) }
