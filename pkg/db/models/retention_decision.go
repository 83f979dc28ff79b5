package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/entitlements-backend/pkg/enums"
)

// RetentionDecision records that outreach should happen. Delivery is handled downstream.
type RetentionDecision struct {
	ID         uuid.UUID                   `gorm:"column:id;type:uuid;primaryKey"`
	UserID     string                      `gorm:"column:user_id;not null;uniqueIndex:ux_retention_decisions_dedupe,priority:1"`
	Platform   string                      `gorm:"column:platform;not null;uniqueIndex:ux_retention_decisions_dedupe,priority:2"`
	Kind       enums.RetentionDecisionKind `gorm:"column:kind;type:retention_decision_kind;not null;uniqueIndex:ux_retention_decisions_dedupe,priority:3"`
	DedupeKey  string                      `gorm:"column:dedupe_key;not null;uniqueIndex:ux_retention_decisions_dedupe,priority:4"`
	Urgency    enums.Urgency               `gorm:"column:urgency;type:urgency;not null"`
	Reason     string                      `gorm:"column:reason;not null"`
	ChurnScore *int                        `gorm:"column:churn_score"`
	DecidedAt  time.Time                   `gorm:"column:decided_at;not null"`
	CreatedAt  time.Time                   `gorm:"column:created_at;autoCreateTime"`
}

func (d *RetentionDecision) BeforeCreate(*gorm.DB) error { return assignID(&d.ID) }
