package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/entitlements-backend/pkg/enums"
)

// AccessGrant caches the effective access decision for one (user, platform).
// It can always be rebuilt from Trial and Subscription rows.
type AccessGrant struct {
	ID                   uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	UserID               string             `gorm:"column:user_id;not null;uniqueIndex:ux_access_grants_user_platform,priority:1"`
	Platform             string             `gorm:"column:platform;not null;uniqueIndex:ux_access_grants_user_platform,priority:2"`
	IsActive             bool               `gorm:"column:is_active;not null"`
	Source               enums.AccessSource `gorm:"column:source;type:access_source;not null"`
	GrantedAt            time.Time          `gorm:"column:granted_at;not null"`
	ExpiresAt            time.Time          `gorm:"column:expires_at;not null"`
	SourceSubscriptionID *uuid.UUID         `gorm:"column:source_subscription_id;type:uuid"`
	SourceTrialID        *uuid.UUID         `gorm:"column:source_trial_id;type:uuid"`
	RevokedAt            *time.Time         `gorm:"column:revoked_at"`
	UpdatedAt            time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (g *AccessGrant) BeforeCreate(*gorm.DB) error { return assignID(&g.ID) }
