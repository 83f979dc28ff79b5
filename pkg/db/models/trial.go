package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/entitlements-backend/pkg/enums"
)

// Trial is the single, non-renewable trial a user may hold per platform.
type Trial struct {
	ID          uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	UserID      string            `gorm:"column:user_id;not null;uniqueIndex:ux_trials_user_platform,priority:1"`
	Platform    string            `gorm:"column:platform;not null;uniqueIndex:ux_trials_user_platform,priority:2"`
	StartedAt   time.Time         `gorm:"column:started_at;not null"`
	EndsAt      time.Time         `gorm:"column:ends_at;not null;index"`
	Status      enums.TrialStatus `gorm:"column:status;type:trial_status;not null;index"`
	UsageCount  int               `gorm:"column:usage_count;not null;default:0"`
	UsageLimit  *int              `gorm:"column:usage_limit"`
	ExpiredAt   *time.Time        `gorm:"column:expired_at"`
	ConvertedAt *time.Time        `gorm:"column:converted_at"`
	CreatedAt   time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (t *Trial) BeforeCreate(*gorm.DB) error { return assignID(&t.ID) }

// ActiveAt reports whether the trial is active and inside its window at now.
func (t Trial) ActiveAt(now time.Time) bool {
	return t.Status == enums.TrialStatusActive && now.Before(t.EndsAt)
}
