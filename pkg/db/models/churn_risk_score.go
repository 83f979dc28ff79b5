package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/entitlements-backend/pkg/enums"
)

// ChurnRiskScore holds the latest score for one (user, platform); it is overwritten on every sweep.
type ChurnRiskScore struct {
	ID                uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	UserID            string               `gorm:"column:user_id;not null;uniqueIndex:ux_churn_scores_user_platform,priority:1"`
	Platform          string               `gorm:"column:platform;not null;uniqueIndex:ux_churn_scores_user_platform,priority:2"`
	TrialID           uuid.UUID            `gorm:"column:trial_id;type:uuid;not null"`
	Score             int                  `gorm:"column:score;not null"`
	Level             enums.ChurnRiskLevel `gorm:"column:level;type:churn_risk_level;not null"`
	EngagementScore   int                  `gorm:"column:engagement_score;not null"`
	DaysSinceActivity int                  `gorm:"column:days_since_activity;not null"`
	ActivityRate      float64              `gorm:"column:activity_rate;not null"`
	DaysRemaining     int                  `gorm:"column:days_remaining;not null"`
	TotalActions      int                  `gorm:"column:total_actions;not null"`
	CalculatedAt      time.Time            `gorm:"column:calculated_at;not null"`
}

func (ChurnRiskScore) TableName() string { return "churn_risk_scores" }

func (s *ChurnRiskScore) BeforeCreate(*gorm.DB) error { return assignID(&s.ID) }
