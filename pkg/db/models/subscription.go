package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/entitlements-backend/pkg/enums"
)

// Subscription mirrors the billing provider's subscription for one (user, platform).
type Subscription struct {
	ID                 uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	UserID             string                   `gorm:"column:user_id;not null;uniqueIndex:ux_subscriptions_user_platform,priority:1"`
	Platform           string                   `gorm:"column:platform;not null;uniqueIndex:ux_subscriptions_user_platform,priority:2"`
	BillingRef         string                   `gorm:"column:billing_ref;not null;index"`
	CustomerRef        string                   `gorm:"column:customer_ref"`
	Status             enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null"`
	CurrentPeriodStart time.Time                `gorm:"column:current_period_start;not null"`
	CurrentPeriodEnd   time.Time                `gorm:"column:current_period_end;not null;index"`
	TrialStart         *time.Time               `gorm:"column:trial_start"`
	TrialEnd           *time.Time               `gorm:"column:trial_end"`
	CancelAtPeriodEnd  bool                     `gorm:"column:cancel_at_period_end;not null;default:false"`
	CanceledAt         *time.Time               `gorm:"column:canceled_at"`
	SelectedPlan       string                   `gorm:"column:selected_plan"`
	LastEventID        string                   `gorm:"column:last_event_id"`
	CreatedAt          time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *Subscription) BeforeCreate(*gorm.DB) error { return assignID(&s.ID) }

// AccessUntil returns the instant this subscription's access ends.
// Trialing subscriptions with a trial end use it instead of the period end.
func (s Subscription) AccessUntil() time.Time {
	if s.Status == enums.SubscriptionStatusTrialing && s.TrialEnd != nil {
		return *s.TrialEnd
	}
	return s.CurrentPeriodEnd
}

// GrantsAccessAt reports whether the subscription grants access at now.
func (s Subscription) GrantsAccessAt(now time.Time) bool {
	return s.Status.GrantsAccess() && now.Before(s.AccessUntil())
}
