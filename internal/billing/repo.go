package billing

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
	"github.com/angelmondragon/entitlements-backend/pkg/pagination"
)

// Repository handles subscription and billing-event persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindSubscription(ctx context.Context, userID, platform string) (*models.Subscription, error)
	LockSubscription(ctx context.Context, userID, platform string) (*models.Subscription, error)
	InsertSubscriptionIfAbsent(ctx context.Context, subscription *models.Subscription) (bool, error)
	SaveSubscription(ctx context.Context, subscription *models.Subscription) error
	FindSubscriptionByBillingRef(ctx context.Context, billingRef string) (*models.Subscription, error)
	ListSubscriptionsForReconciliation(ctx context.Context, now time.Time, lookahead time.Duration, limit int) ([]models.Subscription, error)
	RecordEvent(ctx context.Context, event *models.BillingEvent) error
	ListEvents(ctx context.Context, userID, platform string, cursor *pagination.Cursor, limit int) ([]models.BillingEvent, *pagination.Cursor, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a billing repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// FindSubscription returns nil, nil when no row exists.
func (r *repository) FindSubscription(ctx context.Context, userID, platform string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND platform = ?", userID, platform).
		First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// LockSubscription reads the row with FOR UPDATE; callers must be inside a transaction.
func (r *repository) LockSubscription(ctx context.Context, userID, platform string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND platform = ?", userID, platform).
		First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *repository) InsertSubscriptionIfAbsent(ctx context.Context, subscription *models.Subscription) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "platform"}},
		DoNothing: true,
	}).Create(subscription)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) SaveSubscription(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Save(subscription).Error
}

// FindSubscriptionByBillingRef returns nil, nil when no row carries the reference.
func (r *repository) FindSubscriptionByBillingRef(ctx context.Context, billingRef string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("billing_ref = ?", billingRef).
		Order("current_period_end DESC").
		First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// ListSubscriptionsForReconciliation returns live subscriptions whose period
// ends before now+lookahead, plus delinquent ones, oldest period first.
func (r *repository) ListSubscriptionsForReconciliation(ctx context.Context, now time.Time, lookahead time.Duration, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 250
	}
	if lookahead <= 0 {
		lookahead = 48 * time.Hour
	}
	live := []enums.SubscriptionStatus{
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusTrialing,
	}
	delinquent := []enums.SubscriptionStatus{
		enums.SubscriptionStatusPastDue,
		enums.SubscriptionStatusUnpaid,
	}
	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Where("billing_ref <> ''").
		Where("(status IN ? AND current_period_end <= ?) OR status IN ?", live, now.Add(lookahead), delinquent).
		Order("current_period_end ASC").
		Limit(limit).
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) RecordEvent(ctx context.Context, event *models.BillingEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) ListEvents(ctx context.Context, userID, platform string, cursor *pagination.Cursor, limit int) ([]models.BillingEvent, *pagination.Cursor, error) {
	var events []models.BillingEvent
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND platform = ?", userID, platform).
		Scopes(pagination.Keyset("processed_at", cursor, limit)).
		Find(&events).Error
	if err != nil {
		return nil, nil, err
	}
	page, next := pagination.Trim(events, limit, func(e models.BillingEvent) pagination.Cursor {
		return pagination.Cursor{At: e.ProcessedAt, ID: e.ID}
	})
	return page, next, nil
}
