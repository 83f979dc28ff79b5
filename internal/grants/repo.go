package grants

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
)

// Repository persists the access_grants materialized view.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a grants repository to the provided gorm connection.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Find returns the grant for (user, platform) or gorm.ErrRecordNotFound.
func (r *Repository) Find(ctx context.Context, userID, platform string) (*models.AccessGrant, error) {
	return r.find(r.db.WithContext(ctx), userID, platform, false)
}

// FindForUpdateTx locks the grant row for the rest of tx.
func (r *Repository) FindForUpdateTx(tx *gorm.DB, userID, platform string) (*models.AccessGrant, error) {
	return r.find(tx, userID, platform, true)
}

func (r *Repository) find(conn *gorm.DB, userID, platform string, lock bool) (*models.AccessGrant, error) {
	query := conn.Where("user_id = ? AND platform = ?", userID, platform)
	if lock {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var grant models.AccessGrant
	if err := query.First(&grant).Error; err != nil {
		return nil, err
	}
	return &grant, nil
}

// UpsertTx writes grant keyed on (user_id, platform), replacing every mutable column.
func (r *Repository) UpsertTx(tx *gorm.DB, grant *models.AccessGrant) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	grant.UpdatedAt = time.Now().UTC()
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "platform"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"is_active",
			"source",
			"granted_at",
			"expires_at",
			"source_subscription_id",
			"source_trial_id",
			"revoked_at",
			"updated_at",
		}),
	}).Create(grant).Error
}

// RevokeTx deactivates the (user, platform) grant regardless of its source.
func (r *Repository) RevokeTx(tx *gorm.DB, userID, platform string, now time.Time) (int64, error) {
	res := tx.Model(&models.AccessGrant{}).
		Where("user_id = ? AND platform = ? AND is_active = ?", userID, platform, true).
		Updates(map[string]any{
			"is_active":  false,
			"revoked_at": now,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

// RevokeTrialGrantTx deactivates a grant only while it is still backed by trialID.
func (r *Repository) RevokeTrialGrantTx(tx *gorm.DB, trialID uuid.UUID, now time.Time) (int64, error) {
	res := tx.Model(&models.AccessGrant{}).
		Where("source = ? AND source_trial_id = ? AND is_active = ?", enums.AccessSourceTrial, trialID, true).
		Updates(map[string]any{
			"is_active":  false,
			"revoked_at": now,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

// SubscriptionBacked reports whether g is an active, unexpired subscription grant at now.
func SubscriptionBacked(g *models.AccessGrant, now time.Time) bool {
	return g != nil && g.IsActive && g.Source == enums.AccessSourceSubscription && now.Before(g.ExpiresAt)
}
