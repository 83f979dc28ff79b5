package retention

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
	"github.com/angelmondragon/entitlements-backend/pkg/pagination"
)

// Repository persists retention decisions.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a retention repository to the provided gorm connection.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// InsertIfAbsentTx stores decision unless its dedupe key was already used for
// the same (user, platform, kind). It reports whether a row was written.
func (r *Repository) InsertIfAbsentTx(tx *gorm.DB, decision *models.RetentionDecision) (bool, error) {
	if tx == nil {
		return false, errors.New("transaction required")
	}
	res := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "platform"},
			{Name: "kind"},
			{Name: "dedupe_key"},
		},
		DoNothing: true,
	}).Create(decision)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// LatestTx returns the newest decision of kind for (user, platform), or nil.
func (r *Repository) LatestTx(tx *gorm.DB, userID, platform string, kind enums.RetentionDecisionKind) (*models.RetentionDecision, error) {
	var decision models.RetentionDecision
	err := tx.Where("user_id = ? AND platform = ? AND kind = ?", userID, platform, kind).
		Order("decided_at DESC").
		First(&decision).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &decision, nil
}

// List returns the most recent decisions for (user, platform).
func (r *Repository) List(ctx context.Context, userID, platform string, cursor *pagination.Cursor, limit int) ([]models.RetentionDecision, *pagination.Cursor, error) {
	var rows []models.RetentionDecision
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND platform = ?", userID, platform).
		Scopes(pagination.Keyset("decided_at", cursor, limit)).
		Find(&rows).Error
	if err != nil {
		return nil, nil, err
	}
	page, next := pagination.Trim(rows, limit, func(d models.RetentionDecision) pagination.Cursor {
		return pagination.Cursor{At: d.DecidedAt, ID: d.ID}
	})
	return page, next, nil
}

