package trials

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

// Repository persists trials.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a trial repository to the provided gorm connection.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// InsertIfAbsentTx inserts trial unless (user_id, platform) already exists.
// It reports whether this call created the row.
func (r *Repository) InsertIfAbsentTx(tx *gorm.DB, trial *models.Trial) (bool, error) {
	if tx == nil {
		return false, errors.New("transaction required")
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "platform"}},
		DoNothing: true,
	}).Create(trial)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// FindByUserPlatform returns the trial for (user, platform) or gorm.ErrRecordNotFound.
func (r *Repository) FindByUserPlatform(ctx context.Context, userID, platform string) (*models.Trial, error) {
	return r.FindByUserPlatformTx(r.db.WithContext(ctx), userID, platform)
}

// FindByUserPlatformTx is FindByUserPlatform bound to tx.
func (r *Repository) FindByUserPlatformTx(tx *gorm.DB, userID, platform string) (*models.Trial, error) {
	var trial models.Trial
	if err := tx.Where("user_id = ? AND platform = ?", userID, platform).First(&trial).Error; err != nil {
		return nil, err
	}
	return &trial, nil
}

// FindByID returns the trial by primary key.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Trial, error) {
	var trial models.Trial
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&trial).Error; err != nil {
		return nil, err
	}
	return &trial, nil
}

// IncrementUsage bumps usage_count in a single statement and returns the fresh row.
func (r *Repository) IncrementUsage(ctx context.Context, id uuid.UUID) (*models.Trial, error) {
	res := r.db.WithContext(ctx).Model(&models.Trial{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"usage_count": gorm.Expr("usage_count + ?", 1),
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return r.FindByID(ctx, id)
}

// IncrementUsageForSubjectTx bumps the active trial for (user, platform), if any.
func (r *Repository) IncrementUsageForSubjectTx(tx *gorm.DB, userID, platform string) (bool, error) {
	res := tx.Model(&models.Trial{}).
		Where("user_id = ? AND platform = ? AND status = ?", userID, platform, enums.TrialStatusActive).
		Updates(map[string]any{
			"usage_count": gorm.Expr("usage_count + ?", 1),
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ExpireIfActiveTx flips an active trial whose window closed to expired. The
// status predicate keeps a concurrent conversion from being overwritten.
func (r *Repository) ExpireIfActiveTx(tx *gorm.DB, id uuid.UUID, now time.Time) (bool, error) {
	res := tx.Model(&models.Trial{}).
		Where("id = ? AND status IN ? AND ends_at <= ?", id, enums.TrialSourcesFor(enums.TrialStatusExpired), now).
		Updates(map[string]any{
			"status":     enums.TrialStatusExpired,
			"expired_at": now,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ConvertTx marks the (user, platform) trial converted when its current status allows it.
// It returns the converted trial, or nil when there was nothing to convert.
func (r *Repository) ConvertTx(tx *gorm.DB, userID, platform string, now time.Time) (*models.Trial, error) {
	res := tx.Model(&models.Trial{}).
		Where("user_id = ? AND platform = ? AND status IN ?", userID, platform, enums.TrialSourcesFor(enums.TrialStatusConverted)).
		Updates(map[string]any{
			"status":       enums.TrialStatusConverted,
			"converted_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return r.FindByUserPlatformTx(tx, userID, platform)
}

// ListDueForExpiry returns active trials whose window closed at or before now.
func (r *Repository) ListDueForExpiry(ctx context.Context, now time.Time, limit int) ([]models.Trial, error) {
	var rows []models.Trial
	err := r.db.WithContext(ctx).
		Where("status = ? AND ends_at <= ?", enums.TrialStatusActive, now).
		Order("ends_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ListActive returns active, unexpired trials ordered by id after the cursor.
func (r *Repository) ListActive(ctx context.Context, now time.Time, after uuid.UUID, limit int) ([]models.Trial, error) {
	query := r.db.WithContext(ctx).
		Where("status = ? AND ends_at > ?", enums.TrialStatusActive, now)
	if after != uuid.Nil {
		query = query.Where("id > ?", after)
	}
	var rows []models.Trial
	err := query.Order("id ASC").Limit(limit).Find(&rows).Error
	return rows, err
}

// ListEndingBetween returns active trials whose window closes in (from, to].
func (r *Repository) ListEndingBetween(ctx context.Context, from, to time.Time, limit int) ([]models.Trial, error) {
	var rows []models.Trial
	err := r.db.WithContext(ctx).
		Where("status = ? AND ends_at > ? AND ends_at <= ?", enums.TrialStatusActive, from, to).
		Order("ends_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
