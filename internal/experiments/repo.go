package experiments

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
)

// VariantTally aggregates stored assignments for one variant.
type VariantTally struct {
	Variant     string `json:"variant"`
	Total       int64  `json:"total"`
	Conversions int64  `json:"conversions"`
}

// Repository persists experiment assignments.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds an assignment repository to the provided gorm connection.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// InsertIfAbsent stores assignment unless (test_id, user_id) already exists.
func (r *Repository) InsertIfAbsent(ctx context.Context, assignment *models.ExperimentAssignment) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "test_id"}, {Name: "user_id"}},
		DoNothing: true,
	}).Create(assignment)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Find returns the assignment or nil when the user is not enrolled.
func (r *Repository) Find(ctx context.Context, testID, userID string) (*models.ExperimentAssignment, error) {
	var assignment models.ExperimentAssignment
	err := r.db.WithContext(ctx).Where("test_id = ? AND user_id = ?", testID, userID).First(&assignment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &assignment, nil
}

// MarkConverted flags the assignment as converted once; later calls keep the first time.
func (r *Repository) MarkConverted(ctx context.Context, testID, userID string, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.ExperimentAssignment{}).
		Where("test_id = ? AND user_id = ? AND converted = ?", testID, userID, false).
		Updates(map[string]any{"converted": true, "converted_at": at})
	return res.RowsAffected, res.Error
}

// Tally counts assignments and conversions per variant of testID.
func (r *Repository) Tally(ctx context.Context, testID string) ([]VariantTally, error) {
	var rows []VariantTally
	err := r.db.WithContext(ctx).Model(&models.ExperimentAssignment{}).
		Select("variant, COUNT(*) AS total, SUM(CASE WHEN converted THEN 1 ELSE 0 END) AS conversions").
		Where("test_id = ?", testID).
		Group("variant").
		Scan(&rows).Error
	return rows, err
}
