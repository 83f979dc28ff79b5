package churn

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
)

// Repository stores the current churn score per (user, platform).
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a churn repository to the provided gorm connection.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Upsert overwrites the score for (user, platform).
func (r *Repository) Upsert(ctx context.Context, score *models.ChurnRiskScore) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "platform"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"trial_id",
			"score",
			"level",
			"engagement_score",
			"days_since_activity",
			"activity_rate",
			"days_remaining",
			"total_actions",
			"calculated_at",
		}),
	}).Create(score).Error
}

// Find returns the stored score or nil when none exists.
func (r *Repository) Find(ctx context.Context, userID, platform string) (*models.ChurnRiskScore, error) {
	var score models.ChurnRiskScore
	err := r.db.WithContext(ctx).Where("user_id = ? AND platform = ?", userID, platform).First(&score).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &score, nil
}
