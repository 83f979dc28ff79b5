package usage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
)

// Stats summarizes a subject's usage since a point in time.
type Stats struct {
	TotalActions   int
	ActiveDays     int
	LastActivityAt *time.Time
}

// History answers usage questions over the append-only event log.
type History interface {
	Stats(ctx context.Context, userID, platform string, since time.Time) (Stats, error)
}

// GormHistory reads usage_events from the primary database.
type GormHistory struct {
	db *gorm.DB
}

// NewGormHistory binds a history reader to conn.
func NewGormHistory(conn *gorm.DB) *GormHistory {
	return &GormHistory{db: conn}
}

func (h *GormHistory) Stats(ctx context.Context, userID, platform string, since time.Time) (Stats, error) {
	base := func() *gorm.DB {
		return h.db.WithContext(ctx).Model(&models.UsageEvent{}).
			Where("user_id = ? AND platform = ? AND occurred_at >= ?", userID, platform, since.UTC())
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return Stats{}, err
	}
	if total == 0 {
		return Stats{}, nil
	}

	var days int64
	if err := base().Select("COUNT(DISTINCT DATE(occurred_at))").Scan(&days).Error; err != nil {
		return Stats{}, err
	}

	var latest models.UsageEvent
	err := base().Order("occurred_at DESC").First(&latest).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return Stats{}, err
	}

	stats := Stats{TotalActions: int(total), ActiveDays: int(days)}
	if err == nil {
		last := latest.OccurredAt.UTC()
		stats.LastActivityAt = &last
	}
	return stats, nil
}
