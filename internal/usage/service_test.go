package usage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/entitlements-backend/internal/trials"
	"github.com/angelmondragon/entitlements-backend/pkg/catalog"
	"github.com/angelmondragon/entitlements-backend/pkg/db"
	"github.com/angelmondragon/entitlements-backend/pkg/db/dbtest"
	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
)

var start = time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

func newUsageService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	conn := dbtest.Open(t)
	cat, err := catalog.Default()
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		Trials:            trials.NewRepository(conn),
		Catalog:           cat,
		TransactionRunner: db.NewFromConn(conn),
		Clock:             func() time.Time { return start },
	})
	require.NoError(t, err)
	return svc, conn
}

func TestRecordCountsActiveTrial(t *testing.T) {
	svc, conn := newUsageService(t)
	trial := models.Trial{
		UserID:    "user-1",
		Platform:  "insights-lite",
		StartedAt: start,
		EndsAt:    start.Add(14 * 24 * time.Hour),
		Status:    enums.TrialStatusActive,
	}
	require.NoError(t, conn.Create(&trial).Error)

	rec, err := svc.Record(context.Background(), Event{UserID: "user-1", Platform: "insights-lite", Action: "report.viewed"})
	require.NoError(t, err)
	assert.True(t, rec.TrialCounted)

	var stored models.Trial
	require.NoError(t, conn.First(&stored, "id = ?", trial.ID).Error)
	assert.Equal(t, 1, stored.UsageCount)

	var event models.UsageEvent
	require.NoError(t, conn.First(&event, "id = ?", rec.EventID).Error)
	assert.True(t, event.OccurredAt.Equal(start))
}

func TestRecordWithoutTrialStillAppends(t *testing.T) {
	svc, conn := newUsageService(t)

	rec, err := svc.Record(context.Background(), Event{UserID: "user-2", Platform: "analytics-pro", Action: "dashboard.opened"})
	require.NoError(t, err)
	assert.False(t, rec.TrialCounted)

	var n int64
	require.NoError(t, conn.Model(&models.UsageEvent{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestRecordValidation(t *testing.T) {
	svc, _ := newUsageService(t)
	ctx := context.Background()

	_, err := svc.Record(ctx, Event{Platform: "analytics-pro", Action: "x"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.Record(ctx, Event{UserID: "user-1", Platform: "analytics-pro"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.Record(ctx, Event{UserID: "user-1", Platform: "unknown", Action: "x"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestGormHistoryStats(t *testing.T) {
	svc, conn := newUsageService(t)
	ctx := context.Background()

	for _, at := range []time.Time{
		start.Add(-48 * time.Hour),
		start.Add(time.Hour),
		start.Add(2 * time.Hour),
		start.Add(26 * time.Hour),
	} {
		_, err := svc.Record(ctx, Event{UserID: "user-1", Platform: "analytics-pro", Action: "query.run", OccurredAt: at})
		require.NoError(t, err)
	}
	_, err := svc.Record(ctx, Event{UserID: "user-9", Platform: "analytics-pro", Action: "query.run", OccurredAt: start.Add(time.Hour)})
	require.NoError(t, err)

	stats, err := NewGormHistory(conn).Stats(ctx, "user-1", "analytics-pro", start)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalActions)
	assert.Equal(t, 2, stats.ActiveDays)
	require.NotNil(t, stats.LastActivityAt)
	assert.True(t, stats.LastActivityAt.Equal(start.Add(26*time.Hour)))
}

func TestGormHistoryStatsEmpty(t *testing.T) {
	_, conn := newUsageService(t)

	stats, err := NewGormHistory(conn).Stats(context.Background(), "user-1", "analytics-pro", start)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalActions)
	assert.Nil(t, stats.LastActivityAt)
}
