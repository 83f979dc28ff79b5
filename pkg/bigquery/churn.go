package bigquery

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
)

// ChurnScoreRow is the export shape of a churn score.
type ChurnScoreRow struct {
	UserID            string    `bigquery:"user_id"`
	Platform          string    `bigquery:"platform"`
	TrialID           string    `bigquery:"trial_id"`
	Score             int       `bigquery:"score"`
	Level             string    `bigquery:"level"`
	EngagementScore   int       `bigquery:"engagement_score"`
	DaysSinceActivity int       `bigquery:"days_since_activity"`
	ActivityRate      float64   `bigquery:"activity_rate"`
	DaysRemaining     int       `bigquery:"days_remaining"`
	TotalActions      int       `bigquery:"total_actions"`
	CalculatedAt      time.Time `bigquery:"calculated_at"`
}

// NewChurnScoreRow converts a stored score into its export row.
func NewChurnScoreRow(score models.ChurnRiskScore) ChurnScoreRow {
	return ChurnScoreRow{
		UserID:            score.UserID,
		Platform:          score.Platform,
		TrialID:           score.TrialID.String(),
		Score:             score.Score,
		Level:             string(score.Level),
		EngagementScore:   score.EngagementScore,
		DaysSinceActivity: score.DaysSinceActivity,
		ActivityRate:      score.ActivityRate,
		DaysRemaining:     score.DaysRemaining,
		TotalActions:      score.TotalActions,
		CalculatedAt:      score.CalculatedAt.UTC(),
	}
}

type rowInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

// ChurnExporter streams churn scores into the analytics warehouse.
type ChurnExporter struct {
	inserter rowInserter
	table    string
}

// NewChurnExporter builds an exporter writing to table.
func NewChurnExporter(inserter rowInserter, table string) (*ChurnExporter, error) {
	if inserter == nil {
		return nil, ErrNotInitialized
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return nil, errors.New("churn scores table is required")
	}
	return &ChurnExporter{inserter: inserter, table: table}, nil
}

// ExportScores inserts one row per score.
func (e *ChurnExporter) ExportScores(ctx context.Context, scores []models.ChurnRiskScore) error {
	if len(scores) == 0 {
		return nil
	}
	rows := make([]any, 0, len(scores))
	for _, score := range scores {
		rows = append(rows, NewChurnScoreRow(score))
	}
	return e.inserter.InsertRows(ctx, e.table, rows)
}
