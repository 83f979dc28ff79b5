package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

type bigQueryReader interface {
	Query(ctx context.Context, sql string, params []bigquery.QueryParameter) (*bigquery.RowIterator, error)
	TableRef(table string) string
	UsageEventsTable() string
}

// BigQueryHistory reads usage stats from the warehouse copy of usage_events.
type BigQueryHistory struct {
	client bigQueryReader
}

// NewBigQueryHistory builds a warehouse-backed history reader.
func NewBigQueryHistory(client bigQueryReader) (*BigQueryHistory, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	if client.UsageEventsTable() == "" {
		return nil, errors.New("usage events table required")
	}
	return &BigQueryHistory{client: client}, nil
}

type statsRow struct {
	TotalActions   int64                  `bigquery:"total_actions"`
	ActiveDays     int64                  `bigquery:"active_days"`
	LastActivityAt bigquery.NullTimestamp `bigquery:"last_activity_at"`
}

func statsQuery(table string) string {
	return fmt.Sprintf(`SELECT
  COUNT(*) AS total_actions,
  COUNT(DISTINCT DATE(occurred_at)) AS active_days,
  MAX(occurred_at) AS last_activity_at
FROM %s
WHERE user_id = @user_id AND platform = @platform AND occurred_at >= @since`, table)
}

func (h *BigQueryHistory) Stats(ctx context.Context, userID, platform string, since time.Time) (Stats, error) {
	sql := statsQuery(h.client.TableRef(h.client.UsageEventsTable()))
	it, err := h.client.Query(ctx, sql, []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "platform", Value: platform},
		{Name: "since", Value: since.UTC()},
	})
	if err != nil {
		return Stats{}, fmt.Errorf("query usage stats: %w", err)
	}

	var row statsRow
	err = it.Next(&row)
	if errors.Is(err, iterator.Done) {
		return Stats{}, nil
	}
	if err != nil {
		return Stats{}, fmt.Errorf("read usage stats: %w", err)
	}

	stats := Stats{TotalActions: int(row.TotalActions), ActiveDays: int(row.ActiveDays)}
	if row.LastActivityAt.Valid {
		last := row.LastActivityAt.Timestamp.UTC()
		stats.LastActivityAt = &last
	}
	return stats, nil
}
