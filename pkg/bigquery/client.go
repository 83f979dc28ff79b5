// Package bigquery reads usage history from, and exports churn scores to,
// the analytics warehouse.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/angelmondragon/entitlements-backend/pkg/config"
	"github.com/angelmondragon/entitlements-backend/pkg/gcp"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

const metadataTimeout = 10 * time.Second

var (
	ErrNotFound       = errors.New("bigquery: not found")
	ErrNotInitialized = errors.New("bigquery: client not initialized")
	errNoDataset      = errors.New("bigquery: dataset is required")
	errNoTable        = errors.New("bigquery: table name is required")
)

type Client struct {
	bq      *bigquery.Client
	project string
	dataset *bigquery.Dataset
	cfg     config.BigQueryConfig
}

// New opens a client and checks that the dataset and every table this
// process reads or writes exist. extra options follow the credentials.
func New(ctx context.Context, gcpCfg config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger, extra ...option.ClientOption) (*Client, error) {
	project := strings.TrimSpace(gcpCfg.ProjectID)
	if project == "" {
		return nil, gcp.ErrNoProject
	}
	dataset := strings.TrimSpace(cfg.Dataset)
	if dataset == "" {
		return nil, errNoDataset
	}
	if len(requiredTables(cfg)) == 0 {
		return nil, errNoTable
	}

	bq, err := bigquery.NewClient(ctx, project, append(gcp.ClientOptions(gcpCfg), extra...)...)
	if err != nil {
		return nil, fmt.Errorf("bigquery: new client: %w", err)
	}
	c := &Client{bq: bq, project: project, dataset: bq.Dataset(dataset), cfg: cfg}
	if err := c.Ping(ctx); err != nil {
		_ = bq.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"project_id": project,
			"dataset":    dataset,
			"tables":     requiredTables(cfg),
		}), "bigquery client initialized")
	}
	return c, nil
}

// requiredTables is the usage table, plus the churn table when exporting.
func requiredTables(cfg config.BigQueryConfig) []string {
	var tables []string
	if t := strings.TrimSpace(cfg.UsageEventsTable); t != "" {
		tables = append(tables, t)
	}
	if t := strings.TrimSpace(cfg.ChurnScoresTable); cfg.ExportChurn && t != "" {
		tables = append(tables, t)
	}
	return tables
}

// Ping re-reads dataset and table metadata.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.bq == nil {
		return ErrNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	if _, err := c.dataset.Metadata(ctx); err != nil {
		return classify("dataset", c.dataset.DatasetID, err)
	}
	for _, t := range requiredTables(c.cfg) {
		if _, err := c.dataset.Table(t).Metadata(ctx); err != nil {
			return classify("table", t, err)
		}
	}
	return nil
}

func classify(kind, id string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		return fmt.Errorf("%w: %s %q", ErrNotFound, kind, id)
	}
	return fmt.Errorf("bigquery: get %s %q: %w", kind, id, err)
}

// InsertRows streams rows into table. Rows must be structs or ValueSavers.
func (c *Client) InsertRows(ctx context.Context, table string, rows []any) error {
	if c == nil || c.bq == nil {
		return ErrNotInitialized
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return errNoTable
	}
	if len(rows) == 0 {
		return nil
	}
	return c.dataset.Table(table).Inserter().Put(ctx, rows)
}

// Query runs a parameterized statement and returns its rows.
func (c *Client) Query(ctx context.Context, sql string, params []bigquery.QueryParameter) (*bigquery.RowIterator, error) {
	if c == nil || c.bq == nil {
		return nil, ErrNotInitialized
	}
	if strings.TrimSpace(sql) == "" {
		return nil, errors.New("bigquery: empty query")
	}
	q := c.bq.Query(sql)
	q.Parameters = params
	return q.Read(ctx)
}

// TableRef quotes table as `project.dataset.table` for use in SQL.
func (c *Client) TableRef(table string) string {
	if c == nil || c.dataset == nil {
		return ""
	}
	return "`" + c.project + "." + c.dataset.DatasetID + "." + strings.TrimSpace(table) + "`"
}

func (c *Client) UsageEventsTable() string {
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.cfg.UsageEventsTable)
}

func (c *Client) ChurnScoresTable() string {
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.cfg.ChurnScoresTable)
}

func (c *Client) Close() error {
	if c == nil || c.bq == nil {
		return nil
	}
	return c.bq.Close()
}
