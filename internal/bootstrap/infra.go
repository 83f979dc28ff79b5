package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/angelmondragon/entitlements-backend/pkg/bigquery"
	"github.com/angelmondragon/entitlements-backend/pkg/config"
	"github.com/angelmondragon/entitlements-backend/pkg/db"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	"github.com/angelmondragon/entitlements-backend/pkg/migrate"
	"github.com/angelmondragon/entitlements-backend/pkg/redis"
	"github.com/angelmondragon/entitlements-backend/pkg/square"
)

// Needs selects which optional connections OpenInfra makes. The database is
// always opened.
type Needs struct {
	Redis bool
	// Warehouse opens BigQuery when churn export or BigQuery usage history is on.
	Warehouse bool
	// Billing opens Square when an access token is configured.
	Billing bool
}

// Infra owns the connections a binary opens at startup. Optional clients
// stay nil when not needed or not configured.
type Infra struct {
	DB       *db.Client
	Redis    *redis.Client
	BigQuery *bigquery.Client
	Square   *square.Client

	closers []closer
}

type closer struct {
	name string
	fn   func() error
}

// OpenInfra connects in dependency order and runs dev migrations. On failure
// everything already opened is closed again.
func OpenInfra(ctx context.Context, cfg *config.Config, logg *logger.Logger, needs Needs) (_ *Infra, err error) {
	infra := &Infra{}
	defer func() {
		if err != nil {
			err = multierr.Append(err, infra.Close())
		}
	}()

	if infra.DB, err = db.New(ctx, cfg.DB, logg); err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	infra.track("database", infra.DB.Close)
	if err = migrate.MaybeRunDev(ctx, cfg, logg, infra.DB); err != nil {
		return nil, fmt.Errorf("dev migrations: %w", err)
	}

	if needs.Redis {
		if infra.Redis, err = redis.New(ctx, cfg.Redis, logg); err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		infra.track("redis", infra.Redis.Close)
	}
	if needs.Warehouse && NeedsBigQuery(cfg) {
		if infra.BigQuery, err = bigquery.New(ctx, cfg.GCP, cfg.BigQuery, logg); err != nil {
			return nil, fmt.Errorf("bigquery: %w", err)
		}
		infra.track("bigquery", infra.BigQuery.Close)
	}
	if needs.Billing {
		if strings.TrimSpace(cfg.Square.AccessToken) == "" {
			logg.Warn(ctx, "square access token not configured, billing sync disabled")
		} else if infra.Square, err = square.New(ctx, cfg.Square, logg); err != nil {
			return nil, fmt.Errorf("square: %w", err)
		}
	}
	return infra, nil
}

// NeedsBigQuery reports whether any configured feature reads or writes BigQuery.
func NeedsBigQuery(cfg *config.Config) bool {
	return cfg.BigQuery.ExportChurn ||
		strings.EqualFold(strings.TrimSpace(cfg.Usage.HistoryBackend), config.UsageBackendBigQuery)
}

func (i *Infra) track(name string, fn func() error) {
	i.closers = append(i.closers, closer{name: name, fn: fn})
}

// Close releases connections in reverse open order and reports every failure.
func (i *Infra) Close() error {
	if i == nil {
		return nil
	}
	var err error
	for n := len(i.closers) - 1; n >= 0; n-- {
		c := i.closers[n]
		if cerr := c.fn(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close %s: %w", c.name, cerr))
		}
	}
	i.closers = nil
	return err
}
