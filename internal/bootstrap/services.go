// Package bootstrap assembles the domain services shared by the api, cron and
// worker binaries.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/entitlements-backend/internal/access"
	"github.com/angelmondragon/entitlements-backend/internal/billing"
	"github.com/angelmondragon/entitlements-backend/internal/churn"
	"github.com/angelmondragon/entitlements-backend/internal/experiments"
	"github.com/angelmondragon/entitlements-backend/internal/grants"
	"github.com/angelmondragon/entitlements-backend/internal/retention"
	"github.com/angelmondragon/entitlements-backend/internal/subscriptions"
	"github.com/angelmondragon/entitlements-backend/internal/trials"
	"github.com/angelmondragon/entitlements-backend/internal/usage"
	"github.com/angelmondragon/entitlements-backend/pkg/bigquery"
	"github.com/angelmondragon/entitlements-backend/pkg/catalog"
	"github.com/angelmondragon/entitlements-backend/pkg/config"
	"github.com/angelmondragon/entitlements-backend/pkg/db"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	"github.com/angelmondragon/entitlements-backend/pkg/metrics"
	"github.com/angelmondragon/entitlements-backend/pkg/outbox"
	"github.com/angelmondragon/entitlements-backend/pkg/square"
)

// Params carries the infrastructure clients. Square and BigQuery are optional.
type Params struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         *db.Client
	Registerer prometheus.Registerer
	Square     *square.Client
	BigQuery   *bigquery.Client
}

// Services is the wired domain layer.
type Services struct {
	Catalog     *catalog.Catalog
	TrialsRepo  *trials.Repository
	BillingRepo billing.Repository
	OutboxRepo  *outbox.Repository

	Access      *access.Resolver
	Trials      trials.Service
	Usage       *usage.Service
	Retention   *retention.Service
	Churn       *churn.Service
	Experiments *experiments.Service
	Billing     *billing.Service
	Gateway     *subscriptions.Gateway
}

func Build(ctx context.Context, params Params) (*Services, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	cfg, logg := params.Config, params.Logger
	reg := params.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("load platform catalog: %w", err)
	}

	conn := params.DB.DB()
	out := &Services{
		Catalog:     cat,
		TrialsRepo:  trials.NewRepository(conn),
		BillingRepo: billing.NewRepository(conn),
		OutboxRepo:  outbox.NewRepository(conn),
	}
	grantsRepo := grants.NewRepository(conn)
	emitter := outbox.NewEmitter(out.OutboxRepo, logg)

	if out.Access, err = access.NewResolver(access.ResolverParams{
		Grants:            grantsRepo,
		Subscriptions:     out.BillingRepo,
		Trials:            out.TrialsRepo,
		Catalog:           cat,
		TransactionRunner: params.DB,
		Metrics:           metrics.NewAccessMetrics(reg),
		Logger:            logg,
	}); err != nil {
		return nil, fmt.Errorf("access resolver: %w", err)
	}

	if out.Trials, err = trials.NewService(trials.ServiceParams{
		Repo:              out.TrialsRepo,
		Grants:            grantsRepo,
		Catalog:           cat,
		Outbox:            emitter,
		TransactionRunner: params.DB,
		RequiredFlags:     cfg.Trials.RequiredFlags,
		Logger:            logg,
	}); err != nil {
		return nil, fmt.Errorf("trial service: %w", err)
	}

	if out.Usage, err = usage.NewService(usage.ServiceParams{
		Trials:            out.TrialsRepo,
		Catalog:           cat,
		TransactionRunner: params.DB,
		Logger:            logg,
	}); err != nil {
		return nil, fmt.Errorf("usage service: %w", err)
	}

	if out.Retention, err = retention.NewService(retention.ServiceParams{
		Repo:                 retention.NewRepository(conn),
		Trials:               out.TrialsRepo,
		Outbox:               emitter,
		TransactionRunner:    params.DB,
		InterventionCooldown: cfg.Retention.InterventionCooldown,
		Metrics:              metrics.NewRetentionMetrics(reg),
		Logger:               logg,
	}); err != nil {
		return nil, fmt.Errorf("retention service: %w", err)
	}

	churnParams := churn.ServiceParams{
		Repo:      churn.NewRepository(conn),
		Trials:    out.TrialsRepo,
		Retention: out.Retention,
		Catalog:   cat,
		Logger:    logg,
	}
	if strings.EqualFold(strings.TrimSpace(cfg.Usage.HistoryBackend), config.UsageBackendBigQuery) {
		if params.BigQuery == nil {
			return nil, errors.New("bigquery client required for the bigquery usage history backend")
		}
		history, err := usage.NewBigQueryHistory(params.BigQuery)
		if err != nil {
			return nil, fmt.Errorf("usage history: %w", err)
		}
		churnParams.History = history
	} else {
		churnParams.History = usage.NewGormHistory(conn)
	}
	if cfg.BigQuery.ExportChurn && params.BigQuery != nil {
		exporter, err := bigquery.NewChurnExporter(params.BigQuery, params.BigQuery.ChurnScoresTable())
		if err != nil {
			return nil, fmt.Errorf("churn exporter: %w", err)
		}
		churnParams.Exporter = exporter
	}
	if out.Churn, err = churn.NewService(churnParams); err != nil {
		return nil, fmt.Errorf("churn service: %w", err)
	}

	if out.Experiments, err = experiments.NewService(experiments.ServiceParams{
		Repo:    experiments.NewRepository(conn),
		Catalog: cat,
		Logger:  logg,
	}); err != nil {
		return nil, fmt.Errorf("experiment service: %w", err)
	}

	billingParams := billing.ServiceParams{
		Repo:              out.BillingRepo,
		Grants:            grantsRepo,
		Trials:            out.TrialsRepo,
		Catalog:           cat,
		Outbox:            emitter,
		TransactionRunner: params.DB,
		Metrics:           metrics.NewReconcileMetrics(reg),
		Logger:            logg,
	}
	if params.Square != nil {
		if out.Gateway, err = subscriptions.NewGateway(subscriptions.GatewayParams{
			Client:  params.Square,
			Catalog: cat,
			Logger:  logg,
		}); err != nil {
			return nil, fmt.Errorf("square gateway: %w", err)
		}
		billingParams.Fetcher = out.Gateway
	}
	if out.Billing, err = billing.NewService(billingParams); err != nil {
		return nil, fmt.Errorf("billing reconciler: %w", err)
	}

	logg.Info(logg.WithField(ctx, "platforms", len(cat.Platforms())), "domain services ready")
	return out, nil
}

// BuildUsage wires only the usage recorder, for processes that ingest events.
func BuildUsage(params Params) (*usage.Service, error) {
	if params.Config == nil || params.Logger == nil || params.DB == nil {
		return nil, errors.New("config, logger and database client are required")
	}
	cat, err := catalog.Load(params.Config.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("load platform catalog: %w", err)
	}
	return usage.NewService(usage.ServiceParams{
		Trials:            trials.NewRepository(params.DB.DB()),
		Catalog:           cat,
		TransactionRunner: params.DB,
		Logger:            params.Logger,
	})
}
