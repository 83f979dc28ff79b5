// Command cron-worker runs the scheduled sweeps: trial expiry and reminders,
// churn scoring, subscription reconciliation and outbox pruning.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/entitlements-backend/internal/bootstrap"
	"github.com/angelmondragon/entitlements-backend/internal/cron"
	"github.com/angelmondragon/entitlements-backend/pkg/config"
	"github.com/angelmondragon/entitlements-backend/pkg/db"
	"github.com/angelmondragon/entitlements-backend/pkg/instance"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	"github.com/angelmondragon/entitlements-backend/pkg/metrics"
	"github.com/angelmondragon/entitlements-backend/pkg/outbox"
	"github.com/angelmondragon/entitlements-backend/pkg/redis"
)

const serviceName = "cron-worker"

func main() {
	once := flag.Bool("once", false, "run a single cycle and exit")
	flag.Parse()
	if err := run(*once); err != nil && !errors.Is(err, context.Canceled) {
		os.Exit(1)
	}
}

func run(once bool) error {
	boot := context.Background()
	cfg, logg, err := bootstrap.Setup(serviceName)
	if err != nil {
		return err
	}

	infra, err := bootstrap.OpenInfra(boot, cfg, logg, bootstrap.Needs{Redis: true, Warehouse: true, Billing: true})
	if err != nil {
		logg.Error(boot, "failed to open infrastructure", err)
		return err
	}
	defer func() {
		if err := infra.Close(); err != nil {
			logg.Error(boot, "error closing infrastructure", err)
		}
	}()

	services, err := bootstrap.Build(boot, bootstrap.Params{
		Config:     cfg,
		Logger:     logg,
		DB:         infra.DB,
		Registerer: prometheus.DefaultRegisterer,
		Square:     infra.Square,
		BigQuery:   infra.BigQuery,
	})
	if err != nil {
		logg.Error(boot, "failed to build domain services", err)
		return err
	}

	registry, err := buildRegistry(cfg, logg, infra.DB, services)
	if err != nil {
		logg.Error(boot, "failed to register cron jobs", err)
		return err
	}
	locker, err := cron.NewRedisLocker(infra.Redis, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(boot, "failed to create cron lock", err)
		return err
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Locker:   locker,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(boot, "failed to create cron service", err)
		return err
	}

	ctx, stop := signal.NotifyContext(boot, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"jobs":        registry.Names(),
		"instance":    instance.ID(),
	})

	if once {
		logg.Info(ctx, "running single cron cycle")
		if err := service.RunOnce(ctx); err != nil {
			logg.Error(ctx, "cron cycle failed", err)
			return err
		}
		return nil
	}

	logg.Info(ctx, "starting cron worker")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return service.Run(gctx) })
	g.Go(func() error { return metrics.Serve(gctx, cfg.Metrics.Addr, prometheus.DefaultGatherer, logg) })
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		return err
	}
	logg.Info(ctx, "cron worker shut down")
	return nil
}

type jobBuilder struct {
	name  string
	build func() (cron.Job, error)
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, services *bootstrap.Services) (*cron.Registry, error) {
	trialParams := cron.TrialJobParams{Logger: logg, Batch: cfg.Trials.SweepBatch}
	churnParams := cron.TrialJobParams{Logger: logg, Batch: cfg.Retention.ChurnSweepBatch}

	builders := []jobBuilder{
		{"trial expiry", func() (cron.Job, error) { return cron.NewTrialExpiryJob(trialParams, services.Trials) }},
		{"trial reminders", func() (cron.Job, error) { return cron.NewTrialReminderJob(trialParams, services.Retention) }},
		{"churn sweep", func() (cron.Job, error) { return cron.NewChurnSweepJob(churnParams, services.Churn) }},
		{"outbox retention", func() (cron.Job, error) {
			return cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
				Logger:       logg,
				Outbox:       services.OutboxRepo,
				DLQ:          outbox.NewDLQRepository(dbClient.DB()),
				Retention:    days(cfg.Outbox.RetentionDays),
				DLQRetention: days(cfg.Outbox.DLQRetentionDays),
				Batch:        cfg.Outbox.PruneBatch,
			})
		}},
	}
	if services.Gateway != nil {
		builders = append(builders, jobBuilder{"subscription reconcile", func() (cron.Job, error) {
			return cron.NewSubscriptionReconcileJob(cron.SubscriptionReconcileJobParams{
				Logger:     logg,
				Candidates: services.BillingRepo,
				Fetcher:    services.Gateway,
				Reconciler: services.Billing,
				Lookahead:  cfg.Cron.ReconcileLookahead,
			})
		}})
	} else {
		logg.Warn(context.Background(), "square not configured, subscription reconcile job skipped")
	}

	jobs := make([]cron.Job, 0, len(builders))
	for _, b := range builders {
		job, err := b.build()
		if err != nil {
			return nil, fmt.Errorf("%s job: %w", b.name, err)
		}
		jobs = append(jobs, job)
	}
	return cron.NewRegistry(jobs...)
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return redis.Key("cron-worker", "lock", env)
}
