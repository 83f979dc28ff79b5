// Command worker consumes ingested usage events from Pub/Sub.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/entitlements-backend/internal/bootstrap"
	"github.com/angelmondragon/entitlements-backend/internal/usage"
	"github.com/angelmondragon/entitlements-backend/pkg/instance"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	"github.com/angelmondragon/entitlements-backend/pkg/metrics"
	"github.com/angelmondragon/entitlements-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/entitlements-backend/pkg/pubsub"
)

const serviceName = "worker"

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		os.Exit(1)
	}
}

func run() error {
	boot := context.Background()
	cfg, logg, err := bootstrap.Setup(serviceName)
	if err != nil {
		return err
	}

	infra, err := bootstrap.OpenInfra(boot, cfg, logg, bootstrap.Needs{Redis: true})
	if err != nil {
		logg.Error(boot, "failed to open infrastructure", err)
		return err
	}
	defer func() {
		if err := infra.Close(); err != nil {
			logg.Error(boot, "error closing infrastructure", err)
		}
	}()
	dbClient, redisClient := infra.DB, infra.Redis

	psClient, err := pubsub.New(boot, cfg.GCP, cfg.PubSub, pubsub.Options{Subscriptions: []string{cfg.PubSub.UsageSubscription}}, logg)
	if err != nil {
		logg.Error(boot, "failed to bootstrap pubsub", err)
		return err
	}
	defer closeWith(logg, "pubsub", psClient.Close)

	usageService, err := bootstrap.BuildUsage(bootstrap.Params{Config: cfg, Logger: logg, DB: dbClient})
	if err != nil {
		logg.Error(boot, "failed to build usage service", err)
		return err
	}
	guard, err := idempotency.NewGuard(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		logg.Error(boot, "failed to create idempotency guard", err)
		return err
	}
	sub, err := psClient.UsageSubscriber()
	if err != nil {
		logg.Error(boot, "failed to resolve usage subscription", err)
		return err
	}
	consumer, err := usage.NewConsumer(usageService, sub, guard, logg)
	if err != nil {
		logg.Error(boot, "failed to create usage consumer", err)
		return err
	}

	w, err := newWorker(logg, consumer,
		dependency{name: "database", ping: dbClient},
		dependency{name: "redis", ping: redisClient},
		dependency{name: "pubsub", ping: psClient},
	)
	if err != nil {
		logg.Error(boot, "failed to create worker", err)
		return err
	}

	ctx, stop := signal.NotifyContext(boot, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":          cfg.App.Env,
		"serviceKind":  cfg.Service.Kind,
		"subscription": cfg.PubSub.UsageSubscription,
		"instance":     instance.ID(),
	})
	logg.Info(ctx, "starting worker")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(gctx) })
	g.Go(func() error { return metrics.Serve(gctx, cfg.Metrics.Addr, prometheus.DefaultGatherer, logg) })
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		return err
	}
	logg.Info(ctx, "worker shut down")
	return nil
}

func closeWith(logg *logger.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(context.Background(), "error closing "+name, err)
	}
}
