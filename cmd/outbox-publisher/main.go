// Command outbox-publisher relays committed outbox rows to Pub/Sub.
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
	"github.com/angelmondragon/entitlements-backend/pkg/instance"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
	"github.com/angelmondragon/entitlements-backend/pkg/metrics"
	"github.com/angelmondragon/entitlements-backend/pkg/outbox"
	"github.com/angelmondragon/entitlements-backend/pkg/outbox/registry"
	"github.com/angelmondragon/entitlements-backend/pkg/pubsub"
)

const serviceName = "outbox-publisher"

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

	infra, err := bootstrap.OpenInfra(boot, cfg, logg, bootstrap.Needs{})
	if err != nil {
		logg.Error(boot, "failed to open infrastructure", err)
		return err
	}
	defer func() {
		if err := infra.Close(); err != nil {
			logg.Error(boot, "error closing infrastructure", err)
		}
	}()
	dbClient := infra.DB

	routes, err := registry.New(cfg.PubSub)
	if err != nil {
		logg.Error(boot, "failed to build event registry", err)
		return err
	}
	psClient, err := pubsub.New(boot, cfg.GCP, cfg.PubSub, pubsub.Options{Topics: routes.Topics()}, logg)
	if err != nil {
		logg.Error(boot, "failed to bootstrap pubsub", err)
		return err
	}
	defer closeWith(logg, "pubsub", psClient.Close)

	conn := dbClient.DB()
	r, err := newRelay(cfg.Outbox, relayDeps{
		Store:   dbClient,
		Rows:    outbox.NewRepository(conn),
		DLQ:     outbox.NewDLQRepository(conn),
		Routes:  routes,
		Sink:    pubsubSink{client: psClient},
		Metrics: metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
		Logger:  logg,
	})
	if err != nil {
		logg.Error(boot, "failed to create outbox relay", err)
		return err
	}

	ctx, stop := signal.NotifyContext(boot, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"topics":      routes.Topics(),
		"instance":    instance.ID(),
	})
	logg.Info(ctx, "starting outbox publisher")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.Run(gctx) })
	g.Go(func() error { return metrics.Serve(gctx, cfg.Metrics.Addr, prometheus.DefaultGatherer, logg) })
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "outbox publisher stopped unexpectedly", err)
		return err
	}
	logg.Info(ctx, "outbox publisher shut down")
	return nil
}

func closeWith(logg *logger.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(context.Background(), "error closing "+name, err)
	}
}
