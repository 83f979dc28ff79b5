// Command api serves the entitlement, trial, usage and retention HTTP API.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/entitlements-backend/api/controllers"
	"github.com/angelmondragon/entitlements-backend/api/routes"
	"github.com/angelmondragon/entitlements-backend/internal/bootstrap"
	squarewebhook "github.com/angelmondragon/entitlements-backend/internal/webhooks/square"
	"github.com/angelmondragon/entitlements-backend/pkg/auth"
	"github.com/angelmondragon/entitlements-backend/pkg/instance"
	"github.com/angelmondragon/entitlements-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/entitlements-backend/pkg/square"
)

const (
	serviceName     = "api"
	shutdownTimeout = 15 * time.Second
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
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

	ready := map[string]controllers.Pinger{"db": infra.DB, "redis": infra.Redis}
	if infra.BigQuery != nil {
		ready["bigquery"] = infra.BigQuery
	}

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

	tokens, err := auth.NewVerifier(cfg.JWT)
	if err != nil {
		logg.Error(boot, "invalid jwt configuration", err)
		return err
	}
	webhookGuard, err := idempotency.NewGuard(infra.Redis, cfg.Eventing.WebhookIdempotencyTTL)
	if err != nil {
		logg.Error(boot, "failed to create webhook idempotency guard", err)
		return err
	}

	deps := routes.Dependencies{
		Config:       cfg,
		Tokens:       tokens,
		Logger:       logg,
		Redis:        infra.Redis,
		Gatherer:     prometheus.DefaultGatherer,
		Ready:        ready,
		Access:       services.Access,
		Trials:       services.Trials,
		Usage:        services.Usage,
		Churn:        services.Churn,
		Experiments:  services.Experiments,
		Billing:      services.Billing,
		Retention:    services.Retention,
		WebhookGuard: webhookGuard,
	}
	if infra.Square != nil {
		verifier, err := square.NewVerifier(cfg.Square)
		if err != nil {
			logg.Error(boot, "invalid square webhook configuration", err)
			return err
		}
		webhookService, err := squarewebhook.NewService(squarewebhook.ServiceParams{
			Gateway:    services.Gateway,
			Reconciler: services.Billing,
			Logger:     logg,
		})
		if err != nil {
			logg.Error(boot, "failed to create square webhook service", err)
			return err
		}
		deps.SquareWebhook = webhookService
		deps.SquareVerifier = verifier
	} else {
		logg.Warn(boot, "square webhook route disabled")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           routes.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	ctx, stop := signal.NotifyContext(boot, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     server.Addr,
		"instance": instance.ID(),
	})
	// In-flight requests outlive the signal; Shutdown bounds them instead.
	base := context.WithoutCancel(ctx)
	server.BaseContext = func(net.Listener) context.Context { return base }

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logg.Info(ctx, "starting api server")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(base, shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		return err
	}
	logg.Info(ctx, "api server shut down")
	return nil
}
