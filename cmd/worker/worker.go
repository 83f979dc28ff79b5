package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

const heartbeatInterval = 30 * time.Second

var errConsumerExited = errors.New("usage consumer exited")

type pinger interface {
	Ping(ctx context.Context) error
}

type runner interface {
	Run(ctx context.Context) error
}

type dependency struct {
	name string
	ping pinger
}

// worker runs the usage consumer once every dependency answers a ping.
type worker struct {
	logg      *logger.Logger
	deps      []dependency
	consumer  runner
	heartbeat time.Duration
}

func newWorker(logg *logger.Logger, consumer runner, deps ...dependency) (*worker, error) {
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	if consumer == nil {
		return nil, errors.New("usage consumer is required")
	}
	for _, d := range deps {
		if d.ping == nil {
			return nil, fmt.Errorf("%s client is required", d.name)
		}
	}
	return &worker{logg: logg, deps: deps, consumer: consumer, heartbeat: heartbeatInterval}, nil
}

func (w *worker) ready(ctx context.Context) error {
	var err error
	for _, d := range w.deps {
		if pingErr := d.ping.Ping(ctx); pingErr != nil {
			err = multierr.Append(err, fmt.Errorf("%s ping: %w", d.name, pingErr))
		}
	}
	return err
}

// Run blocks until the consumer exits or ctx ends.
func (w *worker) Run(ctx context.Context) error {
	if err := w.ready(ctx); err != nil {
		return err
	}
	w.logg.Info(ctx, "worker dependencies ready")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer cancel()
		return w.consumer.Run(gctx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(w.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				w.logg.Debug(gctx, "worker.heartbeat")
			}
		}
	})
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return errConsumerExited
}
