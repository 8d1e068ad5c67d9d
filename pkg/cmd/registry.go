// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/dunning/pkg/dispatcher"
	"github.com/dukex/dunning/pkg/executionlog"
	"github.com/dukex/dunning/pkg/otelhelper"
	"github.com/dukex/dunning/pkg/persistence"
	"github.com/dukex/dunning/pkg/registry"
	"github.com/dukex/dunning/pkg/retry"
	"github.com/dukex/dunning/pkg/scheduler"
	"github.com/dukex/dunning/pkg/workflow"
)

// Engine bundles the collaborators shared by every binary.
type Engine struct {
	Store       persistence.Persistence
	Runs        *executionlog.Logger
	Scheduler   *scheduler.Scheduler
	Registry    *registry.Registry
	Interpreter *workflow.Interpreter
	Tracer      trace.Tracer
}

func NewEngine(store persistence.Persistence, tracer trace.Tracer, logger *slog.Logger) *Engine {
	if tracer == nil {
		tracer = otelhelper.NoopTracer()
	}

	sched := scheduler.New(store, logger)
	runs := executionlog.New(store, logger)

	reg := registry.NewDefault(registry.Dependencies{
		Source:    store,
		Catalog:   store,
		Scheduler: sched,
		Logger:    logger,
	})

	return &Engine{
		Store:       store,
		Runs:        runs,
		Scheduler:   sched,
		Registry:    reg,
		Interpreter: workflow.NewInterpreter(reg, store, runs, tracer, logger),
		Tracer:      tracer,
	}
}

// DispatchConfig configures the dispatcher of a process.
type DispatchConfig struct {
	Sender        SenderConfig
	BatchSize     int
	SendTimeout   time.Duration
	Concurrency   int
	RedisURL      string
	RetryCacheTTL time.Duration
}

// NewDispatcher wires a dispatcher onto the engine. The returned close function releases
// the sender publisher and the Redis client.
func (e *Engine) NewDispatcher(ctx context.Context, cfg DispatchConfig, logger *slog.Logger) (*dispatcher.Dispatcher, func() error, error) {
	senders, closeSenders, err := NewSenders(cfg.Sender, logger)
	if err != nil {
		return nil, nil, err
	}

	var policies retry.PolicyStore = e.Store

	closeAll := closeSenders

	if cfg.RedisURL != "" {
		client, err := retry.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			_ = closeSenders()

			return nil, nil, err
		}

		policies = retry.NewCachedStore(e.Store, client, cfg.RetryCacheTTL, logger)
		closeAll = func() error {
			_ = client.Close()

			return closeSenders()
		}
	}

	d := dispatcher.New(dispatcher.Dependencies{
		Store:     e.Store,
		Runs:      e.Runs,
		Senders:   senders,
		Retries:   retry.NewResolver(policies, logger),
		Scheduler: e.Scheduler,
		Tracer:    e.Tracer,
		Logger:    logger,
	},
		dispatcher.WithBatchSize(cfg.BatchSize),
		dispatcher.WithSendTimeout(cfg.SendTimeout),
		dispatcher.WithConcurrency(cfg.Concurrency),
	)

	return d, closeAll, nil
}
