package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/dukex/dunning/pkg/dispatcher"
	"github.com/dukex/dunning/pkg/log"
	"github.com/dukex/dunning/pkg/otelhelper"
)

// CommonFlags are the logging, tracing and persistence flags every binary accepts.
func CommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Database connection URL (memory:// or postgres://...)",
			Value:   "memory://",
			Sources: cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "fixtures",
			Usage:   "YAML file of debts, contacts, templates and agents to seed the store with",
			Sources: cli.EnvVars("FIXTURES_PATH"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json, tint)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export traces over OTLP HTTP",
			Sources: cli.EnvVars("TRACING_ENABLED"),
		},
	}
}

// DispatchFlags configure the dispatcher and its senders.
func DispatchFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "batch-size",
			Usage:   "Maximum actions fetched per dispatch pass",
			Value:   dispatcher.DefaultBatchSize,
			Sources: cli.EnvVars("DISPATCH_BATCH_SIZE"),
		},
		&cli.DurationFlag{
			Name:    "send-timeout",
			Usage:   "Timeout of one sender invocation",
			Value:   dispatcher.DefaultSendTimeout,
			Sources: cli.EnvVars("SEND_TIMEOUT"),
		},
		&cli.IntFlag{
			Name:    "concurrency",
			Usage:   "Actions dispatched in parallel (1 keeps fetch order)",
			Value:   1,
			Sources: cli.EnvVars("DISPATCH_CONCURRENCY"),
		},
		&cli.StringFlag{
			Name:    "sender",
			Usage:   "Channel sender (log, webhook, kafka, gochannel)",
			Value:   "log",
			Sources: cli.EnvVars("SENDER"),
		},
		&cli.StringFlag{
			Name:    "webhook-url",
			Usage:   "Provider endpoint of the webhook sender",
			Sources: cli.EnvVars("WEBHOOK_SENDER_URL"),
		},
		&cli.StringFlag{
			Name:    "webhook-token",
			Usage:   "Bearer token sent to the webhook provider",
			Sources: cli.EnvVars("WEBHOOK_SENDER_TOKEN"),
		},
		&cli.StringSliceFlag{
			Name:    "kafka-brokers",
			Usage:   "Kafka brokers of the kafka sender",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL caching retry policies (disabled when empty)",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.DurationFlag{
			Name:    "retry-cache-ttl",
			Usage:   "How long retry policies stay cached",
			Value:   5 * time.Minute,
			Sources: cli.EnvVars("RETRY_CACHE_TTL"),
		},
	}
}

// DispatchConfigFrom reads the DispatchFlags of command.
func DispatchConfigFrom(command *cli.Command) DispatchConfig {
	return DispatchConfig{
		Sender: SenderConfig{
			Provider:     command.String("sender"),
			WebhookURL:   command.String("webhook-url"),
			WebhookToken: command.String("webhook-token"),
			KafkaBrokers: command.StringSlice("kafka-brokers"),
		},
		BatchSize:     command.Int("batch-size"),
		SendTimeout:   command.Duration("send-timeout"),
		Concurrency:   command.Int("concurrency"),
		RedisURL:      command.String("redis-url"),
		RetryCacheTTL: command.Duration("retry-cache-ttl"),
	}
}

// Bootstrap configures logging, GOMAXPROCS and tracing for a binary. The returned
// function flushes the tracer.
func Bootstrap(ctx context.Context, command *cli.Command, service string) (*slog.Logger, trace.Tracer, func(), error) {
	log.Setup(command.String("log-level"), command.String("log-format"))

	logger := log.WithModule(service)

	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		logger.DebugContext(ctx, fmt.Sprintf(format, args...))
	})); err != nil {
		logger.WarnContext(ctx, "Failed to set GOMAXPROCS", "error", err)
	}

	if !command.Bool("tracing") {
		return logger, otelhelper.NoopTracer(), func() {}, nil
	}

	tracer, shutdown, err := otelhelper.NewTracer(ctx, service)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	return logger, tracer, func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
		}
	}, nil
}
