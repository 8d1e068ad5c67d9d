package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"github.com/dukex/dunning/pkg/cmd"
)

const defaultSchedule = "@every 30s"

func main() {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "schedule",
			Usage:   "Cron expression of the dispatch passes",
			Value:   defaultSchedule,
			Sources: cli.EnvVars("DISPATCH_SCHEDULE"),
		},
	}
	flags = append(flags, cmd.CommonFlags()...)
	flags = append(flags, cmd.DispatchFlags()...)

	command := &cli.Command{
		Name:                  "dunning-dispatcher",
		Usage:                 "Deliver due scheduled actions on a schedule",
		EnableShellCompletion: true,
		Flags:                 flags,
		Commands: []*cli.Command{
			{
				Name:  "once",
				Usage: "Run a single dispatch pass and exit",
				Action: func(ctx context.Context, command *cli.Command) error {
					return withDispatcher(ctx, command, func(ctx context.Context, r Runner, _ *slog.Logger) error {
						n, err := r.RunOnce(ctx)
						if err != nil {
							return err
						}

						fmt.Fprintf(command.Root().Writer, "dispatched %d actions\n", n)

						return nil
					})
				},
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			return withDispatcher(ctx, command, func(ctx context.Context, r Runner, logger *slog.Logger) error {
				loop, err := NewLoop(r, command.String("schedule"), logger)
				if err != nil {
					return err
				}

				return loop.Run(ctx)
			})
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func withDispatcher(ctx context.Context, command *cli.Command, fn func(context.Context, Runner, *slog.Logger) error) error {
	logger, tracer, flush, err := cmd.Bootstrap(ctx, command, "dunning-dispatcher")
	if err != nil {
		return err
	}
	defer flush()

	store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"), command.String("fixtures"))
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	engine := cmd.NewEngine(store, tracer, logger)

	dispatcher, closeDispatcher, err := engine.NewDispatcher(ctx, cmd.DispatchConfigFrom(command), logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := closeDispatcher(); err != nil {
			logger.ErrorContext(ctx, "Failed to close senders", "error", err)
		}
	}()

	return fn(ctx, dispatcher, logger)
}
