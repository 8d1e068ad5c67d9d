package main

import (
	"context"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/dukex/dunning/pkg/cmd"
)

const defaultPort = 9091

func main() {
	flags := []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		},
		&cli.StringFlag{
			Name:    "dispatch-secret",
			Usage:   "Bearer token required by POST /dispatch (empty rejects every request)",
			Sources: cli.EnvVars("DISPATCH_SECRET"),
		},
	}
	flags = append(flags, cmd.CommonFlags()...)
	flags = append(flags, cmd.DispatchFlags()...)

	command := &cli.Command{
		Name:                  "dunning-api",
		Usage:                 "Activate collection campaigns and trigger dispatch over HTTP",
		EnableShellCompletion: true,
		Flags:                 flags,
		Action:                run,
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	logger, tracer, flush, err := cmd.Bootstrap(ctx, command, "dunning-api")
	if err != nil {
		return err
	}
	defer flush()

	logger.InfoContext(ctx, "Initializing Dunning API")

	store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"), command.String("fixtures"))
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(ctx); err != nil {
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

	secret := command.String("dispatch-secret")
	if secret == "" {
		logger.WarnContext(ctx, "No dispatch secret configured, POST /dispatch will reject every request")
	}

	api := NewAPI(logger, engine, dispatcher, secret)

	return api.Start(command.Int("port"))
}
