package main

import (
	"context"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/dukex/dunning/pkg/cmd"
)

func main() {
	command := &cli.Command{
		Name:                  "dunning-activator",
		Usage:                 "Validate and activate campaign definition files",
		EnableShellCompletion: true,
		Flags:                 cmd.CommonFlags(),
		Commands: []*cli.Command{
			NewValidateCommand(),
			NewActivateCommand(),
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withEngine opens the store named by the common flags and builds an engine over it.
func withEngine(ctx context.Context, command *cli.Command, fn func(*cmd.Engine) error) error {
	logger, tracer, flush, err := cmd.Bootstrap(ctx, command, "dunning-activator")
	if err != nil {
		return err
	}
	defer flush()

	store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"), command.String("fixtures"))
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	return fn(cmd.NewEngine(store, tracer, logger))
}
