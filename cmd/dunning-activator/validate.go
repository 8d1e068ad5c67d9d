// Package main provides the activator CLI that checks and runs campaign definition files.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	cli "github.com/urfave/cli/v3"

	"github.com/dukex/dunning/pkg/cmd"
	"github.com/dukex/dunning/pkg/workflow"
)

var ErrInvalidCampaigns = errors.New("invalid campaigns found")

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Check campaign files without scheduling anything",
		ArgsUsage: "FILE...",
		Action: func(ctx context.Context, command *cli.Command) error {
			paths := command.Args().Slice()
			if len(paths) == 0 {
				return errors.New("at least one campaign file is required")
			}

			return withEngine(ctx, command, func(engine *cmd.Engine) error {
				return validateFiles(command.Root().Writer, engine.Interpreter, paths)
			})
		},
	}
}

// validateFiles loads every file and checks its graph, printing one line per file.
func validateFiles(w io.Writer, interpreter *workflow.Interpreter, paths []string) error {
	_, _ = fmt.Fprintln(w, "Campaign Validation Results:")
	_, _ = fmt.Fprintln(w, "============================")

	invalid := 0

	for _, path := range paths {
		campaign, err := workflow.LoadCampaign(path)
		if err == nil {
			_, err = interpreter.Load(campaign.Nodes, campaign.Edges)
		}

		if err != nil {
			invalid++

			_, _ = color.New(color.FgRed).Fprintf(w, "✗ %s: %v\n", path, err)

			continue
		}

		_, _ = color.New(color.FgGreen).Fprintf(w, "✓ %s: %s (%d nodes, %d edges)\n",
			path, campaign.CampaignID, len(campaign.Nodes), len(campaign.Edges))
	}

	_, _ = fmt.Fprintf(w, "\nValid: %d  Invalid: %d\n", len(paths)-invalid, invalid)

	if invalid > 0 {
		return fmt.Errorf("%w: %d of %d", ErrInvalidCampaigns, invalid, len(paths))
	}

	return nil
}
