package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	cli "github.com/urfave/cli/v3"

	"github.com/dukex/dunning/pkg/cmd"
	"github.com/dukex/dunning/pkg/workflow"
)

func NewActivateCommand() *cli.Command {
	return &cli.Command{
		Name:      "activate",
		Aliases:   []string{"a"},
		Usage:     "Run a campaign file against the store and schedule its actions",
		ArgsUsage: "FILE",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "base-time",
				Usage: "Virtual clock start of the activation as RFC3339 (defaults to now)",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			if command.Args().Len() != 1 {
				return errors.New("exactly one campaign file is required")
			}

			baseTime, err := parseBaseTime(command.String("base-time"))
			if err != nil {
				return err
			}

			return withEngine(ctx, command, func(engine *cmd.Engine) error {
				_, err := activate(ctx, command.Root().Writer, engine.Interpreter, command.Args().First(), baseTime)

				return err
			})
		},
	}
}

func parseBaseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}

	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid base time %q: %w", value, err)
	}

	return t, nil
}

// activate runs the campaign in path once and prints the scheduling summary.
func activate(
	ctx context.Context,
	w io.Writer,
	interpreter *workflow.Interpreter,
	path string,
	baseTime time.Time,
) (*workflow.Result, error) {
	campaign, err := workflow.LoadCampaign(path)
	if err != nil {
		return nil, err
	}

	graph, err := interpreter.Load(campaign.Nodes, campaign.Edges)
	if err != nil {
		return nil, fmt.Errorf("campaign %s: %w", campaign.CampaignID, err)
	}

	result, err := interpreter.Run(ctx, workflow.Activation{
		TenantID:   campaign.TenantID,
		CampaignID: campaign.CampaignID,
		Graph:      graph,
		Population: campaign.Population,
		BaseTime:   baseTime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to activate campaign %s: %w", campaign.CampaignID, err)
	}

	_, _ = color.New(color.FgCyan).Fprintf(w, "Campaign %s activated (run %s)\n", campaign.CampaignID, result.RunID)
	_, _ = color.New(color.FgGreen).Fprintf(w, "  scheduled: %d\n", result.Scheduled)
	_, _ = fmt.Fprintf(w, "  succeeded paths: %d\n", result.Succeeded)

	failed := color.New(color.FgGreen)
	if result.Failed > 0 {
		failed = color.New(color.FgRed)
	}

	_, _ = failed.Fprintf(w, "  failed paths: %d\n", result.Failed)

	return result, nil
}
