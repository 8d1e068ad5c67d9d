// Package main provides the dispatcher service that delivers due actions on a cron schedule.
package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Runner runs one dispatch pass.
type Runner interface {
	RunOnce(ctx context.Context) (int, error)
}

// Loop triggers a dispatch pass on every tick of a cron schedule. A pass still running
// when the next tick fires makes that tick a no-op.
type Loop struct {
	runner   Runner
	schedule string
	logger   *slog.Logger
}

func NewLoop(runner Runner, schedule string, logger *slog.Logger) (*Loop, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid dispatch schedule %q: %w", schedule, err)
	}

	return &Loop{runner: runner, schedule: schedule, logger: logger}, nil
}

// Run blocks until ctx is done, then waits for the running pass to finish.
func (l *Loop) Run(ctx context.Context) error {
	clog := cronLogger{logger: l.logger}

	c := cron.New(
		cron.WithLogger(clog),
		cron.WithChain(cron.SkipIfStillRunning(clog), cron.Recover(clog)),
	)

	id, err := c.AddFunc(l.schedule, func() { l.tick(ctx) })
	if err != nil {
		return fmt.Errorf("failed to add dispatch job: %w", err)
	}

	l.logger.InfoContext(ctx, "Starting dispatch loop", "schedule", l.schedule, "job", id)
	c.Start()

	<-ctx.Done()

	l.logger.InfoContext(ctx, "Stopping dispatch loop")
	<-c.Stop().Done()

	return nil
}

func (l *Loop) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	n, err := l.runner.RunOnce(ctx)
	if err != nil {
		l.logger.ErrorContext(ctx, "Dispatch pass failed", "error", err, "processed", n)

		return
	}

	if n > 0 {
		l.logger.InfoContext(ctx, "Dispatch pass finished", "processed", n)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}
