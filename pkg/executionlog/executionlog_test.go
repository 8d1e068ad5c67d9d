package executionlog_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/dunning/pkg/executionlog"
	"github.com/dukex/dunning/pkg/models"
	"github.com/dukex/dunning/pkg/persistence"
	"github.com/dukex/dunning/pkg/persistence/memory"
)

type stepClock struct {
	t time.Time
}

func (c *stepClock) now() time.Time {
	c.t = c.t.Add(250 * time.Millisecond)

	return c.t
}

func newLogger(t *testing.T) (*executionlog.Logger, *memory.Persistence) {
	t.Helper()

	store, err := memory.NewPersistence(slog.Default())
	require.NoError(t, err)

	clock := &stepClock{t: time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)}

	return executionlog.New(store, slog.Default(), executionlog.WithClock(clock.now)), store
}

func TestIDs(t *testing.T) {
	runID, err := executionlog.NewRunID()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(runID, "run_"))

	logID, err := executionlog.NewLogID()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(logID, "log_"))
}

func TestActivationLifecycle(t *testing.T) {
	logger, store := newLogger(t)
	ctx := context.Background()

	run, err := logger.StartActivation(ctx, "t1", "camp", map[string]any{"population": 3})
	require.NoError(t, err)
	assert.True(t, run.IsActivation())
	assert.Equal(t, models.RunStateRunning, run.State)

	step, err := logger.Start(ctx, run, "filter-1", "filter", map[string]any{"population": 3})
	require.NoError(t, err)
	require.NoError(t, step.Done(ctx, map[string]any{"selected": 2}))

	step, err = logger.Start(ctx, run, "email-1", "email", nil)
	require.NoError(t, err)
	require.NoError(t, step.Failed(ctx, errors.New("template missing"), nil))

	require.NoError(t, logger.Skipped(ctx, run, "wait-1", "wait", "empty population"))
	require.NoError(t, logger.Finish(ctx, run, models.RunStateFailed, map[string]any{"scheduled": 0}))

	stored, err := store.Run(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStateFailed, stored.State)
	assert.NotNil(t, stored.CompletedAt)
	assert.Equal(t, "email-1", stored.CurrentStep)

	logs, err := logger.Logs(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, logs, 5)

	statuses := make([]models.LogStatus, len(logs))
	for i, l := range logs {
		statuses[i] = l.Status
	}

	assert.Equal(t, []models.LogStatus{
		models.LogStatusStarted, models.LogStatusDone,
		models.LogStatusStarted, models.LogStatusFailed,
		models.LogStatusSkipped,
	}, statuses)

	assert.Equal(t, 1, logs[0].StepNumber)
	assert.Equal(t, 2, logs[1].StepNumber)
	assert.Equal(t, int64(250), logs[1].DurationMs)
	assert.Equal(t, "template missing", *logs[3].ErrorMessage)
	assert.Equal(t, 1, logs[4].StepNumber)
}

func TestEnsureDispatchRun_ReusesRun(t *testing.T) {
	logger, _ := newLogger(t)
	ctx := context.Background()

	first, err := logger.EnsureDispatchRun(ctx, "t1", "camp", "debt-1")
	require.NoError(t, err)
	assert.False(t, first.IsActivation())

	second, err := logger.EnsureDispatchRun(ctx, "t1", "camp", "debt-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	other, err := logger.EnsureDispatchRun(ctx, "t1", "camp", "debt-2")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestLogs_UnknownRun(t *testing.T) {
	logger, _ := newLogger(t)

	_, err := logger.Logs(context.Background(), "run_missing")
	assert.True(t, persistence.IsNotFound(err))
}

func TestTouch_PersistsCurrentStep(t *testing.T) {
	logger, store := newLogger(t)
	ctx := context.Background()

	run, err := logger.EnsureDispatchRun(ctx, "t1", "camp", "debt-1")
	require.NoError(t, err)

	step, err := logger.Start(ctx, run, "a1", "email", nil)
	require.NoError(t, err)
	require.NoError(t, step.Done(ctx, nil))
	require.NoError(t, logger.Touch(ctx, step.Run()))

	stored, err := store.Run(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "a1", stored.CurrentStep)
	assert.Equal(t, models.RunStateRunning, stored.State)
}
