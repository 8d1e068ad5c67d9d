package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRunner struct {
	calls  atomic.Int32
	err    error
	cancel context.CancelFunc
}

func (r *countingRunner) RunOnce(context.Context) (int, error) {
	r.calls.Add(1)

	if r.cancel != nil {
		r.cancel()
	}

	return 2, r.err
}

func TestNewLoop_RejectsInvalidSchedule(t *testing.T) {
	_, err := NewLoop(&countingRunner{}, "every tuesday", slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid dispatch schedule")

	_, err = NewLoop(&countingRunner{}, "*/5 * * * *", slog.Default())
	assert.NoError(t, err)
}

func TestLoop_RunsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	runner := &countingRunner{cancel: cancel}

	loop, err := NewLoop(runner, "@every 1s", slog.Default())
	require.NoError(t, err)

	done := make(chan error, 1)

	go func() { done <- loop.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch loop did not stop")
	}

	assert.Equal(t, int32(1), runner.calls.Load())
}

func TestLoop_TickSkipsCancelledContext(t *testing.T) {
	runner := &countingRunner{}

	loop, err := NewLoop(runner, "@every 1m", slog.Default())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	loop.tick(ctx)
	assert.Zero(t, runner.calls.Load())

	runner.err = errors.New("store down")
	loop.tick(context.Background())
	assert.Equal(t, int32(1), runner.calls.Load())
}

func TestCronLogger(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	clog := cronLogger{logger: logger}

	clog.Error(errors.New("boom"), "panic", "job", 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "panic", entry["msg"])
	assert.Equal(t, "boom", entry["error"])
	assert.InDelta(t, 1, entry["job"], 0)

	buf.Reset()
	clog.Info("wake", "now", "later")

	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "DEBUG", entry["level"])
	assert.Equal(t, "later", entry["now"])
}
