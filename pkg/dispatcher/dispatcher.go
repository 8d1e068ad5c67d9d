// Package dispatcher delivers matured scheduled actions: it claims each due action, renders
// its message, hands it to the channel sender, and records the outcome.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/dukex/dunning/pkg/channels"
	"github.com/dukex/dunning/pkg/executionlog"
	"github.com/dukex/dunning/pkg/models"
	"github.com/dukex/dunning/pkg/otelhelper"
	"github.com/dukex/dunning/pkg/persistence"
	"github.com/dukex/dunning/pkg/retry"
	"github.com/dukex/dunning/pkg/scheduler"
)

const (
	DefaultBatchSize   = 50
	DefaultSendTimeout = 30 * time.Second
)

// Store is the persistence the dispatcher reads and writes.
type Store interface {
	persistence.ActionRepository
	persistence.OutcomeRepository
	persistence.CatalogRepository
}

// Dependencies wires a Dispatcher.
type Dependencies struct {
	Store     Store
	Runs      *executionlog.Logger
	Senders   *channels.Registry
	Retries   *retry.Resolver
	Scheduler *scheduler.Scheduler
	Tracer    trace.Tracer
	Logger    *slog.Logger
}

// Dispatcher runs dispatch passes. It is safe for concurrent use: a pending action is
// claimed by exactly one pass.
type Dispatcher struct {
	store       Store
	runs        *executionlog.Logger
	senders     *channels.Registry
	retries     *retry.Resolver
	scheduler   *scheduler.Scheduler
	tracer      trace.Tracer
	logger      *slog.Logger
	batchSize   int
	sendTimeout time.Duration
	concurrency int
	now         func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithBatchSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.batchSize = n
		}
	}
}

func WithSendTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.sendTimeout = timeout
		}
	}
}

// WithConcurrency bounds how many actions are in flight. One keeps strict fetch order.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

func New(deps Dependencies, opts ...Option) *Dispatcher {
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otelhelper.NoopTracer()
	}

	d := &Dispatcher{
		store:       deps.Store,
		runs:        deps.Runs,
		senders:     deps.Senders,
		retries:     deps.Retries,
		scheduler:   deps.Scheduler,
		tracer:      tracer,
		logger:      deps.Logger.With("module", "dispatcher"),
		batchSize:   DefaultBatchSize,
		sendTimeout: DefaultSendTimeout,
		concurrency: 1,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// RunOnce dispatches up to one batch of due actions and returns how many reached a
// terminal state. Per-action failures are logged and never abort the pass.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "dispatch.run")
	defer span.End()

	now := d.now().UTC()

	due, err := d.store.DueActions(ctx, now, d.batchSize)
	if err != nil {
		otelhelper.SetError(span, err)

		return 0, fmt.Errorf("failed to fetch due actions: %w", err)
	}

	if len(due) == 0 {
		return 0, nil
	}

	d.logger.InfoContext(ctx, "Dispatching due actions", "count", len(due), "now", now)

	var (
		processed atomic.Int64
		g         errgroup.Group
	)

	g.SetLimit(d.concurrency)

	for _, item := range due {
		g.Go(func() error {
			if d.dispatch(ctx, item) {
				processed.Add(1)
			}

			return nil
		})
	}

	_ = g.Wait()

	n := int(processed.Load())
	span.SetAttributes(attribute.Int("dunning.dispatch.processed", n))

	d.logger.InfoContext(ctx, "Dispatch pass finished", "fetched", len(due), "processed", n)

	return n, nil
}

// dispatch handles one action and reports whether it reached a terminal state.
func (d *Dispatcher) dispatch(ctx context.Context, due models.DueAction) (terminal bool) {
	action := due.Action

	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "dispatch.action",
		attribute.String(otelhelper.ActionIDKey, action.ID),
		attribute.String(otelhelper.TenantIDKey, action.TenantID),
		attribute.String(otelhelper.ChannelKey, string(action.Channel)),
		attribute.Int(otelhelper.AttemptKey, action.Attempt),
	)
	defer span.End()

	logger := d.logger.With("action_id", action.ID, "debt_id", action.DebtID, "channel", action.Channel)

	if due.DebtDeleted {
		return d.cancelDeleted(ctx, logger, action)
	}

	if err := d.store.Transition(ctx, action.ID, models.ActionStatePending, models.ActionStateRunning); err != nil {
		if persistence.IsStateConflict(err) {
			logger.DebugContext(ctx, "Action claimed elsewhere")
		} else {
			logger.ErrorContext(ctx, "Failed to claim action", "error", err)
		}

		return false
	}

	sent := false

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("dispatch panicked: %v", r)
			otelhelper.SetError(span, err)
			logger.ErrorContext(ctx, "Recovered from dispatch panic", "error", err, "sent", sent)

			if sent {
				terminal = d.transition(ctx, logger, action.ID, models.ActionStateCancelled)
			} else {
				d.release(ctx, logger, action.ID)
				terminal = false
			}
		}
	}()

	p, err := d.prepare(ctx, action, due.Recipient)
	if err != nil {
		otelhelper.SetError(span, err)
		logger.ErrorContext(ctx, "Failed to prepare action", "error", err)

		if p != nil && p.step != nil {
			if logErr := p.step.Failed(ctx, err, nil); logErr != nil {
				logger.ErrorContext(ctx, "Failed to record step failure", "error", logErr)
			}
		}

		d.release(ctx, logger, action.ID)

		return false
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	res := channels.Invoke(sendCtx, p.sender, p.request)

	cancel()

	sent = true

	d.record(ctx, logger, p, res)

	final := models.ActionStateDone
	if !res.Success {
		final = models.ActionStateCancelled
		span.SetAttributes(attribute.String("dunning.dispatch.error", res.Error))
	}

	terminal = d.transition(ctx, logger, action.ID, final)

	d.writeOutcome(ctx, logger, action, due.Recipient, res)

	if !res.Success && res.Retryable {
		d.scheduleRetry(ctx, logger, action)
	}

	return terminal
}

type prepared struct {
	step    *executionlog.Step
	sender  channels.Sender
	request channels.Request
}

// prepare does everything that must succeed before the sender may be invoked.
func (d *Dispatcher) prepare(ctx context.Context, action models.ScheduledAction, recipient string) (*prepared, error) {
	campaign := ""
	if action.CampaignID != nil {
		campaign = *action.CampaignID
	}

	run, err := d.runs.EnsureDispatchRun(ctx, action.TenantID, campaign, action.DebtID)
	if err != nil {
		return nil, err
	}

	step, err := d.runs.Start(ctx, run, action.ID, string(action.Channel), map[string]any{
		"action_id": action.ID,
		"attempt":   action.Attempt,
		"recipient": recipient,
		"reference": action.Reference(),
	})
	if err != nil {
		return nil, err
	}

	p := &prepared{step: step}

	p.request, err = d.render(ctx, action, recipient)
	if err != nil {
		return p, err
	}

	p.sender, err = d.senders.Sender(action.Channel)
	if err != nil {
		return p, err
	}

	return p, nil
}

func (d *Dispatcher) record(ctx context.Context, logger *slog.Logger, p *prepared, res channels.Result) {
	output := map[string]any{
		"success":   res.Success,
		"retryable": res.Retryable,
	}

	if res.ExternalID != "" {
		output["external_id"] = res.ExternalID
	}

	if res.Detail != "" {
		output["detail"] = res.Detail
	}

	var err error
	if res.Success {
		err = p.step.Done(ctx, output)
	} else {
		err = p.step.Failed(ctx, fmt.Errorf("send failed: %s", res.Error), output)
	}

	if err != nil {
		logger.ErrorContext(ctx, "Failed to record dispatch step", "error", err)
	}

	if err := d.runs.Touch(ctx, p.step.Run()); err != nil {
		logger.ErrorContext(ctx, "Failed to update dispatch run", "error", err)
	}
}

func (d *Dispatcher) cancelDeleted(ctx context.Context, logger *slog.Logger, action models.ScheduledAction) bool {
	err := d.store.Transition(ctx, action.ID, models.ActionStatePending, models.ActionStateCancelled)

	switch {
	case persistence.IsStateConflict(err):
		logger.DebugContext(ctx, "Action of deleted debt already handled")

		return false
	case err != nil:
		logger.ErrorContext(ctx, "Failed to cancel action of deleted debt", "error", err)

		return false
	}

	logger.InfoContext(ctx, "Cancelled action of deleted debt")

	return true
}

func (d *Dispatcher) transition(ctx context.Context, logger *slog.Logger, id string, to models.ActionState) bool {
	if err := d.store.Transition(ctx, id, models.ActionStateRunning, to); err != nil {
		logger.ErrorContext(ctx, "Failed to finish action", "state", to, "error", err)

		return false
	}

	logger.InfoContext(ctx, "Action dispatched", "state", to)

	return true
}

func (d *Dispatcher) release(ctx context.Context, logger *slog.Logger, id string) {
	if err := d.store.Transition(context.WithoutCancel(ctx), id, models.ActionStateRunning, models.ActionStatePending); err != nil {
		logger.ErrorContext(ctx, "Failed to release action", "error", err)

		return
	}

	logger.WarnContext(ctx, "Action released for a later pass")
}
