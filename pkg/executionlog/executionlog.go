// Package executionlog records workflow runs and their step-level execution logs.
package executionlog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.jetify.com/typeid"

	"github.com/dukex/dunning/pkg/models"
	"github.com/dukex/dunning/pkg/persistence"
)

// Store is the persistence the logger writes to.
type Store interface {
	persistence.RunRepository
	persistence.LogRepository
}

// NewRunID returns a new prefixed run id, e.g. run_01h455vb4pex5vsknk084sn02q.
func NewRunID() (string, error) {
	return newID("run")
}

// NewLogID returns a new prefixed execution log id.
func NewLogID() (string, error) {
	return newID("log")
}

func newID(prefix string) (string, error) {
	id, err := typeid.WithPrefix(prefix)
	if err != nil {
		return "", fmt.Errorf("failed to generate %s id: %w", prefix, err)
	}

	return id.String(), nil
}

// Logger manages the run lifecycle and appends execution logs.
type Logger struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Logger.
type Option func(*Logger)

// WithClock overrides the wall clock used for timestamps and durations.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		l.now = now
	}
}

// New creates a logger on store.
func New(store Store, logger *slog.Logger, opts ...Option) *Logger {
	l := &Logger{
		store:  store,
		logger: logger.With("module", "executionlog"),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// StartActivation creates the running run recording one campaign activation.
func (l *Logger) StartActivation(ctx context.Context, tenantID, campaignID string, runContext map[string]any) (*models.WorkflowRun, error) {
	id, err := NewRunID()
	if err != nil {
		return nil, err
	}

	run := &models.WorkflowRun{
		ID:         id,
		TenantID:   tenantID,
		CampaignID: campaignID,
		SubjectID:  models.ActivationSubject(id),
		State:      models.RunStateRunning,
		Context:    runContext,
		StartedAt:  l.now().UTC(),
	}

	if err := l.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create activation run: %w", err)
	}

	return run, nil
}

// EnsureDispatchRun returns the run of a (campaign, debt) pair, creating it when needed.
func (l *Logger) EnsureDispatchRun(ctx context.Context, tenantID, campaignID, debtID string) (*models.WorkflowRun, error) {
	id, err := NewRunID()
	if err != nil {
		return nil, err
	}

	run, err := l.store.EnsureRun(ctx, &models.WorkflowRun{
		ID:         id,
		TenantID:   tenantID,
		CampaignID: campaignID,
		SubjectID:  debtID,
		State:      models.RunStateRunning,
		StartedAt:  l.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve run for debt %s: %w", debtID, err)
	}

	return run, nil
}

// Touch persists the run's current step without changing its state. Dispatch runs stay
// running: later actions and retries of the same (campaign, debt) keep appending to them.
func (l *Logger) Touch(ctx context.Context, run *models.WorkflowRun) error {
	if err := l.store.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("failed to update run %s: %w", run.ID, err)
	}

	return nil
}

// Finish moves the run to a final state.
func (l *Logger) Finish(ctx context.Context, run *models.WorkflowRun, state models.RunState, result map[string]any) error {
	completed := l.now().UTC()

	run.State = state
	run.FinalResult = result
	run.CompletedAt = &completed

	if err := l.store.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("failed to finish run %s: %w", run.ID, err)
	}

	return nil
}

// Skipped records a node that was not executed.
func (l *Logger) Skipped(ctx context.Context, run *models.WorkflowRun, nodeID, kind, reason string) error {
	_, err := l.append(ctx, run, &models.ExecutionLog{
		NodeID: nodeID,
		Kind:   kind,
		Status: models.LogStatusSkipped,
		Output: map[string]any{"reason": reason},
	})

	return err
}

// Start records the start of a node step. The returned Step records its end.
func (l *Logger) Start(ctx context.Context, run *models.WorkflowRun, nodeID, kind string, input map[string]any) (*Step, error) {
	entry, err := l.append(ctx, run, &models.ExecutionLog{
		NodeID: nodeID,
		Kind:   kind,
		Status: models.LogStatusStarted,
		Input:  input,
	})
	if err != nil {
		return nil, err
	}

	run.CurrentStep = nodeID

	return &Step{logger: l, run: run, nodeID: nodeID, kind: kind, started: entry.Timestamp}, nil
}

func (l *Logger) append(ctx context.Context, run *models.WorkflowRun, entry *models.ExecutionLog) (*models.ExecutionLog, error) {
	id, err := NewLogID()
	if err != nil {
		return nil, err
	}

	entry.ID = id
	entry.WorkflowRunID = run.ID
	entry.Timestamp = l.now().UTC()

	if err := l.store.AppendLog(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to append %s log for node %s: %w", entry.Status, entry.NodeID, err)
	}

	l.logger.DebugContext(ctx, "Execution log appended",
		"run_id", run.ID,
		"node_id", entry.NodeID,
		"status", entry.Status,
		"step", entry.StepNumber,
	)

	return entry, nil
}

// Logs returns the logs of a run in append order.
func (l *Logger) Logs(ctx context.Context, runID string) ([]models.ExecutionLog, error) {
	if _, err := l.store.Run(ctx, runID); err != nil {
		return nil, err
	}

	return l.store.RunLogs(ctx, runID)
}

// Step is a started node step awaiting its outcome.
type Step struct {
	logger  *Logger
	run     *models.WorkflowRun
	nodeID  string
	kind    string
	started time.Time
}

// Done records a successful end of the step.
func (s *Step) Done(ctx context.Context, output map[string]any) error {
	_, err := s.logger.append(ctx, s.run, &models.ExecutionLog{
		NodeID:     s.nodeID,
		Kind:       s.kind,
		Status:     models.LogStatusDone,
		Output:     output,
		DurationMs: s.elapsed(),
	})

	return err
}

// Failed records a failed end of the step.
func (s *Step) Failed(ctx context.Context, cause error, output map[string]any) error {
	msg := cause.Error()

	_, err := s.logger.append(ctx, s.run, &models.ExecutionLog{
		NodeID:       s.nodeID,
		Kind:         s.kind,
		Status:       models.LogStatusFailed,
		Output:       output,
		ErrorMessage: &msg,
		DurationMs:   s.elapsed(),
	})

	return err
}

// Run returns the run the step belongs to.
func (s *Step) Run() *models.WorkflowRun {
	return s.run
}

func (s *Step) elapsed() int64 {
	return s.logger.now().Sub(s.started).Milliseconds()
}
