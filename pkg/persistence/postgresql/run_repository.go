package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/sethvargo/go-retry"

	"github.com/dukex/dunning/pkg/models"
	"github.com/dukex/dunning/pkg/persistence"
)

const (
	runColumns = `id, tenant_id, campaign_id, subject_id, state, current_step, context, final_result, started_at, completed_at`

	uniqueViolation = "23505"
)

// RunRepository handles workflow runs and their execution logs.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

// marshalMap returns an untyped nil for a nil map so the column is stored as NULL.
func marshalMap(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}

	return json.Marshal(m)
}

func unmarshalMap(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}

	return m, nil
}

func scanRun(row rowScanner) (*models.WorkflowRun, error) {
	var (
		run           models.WorkflowRun
		runCtx, final []byte
	)

	err := row.Scan(&run.ID, &run.TenantID, &run.CampaignID, &run.SubjectID, &run.State, &run.CurrentStep,
		&runCtx, &final, &run.StartedAt, &run.CompletedAt)
	if err != nil {
		return nil, err
	}

	if run.Context, err = unmarshalMap(runCtx); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run context: %w", err)
	}

	if run.FinalResult, err = unmarshalMap(final); err != nil {
		return nil, fmt.Errorf("failed to unmarshal final result: %w", err)
	}

	return &run, nil
}

func (r *RunRepository) insertRun(ctx context.Context, run *models.WorkflowRun, onConflict string) (bool, error) {
	runCtx, err := marshalMap(run.Context)
	if err != nil {
		return false, fmt.Errorf("failed to marshal run context: %w", err)
	}

	final, err := marshalMap(run.FinalResult)
	if err != nil {
		return false, fmt.Errorf("failed to marshal final result: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO workflow_runs (`+runColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) `+onConflict,
		run.ID, run.TenantID, run.CampaignID, run.SubjectID, run.State, run.CurrentStep,
		runCtx, final, run.StartedAt, run.CompletedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert run: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to insert run: %w", err)
	}

	return affected == 1, nil
}

func (r *RunRepository) CreateRun(ctx context.Context, run *models.WorkflowRun) error {
	_, err := r.insertRun(ctx, run, "")

	return err
}

func (r *RunRepository) EnsureRun(ctx context.Context, run *models.WorkflowRun) (*models.WorkflowRun, error) {
	if _, err := r.insertRun(ctx, run, "ON CONFLICT (campaign_id, subject_id) DO NOTHING"); err != nil {
		return nil, err
	}

	row := r.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM workflow_runs WHERE campaign_id = $1 AND subject_id = $2`,
		run.CampaignID, run.SubjectID)

	found, err := scanRun(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return found, nil
}

func (r *RunRepository) UpdateRun(ctx context.Context, run *models.WorkflowRun) error {
	runCtx, err := marshalMap(run.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal run context: %w", err)
	}

	final, err := marshalMap(run.FinalResult)
	if err != nil {
		return fmt.Errorf("failed to marshal final result: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE workflow_runs
		SET state = $2, current_step = $3, context = $4, final_result = $5, completed_at = $6
		WHERE id = $1`,
		run.ID, run.State, run.CurrentStep, runCtx, final, run.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	if affected == 0 {
		return persistence.NotFound("run", run.ID)
	}

	return nil
}

func (r *RunRepository) Run(ctx context.Context, id string) (*models.WorkflowRun, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM workflow_runs WHERE id = $1`, id)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NotFound("run", id)
		}

		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// AppendLog computes the next step number in the insert itself. Two concurrent appends
// for the same (run, node) can compute the same number; the loser hits the unique
// constraint and is retried.
func (r *RunRepository) AppendLog(ctx context.Context, entry *models.ExecutionLog) error {
	input, err := marshalMap(entry.Input)
	if err != nil {
		return fmt.Errorf("failed to marshal log input: %w", err)
	}

	output, err := marshalMap(entry.Output)
	if err != nil {
		return fmt.Errorf("failed to marshal log output: %w", err)
	}

	query := `
		INSERT INTO execution_logs (
			id, workflow_run_id, node_id, step_number, kind, status,
			input, output, error_message, duration_ms, timestamp
		)
		SELECT $1, $2, $3, COALESCE(MAX(step_number), 0) + 1, $4, $5, $6, $7, $8, $9, $10
		FROM execution_logs
		WHERE workflow_run_id = $2 AND node_id = $3
		RETURNING step_number
	`

	backoff := retry.WithMaxRetries(10, retry.NewConstant(10*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := r.db.QueryRowContext(ctx, query,
			entry.ID, entry.WorkflowRunID, entry.NodeID, entry.Kind, entry.Status,
			input, output, entry.ErrorMessage, entry.DurationMs, entry.Timestamp,
		).Scan(&entry.StepNumber)
		if err == nil {
			return nil
		}

		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint != "execution_logs_pkey" {
			return retry.RetryableError(err)
		}

		return fmt.Errorf("failed to append log: %w", err)
	})
}

func (r *RunRepository) RunLogs(ctx context.Context, runID string) ([]models.ExecutionLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, workflow_run_id, node_id, step_number, kind, status,
		       input, output, error_message, duration_ms, timestamp
		FROM execution_logs
		WHERE workflow_run_id = $1
		ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	logs := make([]models.ExecutionLog, 0)

	for rows.Next() {
		var (
			l             models.ExecutionLog
			input, output []byte
		)

		err := rows.Scan(&l.ID, &l.WorkflowRunID, &l.NodeID, &l.StepNumber, &l.Kind, &l.Status,
			&input, &output, &l.ErrorMessage, &l.DurationMs, &l.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to scan log: %w", err)
		}

		if l.Input, err = unmarshalMap(input); err != nil {
			return nil, fmt.Errorf("failed to unmarshal log input: %w", err)
		}

		if l.Output, err = unmarshalMap(output); err != nil {
			return nil, fmt.Errorf("failed to unmarshal log output: %w", err)
		}

		logs = append(logs, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating logs: %w", err)
	}

	return logs, nil
}
