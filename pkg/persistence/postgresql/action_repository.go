package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/dunning/pkg/models"
	"github.com/dukex/dunning/pkg/persistence"
)

const actionColumns = `
	id, tenant_id, debt_id, contact_id, campaign_id, channel, target_time,
	template_id, agent_id, variables, state, attempt, retry_of, created_at, updated_at`

// ActionRepository handles scheduled actions, dispatch outcomes and retry policies.
type ActionRepository struct {
	db     *sql.DB
	logger *slog.Logger
	debts  *DebtRepository
}

// NewActionRepository creates a new action repository.
func NewActionRepository(db *sql.DB, logger *slog.Logger) *ActionRepository {
	return &ActionRepository{db: db, logger: logger, debts: NewDebtRepository(db, logger)}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAction(row rowScanner) (*models.ScheduledAction, error) {
	var (
		a         models.ScheduledAction
		variables []byte
	)

	err := row.Scan(&a.ID, &a.TenantID, &a.DebtID, &a.ContactID, &a.CampaignID, &a.Channel, &a.TargetTime,
		&a.TemplateID, &a.AgentID, &variables, &a.State, &a.Attempt, &a.RetryOf, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if len(variables) > 0 {
		if err := json.Unmarshal(variables, &a.Variables); err != nil {
			return nil, fmt.Errorf("failed to unmarshal variables: %w", err)
		}
	}

	a.TargetTime = a.TargetTime.UTC()

	return &a, nil
}

func (r *ActionRepository) InsertAction(ctx context.Context, a *models.ScheduledAction) (bool, error) {
	variables, err := json.Marshal(a.Variables)
	if err != nil {
		return false, persistence.NewActionError("InsertAction", a.ID, fmt.Errorf("failed to marshal variables: %w", err))
	}

	key := a.DedupKey()

	query := `
		INSERT INTO scheduled_actions (` + actionColumns + `, campaign_key, target_day)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (debt_id, channel, campaign_key, target_day, attempt) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		a.ID, a.TenantID, a.DebtID, a.ContactID, a.CampaignID, a.Channel, a.TargetTime.UTC(),
		a.TemplateID, a.AgentID, variables, a.State, a.Attempt, a.RetryOf, a.CreatedAt, a.UpdatedAt,
		key.CampaignID, key.TargetDay,
	)
	if err != nil {
		return false, persistence.NewActionError("InsertAction", a.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, persistence.NewActionError("InsertAction", a.ID, err)
	}

	if affected == 0 {
		r.logger.DebugContext(ctx, "duplicate action dropped", "action_id", a.ID, "dedup_key", key.String())
	}

	return affected == 1, nil
}

func (r *ActionRepository) Action(ctx context.Context, id string) (*models.ScheduledAction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM scheduled_actions WHERE id = $1`, id)

	a, err := scanAction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewActionError("Action", id, persistence.ErrNotFound)
		}

		return nil, persistence.NewActionError("Action", id, err)
	}

	return a, nil
}

func (r *ActionRepository) ActionsByTenant(ctx context.Context, tenantID string) ([]models.ScheduledAction, error) {
	return r.queryActions(ctx,
		`SELECT `+actionColumns+` FROM scheduled_actions WHERE tenant_id = $1 ORDER BY target_time, created_at`,
		tenantID)
}

func (r *ActionRepository) DueActions(ctx context.Context, now time.Time, limit int) ([]models.DueAction, error) {
	actions, err := r.queryActions(ctx, `
		SELECT `+actionColumns+`
		FROM scheduled_actions
		WHERE state = 'pending' AND target_time <= $1
		ORDER BY target_time, created_at
		LIMIT $2`, now.UTC(), limit)
	if err != nil {
		return nil, err
	}

	byTenant := map[string][]string{}
	for _, a := range actions {
		byTenant[a.TenantID] = append(byTenant[a.TenantID], a.DebtID)
	}

	records := map[string]*models.DebtRecord{}

	for tenantID, debtIDs := range byTenant {
		found, err := r.debts.DebtRecords(ctx, tenantID, debtIDs)
		if err != nil {
			return nil, err
		}

		for id, record := range found {
			records[id] = record
		}
	}

	due := make([]models.DueAction, 0, len(actions))

	for _, a := range actions {
		item := models.DueAction{Action: a}

		record, ok := records[a.DebtID]
		if !ok || !record.Debt.Active() {
			item.DebtDeleted = true
		} else {
			item.Recipient = persistence.Recipient(record, a)
		}

		due = append(due, item)
	}

	return due, nil
}

// Transition is a single-row compare-and-swap on the state column.
func (r *ActionRepository) Transition(ctx context.Context, id string, from, to models.ActionState) error {
	if !models.CanTransition(from, to) {
		return persistence.NewActionError("Transition", id,
			fmt.Errorf("%w: %s to %s", models.ErrInvalidTransition, from, to))
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE scheduled_actions SET state = $3, updated_at = NOW() WHERE id = $1 AND state = $2`,
		id, from, to)
	if err != nil {
		return persistence.NewActionError("Transition", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewActionError("Transition", id, err)
	}

	if affected == 1 {
		return nil
	}

	var exists bool

	err = r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM scheduled_actions WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return persistence.NewActionError("Transition", id, err)
	}

	if !exists {
		return persistence.NewActionError("Transition", id, persistence.ErrNotFound)
	}

	return persistence.NewActionError("Transition", id, persistence.ErrStateConflict)
}

func (r *ActionRepository) queryActions(ctx context.Context, query string, args ...any) ([]models.ScheduledAction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query actions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	actions := make([]models.ScheduledAction, 0)

	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}

		actions = append(actions, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating actions: %w", err)
	}

	return actions, nil
}

func (r *ActionRepository) RecordOutcome(ctx context.Context, o *models.DispatchOutcome) (bool, error) {
	query := `
		INSERT INTO dispatch_outcomes (id, action_id, tenant_id, channel, recipient, success, external_id, detail, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (action_id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query, o.ID, o.ActionID, o.TenantID, o.Channel, o.Recipient,
		o.Success, o.ExternalID, o.Detail, o.Error, o.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to record outcome: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to record outcome: %w", err)
	}

	return affected == 1, nil
}

func (r *ActionRepository) OutcomeByAction(ctx context.Context, actionID string) (*models.DispatchOutcome, error) {
	var o models.DispatchOutcome

	err := r.db.QueryRowContext(ctx, `
		SELECT id, action_id, tenant_id, channel, recipient, success, external_id, detail, error, created_at
		FROM dispatch_outcomes WHERE action_id = $1`, actionID).
		Scan(&o.ID, &o.ActionID, &o.TenantID, &o.Channel, &o.Recipient, &o.Success,
			&o.ExternalID, &o.Detail, &o.Error, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NotFound("outcome", actionID)
		}

		return nil, fmt.Errorf("failed to get outcome: %w", err)
	}

	return &o, nil
}

func (r *ActionRepository) RetryPolicy(ctx context.Context, tenantID string, channel models.Channel) (*models.RetryPolicy, error) {
	policy := models.RetryPolicy{TenantID: tenantID, Channel: channel}

	var steps []byte

	err := r.db.QueryRowContext(ctx,
		`SELECT max_attempts, backoff_steps FROM retry_policies WHERE tenant_id = $1 AND channel = $2`,
		tenantID, channel).Scan(&policy.MaxAttempts, &steps)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NotFound("retry_policy", tenantID+"/"+string(channel))
		}

		return nil, fmt.Errorf("failed to get retry policy: %w", err)
	}

	policy.BackoffSteps, err = models.ParseBackoff(steps)
	if err != nil {
		return nil, err
	}

	return &policy, nil
}

func (r *ActionRepository) SaveRetryPolicy(ctx context.Context, policy *models.RetryPolicy) error {
	steps, err := policy.BackoffJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal backoff steps: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO retry_policies (tenant_id, channel, max_attempts, backoff_steps)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, channel) DO UPDATE SET
			max_attempts = EXCLUDED.max_attempts,
			backoff_steps = EXCLUDED.backoff_steps`,
		policy.TenantID, policy.Channel, policy.MaxAttempts, steps)
	if err != nil {
		return fmt.Errorf("failed to save retry policy: %w", err)
	}

	return nil
}
