package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/dukex/dunning/pkg/models"
	"github.com/dukex/dunning/pkg/persistence"
)

type actionRow struct {
	ID       string
	TenantID string
	DedupKey string
	State    string
	Action   models.ScheduledAction
}

func newActionRow(a models.ScheduledAction) *actionRow {
	a.Variables = maps.Clone(a.Variables)

	return &actionRow{
		ID:       a.ID,
		TenantID: a.TenantID,
		DedupKey: a.DedupKey().String(),
		State:    string(a.State),
		Action:   a,
	}
}

type outcomeRow struct {
	ActionID string
	Outcome  models.DispatchOutcome
}

type policyRow struct {
	Key    string
	Policy models.RetryPolicy
}

func (p *Persistence) InsertAction(_ context.Context, action *models.ScheduledAction) (bool, error) {
	txn := p.db.Txn(true)
	defer txn.Abort()

	row := newActionRow(*action)

	existing, err := txn.First(tableActions, "dedup", row.DedupKey)
	if err != nil {
		return false, persistence.NewActionError("InsertAction", action.ID, err)
	}

	if existing != nil {
		p.logger.Debug("duplicate action dropped", "action_id", action.ID, "dedup_key", row.DedupKey)

		return false, nil
	}

	if err := txn.Insert(tableActions, row); err != nil {
		return false, persistence.NewActionError("InsertAction", action.ID, err)
	}

	txn.Commit()

	return true, nil
}

func (p *Persistence) Action(_ context.Context, id string) (*models.ScheduledAction, error) {
	obj, err := p.db.Txn(false).First(tableActions, indexID, id)
	if err != nil {
		return nil, persistence.NewActionError("Action", id, err)
	}

	if obj == nil {
		return nil, persistence.NewActionError("Action", id, persistence.ErrNotFound)
	}

	action := obj.(*actionRow).Action

	return &action, nil
}

func (p *Persistence) ActionsByTenant(_ context.Context, tenantID string) ([]models.ScheduledAction, error) {
	it, err := p.db.Txn(false).Get(tableActions, "tenant", tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}

	var actions []models.ScheduledAction
	for obj := it.Next(); obj != nil; obj = it.Next() {
		actions = append(actions, obj.(*actionRow).Action)
	}

	sortByTarget(actions)

	return actions, nil
}

func (p *Persistence) DueActions(_ context.Context, now time.Time, limit int) ([]models.DueAction, error) {
	txn := p.db.Txn(false)

	it, err := txn.Get(tableActions, "state", string(models.ActionStatePending))
	if err != nil {
		return nil, fmt.Errorf("failed to list pending actions: %w", err)
	}

	var pending []models.ScheduledAction

	for obj := it.Next(); obj != nil; obj = it.Next() {
		action := obj.(*actionRow).Action
		if !action.TargetTime.After(now) {
			pending = append(pending, action)
		}
	}

	sortByTarget(pending)

	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}

	due := make([]models.DueAction, 0, len(pending))

	for _, action := range pending {
		record, err := debtRecord(txn, action.DebtID)
		if err != nil {
			return nil, err
		}

		due = append(due, annotate(action, record))
	}

	return due, nil
}

// Transition is the compare-and-swap primitive. memdb serializes write
// transactions, so the read-check-write below is atomic.
func (p *Persistence) Transition(_ context.Context, id string, from, to models.ActionState) error {
	if !models.CanTransition(from, to) {
		return persistence.NewActionError("Transition", id,
			fmt.Errorf("%w: %s to %s", models.ErrInvalidTransition, from, to))
	}

	txn := p.db.Txn(true)
	defer txn.Abort()

	obj, err := txn.First(tableActions, indexID, id)
	if err != nil {
		return persistence.NewActionError("Transition", id, err)
	}

	if obj == nil {
		return persistence.NewActionError("Transition", id, persistence.ErrNotFound)
	}

	current := obj.(*actionRow)
	if current.State != string(from) {
		return persistence.NewActionError("Transition", id, persistence.ErrStateConflict)
	}

	action := current.Action
	action.State = to
	action.UpdatedAt = time.Now().UTC()

	if err := txn.Insert(tableActions, newActionRow(action)); err != nil {
		return persistence.NewActionError("Transition", id, err)
	}

	txn.Commit()

	return nil
}

func (p *Persistence) RecordOutcome(_ context.Context, outcome *models.DispatchOutcome) (bool, error) {
	txn := p.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(tableOutcomes, indexID, outcome.ActionID)
	if err != nil {
		return false, fmt.Errorf("failed to get outcome: %w", err)
	}

	if existing != nil {
		return false, nil
	}

	if err := txn.Insert(tableOutcomes, &outcomeRow{ActionID: outcome.ActionID, Outcome: *outcome}); err != nil {
		return false, fmt.Errorf("failed to insert outcome: %w", err)
	}

	txn.Commit()

	return true, nil
}

func (p *Persistence) OutcomeByAction(_ context.Context, actionID string) (*models.DispatchOutcome, error) {
	obj, err := p.db.Txn(false).First(tableOutcomes, indexID, actionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get outcome: %w", err)
	}

	if obj == nil {
		return nil, persistence.NotFound("outcome", actionID)
	}

	outcome := obj.(*outcomeRow).Outcome

	return &outcome, nil
}

func (p *Persistence) RetryPolicy(_ context.Context, tenantID string, channel models.Channel) (*models.RetryPolicy, error) {
	obj, err := p.db.Txn(false).First(tablePolicies, indexID, key(tenantID, string(channel)))
	if err != nil {
		return nil, fmt.Errorf("failed to get retry policy: %w", err)
	}

	if obj == nil {
		return nil, persistence.NotFound("retry_policy", key(tenantID, string(channel)))
	}

	policy := obj.(*policyRow).Policy
	policy.BackoffSteps = slices.Clone(policy.BackoffSteps)

	return &policy, nil
}

func (p *Persistence) SaveRetryPolicy(_ context.Context, policy *models.RetryPolicy) error {
	row := &policyRow{Key: key(policy.TenantID, string(policy.Channel)), Policy: *policy}
	row.Policy.BackoffSteps = slices.Clone(policy.BackoffSteps)

	return p.insert(tablePolicies, row)
}

func sortByTarget(actions []models.ScheduledAction) {
	slices.SortStableFunc(actions, func(a, b models.ScheduledAction) int {
		if c := a.TargetTime.Compare(b.TargetTime); c != 0 {
			return c
		}

		return a.CreatedAt.Compare(b.CreatedAt)
	})
}

func annotate(action models.ScheduledAction, record *models.DebtRecord) models.DueAction {
	due := models.DueAction{Action: action}

	if record == nil || !record.Debt.Active() {
		due.DebtDeleted = true

		return due
	}

	due.Recipient = persistence.Recipient(record, action)

	return due
}
