// Package persistence provides the data access contracts used by the interpreter and the dispatcher.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/dunning/pkg/models"
)

// PopulationSource reads debtor data. It is read-only: evaluators never mutate it.
type PopulationSource interface {
	// ActivePopulation returns one work item per (active debt, contact) pair of the tenant.
	// A debt without contacts yields a single item with no contact.
	ActivePopulation(ctx context.Context, tenantID string) ([]models.WorkItem, error)

	// DebtRecords returns the records of the given debts keyed by debt id, soft-deleted
	// ones included. Unknown ids are absent from the map.
	DebtRecords(ctx context.Context, tenantID string, debtIDs []string) (map[string]*models.DebtRecord, error)
}

// CatalogRepository resolves the templates and agents communication nodes reference.
type CatalogRepository interface {
	Template(ctx context.Context, tenantID, id string) (*models.Template, error)
	Agent(ctx context.Context, tenantID, id string) (*models.Agent, error)
}

// ActionRepository stores scheduled actions.
type ActionRepository interface {
	// InsertAction stores the action unless one with the same dedup key exists.
	// It reports whether a row was inserted; a dedup conflict is not an error.
	InsertAction(ctx context.Context, action *models.ScheduledAction) (bool, error)

	Action(ctx context.Context, id string) (*models.ScheduledAction, error)

	// DueActions returns up to limit pending actions with target time at or before now,
	// oldest first, annotated with debt status and recipient.
	DueActions(ctx context.Context, now time.Time, limit int) ([]models.DueAction, error)

	// Transition moves the action from one state to another only if it is still in from.
	// It returns ErrStateConflict when the row changed underneath.
	Transition(ctx context.Context, id string, from, to models.ActionState) error

	// ActionsByTenant lists the actions of a tenant ordered by target time.
	ActionsByTenant(ctx context.Context, tenantID string) ([]models.ScheduledAction, error)
}

// OutcomeRepository stores the dispatch audit trail.
type OutcomeRepository interface {
	// RecordOutcome inserts the outcome unless one exists for the action already.
	RecordOutcome(ctx context.Context, outcome *models.DispatchOutcome) (bool, error)
	OutcomeByAction(ctx context.Context, actionID string) (*models.DispatchOutcome, error)
}

// RunRepository stores workflow runs.
type RunRepository interface {
	CreateRun(ctx context.Context, run *models.WorkflowRun) error

	// EnsureRun returns the run for (campaign, subject), creating run when none exists.
	EnsureRun(ctx context.Context, run *models.WorkflowRun) (*models.WorkflowRun, error)

	UpdateRun(ctx context.Context, run *models.WorkflowRun) error
	Run(ctx context.Context, id string) (*models.WorkflowRun, error)
}

// LogRepository stores execution logs.
type LogRepository interface {
	// AppendLog assigns the next step number for (run, node) and stores the row.
	AppendLog(ctx context.Context, entry *models.ExecutionLog) error

	// RunLogs returns the logs of a run in append order.
	RunLogs(ctx context.Context, runID string) ([]models.ExecutionLog, error)
}

// RetryPolicyRepository stores tenant retry overrides.
type RetryPolicyRepository interface {
	RetryPolicy(ctx context.Context, tenantID string, channel models.Channel) (*models.RetryPolicy, error)
	SaveRetryPolicy(ctx context.Context, policy *models.RetryPolicy) error
}

// Seeder writes the externally owned debtor and catalog data. Used by fixtures and tests.
type Seeder interface {
	SaveDebt(ctx context.Context, debt *models.Debt) error
	SaveContact(ctx context.Context, contact *models.Contact) error
	SaveHistory(ctx context.Context, record *models.HistoryRecord) error
	SaveTemplate(ctx context.Context, tpl *models.Template) error
	SaveAgent(ctx context.Context, agent *models.Agent) error
}

// Persistence is a complete backing store.
type Persistence interface {
	PopulationSource
	CatalogRepository
	ActionRepository
	OutcomeRepository
	RunRepository
	LogRepository
	RetryPolicyRepository
	Seeder

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
