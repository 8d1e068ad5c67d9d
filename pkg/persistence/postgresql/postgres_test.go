//go:build integration

package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/dukex/dunning/pkg/models"
	"github.com/dukex/dunning/pkg/persistence"
	"github.com/dukex/dunning/pkg/persistence/postgresql"
)

var postgresContainer *postgres.PostgresContainer

var tables = []string{
	"execution_logs", "workflow_runs", "dispatch_outcomes", "scheduled_actions", "retry_policies",
	"agents", "templates", "debt_history", "contacts", "debts", "schema_migrations",
}

func ptr[T any](v T) *T {
	return &v
}

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range tables {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	require.NoError(t, db.Close())
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("dunning_test"),
			postgres.WithUsername("dunning"),
			postgres.WithPassword("dunning"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)
		require.NoError(t, store.Close(ctx))
		cancel()
	})

	return store, ctx, databaseURL
}

func newAction(debtID string, target time.Time) *models.ScheduledAction {
	now := time.Now().UTC()

	return &models.ScheduledAction{
		ID:         uuid.Must(uuid.NewV7()).String(),
		TenantID:   "t1",
		DebtID:     debtID,
		CampaignID: ptr("camp"),
		Channel:    models.ChannelEmail,
		TargetTime: target,
		TemplateID: ptr("tpl"),
		Variables:  map[string]string{"debtor_name": "Ana"},
		State:      models.ActionStatePending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestNewPersistence_Migrations(t *testing.T) {
	store, ctx, databaseURL := setupTestDB(t)

	require.NoError(t, store.HealthCheck(ctx))

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer db.Close()

	var version int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version))
	assert.Equal(t, 1, version)

	// A second start must not re-apply migrations.
	again, err := postgresql.NewPersistence(ctx, slog.Default(), databaseURL)
	require.NoError(t, err)
	require.NoError(t, again.Close(ctx))
}

func TestPopulationAndRecords(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	due := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveDebt(ctx, &models.Debt{ID: "d1", TenantID: "t1", DebtorID: "p1", Amount: 120.5, DueDate: due, State: "open"}))
	require.NoError(t, store.SaveDebt(ctx, &models.Debt{ID: "d2", TenantID: "t1", DebtorID: "p2", DueDate: due, State: "open", DeletedAt: ptr(due)}))
	require.NoError(t, store.SaveDebt(ctx, &models.Debt{ID: "d3", TenantID: "t1", DueDate: due, State: "open"}))
	require.NoError(t, store.SaveContact(ctx, &models.Contact{ID: "c1", DebtorID: "p1", Type: models.ContactTypeEmail, Value: "a@example.com"}))
	require.NoError(t, store.SaveContact(ctx, &models.Contact{ID: "c2", DebtorID: "p1", Type: models.ContactTypePhone, Value: "+1"}))
	require.NoError(t, store.SaveHistory(ctx, &models.HistoryRecord{ID: "h1", DebtID: "d1", ActionType: "call", OccurredAt: due}))

	population, err := store.ActivePopulation(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []models.WorkItem{
		{DebtID: "d1", ContactID: ptr("c1")},
		{DebtID: "d1", ContactID: ptr("c2")},
		{DebtID: "d3"},
	}, population)

	records, err := store.DebtRecords(ctx, "t1", []string{"d1", "d2", "nope"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.InDelta(t, 120.5, records["d1"].Debt.Amount, 0.001)
	assert.Len(t, records["d1"].Contacts, 2)
	assert.True(t, records["d1"].HasHistory("call"))
	assert.False(t, records["d2"].Debt.Active())
}

func TestCatalogAndPolicies(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	require.NoError(t, store.SaveTemplate(ctx, &models.Template{ID: "tpl", TenantID: "t1", Channel: models.ChannelEmail, Body: "Hi"}))
	require.NoError(t, store.SaveAgent(ctx, &models.Agent{ID: "ag", TenantID: "t1", Name: "Bot"}))

	tpl, err := store.Template(ctx, "t1", "tpl")
	require.NoError(t, err)
	assert.Equal(t, "Hi", tpl.Body)

	_, err = store.Agent(ctx, "t2", "ag")
	assert.True(t, persistence.IsNotFound(err))

	policy := &models.RetryPolicy{TenantID: "t1", Channel: models.ChannelCall, MaxAttempts: 4, BackoffSteps: []time.Duration{time.Minute, time.Hour}}
	require.NoError(t, store.SaveRetryPolicy(ctx, policy))

	stored, err := store.RetryPolicy(ctx, "t1", models.ChannelCall)
	require.NoError(t, err)
	assert.Equal(t, policy.BackoffSteps, stored.BackoffSteps)
}

func TestActions_DedupDueAndTransition(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.SaveDebt(ctx, &models.Debt{ID: "d1", TenantID: "t1", DebtorID: "p1", DueDate: now, State: "open"}))
	require.NoError(t, store.SaveContact(ctx, &models.Contact{ID: "c1", DebtorID: "p1", Type: models.ContactTypeEmail, Value: "a@example.com"}))

	first := newAction("d1", now.Add(-time.Minute))
	inserted, err := store.InsertAction(ctx, first)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = store.InsertAction(ctx, newAction("d1", now.Add(-time.Minute)))
	require.NoError(t, err)
	assert.False(t, inserted)

	orphan := newAction("gone", now.Add(-time.Hour))
	_, err = store.InsertAction(ctx, orphan)
	require.NoError(t, err)

	due, err := store.DueActions(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, orphan.ID, due[0].Action.ID)
	assert.True(t, due[0].DebtDeleted)
	assert.Equal(t, "a@example.com", due[1].Recipient)
	assert.Equal(t, "Ana", due[1].Action.Variables["debtor_name"])

	require.NoError(t, store.Transition(ctx, first.ID, models.ActionStatePending, models.ActionStateRunning))
	assert.True(t, persistence.IsStateConflict(store.Transition(ctx, first.ID, models.ActionStatePending, models.ActionStateRunning)))
	assert.True(t, persistence.IsNotFound(store.Transition(ctx, uuid.NewString(), models.ActionStatePending, models.ActionStateRunning)))

	stored, err := store.Action(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionStateRunning, stored.State)
}

func TestTransition_ConcurrentClaim(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	action := newAction("d1", time.Now().UTC())
	_, err := store.InsertAction(ctx, action)
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if store.Transition(ctx, action.ID, models.ActionStatePending, models.ActionStateRunning) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestOutcomes(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	actionID := uuid.NewString()
	outcome := &models.DispatchOutcome{
		ID: uuid.NewString(), ActionID: actionID, TenantID: "t1", Channel: models.ChannelSMS,
		Recipient: "+1", Success: true, ExternalID: ptr("ext-1"), CreatedAt: time.Now().UTC(),
	}

	inserted, err := store.RecordOutcome(ctx, outcome)
	require.NoError(t, err)
	assert.True(t, inserted)

	duplicate := *outcome
	duplicate.ID = uuid.NewString()
	inserted, err = store.RecordOutcome(ctx, &duplicate)
	require.NoError(t, err)
	assert.False(t, inserted)

	stored, err := store.OutcomeByAction(ctx, actionID)
	require.NoError(t, err)
	assert.Equal(t, outcome.ID, stored.ID)
	assert.Equal(t, "ext-1", *stored.ExternalID)
	assert.Nil(t, stored.Error)
}

func TestRunsAndLogs(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	now := time.Now().UTC()
	run := &models.WorkflowRun{ID: "run_a", TenantID: "t1", CampaignID: "camp", SubjectID: "d1", State: models.RunStateRunning, StartedAt: now}

	created, err := store.EnsureRun(ctx, run)
	require.NoError(t, err)
	assert.Equal(t, "run_a", created.ID)

	again, err := store.EnsureRun(ctx, &models.WorkflowRun{ID: "run_b", TenantID: "t1", CampaignID: "camp", SubjectID: "d1", State: models.RunStateRunning, StartedAt: now})
	require.NoError(t, err)
	assert.Equal(t, "run_a", again.ID)

	created.State = models.RunStateDone
	created.FinalResult = map[string]any{"scheduled": float64(2)}
	created.CompletedAt = &now
	require.NoError(t, store.UpdateRun(ctx, created))

	stored, err := store.Run(ctx, "run_a")
	require.NoError(t, err)
	assert.Equal(t, models.RunStateDone, stored.State)
	assert.Equal(t, map[string]any{"scheduled": float64(2)}, stored.FinalResult)
	assert.Nil(t, stored.Context)

	var wg sync.WaitGroup

	for range 6 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			entry := &models.ExecutionLog{
				ID: "log_" + uuid.NewString(), WorkflowRunID: "run_a", NodeID: "n1",
				Kind: "email", Status: models.LogStatusDone, Timestamp: time.Now().UTC(),
			}
			assert.NoError(t, store.AppendLog(ctx, entry))
		}()
	}

	wg.Wait()

	logs, err := store.RunLogs(ctx, "run_a")
	require.NoError(t, err)
	require.Len(t, logs, 6)

	steps := map[int]bool{}
	for _, l := range logs {
		steps[l.StepNumber] = true
	}

	assert.Len(t, steps, 6)
}
