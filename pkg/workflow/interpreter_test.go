package workflow_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dukex/dunning/pkg/executionlog"
	"github.com/dukex/dunning/pkg/mocks"
	"github.com/dukex/dunning/pkg/models"
	"github.com/dukex/dunning/pkg/otelhelper"
	"github.com/dukex/dunning/pkg/persistence/memory"
	"github.com/dukex/dunning/pkg/registry"
	"github.com/dukex/dunning/pkg/scheduler"
	"github.com/dukex/dunning/pkg/testutil"
	"github.com/dukex/dunning/pkg/workflow"
)

type fixture struct {
	store       *memory.Persistence
	interpreter *workflow.Interpreter
	runs        *executionlog.Logger
}

func newFixture(t *testing.T, debtors ...testutil.Debtor) *fixture {
	t.Helper()

	store, err := memory.NewPersistence(slog.Default())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, testutil.Seed(ctx, store, debtors...))
	require.NoError(t, store.SaveTemplate(ctx, &models.Template{ID: "tpl", TenantID: testutil.TenantID, Body: "Hello {{debtor_name}}"}))

	reg := registry.NewDefault(registry.Dependencies{
		Source:    store,
		Catalog:   store,
		Scheduler: scheduler.New(store, slog.Default()),
		Logger:    slog.Default(),
	})
	runs := executionlog.New(store, slog.Default())

	return &fixture{
		store:       store,
		interpreter: workflow.NewInterpreter(reg, store, runs, otelhelper.NoopTracer(), slog.Default()),
		runs:        runs,
	}
}

func (f *fixture) activate(t *testing.T, nodes []models.WorkflowNode, edges []models.WorkflowEdge, population []models.WorkItem) *workflow.Result {
	t.Helper()

	g, err := f.interpreter.Load(nodes, edges)
	require.NoError(t, err)

	result, err := f.interpreter.Run(context.Background(), workflow.Activation{
		TenantID:   testutil.TenantID,
		CampaignID: "camp-1",
		Graph:      g,
		Population: population,
		BaseTime:   testutil.BaseTime,
	})
	require.NoError(t, err)

	return result
}

func (f *fixture) actions(t *testing.T) []models.ScheduledAction {
	t.Helper()

	actions, err := f.store.ActionsByTenant(context.Background(), testutil.TenantID)
	require.NoError(t, err)

	return actions
}

func debtor(id string, overrides ...func(*models.Debt)) testutil.Debtor {
	debt := testutil.CreateTestDebt(id, overrides...)

	return testutil.Debtor{Debt: debt, Contacts: []*models.Contact{
		testutil.CreateTestContact(id+"-mail", debt, models.ContactTypeEmail, true),
	}}
}

func TestRun_FilterThenEmail(t *testing.T) {
	f := newFixture(t,
		debtor("d1", testutil.WithDaysOverdue(45)),
		debtor("d2", testutil.WithDaysOverdue(30)),
		debtor("d3", testutil.WithDaysOverdue(5)),
	)

	result := f.activate(t,
		[]models.WorkflowNode{
			testutil.CreateTestNode("filter", models.NodeKindFilter, map[string]any{"days_overdue_range": map[string]any{"min": 30}}),
			emailNode,
		},
		[]models.WorkflowEdge{testutil.CreateTestEdge("filter", "email")},
		nil,
	)

	assert.Equal(t, 2, result.Scheduled)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 0, result.Failed)

	actions := f.actions(t)
	require.Len(t, actions, 2)

	for _, a := range actions {
		assert.Contains(t, []string{"d1", "d2"}, a.DebtID)
		assert.Equal(t, testutil.BaseTime, a.TargetTime)
		assert.Equal(t, models.ChannelEmail, a.Channel)
	}

	run, err := f.store.Run(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStateDone, run.State)
	assert.Equal(t, 2, run.FinalResult["scheduled"])

	// Activating again schedules nothing new.
	again := f.activate(t,
		[]models.WorkflowNode{
			testutil.CreateTestNode("filter", models.NodeKindFilter, map[string]any{"days_overdue_range": map[string]any{"min": 30}}),
			emailNode,
		},
		[]models.WorkflowEdge{testutil.CreateTestEdge("filter", "email")},
		nil,
	)
	assert.Equal(t, 0, again.Scheduled)
	assert.Equal(t, 2, again.Succeeded)
	assert.Len(t, f.actions(t), 2)
}

func TestRun_ConditionBranches(t *testing.T) {
	f := newFixture(t,
		debtor("big", testutil.WithAmount(150000)),
		debtor("small", testutil.WithAmount(500)),
	)

	cond := testutil.CreateTestNode("cond", models.NodeKindCondition, map[string]any{
		"conditions": []any{map[string]any{"field": "amount", "operator": "greater_than", "value": 100000}},
	})

	result := f.activate(t,
		[]models.WorkflowNode{cond, smsNode, emailNode},
		[]models.WorkflowEdge{
			testutil.CreateTestEdge("cond", "sms", models.BranchYes),
			testutil.CreateTestEdge("cond", "email", models.BranchNo),
		},
		[]models.WorkItem{testutil.Item("big"), testutil.Item("small")},
	)

	assert.Equal(t, 2, result.Scheduled)

	byDebt := map[string]models.Channel{}
	for _, a := range f.actions(t) {
		byDebt[a.DebtID] = a.Channel
	}

	assert.Equal(t, map[string]models.Channel{"big": models.ChannelSMS, "small": models.ChannelEmail}, byDebt)

	// The yes path runs to completion before the no path starts.
	logs, err := f.runs.Logs(context.Background(), result.RunID)
	require.NoError(t, err)

	var order []string
	for _, l := range logs {
		if l.Status == models.LogStatusStarted {
			order = append(order, l.NodeID)
		}
	}

	assert.Equal(t, []string{"cond", "sms", "email"}, order)
}

func TestRun_WaitAdvancesClockOnItsPath(t *testing.T) {
	f := newFixture(t, debtor("d1"))

	wait := testutil.CreateTestNode("wait", models.NodeKindWait, map[string]any{
		"duration":           map[string]any{"unit": "hours", "amount": 7},
		"business_days_only": true,
		"work_hours":         map[string]any{"start": "09:00", "end": "18:00"},
	})

	f.activate(t,
		[]models.WorkflowNode{wait, emailNode},
		[]models.WorkflowEdge{testutil.CreateTestEdge("wait", "email")},
		[]models.WorkItem{testutil.Item("d1")},
	)

	actions := f.actions(t)
	require.Len(t, actions, 1)
	assert.Equal(t, time.Date(2025, 3, 17, 9, 0, 0, 0, time.UTC), actions[0].TargetTime)
}

func TestRun_FailedNodeContinuesWithPreNodePopulation(t *testing.T) {
	f := newFixture(t, debtor("d1"), debtor("d2"))

	missingTemplate := testutil.CreateTestNode("email", models.NodeKindEmail, map[string]any{"template_id": "ghost"})

	result := f.activate(t,
		[]models.WorkflowNode{missingTemplate, smsNode},
		[]models.WorkflowEdge{testutil.CreateTestEdge("email", "sms")},
		[]models.WorkItem{testutil.Item("d1"), testutil.Item("d2")},
	)

	assert.Equal(t, 2, result.Scheduled)

	actions := f.actions(t)
	require.Len(t, actions, 2)
	assert.Equal(t, models.ChannelSMS, actions[0].Channel)

	run, err := f.store.Run(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStateFailed, run.State)

	logs, err := f.runs.Logs(context.Background(), result.RunID)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, models.LogStatusFailed, logs[1].Status)
	assert.Contains(t, *logs[1].ErrorMessage, "missing reference")
}

func TestRun_FailedConditionRoutesEveryoneToNo(t *testing.T) {
	store, err := memory.NewPersistence(slog.Default())
	require.NoError(t, err)
	require.NoError(t, store.SaveTemplate(context.Background(), &models.Template{ID: "tpl", TenantID: testutil.TenantID}))

	source := new(mocks.MockPopulationSource)
	source.On("DebtRecords", mock.Anything, testutil.TenantID, mock.Anything).Return(nil, errors.New("replica lag"))

	reg := registry.NewDefault(registry.Dependencies{
		Source:    source,
		Catalog:   store,
		Scheduler: scheduler.New(store, slog.Default()),
	})
	runs := executionlog.New(store, slog.Default())
	interpreter := workflow.NewInterpreter(reg, source, runs, otelhelper.NoopTracer(), slog.Default())

	g, err := interpreter.Load([]models.WorkflowNode{condNode, smsNode, emailNode}, []models.WorkflowEdge{
		testutil.CreateTestEdge("cond", "sms", models.BranchYes),
		testutil.CreateTestEdge("cond", "email", models.BranchNo),
	})
	require.NoError(t, err)

	// Resolved variables keep the communication node from reading the source.
	population := []models.WorkItem{
		{DebtID: "d1", Variables: map[string]string{"debtor_name": "Ana"}},
		{DebtID: "d2", Variables: map[string]string{"debtor_name": "Bia"}},
	}

	result, err := interpreter.Run(context.Background(), workflow.Activation{
		TenantID:   testutil.TenantID,
		CampaignID: "camp-1",
		Graph:      g,
		Population: population,
		BaseTime:   testutil.BaseTime,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Scheduled)

	actions, err := store.ActionsByTenant(context.Background(), testutil.TenantID)
	require.NoError(t, err)
	require.Len(t, actions, 2)

	for _, a := range actions {
		assert.Equal(t, models.ChannelEmail, a.Channel)
	}

	run, err := store.Run(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStateFailed, run.State)
	assert.Equal(t, []string{"cond"}, run.FinalResult["failed_nodes"])
}

func TestRun_UsesActivePopulationWhenOmitted(t *testing.T) {
	f := newFixture(t, debtor("d1"), debtor("gone", testutil.WithDeleted()))

	result := f.activate(t, []models.WorkflowNode{emailNode}, nil, nil)

	assert.Equal(t, 1, result.Scheduled)

	actions := f.actions(t)
	require.Len(t, actions, 1)
	assert.Equal(t, "d1", actions[0].DebtID)
	assert.Equal(t, "d1-mail", *actions[0].ContactID)
}

func TestRun_EmptyPopulationSkipsPath(t *testing.T) {
	f := newFixture(t, debtor("d1", testutil.WithDaysOverdue(1)))

	strict := testutil.CreateTestNode("filter", models.NodeKindFilter, map[string]any{"days_overdue_range": map[string]any{"min": 90}})

	result := f.activate(t,
		[]models.WorkflowNode{strict, emailNode},
		[]models.WorkflowEdge{testutil.CreateTestEdge("filter", "email")},
		nil,
	)

	assert.Equal(t, 0, result.Scheduled)

	logs, err := f.runs.Logs(context.Background(), result.RunID)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "email", logs[2].NodeID)
	assert.Equal(t, models.LogStatusSkipped, logs[2].Status)

	run, err := f.store.Run(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStateDone, run.State)
	assert.True(t, run.IsActivation())
}

func TestRun_NilGraph(t *testing.T) {
	f := newFixture(t)

	_, err := f.interpreter.Run(context.Background(), workflow.Activation{TenantID: testutil.TenantID})
	assert.ErrorIs(t, err, workflow.ErrNoEntryNode)
}

type brokenRunStore struct {
	*memory.Persistence
}

var (
	errAppend = errors.New("log store down")
	errUpdate = errors.New("run store down")
)

func (brokenRunStore) AppendLog(context.Context, *models.ExecutionLog) error { return errAppend }

func (brokenRunStore) UpdateRun(context.Context, *models.WorkflowRun) error { return errUpdate }

func TestRun_AbortReportsFinishFailure(t *testing.T) {
	f := newFixture(t, debtor("d1"))

	reg := registry.NewDefault(registry.Dependencies{
		Source:    f.store,
		Catalog:   f.store,
		Scheduler: scheduler.New(f.store, slog.Default()),
		Logger:    slog.Default(),
	})
	runs := executionlog.New(brokenRunStore{f.store}, slog.Default())
	interpreter := workflow.NewInterpreter(reg, f.store, runs, otelhelper.NoopTracer(), slog.Default())

	g, err := interpreter.Load([]models.WorkflowNode{emailNode}, nil)
	require.NoError(t, err)

	_, err = interpreter.Run(context.Background(), workflow.Activation{
		TenantID:   testutil.TenantID,
		CampaignID: "camp-1",
		Graph:      g,
		Population: []models.WorkItem{testutil.Item("d1")},
		BaseTime:   testutil.BaseTime,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errAppend)
	assert.ErrorIs(t, err, errUpdate)
	assert.Empty(t, f.actions(t))
}
