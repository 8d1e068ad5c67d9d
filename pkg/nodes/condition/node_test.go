package condition_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dukex/dunning/pkg/mocks"
	"github.com/dukex/dunning/pkg/models"
	"github.com/dukex/dunning/pkg/nodes"
	"github.com/dukex/dunning/pkg/nodes/condition"
	"github.com/dukex/dunning/pkg/persistence/memory"
	"github.com/dukex/dunning/pkg/testutil"
)

func newSource(t *testing.T) *memory.Persistence {
	t.Helper()

	store, err := memory.NewPersistence(slog.Default())
	require.NoError(t, err)

	require.NoError(t, testutil.Seed(context.Background(), store,
		testutil.Debtor{Debt: testutil.CreateTestDebt("big", testutil.WithAmount(250000), testutil.WithDaysOverdue(40)), History: []string{"email"}},
		testutil.Debtor{Debt: testutil.CreateTestDebt("small", testutil.WithAmount(900), testutil.WithDaysOverdue(5))},
		testutil.Debtor{Debt: testutil.CreateTestDebt("promised", testutil.WithState("promised"), testutil.WithDaysOverdue(0)), History: []string{"call"}},
	))

	return store
}

func population() []models.WorkItem {
	return []models.WorkItem{
		testutil.Item("big", "c1"),
		testutil.Item("missing"),
		testutil.Item("small"),
		testutil.Item("promised"),
		testutil.Item("big", "c2"),
	}
}

func execute(t *testing.T, cfg models.ConditionConfig) nodes.Output {
	t.Helper()

	require.NoError(t, cfg.Validate())

	node := condition.NewConditionNode("cond-1", &cfg, newSource(t))
	out, err := node.Execute(context.Background(), nodes.Input{
		TenantID:   testutil.TenantID,
		Population: population(),
		Clock:      testutil.BaseTime,
	})
	require.NoError(t, err)

	return out
}

func debtIDs(items []models.WorkItem) []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.DebtID
	}

	return ids
}

func TestConditionNode_Partitions(t *testing.T) {
	tests := []struct {
		name string
		cfg  models.ConditionConfig
		yes  []string
	}{
		{
			name: "amount greater than",
			cfg:  models.ConditionConfig{Conditions: []models.Condition{{Field: models.FieldAmount, Operator: models.OpGreaterThan, Value: 100000}}},
			yes:  []string{"big", "big"},
		},
		{
			name: "amount less than as string",
			cfg:  models.ConditionConfig{Conditions: []models.Condition{{Field: models.FieldAmount, Operator: models.OpLessThan, Value: "1000"}}},
			yes:  []string{"small", "promised"},
		},
		{
			name: "days overdue between is inclusive",
			cfg:  models.ConditionConfig{Conditions: []models.Condition{{Field: models.FieldDaysOverdue, Operator: models.OpBetween, Value: 5, Value2: 40.0}}},
			yes:  []string{"big", "small", "big"},
		},
		{
			name: "days overdue exists",
			cfg:  models.ConditionConfig{Conditions: []models.Condition{{Field: models.FieldDaysOverdue, Operator: models.OpExists}}},
			yes:  []string{"big", "small", "big"},
		},
		{
			name: "state equals is case insensitive",
			cfg:  models.ConditionConfig{Conditions: []models.Condition{{Field: models.FieldState, Operator: models.OpEquals, Value: "PROMISED"}}},
			yes:  []string{"promised"},
		},
		{
			name: "state matches computed overdue",
			cfg:  models.ConditionConfig{Conditions: []models.Condition{{Field: models.FieldState, Operator: models.OpContains, Value: "overdue"}}},
			yes:  []string{"big", "small", "big"},
		},
		{
			name: "call history not exists",
			cfg:  models.ConditionConfig{Conditions: []models.Condition{{Field: models.FieldHasCallHistory, Operator: models.OpNotExists}}},
			yes:  []string{"big", "small", "big"},
		},
		{
			name: "and requires every condition",
			cfg: models.ConditionConfig{Conditions: []models.Condition{
				{Field: models.FieldHasEmailHistory, Operator: models.OpExists},
				{Field: models.FieldAmount, Operator: models.OpLessThan, Value: 1000},
			}},
			yes: []string{},
		},
		{
			name: "or accepts any condition",
			cfg: models.ConditionConfig{Logic: "or", Conditions: []models.Condition{
				{Field: models.FieldHasEmailHistory, Operator: models.OpExists},
				{Field: models.FieldAmount, Operator: models.OpLessThan, Value: 1000},
			}},
			yes: []string{"big", "small", "promised", "big"},
		},
		{
			name: "no conditions sends everyone to yes",
			cfg:  models.ConditionConfig{},
			yes:  []string{"big", "missing", "small", "promised", "big"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := execute(t, tt.cfg)

			yes := out.Branches[models.BranchYes]
			no := out.Branches[models.BranchNo]

			assert.Equal(t, tt.yes, debtIDs(yes))
			assert.Len(t, append(append([]models.WorkItem{}, yes...), no...), len(population()))
			assert.Equal(t, len(yes), out.Summary["yes"])
			assert.Equal(t, len(no), out.Summary["no"])
		})
	}
}

func TestConditionNode_PartitionIsDisjointAndOrdered(t *testing.T) {
	cfg := models.ConditionConfig{Conditions: []models.Condition{{Field: models.FieldAmount, Operator: models.OpGreaterThan, Value: 100000}}}

	out := execute(t, cfg)

	assert.Equal(t, []models.WorkItem{testutil.Item("big", "c1"), testutil.Item("big", "c2")}, out.Branches[models.BranchYes])
	assert.Equal(t, []models.WorkItem{testutil.Item("missing"), testutil.Item("small"), testutil.Item("promised")}, out.Branches[models.BranchNo])
	assert.Equal(t, testutil.BaseTime, out.Clock)
}

func TestConditionNode_SourceError(t *testing.T) {
	source := new(mocks.MockPopulationSource)
	source.On("DebtRecords", mock.Anything, testutil.TenantID, []string{"big"}).
		Return(nil, errors.New("connection reset"))

	cfg := &models.ConditionConfig{Conditions: []models.Condition{{Field: models.FieldAmount, Operator: models.OpExists}}}
	node := condition.NewConditionNode("cond-1", cfg, source)

	_, err := node.Execute(context.Background(), nodes.Input{
		TenantID:   testutil.TenantID,
		Population: []models.WorkItem{testutil.Item("big")},
		Clock:      testutil.BaseTime,
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	source.AssertExpectations(t)
}
