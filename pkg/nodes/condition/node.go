package condition

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/dunning/pkg/models"
	"github.com/dukex/dunning/pkg/nodes"
	"github.com/dukex/dunning/pkg/persistence"
)

// ConditionNode routes each work item to the yes or the no branch.
type ConditionNode struct {
	id     string
	config *models.ConditionConfig
	source persistence.PopulationSource
}

// NewConditionNode creates a condition node.
func NewConditionNode(id string, config *models.ConditionConfig, source persistence.PopulationSource) *ConditionNode {
	return &ConditionNode{id: id, config: config, source: source}
}

func (n *ConditionNode) ID() string {
	return n.id
}

func (n *ConditionNode) Kind() models.NodeKind {
	return models.NodeKindCondition
}

// Execute partitions the population preserving input order. Items without a debt record
// go to no; with no conditions every item goes to yes.
func (n *ConditionNode) Execute(ctx context.Context, in nodes.Input) (nodes.Output, error) {
	yes := make([]models.WorkItem, 0, len(in.Population))
	no := make([]models.WorkItem, 0)

	if len(n.config.Conditions) == 0 {
		yes = append(yes, in.Population...)

		return n.output(in, yes, no), nil
	}

	records, err := nodes.LoadRecords(ctx, n.source, in)
	if err != nil {
		return nodes.Output{}, err
	}

	for _, item := range in.Population {
		record, ok := records[item.DebtID]
		if ok && n.evaluate(record, in.Clock) {
			yes = append(yes, item)
		} else {
			no = append(no, item)
		}
	}

	return n.output(in, yes, no), nil
}

func (n *ConditionNode) output(in nodes.Input, yes, no []models.WorkItem) nodes.Output {
	return nodes.Output{
		Population: in.Population,
		Branches: map[models.Branch][]models.WorkItem{
			models.BranchYes: yes,
			models.BranchNo:  no,
		},
		Clock: in.Clock,
		Summary: map[string]any{
			"yes": len(yes),
			"no":  len(no),
		},
	}
}

func (n *ConditionNode) evaluate(record *models.DebtRecord, today time.Time) bool {
	if n.config.Combinator() == models.LogicOr {
		for _, c := range n.config.Conditions {
			if evaluate(c, record, today) {
				return true
			}
		}

		return false
	}

	for _, c := range n.config.Conditions {
		if !evaluate(c, record, today) {
			return false
		}
	}

	return true
}

func evaluate(c models.Condition, record *models.DebtRecord, today time.Time) bool {
	switch c.Field.Type() {
	case models.FieldTypeText:
		return evaluateText(c, record.Debt.States(today))
	case models.FieldTypeNumeric:
		v := float64(record.Debt.DaysOverdue(today))
		if c.Field == models.FieldAmount {
			v = record.Debt.Amount
		}

		return evaluateNumeric(c, v)
	case models.FieldTypeExistence:
		actionType := string(models.ChannelEmail)
		if c.Field == models.FieldHasCallHistory {
			actionType = string(models.ChannelCall)
		}

		has := record.HasHistory(actionType)
		if c.Operator == models.OpNotExists {
			return !has
		}

		return has
	default:
		return false
	}
}

// evaluateText tests the stored state and the computed overdue state.
func evaluateText(c models.Condition, states []string) bool {
	stored := states[0]

	switch c.Operator {
	case models.OpExists:
		return stored != ""
	case models.OpNotExists:
		return stored == ""
	}

	want := strings.ToLower(fmt.Sprint(c.Value))

	for _, s := range states {
		s = strings.ToLower(s)

		switch c.Operator {
		case models.OpEquals:
			if s == want {
				return true
			}
		case models.OpContains:
			if strings.Contains(s, want) {
				return true
			}
		}
	}

	return false
}

// evaluateNumeric treats a zero value as absent for exists.
func evaluateNumeric(c models.Condition, v float64) bool {
	if c.Operator == models.OpExists {
		return v != 0
	}

	want, ok := toFloat(c.Value)
	if !ok {
		return false
	}

	switch c.Operator {
	case models.OpEquals:
		return v == want
	case models.OpGreaterThan:
		return v > want
	case models.OpLessThan:
		return v < want
	case models.OpBetween:
		upper, ok := toFloat(c.Value2)
		if !ok {
			return false
		}

		lower := min(want, upper)
		upper = max(want, upper)

		return v >= lower && v <= upper
	default:
		return false
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()

		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)

		return f, err == nil
	default:
		return 0, false
	}
}
