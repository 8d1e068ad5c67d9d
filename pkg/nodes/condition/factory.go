// Package condition provides the yes/no branching node factory for registry integration.
package condition

import (
	"github.com/dukex/dunning/pkg/models"
	"github.com/dukex/dunning/pkg/nodes"
	"github.com/dukex/dunning/pkg/persistence"
)

// ConditionNodeFactory creates ConditionNode instances.
type ConditionNodeFactory struct {
	source persistence.PopulationSource
}

// NewConditionNodeFactory creates a new factory instance.
func NewConditionNodeFactory(source persistence.PopulationSource) *ConditionNodeFactory {
	return &ConditionNodeFactory{source: source}
}

func (f *ConditionNodeFactory) Kind() models.NodeKind {
	return models.NodeKindCondition
}

func (f *ConditionNodeFactory) Name() string {
	return "Condition"
}

func (f *ConditionNodeFactory) Description() string {
	return "Splits the population into yes and no branches by testing debt attributes. Essential for campaign branching logic."
}

func (f *ConditionNodeFactory) NewConfig() models.NodeConfig {
	return &models.ConditionConfig{}
}

// Create creates a new ConditionNode instance.
func (f *ConditionNodeFactory) Create(id string, config models.NodeConfig) (nodes.Node, error) {
	cfg, ok := config.(*models.ConditionConfig)
	if !ok {
		return nil, nodes.ConfigError(models.NodeKindCondition, config)
	}

	return NewConditionNode(id, cfg, f.source), nil
}

// Schema returns the JSON schema for Condition node configuration.
func (f *ConditionNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"conditions": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"field": map[string]any{
							"type": "string",
							"enum": []string{"state", "amount", "days_overdue", "has_email_history", "has_call_history"},
						},
						"operator": map[string]any{
							"type": "string",
							"enum": []string{"equals", "contains", "exists", "not_exists", "greater_than", "less_than", "between"},
						},
						"value":  map[string]any{"type": []string{"string", "number", "boolean", "null"}},
						"value2": map[string]any{"type": []string{"string", "number", "null"}},
					},
					"required": []string{"field", "operator"},
				},
			},
			"logic": map[string]any{
				"type":        "string",
				"description": "How conditions combine. Case-insensitive, defaults to AND.",
				"pattern":     "^([aA][nN][dD]|[oO][rR])$",
			},
		},
		"required": []string{"conditions"},
		"examples": []map[string]any{
			{
				"conditions": []map[string]any{{"field": "amount", "operator": "greater_than", "value": 100000}},
			},
			{
				"conditions": []map[string]any{
					{"field": "days_overdue", "operator": "between", "value": 30, "value2": 60},
					{"field": "has_call_history", "operator": "not_exists"},
				},
				"logic": "OR",
			},
		},
	}
}
