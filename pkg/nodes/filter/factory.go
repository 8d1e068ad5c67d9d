// Package filter provides the population filter node factory for registry integration.
package filter

import (
	"github.com/dukex/dunning/pkg/models"
	"github.com/dukex/dunning/pkg/nodes"
	"github.com/dukex/dunning/pkg/persistence"
)

// FilterNodeFactory creates FilterNode instances.
type FilterNodeFactory struct {
	source persistence.PopulationSource
}

// NewFilterNodeFactory creates a new factory instance.
func NewFilterNodeFactory(source persistence.PopulationSource) *FilterNodeFactory {
	return &FilterNodeFactory{source: source}
}

// Kind returns the node kind the factory builds.
func (f *FilterNodeFactory) Kind() models.NodeKind {
	return models.NodeKindFilter
}

// Name returns the factory name.
func (f *FilterNodeFactory) Name() string {
	return "Filter"
}

// Description returns the factory description.
func (f *FilterNodeFactory) Description() string {
	return "Narrows the population by debt state, amount, days overdue, contact type and prior outreach, then sorts and limits it."
}

// NewConfig returns an empty filter configuration.
func (f *FilterNodeFactory) NewConfig() models.NodeConfig {
	return &models.FilterConfig{}
}

// Create creates a new FilterNode instance.
func (f *FilterNodeFactory) Create(id string, config models.NodeConfig) (nodes.Node, error) {
	cfg, ok := config.(*models.FilterConfig)
	if !ok {
		return nil, nodes.ConfigError(models.NodeKindFilter, config)
	}

	return NewFilterNode(id, cfg, f.source), nil
}

// Schema returns the JSON schema for Filter node configuration.
func (f *FilterNodeFactory) Schema() map[string]any {
	rangeSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"min": map[string]any{"type": "number"},
			"max": map[string]any{"type": "number"},
		},
		"additionalProperties": false,
	}

	stringList := map[string]any{
		"type":  "array",
		"items": map[string]any{"type": "string"},
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"state_in":           stringList,
			"amount_range":       rangeSchema,
			"days_overdue_range": rangeSchema,
			"contact_type_in": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "string",
					"enum": []string{"email", "phone", "whatsapp"},
				},
			},
			"had_prior_action_in": stringList,
			"sort": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"field": map[string]any{"type": "string", "enum": []string{"amount", "due_date", "days_overdue"}},
					"order": map[string]any{"type": "string", "enum": []string{"asc", "desc"}},
				},
				"required": []string{"field"},
			},
			"limit": map[string]any{"type": "integer", "minimum": 0},
		},
		"additionalProperties": false,
		"examples": []map[string]any{
			{
				"days_overdue_range": map[string]any{"min": 30},
				"contact_type_in":    []string{"email"},
			},
			{
				"state_in": []string{"open", "overdue"},
				"sort":     map[string]any{"field": "amount", "order": "desc"},
				"limit":    100,
			},
		},
	}
}
