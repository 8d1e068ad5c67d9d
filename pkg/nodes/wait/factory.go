// Package wait provides the virtual-clock wait node factory for registry integration.
package wait

import (
	"github.com/dukex/dunning/pkg/models"
	"github.com/dukex/dunning/pkg/nodes"
)

// WaitNodeFactory creates WaitNode instances.
type WaitNodeFactory struct{}

// NewWaitNodeFactory creates a new factory instance.
func NewWaitNodeFactory() *WaitNodeFactory {
	return &WaitNodeFactory{}
}

func (f *WaitNodeFactory) Kind() models.NodeKind {
	return models.NodeKindWait
}

func (f *WaitNodeFactory) Name() string {
	return "Wait"
}

func (f *WaitNodeFactory) Description() string {
	return "Delays the actions scheduled after it by advancing the campaign clock, honoring weekends and work hours."
}

func (f *WaitNodeFactory) NewConfig() models.NodeConfig {
	return &models.WaitConfig{}
}

// Create creates a new WaitNode instance.
func (f *WaitNodeFactory) Create(id string, config models.NodeConfig) (nodes.Node, error) {
	cfg, ok := config.(*models.WaitConfig)
	if !ok {
		return nil, nodes.ConfigError(models.NodeKindWait, config)
	}

	return NewWaitNode(id, cfg), nil
}

// Schema returns the JSON schema for Wait node configuration.
func (f *WaitNodeFactory) Schema() map[string]any {
	clock := map[string]any{
		"type":    "string",
		"pattern": "^([01][0-9]|2[0-3]):[0-5][0-9]$",
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"duration": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"unit":   map[string]any{"type": "string", "enum": []string{"minutes", "hours", "days", "weeks"}},
					"amount": map[string]any{"type": "integer", "minimum": 0},
				},
				"required": []string{"unit", "amount"},
			},
			"business_days_only": map[string]any{"type": "boolean"},
			"exclude_weekends":   map[string]any{"type": "boolean"},
			"timezone": map[string]any{
				"type":        "string",
				"description": "IANA time zone the rules are evaluated in. Defaults to UTC.",
			},
			"work_hours": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"start": clock,
					"end":   clock,
				},
				"required": []string{"start", "end"},
			},
		},
		"required": []string{"duration"},
		"examples": []map[string]any{
			{
				"duration": map[string]any{"unit": "days", "amount": 3},
			},
			{
				"duration":           map[string]any{"unit": "hours", "amount": 7},
				"business_days_only": true,
				"timezone":           "America/Sao_Paulo",
				"work_hours":         map[string]any{"start": "09:00", "end": "18:00"},
			},
		},
	}
}
