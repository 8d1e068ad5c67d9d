// Package communication provides the outreach node factories (email, call, sms, whatsapp)
// for registry integration.
package communication

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/dunning/pkg/models"
	"github.com/dukex/dunning/pkg/nodes"
	"github.com/dukex/dunning/pkg/persistence"
	"github.com/dukex/dunning/pkg/scheduler"
)

// Scheduler inserts deduplicated scheduled actions.
type Scheduler interface {
	Schedule(ctx context.Context, req scheduler.Request) (*models.ScheduledAction, bool, error)
}

// Dependencies are shared by every communication node.
type Dependencies struct {
	Source    persistence.PopulationSource
	Catalog   persistence.CatalogRepository
	Scheduler Scheduler
	Logger    *slog.Logger
}

// CommunicationNodeFactory creates CommunicationNode instances of one kind.
type CommunicationNodeFactory struct {
	kind models.NodeKind
	deps Dependencies
}

// NewCommunicationNodeFactory creates a factory for a communication kind.
func NewCommunicationNodeFactory(kind models.NodeKind, deps Dependencies) *CommunicationNodeFactory {
	return &CommunicationNodeFactory{kind: kind, deps: deps}
}

// Factories returns one factory per communication kind.
func Factories(deps Dependencies) []nodes.Factory {
	kinds := []models.NodeKind{models.NodeKindEmail, models.NodeKindCall, models.NodeKindSMS, models.NodeKindWhatsApp}

	factories := make([]nodes.Factory, len(kinds))
	for i, kind := range kinds {
		factories[i] = NewCommunicationNodeFactory(kind, deps)
	}

	return factories
}

func (f *CommunicationNodeFactory) Kind() models.NodeKind {
	return f.kind
}

func (f *CommunicationNodeFactory) Name() string {
	switch f.kind {
	case models.NodeKindSMS:
		return "SMS"
	case models.NodeKindWhatsApp:
		return "WhatsApp"
	case models.NodeKindCall:
		return "Voice call"
	default:
		return "Email"
	}
}

func (f *CommunicationNodeFactory) Description() string {
	if f.kind == models.NodeKindCall {
		return "Schedules a voice agent call for every debtor reaching the node at the campaign clock."
	}

	return fmt.Sprintf("Schedules a templated %s message for every debtor reaching the node at the campaign clock.", f.kind)
}

func (f *CommunicationNodeFactory) NewConfig() models.NodeConfig {
	return models.NewCommunicationConfig(f.kind)
}

// Create creates a new CommunicationNode instance.
func (f *CommunicationNodeFactory) Create(id string, config models.NodeConfig) (nodes.Node, error) {
	cfg, ok := config.(*models.CommunicationConfig)
	if !ok || cfg.Kind() != f.kind {
		return nil, nodes.ConfigError(f.kind, config)
	}

	return NewCommunicationNode(id, cfg, f.deps), nil
}

// Schema returns the JSON schema for the node configuration.
func (f *CommunicationNodeFactory) Schema() map[string]any {
	ref := "template_id"
	example := map[string]any{"template_id": "first-reminder"}

	if f.kind == models.NodeKindCall {
		ref = "agent_id"
		example = map[string]any{"agent_id": "collections-agent", "options": map[string]any{"max_duration": 300}}
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"template_id": map[string]any{"type": "string", "minLength": 1},
			"agent_id":    map[string]any{"type": "string", "minLength": 1},
			"options":     map[string]any{"type": "object"},
		},
		"required": []string{ref},
		"examples": []map[string]any{example},
	}
}
