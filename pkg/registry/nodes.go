package registry

import (
	"log/slog"

	"github.com/dukex/dunning/pkg/nodes/communication"
	"github.com/dukex/dunning/pkg/nodes/condition"
	"github.com/dukex/dunning/pkg/nodes/filter"
	"github.com/dukex/dunning/pkg/nodes/wait"
)

// Dependencies are the collaborators node factories need to build executable nodes.
// A zero value is enough for decoding and validating configuration.
type Dependencies = communication.Dependencies

// RegisterDefaultNodes registers all built-in node factories with the registry.
func (r *Registry) RegisterDefaultNodes(deps Dependencies) {
	r.RegisterNode(filter.NewFilterNodeFactory(deps.Source))
	r.RegisterNode(wait.NewWaitNodeFactory())
	r.RegisterNode(condition.NewConditionNodeFactory(deps.Source))

	for _, f := range communication.Factories(deps) {
		r.RegisterNode(f)
	}
}

// NewDefault returns a registry with every built-in node registered.
func NewDefault(deps Dependencies) *Registry {
	r := NewRegistry(loggerOrDefault(deps))
	r.RegisterDefaultNodes(deps)

	return r
}

func loggerOrDefault(deps Dependencies) *slog.Logger {
	if deps.Logger != nil {
		return deps.Logger
	}

	return slog.Default()
}
