// Package registry maps campaign node kinds to the factories that build them.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/dukex/dunning/pkg/models"
	"github.com/dukex/dunning/pkg/nodes"
)

// ErrUnknownNodeKind is returned for a node kind no factory is registered for.
var ErrUnknownNodeKind = errors.New("unknown node kind")

type Registry struct {
	logger    *slog.Logger
	factories map[models.NodeKind]nodes.Factory
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:    log.With("module", "registry"),
		factories: make(map[models.NodeKind]nodes.Factory),
	}
}

func (r *Registry) RegisterNode(factory nodes.Factory) {
	r.factories[factory.Kind()] = factory
}

// Factory returns the factory registered for kind.
func (r *Registry) Factory(kind models.NodeKind) (nodes.Factory, error) {
	factory, ok := r.factories[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNodeKind, kind)
	}

	return factory, nil
}

// GetAvailableNodes returns the registered factories ordered by kind.
func (r *Registry) GetAvailableNodes() []nodes.Factory {
	factories := make([]nodes.Factory, 0, len(r.factories))
	for _, f := range r.factories {
		factories = append(factories, f)
	}

	slices.SortFunc(factories, func(a, b nodes.Factory) int {
		return strings.Compare(string(a.Kind()), string(b.Kind()))
	})

	return factories
}

// DecodeConfig checks raw configuration against the kind's JSON schema, decodes it into
// the typed config and validates it.
func (r *Registry) DecodeConfig(kind models.NodeKind, raw map[string]any) (models.NodeConfig, error) {
	factory, err := r.Factory(kind)
	if err != nil {
		return nil, err
	}

	if raw == nil {
		raw = map[string]any{}
	}

	if err := validateJSONSchema(raw, factory.Schema()); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrInvalidNodeConfig, err)
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrInvalidNodeConfig, err)
	}

	config := factory.NewConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrInvalidNodeConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// CreateNode builds an executable node from a decoded config.
func (r *Registry) CreateNode(kind models.NodeKind, id string, config models.NodeConfig) (nodes.Node, error) {
	factory, err := r.Factory(kind)
	if err != nil {
		return nil, err
	}

	return factory.Create(id, config)
}

func validateJSONSchema(data any, schema map[string]any) error {
	schemaLoader := gojsonschema.NewGoLoader(schema)
	dataLoader := gojsonschema.NewGoLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return err
	}

	if !result.Valid() {
		var errs []string
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}

		return fmt.Errorf("JSON schema validation failed: %s", strings.Join(errs, "; "))
	}

	return nil
}
