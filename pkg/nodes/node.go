// Package nodes defines the contract shared by every campaign graph node.
package nodes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/dunning/pkg/models"
	"github.com/dukex/dunning/pkg/persistence"
	"github.com/dukex/dunning/pkg/template"
)

// ErrMissingReference is returned when a node references a template or agent that does not exist.
var ErrMissingReference = errors.New("missing reference")

// Input is what a node receives when the interpreter visits it.
type Input struct {
	TenantID   string
	CampaignID string
	Population []models.WorkItem
	// Clock is the virtual time of the path being traversed.
	Clock time.Time
}

// Output is what a node hands to its successors.
type Output struct {
	Population []models.WorkItem
	// Branches is only set by condition nodes.
	Branches map[models.Branch][]models.WorkItem
	Clock    time.Time
	Summary  map[string]any
	// Counts is only set by communication nodes.
	Counts *Counts
}

// Counts tallies the scheduling outcome of a communication node.
type Counts struct {
	Scheduled  int
	Duplicates int
	Succeeded  int
	Failed     int
	// Skipped items are bound to a contact the channel cannot reach, or duplicate a
	// debt already targeted through its preferred contact.
	Skipped int
}

// Summary renders the counts for an execution log.
func (c Counts) Summary() map[string]any {
	return map[string]any{
		"scheduled":  c.Scheduled,
		"duplicates": c.Duplicates,
		"succeeded":  c.Succeeded,
		"failed":     c.Failed,
		"skipped":    c.Skipped,
	}
}

// Node is one executable step of a campaign graph.
type Node interface {
	ID() string
	Kind() models.NodeKind
	Execute(ctx context.Context, in Input) (Output, error)
}

// Factory creates nodes of one kind and describes their configuration.
type Factory interface {
	Kind() models.NodeKind
	Name() string
	Description() string

	// Schema returns the JSON schema raw node configuration must satisfy.
	Schema() map[string]any

	// NewConfig returns an empty typed config to decode raw configuration into.
	NewConfig() models.NodeConfig

	Create(id string, config models.NodeConfig) (Node, error)
}

// PassThrough returns an output that forwards the input unchanged.
func PassThrough(in Input) Output {
	return Output{Population: in.Population, Clock: in.Clock}
}

// LoadRecords fetches the debt records referenced by a population in one batch.
func LoadRecords(ctx context.Context, src persistence.PopulationSource, in Input) (map[string]*models.DebtRecord, error) {
	if len(in.Population) == 0 {
		return map[string]*models.DebtRecord{}, nil
	}

	records, err := src.DebtRecords(ctx, in.TenantID, models.DebtIDs(in.Population))
	if err != nil {
		return nil, fmt.Errorf("failed to load debt records: %w", err)
	}

	return records, nil
}

// WithVariables returns the item with its template variables resolved, unless they already are.
func WithVariables(item models.WorkItem, record *models.DebtRecord, today time.Time) models.WorkItem {
	if item.HasVariables() || record == nil {
		return item
	}

	item.Variables = template.Resolve(record, item.ContactID, today)

	return item
}

// ConfigError wraps a configuration type mismatch detected when creating a node.
func ConfigError(kind models.NodeKind, config models.NodeConfig) error {
	return fmt.Errorf("%w: %s node cannot use %T", models.ErrInvalidNodeConfig, kind, config)
}
