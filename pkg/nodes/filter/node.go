package filter

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/dukex/dunning/pkg/models"
	"github.com/dukex/dunning/pkg/nodes"
	"github.com/dukex/dunning/pkg/persistence"
)

// FilterNode keeps the work items whose debt matches every configured predicate.
type FilterNode struct {
	id     string
	config *models.FilterConfig
	source persistence.PopulationSource
}

// NewFilterNode creates a filter node.
func NewFilterNode(id string, config *models.FilterConfig, source persistence.PopulationSource) *FilterNode {
	return &FilterNode{id: id, config: config, source: source}
}

// ID returns the node ID.
func (n *FilterNode) ID() string {
	return n.id
}

// Kind returns the node kind.
func (n *FilterNode) Kind() models.NodeKind {
	return models.NodeKindFilter
}

type candidate struct {
	item   models.WorkItem
	record *models.DebtRecord
}

// Execute filters, sorts and truncates the population. Items whose debt is missing or
// soft-deleted are dropped.
func (n *FilterNode) Execute(ctx context.Context, in nodes.Input) (nodes.Output, error) {
	cfg := n.config

	filtering := cfg.HasPredicates() || cfg.Limit != nil
	if !filtering && cfg.Sort == nil {
		return nodes.PassThrough(in), nil
	}

	records, err := nodes.LoadRecords(ctx, n.source, in)
	if err != nil {
		return nodes.Output{}, err
	}

	candidates := make([]candidate, 0, len(in.Population))

	for _, item := range in.Population {
		record := records[item.DebtID]

		if !filtering {
			candidates = append(candidates, candidate{item: item, record: record})

			continue
		}

		if record == nil || !record.Debt.Active() {
			continue
		}

		bound, ok := n.match(item, record, in.Clock)
		if !ok {
			continue
		}

		candidates = append(candidates, candidate{item: nodes.WithVariables(bound, record, in.Clock), record: record})
	}

	if cfg.Sort != nil {
		sortCandidates(candidates, *cfg.Sort, in.Clock)
	}

	if cfg.Limit != nil && len(candidates) > *cfg.Limit {
		candidates = candidates[:*cfg.Limit]
	}

	survivors := make([]models.WorkItem, len(candidates))
	for i, c := range candidates {
		survivors[i] = c.item
	}

	return nodes.Output{
		Population: survivors,
		Clock:      in.Clock,
		Summary: map[string]any{
			"input":    len(in.Population),
			"selected": len(survivors),
		},
	}, nil
}

// match evaluates every predicate and returns the item bound to a qualifying contact.
func (n *FilterNode) match(item models.WorkItem, record *models.DebtRecord, today time.Time) (models.WorkItem, bool) {
	cfg := n.config
	debt := record.Debt

	if len(cfg.StateIn) > 0 && !slices.ContainsFunc(debt.States(today), func(s string) bool {
		return slices.Contains(cfg.StateIn, s)
	}) {
		return item, false
	}

	if !cfg.AmountRange.Contains(debt.Amount) {
		return item, false
	}

	if !cfg.DaysOverdueRange.Contains(float64(debt.DaysOverdue(today))) {
		return item, false
	}

	if len(cfg.HadPriorActionIn) > 0 && !record.HasHistory(cfg.HadPriorActionIn...) {
		return item, false
	}

	if len(cfg.ContactTypeIn) > 0 {
		return bindContact(item, record, cfg.ContactTypeIn)
	}

	return item, true
}

func bindContact(item models.WorkItem, record *models.DebtRecord, types []models.ContactType) (models.WorkItem, bool) {
	if item.ContactID != nil {
		contact, ok := record.Contact(*item.ContactID)

		return item, ok && slices.Contains(types, contact.Type)
	}

	var chosen *models.Contact

	for i := range record.Contacts {
		c := &record.Contacts[i]
		if !slices.Contains(types, c.Type) {
			continue
		}

		if chosen == nil || (c.Preferred && !chosen.Preferred) {
			chosen = c
		}
	}

	if chosen == nil {
		return item, false
	}

	id := chosen.ID
	item.ContactID = &id

	return item, true
}

func sortCandidates(candidates []candidate, spec models.SortSpec, today time.Time) {
	key := func(c candidate) float64 {
		switch spec.Field {
		case models.SortByAmount:
			return c.record.Debt.Amount
		case models.SortByDueDate:
			return float64(c.record.Debt.DueDate.Unix())
		default:
			return float64(c.record.Debt.DaysOverdue(today))
		}
	}

	slices.SortStableFunc(candidates, func(a, b candidate) int {
		// Items without a record keep their relative order after every sortable item.
		switch {
		case a.record == nil && b.record == nil:
			return 0
		case a.record == nil:
			return 1
		case b.record == nil:
			return -1
		}

		if spec.Order == models.SortDesc {
			return cmp.Compare(key(b), key(a))
		}

		return cmp.Compare(key(a), key(b))
	})
}
