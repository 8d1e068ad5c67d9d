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

// CommunicationNode schedules one action per work item on the node's channel.
type CommunicationNode struct {
	id     string
	config *models.CommunicationConfig
	deps   Dependencies
	logger *slog.Logger
}

// NewCommunicationNode creates a communication node.
func NewCommunicationNode(id string, config *models.CommunicationConfig, deps Dependencies) *CommunicationNode {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &CommunicationNode{
		id:     id,
		config: config,
		deps:   deps,
		logger: logger.With("module", "communication_node", "node_id", id, "kind", config.Kind()),
	}
}

func (n *CommunicationNode) ID() string {
	return n.id
}

func (n *CommunicationNode) Kind() models.NodeKind {
	return n.config.Kind()
}

// Execute schedules the population at the virtual clock. A missing template or agent fails
// the node; per-item failures are counted and never stop the other items.
func (n *CommunicationNode) Execute(ctx context.Context, in nodes.Input) (nodes.Output, error) {
	channel, ok := n.Kind().Channel()
	if !ok {
		return nodes.Output{}, fmt.Errorf("%w: %s is not a communication kind", models.ErrInvalidNodeConfig, n.Kind())
	}

	templateID, agentID, err := n.reference(ctx, in.TenantID)
	if err != nil {
		return nodes.Output{}, err
	}

	population, targets, err := n.targets(ctx, in, channel.ContactType())
	if err != nil {
		return nodes.Output{}, err
	}

	var campaignID *string
	if in.CampaignID != "" {
		campaignID = &in.CampaignID
	}

	counts := nodes.Counts{Skipped: len(population) - len(targets)}

	for _, item := range targets {
		_, inserted, err := n.deps.Scheduler.Schedule(ctx, scheduler.Request{
			TenantID:   in.TenantID,
			CampaignID: campaignID,
			Item:       item,
			Channel:    channel,
			TargetTime: in.Clock,
			TemplateID: templateID,
			AgentID:    agentID,
		})

		switch {
		case err != nil:
			counts.Failed++

			n.logger.WarnContext(ctx, "Failed to schedule action", "debt_id", item.DebtID, "error", err)
		case inserted:
			counts.Scheduled++
			counts.Succeeded++
		default:
			counts.Duplicates++
			counts.Succeeded++
		}
	}

	return nodes.Output{
		Population: population,
		Clock:      in.Clock,
		Summary:    counts.Summary(),
		Counts:     &counts,
	}, nil
}

// reference checks that the configured template or agent exists for the tenant.
func (n *CommunicationNode) reference(ctx context.Context, tenantID string) (*string, *string, error) {
	if n.Kind() == models.NodeKindCall {
		if _, err := n.deps.Catalog.Agent(ctx, tenantID, n.config.AgentID); err != nil {
			return nil, nil, referenceError("agent", n.config.AgentID, err)
		}

		agentID := n.config.AgentID

		return nil, &agentID, nil
	}

	if _, err := n.deps.Catalog.Template(ctx, tenantID, n.config.TemplateID); err != nil {
		return nil, nil, referenceError("template", n.config.TemplateID, err)
	}

	templateID := n.config.TemplateID

	return &templateID, nil, nil
}

func referenceError(kind, id string, err error) error {
	if persistence.IsNotFound(err) {
		return fmt.Errorf("%w: %s %q", nodes.ErrMissingReference, kind, id)
	}

	return fmt.Errorf("failed to look up %s %q: %w", kind, id, err)
}

// targets resolves variables for items reaching the node unresolved, using the virtual
// clock as today, and picks the items to schedule. Unresolved unbound items are bound to the
// contact the channel reaches. A bound item is skipped when its contact is of another type,
// or when another item of the same debt is bound to the preferred matching contact.
// Items without a debt record keep empty variables and are scheduled as they are.
func (n *CommunicationNode) targets(
	ctx context.Context,
	in nodes.Input,
	want models.ContactType,
) ([]models.WorkItem, []models.WorkItem, error) {
	var lookup []models.WorkItem

	bound := make(map[string]map[string]bool)

	for _, item := range in.Population {
		if item.ContactID != nil {
			if bound[item.DebtID] == nil {
				bound[item.DebtID] = make(map[string]bool)
			}

			bound[item.DebtID][*item.ContactID] = true
		}

		if !item.HasVariables() || item.ContactID != nil {
			lookup = append(lookup, item)
		}
	}

	records, err := nodes.LoadRecords(ctx, n.deps.Source, nodes.Input{TenantID: in.TenantID, Population: lookup})
	if err != nil {
		return nil, nil, err
	}

	population := make([]models.WorkItem, len(in.Population))
	targets := make([]models.WorkItem, 0, len(in.Population))

	for i, item := range in.Population {
		record := records[item.DebtID]

		if record != nil && item.ContactID == nil && !item.HasVariables() {
			if c, ok := record.ContactFor(want); ok {
				id := c.ID
				item.ContactID = &id
			}
		}

		item = nodes.WithVariables(item, record, in.Clock)
		population[i] = item

		if !reachable(item, record, want, bound[item.DebtID]) {
			n.logger.DebugContext(ctx, "Skipping item bound to another contact", "debt_id", item.DebtID, "contact_id", *item.ContactID)

			continue
		}

		targets = append(targets, item)
	}

	return population, targets, nil
}

func reachable(item models.WorkItem, record *models.DebtRecord, want models.ContactType, bound map[string]bool) bool {
	if item.ContactID == nil || record == nil {
		return true
	}

	c, ok := record.Contact(*item.ContactID)
	if !ok || c.Type != want {
		return false
	}

	best, _ := record.ContactFor(want)

	return best.ID == c.ID || !bound[best.ID]
}
