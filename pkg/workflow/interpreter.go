package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/dunning/pkg/executionlog"
	"github.com/dukex/dunning/pkg/models"
	"github.com/dukex/dunning/pkg/nodes"
	"github.com/dukex/dunning/pkg/otelhelper"
	"github.com/dukex/dunning/pkg/persistence"
	"github.com/dukex/dunning/pkg/registry"
)

// Activation is one request to run a campaign graph.
type Activation struct {
	TenantID   string
	CampaignID string
	Graph      *Graph
	// Population is the initial population. Nil means the tenant's active population.
	Population []models.WorkItem
	// BaseTime is the initial virtual clock. Zero means now.
	BaseTime time.Time
}

// Result aggregates the scheduling outcome of every path of an activation.
type Result struct {
	RunID     string `json:"run_id"`
	Scheduled int    `json:"scheduled"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
}

// Interpreter walks campaign graphs.
type Interpreter struct {
	registry *registry.Registry
	source   persistence.PopulationSource
	runs     *executionlog.Logger
	tracer   trace.Tracer
	logger   *slog.Logger
	now      func() time.Time
}

// NewInterpreter creates an interpreter. The registry must be built with the same source.
func NewInterpreter(
	reg *registry.Registry,
	source persistence.PopulationSource,
	runs *executionlog.Logger,
	tracer trace.Tracer,
	logger *slog.Logger,
) *Interpreter {
	return &Interpreter{
		registry: reg,
		source:   source,
		runs:     runs,
		tracer:   tracer,
		logger:   logger.With("module", "workflow_interpreter"),
		now:      time.Now,
	}
}

// Load validates a graph against the interpreter's node registry.
func (i *Interpreter) Load(nodes []models.WorkflowNode, edges []models.WorkflowEdge) (*Graph, error) {
	return NewGraph(i.registry, nodes, edges)
}

type visit struct {
	nodeID     string
	population []models.WorkItem
	clock      time.Time
}

// Run executes the graph once. Node failures are recorded and never abort the traversal;
// only failures to read the population or to write the run are returned as errors.
func (i *Interpreter) Run(ctx context.Context, act Activation) (*Result, error) {
	if act.Graph == nil {
		return nil, ErrNoEntryNode
	}

	ctx, span := otelhelper.StartSpan(ctx, i.tracer, "campaign.activation",
		attribute.String(otelhelper.TenantIDKey, act.TenantID),
		attribute.String(otelhelper.CampaignIDKey, act.CampaignID),
	)
	defer span.End()

	instances, err := i.instantiate(act.Graph)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	population := act.Population
	if population == nil {
		population, err = i.source.ActivePopulation(ctx, act.TenantID)
		if err != nil {
			otelhelper.SetError(span, err)

			return nil, fmt.Errorf("failed to load active population: %w", err)
		}
	}

	base := act.BaseTime
	if base.IsZero() {
		base = i.now()
	}

	base = base.UTC()

	run, err := i.runs.StartActivation(ctx, act.TenantID, act.CampaignID, map[string]any{
		"population": len(population),
		"base_time":  base.Format(time.RFC3339),
		"entry":      act.Graph.Entry(),
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.RunIDKey, run.ID))

	logger := i.logger.With("run_id", run.ID, "tenant_id", act.TenantID, "campaign_id", act.CampaignID)
	logger.InfoContext(ctx, "Starting campaign activation", "population", len(population))

	result := &Result{RunID: run.ID}
	var failedNodes []string

	worklist := []visit{{nodeID: act.Graph.Entry(), population: population, clock: base}}

	for len(worklist) > 0 {
		current := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		next, failed, err := i.visit(ctx, run, act, instances[current.nodeID], current, result)
		if err != nil {
			logger.ErrorContext(ctx, "Activation aborted", "node_id", current.nodeID, "error", err)
			if finishErr := i.finish(ctx, run, models.RunStateFailed, result, failedNodes, logger); finishErr != nil {
				err = errors.Join(err, finishErr)
			}

			otelhelper.SetError(span, err)

			return nil, err
		}

		if failed {
			failedNodes = append(failedNodes, current.nodeID)
		}

		worklist = append(worklist, next...)
	}

	state := models.RunStateDone
	if len(failedNodes) > 0 {
		state = models.RunStateFailed
	}

	if err := i.finish(ctx, run, state, result, failedNodes, logger); err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "Campaign activation finished",
		"state", state,
		"scheduled", result.Scheduled,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
	)

	return result, nil
}

// visit executes one node and returns the visits to push, in push order.
func (i *Interpreter) visit(
	ctx context.Context,
	run *models.WorkflowRun,
	act Activation,
	node nodes.Node,
	current visit,
	result *Result,
) ([]visit, bool, error) {
	kind := string(node.Kind())

	if len(current.population) == 0 {
		return nil, false, i.runs.Skipped(ctx, run, current.nodeID, kind, "empty population")
	}

	ctx, span := otelhelper.StartSpan(ctx, i.tracer, "campaign.node."+kind,
		attribute.String(otelhelper.RunIDKey, run.ID),
		attribute.String(otelhelper.NodeIDKey, current.nodeID),
		attribute.String(otelhelper.NodeKindKey, kind),
		attribute.Int("dunning.population.size", len(current.population)),
	)
	defer span.End()

	step, err := i.runs.Start(ctx, run, current.nodeID, kind, map[string]any{
		"population": len(current.population),
		"clock":      current.clock.Format(time.RFC3339),
	})
	if err != nil {
		return nil, false, err
	}

	out, execErr := execute(ctx, node, nodes.Input{
		TenantID:   act.TenantID,
		CampaignID: act.CampaignID,
		Population: current.population,
		Clock:      current.clock,
	})

	if execErr != nil {
		otelhelper.SetError(span, execErr, attribute.String(otelhelper.NodeIDKey, current.nodeID))
		i.logger.WarnContext(ctx, "Node failed", "run_id", run.ID, "node_id", current.nodeID, "error", execErr)

		if err := step.Failed(ctx, execErr, nil); err != nil {
			return nil, true, err
		}

		// Successors continue with the population and clock the node received.
		out = nodes.Output{Population: current.population, Clock: current.clock}
		if node.Kind() == models.NodeKindCondition {
			out.Branches = map[models.Branch][]models.WorkItem{models.BranchNo: current.population}
		}

		return i.successors(act.Graph, current.nodeID, node.Kind(), out), true, nil
	}

	if out.Counts != nil {
		result.Scheduled += out.Counts.Scheduled
		result.Succeeded += out.Counts.Succeeded
		result.Failed += out.Counts.Failed
	}

	summary := map[string]any{
		"population": len(out.Population),
		"clock":      out.Clock.Format(time.RFC3339),
	}
	for k, v := range out.Summary {
		summary[k] = v
	}

	if err := step.Done(ctx, summary); err != nil {
		return nil, false, err
	}

	return i.successors(act.Graph, current.nodeID, node.Kind(), out), false, nil
}

// successors pushes no before yes so the yes path is taken first and completely.
func (i *Interpreter) successors(g *Graph, id string, kind models.NodeKind, out nodes.Output) []visit {
	if kind != models.NodeKindCondition {
		target, ok := g.Next(id)
		if !ok {
			return nil
		}

		return []visit{{nodeID: target, population: out.Population, clock: out.Clock}}
	}

	var next []visit

	for _, b := range []models.Branch{models.BranchNo, models.BranchYes} {
		target, ok := g.BranchTarget(id, b)
		if !ok {
			continue
		}

		next = append(next, visit{nodeID: target, population: out.Branches[b], clock: out.Clock})
	}

	return next
}

func (i *Interpreter) instantiate(g *Graph) (map[string]nodes.Node, error) {
	instances := make(map[string]nodes.Node, len(g.Nodes()))

	for _, n := range g.Nodes() {
		node, err := i.registry.CreateNode(n.Kind, n.ID, n.Config)
		if err != nil {
			return nil, fmt.Errorf("%w: node %q: %w", ErrInvalidGraph, n.ID, err)
		}

		instances[n.ID] = node
	}

	return instances, nil
}

func (i *Interpreter) finish(
	ctx context.Context,
	run *models.WorkflowRun,
	state models.RunState,
	result *Result,
	failedNodes []string,
	logger *slog.Logger,
) error {
	final := map[string]any{
		"scheduled": result.Scheduled,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
	}
	if len(failedNodes) > 0 {
		final["failed_nodes"] = failedNodes
	}

	if err := i.runs.Finish(ctx, run, state, final); err != nil {
		logger.ErrorContext(ctx, "Failed to finish activation run", "error", err)

		return err
	}

	return nil
}

// execute runs the node, turning a panic into an error.
func execute(ctx context.Context, node nodes.Node, in nodes.Input) (out nodes.Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("node %s panicked: %v", node.ID(), r)
		}
	}()

	return node.Execute(ctx, in)
}

// IsStructural reports whether err rejects the graph itself rather than a run of it.
func IsStructural(err error) bool {
	return errors.Is(err, ErrInvalidGraph) || errors.Is(err, ErrNoEntryNode)
}
