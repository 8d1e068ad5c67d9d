// Package workflow loads campaign graphs and interprets them against a debtor population.
package workflow

import (
	"errors"
	"fmt"

	"github.com/dukex/dunning/pkg/models"
	"github.com/dukex/dunning/pkg/registry"
)

var (
	// ErrInvalidGraph is returned when a campaign graph is structurally invalid.
	ErrInvalidGraph = errors.New("invalid campaign graph")

	// ErrNoEntryNode is returned for a graph without nodes.
	ErrNoEntryNode = errors.New("campaign graph has no entry node")
)

// GraphNode is a node whose configuration was decoded and validated.
type GraphNode struct {
	models.WorkflowNode
	Config models.NodeConfig
}

// Graph is a validated, acyclic campaign graph.
type Graph struct {
	nodes   []GraphNode
	index   map[string]int
	next    map[string]string
	branch  map[string]map[models.Branch]string
	entryID string
}

// NewGraph decodes every node config through the registry and checks the edge rules:
// condition nodes have at most one edge per branch and no unlabeled edge, other nodes at
// most one unlabeled edge and no labeled one. Cycles are rejected.
func NewGraph(reg *registry.Registry, nodes []models.WorkflowNode, edges []models.WorkflowEdge) (*Graph, error) {
	if len(nodes) == 0 {
		return nil, ErrNoEntryNode
	}

	g := &Graph{
		nodes:  make([]GraphNode, 0, len(nodes)),
		index:  make(map[string]int, len(nodes)),
		next:   make(map[string]string),
		branch: make(map[string]map[models.Branch]string),
	}

	for _, n := range nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("%w: node without id", ErrInvalidGraph)
		}

		if _, dup := g.index[n.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate node id %q", ErrInvalidGraph, n.ID)
		}

		if !n.Kind.Valid() {
			return nil, fmt.Errorf("%w: node %q has unknown kind %q", ErrInvalidGraph, n.ID, n.Kind)
		}

		cfg, err := reg.DecodeConfig(n.Kind, n.Config)
		if err != nil {
			return nil, fmt.Errorf("%w: node %q: %w", ErrInvalidGraph, n.ID, err)
		}

		g.index[n.ID] = len(g.nodes)
		g.nodes = append(g.nodes, GraphNode{WorkflowNode: n, Config: cfg})
	}

	incoming := make(map[string]int, len(nodes))

	for _, e := range edges {
		if err := g.addEdge(e); err != nil {
			return nil, err
		}

		incoming[e.TargetNodeID]++
	}

	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}

	g.entryID = g.selectEntry(incoming)

	return g, nil
}

func (g *Graph) addEdge(e models.WorkflowEdge) error {
	src, ok := g.index[e.SourceNodeID]
	if !ok {
		return fmt.Errorf("%w: edge %q has unknown source %q", ErrInvalidGraph, e.ID, e.SourceNodeID)
	}

	if _, ok := g.index[e.TargetNodeID]; !ok {
		return fmt.Errorf("%w: edge %q has unknown target %q", ErrInvalidGraph, e.ID, e.TargetNodeID)
	}

	if g.nodes[src].Kind != models.NodeKindCondition {
		if e.Labeled() {
			return fmt.Errorf("%w: edge %q from %s node %q must not carry a branch",
				ErrInvalidGraph, e.ID, g.nodes[src].Kind, e.SourceNodeID)
		}

		if _, exists := g.next[e.SourceNodeID]; exists {
			return fmt.Errorf("%w: node %q has more than one outgoing edge", ErrInvalidGraph, e.SourceNodeID)
		}

		g.next[e.SourceNodeID] = e.TargetNodeID

		return nil
	}

	if !e.Labeled() {
		return fmt.Errorf("%w: edge %q from condition node %q needs a yes or no branch", ErrInvalidGraph, e.ID, e.SourceNodeID)
	}

	b := *e.Branch
	if b != models.BranchYes && b != models.BranchNo {
		return fmt.Errorf("%w: edge %q has unknown branch %q", ErrInvalidGraph, e.ID, b)
	}

	branches := g.branch[e.SourceNodeID]
	if branches == nil {
		branches = make(map[models.Branch]string, 2)
		g.branch[e.SourceNodeID] = branches
	}

	if _, exists := branches[b]; exists {
		return fmt.Errorf("%w: condition node %q has more than one %s edge", ErrInvalidGraph, e.SourceNodeID, b)
	}

	branches[b] = e.TargetNodeID

	return nil
}

// successors returns the targets reachable in one step from id.
func (g *Graph) successors(id string) []string {
	var out []string

	if t, ok := g.next[id]; ok {
		out = append(out, t)
	}

	for _, b := range []models.Branch{models.BranchYes, models.BranchNo} {
		if t, ok := g.branch[id][b]; ok {
			out = append(out, t)
		}
	}

	return out
}

// checkAcyclic runs an iterative three-colour depth-first search.
func (g *Graph) checkAcyclic() error {
	const (
		white = iota
		grey
		black
	)

	colour := make(map[string]int, len(g.nodes))

	type frame struct {
		id    string
		succ  []string
		index int
	}

	for _, n := range g.nodes {
		if colour[n.ID] != white {
			continue
		}

		stack := []*frame{{id: n.ID, succ: g.successors(n.ID)}}
		colour[n.ID] = grey

		for len(stack) > 0 {
			top := stack[len(stack)-1]

			if top.index == len(top.succ) {
				colour[top.id] = black
				stack = stack[:len(stack)-1]

				continue
			}

			next := top.succ[top.index]
			top.index++

			switch colour[next] {
			case grey:
				return fmt.Errorf("%w: cycle through node %q", ErrInvalidGraph, next)
			case white:
				colour[next] = grey
				stack = append(stack, &frame{id: next, succ: g.successors(next)})
			}
		}
	}

	return nil
}

// selectEntry picks the unique filter node, else the first node without incoming edges,
// else the first declared node.
func (g *Graph) selectEntry(incoming map[string]int) string {
	var filters []string

	for _, n := range g.nodes {
		if n.Kind == models.NodeKindFilter {
			filters = append(filters, n.ID)
		}
	}

	if len(filters) == 1 {
		return filters[0]
	}

	for _, n := range g.nodes {
		if incoming[n.ID] == 0 {
			return n.ID
		}
	}

	return g.nodes[0].ID
}

// Entry returns the entry node id.
func (g *Graph) Entry() string {
	return g.entryID
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (GraphNode, bool) {
	i, ok := g.index[id]
	if !ok {
		return GraphNode{}, false
	}

	return g.nodes[i], true
}

// Nodes returns the nodes in declaration order.
func (g *Graph) Nodes() []GraphNode {
	return g.nodes
}

// Next returns the unlabeled successor of a non-condition node.
func (g *Graph) Next(id string) (string, bool) {
	t, ok := g.next[id]

	return t, ok
}

// BranchTarget returns the successor of a condition node on branch b.
func (g *Graph) BranchTarget(id string, b models.Branch) (string, bool) {
	t, ok := g.branch[id][b]

	return t, ok
}
