package models

import "slices"

// NodeKind is the type tag of a campaign graph node.
type NodeKind string

const (
	NodeKindFilter    NodeKind = "filter"
	NodeKindWait      NodeKind = "wait"
	NodeKindCondition NodeKind = "condition"
	NodeKindEmail     NodeKind = "email"
	NodeKindCall      NodeKind = "call"
	NodeKindSMS       NodeKind = "sms"
	NodeKindWhatsApp  NodeKind = "whatsapp"
)

var nodeKinds = []NodeKind{
	NodeKindFilter, NodeKindWait, NodeKindCondition,
	NodeKindEmail, NodeKindCall, NodeKindSMS, NodeKindWhatsApp,
}

// Valid reports whether k is a known node kind.
func (k NodeKind) Valid() bool {
	return slices.Contains(nodeKinds, k)
}

// IsCommunication reports whether nodes of this kind schedule outreach.
func (k NodeKind) IsCommunication() bool {
	switch k {
	case NodeKindEmail, NodeKindCall, NodeKindSMS, NodeKindWhatsApp:
		return true
	default:
		return false
	}
}

// Channel returns the delivery channel for a communication kind.
func (k NodeKind) Channel() (Channel, bool) {
	if !k.IsCommunication() {
		return "", false
	}

	return Channel(k), true
}

// Branch labels the outbound edges of a condition node.
type Branch string

const (
	BranchYes Branch = "yes"
	BranchNo  Branch = "no"
)

// WorkflowNode is a node of a campaign graph as received from the editor.
// Config is decoded into the typed config for Kind when the graph is loaded.
type WorkflowNode struct {
	ID     string         `json:"id"               yaml:"id"     validate:"required"`
	Kind   NodeKind       `json:"kind"             yaml:"kind"   validate:"required"`
	Name   string         `json:"name,omitempty"   yaml:"name,omitempty"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// WorkflowEdge connects two nodes. Branch is only set on edges leaving a condition node.
type WorkflowEdge struct {
	ID           string  `json:"id"               yaml:"id"`
	SourceNodeID string  `json:"source_node_id"   yaml:"source_node_id" validate:"required"`
	TargetNodeID string  `json:"target_node_id"   yaml:"target_node_id" validate:"required"`
	Branch       *Branch `json:"branch,omitempty" yaml:"branch,omitempty"`
}

// Labeled reports whether the edge carries a branch label.
func (e WorkflowEdge) Labeled() bool {
	return e.Branch != nil && *e.Branch != ""
}

// Campaign is a complete campaign definition, as stored in definition files.
type Campaign struct {
	TenantID   string         `json:"tenant_id"            yaml:"tenant_id"   validate:"required"`
	CampaignID string         `json:"campaign_id"          yaml:"campaign_id" validate:"required"`
	Name       string         `json:"name,omitempty"       yaml:"name,omitempty"`
	Nodes      []WorkflowNode `json:"nodes"                yaml:"nodes"       validate:"required,min=1,dive"`
	Edges      []WorkflowEdge `json:"edges"                yaml:"edges"       validate:"dive"`
	Population []WorkItem     `json:"population,omitempty" yaml:"population,omitempty"`
}
