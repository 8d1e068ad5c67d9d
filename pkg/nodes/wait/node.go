package wait

import (
	"context"
	"time"

	"github.com/dukex/dunning/pkg/models"
	"github.com/dukex/dunning/pkg/nodes"
	"github.com/dukex/dunning/pkg/schedule"
)

// WaitNode advances the virtual clock of its path. The population is unchanged.
type WaitNode struct {
	id     string
	config *models.WaitConfig
}

// NewWaitNode creates a wait node.
func NewWaitNode(id string, config *models.WaitConfig) *WaitNode {
	return &WaitNode{id: id, config: config}
}

func (n *WaitNode) ID() string {
	return n.id
}

func (n *WaitNode) Kind() models.NodeKind {
	return models.NodeKindWait
}

func (n *WaitNode) Execute(_ context.Context, in nodes.Input) (nodes.Output, error) {
	next, err := schedule.Next(in.Clock, n.config.Duration, n.config.ScheduleRules)
	if err != nil {
		return nodes.Output{}, err
	}

	return nodes.Output{
		Population: in.Population,
		Clock:      next,
		Summary: map[string]any{
			"from": in.Clock.UTC().Format(time.RFC3339),
			"to":   next.Format(time.RFC3339),
		},
	}, nil
}
