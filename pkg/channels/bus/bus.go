// Package bus delivers messages by publishing them on a Watermill topic per channel, for
// provider workers consuming dunning.outbound.<channel>.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/dukex/dunning/pkg/channels"
	"github.com/dukex/dunning/pkg/models"
)

const topicPrefix = "dunning.outbound."

// Topic returns the topic messages of ch are published on.
func Topic(ch models.Channel) string {
	return topicPrefix + string(ch)
}

// Sender publishes messages. A successful publish is a successful send.
type Sender struct {
	publisher message.Publisher
	logger    *slog.Logger
}

func NewSender(publisher message.Publisher, logger *slog.Logger) *Sender {
	return &Sender{publisher: publisher, logger: logger.With("module", "bus_sender")}
}

func (s *Sender) Send(ctx context.Context, req channels.Request) channels.Result {
	a := req.Action

	payload, err := json.Marshal(req.Payload())
	if err != nil {
		return channels.Failure(fmt.Errorf("failed to encode message: %w", err), false)
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("action_id", a.ID)
	msg.Metadata.Set("tenant_id", a.TenantID)
	msg.Metadata.Set("channel", string(a.Channel))

	topic := Topic(a.Channel)

	if err := s.publisher.Publish(topic, msg); err != nil {
		return channels.Failure(fmt.Errorf("failed to publish to %s: %w", topic, err), true)
	}

	s.logger.DebugContext(ctx, "Message published", "action_id", a.ID, "topic", topic, "message_id", msg.UUID)

	return channels.Result{Success: true, ExternalID: msg.UUID, Detail: "published to " + topic}
}
