package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/dukex/dunning/pkg/channels"
	"github.com/dukex/dunning/pkg/channels/bus"
	"github.com/dukex/dunning/pkg/channels/webhook"
)

// SenderConfig selects the channel sender of a process.
type SenderConfig struct {
	// Provider is one of log, webhook, kafka or gochannel.
	Provider     string
	WebhookURL   string
	WebhookToken string
	KafkaBrokers []string
}

// NewSenders builds the sender registry. The returned close function releases the
// publisher, if any.
func NewSenders(cfg SenderConfig, logger *slog.Logger) (*channels.Registry, func() error, error) {
	noop := func() error { return nil }

	var sender channels.Sender

	switch cfg.Provider {
	case "", "log":
		sender = channels.NewLogSender(logger)
	case "webhook":
		if cfg.WebhookURL == "" {
			return nil, nil, errors.New("webhook sender requires a URL")
		}

		sender = webhook.NewSender(cfg.WebhookURL, logger, webhook.WithToken(cfg.WebhookToken))
	case "kafka", "gochannel":
		publisher, err := NewPublisher(cfg.Provider, cfg.KafkaBrokers, logger)
		if err != nil {
			return nil, nil, err
		}

		reg := channels.NewRegistry(bus.NewSender(publisher, logger), logger)

		return reg, publisher.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported sender %q", cfg.Provider)
	}

	return channels.NewRegistry(sender, logger), noop, nil
}

// NewPublisher creates the Watermill publisher of the bus sender.
func NewPublisher(provider string, brokers []string, logger *slog.Logger) (message.Publisher, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		publisher, err := bus.NewKafkaPublisher(brokers, wmLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka publisher: %w", err)
		}

		return publisher, nil
	case "gochannel":
		return bus.NewGoChannel(wmLogger), nil
	default:
		return nil, fmt.Errorf("unsupported bus provider %q", provider)
	}
}
