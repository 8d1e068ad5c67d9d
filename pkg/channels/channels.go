// Package channels defines the contract between the dispatcher and the providers that
// deliver emails, calls, SMS and WhatsApp messages.
package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/dukex/dunning/pkg/models"
)

// ErrNoSender is returned when no sender handles a channel.
var ErrNoSender = errors.New("no sender for channel")

// Request is one rendered message to deliver.
type Request struct {
	Action    models.ScheduledAction
	Recipient string
	Subject   string
	Body      string
}

// Payload is the wire form of a Request handed to external providers.
type Payload struct {
	ActionID   string            `json:"action_id"`
	TenantID   string            `json:"tenant_id"`
	DebtID     string            `json:"debt_id"`
	CampaignID *string           `json:"campaign_id,omitempty"`
	Channel    models.Channel    `json:"channel"`
	Recipient  string            `json:"recipient"`
	Subject    string            `json:"subject,omitempty"`
	Body       string            `json:"body"`
	AgentID    *string           `json:"agent_id,omitempty"`
	Variables  map[string]string `json:"variables"`
	Attempt    int               `json:"attempt"`
}

func (r Request) Payload() Payload {
	a := r.Action

	return Payload{
		ActionID:   a.ID,
		TenantID:   a.TenantID,
		DebtID:     a.DebtID,
		CampaignID: a.CampaignID,
		Channel:    a.Channel,
		Recipient:  r.Recipient,
		Subject:    r.Subject,
		Body:       r.Body,
		AgentID:    a.AgentID,
		Variables:  a.Variables,
		Attempt:    a.Attempt,
	}
}

// Result reports the provider outcome. Failures are carried in the result, never as a panic.
type Result struct {
	Success    bool   `json:"success"`
	ExternalID string `json:"external_id,omitempty"`
	Detail     string `json:"detail,omitempty"`
	Error      string `json:"error,omitempty"`
	Retryable  bool   `json:"retryable"`
}

// Failure builds a failed result.
func Failure(err error, retryable bool) Result {
	return Result{Error: err.Error(), Retryable: retryable}
}

// Sender delivers messages of one or more channels.
type Sender interface {
	Send(ctx context.Context, req Request) Result
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, req Request) Result

func (f SenderFunc) Send(ctx context.Context, req Request) Result {
	return f(ctx, req)
}

// Invoke calls s, turning a panic into a retryable failure. It returns when ctx is done
// even if s ignores ctx; the abandoned send keeps running in the background.
func Invoke(ctx context.Context, s Sender, req Request) Result {
	done := make(chan Result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Failure(fmt.Errorf("sender panicked: %v", r), true)
			}
		}()

		done <- s.Send(ctx, req)
	}()

	select {
	case res := <-done:
		if ctx.Err() != nil && !res.Success && res.Error == "" {
			return Failure(ctx.Err(), true)
		}

		return res
	case <-ctx.Done():
		return Failure(ctx.Err(), true)
	}
}

// Registry maps channels to senders.
type Registry struct {
	mu       sync.RWMutex
	senders  map[models.Channel]Sender
	fallback Sender
	logger   *slog.Logger
}

// NewRegistry creates an empty registry. A nil fallback means unregistered channels fail.
func NewRegistry(fallback Sender, logger *slog.Logger) *Registry {
	return &Registry{
		senders:  make(map[models.Channel]Sender),
		fallback: fallback,
		logger:   logger.With("module", "channels"),
	}
}

// Register binds sender to the given channels, replacing previous bindings.
func (r *Registry) Register(sender Sender, chans ...models.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ch := range chans {
		r.senders[ch] = sender
		r.logger.Debug("Sender registered", "channel", ch)
	}
}

// Sender returns the sender of ch.
func (r *Registry) Sender(ch models.Channel) (Sender, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if s, ok := r.senders[ch]; ok {
		return s, nil
	}

	if r.fallback != nil {
		return r.fallback, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrNoSender, ch)
}

// Channels lists the explicitly registered channels.
func (r *Registry) Channels() []models.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Channel, 0, len(r.senders))
	for ch := range r.senders {
		out = append(out, ch)
	}

	slices.Sort(out)

	return out
}
