// Package webhook delivers messages by POSTing them to a provider HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/dunning/pkg/channels"
)

const defaultTimeout = 30 * time.Second

// maxResponseBody bounds how much of the provider response is read.
const maxResponseBody = 64 << 10

var ErrProviderStatus = errors.New("provider rejected the message")

type providerResponse struct {
	ExternalID string `json:"external_id"`
	Detail     string `json:"detail"`
}

// Sender posts each message to URL.
type Sender struct {
	url    string
	token  string
	client *http.Client
	logger *slog.Logger
}

// Option configures a Sender.
type Option func(*Sender)

// WithToken sends Authorization: Bearer token.
func WithToken(token string) Option {
	return func(s *Sender) {
		s.token = token
	}
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Sender) {
		s.client = client
	}
}

func NewSender(url string, logger *slog.Logger, opts ...Option) *Sender {
	s := &Sender{
		url:    url,
		client: &http.Client{Timeout: defaultTimeout},
		logger: logger.With("module", "webhook_sender"),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Sender) Send(ctx context.Context, req channels.Request) channels.Result {
	a := req.Action

	body, err := json.Marshal(req.Payload())
	if err != nil {
		return channels.Failure(fmt.Errorf("failed to encode payload: %w", err), false)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return channels.Failure(fmt.Errorf("failed to build request: %w", err), false)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", a.ID)

	if s.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return channels.Failure(fmt.Errorf("http request failed: %w", err), true)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			s.logger.ErrorContext(ctx, "failed to close response body", "error", err)
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return channels.Failure(fmt.Errorf("failed to read response: %w", err), true)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.logger.WarnContext(ctx, "Provider rejected message",
			"action_id", a.ID,
			"status", resp.StatusCode,
		)

		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests

		return channels.Result{
			Error:     fmt.Sprintf("%s: status %d", ErrProviderStatus, resp.StatusCode),
			Detail:    string(raw),
			Retryable: retryable,
		}
	}

	var parsed providerResponse
	if len(raw) > 0 {
		// a non-JSON success body is kept as detail
		if err := json.Unmarshal(raw, &parsed); err != nil {
			parsed.Detail = string(raw)
		}
	}

	return channels.Result{Success: true, ExternalID: parsed.ExternalID, Detail: parsed.Detail}
}
