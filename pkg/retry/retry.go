// Package retry resolves follow-up policies for failed dispatches.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dukex/dunning/pkg/models"
	"github.com/dukex/dunning/pkg/persistence"
)

var defaults = map[models.Channel]models.RetryPolicy{
	models.ChannelEmail:    {Channel: models.ChannelEmail, MaxAttempts: 3, BackoffSteps: []time.Duration{time.Minute, 5 * time.Minute, 30 * time.Minute}},
	models.ChannelSMS:      {Channel: models.ChannelSMS, MaxAttempts: 3, BackoffSteps: []time.Duration{time.Minute, 5 * time.Minute, 30 * time.Minute}},
	models.ChannelWhatsApp: {Channel: models.ChannelWhatsApp, MaxAttempts: 3, BackoffSteps: []time.Duration{time.Minute, 5 * time.Minute, 30 * time.Minute}},
	models.ChannelCall:     {Channel: models.ChannelCall, MaxAttempts: 2, BackoffSteps: []time.Duration{5 * time.Minute, 30 * time.Minute}},
}

// DefaultPolicy returns the built-in policy of a channel. Unknown channels are never retried.
func DefaultPolicy(channel models.Channel) models.RetryPolicy {
	p, ok := defaults[channel]
	if !ok {
		return models.RetryPolicy{Channel: channel, MaxAttempts: 1, BackoffSteps: []time.Duration{time.Minute}}
	}

	p.BackoffSteps = slices.Clone(p.BackoffSteps)

	return p
}

// PolicyStore reads tenant overrides.
type PolicyStore interface {
	RetryPolicy(ctx context.Context, tenantID string, channel models.Channel) (*models.RetryPolicy, error)
}

// Resolver picks the tenant override of a channel or its default.
type Resolver struct {
	store  PolicyStore
	logger *slog.Logger
}

// NewResolver creates a resolver. A nil store always yields defaults.
func NewResolver(store PolicyStore, logger *slog.Logger) *Resolver {
	return &Resolver{store: store, logger: logger.With("module", "retry_resolver")}
}

// Resolve returns the policy for (tenant, channel).
func (r *Resolver) Resolve(ctx context.Context, tenantID string, channel models.Channel) (models.RetryPolicy, error) {
	policy := DefaultPolicy(channel)
	policy.TenantID = tenantID

	if r.store == nil {
		return policy, nil
	}

	override, err := r.store.RetryPolicy(ctx, tenantID, channel)
	if err != nil {
		if persistence.IsNotFound(err) {
			return policy, nil
		}

		return policy, fmt.Errorf("failed to read retry policy for %s/%s: %w", tenantID, channel, err)
	}

	if override.MaxAttempts < 1 || len(override.BackoffSteps) == 0 {
		r.logger.WarnContext(ctx, "Ignoring incomplete retry policy override",
			"tenant_id", tenantID, "channel", channel)

		return policy, nil
	}

	return *override, nil
}

// NextAttemptTime returns when the follow-up of a zero-based attempt index runs. The last
// step repeats once the steps run out.
func NextAttemptTime(now time.Time, attemptIndex int, steps []time.Duration) time.Time {
	if len(steps) == 0 {
		return now
	}

	i := min(max(attemptIndex, 0), len(steps)-1)

	return now.Add(steps[i])
}

// Exhausted reports whether an action at attempt may not be followed up.
func Exhausted(policy models.RetryPolicy, attempt int) bool {
	return policy.Exhausted(attempt)
}
