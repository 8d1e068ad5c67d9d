package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// RetryPolicy bounds follow-up attempts for one channel of one tenant.
type RetryPolicy struct {
	Channel      Channel         `json:"channel"       validate:"required"`
	TenantID     string          `json:"tenant_id"`
	MaxAttempts  int             `json:"max_attempts"  validate:"min=1"`
	BackoffSteps []time.Duration `json:"backoff_steps" validate:"min=1"`
}

// Exhausted reports whether an action at the given zero-based attempt may not be retried.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt+1 >= p.MaxAttempts
}

// BackoffJSON encodes the backoff steps as duration strings, e.g. ["1m0s","5m0s"].
func (p RetryPolicy) BackoffJSON() ([]byte, error) {
	steps := make([]string, len(p.BackoffSteps))
	for i, s := range p.BackoffSteps {
		steps[i] = s.String()
	}

	return json.Marshal(steps)
}

// ParseBackoff decodes steps written by BackoffJSON.
func ParseBackoff(data []byte) ([]time.Duration, error) {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode backoff steps: %w", err)
	}

	steps := make([]time.Duration, len(raw))

	for i, r := range raw {
		d, err := time.ParseDuration(r)
		if err != nil {
			return nil, fmt.Errorf("invalid backoff step %q: %w", r, err)
		}

		steps[i] = d
	}

	return steps, nil
}
