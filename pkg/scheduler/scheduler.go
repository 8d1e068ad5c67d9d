// Package scheduler turns campaign decisions into deduplicated ScheduledAction rows.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/dukex/dunning/pkg/models"
	"github.com/dukex/dunning/pkg/persistence"
)

// ErrInvalidAction is returned when a request does not produce a valid action.
var ErrInvalidAction = errors.New("invalid scheduled action")

// Request describes one action to schedule.
type Request struct {
	TenantID   string
	CampaignID *string
	Item       models.WorkItem
	Channel    models.Channel
	TargetTime time.Time
	TemplateID *string
	AgentID    *string
	Attempt    int
	RetryOf    *string
}

// Scheduler validates and inserts scheduled actions.
type Scheduler struct {
	actions  persistence.ActionRepository
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the clock used for created/updated timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// New creates a scheduler writing to actions.
func New(actions persistence.ActionRepository, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		actions:  actions,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With("module", "scheduler"),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Schedule inserts the action described by req. It reports false with a nil error when an
// action with the same dedup key already exists.
func (s *Scheduler) Schedule(ctx context.Context, req Request) (*models.ScheduledAction, bool, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, false, fmt.Errorf("failed to generate action id: %w", err)
	}

	now := s.now().UTC()

	action := &models.ScheduledAction{
		ID:         id.String(),
		TenantID:   req.TenantID,
		DebtID:     req.Item.DebtID,
		ContactID:  req.Item.ContactID,
		CampaignID: req.CampaignID,
		Channel:    req.Channel,
		TargetTime: req.TargetTime.UTC(),
		TemplateID: req.TemplateID,
		AgentID:    req.AgentID,
		Variables:  maps.Clone(req.Item.Variables),
		State:      models.ActionStatePending,
		Attempt:    req.Attempt,
		RetryOf:    req.RetryOf,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if action.Variables == nil {
		action.Variables = map[string]string{}
	}

	if err := s.validate.Struct(action); err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrInvalidAction, err)
	}

	inserted, err := s.actions.InsertAction(ctx, action)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert action for debt %s: %w", action.DebtID, err)
	}

	logger := s.logger.With(
		"debt_id", action.DebtID,
		"channel", action.Channel,
		"target_time", action.TargetTime,
		"attempt", action.Attempt,
	)

	if !inserted {
		logger.DebugContext(ctx, "Action already scheduled", "dedup_key", action.DedupKey().String())

		return action, false, nil
	}

	logger.DebugContext(ctx, "Action scheduled", "action_id", action.ID)

	return action, true, nil
}
