package dispatcher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dukex/dunning/pkg/channels"
	"github.com/dukex/dunning/pkg/models"
	"github.com/dukex/dunning/pkg/retry"
	"github.com/dukex/dunning/pkg/scheduler"
	"github.com/dukex/dunning/pkg/template"
)

// render builds the provider request. Calls carry the agent instead of a message body.
func (d *Dispatcher) render(ctx context.Context, action models.ScheduledAction, recipient string) (channels.Request, error) {
	req := channels.Request{Action: action, Recipient: recipient}

	if action.Channel == models.ChannelCall {
		if action.AgentID == nil {
			return req, fmt.Errorf("call action %s has no agent", action.ID)
		}

		agent, err := d.store.Agent(ctx, action.TenantID, *action.AgentID)
		if err != nil {
			return req, fmt.Errorf("failed to load agent %s: %w", *action.AgentID, err)
		}

		req.Subject = agent.Name
		req.Body = agent.ProviderRef

		return req, nil
	}

	if action.TemplateID == nil {
		return req, fmt.Errorf("%s action %s has no template", action.Channel, action.ID)
	}

	tpl, err := d.store.Template(ctx, action.TenantID, *action.TemplateID)
	if err != nil {
		return req, fmt.Errorf("failed to load template %s: %w", *action.TemplateID, err)
	}

	req.Subject = template.Render(tpl.Subject, action.Variables)
	req.Body = template.Render(tpl.Body, action.Variables)

	return req, nil
}

func (d *Dispatcher) writeOutcome(ctx context.Context, logger *slog.Logger, action models.ScheduledAction, recipient string, res channels.Result) {
	id, err := uuid.NewV7()
	if err != nil {
		logger.ErrorContext(ctx, "Failed to generate outcome id", "error", err)

		return
	}

	outcome := &models.DispatchOutcome{
		ID:         id.String(),
		ActionID:   action.ID,
		TenantID:   action.TenantID,
		Channel:    action.Channel,
		Recipient:  recipient,
		Success:    res.Success,
		ExternalID: optional(res.ExternalID),
		Detail:     optional(res.Detail),
		Error:      optional(res.Error),
		CreatedAt:  d.now().UTC(),
	}

	inserted, err := d.store.RecordOutcome(ctx, outcome)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to record dispatch outcome", "error", err)

		return
	}

	if !inserted {
		logger.DebugContext(ctx, "Dispatch outcome already recorded")
	}
}

func (d *Dispatcher) scheduleRetry(ctx context.Context, logger *slog.Logger, action models.ScheduledAction) {
	if d.retries == nil || d.scheduler == nil {
		return
	}

	policy, err := d.retries.Resolve(ctx, action.TenantID, action.Channel)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to resolve retry policy", "error", err)

		return
	}

	if retry.Exhausted(policy, action.Attempt) {
		logger.InfoContext(ctx, "Retry attempts exhausted", "attempt", action.Attempt, "max_attempts", policy.MaxAttempts)

		return
	}

	next := retry.NextAttemptTime(d.now().UTC(), action.Attempt, policy.BackoffSteps)

	item := models.WorkItem{DebtID: action.DebtID, ContactID: action.ContactID, Variables: action.Variables}

	followUp, inserted, err := d.scheduler.Schedule(ctx, scheduler.Request{
		TenantID:   action.TenantID,
		CampaignID: action.CampaignID,
		Item:       item,
		Channel:    action.Channel,
		TargetTime: next,
		TemplateID: action.TemplateID,
		AgentID:    action.AgentID,
		Attempt:    action.Attempt + 1,
		RetryOf:    &action.ID,
	})
	if err != nil {
		logger.ErrorContext(ctx, "Failed to schedule retry", "error", err)

		return
	}

	if inserted {
		logger.InfoContext(ctx, "Retry scheduled", "retry_id", followUp.ID, "target_time", next, "attempt", followUp.Attempt)
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}
