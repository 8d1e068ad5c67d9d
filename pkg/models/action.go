package models

import (
	"fmt"
	"time"
)

// Channel is a delivery channel for outreach.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelCall     Channel = "call"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
)

// Channels lists every known channel.
var Channels = []Channel{ChannelEmail, ChannelCall, ChannelSMS, ChannelWhatsApp}

// ContactType returns the contact type a channel delivers to.
func (c Channel) ContactType() ContactType {
	switch c {
	case ChannelEmail:
		return ContactTypeEmail
	case ChannelWhatsApp:
		return ContactTypeWhatsApp
	default:
		return ContactTypePhone
	}
}

// ActionState is the lifecycle state of a ScheduledAction.
type ActionState string

const (
	ActionStatePending   ActionState = "pending"
	ActionStateRunning   ActionState = "running"
	ActionStateDone      ActionState = "done"
	ActionStateCancelled ActionState = "cancelled"
)

// Terminal reports whether no further transition can leave the state.
func (s ActionState) Terminal() bool {
	return s == ActionStateDone || s == ActionStateCancelled
}

// ScheduledAction is a persisted instruction to send one message or place one call.
type ScheduledAction struct {
	ID         string            `json:"id"                    validate:"required"`
	TenantID   string            `json:"tenant_id"             validate:"required"`
	DebtID     string            `json:"debt_id"               validate:"required"`
	ContactID  *string           `json:"contact_id,omitempty"`
	CampaignID *string           `json:"campaign_id,omitempty"`
	Channel    Channel           `json:"channel"               validate:"required,oneof=email call sms whatsapp"`
	TargetTime time.Time         `json:"target_time"           validate:"required"`
	TemplateID *string           `json:"template_id,omitempty" validate:"required_unless=Channel call"`
	AgentID    *string           `json:"agent_id,omitempty"    validate:"required_if=Channel call"`
	Variables  map[string]string `json:"variables"`
	State      ActionState       `json:"state"                 validate:"required,oneof=pending running done cancelled"`
	Attempt    int               `json:"attempt"               validate:"min=0"`
	RetryOf    *string           `json:"retry_of,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// DedupKey identifies actions that must not be scheduled twice.
type DedupKey struct {
	DebtID     string
	Channel    Channel
	CampaignID string
	TargetDay  string
	Attempt    int
}

// String renders the key in a stable form suitable as an index value.
func (k DedupKey) String() string {
	return fmt.Sprintf("%s|%s|%s|%s|%d", k.DebtID, k.Channel, k.CampaignID, k.TargetDay, k.Attempt)
}

// DedupKey returns the uniqueness key of the action. The target day is taken in UTC.
func (a *ScheduledAction) DedupKey() DedupKey {
	campaign := ""
	if a.CampaignID != nil {
		campaign = *a.CampaignID
	}

	return DedupKey{
		DebtID:     a.DebtID,
		Channel:    a.Channel,
		CampaignID: campaign,
		TargetDay:  a.TargetTime.UTC().Format(time.DateOnly),
		Attempt:    a.Attempt,
	}
}

// Reference returns the template or agent the action is bound to.
func (a *ScheduledAction) Reference() string {
	if a.Channel == ChannelCall && a.AgentID != nil {
		return *a.AgentID
	}

	if a.TemplateID != nil {
		return *a.TemplateID
	}

	return ""
}

// DueAction is a matured pending action annotated for dispatch.
type DueAction struct {
	Action      ScheduledAction
	DebtDeleted bool
	Recipient   string
}
