package models

import "time"

// DispatchOutcome is the permanent audit row written for one dispatched action.
type DispatchOutcome struct {
	ID         string    `json:"id"`
	ActionID   string    `json:"action_id"`
	TenantID   string    `json:"tenant_id"`
	Channel    Channel   `json:"channel"`
	Recipient  string    `json:"recipient"`
	Success    bool      `json:"success"`
	ExternalID *string   `json:"external_id,omitempty"`
	Detail     *string   `json:"detail,omitempty"`
	Error      *string   `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
