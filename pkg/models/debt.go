// Package models defines the core domain models for debt-collection campaigns.
package models

import "time"

// ContactType is the kind of address a contact holds.
type ContactType string

const (
	ContactTypeEmail    ContactType = "email"
	ContactTypePhone    ContactType = "phone"
	ContactTypeWhatsApp ContactType = "whatsapp"
)

// DebtStateOverdue is the computed state of any debt whose due date has passed.
const DebtStateOverdue = "overdue"

// Debt is an outstanding amount owed by a debtor. Owned by the external data store.
type Debt struct {
	ID         string     `json:"id"          yaml:"id"          validate:"required"`
	TenantID   string     `json:"tenant_id"   yaml:"tenant_id"   validate:"required"`
	DebtorID   string     `json:"debtor_id"   yaml:"debtor_id"`
	DebtorName string     `json:"debtor_name" yaml:"debtor_name"`
	Reference  string     `json:"reference"   yaml:"reference"`
	Amount     float64    `json:"amount"      yaml:"amount"`
	Currency   string     `json:"currency"    yaml:"currency"`
	DueDate    time.Time  `json:"due_date"    yaml:"due_date"`
	State      string     `json:"state"       yaml:"state"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty" yaml:"deleted_at,omitempty"`
}

// Active reports whether the debt has not been soft-deleted.
func (d *Debt) Active() bool {
	return d.DeletedAt == nil
}

// DaysOverdue returns the whole days elapsed since the due date, never negative.
func (d *Debt) DaysOverdue(today time.Time) int {
	due := truncateDay(d.DueDate)
	now := truncateDay(today)

	days := int(now.Sub(due).Hours() / 24)
	if days < 0 {
		return 0
	}

	return days
}

// States returns the stored state plus the computed overdue state when it applies.
func (d *Debt) States(today time.Time) []string {
	states := []string{d.State}
	if d.DaysOverdue(today) > 0 && d.State != DebtStateOverdue {
		states = append(states, DebtStateOverdue)
	}

	return states
}

// Contact is a way to reach a debtor.
type Contact struct {
	ID        string      `json:"id"        yaml:"id"        validate:"required"`
	DebtorID  string      `json:"debtor_id" yaml:"debtor_id"`
	Type      ContactType `json:"type"      yaml:"type"      validate:"required"`
	Value     string      `json:"value"     yaml:"value"`
	Preferred bool        `json:"preferred" yaml:"preferred"`
}

// HistoryRecord is a past outreach attempt for a debt.
type HistoryRecord struct {
	ID         string    `json:"id"          yaml:"id"`
	DebtID     string    `json:"debt_id"     yaml:"debt_id"`
	ActionType string    `json:"action_type" yaml:"action_type"`
	OccurredAt time.Time `json:"occurred_at" yaml:"occurred_at"`
}

// DebtRecord is the read-only view of a debt used while evaluating a population.
type DebtRecord struct {
	Debt     Debt            `json:"debt"`
	Contacts []Contact       `json:"contacts,omitempty"`
	History  []HistoryRecord `json:"history,omitempty"`
}

// Contact returns the contact with the given id.
func (r *DebtRecord) Contact(id string) (Contact, bool) {
	for _, c := range r.Contacts {
		if c.ID == id {
			return c, true
		}
	}

	return Contact{}, false
}

// ContactFor returns the contact a channel of the given contact type reaches: the
// preferred one if any, else the first.
func (r *DebtRecord) ContactFor(contactType ContactType) (Contact, bool) {
	var (
		fallback Contact
		found    bool
	)

	for _, c := range r.Contacts {
		if c.Type != contactType {
			continue
		}

		if c.Preferred {
			return c, true
		}

		if !found {
			fallback, found = c, true
		}
	}

	return fallback, found
}

// HasHistory reports whether any prior action of one of the given types exists.
func (r *DebtRecord) HasHistory(actionTypes ...string) bool {
	for _, h := range r.History {
		for _, t := range actionTypes {
			if h.ActionType == t {
				return true
			}
		}
	}

	return false
}

// WorkItem is one (debt, contact) pair flowing through a campaign graph.
type WorkItem struct {
	DebtID    string            `json:"debt_id"              yaml:"debt_id"    validate:"required"`
	ContactID *string           `json:"contact_id,omitempty" yaml:"contact_id,omitempty"`
	Variables map[string]string `json:"variables,omitempty"  yaml:"variables,omitempty"`
}

// HasVariables reports whether template variables were already resolved for the item.
func (w WorkItem) HasVariables() bool {
	return w.Variables != nil
}

// DebtIDs returns the distinct debt ids of a population in order of first appearance.
func DebtIDs(population []WorkItem) []string {
	seen := make(map[string]struct{}, len(population))
	ids := make([]string, 0, len(population))

	for _, item := range population {
		if _, ok := seen[item.DebtID]; ok {
			continue
		}

		seen[item.DebtID] = struct{}{}
		ids = append(ids, item.DebtID)
	}

	return ids
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()

	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
