// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/dunning/pkg/models"
	"github.com/dukex/dunning/pkg/persistence"
)

// TenantID is the tenant every builder uses unless overridden.
const TenantID = "tenant-1"

// BaseTime is a Friday noon in UTC.
var BaseTime = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// CreateTestDebt creates an open debt, due ten days before BaseTime, owned by debtor "p-<id>".
func CreateTestDebt(id string, overrides ...func(*models.Debt)) *models.Debt {
	debt := &models.Debt{
		ID:         id,
		TenantID:   TenantID,
		DebtorID:   "p-" + id,
		DebtorName: "Debtor " + id,
		Reference:  "REF-" + id,
		Amount:     100,
		Currency:   "USD",
		DueDate:    BaseTime.AddDate(0, 0, -10),
		State:      "open",
	}

	for _, override := range overrides {
		override(debt)
	}

	return debt
}

// WithAmount sets the debt amount.
func WithAmount(amount float64) func(*models.Debt) {
	return func(d *models.Debt) {
		d.Amount = amount
	}
}

// WithDaysOverdue moves the due date so the debt is n days overdue at BaseTime.
func WithDaysOverdue(n int) func(*models.Debt) {
	return func(d *models.Debt) {
		d.DueDate = BaseTime.AddDate(0, 0, -n)
	}
}

// WithState sets the stored debt state.
func WithState(state string) func(*models.Debt) {
	return func(d *models.Debt) {
		d.State = state
	}
}

// WithDeleted soft-deletes the debt.
func WithDeleted() func(*models.Debt) {
	return func(d *models.Debt) {
		deleted := BaseTime.Add(-time.Hour)
		d.DeletedAt = &deleted
	}
}

// CreateTestContact creates a contact of the debt's debtor.
func CreateTestContact(id string, debt *models.Debt, contactType models.ContactType, preferred bool) *models.Contact {
	value := id + "@example.com"
	if contactType != models.ContactTypeEmail {
		value = "+55" + id
	}

	return &models.Contact{
		ID:        id,
		DebtorID:  debt.DebtorID,
		Type:      contactType,
		Value:     value,
		Preferred: preferred,
	}
}

// Debtor groups a debt with its contacts and history for seeding.
type Debtor struct {
	Debt     *models.Debt
	Contacts []*models.Contact
	History  []string
}

// Seed writes the debtors through the seeder. History entries are action types.
func Seed(ctx context.Context, s persistence.Seeder, debtors ...Debtor) error {
	for _, d := range debtors {
		if err := s.SaveDebt(ctx, d.Debt); err != nil {
			return err
		}

		for _, c := range d.Contacts {
			if err := s.SaveContact(ctx, c); err != nil {
				return err
			}
		}

		for i, actionType := range d.History {
			record := &models.HistoryRecord{
				ID:         fmt.Sprintf("h-%s-%d", d.Debt.ID, i),
				DebtID:     d.Debt.ID,
				ActionType: actionType,
				OccurredAt: BaseTime.AddDate(0, 0, -1),
			}
			if err := s.SaveHistory(ctx, record); err != nil {
				return err
			}
		}
	}

	return nil
}

// Item returns a work item for the debt, optionally bound to a contact.
func Item(debtID string, contactID ...string) models.WorkItem {
	item := models.WorkItem{DebtID: debtID}
	if len(contactID) > 0 {
		item.ContactID = Ptr(contactID[0])
	}

	return item
}

// CreateTestNode creates a workflow node.
func CreateTestNode(id string, kind models.NodeKind, config map[string]any) models.WorkflowNode {
	return models.WorkflowNode{ID: id, Kind: kind, Name: id, Config: config}
}

// CreateTestEdge creates an edge, labeled when a branch is given.
func CreateTestEdge(source, target string, branch ...models.Branch) models.WorkflowEdge {
	edge := models.WorkflowEdge{ID: source + "->" + target, SourceNodeID: source, TargetNodeID: target}
	if len(branch) > 0 {
		edge.Branch = Ptr(branch[0])
	}

	return edge
}
