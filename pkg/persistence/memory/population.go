package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/hashicorp/go-memdb"

	"github.com/dukex/dunning/pkg/models"
	"github.com/dukex/dunning/pkg/persistence"
)

type debtRow struct {
	ID       string
	TenantID string
	Debt     models.Debt
}

type contactRow struct {
	ID       string
	DebtorID string
	Contact  models.Contact
}

type historyRow struct {
	ID     string
	DebtID string
	Record models.HistoryRecord
}

type templateRow struct {
	Key      string
	Template models.Template
}

type agentRow struct {
	Key   string
	Agent models.Agent
}

func (p *Persistence) SaveDebt(_ context.Context, debt *models.Debt) error {
	return p.insert(tableDebts, &debtRow{ID: debt.ID, TenantID: debt.TenantID, Debt: *debt})
}

func (p *Persistence) SaveContact(_ context.Context, contact *models.Contact) error {
	return p.insert(tableContacts, &contactRow{ID: contact.ID, DebtorID: contact.DebtorID, Contact: *contact})
}

func (p *Persistence) SaveHistory(_ context.Context, record *models.HistoryRecord) error {
	return p.insert(tableHistory, &historyRow{ID: record.ID, DebtID: record.DebtID, Record: *record})
}

func (p *Persistence) SaveTemplate(_ context.Context, tpl *models.Template) error {
	return p.insert(tableTemplates, &templateRow{Key: key(tpl.TenantID, tpl.ID), Template: *tpl})
}

func (p *Persistence) SaveAgent(_ context.Context, agent *models.Agent) error {
	return p.insert(tableAgents, &agentRow{Key: key(agent.TenantID, agent.ID), Agent: *agent})
}

// ActivePopulation returns work items ordered by debt id then contact id.
func (p *Persistence) ActivePopulation(_ context.Context, tenantID string) ([]models.WorkItem, error) {
	txn := p.db.Txn(false)

	it, err := txn.Get(tableDebts, "tenant", tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list debts: %w", err)
	}

	var population []models.WorkItem

	for obj := it.Next(); obj != nil; obj = it.Next() {
		debt := obj.(*debtRow).Debt
		if !debt.Active() {
			continue
		}

		contacts, err := contactsOf(txn, debt.DebtorID)
		if err != nil {
			return nil, err
		}

		if len(contacts) == 0 {
			population = append(population, models.WorkItem{DebtID: debt.ID})

			continue
		}

		for _, c := range contacts {
			contactID := c.ID
			population = append(population, models.WorkItem{DebtID: debt.ID, ContactID: &contactID})
		}
	}

	return population, nil
}

func (p *Persistence) DebtRecords(_ context.Context, tenantID string, debtIDs []string) (map[string]*models.DebtRecord, error) {
	txn := p.db.Txn(false)
	records := make(map[string]*models.DebtRecord, len(debtIDs))

	for _, id := range debtIDs {
		record, err := debtRecord(txn, id)
		if err != nil {
			return nil, err
		}

		if record == nil || record.Debt.TenantID != tenantID {
			continue
		}

		records[id] = record
	}

	return records, nil
}

func (p *Persistence) Template(_ context.Context, tenantID, id string) (*models.Template, error) {
	obj, err := p.db.Txn(false).First(tableTemplates, indexID, key(tenantID, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	if obj == nil {
		return nil, persistence.NotFound("template", id)
	}

	tpl := obj.(*templateRow).Template

	return &tpl, nil
}

func (p *Persistence) Agent(_ context.Context, tenantID, id string) (*models.Agent, error) {
	obj, err := p.db.Txn(false).First(tableAgents, indexID, key(tenantID, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}

	if obj == nil {
		return nil, persistence.NotFound("agent", id)
	}

	agent := obj.(*agentRow).Agent

	return &agent, nil
}

// debtRecord returns nil when the debt does not exist.
func debtRecord(txn *memdb.Txn, debtID string) (*models.DebtRecord, error) {
	obj, err := txn.First(tableDebts, indexID, debtID)
	if err != nil {
		return nil, fmt.Errorf("failed to get debt: %w", err)
	}

	if obj == nil {
		return nil, nil
	}

	record := &models.DebtRecord{Debt: obj.(*debtRow).Debt}

	record.Contacts, err = contactsOf(txn, record.Debt.DebtorID)
	if err != nil {
		return nil, err
	}

	it, err := txn.Get(tableHistory, "debt", debtID)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}

	for obj := it.Next(); obj != nil; obj = it.Next() {
		record.History = append(record.History, obj.(*historyRow).Record)
	}

	return record, nil
}

func contactsOf(txn *memdb.Txn, debtorID string) ([]models.Contact, error) {
	if debtorID == "" {
		return nil, nil
	}

	it, err := txn.Get(tableContacts, "debtor", debtorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}

	var contacts []models.Contact
	for obj := it.Next(); obj != nil; obj = it.Next() {
		contacts = append(contacts, obj.(*contactRow).Contact)
	}

	slices.SortFunc(contacts, func(a, b models.Contact) int {
		return strings.Compare(a.ID, b.ID)
	})

	return contacts, nil
}
