// Package memory provides an in-process persistence implementation backed by go-memdb.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/hashicorp/go-memdb"

	"github.com/dukex/dunning/pkg/persistence"
)

const (
	tableDebts     = "debts"
	tableContacts  = "contacts"
	tableHistory   = "history"
	tableTemplates = "templates"
	tableAgents    = "agents"
	tablePolicies  = "retry_policies"
	tableActions   = "actions"
	tableOutcomes  = "outcomes"
	tableRuns      = "runs"
	tableLogs      = "logs"

	indexID = "id"
)

func idIndex(field string) *memdb.IndexSchema {
	return &memdb.IndexSchema{Name: indexID, Unique: true, Indexer: &memdb.StringFieldIndex{Field: field}}
}

func lookupIndex(name, field string) *memdb.IndexSchema {
	return &memdb.IndexSchema{Name: name, AllowMissing: true, Indexer: &memdb.StringFieldIndex{Field: field}}
}

func schema() *memdb.DBSchema {
	table := func(name string, indexes ...*memdb.IndexSchema) *memdb.TableSchema {
		t := &memdb.TableSchema{Name: name, Indexes: map[string]*memdb.IndexSchema{}}
		for _, idx := range indexes {
			t.Indexes[idx.Name] = idx
		}

		return t
	}

	return &memdb.DBSchema{Tables: map[string]*memdb.TableSchema{
		tableDebts:     table(tableDebts, idIndex("ID"), lookupIndex("tenant", "TenantID")),
		tableContacts:  table(tableContacts, idIndex("ID"), lookupIndex("debtor", "DebtorID")),
		tableHistory:   table(tableHistory, idIndex("ID"), lookupIndex("debt", "DebtID")),
		tableTemplates: table(tableTemplates, idIndex("Key")),
		tableAgents:    table(tableAgents, idIndex("Key")),
		tablePolicies:  table(tablePolicies, idIndex("Key")),
		tableActions: table(tableActions, idIndex("ID"),
			lookupIndex("dedup", "DedupKey"),
			lookupIndex("state", "State"),
			lookupIndex("tenant", "TenantID")),
		tableOutcomes: table(tableOutcomes, idIndex("ActionID")),
		tableRuns:     table(tableRuns, idIndex("ID"), lookupIndex("subject", "SubjectKey")),
		tableLogs:     table(tableLogs, idIndex("ID"), lookupIndex("run", "RunID"), lookupIndex("step", "StepKey")),
	}}
}

var _ persistence.Persistence = (*Persistence)(nil)

// Persistence implements persistence.Persistence in memory.
type Persistence struct {
	db     *memdb.MemDB
	logger *slog.Logger
	logSeq atomic.Uint64
}

// NewPersistence creates an empty in-memory store.
func NewPersistence(logger *slog.Logger) (*Persistence, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("failed to create memory database: %w", err)
	}

	return &Persistence{
		db:     db,
		logger: logger.With("module", "memory_persistence"),
	}, nil
}

// HealthCheck always succeeds for the memory store.
func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func key(parts ...string) string {
	return strings.Join(parts, "|")
}

func (p *Persistence) insert(table string, row any) error {
	txn := p.db.Txn(true)
	defer txn.Abort()

	if err := txn.Insert(table, row); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", table, err)
	}

	txn.Commit()

	return nil
}
