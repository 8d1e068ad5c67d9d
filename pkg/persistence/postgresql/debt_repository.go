package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/dukex/dunning/pkg/models"
	"github.com/dukex/dunning/pkg/persistence"
)

// DebtRepository reads debtor data and the template/agent catalog.
type DebtRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewDebtRepository creates a new debt repository.
func NewDebtRepository(db *sql.DB, logger *slog.Logger) *DebtRepository {
	return &DebtRepository{db: db, logger: logger}
}

// ActivePopulation returns work items ordered by debt id then contact id.
func (r *DebtRepository) ActivePopulation(ctx context.Context, tenantID string) ([]models.WorkItem, error) {
	query := `
		SELECT
			d.id
		  , c.id
		FROM debts d
		LEFT JOIN contacts c ON c.debtor_id = d.debtor_id AND d.debtor_id <> ''
		WHERE d.tenant_id = $1 AND d.deleted_at IS NULL
		ORDER BY d.id, c.id
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query population: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	population := make([]models.WorkItem, 0)

	for rows.Next() {
		var (
			item      models.WorkItem
			contactID sql.NullString
		)

		if err := rows.Scan(&item.DebtID, &contactID); err != nil {
			return nil, fmt.Errorf("failed to scan work item: %w", err)
		}

		if contactID.Valid {
			item.ContactID = &contactID.String
		}

		population = append(population, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating population: %w", err)
	}

	return population, nil
}

func (r *DebtRepository) DebtRecords(ctx context.Context, tenantID string, debtIDs []string) (map[string]*models.DebtRecord, error) {
	records := make(map[string]*models.DebtRecord, len(debtIDs))
	if len(debtIDs) == 0 {
		return records, nil
	}

	query := `
		SELECT id, tenant_id, debtor_id, debtor_name, reference, amount, currency, due_date, state, deleted_at
		FROM debts
		WHERE tenant_id = $1 AND id = ANY($2)
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, pq.Array(debtIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query debts: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	byDebtor := map[string][]*models.DebtRecord{}

	for rows.Next() {
		var d models.Debt

		err := rows.Scan(&d.ID, &d.TenantID, &d.DebtorID, &d.DebtorName, &d.Reference,
			&d.Amount, &d.Currency, &d.DueDate, &d.State, &d.DeletedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan debt: %w", err)
		}

		record := &models.DebtRecord{Debt: d}
		records[d.ID] = record

		if d.DebtorID != "" {
			byDebtor[d.DebtorID] = append(byDebtor[d.DebtorID], record)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating debts: %w", err)
	}

	if err := r.loadContacts(ctx, byDebtor); err != nil {
		return nil, err
	}

	if err := r.loadHistory(ctx, records); err != nil {
		return nil, err
	}

	return records, nil
}

func (r *DebtRepository) loadContacts(ctx context.Context, byDebtor map[string][]*models.DebtRecord) error {
	if len(byDebtor) == 0 {
		return nil
	}

	debtorIDs := make([]string, 0, len(byDebtor))
	for id := range byDebtor {
		debtorIDs = append(debtorIDs, id)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, debtor_id, type, value, preferred FROM contacts WHERE debtor_id = ANY($1) ORDER BY id`,
		pq.Array(debtorIDs))
	if err != nil {
		return fmt.Errorf("failed to query contacts: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	for rows.Next() {
		var c models.Contact
		if err := rows.Scan(&c.ID, &c.DebtorID, &c.Type, &c.Value, &c.Preferred); err != nil {
			return fmt.Errorf("failed to scan contact: %w", err)
		}

		for _, record := range byDebtor[c.DebtorID] {
			record.Contacts = append(record.Contacts, c)
		}
	}

	return rows.Err()
}

func (r *DebtRepository) loadHistory(ctx context.Context, records map[string]*models.DebtRecord) error {
	if len(records) == 0 {
		return nil
	}

	debtIDs := make([]string, 0, len(records))
	for id := range records {
		debtIDs = append(debtIDs, id)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, debt_id, action_type, occurred_at FROM debt_history WHERE debt_id = ANY($1) ORDER BY occurred_at, id`,
		pq.Array(debtIDs))
	if err != nil {
		return fmt.Errorf("failed to query history: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	for rows.Next() {
		var h models.HistoryRecord
		if err := rows.Scan(&h.ID, &h.DebtID, &h.ActionType, &h.OccurredAt); err != nil {
			return fmt.Errorf("failed to scan history: %w", err)
		}

		records[h.DebtID].History = append(records[h.DebtID].History, h)
	}

	return rows.Err()
}

func (r *DebtRepository) Template(ctx context.Context, tenantID, id string) (*models.Template, error) {
	var tpl models.Template

	err := r.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, channel, subject, body FROM templates WHERE tenant_id = $1 AND id = $2`,
		tenantID, id).Scan(&tpl.ID, &tpl.TenantID, &tpl.Channel, &tpl.Subject, &tpl.Body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NotFound("template", id)
		}

		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	return &tpl, nil
}

func (r *DebtRepository) Agent(ctx context.Context, tenantID, id string) (*models.Agent, error) {
	var agent models.Agent

	err := r.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, name, provider_ref FROM agents WHERE tenant_id = $1 AND id = $2`,
		tenantID, id).Scan(&agent.ID, &agent.TenantID, &agent.Name, &agent.ProviderRef)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NotFound("agent", id)
		}

		return nil, fmt.Errorf("failed to get agent: %w", err)
	}

	return &agent, nil
}

func (r *DebtRepository) SaveDebt(ctx context.Context, d *models.Debt) error {
	query := `
		INSERT INTO debts (id, tenant_id, debtor_id, debtor_name, reference, amount, currency, due_date, state, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id,
			debtor_id = EXCLUDED.debtor_id,
			debtor_name = EXCLUDED.debtor_name,
			reference = EXCLUDED.reference,
			amount = EXCLUDED.amount,
			currency = EXCLUDED.currency,
			due_date = EXCLUDED.due_date,
			state = EXCLUDED.state,
			deleted_at = EXCLUDED.deleted_at
	`

	_, err := r.db.ExecContext(ctx, query, d.ID, d.TenantID, d.DebtorID, d.DebtorName, d.Reference,
		d.Amount, d.Currency, d.DueDate, d.State, d.DeletedAt)
	if err != nil {
		return fmt.Errorf("failed to save debt: %w", err)
	}

	return nil
}

func (r *DebtRepository) SaveContact(ctx context.Context, c *models.Contact) error {
	query := `
		INSERT INTO contacts (id, debtor_id, type, value, preferred)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			debtor_id = EXCLUDED.debtor_id,
			type = EXCLUDED.type,
			value = EXCLUDED.value,
			preferred = EXCLUDED.preferred
	`

	_, err := r.db.ExecContext(ctx, query, c.ID, c.DebtorID, c.Type, c.Value, c.Preferred)
	if err != nil {
		return fmt.Errorf("failed to save contact: %w", err)
	}

	return nil
}

func (r *DebtRepository) SaveHistory(ctx context.Context, h *models.HistoryRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO debt_history (id, debt_id, action_type, occurred_at) VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING`,
		h.ID, h.DebtID, h.ActionType, h.OccurredAt)
	if err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}

	return nil
}

func (r *DebtRepository) SaveTemplate(ctx context.Context, tpl *models.Template) error {
	query := `
		INSERT INTO templates (tenant_id, id, channel, subject, body)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			channel = EXCLUDED.channel,
			subject = EXCLUDED.subject,
			body = EXCLUDED.body
	`

	_, err := r.db.ExecContext(ctx, query, tpl.TenantID, tpl.ID, tpl.Channel, tpl.Subject, tpl.Body)
	if err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}

	return nil
}

func (r *DebtRepository) SaveAgent(ctx context.Context, agent *models.Agent) error {
	query := `
		INSERT INTO agents (tenant_id, id, name, provider_ref)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			name = EXCLUDED.name,
			provider_ref = EXCLUDED.provider_ref
	`

	_, err := r.db.ExecContext(ctx, query, agent.TenantID, agent.ID, agent.Name, agent.ProviderRef)
	if err != nil {
		return fmt.Errorf("failed to save agent: %w", err)
	}

	return nil
}
