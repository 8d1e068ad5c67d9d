package memory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/dukex/dunning/pkg/models"
	"github.com/dukex/dunning/pkg/persistence"
)

type runRow struct {
	ID         string
	SubjectKey string
	Run        models.WorkflowRun
}

func newRunRow(run models.WorkflowRun) *runRow {
	run.Context = maps.Clone(run.Context)
	run.FinalResult = maps.Clone(run.FinalResult)

	return &runRow{ID: run.ID, SubjectKey: key(run.CampaignID, run.SubjectID), Run: run}
}

type logRow struct {
	ID      string
	RunID   string
	StepKey string
	Seq     uint64
	Log     models.ExecutionLog
}

func (p *Persistence) CreateRun(_ context.Context, run *models.WorkflowRun) error {
	return p.insert(tableRuns, newRunRow(*run))
}

func (p *Persistence) EnsureRun(_ context.Context, run *models.WorkflowRun) (*models.WorkflowRun, error) {
	txn := p.db.Txn(true)
	defer txn.Abort()

	row := newRunRow(*run)

	existing, err := txn.First(tableRuns, "subject", row.SubjectKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	if existing != nil {
		found := existing.(*runRow).Run

		return &found, nil
	}

	if err := txn.Insert(tableRuns, row); err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}

	txn.Commit()

	created := row.Run

	return &created, nil
}

func (p *Persistence) UpdateRun(_ context.Context, run *models.WorkflowRun) error {
	txn := p.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(tableRuns, indexID, run.ID)
	if err != nil {
		return fmt.Errorf("failed to get run: %w", err)
	}

	if existing == nil {
		return persistence.NotFound("run", run.ID)
	}

	if err := txn.Insert(tableRuns, newRunRow(*run)); err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	txn.Commit()

	return nil
}

func (p *Persistence) Run(_ context.Context, id string) (*models.WorkflowRun, error) {
	obj, err := p.db.Txn(false).First(tableRuns, indexID, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	if obj == nil {
		return nil, persistence.NotFound("run", id)
	}

	run := obj.(*runRow).Run

	return &run, nil
}

// AppendLog takes the next step number inside the write transaction, so concurrent
// appends for one (run, node) never collide.
func (p *Persistence) AppendLog(_ context.Context, entry *models.ExecutionLog) error {
	txn := p.db.Txn(true)
	defer txn.Abort()

	stepKey := key(entry.WorkflowRunID, entry.NodeID)

	it, err := txn.Get(tableLogs, "step", stepKey)
	if err != nil {
		return fmt.Errorf("failed to list logs: %w", err)
	}

	last := 0
	for obj := it.Next(); obj != nil; obj = it.Next() {
		last = max(last, obj.(*logRow).Log.StepNumber)
	}

	entry.StepNumber = last + 1

	row := &logRow{ID: entry.ID, RunID: entry.WorkflowRunID, StepKey: stepKey, Seq: p.logSeq.Add(1), Log: *entry}
	if err := txn.Insert(tableLogs, row); err != nil {
		return fmt.Errorf("failed to insert log %s step %d: %w", entry.ID, entry.StepNumber, err)
	}

	txn.Commit()

	return nil
}

func (p *Persistence) RunLogs(_ context.Context, runID string) ([]models.ExecutionLog, error) {
	it, err := p.db.Txn(false).Get(tableLogs, "run", runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list logs: %w", err)
	}

	var rows []*logRow
	for obj := it.Next(); obj != nil; obj = it.Next() {
		rows = append(rows, obj.(*logRow))
	}

	slices.SortFunc(rows, func(a, b *logRow) int {
		return cmp.Compare(a.Seq, b.Seq)
	})

	logs := make([]models.ExecutionLog, len(rows))
	for i, row := range rows {
		logs[i] = row.Log
	}

	return logs, nil
}
