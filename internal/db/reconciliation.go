package db

import (
	"context"
	"database/sql"
	"time"
)

const createReconciliationRun = `
INSERT INTO reconciliation_runs (id, formula_version, dry_run, status, started_at)
VALUES (?, ?, ?, ?, ?)
`

type CreateReconciliationRunParams struct {
	ID             string
	FormulaVersion string
	DryRun         bool
	Status         string
	StartedAt      time.Time
}

func (q *Queries) CreateReconciliationRun(ctx context.Context, arg CreateReconciliationRunParams) error {
	_, err := q.db.ExecContext(ctx, createReconciliationRun,
		arg.ID,
		arg.FormulaVersion,
		arg.DryRun,
		arg.Status,
		arg.StartedAt,
	)
	return err
}

const getReconciliationRun = `
SELECT id, formula_version, dry_run, status, processed, changed, failed, started_at, finished_at
FROM reconciliation_runs
WHERE id = ?
`

func (q *Queries) GetReconciliationRun(ctx context.Context, id string) (ReconciliationRun, error) {
	row := q.db.QueryRowContext(ctx, getReconciliationRun, id)
	var i ReconciliationRun
	err := row.Scan(
		&i.ID,
		&i.FormulaVersion,
		&i.DryRun,
		&i.Status,
		&i.Processed,
		&i.Changed,
		&i.Failed,
		&i.StartedAt,
		&i.FinishedAt,
	)
	return i, err
}

const finishReconciliationRun = `
UPDATE reconciliation_runs
SET status = ?, processed = ?, changed = ?, failed = ?, finished_at = ?
WHERE id = ?
`

type FinishReconciliationRunParams struct {
	Status     string
	Processed  int64
	Changed    int64
	Failed     int64
	FinishedAt sql.NullTime
	ID         string
}

func (q *Queries) FinishReconciliationRun(ctx context.Context, arg FinishReconciliationRunParams) error {
	_, err := q.db.ExecContext(ctx, finishReconciliationRun,
		arg.Status,
		arg.Processed,
		arg.Changed,
		arg.Failed,
		arg.FinishedAt,
		arg.ID,
	)
	return err
}

const updateReconciliationRunStatus = `
UPDATE reconciliation_runs SET status = ?, finished_at = NULL WHERE id = ?
`

func (q *Queries) UpdateReconciliationRunStatus(ctx context.Context, status, id string) error {
	_, err := q.db.ExecContext(ctx, updateReconciliationRunStatus, status, id)
	return err
}

const upsertReconciliationEntry = `
INSERT INTO reconciliation_entries (run_id, entity_id, status, old_score, new_score, old_tier, new_tier, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (run_id, entity_id) DO UPDATE SET
    status = excluded.status,
    old_score = excluded.old_score,
    new_score = excluded.new_score,
    old_tier = excluded.old_tier,
    new_tier = excluded.new_tier,
    error = excluded.error
`

type UpsertReconciliationEntryParams = ReconciliationEntry

func (q *Queries) UpsertReconciliationEntry(ctx context.Context, arg UpsertReconciliationEntryParams) error {
	_, err := q.db.ExecContext(ctx, upsertReconciliationEntry,
		arg.RunID,
		arg.EntityID,
		arg.Status,
		arg.OldScore,
		arg.NewScore,
		arg.OldTier,
		arg.NewTier,
		arg.Error,
	)
	return err
}

const listReconciliationEntries = `
SELECT run_id, entity_id, status, old_score, new_score, old_tier, new_tier, error
FROM reconciliation_entries
WHERE run_id = ?
ORDER BY entity_id
`

func (q *Queries) ListReconciliationEntries(ctx context.Context, runID string) ([]ReconciliationEntry, error) {
	rows, err := q.db.QueryContext(ctx, listReconciliationEntries, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ReconciliationEntry
	for rows.Next() {
		var i ReconciliationEntry
		if err := rows.Scan(
			&i.RunID,
			&i.EntityID,
			&i.Status,
			&i.OldScore,
			&i.NewScore,
			&i.OldTier,
			&i.NewTier,
			&i.Error,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listSettledEntityIDs = `
SELECT entity_id FROM reconciliation_entries
WHERE run_id = ? AND status <> 'failed'
ORDER BY entity_id
`

// ListSettledEntityIDs returns entities a resumed run can skip.
func (q *Queries) ListSettledEntityIDs(ctx context.Context, runID string) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listSettledEntityIDs, runID)
	if err != nil {
		return nil, err
	}
	return collectStrings(rows)
}
