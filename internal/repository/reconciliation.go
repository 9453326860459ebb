package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"kvk-tracker/internal/db"
	"kvk-tracker/internal/domain"
)

// ErrRunNotFound is returned when a reconciliation run id is unknown.
var ErrRunNotFound = errors.New("reconciliation run not found")

type ReconciliationRepository struct {
	queries *db.Queries
	db      *sql.DB
	logger  zerolog.Logger
}

func NewReconciliationRepository(sqlDB *sql.DB, queries *db.Queries, logger zerolog.Logger) *ReconciliationRepository {
	return &ReconciliationRepository{
		queries: queries,
		db:      sqlDB,
		logger:  logger,
	}
}

func (r *ReconciliationRepository) CreateRun(ctx context.Context, run domain.ReconcileRun) error {
	err := r.queries.CreateReconciliationRun(ctx, db.CreateReconciliationRunParams{
		ID:             run.ID,
		FormulaVersion: run.FormulaVersion,
		DryRun:         run.DryRun,
		Status:         run.Status,
		StartedAt:      run.StartedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to create reconciliation run: %w", err)
	}
	return nil
}

func (r *ReconciliationRepository) GetRun(ctx context.Context, id string) (domain.ReconcileRun, error) {
	row, err := r.queries.GetReconciliationRun(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ReconcileRun{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return domain.ReconcileRun{}, fmt.Errorf("failed to get reconciliation run: %w", err)
	}

	return domain.ReconcileRun{
		ID:             row.ID,
		FormulaVersion: row.FormulaVersion,
		DryRun:         row.DryRun,
		Status:         row.Status,
		Processed:      int(row.Processed),
		Changed:        int(row.Changed),
		Failed:         int(row.Failed),
		StartedAt:      row.StartedAt,
		FinishedAt:     timePtr(row.FinishedAt),
	}, nil
}

func (r *ReconciliationRepository) MarkRunning(ctx context.Context, id string) error {
	if err := r.queries.UpdateReconciliationRunStatus(ctx, "running", id); err != nil {
		return fmt.Errorf("failed to resume reconciliation run: %w", err)
	}
	return nil
}

func (r *ReconciliationRepository) FinishRun(ctx context.Context, run domain.ReconcileRun) error {
	err := r.queries.FinishReconciliationRun(ctx, db.FinishReconciliationRunParams{
		Status:     run.Status,
		Processed:  int64(run.Processed),
		Changed:    int64(run.Changed),
		Failed:     int64(run.Failed),
		FinishedAt: nullTime(run.FinishedAt),
		ID:         run.ID,
	})
	if err != nil {
		return fmt.Errorf("failed to finish reconciliation run: %w", err)
	}
	return nil
}

// EntityState is what reconciling one entity reads, taken inside the
// transaction that records the outcome.
type EntityState struct {
	Stored     *domain.EntitySummary
	Records    []domain.MatchRecord
	Asymmetric []domain.MatchRecord
}

// Reconcile loads the state of entityID, hands it to assess and commits
// the returned entry together with the summary when that is non-nil. The
// read and the write share one write transaction, so a ledger append
// cannot land between them and be overwritten by a stale summary.
func (r *ReconciliationRepository) Reconcile(
	ctx context.Context,
	entityID string,
	assess func(state EntityState) (domain.ReconcileEntry, *domain.EntitySummary),
) (domain.ReconcileEntry, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.ReconcileEntry{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	qtx := r.queries.WithTx(tx)

	var state EntityState
	row, err := qtx.GetEntitySummary(ctx, entityID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return domain.ReconcileEntry{}, fmt.Errorf("failed to get summary for %s: %w", entityID, err)
	default:
		stored := toDomainSummary(row)
		state.Stored = &stored
	}

	if state.Records, err = effectiveMatches(ctx, qtx, entityID); err != nil {
		return domain.ReconcileEntry{}, err
	}
	if state.Asymmetric, err = asymmetric(ctx, qtx, state.Records); err != nil {
		return domain.ReconcileEntry{}, err
	}

	entry, summary := assess(state)
	if err := commit(ctx, qtx, entry, summary); err != nil {
		return entry, err
	}
	if err := tx.Commit(); err != nil {
		return entry, fmt.Errorf("failed to commit reconciliation of %s: %w", entityID, err)
	}
	return entry, nil
}

// Commit records one entity's result. When summary is non-nil it is
// written in the same transaction, so a resumed run never sees an entry
// without its summary.
func (r *ReconciliationRepository) Commit(ctx context.Context, entry domain.ReconcileEntry, summary *domain.EntitySummary) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := commit(ctx, r.queries.WithTx(tx), entry, summary); err != nil {
		return err
	}
	return tx.Commit()
}

func commit(ctx context.Context, qtx *db.Queries, entry domain.ReconcileEntry, summary *domain.EntitySummary) error {
	if summary != nil {
		if err := qtx.UpsertEntitySummary(ctx, toSummaryParams(*summary)); err != nil {
			return fmt.Errorf("failed to upsert summary for %s: %w", summary.EntityID, err)
		}
	}

	err := qtx.UpsertReconciliationEntry(ctx, db.UpsertReconciliationEntryParams{
		RunID:    entry.RunID,
		EntityID: entry.EntityID,
		Status:   string(entry.Status),
		OldScore: nullFloat(entry.OldScore),
		NewScore: nullFloat(entry.NewScore),
		OldTier:  string(entry.OldTier),
		NewTier:  string(entry.NewTier),
		Error:    entry.Error,
	})
	if err != nil {
		return fmt.Errorf("failed to record reconciliation entry for %s: %w", entry.EntityID, err)
	}
	return nil
}

func (r *ReconciliationRepository) Entries(ctx context.Context, runID string) ([]domain.ReconcileEntry, error) {
	rows, err := r.queries.ListReconciliationEntries(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reconciliation entries: %w", err)
	}

	entries := make([]domain.ReconcileEntry, len(rows))
	for i, row := range rows {
		entries[i] = domain.ReconcileEntry{
			RunID:    row.RunID,
			EntityID: row.EntityID,
			Status:   domain.ReconcileStatus(row.Status),
			OldScore: floatPtr(row.OldScore),
			NewScore: floatPtr(row.NewScore),
			OldTier:  domain.Tier(row.OldTier),
			NewTier:  domain.Tier(row.NewTier),
			Error:    row.Error,
		}
	}
	return entries, nil
}

// Settled returns entities a resumed run can skip. Failed entities are
// retried.
func (r *ReconciliationRepository) Settled(ctx context.Context, runID string) (map[string]struct{}, error) {
	ids, err := r.queries.ListSettledEntityIDs(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list settled entities: %w", err)
	}

	settled := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		settled[id] = struct{}{}
	}
	return settled, nil
}
