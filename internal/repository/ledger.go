package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"kvk-tracker/internal/db"
	"kvk-tracker/internal/domain"
)

type LedgerRepository struct {
	queries *db.Queries
	db      *sql.DB
	logger  zerolog.Logger
}

func NewLedgerRepository(sqlDB *sql.DB, queries *db.Queries, logger zerolog.Logger) *LedgerRepository {
	return &LedgerRepository{
		queries: queries,
		db:      sqlDB,
		logger:  logger,
	}
}

// Append stores the rows of one event in a single transaction: both sides
// of a match, or the single row of a bye. Rows get fresh ids and a shared
// pair id. Nothing is visible unless every row commits.
func (r *LedgerRepository) Append(ctx context.Context, records ...domain.MatchRecord) ([]domain.MatchRecord, error) {
	if len(records) == 0 {
		return nil, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stored, err := r.insert(ctx, r.queries.WithTx(tx), records)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit ledger append: %w", err)
	}

	r.logger.Debug().
		Str("pair_id", stored[0].PairID).
		Int("event_number", stored[0].EventNumber).
		Int("rows", len(stored)).
		Msg("ledger rows appended")

	return stored, nil
}

// Supersede appends revision+1 of an event for the entity and, unless the
// event is a bye, for its opponent. The corrected phase results are given
// from entityID's side.
func (r *LedgerRepository) Supersede(ctx context.Context, c domain.Correction) ([]domain.MatchRecord, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	qtx := r.queries.WithTx(tx)

	current, err := qtx.GetLatestMatchRevision(ctx, db.GetLatestMatchRevisionParams{
		EntityID:    c.EntityID,
		EventNumber: int64(c.EventNumber),
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.InvalidMatchError{
			Field:  "event_number",
			Reason: fmt.Sprintf("no record for entity %s event %d", c.EntityID, c.EventNumber),
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load current revision: %w", err)
	}

	next := domain.MatchRecord{
		EntityID:     c.EntityID,
		EventNumber:  c.EventNumber,
		Revision:     int(current.Revision) + 1,
		OpponentID:   current.OpponentID,
		PhaseAResult: c.PhaseA,
		PhaseBResult: c.PhaseB,
		Outcome:      domain.OutcomeOf(c.PhaseA, c.PhaseB),
		EventDate:    timePtr(current.EventDate),
		Reason:       c.Reason,
	}
	rows := []domain.MatchRecord{next}

	if !next.IsBye() {
		mirror, err := qtx.GetLatestMatchRevision(ctx, db.GetLatestMatchRevisionParams{
			EntityID:    current.OpponentID,
			EventNumber: current.EventNumber,
		})
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to load opponent revision: %w", err)
		}
		if errors.Is(err, sql.ErrNoRows) || mirror.Revision != current.Revision || mirror.OpponentID != c.EntityID {
			return nil, &domain.InconsistentSummaryError{
				EntityID: c.EntityID,
				Detail:   fmt.Sprintf("event %d has no matching row for opponent %s", c.EventNumber, current.OpponentID),
			}
		}
		rows = append(rows, next.Mirror())
	}

	stored, err := r.insert(ctx, qtx, rows)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit correction: %w", err)
	}

	r.logger.Info().
		Str("entity_id", c.EntityID).
		Int("event_number", c.EventNumber).
		Int("revision", next.Revision).
		Str("reason", c.Reason).
		Msg("ledger event superseded")

	return stored, nil
}

func (r *LedgerRepository) insert(ctx context.Context, qtx *db.Queries, records []domain.MatchRecord) ([]domain.MatchRecord, error) {
	pairID, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate nanoid: %w", err)
	}
	now := time.Now().UTC()

	stored := make([]domain.MatchRecord, len(records))
	for i, rec := range records {
		id, err := gonanoid.New()
		if err != nil {
			return nil, fmt.Errorf("failed to generate nanoid: %w", err)
		}
		rec.ID = id
		rec.PairID = pairID
		rec.CreatedAt = now

		err = qtx.InsertMatchRecord(ctx, db.InsertMatchRecordParams{
			ID:           rec.ID,
			PairID:       rec.PairID,
			EntityID:     rec.EntityID,
			EventNumber:  int64(rec.EventNumber),
			Revision:     int64(rec.Revision),
			OpponentID:   rec.OpponentID,
			PhaseAResult: string(rec.PhaseAResult),
			PhaseBResult: string(rec.PhaseBResult),
			Outcome:      string(rec.Outcome),
			EventDate:    nullTime(rec.EventDate),
			Reason:       rec.Reason,
			CreatedAt:    rec.CreatedAt,
		})
		if isUniqueViolation(err) {
			return nil, &domain.DuplicateMatchError{EntityID: rec.EntityID, EventNumber: rec.EventNumber}
		}
		if err != nil {
			return nil, fmt.Errorf("failed to insert match record for %s: %w", rec.EntityID, err)
		}
		stored[i] = rec
	}
	return stored, nil
}

// GetMatches returns the effective history of an entity ordered by event
// number: the latest revision of each event.
func (r *LedgerRepository) GetMatches(ctx context.Context, entityID string) ([]domain.MatchRecord, error) {
	return effectiveMatches(ctx, r.queries, entityID)
}

// GetRevisions returns every stored revision of one event, oldest first.
func (r *LedgerRepository) GetRevisions(ctx context.Context, entityID string, eventNumber int) ([]domain.MatchRecord, error) {
	rows, err := r.queries.GetMatchRevisions(ctx, db.GetMatchRevisionsParams{
		EntityID:    entityID,
		EventNumber: int64(eventNumber),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get revisions: %w", err)
	}

	records := make([]domain.MatchRecord, len(rows))
	for i, row := range rows {
		records[i] = toDomainMatch(row)
	}
	return records, nil
}

func (r *LedgerRepository) ListEntityIDs(ctx context.Context) ([]string, error) {
	ids, err := r.queries.ListLedgerEntityIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entities: %w", err)
	}
	return ids, nil
}

func effectiveMatches(ctx context.Context, q *db.Queries, entityID string) ([]domain.MatchRecord, error) {
	rows, err := q.GetEffectiveMatchRecords(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to get matches for %s: %w", entityID, err)
	}

	records := make([]domain.MatchRecord, len(rows))
	for i, row := range rows {
		records[i] = toDomainMatch(row)
	}
	return records, nil
}

// asymmetric returns the records whose mirror row at the same revision is
// missing or not inverted.
func asymmetric(ctx context.Context, q *db.Queries, records []domain.MatchRecord) ([]domain.MatchRecord, error) {
	var broken []domain.MatchRecord
	for _, rec := range records {
		if rec.IsBye() {
			continue
		}

		row, err := q.GetMatchRecord(ctx, db.GetMatchRecordParams{
			EntityID:    rec.OpponentID,
			EventNumber: int64(rec.EventNumber),
			Revision:    int64(rec.Revision),
		})
		if errors.Is(err, sql.ErrNoRows) {
			broken = append(broken, rec)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load mirror of %s: %w", rec.ID, err)
		}
		if !toDomainMatch(row).IsMirrorOf(rec) {
			broken = append(broken, rec)
		}
	}
	return broken, nil
}

func toDomainMatch(row db.MatchRecord) domain.MatchRecord {
	return domain.MatchRecord{
		ID:           row.ID,
		PairID:       row.PairID,
		EntityID:     row.EntityID,
		EventNumber:  int(row.EventNumber),
		Revision:     int(row.Revision),
		OpponentID:   row.OpponentID,
		PhaseAResult: domain.PhaseResult(row.PhaseAResult),
		PhaseBResult: domain.PhaseResult(row.PhaseBResult),
		Outcome:      domain.Outcome(row.Outcome),
		EventDate:    timePtr(row.EventDate),
		Reason:       row.Reason,
		CreatedAt:    row.CreatedAt,
	}
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
