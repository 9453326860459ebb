package db

import (
	"context"
	"database/sql"
	"time"
)

const matchRecordColumns = `id, pair_id, entity_id, event_number, revision, opponent_id,
    phase_a_result, phase_b_result, outcome, event_date, reason, created_at`

func scanMatchRecord(row interface{ Scan(...interface{}) error }) (MatchRecord, error) {
	var i MatchRecord
	err := row.Scan(
		&i.ID,
		&i.PairID,
		&i.EntityID,
		&i.EventNumber,
		&i.Revision,
		&i.OpponentID,
		&i.PhaseAResult,
		&i.PhaseBResult,
		&i.Outcome,
		&i.EventDate,
		&i.Reason,
		&i.CreatedAt,
	)
	return i, err
}

func collectMatchRecords(rows *sql.Rows) ([]MatchRecord, error) {
	defer rows.Close()
	var items []MatchRecord
	for rows.Next() {
		i, err := scanMatchRecord(rows)
		if err != nil {
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

const insertMatchRecord = `
INSERT INTO match_records (
    id, pair_id, entity_id, event_number, revision, opponent_id,
    phase_a_result, phase_b_result, outcome, event_date, reason, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

type InsertMatchRecordParams struct {
	ID           string
	PairID       string
	EntityID     string
	EventNumber  int64
	Revision     int64
	OpponentID   string
	PhaseAResult string
	PhaseBResult string
	Outcome      string
	EventDate    sql.NullTime
	Reason       string
	CreatedAt    time.Time
}

func (q *Queries) InsertMatchRecord(ctx context.Context, arg InsertMatchRecordParams) error {
	_, err := q.db.ExecContext(ctx, insertMatchRecord,
		arg.ID,
		arg.PairID,
		arg.EntityID,
		arg.EventNumber,
		arg.Revision,
		arg.OpponentID,
		arg.PhaseAResult,
		arg.PhaseBResult,
		arg.Outcome,
		arg.EventDate,
		arg.Reason,
		arg.CreatedAt,
	)
	return err
}

const getEffectiveMatchRecords = `
SELECT ` + matchRecordColumns + `
FROM match_records m
WHERE m.entity_id = ?
  AND m.revision = (
    SELECT MAX(r.revision) FROM match_records r
    WHERE r.entity_id = m.entity_id AND r.event_number = m.event_number
  )
ORDER BY m.event_number ASC
`

// GetEffectiveMatchRecords returns the latest revision of every event.
func (q *Queries) GetEffectiveMatchRecords(ctx context.Context, entityID string) ([]MatchRecord, error) {
	rows, err := q.db.QueryContext(ctx, getEffectiveMatchRecords, entityID)
	if err != nil {
		return nil, err
	}
	return collectMatchRecords(rows)
}

const getMatchRevisions = `
SELECT ` + matchRecordColumns + `
FROM match_records
WHERE entity_id = ? AND event_number = ?
ORDER BY revision ASC
`

type GetMatchRevisionsParams struct {
	EntityID    string
	EventNumber int64
}

func (q *Queries) GetMatchRevisions(ctx context.Context, arg GetMatchRevisionsParams) ([]MatchRecord, error) {
	rows, err := q.db.QueryContext(ctx, getMatchRevisions, arg.EntityID, arg.EventNumber)
	if err != nil {
		return nil, err
	}
	return collectMatchRecords(rows)
}

const getLatestMatchRevision = `
SELECT ` + matchRecordColumns + `
FROM match_records
WHERE entity_id = ? AND event_number = ?
ORDER BY revision DESC
LIMIT 1
`

type GetLatestMatchRevisionParams struct {
	EntityID    string
	EventNumber int64
}

func (q *Queries) GetLatestMatchRevision(ctx context.Context, arg GetLatestMatchRevisionParams) (MatchRecord, error) {
	row := q.db.QueryRowContext(ctx, getLatestMatchRevision, arg.EntityID, arg.EventNumber)
	return scanMatchRecord(row)
}

const getMatchRecord = `
SELECT ` + matchRecordColumns + `
FROM match_records
WHERE entity_id = ? AND event_number = ? AND revision = ?
`

type GetMatchRecordParams struct {
	EntityID    string
	EventNumber int64
	Revision    int64
}

func (q *Queries) GetMatchRecord(ctx context.Context, arg GetMatchRecordParams) (MatchRecord, error) {
	row := q.db.QueryRowContext(ctx, getMatchRecord, arg.EntityID, arg.EventNumber, arg.Revision)
	return scanMatchRecord(row)
}

const listLedgerEntityIDs = `
SELECT DISTINCT entity_id FROM match_records ORDER BY entity_id
`

func (q *Queries) ListLedgerEntityIDs(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listLedgerEntityIDs)
	if err != nil {
		return nil, err
	}
	return collectStrings(rows)
}

func collectStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var items []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
