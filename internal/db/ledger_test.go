package db_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvk-tracker/internal/config"
	"kvk-tracker/internal/database"
	"kvk-tracker/internal/db"
)

func newQueries(t *testing.T) (*sql.DB, *db.Queries) {
	t.Helper()
	cfg := &config.Config{DBPath: filepath.Join(t.TempDir(), "kvk.db")}
	sqlDB, err := database.New(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return sqlDB, db.New(sqlDB)
}

// row is a bye won in phase A; phaseB decides the outcome.
func row(id, entity string, event, revision int64, phaseB string) db.InsertMatchRecordParams {
	outcome := "domination"
	if phaseB == "L" {
		outcome = "reversal"
	}
	return db.InsertMatchRecordParams{
		ID:           id,
		PairID:       id,
		EntityID:     entity,
		EventNumber:  event,
		Revision:     revision,
		PhaseAResult: "W",
		PhaseBResult: phaseB,
		Outcome:      outcome,
		CreatedAt:    time.Now().UTC(),
	}
}

func TestEffectiveMatchRecordsTakeLatestRevision(t *testing.T) {
	_, q := newQueries(t)
	ctx := context.Background()

	require.NoError(t, q.InsertMatchRecord(ctx, row("e2", "k1", 2, 0, "W")))
	require.NoError(t, q.InsertMatchRecord(ctx, row("e1", "k1", 1, 0, "L")))
	require.NoError(t, q.InsertMatchRecord(ctx, row("e1r", "k1", 1, 1, "W")))
	require.NoError(t, q.InsertMatchRecord(ctx, row("other", "k2", 1, 0, "W")))

	records, err := q.GetEffectiveMatchRecords(ctx, "k1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "e1r", records[0].ID)
	assert.Equal(t, int64(1), records[0].Revision)
	assert.Equal(t, "e2", records[1].ID)

	latest, err := q.GetLatestMatchRevision(ctx, db.GetLatestMatchRevisionParams{EntityID: "k1", EventNumber: 1})
	require.NoError(t, err)
	assert.Equal(t, "e1r", latest.ID)

	_, err = q.GetMatchRecord(ctx, db.GetMatchRecordParams{EntityID: "k1", EventNumber: 3})
	assert.ErrorIs(t, err, sql.ErrNoRows)

	ids, err := q.ListLedgerEntityIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"k1", "k2"}, ids)
}

func TestWithTxRollsBack(t *testing.T) {
	sqlDB, q := newQueries(t)
	ctx := context.Background()

	tx, err := sqlDB.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, q.WithTx(tx).InsertMatchRecord(ctx, row("e1", "k1", 1, 0, "W")))
	require.NoError(t, tx.Rollback())

	records, err := q.GetEffectiveMatchRecords(ctx, "k1")
	require.NoError(t, err)
	assert.Empty(t, records)
}
