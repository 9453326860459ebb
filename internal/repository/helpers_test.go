package repository

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"kvk-tracker/internal/config"
	"kvk-tracker/internal/database"
	"kvk-tracker/internal/db"
	"kvk-tracker/internal/domain"
)

func newTestDB(t *testing.T) (*sql.DB, *db.Queries) {
	t.Helper()
	cfg := &config.Config{DBPath: filepath.Join(t.TempDir(), "kvk.db")}
	sqlDB, err := database.New(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return sqlDB, db.New(sqlDB)
}

func pair(a, b string, event int, phaseA, phaseB domain.PhaseResult) []domain.MatchRecord {
	rec := domain.MatchRecord{
		EntityID:     a,
		OpponentID:   b,
		EventNumber:  event,
		PhaseAResult: phaseA,
		PhaseBResult: phaseB,
		Outcome:      domain.OutcomeOf(phaseA, phaseB),
	}
	return []domain.MatchRecord{rec, rec.Mirror()}
}

func store(t *testing.T, queries *db.Queries, s domain.EntitySummary) {
	t.Helper()
	require.NoError(t, queries.UpsertEntitySummary(context.Background(), toSummaryParams(s)))
}
