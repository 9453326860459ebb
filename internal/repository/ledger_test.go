package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvk-tracker/internal/db"
	"kvk-tracker/internal/domain"
)

func TestLedger_AppendStoresBothSides(t *testing.T) {
	sqlDB, queries := newTestDB(t)
	repo := NewLedgerRepository(sqlDB, queries, zerolog.Nop())
	ctx := context.Background()

	stored, err := repo.Append(ctx, pair("k1", "k2", 1, domain.Win, domain.Loss)...)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.NotEmpty(t, stored[0].ID)
	assert.NotEqual(t, stored[0].ID, stored[1].ID)
	assert.Equal(t, stored[0].PairID, stored[1].PairID)

	k1, err := repo.GetMatches(ctx, "k1")
	require.NoError(t, err)
	k2, err := repo.GetMatches(ctx, "k2")
	require.NoError(t, err)
	require.Len(t, k1, 1)
	require.Len(t, k2, 1)

	assert.Equal(t, domain.Reversal, k1[0].Outcome)
	assert.Equal(t, domain.Comeback, k2[0].Outcome)
	assert.True(t, k1[0].IsMirrorOf(k2[0]))

	broken, err := asymmetricRows(ctx, repo, queries, "k1")
	require.NoError(t, err)
	assert.Empty(t, broken)
}

func TestLedger_GetMatchesOrdersByEvent(t *testing.T) {
	sqlDB, queries := newTestDB(t)
	repo := NewLedgerRepository(sqlDB, queries, zerolog.Nop())
	ctx := context.Background()

	for _, event := range []int{3, 1, 2} {
		_, err := repo.Append(ctx, pair("k1", "k2", event, domain.Win, domain.Win)...)
		require.NoError(t, err)
	}

	records, err := repo.GetMatches(ctx, "k1")
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, rec := range records {
		assert.Equal(t, i+1, rec.EventNumber)
	}

	empty, err := repo.GetMatches(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLedger_DuplicateRejected(t *testing.T) {
	sqlDB, queries := newTestDB(t)
	repo := NewLedgerRepository(sqlDB, queries, zerolog.Nop())
	ctx := context.Background()

	_, err := repo.Append(ctx, pair("k1", "k2", 1, domain.Win, domain.Loss)...)
	require.NoError(t, err)

	_, err = repo.Append(ctx, pair("k1", "k2", 1, domain.Loss, domain.Loss)...)
	var dup *domain.DuplicateMatchError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "k1", dup.EntityID)
	assert.Equal(t, 1, dup.EventNumber)

	records, err := repo.GetMatches(ctx, "k1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.Reversal, records[0].Outcome)
}

func TestLedger_AppendIsAtomic(t *testing.T) {
	sqlDB, queries := newTestDB(t)
	repo := NewLedgerRepository(sqlDB, queries, zerolog.Nop())
	ctx := context.Background()

	_, err := repo.Append(ctx, pair("k1", "k2", 1, domain.Win, domain.Win)...)
	require.NoError(t, err)

	// k3's row is fine, k2's mirror row collides
	_, err = repo.Append(ctx, pair("k3", "k2", 1, domain.Win, domain.Win)...)
	var dup *domain.DuplicateMatchError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "k2", dup.EntityID)

	k3, err := repo.GetMatches(ctx, "k3")
	require.NoError(t, err)
	assert.Empty(t, k3)
}

func TestLedger_Bye(t *testing.T) {
	sqlDB, queries := newTestDB(t)
	repo := NewLedgerRepository(sqlDB, queries, zerolog.Nop())
	ctx := context.Background()

	_, err := repo.Append(ctx, domain.MatchRecord{
		EntityID:     "k1",
		EventNumber:  1,
		PhaseAResult: domain.Win,
		PhaseBResult: domain.Win,
		Outcome:      domain.Domination,
	})
	require.NoError(t, err)

	records, err := repo.GetMatches(ctx, "k1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].IsBye())

	broken, err := asymmetricRows(ctx, repo, queries, "k1")
	require.NoError(t, err)
	assert.Empty(t, broken)

	ids, err := repo.ListEntityIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"k1"}, ids)
}

func TestLedger_Supersede(t *testing.T) {
	sqlDB, queries := newTestDB(t)
	repo := NewLedgerRepository(sqlDB, queries, zerolog.Nop())
	ctx := context.Background()

	date := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	original := pair("k1", "k2", 1, domain.Win, domain.Loss)
	original[0].EventDate, original[1].EventDate = &date, &date
	_, err := repo.Append(ctx, original...)
	require.NoError(t, err)

	stored, err := repo.Supersede(ctx, domain.Correction{
		EntityID:    "k2",
		EventNumber: 1,
		PhaseA:      domain.Loss,
		PhaseB:      domain.Loss,
		Reason:      "battle result misreported",
	})
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, 1, stored[0].Revision)

	k1, err := repo.GetMatches(ctx, "k1")
	require.NoError(t, err)
	require.Len(t, k1, 1)
	assert.Equal(t, 1, k1[0].Revision)
	assert.Equal(t, domain.Domination, k1[0].Outcome)
	assert.Equal(t, "battle result misreported", k1[0].Reason)
	require.NotNil(t, k1[0].EventDate)
	assert.True(t, date.Equal(*k1[0].EventDate))

	k2, err := repo.GetMatches(ctx, "k2")
	require.NoError(t, err)
	assert.Equal(t, domain.Invasion, k2[0].Outcome)

	revisions, err := repo.GetRevisions(ctx, "k1", 1)
	require.NoError(t, err)
	require.Len(t, revisions, 2)
	assert.Equal(t, domain.Reversal, revisions[0].Outcome)
	assert.Equal(t, domain.Domination, revisions[1].Outcome)

	broken, err := asymmetricRows(ctx, repo, queries, "k1")
	require.NoError(t, err)
	assert.Empty(t, broken)
}

func TestLedger_SupersedeUnknownEvent(t *testing.T) {
	sqlDB, queries := newTestDB(t)
	repo := NewLedgerRepository(sqlDB, queries, zerolog.Nop())

	_, err := repo.Supersede(context.Background(), domain.Correction{
		EntityID: "k1", EventNumber: 4, PhaseA: domain.Win, PhaseB: domain.Win,
	})
	var invalid *domain.InvalidMatchError
	assert.True(t, errors.As(err, &invalid))
}

func TestLedger_AsymmetricRows(t *testing.T) {
	sqlDB, queries := newTestDB(t)
	repo := NewLedgerRepository(sqlDB, queries, zerolog.Nop())
	ctx := context.Background()

	// a lone row written around the repository
	err := queries.InsertMatchRecord(ctx, db.InsertMatchRecordParams{
		ID:           "lone",
		PairID:       "p",
		EntityID:     "k1",
		EventNumber:  1,
		OpponentID:   "k2",
		PhaseAResult: "W",
		PhaseBResult: "W",
		Outcome:      "domination",
		CreatedAt:    time.Now().UTC(),
	})
	require.NoError(t, err)

	// k2 reports the same result instead of the inverse
	err = queries.InsertMatchRecord(ctx, db.InsertMatchRecordParams{
		ID:           "wrong",
		PairID:       "q",
		EntityID:     "k1",
		EventNumber:  2,
		OpponentID:   "k2",
		PhaseAResult: "L",
		PhaseBResult: "W",
		Outcome:      "comeback",
		CreatedAt:    time.Now().UTC(),
	})
	require.NoError(t, err)
	err = queries.InsertMatchRecord(ctx, db.InsertMatchRecordParams{
		ID:           "wrong-mirror",
		PairID:       "q",
		EntityID:     "k2",
		EventNumber:  2,
		OpponentID:   "k1",
		PhaseAResult: "L",
		PhaseBResult: "W",
		Outcome:      "comeback",
		CreatedAt:    time.Now().UTC(),
	})
	require.NoError(t, err)

	broken, err := asymmetricRows(ctx, repo, queries, "k1")
	require.NoError(t, err)
	require.Len(t, broken, 2)
	assert.Equal(t, "lone", broken[0].ID)
	assert.Equal(t, "wrong", broken[1].ID)
}

func asymmetricRows(ctx context.Context, repo *LedgerRepository, queries *db.Queries, entityID string) ([]domain.MatchRecord, error) {
	records, err := repo.GetMatches(ctx, entityID)
	if err != nil {
		return nil, err
	}
	return asymmetric(ctx, queries, records)
}
