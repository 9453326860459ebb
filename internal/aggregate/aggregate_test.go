package aggregate

import (
	"errors"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvk-tracker/internal/domain"
)

// history builds records for entity "k1" from "AB" pairs, oldest first,
// e.g. "WW", "LW".
func history(pairs ...string) []domain.MatchRecord {
	records := make([]domain.MatchRecord, len(pairs))
	for i, p := range pairs {
		a, b := domain.PhaseResult(p[0:1]), domain.PhaseResult(p[1:2])
		records[i] = domain.MatchRecord{
			ID:           "r" + string(rune('a'+i)),
			EntityID:     "k1",
			OpponentID:   "k2",
			EventNumber:  i + 1,
			PhaseAResult: a,
			PhaseBResult: b,
			Outcome:      domain.OutcomeOf(a, b),
		}
	}
	return records
}

func TestRecompute_Streaks(t *testing.T) {
	// phase B: L,W,W,W,L,W
	records := history("LL", "WW", "WW", "WW", "LL", "WW")

	s, err := Recompute("k1", records)
	require.NoError(t, err)

	assert.Equal(t, 1, s.CurrentPhaseBStreak)
	assert.Equal(t, 3, s.BestPhaseBStreak)
	assert.Equal(t, 0, s.CurrentPhaseBLossStreak)
	assert.Equal(t, 1, s.CurrentPhaseAStreak)
	assert.Equal(t, 3, s.BestPhaseAStreak)
}

func TestRecompute_LossEndsCurrentStreak(t *testing.T) {
	s, err := Recompute("k1", history("WW", "WW", "WL", "LL"))
	require.NoError(t, err)

	assert.Equal(t, 0, s.CurrentPhaseBStreak)
	assert.Equal(t, 2, s.CurrentPhaseBLossStreak)
	assert.Equal(t, 0, s.CurrentPhaseAStreak)
	assert.Equal(t, 1, s.CurrentPhaseALossStreak)
	assert.Equal(t, 2, s.BestPhaseBStreak)
	assert.Equal(t, 3, s.BestPhaseAStreak)
}

func TestRecompute_ZeroMatches(t *testing.T) {
	s, err := Recompute("k1", nil)
	require.NoError(t, err)

	assert.Equal(t, domain.EntitySummary{EntityID: "k1"}, s)
	assert.False(t, s.HasHistory())
	assert.NoError(t, Verify(s))
}

func TestRecompute_ExampleScenario(t *testing.T) {
	// 10 events, phase B 7-3, 2 dominations, 1 invasion, current B streak 2.
	records := history("LW", "WW", "LL", "LW", "WL", "LW", "LW", "WL", "WW", "LW")

	s, err := Recompute("k1", records)
	require.NoError(t, err)

	assert.Equal(t, 10, s.TotalEvents)
	assert.Equal(t, 7, s.PhaseBWins)
	assert.Equal(t, 3, s.PhaseBLosses)
	assert.InDelta(t, 0.7, s.PhaseBWinRate, 1e-12)
	assert.Equal(t, 2, s.DominationCount)
	assert.Equal(t, 1, s.InvasionCount)
	assert.Equal(t, 5, s.ComebackCount)
	assert.Equal(t, 2, s.ReversalCount)
	assert.Equal(t, 2, s.CurrentPhaseBStreak)
	assert.NoError(t, Verify(s))
}

func TestRecompute_OrderIndependent(t *testing.T) {
	records := history("WW", "LW", "LL", "WL", "WW")
	shuffled := []domain.MatchRecord{records[3], records[0], records[4], records[2], records[1]}

	a, err := Recompute("k1", records)
	require.NoError(t, err)
	b, err := Recompute("k1", shuffled)
	require.NoError(t, err)

	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("summary depends on input order (-sorted +shuffled):\n%s", diff)
	}
}

func TestRecompute_Reproducible(t *testing.T) {
	faker := gofakeit.New(42)

	for i := 0; i < 50; i++ {
		n := faker.Number(0, 25)
		pairs := make([]string, n)
		for j := range pairs {
			pairs[j] = phase(faker.Bool()) + phase(faker.Bool())
		}
		records := history(pairs...)

		first, err := Recompute("k1", records)
		require.NoError(t, err)
		second, err := Recompute("k1", records)
		require.NoError(t, err)

		if diff := cmp.Diff(first, second); diff != "" {
			t.Fatalf("recompute not reproducible (-first +second):\n%s", diff)
		}
		require.NoError(t, Verify(first))
		assert.LessOrEqual(t, first.CurrentPhaseAStreak, first.BestPhaseAStreak)
		assert.LessOrEqual(t, first.CurrentPhaseBStreak, first.BestPhaseBStreak)
	}
}

func TestRecompute_RejectsBadRecords(t *testing.T) {
	t.Run("duplicate event", func(t *testing.T) {
		records := history("WW", "LL")
		records[1].EventNumber = 1

		_, err := Recompute("k1", records)
		var inconsistent *domain.InconsistentSummaryError
		assert.True(t, errors.As(err, &inconsistent))
	})

	t.Run("foreign record", func(t *testing.T) {
		records := history("WW")
		records[0].EntityID = "k9"

		_, err := Recompute("k1", records)
		var inconsistent *domain.InconsistentSummaryError
		assert.True(t, errors.As(err, &inconsistent))
	})

	t.Run("outcome disagrees with phases", func(t *testing.T) {
		records := history("WW")
		records[0].Outcome = domain.Invasion

		_, err := Recompute("k1", records)
		var domainErr *domain.FormulaDomainError
		assert.True(t, errors.As(err, &domainErr))
	})

	t.Run("unknown phase value", func(t *testing.T) {
		records := history("WW")
		records[0].PhaseAResult = "D"

		_, err := Recompute("k1", records)
		var domainErr *domain.FormulaDomainError
		assert.True(t, errors.As(err, &domainErr))
	})
}

func TestRecentOutcomes(t *testing.T) {
	records := history("WW", "LL", "LW", "WL", "WW", "LL", "LW")

	recent := RecentOutcomes(records, 5)
	assert.Equal(t, []domain.Outcome{
		domain.Comeback, domain.Invasion, domain.Domination, domain.Reversal, domain.Comeback,
	}, recent)

	assert.Len(t, RecentOutcomes(records[:2], 5), 2)
	assert.Nil(t, RecentOutcomes(nil, 5))
}

func TestVerify(t *testing.T) {
	s := domain.EntitySummary{
		EntityID:     "k1",
		TotalEvents:  3,
		PhaseAWins:   2,
		PhaseALosses: 1,
		PhaseBWins:   1,
		PhaseBLosses: 1,
	}

	err := Verify(s)
	var inconsistent *domain.InconsistentSummaryError
	require.True(t, errors.As(err, &inconsistent))
	assert.Equal(t, "k1", inconsistent.EntityID)
}

func phase(win bool) string {
	if win {
		return "W"
	}
	return "L"
}
