package service

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"kvk-tracker/internal/domain"
)

func TestAppendMatchRecomputesBothSides(t *testing.T) {
	h := newHarness(t)

	stored, err := h.ledger.AppendMatch(t.Context(), domain.MatchSubmission{
		EntityA:     " k1 ",
		EntityB:     "k2",
		EventNumber: 1,
		PhaseA:      domain.Win,
		PhaseB:      domain.Win,
	})
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "k1", stored[0].EntityID)
	assert.True(t, stored[1].IsMirrorOf(stored[0]))

	winner := h.summary(t, "k1")
	loser := h.summary(t, "k2")

	assert.Equal(t, 1, winner.TotalEvents)
	assert.Equal(t, 1, winner.DominationCount)
	assert.Equal(t, 1, loser.InvasionCount)
	assert.Equal(t, "v3", winner.FormulaVersion)
	require.NotNil(t, winner.Score)
	require.NotNil(t, loser.Score)
	assert.Greater(t, *winner.Score, *loser.Score)
	assert.NotEmpty(t, winner.Tier)
}

func TestAppendMatchRejections(t *testing.T) {
	h := newHarness(t)
	h.match(t, "k1", "k2", 1, domain.Win, domain.Loss)

	tests := []struct {
		name  string
		sub   domain.MatchSubmission
		check func(t *testing.T, err error)
	}{
		{
			name: "duplicate event for entity",
			sub:  domain.MatchSubmission{EntityA: "k1", EntityB: "k3", EventNumber: 1, PhaseA: domain.Win, PhaseB: domain.Win},
			check: func(t *testing.T, err error) {
				var dup *domain.DuplicateMatchError
				require.ErrorAs(t, err, &dup)
				assert.Equal(t, 1, dup.EventNumber)
			},
		},
		{
			name: "duplicate event for opponent",
			sub:  domain.MatchSubmission{EntityA: "k3", EntityB: "k2", EventNumber: 1, PhaseA: domain.Win, PhaseB: domain.Win},
			check: func(t *testing.T, err error) {
				var dup *domain.DuplicateMatchError
				require.ErrorAs(t, err, &dup)
			},
		},
		{
			name: "self match",
			sub:  domain.MatchSubmission{EntityA: "k1", EntityB: "k1", EventNumber: 2, PhaseA: domain.Win, PhaseB: domain.Win},
			check: func(t *testing.T, err error) {
				var invalid *domain.InvalidMatchError
				require.ErrorAs(t, err, &invalid)
				assert.Equal(t, "entity_b", invalid.Field)
			},
		},
		{
			name: "bad phase",
			sub:  domain.MatchSubmission{EntityA: "k1", EntityB: "k3", EventNumber: 2, PhaseA: "X", PhaseB: domain.Win},
			check: func(t *testing.T, err error) {
				var invalid *domain.InvalidMatchError
				require.ErrorAs(t, err, &invalid)
				assert.Equal(t, "phase_a", invalid.Field)
			},
		},
		{
			name: "event number zero",
			sub:  domain.MatchSubmission{EntityA: "k1", EntityB: "k3", EventNumber: 0, PhaseA: domain.Win, PhaseB: domain.Win},
			check: func(t *testing.T, err error) {
				var invalid *domain.InvalidMatchError
				require.ErrorAs(t, err, &invalid)
				assert.Equal(t, "event_number", invalid.Field)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.ledger.AppendMatch(t.Context(), tt.sub)
			require.Error(t, err)
			tt.check(t, err)
		})
	}

	// k3 never got a row from any rejected submission
	history, err := h.ledgerRepo.GetMatches(t.Context(), "k3")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestAppendBye(t *testing.T) {
	h := newHarness(t)

	rec, err := h.ledger.AppendBye(t.Context(), domain.ByeSubmission{
		EntityID:    "k7",
		EventNumber: 1,
		PhaseA:      domain.Win,
		PhaseB:      domain.Win,
	})
	require.NoError(t, err)
	assert.True(t, rec.IsBye())

	s := h.summary(t, "k7")
	assert.Equal(t, 1, s.TotalEvents)
	require.NotNil(t, s.Score)
}

func TestSupersede(t *testing.T) {
	h := newHarness(t)
	h.match(t, "k1", "k2", 1, domain.Win, domain.Win)

	_, err := h.ledger.Supersede(t.Context(), domain.Correction{
		EntityID:    "k1",
		EventNumber: 1,
		PhaseA:      domain.Loss,
		PhaseB:      domain.Loss,
	})
	var invalid *domain.InvalidMatchError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "reason", invalid.Field)

	stored, err := h.ledger.Supersede(t.Context(), domain.Correction{
		EntityID:    "k1",
		EventNumber: 1,
		PhaseA:      domain.Loss,
		PhaseB:      domain.Loss,
		Reason:      "sides swapped in report",
	})
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, 1, stored[0].Revision)

	k1 := h.summary(t, "k1")
	k2 := h.summary(t, "k2")
	assert.Equal(t, 1, k1.TotalEvents)
	assert.Equal(t, 0, k1.DominationCount)
	assert.Equal(t, 1, k1.InvasionCount)
	assert.Equal(t, 1, k2.DominationCount)
	assert.Greater(t, *k2.Score, *k1.Score)

	revisions, err := h.ledgerRepo.GetRevisions(t.Context(), "k1", 1)
	require.NoError(t, err)
	assert.Len(t, revisions, 2)
}

func TestAppendMatchConcurrentKeepsSummaryCurrent(t *testing.T) {
	h := newHarness(t)

	const opponents = 12
	for trial := range 5 {
		hub := fmt.Sprintf("hub-%d", trial)

		var g errgroup.Group
		for i := range opponents {
			g.Go(func() error {
				_, err := h.ledger.AppendMatch(t.Context(), domain.MatchSubmission{
					EntityA:     hub,
					EntityB:     fmt.Sprintf("%s-opp-%d", hub, i),
					EventNumber: i + 1,
					PhaseA:      domain.Win,
					PhaseB:      domain.Loss,
				})
				return err
			})
		}
		require.NoError(t, g.Wait())

		history, err := h.ledgerRepo.GetMatches(t.Context(), hub)
		require.NoError(t, err)
		require.Len(t, history, opponents)

		s := h.summary(t, hub)
		assert.Equal(t, opponents, s.TotalEvents, "trial %d", trial)
		assert.Equal(t, opponents, s.PhaseAWins, "trial %d", trial)
		assert.Equal(t, opponents, s.ReversalCount, "trial %d", trial)
	}
}
