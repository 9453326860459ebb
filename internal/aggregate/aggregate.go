// Package aggregate derives an EntitySummary from an entity's ledger rows.
//
// Everything here is pure: the same records always produce the same summary,
// so an entity can be recomputed on the incremental path (after one append)
// or during bulk reconciliation with identical results.
package aggregate

import (
	"cmp"
	"fmt"
	"slices"

	"kvk-tracker/internal/domain"
)

// Recompute builds the summary for entityID. Score, tier and timestamps are
// left zero; they belong to later stages.
func Recompute(entityID string, records []domain.MatchRecord) (domain.EntitySummary, error) {
	summary := domain.EntitySummary{EntityID: entityID}

	sorted, err := sortedRecords(entityID, records)
	if err != nil {
		return summary, err
	}
	if len(sorted) == 0 {
		return summary, nil
	}

	phaseA := make([]domain.PhaseResult, len(sorted))
	phaseB := make([]domain.PhaseResult, len(sorted))

	for i, rec := range sorted {
		phaseA[i] = rec.PhaseAResult
		phaseB[i] = rec.PhaseBResult

		if rec.PhaseAResult == domain.Win {
			summary.PhaseAWins++
		} else {
			summary.PhaseALosses++
		}
		if rec.PhaseBResult == domain.Win {
			summary.PhaseBWins++
		} else {
			summary.PhaseBLosses++
		}

		switch rec.Outcome {
		case domain.Domination:
			summary.DominationCount++
		case domain.Invasion:
			summary.InvasionCount++
		case domain.Comeback:
			summary.ComebackCount++
		case domain.Reversal:
			summary.ReversalCount++
		}
	}

	summary.TotalEvents = len(sorted)
	summary.PhaseAWinRate = float64(summary.PhaseAWins) / float64(summary.TotalEvents)
	summary.PhaseBWinRate = float64(summary.PhaseBWins) / float64(summary.TotalEvents)

	summary.CurrentPhaseAStreak = trailingRun(phaseA, domain.Win)
	summary.CurrentPhaseBStreak = trailingRun(phaseB, domain.Win)
	summary.CurrentPhaseALossStreak = trailingRun(phaseA, domain.Loss)
	summary.CurrentPhaseBLossStreak = trailingRun(phaseB, domain.Loss)

	summary.BestPhaseAStreak = bestRun(phaseA, domain.Win)
	summary.BestPhaseBStreak = bestRun(phaseB, domain.Win)

	return summary, nil
}

// RecentOutcomes returns up to n outcomes, newest first.
func RecentOutcomes(records []domain.MatchRecord, n int) []domain.Outcome {
	if n <= 0 || len(records) == 0 {
		return nil
	}

	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, byEventNumber)

	if n > len(sorted) {
		n = len(sorted)
	}
	out := make([]domain.Outcome, 0, n)
	for i := len(sorted) - 1; i >= len(sorted)-n; i-- {
		out = append(out, sorted[i].Outcome)
	}
	return out
}

// Verify checks the counting invariants of a summary.
func Verify(s domain.EntitySummary) error {
	if s.PhaseAWins+s.PhaseALosses != s.TotalEvents {
		return &domain.InconsistentSummaryError{
			EntityID: s.EntityID,
			Detail:   fmt.Sprintf("phase A %d+%d != %d events", s.PhaseAWins, s.PhaseALosses, s.TotalEvents),
		}
	}
	if s.PhaseBWins+s.PhaseBLosses != s.TotalEvents {
		return &domain.InconsistentSummaryError{
			EntityID: s.EntityID,
			Detail:   fmt.Sprintf("phase B %d+%d != %d events", s.PhaseBWins, s.PhaseBLosses, s.TotalEvents),
		}
	}
	outcomes := s.DominationCount + s.InvasionCount + s.ComebackCount + s.ReversalCount
	if outcomes != s.TotalEvents {
		return &domain.InconsistentSummaryError{
			EntityID: s.EntityID,
			Detail:   fmt.Sprintf("outcome tallies %d != %d events", outcomes, s.TotalEvents),
		}
	}
	if s.CurrentPhaseAStreak > s.BestPhaseAStreak || s.CurrentPhaseBStreak > s.BestPhaseBStreak {
		return &domain.InconsistentSummaryError{
			EntityID: s.EntityID,
			Detail:   "current streak exceeds best streak",
		}
	}
	return nil
}

func sortedRecords(entityID string, records []domain.MatchRecord) ([]domain.MatchRecord, error) {
	for _, rec := range records {
		if rec.EntityID != entityID {
			return nil, &domain.InconsistentSummaryError{
				EntityID: entityID,
				Detail:   fmt.Sprintf("record %s belongs to entity %s", rec.ID, rec.EntityID),
			}
		}
		if !rec.PhaseAResult.Valid() {
			return nil, &domain.FormulaDomainError{Field: "phase_a_result", Value: rec.PhaseAResult, Reason: "must be W or L"}
		}
		if !rec.PhaseBResult.Valid() {
			return nil, &domain.FormulaDomainError{Field: "phase_b_result", Value: rec.PhaseBResult, Reason: "must be W or L"}
		}
		if rec.Outcome != domain.OutcomeOf(rec.PhaseAResult, rec.PhaseBResult) {
			return nil, &domain.FormulaDomainError{Field: "outcome", Value: rec.Outcome, Reason: "does not match phase results"}
		}
	}

	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, byEventNumber)

	for i := 1; i < len(sorted); i++ {
		if sorted[i].EventNumber == sorted[i-1].EventNumber {
			return nil, &domain.InconsistentSummaryError{
				EntityID: entityID,
				Detail:   fmt.Sprintf("event %d appears more than once", sorted[i].EventNumber),
			}
		}
	}
	return sorted, nil
}

func byEventNumber(a, b domain.MatchRecord) int {
	return cmp.Compare(a.EventNumber, b.EventNumber)
}

// trailingRun counts consecutive `want` results from the newest backwards.
func trailingRun(results []domain.PhaseResult, want domain.PhaseResult) int {
	run := 0
	for i := len(results) - 1; i >= 0; i-- {
		if results[i] != want {
			break
		}
		run++
	}
	return run
}

func bestRun(results []domain.PhaseResult, want domain.PhaseResult) int {
	best, run := 0, 0
	for _, r := range results {
		if r == want {
			run++
			best = max(best, run)
		} else {
			run = 0
		}
	}
	return best
}
