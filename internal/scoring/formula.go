// Package scoring turns an entity summary and its recent outcomes into a
// single bounded score.
//
// Every formula version is a Calibration run through the same Calibrated
// implementation, so historical versions stay reproducible for audits while
// only one is canonical at a time.
package scoring

import (
	"fmt"
	"math"

	"kvk-tracker/internal/domain"
)

// Formula is a versioned scoring strategy.
type Formula interface {
	Version() string
	Score(summary domain.EntitySummary, recent []domain.Outcome) (float64, error)
	Bounds() (min, max float64)
}

// Breakdown exposes the intermediate values behind a score.
type Breakdown struct {
	PhaseASmoothed float64
	PhaseBSmoothed float64
	WinRate        float64
	Pattern        float64
	RecentForm     float64
	Streaks        float64
	Multiplier     float64
	Raw            float64
	Score          float64
}

type Calibrated struct {
	cal Calibration
}

func New(cal Calibration) (*Calibrated, error) {
	if err := cal.Validate(); err != nil {
		return nil, err
	}
	return &Calibrated{cal: cal}, nil
}

func (f *Calibrated) Version() string {
	return f.cal.Version
}

func (f *Calibrated) Bounds() (float64, float64) {
	return f.cal.MinScore, f.cal.MaxScore
}

func (f *Calibrated) Calibration() Calibration {
	return f.cal
}

func (f *Calibrated) Score(summary domain.EntitySummary, recent []domain.Outcome) (float64, error) {
	b, err := f.Explain(summary, recent)
	if err != nil {
		return 0, err
	}
	return b.Score, nil
}

// Explain computes the score and returns every component. An entity with
// no events scores exactly 0.
func (f *Calibrated) Explain(s domain.EntitySummary, recent []domain.Outcome) (Breakdown, error) {
	if err := f.checkInput(s, recent); err != nil {
		return Breakdown{}, err
	}
	if s.TotalEvents == 0 {
		return Breakdown{}, nil
	}

	c := f.cal
	n := float64(s.TotalEvents)
	var b Breakdown

	// smoothed win rate
	b.PhaseASmoothed = (float64(s.PhaseAWins) + c.PriorWins) / (n + c.PriorWins + c.PriorLosses)
	b.PhaseBSmoothed = (float64(s.PhaseBWins) + c.PriorWins) / (n + c.PriorWins + c.PriorLosses)
	b.WinRate = f.phaseWeighted(b.PhaseASmoothed, b.PhaseBSmoothed) * c.WinRateScale

	// dominance pattern
	dom := (float64(s.DominationCount) + c.PatternPrior) / (n + c.PatternPriorN)
	inv := (float64(s.InvasionCount) + c.PatternPrior) / (n + c.PatternPriorN)
	b.Pattern = c.DominationWeight*dom - c.InvasionWeight*inv

	b.RecentForm = f.recentForm(recent)

	won := f.phaseWeighted(f.streakBonus(s.CurrentPhaseAStreak), f.streakBonus(s.CurrentPhaseBStreak))
	lost := f.phaseWeighted(f.streakBonus(s.CurrentPhaseALossStreak), f.streakBonus(s.CurrentPhaseBLossStreak))
	best := f.phaseWeighted(f.streakBonus(s.BestPhaseAStreak), f.streakBonus(s.BestPhaseBStreak))
	b.Streaks = won - c.LossStreakFactor*lost + c.BestStreakFactor*best

	b.Multiplier = f.Multiplier(s.TotalEvents)
	b.Raw = (b.WinRate + b.Pattern + b.RecentForm + b.Streaks) * b.Multiplier

	if math.IsNaN(b.Raw) || math.IsInf(b.Raw, 0) {
		return Breakdown{}, &domain.FormulaDomainError{Field: "score", Value: b.Raw, Reason: "not finite"}
	}
	b.Score = min(max(b.Raw, c.MinScore), c.MaxScore)
	return b, nil
}

// Multiplier returns the experience multiplier for a total event count.
func (f *Calibrated) Multiplier(totalEvents int) float64 {
	m := 0.0
	for _, step := range f.cal.Experience {
		if totalEvents < step.MinEvents {
			break
		}
		m = step.Multiplier
	}
	return m
}

func (f *Calibrated) phaseWeighted(a, b float64) float64 {
	total := f.cal.PhaseAWeight + f.cal.PhaseBWeight
	return (f.cal.PhaseAWeight*a + f.cal.PhaseBWeight*b) / total
}

func (f *Calibrated) recentForm(recent []domain.Outcome) float64 {
	if len(recent) == 0 {
		return 0
	}
	var sum, weights float64
	for i, o := range recent {
		w := f.cal.RecentWeights[i]
		sum += w * f.cal.OutcomeValues[o]
		weights += w
	}
	return sum / weights * f.cal.RecentScale
}

func (f *Calibrated) streakBonus(length int) float64 {
	bonus := 0.0
	for _, t := range f.cal.StreakTiers {
		if length < t.MinLength {
			break
		}
		bonus = t.Bonus
	}
	return bonus
}

func (f *Calibrated) checkInput(s domain.EntitySummary, recent []domain.Outcome) error {
	counts := []struct {
		field string
		value int
	}{
		{"total_events", s.TotalEvents},
		{"phase_a_wins", s.PhaseAWins},
		{"phase_a_losses", s.PhaseALosses},
		{"phase_b_wins", s.PhaseBWins},
		{"phase_b_losses", s.PhaseBLosses},
		{"current_phase_a_streak", s.CurrentPhaseAStreak},
		{"current_phase_b_streak", s.CurrentPhaseBStreak},
		{"current_phase_a_loss_streak", s.CurrentPhaseALossStreak},
		{"current_phase_b_loss_streak", s.CurrentPhaseBLossStreak},
		{"best_phase_a_streak", s.BestPhaseAStreak},
		{"best_phase_b_streak", s.BestPhaseBStreak},
		{"domination_count", s.DominationCount},
		{"invasion_count", s.InvasionCount},
		{"comeback_count", s.ComebackCount},
		{"reversal_count", s.ReversalCount},
	}
	for _, c := range counts {
		if c.value < 0 {
			return &domain.FormulaDomainError{Field: c.field, Value: c.value, Reason: "must not be negative"}
		}
		if c.field != "total_events" && c.value > s.TotalEvents {
			return &domain.FormulaDomainError{Field: c.field, Value: c.value, Reason: fmt.Sprintf("exceeds total_events %d", s.TotalEvents)}
		}
	}

	if s.PhaseAWins+s.PhaseALosses != s.TotalEvents {
		return &domain.FormulaDomainError{Field: "phase_a", Value: s.PhaseAWins + s.PhaseALosses, Reason: "wins+losses differ from total_events"}
	}
	if s.PhaseBWins+s.PhaseBLosses != s.TotalEvents {
		return &domain.FormulaDomainError{Field: "phase_b", Value: s.PhaseBWins + s.PhaseBLosses, Reason: "wins+losses differ from total_events"}
	}
	if outcomes := s.DominationCount + s.InvasionCount + s.ComebackCount + s.ReversalCount; outcomes != s.TotalEvents {
		return &domain.FormulaDomainError{Field: "outcomes", Value: outcomes, Reason: "tallies differ from total_events"}
	}

	if len(recent) > f.cal.Window() {
		return &domain.FormulaDomainError{Field: "recent", Value: len(recent), Reason: fmt.Sprintf("window is %d", f.cal.Window())}
	}
	if len(recent) > s.TotalEvents {
		return &domain.FormulaDomainError{Field: "recent", Value: len(recent), Reason: "more outcomes than events"}
	}
	for _, o := range recent {
		if !o.Valid() {
			return &domain.FormulaDomainError{Field: "recent", Value: o, Reason: "unknown outcome"}
		}
	}
	return nil
}
