package domain

import (
	"time"
)

// PhaseResult is the result of one sub-contest (prep or battle) of an event.
type PhaseResult string

const (
	Win  PhaseResult = "W"
	Loss PhaseResult = "L"
)

func (p PhaseResult) Valid() bool {
	return p == Win || p == Loss
}

func (p PhaseResult) Invert() PhaseResult {
	if p == Win {
		return Loss
	}
	return Win
}

// Outcome is the overall label for an entity in one event, derived from
// the (phase A, phase B) pair.
type Outcome string

const (
	Domination Outcome = "domination" // W,W
	Invasion   Outcome = "invasion"   // L,L
	Comeback   Outcome = "comeback"   // L,W
	Reversal   Outcome = "reversal"   // W,L
)

func OutcomeOf(phaseA, phaseB PhaseResult) Outcome {
	switch {
	case phaseA == Win && phaseB == Win:
		return Domination
	case phaseA == Loss && phaseB == Loss:
		return Invasion
	case phaseA == Loss && phaseB == Win:
		return Comeback
	default:
		return Reversal
	}
}

// Mirror returns the outcome the opponent records for the same event.
func (o Outcome) Mirror() Outcome {
	switch o {
	case Domination:
		return Invasion
	case Invasion:
		return Domination
	case Comeback:
		return Reversal
	case Reversal:
		return Comeback
	}
	return o
}

func (o Outcome) Valid() bool {
	switch o {
	case Domination, Invasion, Comeback, Reversal:
		return true
	}
	return false
}

// MatchRecord is one ledger row: a single entity's view of one event.
type MatchRecord struct {
	ID           string // nanoid
	PairID       string // shared by both sides of the event
	EntityID     string
	EventNumber  int
	Revision     int    // 0 = original submission
	OpponentID   string // empty for a bye
	PhaseAResult PhaseResult
	PhaseBResult PhaseResult
	Outcome      Outcome
	EventDate    *time.Time
	Reason       string
	CreatedAt    time.Time
}

func (r MatchRecord) IsBye() bool {
	return r.OpponentID == ""
}

// Mirror builds the opponent's row for the same event. IDs are left for the
// caller to assign.
func (r MatchRecord) Mirror() MatchRecord {
	m := r
	m.ID = ""
	m.EntityID = r.OpponentID
	m.OpponentID = r.EntityID
	m.PhaseAResult = r.PhaseAResult.Invert()
	m.PhaseBResult = r.PhaseBResult.Invert()
	m.Outcome = r.Outcome.Mirror()
	return m
}

// IsMirrorOf reports whether r is the inverse row of other.
func (r MatchRecord) IsMirrorOf(other MatchRecord) bool {
	return r.EntityID == other.OpponentID &&
		r.OpponentID == other.EntityID &&
		r.EventNumber == other.EventNumber &&
		r.Revision == other.Revision &&
		r.PhaseAResult == other.PhaseAResult.Invert() &&
		r.PhaseBResult == other.PhaseBResult.Invert() &&
		r.Outcome == other.Outcome.Mirror()
}

// MatchSubmission is an approved result from the moderation workflow, given
// from EntityA's perspective.
type MatchSubmission struct {
	EntityA     string
	EntityB     string
	EventNumber int
	PhaseA      PhaseResult
	PhaseB      PhaseResult
	EventDate   *time.Time
}

type ByeSubmission struct {
	EntityID    string
	EventNumber int
	PhaseA      PhaseResult
	PhaseB      PhaseResult
	EventDate   *time.Time
}

// Correction supersedes the current revision of an event for both sides.
type Correction struct {
	EntityID    string
	EventNumber int
	PhaseA      PhaseResult
	PhaseB      PhaseResult
	Reason      string
}

// EntitySummary is the derived, fully reproducible aggregate of an entity's
// ledger rows plus the cached score and tier.
type EntitySummary struct {
	EntityID string

	TotalEvents   int
	PhaseAWins    int
	PhaseALosses  int
	PhaseBWins    int
	PhaseBLosses  int
	PhaseAWinRate float64
	PhaseBWinRate float64

	CurrentPhaseAStreak     int
	CurrentPhaseBStreak     int
	CurrentPhaseALossStreak int
	CurrentPhaseBLossStreak int
	BestPhaseAStreak        int
	BestPhaseBStreak        int

	DominationCount int
	InvasionCount   int
	ComebackCount   int
	ReversalCount   int

	Score          *float64 // nil when the entity has no history
	Tier           Tier
	FormulaVersion string
	LastUpdated    time.Time
}

func (s EntitySummary) HasHistory() bool {
	return s.TotalEvents > 0
}

// Tier is a discrete power label.
type Tier string

const (
	TierS Tier = "S"
	TierA Tier = "A"
	TierB Tier = "B"
	TierC Tier = "C"
	TierD Tier = "D"
)

// ThresholdCut is the inclusive minimum score for a tier.
type ThresholdCut struct {
	Tier     Tier    `json:"tier"`
	MinScore float64 `json:"min_score"`
}

// TierThresholds is the global, versioned threshold snapshot. Cuts are
// ordered from the highest tier to the lowest.
type TierThresholds struct {
	Version    int64
	Method     string // "percentile" or "fixed"
	Population int
	Cuts       []ThresholdCut
	ComputedAt time.Time
}

// Profile is what the display layer reads for one entity.
type Profile struct {
	EntityID string
	HasData  bool
	Summary  EntitySummary
	History  []MatchRecord
}

// ReconcileStatus classifies the per-entity result of a reconciliation run.
type ReconcileStatus string

const (
	ReconcileUnchanged    ReconcileStatus = "unchanged"
	ReconcileChanged      ReconcileStatus = "changed"
	ReconcileFailed       ReconcileStatus = "failed"
	ReconcileInconsistent ReconcileStatus = "inconsistent"
)

type ReconcileEntry struct {
	RunID    string
	EntityID string
	Status   ReconcileStatus
	OldScore *float64
	NewScore *float64
	OldTier  Tier
	NewTier  Tier
	Error    string
}

// Delta is the absolute score movement, treating a missing score as 0.
func (e ReconcileEntry) Delta() float64 {
	var oldScore, newScore float64
	if e.OldScore != nil {
		oldScore = *e.OldScore
	}
	if e.NewScore != nil {
		newScore = *e.NewScore
	}
	d := newScore - oldScore
	if d < 0 {
		return -d
	}
	return d
}

type ReconcileRun struct {
	ID             string // uuid
	FormulaVersion string
	DryRun         bool
	Status         string // "running", "completed", "cancelled"
	Processed      int
	Changed        int
	Failed         int
	StartedAt      time.Time
	FinishedAt     *time.Time
}

type ReconcileReport struct {
	Run     ReconcileRun
	Entries []ReconcileEntry
}
