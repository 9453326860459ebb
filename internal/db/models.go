package db

import (
	"database/sql"
	"time"
)

type MatchRecord struct {
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

type EntitySummary struct {
	EntityID                string
	TotalEvents             int64
	PhaseAWins              int64
	PhaseALosses            int64
	PhaseBWins              int64
	PhaseBLosses            int64
	PhaseAWinRate           float64
	PhaseBWinRate           float64
	CurrentPhaseAStreak     int64
	CurrentPhaseBStreak     int64
	CurrentPhaseALossStreak int64
	CurrentPhaseBLossStreak int64
	BestPhaseAStreak        int64
	BestPhaseBStreak        int64
	DominationCount         int64
	InvasionCount           int64
	ComebackCount           int64
	ReversalCount           int64
	Score                   sql.NullFloat64
	Tier                    string
	FormulaVersion          string
	LastUpdated             time.Time
}

type TierThreshold struct {
	ID         string
	Version    int64
	Method     string
	Population int64
	Cuts       string
	ComputedAt time.Time
}

type ReconciliationRun struct {
	ID             string
	FormulaVersion string
	DryRun         bool
	Status         string
	Processed      int64
	Changed        int64
	Failed         int64
	StartedAt      time.Time
	FinishedAt     sql.NullTime
}

type ReconciliationEntry struct {
	RunID    string
	EntityID string
	Status   string
	OldScore sql.NullFloat64
	NewScore sql.NullFloat64
	OldTier  string
	NewTier  string
	Error    string
}
