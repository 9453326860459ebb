package db

import (
	"context"
	"database/sql"
	"time"
)

const entitySummaryColumns = `entity_id, total_events, phase_a_wins, phase_a_losses, phase_b_wins, phase_b_losses,
    phase_a_win_rate, phase_b_win_rate,
    current_phase_a_streak, current_phase_b_streak, current_phase_a_loss_streak, current_phase_b_loss_streak,
    best_phase_a_streak, best_phase_b_streak,
    domination_count, invasion_count, comeback_count, reversal_count,
    score, tier, formula_version, last_updated`

func scanEntitySummary(row interface{ Scan(...interface{}) error }) (EntitySummary, error) {
	var i EntitySummary
	err := row.Scan(
		&i.EntityID,
		&i.TotalEvents,
		&i.PhaseAWins,
		&i.PhaseALosses,
		&i.PhaseBWins,
		&i.PhaseBLosses,
		&i.PhaseAWinRate,
		&i.PhaseBWinRate,
		&i.CurrentPhaseAStreak,
		&i.CurrentPhaseBStreak,
		&i.CurrentPhaseALossStreak,
		&i.CurrentPhaseBLossStreak,
		&i.BestPhaseAStreak,
		&i.BestPhaseBStreak,
		&i.DominationCount,
		&i.InvasionCount,
		&i.ComebackCount,
		&i.ReversalCount,
		&i.Score,
		&i.Tier,
		&i.FormulaVersion,
		&i.LastUpdated,
	)
	return i, err
}

const upsertEntitySummary = `
INSERT INTO entity_summaries (` + entitySummaryColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (entity_id) DO UPDATE SET
    total_events = excluded.total_events,
    phase_a_wins = excluded.phase_a_wins,
    phase_a_losses = excluded.phase_a_losses,
    phase_b_wins = excluded.phase_b_wins,
    phase_b_losses = excluded.phase_b_losses,
    phase_a_win_rate = excluded.phase_a_win_rate,
    phase_b_win_rate = excluded.phase_b_win_rate,
    current_phase_a_streak = excluded.current_phase_a_streak,
    current_phase_b_streak = excluded.current_phase_b_streak,
    current_phase_a_loss_streak = excluded.current_phase_a_loss_streak,
    current_phase_b_loss_streak = excluded.current_phase_b_loss_streak,
    best_phase_a_streak = excluded.best_phase_a_streak,
    best_phase_b_streak = excluded.best_phase_b_streak,
    domination_count = excluded.domination_count,
    invasion_count = excluded.invasion_count,
    comeback_count = excluded.comeback_count,
    reversal_count = excluded.reversal_count,
    score = excluded.score,
    tier = excluded.tier,
    formula_version = excluded.formula_version,
    last_updated = excluded.last_updated
`

type UpsertEntitySummaryParams = EntitySummary

func (q *Queries) UpsertEntitySummary(ctx context.Context, arg UpsertEntitySummaryParams) error {
	_, err := q.db.ExecContext(ctx, upsertEntitySummary,
		arg.EntityID,
		arg.TotalEvents,
		arg.PhaseAWins,
		arg.PhaseALosses,
		arg.PhaseBWins,
		arg.PhaseBLosses,
		arg.PhaseAWinRate,
		arg.PhaseBWinRate,
		arg.CurrentPhaseAStreak,
		arg.CurrentPhaseBStreak,
		arg.CurrentPhaseALossStreak,
		arg.CurrentPhaseBLossStreak,
		arg.BestPhaseAStreak,
		arg.BestPhaseBStreak,
		arg.DominationCount,
		arg.InvasionCount,
		arg.ComebackCount,
		arg.ReversalCount,
		arg.Score,
		arg.Tier,
		arg.FormulaVersion,
		arg.LastUpdated,
	)
	return err
}

const getEntitySummary = `
SELECT ` + entitySummaryColumns + `
FROM entity_summaries
WHERE entity_id = ?
`

func (q *Queries) GetEntitySummary(ctx context.Context, entityID string) (EntitySummary, error) {
	row := q.db.QueryRowContext(ctx, getEntitySummary, entityID)
	return scanEntitySummary(row)
}

const listTopEntitySummaries = `
SELECT ` + entitySummaryColumns + `
FROM entity_summaries
WHERE score IS NOT NULL AND total_events > 0
ORDER BY score DESC, entity_id ASC
LIMIT ?
`

func (q *Queries) ListTopEntitySummaries(ctx context.Context, limit int64) ([]EntitySummary, error) {
	rows, err := q.db.QueryContext(ctx, listTopEntitySummaries, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []EntitySummary
	for rows.Next() {
		i, err := scanEntitySummary(rows)
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

const listScores = `
SELECT score FROM entity_summaries
WHERE score IS NOT NULL AND total_events > 0
`

func (q *Queries) ListScores(ctx context.Context) ([]float64, error) {
	rows, err := q.db.QueryContext(ctx, listScores)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []float64
	for rows.Next() {
		var score float64
		if err := rows.Scan(&score); err != nil {
			return nil, err
		}
		items = append(items, score)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listSummaryEntityIDs = `
SELECT entity_id FROM entity_summaries ORDER BY entity_id
`

func (q *Queries) ListSummaryEntityIDs(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listSummaryEntityIDs)
	if err != nil {
		return nil, err
	}
	return collectStrings(rows)
}

const updateEntityTier = `
UPDATE entity_summaries SET tier = ?, last_updated = ? WHERE entity_id = ?
`

type UpdateEntityTierParams struct {
	Tier        string
	LastUpdated time.Time
	EntityID    string
}

func (q *Queries) UpdateEntityTier(ctx context.Context, arg UpdateEntityTierParams) error {
	_, err := q.db.ExecContext(ctx, updateEntityTier, arg.Tier, arg.LastUpdated, arg.EntityID)
	return err
}

const listScoredEntities = `
SELECT entity_id, score, tier FROM entity_summaries
WHERE score IS NOT NULL AND total_events > 0
ORDER BY entity_id
`

type ListScoredEntitiesRow struct {
	EntityID string
	Score    sql.NullFloat64
	Tier     string
}

func (q *Queries) ListScoredEntities(ctx context.Context) ([]ListScoredEntitiesRow, error) {
	rows, err := q.db.QueryContext(ctx, listScoredEntities)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ListScoredEntitiesRow
	for rows.Next() {
		var i ListScoredEntitiesRow
		if err := rows.Scan(&i.EntityID, &i.Score, &i.Tier); err != nil {
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
