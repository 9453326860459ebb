package db

import (
	"context"
	"time"
)

const getTierThresholds = `
SELECT id, version, method, population, cuts, computed_at
FROM tier_thresholds
WHERE id = ?
`

func (q *Queries) GetTierThresholds(ctx context.Context, id string) (TierThreshold, error) {
	row := q.db.QueryRowContext(ctx, getTierThresholds, id)
	var i TierThreshold
	err := row.Scan(
		&i.ID,
		&i.Version,
		&i.Method,
		&i.Population,
		&i.Cuts,
		&i.ComputedAt,
	)
	return i, err
}

const saveTierThresholds = `
INSERT INTO tier_thresholds (id, version, method, population, cuts, computed_at)
VALUES (?, 1, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    version = tier_thresholds.version + 1,
    method = excluded.method,
    population = excluded.population,
    cuts = excluded.cuts,
    computed_at = excluded.computed_at
RETURNING version
`

type SaveTierThresholdsParams struct {
	ID         string
	Method     string
	Population int64
	Cuts       string
	ComputedAt time.Time
}

// SaveTierThresholds replaces the snapshot and returns its new version.
func (q *Queries) SaveTierThresholds(ctx context.Context, arg SaveTierThresholdsParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, saveTierThresholds,
		arg.ID,
		arg.Method,
		arg.Population,
		arg.Cuts,
		arg.ComputedAt,
	)
	var version int64
	err := row.Scan(&version)
	return version, err
}
