package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"kvk-tracker/internal/constants"
	"kvk-tracker/internal/db"
	"kvk-tracker/internal/domain"
)

type SummaryRepository struct {
	queries *db.Queries
	db      *sql.DB
	logger  zerolog.Logger
}

func NewSummaryRepository(sqlDB *sql.DB, queries *db.Queries, logger zerolog.Logger) *SummaryRepository {
	return &SummaryRepository{
		queries: queries,
		db:      sqlDB,
		logger:  logger,
	}
}

// ScoredEntity is the slice of a summary the tier refresh needs.
type ScoredEntity struct {
	EntityID string
	Score    float64
	Tier     domain.Tier
}

// Rebuild reads the effective history of entityID, derives a summary with
// build and stores it, all in one write transaction. Concurrent rebuilds of
// the same entity therefore serialize and the last one sees every row
// committed before it.
func (r *SummaryRepository) Rebuild(
	ctx context.Context,
	entityID string,
	build func(records []domain.MatchRecord) (domain.EntitySummary, error),
) (domain.EntitySummary, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.EntitySummary{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	qtx := r.queries.WithTx(tx)

	records, err := effectiveMatches(ctx, qtx, entityID)
	if err != nil {
		return domain.EntitySummary{}, err
	}

	summary, err := build(records)
	if err != nil {
		return summary, err
	}

	if err := qtx.UpsertEntitySummary(ctx, toSummaryParams(summary)); err != nil {
		r.logger.Error().Err(err).Str("entity_id", entityID).Msg("failed to upsert summary")
		return summary, fmt.Errorf("failed to upsert summary for %s: %w", entityID, err)
	}

	if err := tx.Commit(); err != nil {
		return summary, fmt.Errorf("failed to commit summary for %s: %w", entityID, err)
	}
	return summary, nil
}

// Get returns nil when the entity has no stored summary.
func (r *SummaryRepository) Get(ctx context.Context, entityID string) (*domain.EntitySummary, error) {
	row, err := r.queries.GetEntitySummary(ctx, entityID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get summary for %s: %w", entityID, err)
	}
	s := toDomainSummary(row)
	return &s, nil
}

// Top returns scored entities by descending score, ties by entity id.
func (r *SummaryRepository) Top(ctx context.Context, limit int) ([]domain.EntitySummary, error) {
	rows, err := r.queries.ListTopEntitySummaries(ctx, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list top summaries: %w", err)
	}

	summaries := make([]domain.EntitySummary, len(rows))
	for i, row := range rows {
		summaries[i] = toDomainSummary(row)
	}
	return summaries, nil
}

// Scores returns every score of an entity with history.
func (r *SummaryRepository) Scores(ctx context.Context) ([]float64, error) {
	scores, err := r.queries.ListScores(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list scores: %w", err)
	}
	return scores, nil
}

func (r *SummaryRepository) Scored(ctx context.Context) ([]ScoredEntity, error) {
	rows, err := r.queries.ListScoredEntities(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list scored entities: %w", err)
	}

	out := make([]ScoredEntity, len(rows))
	for i, row := range rows {
		out[i] = ScoredEntity{EntityID: row.EntityID, Score: row.Score.Float64, Tier: domain.Tier(row.Tier)}
	}
	return out, nil
}

func (r *SummaryRepository) ListEntityIDs(ctx context.Context) ([]string, error) {
	ids, err := r.queries.ListSummaryEntityIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list summary entities: %w", err)
	}
	return ids, nil
}

// UpdateTiers rewrites tier labels in batches, one transaction per batch.
func (r *SummaryRepository) UpdateTiers(ctx context.Context, tiers map[string]domain.Tier) error {
	if len(tiers) == 0 {
		return nil
	}

	ids := make([]string, 0, len(tiers))
	for id := range tiers {
		ids = append(ids, id)
	}
	now := time.Now().UTC()

	for i := 0; i < len(ids); i += constants.DBBatchSize {
		end := min(i+constants.DBBatchSize, len(ids))
		if err := r.updateTierBatch(ctx, ids[i:end], tiers, now); err != nil {
			return err
		}
	}

	r.logger.Debug().Int("count", len(tiers)).Msg("entity tiers updated")
	return nil
}

func (r *SummaryRepository) updateTierBatch(ctx context.Context, ids []string, tiers map[string]domain.Tier, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	qtx := r.queries.WithTx(tx)
	for _, id := range ids {
		err := qtx.UpdateEntityTier(ctx, db.UpdateEntityTierParams{
			Tier:        string(tiers[id]),
			LastUpdated: now,
			EntityID:    id,
		})
		if err != nil {
			return fmt.Errorf("failed to update tier for %s: %w", id, err)
		}
	}

	return tx.Commit()
}

func toSummaryParams(s domain.EntitySummary) db.UpsertEntitySummaryParams {
	return db.UpsertEntitySummaryParams{
		EntityID:                s.EntityID,
		TotalEvents:             int64(s.TotalEvents),
		PhaseAWins:              int64(s.PhaseAWins),
		PhaseALosses:            int64(s.PhaseALosses),
		PhaseBWins:              int64(s.PhaseBWins),
		PhaseBLosses:            int64(s.PhaseBLosses),
		PhaseAWinRate:           s.PhaseAWinRate,
		PhaseBWinRate:           s.PhaseBWinRate,
		CurrentPhaseAStreak:     int64(s.CurrentPhaseAStreak),
		CurrentPhaseBStreak:     int64(s.CurrentPhaseBStreak),
		CurrentPhaseALossStreak: int64(s.CurrentPhaseALossStreak),
		CurrentPhaseBLossStreak: int64(s.CurrentPhaseBLossStreak),
		BestPhaseAStreak:        int64(s.BestPhaseAStreak),
		BestPhaseBStreak:        int64(s.BestPhaseBStreak),
		DominationCount:         int64(s.DominationCount),
		InvasionCount:           int64(s.InvasionCount),
		ComebackCount:           int64(s.ComebackCount),
		ReversalCount:           int64(s.ReversalCount),
		Score:                   nullFloat(s.Score),
		Tier:                    string(s.Tier),
		FormulaVersion:          s.FormulaVersion,
		LastUpdated:             s.LastUpdated,
	}
}

func toDomainSummary(row db.EntitySummary) domain.EntitySummary {
	return domain.EntitySummary{
		EntityID:                row.EntityID,
		TotalEvents:             int(row.TotalEvents),
		PhaseAWins:              int(row.PhaseAWins),
		PhaseALosses:            int(row.PhaseALosses),
		PhaseBWins:              int(row.PhaseBWins),
		PhaseBLosses:            int(row.PhaseBLosses),
		PhaseAWinRate:           row.PhaseAWinRate,
		PhaseBWinRate:           row.PhaseBWinRate,
		CurrentPhaseAStreak:     int(row.CurrentPhaseAStreak),
		CurrentPhaseBStreak:     int(row.CurrentPhaseBStreak),
		CurrentPhaseALossStreak: int(row.CurrentPhaseALossStreak),
		CurrentPhaseBLossStreak: int(row.CurrentPhaseBLossStreak),
		BestPhaseAStreak:        int(row.BestPhaseAStreak),
		BestPhaseBStreak:        int(row.BestPhaseBStreak),
		DominationCount:         int(row.DominationCount),
		InvasionCount:           int(row.InvasionCount),
		ComebackCount:           int(row.ComebackCount),
		ReversalCount:           int(row.ReversalCount),
		Score:                   floatPtr(row.Score),
		Tier:                    domain.Tier(row.Tier),
		FormulaVersion:          row.FormulaVersion,
		LastUpdated:             row.LastUpdated,
	}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
