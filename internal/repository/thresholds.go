package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"kvk-tracker/internal/constants"
	"kvk-tracker/internal/db"
	"kvk-tracker/internal/domain"
)

type ThresholdRepository struct {
	queries *db.Queries
	logger  zerolog.Logger
}

func NewThresholdRepository(queries *db.Queries, logger zerolog.Logger) *ThresholdRepository {
	return &ThresholdRepository{queries: queries, logger: logger}
}

// Get returns nil when no snapshot has been saved yet.
func (r *ThresholdRepository) Get(ctx context.Context) (*domain.TierThresholds, error) {
	row, err := r.queries.GetTierThresholds(ctx, constants.ThresholdsID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tier thresholds: %w", err)
	}

	var cuts []domain.ThresholdCut
	if err := json.Unmarshal([]byte(row.Cuts), &cuts); err != nil {
		return nil, fmt.Errorf("failed to decode tier cuts: %w", err)
	}

	return &domain.TierThresholds{
		Version:    row.Version,
		Method:     row.Method,
		Population: int(row.Population),
		Cuts:       cuts,
		ComputedAt: row.ComputedAt,
	}, nil
}

// Save replaces the global snapshot and returns it with its new version.
func (r *ThresholdRepository) Save(ctx context.Context, t domain.TierThresholds) (domain.TierThresholds, error) {
	cuts, err := json.Marshal(t.Cuts)
	if err != nil {
		return t, fmt.Errorf("failed to encode tier cuts: %w", err)
	}

	version, err := r.queries.SaveTierThresholds(ctx, db.SaveTierThresholdsParams{
		ID:         constants.ThresholdsID,
		Method:     t.Method,
		Population: int64(t.Population),
		Cuts:       string(cuts),
		ComputedAt: t.ComputedAt,
	})
	if err != nil {
		return t, fmt.Errorf("failed to save tier thresholds: %w", err)
	}

	t.Version = version
	r.logger.Info().
		Int64("version", version).
		Str("method", t.Method).
		Int("population", t.Population).
		Msg("tier thresholds saved")
	return t, nil
}
