package service

import (
	"context"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"kvk-tracker/internal/constants"
	"kvk-tracker/internal/domain"
	"kvk-tracker/internal/metrics"
	"kvk-tracker/internal/publish"
	"kvk-tracker/internal/repository"
	"kvk-tracker/internal/tier"
)

// ThresholdService owns the global tier snapshot: it recomputes cuts over
// stored scores, persists and publishes them, and relabels entities.
type ThresholdService struct {
	summaries  *repository.SummaryRepository
	thresholds *repository.ThresholdRepository
	holder     *tier.Holder
	publisher  publish.Publisher
	logger     zerolog.Logger
}

func NewThresholdService(
	summaries *repository.SummaryRepository,
	thresholds *repository.ThresholdRepository,
	holder *tier.Holder,
	publisher publish.Publisher,
	logger zerolog.Logger,
) *ThresholdService {
	return &ThresholdService{
		summaries:  summaries,
		thresholds: thresholds,
		holder:     holder,
		publisher:  publisher,
		logger:     logger,
	}
}

// Load installs the persisted snapshot, if any, into the holder.
func (s *ThresholdService) Load(ctx context.Context) error {
	stored, err := s.thresholds.Get(ctx)
	if err != nil {
		return err
	}
	if stored == nil {
		s.logger.Info().Msg("no stored tier thresholds, using fixed cuts")
		return nil
	}

	s.install(*stored)
	s.logger.Info().Int64("version", stored.Version).Str("method", stored.Method).Msg("tier thresholds loaded")
	return nil
}

func (s *ThresholdService) Current() domain.TierThresholds {
	return s.holder.Load()
}

// Refresh recomputes the snapshot over every scored entity. When the cuts
// come out identical the stored version is kept.
func (s *ThresholdService) Refresh(ctx context.Context) (domain.TierThresholds, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	scores, err := s.summaries.Scores(ctx)
	if err != nil {
		return domain.TierThresholds{}, err
	}

	next := tier.ComputeThresholds(scores, time.Now().UTC())
	current := s.holder.Load()
	if current.Version > 0 && sameCuts(current, next) {
		s.logger.Debug().Int64("version", current.Version).Msg("tier thresholds unchanged")
		return current, s.relabel(ctx, current)
	}

	saved, err := s.thresholds.Save(ctx, next)
	if err != nil {
		return domain.TierThresholds{}, err
	}
	s.install(saved)

	if err := s.relabel(ctx, saved); err != nil {
		return saved, err
	}

	pubCtx, pubCancel := context.WithTimeout(ctx, constants.PublishTimeout)
	defer pubCancel()
	if err := s.publisher.Publish(pubCtx, saved); err != nil {
		metrics.ThresholdPublishFailures.Inc()
		s.logger.Warn().Err(err).Int64("version", saved.Version).Msg("failed to publish tier thresholds")
	}

	s.logger.Info().
		Int64("version", saved.Version).
		Str("method", saved.Method).
		Int("population", saved.Population).
		Msg("tier thresholds refreshed")
	return saved, nil
}

// Run refreshes on every tick until ctx is cancelled.
func (s *ThresholdService) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", interval).Msg("tier threshold refresher started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("tier threshold refresher stopped")
			return
		case <-ticker.C:
			if _, err := s.Refresh(ctx); err != nil {
				s.logger.Error().Err(err).Msg("tier threshold refresh failed")
			}
		}
	}
}

func (s *ThresholdService) install(t domain.TierThresholds) {
	s.holder.Store(t)
	metrics.ThresholdVersion.Set(float64(t.Version))
	metrics.ThresholdPopulation.Set(float64(t.Population))
}

// relabel rewrites the stored tier of entities whose label moved.
func (s *ThresholdService) relabel(ctx context.Context, t domain.TierThresholds) error {
	scored, err := s.summaries.Scored(ctx)
	if err != nil {
		return err
	}

	moved := make(map[string]domain.Tier)
	for _, e := range scored {
		if next := tier.Classify(e.Score, t); next != e.Tier {
			moved[e.EntityID] = next
		}
	}
	return s.summaries.UpdateTiers(ctx, moved)
}

func sameCuts(a, b domain.TierThresholds) bool {
	return a.Method == b.Method && a.Population == b.Population && slices.Equal(a.Cuts, b.Cuts)
}
