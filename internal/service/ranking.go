package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"kvk-tracker/internal/aggregate"
	"kvk-tracker/internal/constants"
	"kvk-tracker/internal/domain"
	"kvk-tracker/internal/metrics"
	"kvk-tracker/internal/repository"
	"kvk-tracker/internal/scoring"
	"kvk-tracker/internal/tier"
)

// RankingService is the single writer of entity summaries outside
// reconciliation runs, and the read side for display.
type RankingService struct {
	ledger    *repository.LedgerRepository
	summaries *repository.SummaryRepository
	formulas  *scoring.Registry
	tiers     *tier.Holder
	logger    zerolog.Logger
}

func NewRankingService(
	ledger *repository.LedgerRepository,
	summaries *repository.SummaryRepository,
	formulas *scoring.Registry,
	tiers *tier.Holder,
	logger zerolog.Logger,
) *RankingService {
	return &RankingService{
		ledger:    ledger,
		summaries: summaries,
		formulas:  formulas,
		tiers:     tiers,
		logger:    logger,
	}
}

// Comparison puts two profiles side by side with their shared events.
type Comparison struct {
	A          domain.Profile
	B          domain.Profile
	ScoreGap   float64 // A minus B, 0 unless both are scored
	HeadToHead []domain.MatchRecord
}

// Evaluate derives an entity's summary, score and tier from its ledger
// rows without storing anything.
func (s *RankingService) Evaluate(ctx context.Context, entityID string, f *scoring.Calibrated, thresholds domain.TierThresholds) (domain.EntitySummary, error) {
	records, err := s.ledger.GetMatches(ctx, entityID)
	if err != nil {
		return domain.EntitySummary{}, err
	}
	return evaluate(entityID, records, f, thresholds)
}

func evaluate(entityID string, records []domain.MatchRecord, f *scoring.Calibrated, thresholds domain.TierThresholds) (domain.EntitySummary, error) {
	summary, err := aggregate.Recompute(entityID, records)
	if err != nil {
		return summary, err
	}
	if err := aggregate.Verify(summary); err != nil {
		return summary, err
	}

	summary.FormulaVersion = f.Version()
	summary.LastUpdated = time.Now().UTC()
	if !summary.HasHistory() {
		return summary, nil
	}

	score, err := f.Score(summary, aggregate.RecentOutcomes(records, f.Calibration().Window()))
	if err != nil {
		return summary, fmt.Errorf("failed to score %s: %w", entityID, err)
	}
	summary.Score = &score
	summary.Tier = tier.Classify(score, thresholds)
	return summary, nil
}

// RecomputeEntity rebuilds and stores one entity's summary with the
// current formula and thresholds.
func (s *RankingService) RecomputeEntity(ctx context.Context, entityID string) (domain.EntitySummary, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.RecomputeTimeout)
	defer cancel()

	start := time.Now()
	defer func() { metrics.RecomputeDuration.Observe(time.Since(start).Seconds()) }()

	f, thresholds := s.formulas.Current(), s.tiers.Load()
	summary, err := s.summaries.Rebuild(ctx, entityID, func(records []domain.MatchRecord) (domain.EntitySummary, error) {
		return evaluate(entityID, records, f, thresholds)
	})
	if err != nil {
		metrics.Recomputations.WithLabelValues("failed").Inc()
		return summary, err
	}

	metrics.Recomputations.WithLabelValues("ok").Inc()
	event := s.logger.Debug().Str("entity_id", entityID).Int("total_events", summary.TotalEvents)
	if summary.Score != nil {
		event = event.Float64("score", *summary.Score).Str("tier", string(summary.Tier))
	}
	event.Msg("entity recomputed")

	return summary, nil
}

// GetProfile returns the summary and effective history of an entity. An
// entity without history yields HasData=false, not an error.
func (s *RankingService) GetProfile(ctx context.Context, entityID string) (domain.Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	history, err := s.ledger.GetMatches(ctx, entityID)
	if err != nil {
		return domain.Profile{}, err
	}
	if len(history) == 0 {
		return domain.Profile{EntityID: entityID, Summary: domain.EntitySummary{EntityID: entityID}}, nil
	}

	stored, err := s.summaries.Get(ctx, entityID)
	if err != nil {
		return domain.Profile{}, err
	}

	var summary domain.EntitySummary
	if stored != nil {
		summary = *stored
	} else {
		// ledger rows exist but the last recompute failed; show a live value
		s.logger.Warn().Str("entity_id", entityID).Msg("summary missing, evaluating from ledger")
		summary, err = evaluate(entityID, history, s.formulas.Current(), s.tiers.Load())
		if err != nil {
			return domain.Profile{}, err
		}
	}

	return domain.Profile{
		EntityID: entityID,
		HasData:  summary.HasHistory(),
		Summary:  summary,
		History:  history,
	}, nil
}

func (s *RankingService) Leaderboard(ctx context.Context, limit int) ([]domain.EntitySummary, error) {
	if limit <= 0 {
		limit = constants.DefaultLeaderboard
	}
	limit = min(limit, constants.MaxLeaderboard)

	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	return s.summaries.Top(ctx, limit)
}

func (s *RankingService) Compare(ctx context.Context, a, b string) (Comparison, error) {
	if a == b {
		return Comparison{}, &domain.InvalidMatchError{Field: "entity", Reason: "cannot compare an entity with itself"}
	}

	pa, err := s.GetProfile(ctx, a)
	if err != nil {
		return Comparison{}, err
	}
	pb, err := s.GetProfile(ctx, b)
	if err != nil {
		return Comparison{}, err
	}

	cmp := Comparison{A: pa, B: pb}
	if pa.Summary.Score != nil && pb.Summary.Score != nil {
		cmp.ScoreGap = *pa.Summary.Score - *pb.Summary.Score
	}
	for _, rec := range pa.History {
		if rec.OpponentID == b {
			cmp.HeadToHead = append(cmp.HeadToHead, rec)
		}
	}
	return cmp, nil
}

// Explain breaks an entity's current-formula score into its components.
func (s *RankingService) Explain(ctx context.Context, entityID string) (scoring.Breakdown, error) {
	records, err := s.ledger.GetMatches(ctx, entityID)
	if err != nil {
		return scoring.Breakdown{}, err
	}
	summary, err := aggregate.Recompute(entityID, records)
	if err != nil {
		return scoring.Breakdown{}, err
	}

	f := s.formulas.Current()
	return f.Explain(summary, aggregate.RecentOutcomes(records, f.Calibration().Window()))
}
