package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"kvk-tracker/internal/domain"
	"kvk-tracker/internal/metrics"
	"kvk-tracker/internal/repository"
)

// LedgerService is the moderation-facing write path. Every accepted write
// is followed by recomputation of the affected entities.
type LedgerService struct {
	ledger  *repository.LedgerRepository
	ranking *RankingService
	logger  zerolog.Logger
}

func NewLedgerService(ledger *repository.LedgerRepository, ranking *RankingService, logger zerolog.Logger) *LedgerService {
	return &LedgerService{ledger: ledger, ranking: ranking, logger: logger}
}

// AppendMatch records an approved result, given from EntityA's side, as
// two symmetric rows in one transaction.
func (s *LedgerService) AppendMatch(ctx context.Context, sub domain.MatchSubmission) ([]domain.MatchRecord, error) {
	sub.EntityA = strings.TrimSpace(sub.EntityA)
	sub.EntityB = strings.TrimSpace(sub.EntityB)

	if err := validateMatch(sub); err != nil {
		s.reject(err)
		return nil, err
	}

	rec := domain.MatchRecord{
		EntityID:     sub.EntityA,
		OpponentID:   sub.EntityB,
		EventNumber:  sub.EventNumber,
		PhaseAResult: sub.PhaseA,
		PhaseBResult: sub.PhaseB,
		Outcome:      domain.OutcomeOf(sub.PhaseA, sub.PhaseB),
		EventDate:    sub.EventDate,
	}

	stored, err := s.ledger.Append(ctx, rec, rec.Mirror())
	if err != nil {
		s.reject(err)
		return nil, err
	}

	metrics.LedgerAppends.WithLabelValues("match").Inc()
	s.logger.Info().
		Str("entity_a", sub.EntityA).
		Str("entity_b", sub.EntityB).
		Int("event_number", sub.EventNumber).
		Str("outcome", string(rec.Outcome)).
		Msg("match recorded")

	s.recompute(ctx, sub.EntityA, sub.EntityB)
	return stored, nil
}

// AppendBye records an event with no opponent.
func (s *LedgerService) AppendBye(ctx context.Context, bye domain.ByeSubmission) (domain.MatchRecord, error) {
	bye.EntityID = strings.TrimSpace(bye.EntityID)

	if err := validateBye(bye); err != nil {
		s.reject(err)
		return domain.MatchRecord{}, err
	}

	stored, err := s.ledger.Append(ctx, domain.MatchRecord{
		EntityID:     bye.EntityID,
		EventNumber:  bye.EventNumber,
		PhaseAResult: bye.PhaseA,
		PhaseBResult: bye.PhaseB,
		Outcome:      domain.OutcomeOf(bye.PhaseA, bye.PhaseB),
		EventDate:    bye.EventDate,
	})
	if err != nil {
		s.reject(err)
		return domain.MatchRecord{}, err
	}

	metrics.LedgerAppends.WithLabelValues("bye").Inc()
	s.logger.Info().Str("entity_id", bye.EntityID).Int("event_number", bye.EventNumber).Msg("bye recorded")

	s.recompute(ctx, bye.EntityID)
	return stored[0], nil
}

// Supersede appends a corrected revision of an event. Earlier revisions
// stay in the ledger.
func (s *LedgerService) Supersede(ctx context.Context, c domain.Correction) ([]domain.MatchRecord, error) {
	c.EntityID = strings.TrimSpace(c.EntityID)

	if err := validateCorrection(c); err != nil {
		s.reject(err)
		return nil, err
	}

	stored, err := s.ledger.Supersede(ctx, c)
	if err != nil {
		s.reject(err)
		return nil, err
	}

	metrics.LedgerAppends.WithLabelValues("correction").Inc()

	ids := make([]string, 0, len(stored))
	for _, rec := range stored {
		ids = append(ids, rec.EntityID)
	}
	s.recompute(ctx, ids...)
	return stored, nil
}

// recompute refreshes summaries after a committed write. Failures are
// logged and left for reconciliation; the write itself stands.
func (s *LedgerService) recompute(ctx context.Context, entityIDs ...string) {
	for _, id := range entityIDs {
		if _, err := s.ranking.RecomputeEntity(ctx, id); err != nil {
			s.logger.Error().Err(err).Str("entity_id", id).Msg("failed to recompute entity after ledger write")
		}
	}
}

func (s *LedgerService) reject(err error) {
	var (
		dup     *domain.DuplicateMatchError
		invalid *domain.InvalidMatchError
	)
	switch {
	case errors.As(err, &dup):
		metrics.LedgerRejections.WithLabelValues("duplicate").Inc()
		s.logger.Warn().Err(err).Str("entity_id", dup.EntityID).Int("event_number", dup.EventNumber).Msg("duplicate match rejected")
	case errors.As(err, &invalid):
		metrics.LedgerRejections.WithLabelValues("invalid").Inc()
		s.logger.Warn().Err(err).Str("field", invalid.Field).Msg("invalid match rejected")
	default:
		metrics.LedgerRejections.WithLabelValues("error").Inc()
		s.logger.Error().Err(err).Msg("ledger write failed")
	}
}

func validateMatch(sub domain.MatchSubmission) error {
	if sub.EntityA == "" {
		return &domain.InvalidMatchError{Field: "entity_a", Reason: "is required"}
	}
	if sub.EntityB == "" {
		return &domain.InvalidMatchError{Field: "entity_b", Reason: "is required"}
	}
	if sub.EntityA == sub.EntityB {
		return &domain.InvalidMatchError{Field: "entity_b", Reason: "an entity cannot play itself"}
	}
	return validateEvent(sub.EventNumber, sub.PhaseA, sub.PhaseB)
}

func validateBye(bye domain.ByeSubmission) error {
	if bye.EntityID == "" {
		return &domain.InvalidMatchError{Field: "entity_id", Reason: "is required"}
	}
	return validateEvent(bye.EventNumber, bye.PhaseA, bye.PhaseB)
}

func validateCorrection(c domain.Correction) error {
	if c.EntityID == "" {
		return &domain.InvalidMatchError{Field: "entity_id", Reason: "is required"}
	}
	if strings.TrimSpace(c.Reason) == "" {
		return &domain.InvalidMatchError{Field: "reason", Reason: "corrections must say why"}
	}
	return validateEvent(c.EventNumber, c.PhaseA, c.PhaseB)
}

func validateEvent(eventNumber int, phaseA, phaseB domain.PhaseResult) error {
	if eventNumber < 1 {
		return &domain.InvalidMatchError{Field: "event_number", Reason: fmt.Sprintf("must be at least 1, got %d", eventNumber)}
	}
	if !phaseA.Valid() {
		return &domain.InvalidMatchError{Field: "phase_a", Reason: fmt.Sprintf("must be W or L, got %q", phaseA)}
	}
	if !phaseB.Valid() {
		return &domain.InvalidMatchError{Field: "phase_b", Reason: fmt.Sprintf("must be W or L, got %q", phaseB)}
	}
	return nil
}
