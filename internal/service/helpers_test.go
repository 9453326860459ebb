package service

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"kvk-tracker/internal/config"
	"kvk-tracker/internal/database"
	"kvk-tracker/internal/db"
	"kvk-tracker/internal/domain"
	"kvk-tracker/internal/publish"
	"kvk-tracker/internal/repository"
	"kvk-tracker/internal/scoring"
	"kvk-tracker/internal/tier"
)

type harness struct {
	sqlDB      *sql.DB
	queries    *db.Queries
	formulas   *scoring.Registry
	holder     *tier.Holder
	ledgerRepo *repository.LedgerRepository
	summaries  *repository.SummaryRepository
	runs       *repository.ReconciliationRepository

	ranking    *RankingService
	ledger     *LedgerService
	thresholds *ThresholdService
	reconcile  *ReconcileService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	cfg := &config.Config{
		DBPath:           filepath.Join(t.TempDir(), "kvk.db"),
		FormulaVersion:   scoring.V3.Version,
		ReconcileWorkers: 2,
		ReconcileEpsilon: 0.1,
	}
	logger := zerolog.Nop()

	sqlDB, err := database.New(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	h := &harness{
		sqlDB:    sqlDB,
		queries:  db.New(sqlDB),
		formulas: scoring.NewRegistry(),
		holder:   tier.NewHolder(),
	}
	h.ledgerRepo = repository.NewLedgerRepository(sqlDB, h.queries, logger)
	h.summaries = repository.NewSummaryRepository(sqlDB, h.queries, logger)
	h.runs = repository.NewReconciliationRepository(sqlDB, h.queries, logger)

	h.ranking = NewRankingService(h.ledgerRepo, h.summaries, h.formulas, h.holder, logger)
	h.ledger = NewLedgerService(h.ledgerRepo, h.ranking, logger)
	h.thresholds = NewThresholdService(
		h.summaries,
		repository.NewThresholdRepository(h.queries, logger),
		h.holder,
		publish.NopPublisher{},
		logger,
	)
	h.reconcile = NewReconcileService(h.ledgerRepo, h.summaries, h.runs, h.ranking, h.formulas, cfg, logger)
	return h
}

func (h *harness) match(t *testing.T, a, b string, event int, phaseA, phaseB domain.PhaseResult) {
	t.Helper()
	_, err := h.ledger.AppendMatch(t.Context(), domain.MatchSubmission{
		EntityA:     a,
		EntityB:     b,
		EventNumber: event,
		PhaseA:      phaseA,
		PhaseB:      phaseB,
	})
	require.NoError(t, err)
}

func (h *harness) summary(t *testing.T, entityID string) domain.EntitySummary {
	t.Helper()
	s, err := h.summaries.Get(t.Context(), entityID)
	require.NoError(t, err)
	require.NotNil(t, s, "no summary for %s", entityID)
	return *s
}

// season plays a small round robin so several entities end up scored.
func (h *harness) season(t *testing.T) {
	t.Helper()
	h.match(t, "k1", "k2", 1, domain.Win, domain.Win)
	h.match(t, "k3", "k4", 1, domain.Win, domain.Loss)
	h.match(t, "k1", "k3", 2, domain.Win, domain.Win)
	h.match(t, "k2", "k4", 2, domain.Loss, domain.Win)
	h.match(t, "k1", "k4", 3, domain.Loss, domain.Win)
	h.match(t, "k2", "k3", 3, domain.Loss, domain.Loss)
}
