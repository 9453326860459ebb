package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"kvk-tracker/internal/config"
	"kvk-tracker/internal/domain"
	"kvk-tracker/internal/metrics"
	"kvk-tracker/internal/repository"
	"kvk-tracker/internal/scoring"
)

const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunCancelled = "cancelled"
)

type ReconcileOptions struct {
	FormulaVersion string // empty means the current formula
	Workers        int
	Epsilon        float64
	DryRun         bool
	ResumeRunID    string
}

// ReconcileService recomputes every entity with a chosen formula and
// records a before/after entry per entity. Each entity commits on its own,
// so a cancelled or crashed run can be resumed.
type ReconcileService struct {
	ledger    *repository.LedgerRepository
	summaries *repository.SummaryRepository
	runs      *repository.ReconciliationRepository
	ranking   *RankingService
	formulas  *scoring.Registry
	cfg       *config.Config
	logger    zerolog.Logger
}

func NewReconcileService(
	ledger *repository.LedgerRepository,
	summaries *repository.SummaryRepository,
	runs *repository.ReconciliationRepository,
	ranking *RankingService,
	formulas *scoring.Registry,
	cfg *config.Config,
	logger zerolog.Logger,
) *ReconcileService {
	return &ReconcileService{
		ledger:    ledger,
		summaries: summaries,
		runs:      runs,
		ranking:   ranking,
		formulas:  formulas,
		cfg:       cfg,
		logger:    logger,
	}
}

// DefaultOptions fills options from configuration.
func (s *ReconcileService) DefaultOptions() ReconcileOptions {
	return ReconcileOptions{
		Workers: s.cfg.ReconcileWorkers,
		Epsilon: s.cfg.ReconcileEpsilon,
	}
}

// Run reconciles every known entity. Cancelling ctx stops scheduling new
// entities; entities already in flight finish and stay committed.
func (s *ReconcileService) Run(ctx context.Context, opts ReconcileOptions) (domain.ReconcileReport, error) {
	if opts.Workers < 1 {
		opts.Workers = 1
	}

	// bookkeeping outlives cancellation so a stopped run can be resumed
	work := context.WithoutCancel(ctx)

	run, settled, err := s.startRun(work, opts)
	if err != nil {
		return domain.ReconcileReport{}, err
	}

	f, err := s.formulas.Get(run.FormulaVersion)
	if err != nil {
		return domain.ReconcileReport{}, err
	}

	logger := s.logger.With().Str("run_id", run.ID).Logger()
	work = logger.WithContext(work)

	ids, err := s.entityIDs(work)
	if err != nil {
		return domain.ReconcileReport{}, err
	}

	logger.Info().
		Str("formula_version", run.FormulaVersion).
		Bool("dry_run", run.DryRun).
		Int("entities", len(ids)).
		Int("already_settled", len(settled)).
		Int("workers", opts.Workers).
		Msg("reconciliation started")

	thresholds := s.ranking.tiers.Load()

	g := new(errgroup.Group)
	g.SetLimit(opts.Workers)

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if _, done := settled[id]; done {
			continue
		}

		g.Go(func() error {
			s.reconcileEntity(work, run, f, thresholds, opts.Epsilon, id)
			return nil
		})
	}
	_ = g.Wait()

	run.Status = RunCompleted
	if ctx.Err() != nil {
		run.Status = RunCancelled
	}

	report, err := s.finish(work, run)
	if err != nil {
		return domain.ReconcileReport{}, err
	}

	logger.Info().
		Str("status", report.Run.Status).
		Int("processed", report.Run.Processed).
		Int("changed", report.Run.Changed).
		Int("failed", report.Run.Failed).
		Msg("reconciliation finished")

	return report, nil
}

// Report returns a stored run with every entry that is not unchanged.
func (s *ReconcileService) Report(ctx context.Context, runID string) (domain.ReconcileReport, error) {
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return domain.ReconcileReport{}, err
	}

	entries, err := s.runs.Entries(ctx, runID)
	if err != nil {
		return domain.ReconcileReport{}, err
	}

	return domain.ReconcileReport{Run: run, Entries: notable(entries)}, nil
}

func (s *ReconcileService) startRun(ctx context.Context, opts ReconcileOptions) (domain.ReconcileRun, map[string]struct{}, error) {
	if opts.ResumeRunID != "" {
		run, err := s.runs.GetRun(ctx, opts.ResumeRunID)
		if err != nil {
			return run, nil, err
		}
		if opts.FormulaVersion != "" && opts.FormulaVersion != run.FormulaVersion {
			return run, nil, fmt.Errorf("run %s used formula %s, not %s", run.ID, run.FormulaVersion, opts.FormulaVersion)
		}

		settled, err := s.runs.Settled(ctx, run.ID)
		if err != nil {
			return run, nil, err
		}
		if err := s.runs.MarkRunning(ctx, run.ID); err != nil {
			return run, nil, err
		}
		run.Status = RunRunning
		return run, settled, nil
	}

	version := opts.FormulaVersion
	if version == "" {
		version = s.formulas.Current().Version()
	}
	if _, err := s.formulas.Get(version); err != nil {
		return domain.ReconcileRun{}, nil, err
	}

	run := domain.ReconcileRun{
		ID:             uuid.NewString(),
		FormulaVersion: version,
		DryRun:         opts.DryRun,
		Status:         RunRunning,
		StartedAt:      time.Now().UTC(),
	}
	if err := s.runs.CreateRun(ctx, run); err != nil {
		return run, nil, err
	}
	return run, map[string]struct{}{}, nil
}

// entityIDs is every entity with ledger rows or a stored summary.
func (s *ReconcileService) entityIDs(ctx context.Context) ([]string, error) {
	fromLedger, err := s.ledger.ListEntityIDs(ctx)
	if err != nil {
		return nil, err
	}
	fromSummaries, err := s.summaries.ListEntityIDs(ctx)
	if err != nil {
		return nil, err
	}

	ids := append(fromLedger, fromSummaries...)
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

func (s *ReconcileService) reconcileEntity(
	ctx context.Context,
	run domain.ReconcileRun,
	f *scoring.Calibrated,
	thresholds domain.TierThresholds,
	epsilon float64,
	entityID string,
) {
	logger := zerolog.Ctx(ctx).With().Str("entity_id", entityID).Logger()

	entry, err := s.runs.Reconcile(ctx, entityID, func(state repository.EntityState) (domain.ReconcileEntry, *domain.EntitySummary) {
		return assess(run, f, thresholds, epsilon, entityID, state)
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to reconcile entity")
		entry = domain.ReconcileEntry{
			RunID:    run.ID,
			EntityID: entityID,
			Status:   domain.ReconcileFailed,
			Error:    err.Error(),
		}
		if err := s.runs.Commit(ctx, entry, nil); err != nil {
			logger.Error().Err(err).Msg("failed to commit reconciliation entry")
		}
		metrics.ReconcileEntities.WithLabelValues(string(domain.ReconcileFailed)).Inc()
		return
	}
	metrics.ReconcileEntities.WithLabelValues(string(entry.Status)).Inc()

	switch entry.Status {
	case domain.ReconcileInconsistent:
		logger.Warn().Str("error", entry.Error).Msg("entity flagged for manual review")
	case domain.ReconcileFailed:
		logger.Error().Str("error", entry.Error).Msg("failed to reconcile entity")
	case domain.ReconcileChanged:
		logger.Info().
			Float64("delta", entry.Delta()).
			Str("old_tier", string(entry.OldTier)).
			Str("new_tier", string(entry.NewTier)).
			Msg("entity score moved")
	}
}

// assess compares the stored summary with a fresh evaluation. Entities
// whose ledger pairs are broken keep their stored row. The summary to
// write is nil on a dry run or when nothing could be evaluated.
func assess(
	run domain.ReconcileRun,
	f *scoring.Calibrated,
	thresholds domain.TierThresholds,
	epsilon float64,
	entityID string,
	state repository.EntityState,
) (domain.ReconcileEntry, *domain.EntitySummary) {
	entry := domain.ReconcileEntry{RunID: run.ID, EntityID: entityID}
	if state.Stored != nil {
		entry.OldScore = state.Stored.Score
		entry.OldTier = state.Stored.Tier
	}

	var err error
	var summary domain.EntitySummary
	if broken := state.Asymmetric; len(broken) > 0 {
		err = &domain.InconsistentSummaryError{
			EntityID: entityID,
			Detail:   fmt.Sprintf("%d ledger rows lack a mirrored opponent row (first: event %d)", len(broken), broken[0].EventNumber),
		}
	} else {
		summary, err = evaluate(entityID, state.Records, f, thresholds)
	}

	var inconsistent *domain.InconsistentSummaryError
	switch {
	case errors.As(err, &inconsistent):
		entry.Status = domain.ReconcileInconsistent
		entry.Error = err.Error()
		return entry, nil
	case err != nil:
		entry.Status = domain.ReconcileFailed
		entry.Error = err.Error()
		return entry, nil
	}

	entry.NewScore = summary.Score
	entry.NewTier = summary.Tier
	entry.Status = domain.ReconcileUnchanged
	if entry.Delta() > epsilon || entry.OldTier != entry.NewTier || (entry.OldScore == nil) != (entry.NewScore == nil) {
		entry.Status = domain.ReconcileChanged
	}
	if run.DryRun {
		return entry, nil
	}
	return entry, &summary
}

func (s *ReconcileService) finish(ctx context.Context, run domain.ReconcileRun) (domain.ReconcileReport, error) {
	entries, err := s.runs.Entries(ctx, run.ID)
	if err != nil {
		return domain.ReconcileReport{}, err
	}

	run.Processed, run.Changed, run.Failed = 0, 0, 0
	for _, e := range entries {
		run.Processed++
		switch e.Status {
		case domain.ReconcileChanged:
			run.Changed++
		case domain.ReconcileFailed, domain.ReconcileInconsistent:
			run.Failed++
		}
	}
	finished := time.Now().UTC()
	run.FinishedAt = &finished

	if err := s.runs.FinishRun(ctx, run); err != nil {
		return domain.ReconcileReport{}, err
	}

	return domain.ReconcileReport{Run: run, Entries: notable(entries)}, nil
}

func notable(entries []domain.ReconcileEntry) []domain.ReconcileEntry {
	out := make([]domain.ReconcileEntry, 0, len(entries))
	for _, e := range entries {
		if e.Status != domain.ReconcileUnchanged {
			out = append(out, e)
		}
	}
	return out
}
