package fx

import (
	"database/sql"

	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"kvk-tracker/internal/config"
	"kvk-tracker/internal/database"
	"kvk-tracker/internal/db"
	"kvk-tracker/internal/logger"
	"kvk-tracker/internal/publish"
	"kvk-tracker/internal/repository"
	"kvk-tracker/internal/scoring"
	"kvk-tracker/internal/service"
	"kvk-tracker/internal/tier"
)

func ProvideQueries(sqlDB *sql.DB) *db.Queries {
	return db.New(sqlDB)
}

// ProvideFormulas registers the built-in calibrations plus any from
// FORMULA_FILE, then selects FORMULA_VERSION as current.
func ProvideFormulas(cfg *config.Config, logger zerolog.Logger) (*scoring.Registry, error) {
	registry := scoring.NewRegistry()

	if cfg.FormulaFile != "" {
		cals, err := scoring.LoadCalibrations(cfg.FormulaFile)
		if err != nil {
			return nil, err
		}
		for _, cal := range cals {
			if err := registry.Register(cal); err != nil {
				return nil, err
			}
			logger.Info().Str("version", cal.Version).Str("file", cfg.FormulaFile).Msg("formula calibration loaded")
		}
	}

	if err := registry.SetCurrent(cfg.FormulaVersion); err != nil {
		return nil, err
	}
	logger.Info().Str("version", cfg.FormulaVersion).Strs("available", registry.Versions()).Msg("formula selected")
	return registry, nil
}

var Module = fx.Options(
	fx.Provide(logger.New),
	fx.Provide(config.Load),
	fx.Provide(database.New),
	fx.Provide(ProvideQueries),
	// repos
	fx.Provide(repository.NewLedgerRepository),
	fx.Provide(repository.NewSummaryRepository),
	fx.Provide(repository.NewThresholdRepository),
	fx.Provide(repository.NewReconciliationRepository),
	// scoring
	fx.Provide(ProvideFormulas),
	fx.Provide(tier.NewHolder),
	// publisher
	fx.Provide(publish.New),
	// svc
	fx.Provide(service.NewRankingService),
	fx.Provide(service.NewLedgerService),
	fx.Provide(service.NewThresholdService),
	fx.Provide(service.NewReconcileService),
)
