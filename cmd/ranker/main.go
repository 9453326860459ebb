package main

import (
	"context"
	"database/sql"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"kvk-tracker/internal/config"
	"kvk-tracker/internal/constants"
	fxmodules "kvk-tracker/internal/fx"
	"kvk-tracker/internal/middleware"
	"kvk-tracker/internal/publish"
	"kvk-tracker/internal/service"
)

func main() {
	fx.New(
		fxmodules.Module,
		fx.Invoke(runRanker),
	).Run()
}

// ranker keeps tier thresholds fresh and serves /metrics until stopped.
type ranker struct {
	srv        *http.Server
	thresholds *service.ThresholdService
	publisher  publish.Publisher
	cfg        *config.Config
	db         *sql.DB
	logger     zerolog.Logger

	stopRefresh context.CancelFunc
	done        chan struct{}
}

func runRanker(
	lc fx.Lifecycle,
	thresholds *service.ThresholdService,
	publisher publish.Publisher,
	cfg *config.Config,
	db *sql.DB,
	logger zerolog.Logger,
) {
	r := newRanker(thresholds, publisher, cfg, db, logger)
	lc.Append(fx.Hook{
		OnStart: r.start,
		OnStop:  r.stop,
	})
}

func newRanker(
	thresholds *service.ThresholdService,
	publisher publish.Publisher,
	cfg *config.Config,
	db *sql.DB,
	logger zerolog.Logger,
) *ranker {
	return &ranker{
		srv: &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: newHandler(db, logger),
		},
		thresholds:  thresholds,
		publisher:   publisher,
		cfg:         cfg,
		db:          db,
		logger:      logger,
		stopRefresh: func() {},
		done:        make(chan struct{}),
	}
}

func newHandler(db *sql.DB, logger zerolog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), constants.DatabaseTimeout)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return middleware.RequestLog(logger)(mux)
}

func (r *ranker) start(ctx context.Context) error {
	if err := r.thresholds.Load(ctx); err != nil {
		return err
	}
	if _, err := r.thresholds.Refresh(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("initial tier threshold refresh failed")
	}

	refreshCtx, stopRefresh := context.WithCancel(context.Background())
	r.stopRefresh = stopRefresh
	go func() {
		defer close(r.done)
		r.thresholds.Run(refreshCtx, r.cfg.TierRefreshInterval)
	}()

	go func() {
		r.logger.Info().Str("addr", r.srv.Addr).Msg("metrics server starting")
		if err := r.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Fatal().Err(err).Msg("metrics server failed")
		}
	}()
	return nil
}

// stop drains the HTTP server before the refresher, publisher and database
// it depends on are torn down.
func (r *ranker) stop(ctx context.Context) error {
	r.logger.Info().Msg("shutting down ranker")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()

	var shutdownErr error
	if err := r.srv.Shutdown(shutdownCtx); err != nil {
		r.logger.Error().Err(err).Msg("metrics server shutdown failed")
		shutdownErr = err
	}

	r.stopRefresh()
	select {
	case <-r.done:
	case <-shutdownCtx.Done():
		r.logger.Warn().Msg("tier threshold refresher did not stop in time")
	}

	if c, ok := r.publisher.(io.Closer); ok {
		if err := c.Close(); err != nil {
			r.logger.Warn().Err(err).Msg("error closing threshold publisher")
		}
	}

	if err := r.db.Close(); err != nil {
		r.logger.Warn().Err(err).Msg("error closing database connection")
	}

	if shutdownErr != nil {
		return shutdownErr
	}
	r.logger.Info().Msg("ranker stopped gracefully")
	return nil
}
