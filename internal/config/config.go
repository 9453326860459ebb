package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

type Config struct {
	DBPath   string
	LogLevel string

	FormulaVersion string
	FormulaFile    string

	TierRefreshInterval time.Duration
	ReconcileWorkers    int
	ReconcileEpsilon    float64

	MetricsAddr        string
	RedisURL           string
	RedisThresholdsKey string
}

func Load(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	refresh, err := getEnvDuration("TIER_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, err
	}
	workers, err := getEnvInt("RECONCILE_WORKERS", 4)
	if err != nil {
		return nil, err
	}
	epsilon, err := getEnvFloat("RECONCILE_EPSILON", 0.1)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DBPath:              getEnv("DB_PATH", "kvk.db"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		FormulaVersion:      getEnv("FORMULA_VERSION", "v3"),
		FormulaFile:         getEnv("FORMULA_FILE", ""),
		TierRefreshInterval: refresh,
		ReconcileWorkers:    workers,
		ReconcileEpsilon:    epsilon,
		MetricsAddr:         getEnv("METRICS_ADDR", ":9090"),
		RedisURL:            getEnv("REDIS_URL", ""),
		RedisThresholdsKey:  getEnv("REDIS_THRESHOLDS_KEY", "kvk:tier_thresholds"),
	}

	if cfg.ReconcileWorkers < 1 {
		return nil, fmt.Errorf("RECONCILE_WORKERS must be at least 1, got %d", cfg.ReconcileWorkers)
	}
	if cfg.ReconcileEpsilon < 0 {
		return nil, fmt.Errorf("RECONCILE_EPSILON must not be negative, got %v", cfg.ReconcileEpsilon)
	}
	if cfg.TierRefreshInterval <= 0 {
		return nil, fmt.Errorf("TIER_REFRESH_INTERVAL must be positive, got %s", cfg.TierRefreshInterval)
	}

	logger.Info().
		Str("db_path", cfg.DBPath).
		Str("log_level", cfg.LogLevel).
		Str("formula_version", cfg.FormulaVersion).
		Str("formula_file", cfg.FormulaFile).
		Dur("tier_refresh_interval", cfg.TierRefreshInterval).
		Int("reconcile_workers", cfg.ReconcileWorkers).
		Float64("reconcile_epsilon", cfg.ReconcileEpsilon).
		Str("metrics_addr", cfg.MetricsAddr).
		Bool("redis_enabled", cfg.RedisURL != "").
		Msg("configuration loaded")

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

var Module = fx.Provide(Load)
