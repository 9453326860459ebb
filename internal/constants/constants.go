package constants

import "time"

const (
	DatabaseTimeout  = 5 * time.Second
	RequestTimeout   = 30 * time.Second
	RecomputeTimeout = 10 * time.Second
	PublishTimeout   = 3 * time.Second
)

const (
	DBMaxOpenConns    = 16
	DBMaxIdleConns    = 4
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
	DBBatchSize       = 100
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultLeaderboard = 50
	MaxLeaderboard     = 1000
	ThresholdsID       = "global"
)
