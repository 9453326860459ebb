package logger

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

// New builds the process logger at LOG_LEVEL. The logger exists before the
// config, so it reads the environment (and .env) itself.
func New() zerolog.Logger {
	_ = godotenv.Load()
	return SetLevel(ParseLevel(os.Getenv("LOG_LEVEL")))
}

// SetLevel builds the process logger. Logs go to stderr so rankctl output
// on stdout stays clean.
func SetLevel(level zerolog.Level) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stderr).
		With().
		Timestamp().
		Caller().
		Logger()

	logger = logger.Level(level)

	return logger
}

// ParseLevel reads a LOG_LEVEL value, falling back to info.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

var Module = fx.Provide(New)
