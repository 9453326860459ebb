// Package publish pushes tier threshold snapshots to readers outside the
// process.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"kvk-tracker/internal/config"
	"kvk-tracker/internal/domain"
)

type Publisher interface {
	Publish(ctx context.Context, t domain.TierThresholds) error
}

// Snapshot is the wire form of a threshold snapshot.
type Snapshot struct {
	Version    int64                 `json:"version"`
	Method     string                `json:"method"`
	Population int                   `json:"population"`
	Cuts       []domain.ThresholdCut `json:"cuts"`
	ComputedAt int64                 `json:"computed_at"`
}

// RedisPublisher stores the latest snapshot under a key and announces the
// new version on a channel of the same name.
type RedisPublisher struct {
	client *redis.Client
	key    string
	logger zerolog.Logger
}

func NewRedisPublisher(client *redis.Client, key string, logger zerolog.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, key: key, logger: logger}
}

func (p *RedisPublisher) Publish(ctx context.Context, t domain.TierThresholds) error {
	payload, err := json.Marshal(Snapshot{
		Version:    t.Version,
		Method:     t.Method,
		Population: t.Population,
		Cuts:       t.Cuts,
		ComputedAt: t.ComputedAt.Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode thresholds: %w", err)
	}

	pipe := p.client.TxPipeline()
	pipe.Set(ctx, p.key, payload, 0)
	pipe.Publish(ctx, p.key, t.Version)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish thresholds: %w", err)
	}

	p.logger.Debug().Str("key", p.key).Int64("version", t.Version).Msg("thresholds published")
	return nil
}

// Latest reads back the stored snapshot.
func (p *RedisPublisher) Latest(ctx context.Context) (*Snapshot, error) {
	raw, err := p.client.Get(ctx, p.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read thresholds: %w", err)
	}

	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to decode thresholds: %w", err)
	}
	return &s, nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, domain.TierThresholds) error { return nil }

// New returns a Redis publisher when REDIS_URL is set and a no-op one
// otherwise.
func New(cfg *config.Config, logger zerolog.Logger) (Publisher, error) {
	if cfg.RedisURL == "" {
		logger.Info().Msg("REDIS_URL not set, threshold publication disabled")
		return NopPublisher{}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}

	logger.Info().Str("addr", opts.Addr).Str("key", cfg.RedisThresholdsKey).Msg("threshold publication enabled")
	return NewRedisPublisher(redis.NewClient(opts), cfg.RedisThresholdsKey, logger), nil
}
