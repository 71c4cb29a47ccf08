// Package idempotency records which change messages were applied, so that
// redelivered messages are skipped within a bounded window.
package idempotency

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces processed-message markers.
const KeyPrefix = "msg:processed:"

// Config holds guard settings.
type Config struct {
	TTL     time.Duration `yaml:"ttl"`
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the default guard configuration.
func DefaultConfig() Config {
	return Config{
		TTL:     24 * time.Hour,
		Timeout: 500 * time.Millisecond,
	}
}

func (c *Config) ApplyDefaults() {
	if c.TTL == 0 {
		c.TTL = DefaultConfig().TTL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultConfig().Timeout
	}
}

func (c *Config) ApplyEnvOverrides() {}
func (c *Config) ResolvePaths(_, _ string) {}

func (c *Config) Validate() error {
	if c.TTL <= 0 {
		return fmt.Errorf("idempotency.ttl must be positive")
	}
	return nil
}

// Guard checks and marks message ids in Redis. Every store failure is
// treated as "not processed" so the pipeline keeps moving; the index write
// path is an upsert by id, which makes the resulting duplicates harmless.
type Guard struct {
	client redis.Cmdable
	cfg    Config
	logger *slog.Logger
}

// New creates a Guard.
func New(client redis.Cmdable, cfg Config, logger *slog.Logger) *Guard {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{client: client, cfg: cfg, logger: logger.With("component", "idempotency")}
}

// IsProcessed reports whether messageID was marked within the TTL.
func (g *Guard) IsProcessed(ctx context.Context, messageID string) bool {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	n, err := g.client.Exists(ctx, KeyPrefix+messageID).Result()
	if err != nil {
		g.logger.Warn("Idempotency check failed, treating as unprocessed", "message_id", messageID, "error", err)
		return false
	}
	return n > 0
}

// MarkProcessed records messageID for the configured TTL. Failures are
// logged only.
func (g *Guard) MarkProcessed(ctx context.Context, messageID string) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	if err := g.client.Set(ctx, KeyPrefix+messageID, "1", g.cfg.TTL).Err(); err != nil {
		g.logger.Warn("Failed to mark message processed", "message_id", messageID, "error", err)
	}
}
