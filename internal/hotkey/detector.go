// Package hotkey counts query accesses in fixed windows, promotes frequent
// queries to a hot set and keeps their cached results warm.
package hotkey

import (
	"context"
	"log/slog"
	"sort"

	"github.com/redis/go-redis/v9"
	"github.com/syntrixbase/searchsync/internal/cache"
	"github.com/syntrixbase/searchsync/internal/metrics"
)

const (
	// StatPrefix namespaces per-query window counters.
	StatPrefix = "search:hot:stat:"
	// HotSetKey holds the normalized hot queries.
	HotSetKey = "search:hot:keys"
)

// Detector tracks query popularity in Redis. Store failures are logged and
// report the query as cold.
type Detector struct {
	client redis.Cmdable
	cfg    Config
	logger *slog.Logger
}

// NewDetector creates a Detector.
func NewDetector(client redis.Cmdable, cfg Config, logger *slog.Logger) *Detector {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{client: client, cfg: cfg, logger: logger.With("component", "hotkey")}
}

// RecordAccess counts one access of query and reports whether it is hot.
// The counter expires one window after its first access.
func (d *Detector) RecordAccess(ctx context.Context, query string) bool {
	norm := cache.NormalizeQuery(query)
	if norm == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	// INCR and EXPIRE NX share one MULTI; the window starts at the first access.
	statKey := StatPrefix + norm
	var incr *redis.IntCmd
	_, err := d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, statKey)
		pipe.ExpireNX(ctx, statKey, d.cfg.Window)
		return nil
	})
	if err != nil {
		d.logger.Warn("Failed to record query access", "query", norm, "error", err)
		return false
	}
	n := incr.Val()
	if n < int64(d.cfg.Threshold) {
		return d.isHot(ctx, norm)
	}

	added, err := d.client.SAdd(ctx, HotSetKey, norm).Result()
	if err != nil {
		d.logger.Warn("Failed to promote hot query", "query", norm, "error", err)
		return true
	}
	if err := d.client.Expire(ctx, HotSetKey, d.cfg.HotTTL).Err(); err != nil {
		d.logger.Warn("Failed to refresh hot set ttl", "error", err)
	}
	if added > 0 {
		metrics.HotKeyPromotions.Inc()
		d.logger.Info("Query promoted to hot set", "query", norm, "count", n)
	}
	return true
}

// IsHot reports whether query is in the hot set.
func (d *Detector) IsHot(ctx context.Context, query string) bool {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	return d.isHot(ctx, cache.NormalizeQuery(query))
}

func (d *Detector) isHot(ctx context.Context, norm string) bool {
	ok, err := d.client.SIsMember(ctx, HotSetKey, norm).Result()
	if err != nil {
		d.logger.Warn("Hot set lookup failed", "query", norm, "error", err)
		return false
	}
	return ok
}

// HotKeys returns up to limit hot queries in lexical order.
func (d *Detector) HotKeys(ctx context.Context, limit int) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	keys, err := d.client.SMembers(ctx, HotSetKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}

// Reset clears query's counter and hot membership.
func (d *Detector) Reset(ctx context.Context, query string) error {
	norm := cache.NormalizeQuery(query)
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	if err := d.client.Del(ctx, StatPrefix+norm).Err(); err != nil {
		return err
	}
	return d.client.SRem(ctx, HotSetKey, norm).Err()
}
