// Package cache is the two-tier search result cache: a bounded in-process
// LRU in front of Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"github.com/syntrixbase/searchsync/internal/metrics"
	"github.com/syntrixbase/searchsync/internal/retrieval"
)

// Cache stores fused search results. Every failure is logged and counted
// as a miss or a no-op.
type Cache struct {
	local  *expirable.LRU[string, []retrieval.SearchResult]
	client redis.Cmdable
	cfg    Config
	logger *slog.Logger
}

// New creates a Cache. A nil client disables the distributed tier.
func New(client redis.Cmdable, cfg Config, logger *slog.Logger) *Cache {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		local:  expirable.NewLRU[string, []retrieval.SearchResult](cfg.LocalSize, nil, cfg.LocalTTL),
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "search-cache"),
	}
}

// Get returns the cached results of req. A distributed hit populates the
// local tier.
func (c *Cache) Get(ctx context.Context, req retrieval.SearchRequest) ([]retrieval.SearchResult, bool) {
	key := Key(req)
	if results, ok := c.local.Get(key); ok {
		metrics.CacheRequests.WithLabelValues("local", "hit").Inc()
		return clone(results), true
	}
	metrics.CacheRequests.WithLabelValues("local", "miss").Inc()
	if c.client == nil {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.CacheRequests.WithLabelValues("redis", "miss").Inc()
		return nil, false
	}
	if err != nil {
		metrics.CacheRequests.WithLabelValues("redis", "error").Inc()
		c.logger.Warn("Cache read failed", "key", key, "error", err)
		return nil, false
	}

	var results []retrieval.SearchResult
	if err := json.Unmarshal(data, &results); err != nil {
		metrics.CacheRequests.WithLabelValues("redis", "error").Inc()
		c.logger.Warn("Dropping undecodable cache entry", "key", key, "error", err)
		return nil, false
	}
	metrics.CacheRequests.WithLabelValues("redis", "hit").Inc()
	c.local.Add(key, clone(results))
	return results, true
}

// Put stores results for req. Hot entries get the longer distributed TTL.
func (c *Cache) Put(ctx context.Context, req retrieval.SearchRequest, results []retrieval.SearchResult, hot bool) {
	key := Key(req)
	c.local.Add(key, clone(results))
	if c.client == nil {
		return
	}

	data, err := json.Marshal(results)
	if err != nil {
		c.logger.Warn("Failed to encode cache entry", "key", key, "error", err)
		return
	}
	ttl := c.cfg.TTL
	if hot {
		ttl = c.cfg.HotTTL
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.logger.Warn("Cache write failed", "key", key, "error", err)
	}
}

// Remaining returns the distributed TTL left on req's entry. ok is false
// when the entry is absent or the distributed tier is unavailable.
func (c *Cache) Remaining(ctx context.Context, req retrieval.SearchRequest) (time.Duration, bool) {
	if c.client == nil {
		return 0, false
	}
	key := Key(req)
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	ttl, err := c.client.TTL(ctx, key).Result()
	if err != nil {
		c.logger.Warn("Cache ttl lookup failed", "key", key, "error", err)
		return 0, false
	}
	switch {
	case ttl == -2:
		return 0, false
	case ttl < 0:
		// no expiry
		return c.cfg.HotTTL, true
	default:
		return ttl, true
	}
}

// Invalidate drops req's entry from both tiers.
func (c *Cache) Invalidate(ctx context.Context, req retrieval.SearchRequest) {
	key := Key(req)
	c.local.Remove(key)
	if c.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Warn("Cache invalidation failed", "key", key, "error", err)
	}
}

// InvalidateAll drops every search result entry and returns the number of
// distributed entries removed.
func (c *Cache) InvalidateAll(ctx context.Context) (int, error) {
	c.local.Purge()
	if c.client == nil {
		return 0, nil
	}

	removed := 0
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, KeyPrefix+"*", 100).Result()
		if err != nil {
			return removed, err
		}
		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, err
			}
			removed += int(n)
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	c.logger.Info("Search cache invalidated", "removed", removed)
	return removed, nil
}

func clone(results []retrieval.SearchResult) []retrieval.SearchResult {
	if results == nil {
		return nil
	}
	out := make([]retrieval.SearchResult, len(results))
	copy(out, results)
	return out
}

var _ retrieval.Cache = (*Cache)(nil)
