package hotkey

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/syntrixbase/searchsync/internal/metrics"
	"github.com/syntrixbase/searchsync/internal/retrieval"
	"golang.org/x/sync/errgroup"
)

// KeySource lists hot queries.
type KeySource interface {
	HotKeys(ctx context.Context, limit int) ([]string, error)
}

// TTLSource reports the TTL left on a cached request.
type TTLSource interface {
	Remaining(ctx context.Context, req retrieval.SearchRequest) (time.Duration, bool)
}

// Refresher recomputes and stores a request's results.
type Refresher interface {
	Refresh(ctx context.Context, req retrieval.SearchRequest) ([]retrieval.SearchResult, error)
	DefaultTopK() int
}

// Warmer re-runs hot queries whose cache entry is absent or near expiry,
// once at startup and then every WarmupInterval.
type Warmer struct {
	keys    KeySource
	ttl     TTLSource
	engine  Refresher
	cfg     Config
	logger  *slog.Logger
	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWarmer creates a Warmer.
func NewWarmer(keys KeySource, ttl TTLSource, engine Refresher, cfg Config, logger *slog.Logger) *Warmer {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Warmer{keys: keys, ttl: ttl, engine: engine, cfg: cfg, logger: logger.With("component", "warmup")}
}

// Start launches the warmup loop. It returns immediately.
func (w *Warmer) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		w.cycle(ctx)

		ticker := time.NewTicker(w.cfg.WarmupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.cycle(ctx)
			}
		}
	}(w.done)
}

// Stop cancels the loop and waits up to StopTimeout for it to exit.
func (w *Warmer) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()

	select {
	case <-done:
	case <-time.After(w.cfg.StopTimeout):
		w.logger.Warn("Warmup did not stop in time", "timeout", w.cfg.StopTimeout)
	}
}

func (w *Warmer) cycle(ctx context.Context) {
	n, err := w.WarmNow(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("Warmup cycle failed", "error", err)
		}
		return
	}
	if n > 0 {
		w.logger.Info("Warmup cycle finished", "refreshed", n)
	}
}

// WarmNow refreshes every hot query that needs it and returns how many
// were refreshed. Overlapping calls are skipped.
func (w *Warmer) WarmNow(ctx context.Context) (int, error) {
	if !w.running.CompareAndSwap(false, true) {
		w.logger.Debug("Warmup already running")
		return 0, nil
	}
	defer w.running.Store(false)

	keys, err := w.keys.HotKeys(ctx, w.cfg.WarmupCount)
	if err != nil {
		return 0, err
	}

	var refreshed atomic.Int64
	var g errgroup.Group
	g.SetLimit(w.cfg.WarmupConcurrency)
	for _, query := range keys {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			req := retrieval.SearchRequest{
				Query:      query,
				TopK:       w.engine.DefaultTopK(),
				SourceType: retrieval.SourceHybrid,
			}
			if err := req.Normalize(w.engine.DefaultTopK()); err != nil {
				return nil
			}
			if left, ok := w.ttl.Remaining(ctx, req); ok && left >= w.cfg.NearExpiry {
				return nil
			}
			if _, err := w.engine.Refresh(ctx, req); err != nil {
				w.logger.Warn("Failed to refresh hot query", "query", query, "error", err)
				return nil
			}
			refreshed.Add(1)
			metrics.WarmupRefreshed.Inc()
			return nil
		})
	}
	_ = g.Wait()
	return int(refreshed.Load()), ctx.Err()
}
