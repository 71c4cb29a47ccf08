package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/syntrixbase/searchsync/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// LexicalSource runs a full-text query.
type LexicalSource interface {
	Search(ctx context.Context, req SearchRequest) ([]SearchResult, error)
}

// VectorSource runs a nearest-neighbour query for an embedded query.
type VectorSource interface {
	Search(ctx context.Context, vector []float32, req SearchRequest) ([]SearchResult, error)
}

// Cache stores fused results per normalized request. Implementations treat
// every failure as a miss.
type Cache interface {
	Get(ctx context.Context, req SearchRequest) ([]SearchResult, bool)
	Put(ctx context.Context, req SearchRequest, results []SearchResult, hot bool)
}

// AccessRecorder counts query accesses and reports whether a query is hot.
type AccessRecorder interface {
	RecordAccess(ctx context.Context, query string) bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLexical sets the full-text source.
func WithLexical(s LexicalSource) Option {
	return func(e *Engine) { e.lexical = s }
}

// WithVector sets the vector source and the embedder for its queries.
func WithVector(s VectorSource, embedder Embedder) Option {
	return func(e *Engine) {
		e.vector = s
		e.embedder = embedder
	}
}

// WithReranker sets the reranker used for requests with EnableRerank.
func WithReranker(r Reranker) Option {
	return func(e *Engine) { e.reranker = r }
}

// WithCache sets the result cache.
func WithCache(c Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithAccessRecorder sets the hot-key detector.
func WithAccessRecorder(r AccessRecorder) Option {
	return func(e *Engine) { e.access = r }
}

// Engine answers search requests.
type Engine struct {
	cfg      Config
	logger   *slog.Logger
	lexical  LexicalSource
	vector   VectorSource
	embedder Embedder
	reranker Reranker
	cache    Cache
	access   AccessRecorder
}

// NewEngine creates an Engine. Sources that are not set contribute nothing.
func NewEngine(cfg Config, logger *slog.Logger, opts ...Option) *Engine {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{cfg: cfg, logger: logger.With("component", "retrieval")}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DefaultTopK is the topK applied to requests without one.
func (e *Engine) DefaultTopK() int {
	return e.cfg.DefaultTopK
}

// Search validates req, serves it from cache when possible and otherwise
// runs the fan-out, fusion and rerank stages. Source and cache failures
// degrade the result; only validation errors are returned.
func (e *Engine) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	start := time.Now()
	defer func() {
		metrics.SearchDuration.WithLabelValues("engine").Observe(time.Since(start).Seconds())
	}()

	if err := req.Normalize(e.cfg.DefaultTopK); err != nil {
		return nil, err
	}

	hot := false
	if e.access != nil {
		hot = e.access.RecordAccess(ctx, req.Query)
	}
	if e.cache != nil {
		if cached, ok := e.cache.Get(ctx, req); ok {
			return cached, nil
		}
	}

	results := e.execute(ctx, req)
	if e.cache != nil && len(results) > 0 {
		e.cache.Put(ctx, req, results, hot)
	}
	e.logger.Debug("Search finished", "query", req.Query, "source_type", req.SourceType, "results", len(results))
	return results, nil
}

// Refresh recomputes req bypassing the cache lookup and stores the result
// with the hot TTL.
func (e *Engine) Refresh(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	if err := req.Normalize(e.cfg.DefaultTopK); err != nil {
		return nil, err
	}
	results := e.execute(ctx, req)
	if e.cache != nil && len(results) > 0 {
		e.cache.Put(ctx, req, results, true)
	}
	return results, nil
}

func (e *Engine) execute(ctx context.Context, req SearchRequest) []SearchResult {
	lexical, vector := e.fanOut(ctx, req)

	var fused []SearchResult
	if req.weighted() {
		fused = WeightedFusion(req.weights(), lexical, vector)
	} else {
		fused = ReciprocalRankFusion(lexical, vector)
	}

	if req.EnableRerank && e.reranker != nil && len(fused) > 0 {
		fused = e.rerank(ctx, req.Query, fused)
	}
	return rank(fused, req.TopK)
}

// fanOut queries the sources selected by req concurrently. A failed or
// timed-out source yields an empty list.
func (e *Engine) fanOut(ctx context.Context, req SearchRequest) (lexical, vector []SearchResult) {
	var g errgroup.Group

	if req.SourceType.usesLexical() && e.lexical != nil {
		g.Go(func() error {
			lexical = e.guarded(ctx, SourceLexical, func(ctx context.Context) ([]SearchResult, error) {
				return e.lexical.Search(ctx, req)
			})
			return nil
		})
	}
	if req.SourceType.usesVector() && e.vector != nil && e.embedder != nil {
		g.Go(func() error {
			vector = e.guarded(ctx, SourceVector, func(ctx context.Context) ([]SearchResult, error) {
				vec, err := e.embedder.Embed(ctx, req.Query)
				if err != nil {
					return nil, err
				}
				return e.vector.Search(ctx, Normalize(vec), req)
			})
			return nil
		})
	}

	_ = g.Wait()
	return lexical, vector
}

func (e *Engine) guarded(ctx context.Context, source SourceType, fn func(context.Context) ([]SearchResult, error)) []SearchResult {
	label := sourceLabel(source)
	ctx, cancel := context.WithTimeout(ctx, e.cfg.SourceTimeout)
	defer cancel()

	start := time.Now()
	results, err := fn(ctx)
	metrics.SearchDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SearchFallbacks.WithLabelValues(label).Inc()
		e.logger.Warn("Search source failed, continuing without it", "source", label, "error", err)
		return nil
	}
	return results
}

func (e *Engine) rerank(ctx context.Context, query string, results []SearchResult) []SearchResult {
	passages := make([]string, len(results))
	for i, r := range results {
		passages[i] = r.passage()
	}

	scores, err := e.reranker.Rerank(ctx, query, passages)
	if err == nil && len(scores) != len(results) {
		err = errScoreCount
	}
	if err != nil {
		metrics.SearchFallbacks.WithLabelValues("rerank").Inc()
		e.logger.Warn("Rerank failed, keeping fused order", "error", err)
		return results
	}

	reranked := make([]SearchResult, len(results))
	copy(reranked, results)
	for i := range reranked {
		reranked[i].Score = scores[i]
	}
	sort.SliceStable(reranked, func(i, j int) bool {
		return reranked[i].Score > reranked[j].Score
	})
	return reranked
}

func sourceLabel(t SourceType) string {
	if t == SourceVector {
		return "vector"
	}
	return "lexical"
}
