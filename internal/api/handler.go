// Package api exposes the retrieval engine and the operator endpoints over
// HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/syntrixbase/searchsync/internal/resync"
	"github.com/syntrixbase/searchsync/internal/retrieval"
	"github.com/syntrixbase/searchsync/internal/rowstore"
	"github.com/syntrixbase/searchsync/internal/server"
)

// Searcher answers search requests.
type Searcher interface {
	Search(ctx context.Context, req retrieval.SearchRequest) ([]retrieval.SearchResult, error)
}

// Syncer runs resync strategies.
type Syncer interface {
	Run(ctx context.Context, req resync.Request) (resync.Result, error)
	Tables() []rowstore.Table
}

// CacheInvalidator drops cached search results.
type CacheInvalidator interface {
	InvalidateAll(ctx context.Context) (int, error)
}

// Warmer refreshes hot queries on demand.
type Warmer interface {
	WarmNow(ctx context.Context) (int, error)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

const (
	DefaultMaxBodySize = 1 << 20

	DefaultRequestTimeout = 30 * time.Second

	// LongRequestTimeout covers admin syncs over whole tables.
	LongRequestTimeout = 30 * time.Minute
)

// Error codes
const (
	ErrCodeBadRequest     = "BAD_REQUEST"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeUnavailable    = "UNAVAILABLE"
	ErrCodeInternalError  = "INTERNAL_ERROR"
	ErrCodeRequestTooBig  = "REQUEST_TOO_LARGE"
	statusClientCancelled = 499
)

// Handler serves the HTTP surface. Dependencies left nil disable their
// routes with 503.
type Handler struct {
	searcher Searcher
	syncer   Syncer
	cache    CacheInvalidator
	warmer   Warmer
	checks   map[string]HealthCheck
	logger   *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

func WithSyncer(s Syncer) Option { return func(h *Handler) { h.syncer = s } }

func WithCache(c CacheInvalidator) Option { return func(h *Handler) { h.cache = c } }

func WithWarmer(w Warmer) Option { return func(h *Handler) { h.warmer = w } }

// WithHealthCheck adds a named dependency check to GET /health.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(h *Handler) { h.checks[name] = check }
}

// NewHandler creates a Handler.
func NewHandler(searcher Searcher, logger *slog.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		searcher: searcher,
		checks:   make(map[string]HealthCheck),
		logger:   logger.With("component", "api"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers every route on srv.
func (h *Handler) RegisterRoutes(srv *server.Server) {
	srv.Handle("POST /search/template", withTimeout(maxBodySize(h.handleSearchTemplate, DefaultMaxBodySize), DefaultRequestTimeout))
	srv.Handle("GET /search/quick", withTimeout(h.handleSearchQuick, DefaultRequestTimeout))

	srv.Handle("POST /sync/{strategy}", withTimeout(h.handleSync, LongRequestTimeout))
	srv.Handle("DELETE /search/cache", withTimeout(h.handleInvalidateCache, DefaultRequestTimeout))
	srv.Handle("POST /search/cache/warmup", withTimeout(h.handleWarmup, LongRequestTimeout))

	srv.Handle("GET /health", withTimeout(h.handleHealth, DefaultRequestTimeout))
	srv.Handle("GET /metrics", promhttp.Handler())
}

// writeServiceError maps component errors to HTTP responses.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, retrieval.ErrInvalidRequest), errors.Is(err, resync.ErrInvalidRequest):
		server.WriteError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, resync.ErrUnknownTable):
		server.WriteError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, context.Canceled):
		w.WriteHeader(statusClientCancelled)
	default:
		h.logger.Error(message, "error", err)
		server.WriteError(w, http.StatusInternalServerError, ErrCodeInternalError, message)
	}
}

func unavailable(w http.ResponseWriter, what string) {
	server.WriteError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, what+" is not enabled")
}

func maxBodySize(next http.HandlerFunc, maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		next(w, r)
	}
}

func withTimeout(next http.HandlerFunc, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		next(w, r.WithContext(ctx))
	}
}
