package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/syntrixbase/searchsync/internal/resync"
	"github.com/syntrixbase/searchsync/internal/server"
)

// SyncTableResult is the outcome for one table of a sync request.
type SyncTableResult struct {
	Table      string `json:"table"`
	Count      int    `json:"count"`
	DurationMs int64  `json:"durationMs"`
}

// SyncResponse is the body of POST /sync/{strategy}.
type SyncResponse struct {
	Strategy string            `json:"strategy"`
	Count    int               `json:"count"`
	Tables   []SyncTableResult `json:"tables"`
}

// CountResponse is the body of the cache endpoints.
type CountResponse struct {
	Count int `json:"count"`
}

// handleSync runs a strategy over ?table=, or over every configured table
// when table is omitted. A single-row sync needs both table and id.
func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	if h.syncer == nil {
		unavailable(w, "sync")
		return
	}

	strategy, err := resync.ParseStrategy(r.PathValue("strategy"))
	if err != nil {
		h.writeServiceError(w, err, "Sync failed")
		return
	}

	q := r.URL.Query()
	since, err := parseSince(q.Get("since"))
	if err != nil {
		server.WriteError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	tables := []string{q.Get("table")}
	if tables[0] == "" {
		if strategy == resync.StrategySingle {
			server.WriteError(w, http.StatusBadRequest, ErrCodeBadRequest, "single sync needs table and id")
			return
		}
		tables = tables[:0]
		for _, t := range h.syncer.Tables() {
			tables = append(tables, t.Index())
		}
	}

	resp := SyncResponse{Strategy: strategy.String(), Tables: []SyncTableResult{}}
	for _, table := range tables {
		res, err := h.syncer.Run(r.Context(), resync.Request{
			Strategy: strategy,
			Table:    table,
			Since:    since,
			ID:       q.Get("id"),
		})
		if err != nil {
			h.writeServiceError(w, err, "Sync failed")
			return
		}
		resp.Count += res.Count
		resp.Tables = append(resp.Tables, SyncTableResult{
			Table:      res.Table,
			Count:      res.Count,
			DurationMs: res.Duration.Milliseconds(),
		})
	}
	server.WriteJSON(w, http.StatusOK, resp)
}

// parseSince accepts RFC 3339 or unix seconds. Empty means no override.
func parseSince(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid since %q: want RFC 3339 or unix seconds", raw)
	}
	return t, nil
}

func (h *Handler) handleInvalidateCache(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		unavailable(w, "cache")
		return
	}
	n, err := h.cache.InvalidateAll(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "Cache invalidation failed")
		return
	}
	h.logger.Info("Search cache invalidated", "count", n)
	server.WriteJSON(w, http.StatusOK, CountResponse{Count: n})
}

func (h *Handler) handleWarmup(w http.ResponseWriter, r *http.Request) {
	if h.warmer == nil {
		unavailable(w, "warmup")
		return
	}
	n, err := h.warmer.WarmNow(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "Warmup failed")
		return
	}
	server.WriteJSON(w, http.StatusOK, CountResponse{Count: n})
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	status := http.StatusOK
	if len(h.checks) > 0 {
		resp.Checks = make(map[string]string, len(h.checks))
	}
	for name, check := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := check(ctx)
		cancel()
		if err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	server.WriteJSON(w, status, resp)
}
