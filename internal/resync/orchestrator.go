// Package resync rebuilds search indexes from the system of record.
package resync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/syntrixbase/searchsync/internal/events"
	"github.com/syntrixbase/searchsync/internal/metrics"
	"github.com/syntrixbase/searchsync/internal/pipeline/bulk"
	"github.com/syntrixbase/searchsync/internal/rowstore"
	"github.com/syntrixbase/searchsync/internal/searchindex"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrInvalidRequest marks a request that can never succeed.
	ErrInvalidRequest = errors.New("invalid sync request")
	// ErrUnknownTable is returned for tables that are not configured.
	ErrUnknownTable = errors.New("unknown table")
)

// Watermarks persists the last incremental sync time per index.
type Watermarks interface {
	LastSync(table string) (time.Time, bool, error)
	SetLastSync(table string, t time.Time) error
}

// Orchestrator runs sync strategies. Row-level failures are logged and
// skipped; only failures to read the source or clear the index fail a run.
type Orchestrator struct {
	rows       rowstore.Reader
	index      searchindex.Index
	tables     []rowstore.Table
	watermarks Watermarks
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
}

// NewOrchestrator creates an Orchestrator. watermarks may be nil, in which
// case incremental syncs without Since start from the beginning.
func NewOrchestrator(rows rowstore.Reader, index searchindex.Index, tables []rowstore.Table, watermarks Watermarks, cfg Config, logger *slog.Logger) *Orchestrator {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		rows:       rows,
		index:      index,
		tables:     tables,
		watermarks: watermarks,
		cfg:        cfg,
		logger:     logger.With("component", "resync"),
		now:        time.Now,
	}
}

// Tables returns the configured tables.
func (o *Orchestrator) Tables() []rowstore.Table {
	return o.tables
}

func (o *Orchestrator) table(name string) (rowstore.Table, bool) {
	cfg := rowstore.Config{Tables: o.tables}
	return cfg.Table(name)
}

// Run executes req.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Result, error) {
	t, ok := o.table(req.Table)
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownTable, req.Table)
	}

	start := o.now()
	var count int
	var err error
	switch req.Strategy {
	case StrategyFull:
		count, err = o.fullSync(ctx, t)
	case StrategyIncremental:
		count, err = o.incrementalSync(ctx, t, req.Since)
	case StrategyDeleted:
		count, err = o.reconcile(ctx, t)
	case StrategySingle:
		if req.ID == "" {
			return Result{}, fmt.Errorf("%w: single sync needs an id", ErrInvalidRequest)
		}
		count, err = o.singleSync(ctx, t, req.ID)
	default:
		return Result{}, fmt.Errorf("%w: unknown strategy %d", ErrInvalidRequest, req.Strategy)
	}

	result := Result{Strategy: req.Strategy, Table: t.Index(), Count: count, Duration: time.Since(start)}
	metrics.SyncRows.WithLabelValues(req.Strategy.String()).Add(float64(count))
	if err != nil {
		o.logger.Error("Sync failed", "strategy", req.Strategy.String(), "table", t.Index(), "count", count, "error", err)
		return result, err
	}
	o.logger.Info("Sync finished",
		"strategy", req.Strategy.String(),
		"table", t.Index(),
		"count", count,
		"duration", result.Duration,
	)
	return result, nil
}

// failureCounter tallies items of failed bulk flushes.
type failureCounter struct {
	mu sync.Mutex
	n  int
}

func (f *failureCounter) observe(logger *slog.Logger, err error) {
	if err == nil {
		return
	}
	var fe *bulk.FlushError
	if !errors.As(err, &fe) {
		logger.Error("Bulk write failed", "error", err)
		return
	}
	f.mu.Lock()
	f.n += len(fe.Items)
	f.mu.Unlock()
}

func (f *failureCounter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}

func (o *Orchestrator) newWriter() *bulk.Writer {
	return bulk.New(o.index, o.cfg.Bulk, o.logger)
}

// items converts rows to index writes, skipping rows without an id.
func (o *Orchestrator) items(t rowstore.Table, rows []events.Row) []bulk.Item {
	items := make([]bulk.Item, 0, len(rows))
	for _, row := range rows {
		id, ok := rowstore.RowID(row, t)
		if !ok {
			o.logger.Warn("Skipping row without id", "table", t.Index(), "id_column", t.IDColumn)
			continue
		}
		item := bulk.Item{Index: t.Index(), DocumentID: id}
		if rowstore.RowDeleted(row, t, bulk.IsLogicallyDeleted) {
			item.Delete = true
		} else {
			item.Doc = row.Map()
		}
		items = append(items, item)
	}
	return items
}

func (o *Orchestrator) fullSync(ctx context.Context, t rowstore.Table) (int, error) {
	if err := o.index.DeleteAll(ctx, t.Index()); err != nil && !errors.Is(err, searchindex.ErrIndexNotFound) {
		return 0, fmt.Errorf("failed to clear index %s: %w", t.Index(), err)
	}

	rows, err := o.rows.ListActive(ctx, t)
	if err != nil {
		return 0, fmt.Errorf("failed to list rows of %s: %w", t.Name, err)
	}
	items := o.items(t, rows)
	if len(items) == 0 {
		return 0, nil
	}

	failures := &failureCounter{}
	w := o.newWriter()

	if len(items) <= o.cfg.ParallelThreshold {
		for _, it := range items {
			failures.observe(o.logger, w.Add(ctx, it))
		}
		failures.observe(o.logger, w.Flush(ctx))
		return len(items) - failures.count(), nil
	}

	syncCtx, cancel := context.WithTimeout(ctx, o.cfg.FullSyncTimeout)
	defer cancel()

	var done atomic.Int64
	g, gctx := errgroup.WithContext(syncCtx)
	g.SetLimit(o.cfg.PoolSize)
	for _, part := range split(items, o.cfg.PoolSize) {
		g.Go(func() error {
			for _, it := range part {
				if err := gctx.Err(); err != nil {
					return err
				}
				failures.observe(o.logger, w.Add(gctx, it))
				done.Add(1)
			}
			return nil
		})
	}
	waitErr := g.Wait()
	failures.observe(o.logger, w.Flush(ctx))

	applied := int(done.Load()) - failures.count()
	if waitErr != nil {
		return applied, fmt.Errorf("full sync of %s stopped after %d of %d rows: %w", t.Index(), done.Load(), len(items), waitErr)
	}
	return applied, nil
}

// split cuts items into at most n contiguous parts.
func split(items []bulk.Item, n int) [][]bulk.Item {
	if n <= 1 || len(items) <= 1 {
		return [][]bulk.Item{items}
	}
	size := (len(items) + n - 1) / n
	var parts [][]bulk.Item
	for start := 0; start < len(items); start += size {
		parts = append(parts, items[start:min(start+size, len(items))])
	}
	return parts
}

func (o *Orchestrator) incrementalSync(ctx context.Context, t rowstore.Table, since time.Time) (int, error) {
	startedAt := o.now()
	if since.IsZero() && o.watermarks != nil {
		last, ok, err := o.watermarks.LastSync(t.Index())
		if err != nil {
			o.logger.Warn("Failed to read sync watermark, syncing from the beginning", "table", t.Index(), "error", err)
		} else if ok {
			since = last
		}
	}

	rows, err := o.rows.ListUpdatedSince(ctx, t, since)
	if err != nil {
		return 0, fmt.Errorf("failed to list rows of %s updated since %s: %w", t.Name, since.Format(time.RFC3339), err)
	}

	count := 0
	if items := o.items(t, rows); len(items) > 0 {
		failures := &failureCounter{}
		w := o.newWriter()
		for _, it := range items {
			failures.observe(o.logger, w.Add(ctx, it))
		}
		failures.observe(o.logger, w.Flush(ctx))
		count = len(items) - failures.count()
	}

	removed, err := o.reconcile(ctx, t)
	count += removed
	if err != nil {
		o.logger.Warn("Reconciliation skipped", "table", t.Index(), "error", err)
	}

	if o.watermarks != nil {
		if err := o.watermarks.SetLastSync(t.Index(), startedAt); err != nil {
			o.logger.Warn("Failed to save sync watermark", "table", t.Index(), "error", err)
		}
	}
	return count, nil
}

// reconcile removes index documents whose rows are deleted or gone.
func (o *Orchestrator) reconcile(ctx context.Context, t rowstore.Table) (int, error) {
	indexed, err := o.index.IDs(ctx, t.Index())
	if errors.Is(err, searchindex.ErrIndexNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to list documents of %s: %w", t.Index(), err)
	}

	active, err := o.rows.ActiveIDs(ctx, t)
	if err != nil {
		return 0, fmt.Errorf("failed to list active ids of %s: %w", t.Name, err)
	}
	keep := make(map[string]struct{}, len(active))
	for _, id := range active {
		keep[id] = struct{}{}
	}

	removed := 0
	for _, id := range indexed {
		if _, ok := keep[id]; ok {
			continue
		}
		if err := o.index.Delete(ctx, t.Index(), id); err != nil {
			o.logger.Error("Failed to remove stale document", "table", t.Index(), "id", id, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

func (o *Orchestrator) singleSync(ctx context.Context, t rowstore.Table, id string) (int, error) {
	row, err := o.rows.Get(ctx, t, id)
	switch {
	case errors.Is(err, rowstore.ErrNotFound):
		return o.deleteOne(ctx, t, id)
	case err != nil:
		return 0, fmt.Errorf("failed to read %s %s: %w", t.Name, id, err)
	case rowstore.RowDeleted(row, t, bulk.IsLogicallyDeleted):
		return o.deleteOne(ctx, t, id)
	}

	op := searchindex.Op{Type: searchindex.OpUpsert, ID: id, Doc: row.Map()}
	if err := o.index.Bulk(ctx, t.Index(), []searchindex.Op{op}); err != nil {
		return 0, fmt.Errorf("failed to index %s %s: %w", t.Name, id, err)
	}
	return 1, nil
}

func (o *Orchestrator) deleteOne(ctx context.Context, t rowstore.Table, id string) (int, error) {
	if err := o.index.Delete(ctx, t.Index(), id); err != nil && !errors.Is(err, searchindex.ErrIndexNotFound) {
		return 0, fmt.Errorf("failed to remove %s %s: %w", t.Name, id, err)
	}
	return 1, nil
}
