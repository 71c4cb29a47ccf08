// Package bulk batches index writes by size and time and applies them one
// bulk call per index.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/syntrixbase/searchsync/internal/events"
	"github.com/syntrixbase/searchsync/internal/metrics"
	"github.com/syntrixbase/searchsync/internal/searchindex"
)

// Item is one pending index write.
type Item struct {
	Index      string
	DocumentID string
	Doc        map[string]any
	Delete     bool
	// Ref is an opaque caller token returned in FlushError.
	Ref any
}

func (i Item) op() searchindex.Op {
	if i.Delete {
		return searchindex.Op{Type: searchindex.OpDelete, ID: i.DocumentID}
	}
	return searchindex.Op{Type: searchindex.OpUpsert, ID: i.DocumentID, Doc: i.Doc}
}

// FlushError reports the items of a flush whose bulk call failed. The items
// are not requeued.
type FlushError struct {
	Items []Item
	Err   error
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("bulk flush failed for %d items: %v", len(e.Items), e.Err)
}

func (e *FlushError) Unwrap() error { return e.Err }

// Option configures a Writer.
type Option func(*Writer)

// WithFlushErrorHandler receives failures of flushes no caller is waiting
// on, such as the periodic flush in Run.
func WithFlushErrorHandler(fn func(*FlushError)) Option {
	return func(w *Writer) { w.onFlushError = fn }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// Writer accumulates index writes. Add is safe for concurrent use; flushes
// are serialized and preserve Add order.
type Writer struct {
	index  searchindex.Index
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex // guards queue and lastFlush
	queue     []Item
	lastFlush time.Time

	flushMu sync.Mutex

	onFlushError func(*FlushError)
	now          func() time.Time
}

// New creates a Writer over index.
func New(index searchindex.Index, cfg Config, logger *slog.Logger, opts ...Option) *Writer {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	w := &Writer{
		index:  index,
		cfg:    cfg,
		logger: logger.With("component", "bulk"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.lastFlush = w.now()
	return w
}

// Add queues item and flushes when the size or time threshold is reached.
// The returned error is the flush failure, if a flush ran.
func (w *Writer) Add(ctx context.Context, item Item) error {
	w.mu.Lock()
	w.queue = append(w.queue, item)
	due := len(w.queue) >= w.cfg.BulkActions || w.now().Sub(w.lastFlush) >= w.cfg.FlushInterval
	w.mu.Unlock()

	if !due {
		return nil
	}
	return w.Flush(ctx)
}

// AddChange queues the index write for a change message.
func (w *Writer) AddChange(ctx context.Context, msg *events.DataChangeMessage, ref any) error {
	item := ItemFor(msg, w.cfg.DeletedField)
	item.Ref = ref
	return w.Add(ctx, item)
}

// Pending returns the number of queued items.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Flush drains the queue in chunks of BulkActions, one bulk call per index
// per chunk.
func (w *Writer) Flush(ctx context.Context) error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()
	return w.flush(ctx)
}

// flushAndReport hands failures to the flush error handler before any later
// Flush can start.
func (w *Writer) flushAndReport(ctx context.Context) {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()
	w.report(w.flush(ctx))
}

func (w *Writer) flush(ctx context.Context) error {
	var failed []Item
	var errs []error
	for {
		w.mu.Lock()
		w.lastFlush = w.now()
		n := min(w.cfg.BulkActions, len(w.queue))
		chunk := w.queue[:n:n]
		w.queue = w.queue[n:]
		w.mu.Unlock()

		if n == 0 {
			break
		}
		if f, err := w.write(ctx, chunk); err != nil {
			failed = append(failed, f...)
			errs = append(errs, err)
		}
	}

	if len(failed) > 0 {
		return &FlushError{Items: failed, Err: errors.Join(errs...)}
	}
	return nil
}

func (w *Writer) write(ctx context.Context, chunk []Item) ([]Item, error) {
	start := time.Now()
	defer func() { metrics.BulkFlushDuration.Observe(time.Since(start).Seconds()) }()

	var order []string
	groups := make(map[string][]Item)
	for _, it := range chunk {
		if _, ok := groups[it.Index]; !ok {
			order = append(order, it.Index)
		}
		groups[it.Index] = append(groups[it.Index], it)
	}

	var failed []Item
	var errs []error
	for _, name := range order {
		items := groups[name]
		ops := collapse(items)

		callCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
		err := w.index.Bulk(callCtx, name, ops)
		cancel()

		for _, op := range ops {
			result := "ok"
			if err != nil {
				result = "error"
			}
			metrics.BulkItems.WithLabelValues(op.Type.String(), result).Inc()
		}
		if err != nil {
			w.logger.Error("Bulk write failed", "index", name, "items", len(items), "error", err)
			failed = append(failed, items...)
			errs = append(errs, fmt.Errorf("index %s: %w", name, err))
			continue
		}
		w.logger.Debug("Bulk write applied", "index", name, "ops", len(ops))
	}
	return failed, errors.Join(errs...)
}

// collapse keeps the last write per document id.
func collapse(items []Item) []searchindex.Op {
	pos := make(map[string]int, len(items))
	ops := make([]searchindex.Op, 0, len(items))
	for _, it := range items {
		if i, ok := pos[it.DocumentID]; ok {
			ops[i] = it.op()
			continue
		}
		pos[it.DocumentID] = len(ops)
		ops = append(ops, it.op())
	}
	return ops
}

// Run flushes on the interval until ctx is done, then flushes once more.
// Failures go to the flush error handler, which returns before the next
// Flush starts.
func (w *Writer) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), w.cfg.Timeout)
			w.flushAndReport(flushCtx)
			cancel()
			return
		case <-ticker.C:
			w.mu.Lock()
			due := len(w.queue) > 0 && w.now().Sub(w.lastFlush) >= w.cfg.FlushInterval
			w.mu.Unlock()
			if due {
				w.flushAndReport(ctx)
			}
		}
	}
}

func (w *Writer) report(err error) {
	if err == nil {
		return
	}
	var fe *FlushError
	if errors.As(err, &fe) && w.onFlushError != nil {
		w.onFlushError(fe)
		return
	}
	w.logger.Error("Background flush failed", "error", err)
}

// ItemFor converts a change message into an index write: DELETE and
// logically deleted rows become deletes, everything else an upsert of the
// after-image.
func ItemFor(msg *events.DataChangeMessage, deletedField string) Item {
	item := Item{Index: msg.IndexName(), DocumentID: msg.PrimaryKey}
	if msg.OperationType == events.OperationDelete {
		item.Delete = true
		return item
	}
	if v, ok := msg.AfterData.GetFold(deletedField); ok && IsLogicallyDeleted(v) {
		item.Delete = true
		return item
	}
	item.Doc = msg.AfterData.Map()
	return item
}

// IsLogicallyDeleted interprets a deleted-marker value: non-zero numbers of
// any width, true, and strings other than "", "0" and "false" mean deleted.
// Any other non-nil value also counts as deleted.
func IsLogicallyDeleted(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		s := strings.TrimSpace(x)
		return s != "" && s != "0" && !strings.EqualFold(s, "false")
	case []byte:
		return IsLogicallyDeleted(string(x))
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	default:
		return true
	}
}
