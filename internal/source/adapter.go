// Package source reads raw row changes from a binlog connector, normalizes
// them and publishes them to the change stream.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/syntrixbase/searchsync/internal/events"
	"github.com/syntrixbase/searchsync/internal/metrics"
	"github.com/syntrixbase/searchsync/internal/source/entry"
	"github.com/syntrixbase/searchsync/internal/source/normalizer"
)

// ChangePublisher publishes normalized change messages.
type ChangePublisher interface {
	Publish(ctx context.Context, msg *events.DataChangeMessage) error
}

// DeadLetterRouter quarantines rows that cannot be normalized.
type DeadLetterRouter interface {
	Send(ctx context.Context, msg *events.DataChangeMessage, cause error, retryable bool) bool
}

// Adapter moves batches from the connector to the change stream. A batch is
// acknowledged only after every message of it was published; otherwise it
// is rolled back and fetched again.
type Adapter struct {
	conn       entry.Connector
	normalizer *normalizer.Normalizer
	pub        ChangePublisher
	dlq        DeadLetterRouter
	cfg        Config
	logger     *slog.Logger
}

// NewAdapter creates an Adapter.
func NewAdapter(conn entry.Connector, pub ChangePublisher, dlq DeadLetterRouter, cfg Config, logger *slog.Logger) *Adapter {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		conn:       conn,
		normalizer: normalizer.New(cfg.KeyColumns),
		pub:        pub,
		dlq:        dlq,
		cfg:        cfg,
		logger:     logger.With("component", "source"),
	}
}

// Run connects and moves batches until ctx is done.
func (a *Adapter) Run(ctx context.Context) error {
	if err := a.conn.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect change source: %w", err)
	}
	a.logger.Info("Change source started", "batch_size", a.cfg.BatchSize)

	backoff := a.cfg.RetryBackoff
	for {
		if ctx.Err() != nil {
			a.logger.Info("Change source stopped")
			return nil
		}

		batch, err := a.conn.Get(ctx, a.cfg.BatchSize, a.cfg.GetWait)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			metrics.SourceErrors.WithLabelValues("get").Inc()
			a.logger.Error("Failed to get change batch", "error", err, "retry_in", backoff)
			sleep(ctx, backoff)
			backoff = min(backoff*2, a.cfg.MaxRetryBackoff)
			continue
		}

		if batch.Empty() {
			sleep(ctx, a.cfg.IdleInterval)
			continue
		}

		if err := a.ProcessBatch(ctx, batch); err != nil {
			metrics.SourceErrors.WithLabelValues("publish").Inc()
			a.logger.Error("Failed to publish change batch, rolling back",
				"batch_id", batch.ID,
				"error", err,
				"retry_in", backoff,
			)
			if rbErr := a.conn.Rollback(ctx, batch.ID); rbErr != nil {
				metrics.SourceErrors.WithLabelValues("rollback").Inc()
				a.logger.Error("Failed to roll back change batch", "batch_id", batch.ID, "error", rbErr)
			}
			sleep(ctx, backoff)
			backoff = min(backoff*2, a.cfg.MaxRetryBackoff)
			continue
		}

		if err := a.conn.Ack(ctx, batch.ID); err != nil {
			metrics.SourceErrors.WithLabelValues("ack").Inc()
			a.logger.Error("Failed to ack change batch", "batch_id", batch.ID, "error", err)
		}
		backoff = a.cfg.RetryBackoff
	}
}

// ProcessBatch normalizes and publishes every entry of batch. Rows that
// fail to normalize are dead-lettered as non-retryable and do not fail the
// batch; the first publish failure does.
func (a *Adapter) ProcessBatch(ctx context.Context, batch entry.Batch) error {
	for i := range batch.Entries {
		e := &batch.Entries[i]
		if !normalizer.Accepts(e) {
			a.logger.Debug("Skipping entry", "type", e.Type.String(), "table", e.Table)
			continue
		}

		msgs, failed := a.normalizer.Normalize(e)
		for _, rowErr := range failed {
			metrics.SourceErrors.WithLabelValues("normalize").Inc()
			a.logger.Warn("Failed to normalize row",
				"database", e.Schema,
				"table", e.Table,
				"error", rowErr.Err,
			)
			a.dlq.Send(ctx, rowErr.Partial, rowErr.Err, false)
		}

		for _, msg := range msgs {
			if err := a.pub.Publish(ctx, msg); err != nil {
				return fmt.Errorf("failed to publish %s: %w", msg.MessageID, err)
			}
			metrics.ChangesPublished.WithLabelValues(msg.Database + "." + msg.Table).Inc()
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
