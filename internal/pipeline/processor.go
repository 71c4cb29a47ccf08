// Package pipeline applies consumed change messages to the search index.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/syntrixbase/searchsync/internal/core/pubsub"
	"github.com/syntrixbase/searchsync/internal/events"
	"github.com/syntrixbase/searchsync/internal/metrics"
	"github.com/syntrixbase/searchsync/internal/pipeline/bulk"
	"github.com/syntrixbase/searchsync/internal/searchindex"
)

// Deduper remembers applied message ids.
type Deduper interface {
	IsProcessed(ctx context.Context, messageID string) bool
	MarkProcessed(ctx context.Context, messageID string)
}

// DeadLetterRouter quarantines messages. Both methods report whether the
// dead letter was published.
type DeadLetterRouter interface {
	Send(ctx context.Context, msg *events.DataChangeMessage, cause error, retryable bool) bool
	SendRaw(ctx context.Context, subject string, payload []byte, cause error) bool
}

type outcome int

const (
	outcomeQueued outcome = iota
	outcomeApplied
	outcomeDuplicate
	outcomeDeadLettered
	outcomeRedeliver
)

func (o outcome) String() string {
	switch o {
	case outcomeApplied:
		return "applied"
	case outcomeDuplicate:
		return "duplicate"
	case outcomeDeadLettered:
		return "dlq"
	case outcomeRedeliver:
		return "failed"
	default:
		return "queued"
	}
}

type delivery struct {
	msg     pubsub.Message
	change  *events.DataChangeMessage
	outcome outcome
}

// batchTracker collects the deliveries whose index write failed while a
// batch is in progress.
type batchTracker struct {
	mu     sync.Mutex
	failed map[*delivery]error
}

func newBatchTracker() *batchTracker {
	return &batchTracker{failed: make(map[*delivery]error)}
}

func (t *batchTracker) record(fe *bulk.FlushError) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, item := range fe.Items {
		if d, ok := item.Ref.(*delivery); ok {
			t.failed[d] = fe.Err
		}
	}
}

func (t *batchTracker) failure(d *delivery) (error, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	err, ok := t.failed[d]
	return err, ok
}

// BatchResult counts the outcomes of one batch.
type BatchResult struct {
	Applied      int
	Duplicates   int
	DeadLettered int
	Redelivered  int
}

// Processor applies batches of change messages. Changes of one row are
// handled by a single worker in arrival order; distinct rows are handled
// in parallel.
type Processor struct {
	writer *bulk.Writer
	guard  Deduper
	dlq    DeadLetterRouter
	cfg    Config
	logger *slog.Logger

	current atomic.Pointer[batchTracker]
}

// NewProcessor creates a Processor writing to index. The processor owns its
// bulk writer; run Writer().Run to flush it in the background.
func NewProcessor(index searchindex.Index, guard Deduper, dlq DeadLetterRouter, cfg Config, logger *slog.Logger) *Processor {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	p := &Processor{
		guard:  guard,
		dlq:    dlq,
		cfg:    cfg,
		logger: logger.With("component", "pipeline"),
	}
	p.writer = bulk.New(index, cfg.Bulk, logger, bulk.WithFlushErrorHandler(p.handleFlushError))
	return p
}

// Writer returns the processor's bulk writer.
func (p *Processor) Writer() *bulk.Writer {
	return p.writer
}

func (p *Processor) handleFlushError(fe *bulk.FlushError) {
	if t := p.current.Load(); t != nil {
		t.record(fe)
		return
	}
	p.logger.Error("Background flush failed", "items", len(fe.Items), "error", fe.Err)
}

// ProcessBatch applies msgs and settles every one of them: applied,
// duplicate and dead-lettered messages are acked, messages that could not
// be dead-lettered are redelivered after a delay.
func (p *Processor) ProcessBatch(ctx context.Context, msgs []pubsub.Message) BatchResult {
	start := time.Now()
	defer func() { metrics.BatchDuration.Observe(time.Since(start).Seconds()) }()

	tracker := newBatchTracker()
	p.current.Store(tracker)
	defer p.current.Store(nil)

	deliveries := make([]*delivery, 0, len(msgs))
	queues := make([][]*delivery, p.cfg.Concurrency)
	for _, m := range msgs {
		d := &delivery{msg: m}
		deliveries = append(deliveries, d)

		change, err := events.Decode(m.Data())
		if err != nil {
			p.logger.Warn("Undecodable change message", "subject", m.Subject(), "error", err)
			d.outcome = p.deadLetterOutcome(p.dlq.SendRaw(ctx, m.Subject(), m.Data(), err))
			continue
		}
		d.change = change
		w := Partition(change.PartitionKey(), len(queues))
		queues[w] = append(queues[w], d)
	}

	var wg sync.WaitGroup
	for _, queue := range queues {
		if len(queue) == 0 {
			continue
		}
		wg.Add(1)
		go func(queue []*delivery) {
			defer wg.Done()
			for _, d := range queue {
				p.apply(ctx, d, tracker)
			}
		}(queue)
	}
	wg.Wait()

	p.recordFlushError(tracker, p.writer.Flush(ctx))

	var result BatchResult
	for _, d := range deliveries {
		if d.outcome == outcomeQueued {
			if cause, failed := tracker.failure(d); failed {
				d.outcome = p.deadLetterOutcome(p.dlq.Send(ctx, d.change, cause, true))
			} else {
				p.guard.MarkProcessed(ctx, d.change.MessageID)
				d.outcome = outcomeApplied
			}
		}
		p.settle(d)

		switch d.outcome {
		case outcomeApplied:
			result.Applied++
		case outcomeDuplicate:
			result.Duplicates++
		case outcomeDeadLettered:
			result.DeadLettered++
		case outcomeRedeliver:
			result.Redelivered++
		}
	}

	p.logger.Debug("Batch processed",
		"messages", len(msgs),
		"applied", result.Applied,
		"duplicates", result.Duplicates,
		"dead_lettered", result.DeadLettered,
		"redelivered", result.Redelivered,
	)
	return result
}

func (p *Processor) apply(ctx context.Context, d *delivery, tracker *batchTracker) {
	if p.guard.IsProcessed(ctx, d.change.MessageID) {
		p.logger.Debug("Skipping processed message", "message_id", d.change.MessageID)
		d.outcome = outcomeDuplicate
		return
	}
	d.outcome = outcomeQueued
	p.recordFlushError(tracker, p.writer.AddChange(ctx, d.change, d))
}

func (p *Processor) recordFlushError(tracker *batchTracker, err error) {
	if err == nil {
		return
	}
	var fe *bulk.FlushError
	if errors.As(err, &fe) {
		tracker.record(fe)
		return
	}
	p.logger.Error("Flush failed", "error", err)
}

func (p *Processor) deadLetterOutcome(sent bool) outcome {
	if sent {
		return outcomeDeadLettered
	}
	return outcomeRedeliver
}

func (p *Processor) settle(d *delivery) {
	metrics.MessagesProcessed.WithLabelValues(d.outcome.String()).Inc()

	var err error
	if d.outcome == outcomeRedeliver {
		err = d.msg.NakWithDelay(p.cfg.RedeliveryDelay)
	} else {
		err = d.msg.Ack()
	}
	if err != nil {
		p.logger.Error("Failed to settle message", "subject", d.msg.Subject(), "outcome", d.outcome.String(), "error", err)
	}
}

// Partition maps a partition key to one of n workers.
func Partition(key string, n int) int {
	if n <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(key) % uint64(n))
}
