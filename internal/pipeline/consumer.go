package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/syntrixbase/searchsync/internal/core/pubsub"
	"github.com/syntrixbase/searchsync/internal/events"
)

const (
	minFetchBackoff = 100 * time.Millisecond
	maxFetchBackoff = 5 * time.Second
)

// ConsumerOptions returns the durable consumer settings for the change stream.
func (c *Config) ConsumerOptions() pubsub.ConsumerOptions {
	opts := pubsub.DefaultConsumerOptions()
	opts.StreamName = events.ChangeStream
	opts.ConsumerName = c.ConsumerGroup
	opts.FilterSubject = events.ChangeSubjectPrefix + ".>"
	if c.AckWait > 0 {
		opts.AckWait = c.AckWait
	}
	return opts
}

// Consumer pulls change batches and hands them to the Processor.
type Consumer struct {
	source    pubsub.Consumer
	processor *Processor
	cfg       Config
	logger    *slog.Logger
}

// NewConsumer creates a Consumer.
func NewConsumer(source pubsub.Consumer, processor *Processor, cfg Config, logger *slog.Logger) *Consumer {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		source:    source,
		processor: processor,
		cfg:       cfg,
		logger:    logger.With("component", "consumer"),
	}
}

// Run fetches and processes batches until ctx is done. A batch in progress
// when ctx is cancelled is completed and settled.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Change consumer started",
		"group", c.cfg.ConsumerGroup,
		"concurrency", c.cfg.Concurrency,
		"max_poll_records", c.cfg.MaxPollRecords,
	)

	backoff := minFetchBackoff
	for {
		if ctx.Err() != nil {
			c.logger.Info("Change consumer stopped")
			return nil
		}

		msgs, err := c.source.Fetch(ctx, c.cfg.MaxPollRecords, c.cfg.FetchWait)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.logger.Error("Failed to fetch changes", "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxFetchBackoff)
			continue
		}
		backoff = minFetchBackoff

		if len(msgs) == 0 {
			continue
		}
		c.processor.ProcessBatch(context.WithoutCancel(ctx), msgs)
	}
}
