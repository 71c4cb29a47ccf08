package nats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/syntrixbase/searchsync/internal/core/pubsub"
)

// jetStreamConsumer implements pubsub.Consumer with a durable pull consumer.
type jetStreamConsumer struct {
	js   JetStream
	opts pubsub.ConsumerOptions

	mu       sync.Mutex
	consumer jetstream.Consumer
}

// NewConsumer creates a batch Consumer backed by NATS JetStream. The durable
// consumer is created on the first Fetch.
func NewConsumer(js JetStream, opts pubsub.ConsumerOptions) (pubsub.Consumer, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream cannot be nil")
	}
	if opts.StreamName == "" {
		return nil, fmt.Errorf("stream name is required")
	}
	defaults := pubsub.DefaultConsumerOptions()
	if opts.ConsumerName == "" {
		opts.ConsumerName = "consumer"
	}
	if opts.FilterSubject == "" {
		opts.FilterSubject = opts.StreamName + ".>"
	}
	if opts.AckWait <= 0 {
		opts.AckWait = defaults.AckWait
	}
	if opts.MaxAckPending <= 0 {
		opts.MaxAckPending = defaults.MaxAckPending
	}
	return &jetStreamConsumer{js: js, opts: opts}, nil
}

func (c *jetStreamConsumer) durable(ctx context.Context) (jetstream.Consumer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.consumer != nil {
		return c.consumer, nil
	}

	if err := ensureStream(c.js, c.opts.StreamName, subjectPrefixOf(c.opts.FilterSubject), pubsub.FileStorage, 0, 0); err != nil {
		return nil, err
	}
	consumer, err := c.js.CreateOrUpdateConsumer(ctx, c.opts.StreamName, jetstream.ConsumerConfig{
		Durable:       c.opts.ConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		FilterSubject: c.opts.FilterSubject,
		AckWait:       c.opts.AckWait,
		MaxAckPending: c.opts.MaxAckPending,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer %s: %w", c.opts.ConsumerName, err)
	}
	c.consumer = consumer
	return consumer, nil
}

// Fetch pulls up to max messages.
func (c *jetStreamConsumer) Fetch(ctx context.Context, max int, wait time.Duration) ([]pubsub.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	consumer, err := c.durable(ctx)
	if err != nil {
		return nil, err
	}

	batch, err := consumer.Fetch(max, jetstream.FetchMaxWait(wait))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch from %s: %w", c.opts.StreamName, err)
	}

	msgs := make([]pubsub.Message, 0, max)
	for msg := range batch.Messages() {
		msgs = append(msgs, WrapMessage(msg))
	}
	if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) && !errors.Is(err, context.DeadlineExceeded) {
		return msgs, fmt.Errorf("fetch from %s interrupted: %w", c.opts.StreamName, err)
	}
	return msgs, nil
}

// Close releases resources. The connection is owned by the Provider.
func (c *jetStreamConsumer) Close() error {
	return nil
}
