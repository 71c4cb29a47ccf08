package memory

import (
	"context"
	"time"

	"github.com/syntrixbase/searchsync/internal/core/pubsub"
)

// memoryConsumer implements pubsub.Consumer on one durable.
type memoryConsumer struct {
	engine  *Engine
	durable *durable
}

// Fetch returns up to max queued messages, waiting at most wait for the
// first one.
func (c *memoryConsumer) Fetch(ctx context.Context, max int, wait time.Duration) ([]pubsub.Message, error) {
	if max <= 0 {
		max = 1
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		if msgs, closed := c.take(max); closed {
			return nil, ErrEngineClosed
		} else if len(msgs) > 0 {
			return msgs, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-c.durable.notify:
		}
	}
}

func (c *memoryConsumer) take(max int) ([]pubsub.Message, bool) {
	c.engine.mu.Lock()
	defer c.engine.mu.Unlock()
	if c.engine.closed {
		return nil, true
	}
	d := c.durable
	n := min(max, len(d.queue))
	if n == 0 {
		return nil, false
	}
	msgs := make([]pubsub.Message, n)
	for i := 0; i < n; i++ {
		m := d.queue[i]
		m.deliver()
		msgs[i] = m
	}
	d.queue = d.queue[n:]
	if len(d.queue) > 0 {
		d.signal()
	}
	return msgs, false
}

// Close releases resources. The durable keeps its queue.
func (c *memoryConsumer) Close() error {
	return nil
}
