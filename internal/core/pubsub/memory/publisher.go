package memory

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/syntrixbase/searchsync/internal/core/pubsub"
)

// memoryPublisher implements pubsub.Publisher on an Engine.
type memoryPublisher struct {
	engine *Engine
	opts   pubsub.PublisherOptions
	closed atomic.Bool
}

// Publish sends a message to the specified subject.
func (p *memoryPublisher) Publish(ctx context.Context, subject string, data []byte, opts ...pubsub.PublishOption) error {
	if p.closed.Load() {
		return ErrEngineClosed
	}
	start := time.Now()

	fullSubject := subject
	if p.opts.SubjectPrefix != "" {
		fullSubject = p.opts.SubjectPrefix + "." + subject
	}

	cfg := pubsub.ApplyPublishOptions(opts...)
	err := p.engine.publish(ctx, fullSubject, data, cfg.MsgID)

	if p.opts.OnPublish != nil {
		p.opts.OnPublish(fullSubject, err, time.Since(start))
	}
	return err
}

// Close releases resources.
func (p *memoryPublisher) Close() error {
	p.closed.Store(true)
	return nil
}
