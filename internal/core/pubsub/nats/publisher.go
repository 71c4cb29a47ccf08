package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/syntrixbase/searchsync/internal/core/pubsub"
)

// jetStreamPublisher implements pubsub.Publisher using NATS JetStream.
type jetStreamPublisher struct {
	js   JetStream
	opts pubsub.PublisherOptions
}

// NewPublisher creates a Publisher backed by NATS JetStream and makes sure
// its stream exists.
func NewPublisher(js JetStream, opts pubsub.PublisherOptions) (pubsub.Publisher, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream cannot be nil")
	}
	if err := ensureStream(js, opts.StreamName, opts.SubjectPrefix, opts.Storage, opts.MaxAge, opts.DuplicateWindow); err != nil {
		return nil, err
	}
	return &jetStreamPublisher{js: js, opts: opts}, nil
}

// Publish sends a message to the specified subject.
func (p *jetStreamPublisher) Publish(ctx context.Context, subject string, data []byte, opts ...pubsub.PublishOption) error {
	start := time.Now()

	fullSubject := subject
	if p.opts.SubjectPrefix != "" {
		fullSubject = p.opts.SubjectPrefix + "." + subject
	}

	var publishOpts []jetstream.PublishOpt
	if p.opts.RetryAttempts > 0 {
		publishOpts = append(publishOpts, jetstream.WithRetryAttempts(p.opts.RetryAttempts))
	}
	if cfg := pubsub.ApplyPublishOptions(opts...); cfg.MsgID != "" {
		publishOpts = append(publishOpts, jetstream.WithMsgID(cfg.MsgID))
	}

	_, err := p.js.Publish(ctx, fullSubject, data, publishOpts...)

	if p.opts.OnPublish != nil {
		p.opts.OnPublish(fullSubject, err, time.Since(start))
	}
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", fullSubject, err)
	}
	return nil
}

// Close releases resources. The connection is owned by the Provider.
func (p *jetStreamPublisher) Close() error {
	return nil
}
