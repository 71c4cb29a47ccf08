// Package pubsub provides the durable stream abstraction that carries change
// messages between the change source and the index pipeline.
package pubsub

import (
	"context"
	"time"
)

// Message represents a received message with acknowledgment controls.
type Message interface {
	// Data returns the raw message payload.
	Data() []byte

	// Subject returns the message subject.
	Subject() string

	// Ack acknowledges successful processing.
	Ack() error

	// Nak signals processing failure, requesting redelivery.
	Nak() error

	// NakWithDelay requests redelivery after a delay.
	NakWithDelay(delay time.Duration) error

	// Term terminates the message (no redelivery).
	Term() error

	// Metadata returns delivery metadata.
	Metadata() (MessageMetadata, error)
}

// MessageMetadata contains delivery information about a message.
type MessageMetadata struct {
	NumDelivered uint64
	Timestamp    time.Time
	Subject      string
	Stream       string
	Consumer     string
}

// Publisher publishes messages to a stream.
type Publisher interface {
	// Publish sends a message to the specified subject. The subject is
	// prefixed with PublisherOptions.SubjectPrefix.
	Publish(ctx context.Context, subject string, data []byte, opts ...PublishOption) error

	// Close releases resources.
	Close() error
}

// Consumer pulls messages from a durable consumer in batches. Messages stay
// pending until they are acked, nak'ed or terminated.
type Consumer interface {
	// Fetch returns up to max messages, waiting at most wait for the first.
	// An empty result with a nil error means nothing arrived in time.
	Fetch(ctx context.Context, max int, wait time.Duration) ([]Message, error)

	// Close releases resources.
	Close() error
}

// PublishConfig holds per-message publish settings.
type PublishConfig struct {
	// MsgID lets the broker drop duplicates published within its window.
	MsgID string
}

// PublishOption configures a single Publish call.
type PublishOption func(*PublishConfig)

// WithMsgID sets the broker-side deduplication id.
func WithMsgID(id string) PublishOption {
	return func(c *PublishConfig) { c.MsgID = id }
}

// ApplyPublishOptions folds opts into a PublishConfig.
func ApplyPublishOptions(opts ...PublishOption) PublishConfig {
	var cfg PublishConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
