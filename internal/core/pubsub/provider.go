package pubsub

import (
	"context"
	"io"
)

// Provider creates publishers and consumers over one broker. The NATS and
// in-memory implementations are interchangeable.
type Provider interface {
	io.Closer

	// NewPublisher creates a new Publisher with the given options.
	NewPublisher(opts PublisherOptions) (Publisher, error)

	// NewConsumer creates a new batch Consumer with the given options.
	NewConsumer(opts ConsumerOptions) (Consumer, error)
}

// Connectable is an optional interface for providers that need to establish
// a connection before they can be used.
type Connectable interface {
	Connect(ctx context.Context) error
}
