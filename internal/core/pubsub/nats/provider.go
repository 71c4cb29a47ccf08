package nats

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/syntrixbase/searchsync/internal/core/pubsub"
)

// natsConnectFunc connects to NATS and returns a JetStream context. It is
// replaced in tests.
type natsConnectFunc func(url, name string) (*nats.Conn, JetStream, error)

func defaultNatsConnect(url, name string) (*nats.Conn, JetStream, error) {
	nc, err := nats.Connect(url, nats.Name(name), nats.MaxReconnects(-1))
	if err != nil {
		return nil, nil, err
	}
	js, err := NewJetStream(nc)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}
	return nc, js, nil
}

// Provider implements pubsub.Provider using NATS JetStream.
type Provider struct {
	url         string
	name        string
	nc          *nats.Conn
	js          JetStream
	natsConnect natsConnectFunc
}

var (
	_ pubsub.Provider    = (*Provider)(nil)
	_ pubsub.Connectable = (*Provider)(nil)
)

// NewProvider creates a NATS-backed provider. Connect must be called before
// NewPublisher or NewConsumer.
func NewProvider(url, name string) *Provider {
	return &Provider{url: url, name: name, natsConnect: defaultNatsConnect}
}

// Connect establishes the NATS connection and initializes JetStream.
func (p *Provider) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	nc, js, err := p.natsConnect(p.url, p.name)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", p.url, err)
	}
	p.nc = nc
	p.js = js
	slog.Info("Connected to NATS", "url", p.url)
	return nil
}

// NewPublisher creates a new Publisher backed by NATS JetStream.
func (p *Provider) NewPublisher(opts pubsub.PublisherOptions) (pubsub.Publisher, error) {
	if p.js == nil {
		return nil, fmt.Errorf("NATS not connected, call Connect first")
	}
	return NewPublisher(p.js, opts)
}

// NewConsumer creates a new Consumer backed by NATS JetStream.
func (p *Provider) NewConsumer(opts pubsub.ConsumerOptions) (pubsub.Consumer, error) {
	if p.js == nil {
		return nil, fmt.Errorf("NATS not connected, call Connect first")
	}
	return NewConsumer(p.js, opts)
}

// Close drains and closes the NATS connection.
func (p *Provider) Close() error {
	if p.nc == nil {
		return nil
	}
	slog.Info("Closing NATS connection...")
	err := p.nc.Drain()
	p.nc = nil
	p.js = nil
	return err
}
