package services

import (
	"context"
	"fmt"

	"github.com/syntrixbase/searchsync/internal/core/pubsub"
	"github.com/syntrixbase/searchsync/internal/core/pubsub/memory"
	"github.com/syntrixbase/searchsync/internal/core/pubsub/nats"
)

// newProvider creates and connects the configured broker.
func newProvider(ctx context.Context, cfg pubsub.Config) (pubsub.Provider, error) {
	var provider pubsub.Provider
	switch cfg.Provider {
	case pubsub.ProviderNATS:
		provider = nats.NewProvider(cfg.URL, cfg.Name)
	case pubsub.ProviderMemory:
		provider = memory.New()
	default:
		return nil, fmt.Errorf("unknown broker provider: %s", cfg.Provider)
	}

	if c, ok := provider.(pubsub.Connectable); ok {
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
	}
	return provider, nil
}
