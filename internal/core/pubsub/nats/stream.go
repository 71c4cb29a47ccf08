package nats

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/syntrixbase/searchsync/internal/core/pubsub"
)

const ensureStreamTimeout = 10 * time.Second

// ensureStream creates or updates the stream bound to subjectPrefix.>.
func ensureStream(js JetStream, name, subjectPrefix string, storage pubsub.StorageType, maxAge, duplicates time.Duration) error {
	if name == "" {
		return nil
	}
	if subjectPrefix == "" {
		subjectPrefix = name
	}

	cfg := jetstream.StreamConfig{
		Name:       name,
		Subjects:   []string{subjectPrefix + ".>"},
		Storage:    jetstream.FileStorage,
		MaxAge:     maxAge,
		Duplicates: duplicates,
	}
	if storage == pubsub.MemoryStorage {
		cfg.Storage = jetstream.MemoryStorage
	}

	ctx, cancel := context.WithTimeout(context.Background(), ensureStreamTimeout)
	defer cancel()
	if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("failed to ensure stream %s: %w", name, err)
	}
	return nil
}

// subjectPrefixOf turns a filter like "cdc.>" or "cdc.*.*" into "cdc".
func subjectPrefixOf(filter string) string {
	if i := strings.IndexAny(filter, "*>"); i > 0 {
		return strings.TrimSuffix(filter[:i], ".")
	}
	return filter
}
