package pubsub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Lifecycle(t *testing.T) {
	t.Setenv("SEARCHSYNC_BROKER_URL", "nats://broker:4222")

	var cfg Config
	cfg.ApplyDefaults()
	cfg.ApplyEnvOverrides()
	assert.Equal(t, "nats://broker:4222", cfg.URL)
	assert.Equal(t, ProviderNATS, cfg.Provider)
	assert.NoError(t, cfg.Validate())

	opts := cfg.PublisherOptions("CDC", "cdc")
	assert.Equal(t, "CDC", opts.StreamName)
	assert.Equal(t, "cdc", opts.SubjectPrefix)
	assert.Equal(t, FileStorage, opts.Storage)
	assert.Equal(t, 2*time.Minute, opts.DuplicateWindow)

	cfg.Storage = "memory"
	assert.Equal(t, MemoryStorage, cfg.StorageType())

	cfg.Provider = "kafka"
	assert.Error(t, cfg.Validate())
}
