package pubsub

import (
	"fmt"
	"os"
	"time"
)

const (
	ProviderNATS   = "nats"
	ProviderMemory = "memory"
)

// Config selects and configures the broker.
type Config struct {
	// Provider is "nats" or "memory". The memory broker only connects
	// services of one process.
	Provider string `yaml:"provider"`
	URL      string `yaml:"url"`
	// Name identifies the connection to the broker.
	Name string `yaml:"name"`
	// Storage is "file" or "memory" for the JetStream streams.
	Storage string `yaml:"storage"`
	// MaxAge bounds how long streams keep messages.
	MaxAge          time.Duration `yaml:"max_age"`
	DuplicateWindow time.Duration `yaml:"duplicate_window"`
	RetryAttempts   int           `yaml:"retry_attempts"`
}

// DefaultConfig returns the default broker configuration.
func DefaultConfig() Config {
	return Config{
		Provider:        ProviderNATS,
		URL:             "nats://localhost:4222",
		Name:            "searchsync",
		Storage:         "file",
		MaxAge:          7 * 24 * time.Hour,
		DuplicateWindow: 2 * time.Minute,
		RetryAttempts:   3,
	}
}

func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Provider == "" {
		c.Provider = d.Provider
	}
	if c.URL == "" {
		c.URL = d.URL
	}
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.Storage == "" {
		c.Storage = d.Storage
	}
	if c.MaxAge == 0 {
		c.MaxAge = d.MaxAge
	}
	if c.DuplicateWindow == 0 {
		c.DuplicateWindow = d.DuplicateWindow
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = d.RetryAttempts
	}
}

func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("SEARCHSYNC_BROKER_URL"); val != "" {
		c.URL = val
	}
	if val := os.Getenv("SEARCHSYNC_BROKER_PROVIDER"); val != "" {
		c.Provider = val
	}
}

func (c *Config) ResolvePaths(_, _ string) {}

func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderNATS:
		if c.URL == "" {
			return fmt.Errorf("broker.url is required for the nats provider")
		}
	case ProviderMemory:
	default:
		return fmt.Errorf("invalid broker.provider: %s (must be nats or memory)", c.Provider)
	}
	if c.Storage != "file" && c.Storage != "memory" {
		return fmt.Errorf("invalid broker.storage: %s (must be file or memory)", c.Storage)
	}
	return nil
}

// StorageType maps Storage to a StorageType.
func (c *Config) StorageType() StorageType {
	if c.Storage == "memory" {
		return MemoryStorage
	}
	return FileStorage
}

// PublisherOptions returns publisher options for stream on subjects under
// prefix.
func (c *Config) PublisherOptions(stream, prefix string) PublisherOptions {
	return PublisherOptions{
		StreamName:      stream,
		SubjectPrefix:   prefix,
		RetryAttempts:   c.RetryAttempts,
		Storage:         c.StorageType(),
		MaxAge:          c.MaxAge,
		DuplicateWindow: c.DuplicateWindow,
	}
}
