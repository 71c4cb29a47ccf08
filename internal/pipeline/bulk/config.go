package bulk

import (
	"fmt"
	"time"
)

// Config holds bulk writer settings.
type Config struct {
	// BulkActions flushes once this many items are pending. It also caps
	// the items sent per bulk call.
	BulkActions int `yaml:"bulk_actions"`
	// FlushInterval flushes when this much time passed since the last flush.
	FlushInterval time.Duration `yaml:"flush_interval"`
	// Timeout bounds one bulk call.
	Timeout time.Duration `yaml:"timeout"`
	// DeletedField is the logical-delete marker column.
	DeletedField string `yaml:"deleted_field"`
}

// DefaultConfig returns the default writer configuration.
func DefaultConfig() Config {
	return Config{
		BulkActions:   1000,
		FlushInterval: 5 * time.Second,
		Timeout:       30 * time.Second,
		DeletedField:  "deleted",
	}
}

func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.BulkActions == 0 {
		c.BulkActions = d.BulkActions
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = d.FlushInterval
	}
	if c.Timeout == 0 {
		c.Timeout = d.Timeout
	}
	if c.DeletedField == "" {
		c.DeletedField = d.DeletedField
	}
}

func (c *Config) ApplyEnvOverrides() {}

func (c *Config) ResolvePaths(_, _ string) {}

func (c *Config) Validate() error {
	if c.BulkActions <= 0 {
		return fmt.Errorf("bulk.bulk_actions must be positive")
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("bulk.flush_interval must be positive")
	}
	return nil
}
