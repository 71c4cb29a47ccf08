package source

import (
	"fmt"
	"time"

	"github.com/syntrixbase/searchsync/internal/source/canal"
)

// Config holds the change source configuration.
type Config struct {
	// BatchSize caps the entries fetched per batch.
	BatchSize int `yaml:"batch_size"`
	// GetWait is how long one fetch waits for the first entry.
	GetWait time.Duration `yaml:"get_wait"`
	// IdleInterval is the pause after an empty batch.
	IdleInterval time.Duration `yaml:"idle_interval"`
	// RetryBackoff is the first pause after a failed batch; it doubles up
	// to MaxRetryBackoff.
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	MaxRetryBackoff time.Duration `yaml:"max_retry_backoff"`
	// KeyColumns maps "database.table" or "table" to its key columns.
	KeyColumns map[string][]string `yaml:"key_columns"`

	Canal canal.Config `yaml:"canal"`
}

// DefaultConfig returns the default source configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:       100,
		GetWait:         time.Second,
		IdleInterval:    100 * time.Millisecond,
		RetryBackoff:    time.Second,
		MaxRetryBackoff: 30 * time.Second,
		Canal:           canal.DefaultConfig(),
	}
}

func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.BatchSize == 0 {
		c.BatchSize = d.BatchSize
	}
	if c.GetWait == 0 {
		c.GetWait = d.GetWait
	}
	if c.IdleInterval == 0 {
		c.IdleInterval = d.IdleInterval
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.MaxRetryBackoff == 0 {
		c.MaxRetryBackoff = d.MaxRetryBackoff
	}
	c.Canal.ApplyDefaults()
}

func (c *Config) ApplyEnvOverrides() {
	c.Canal.ApplyEnvOverrides()
}

func (c *Config) ResolvePaths(configDir, dataDir string) {
	c.Canal.ResolvePaths(configDir, dataDir)
}

func (c *Config) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("source.batch_size must be positive")
	}
	if c.MaxRetryBackoff < c.RetryBackoff {
		return fmt.Errorf("source.max_retry_backoff must not be below source.retry_backoff")
	}
	return c.Canal.Validate()
}
