package resync

import (
	"fmt"
	"time"

	"github.com/syntrixbase/searchsync/internal/pipeline/bulk"
)

// Config holds sync orchestration settings.
type Config struct {
	// ParallelThreshold is the row count above which a full sync indexes
	// with PoolSize workers.
	ParallelThreshold int `yaml:"parallel_threshold"`
	PoolSize          int `yaml:"pool_size"`
	// FullSyncTimeout bounds the parallel phase of a full sync.
	FullSyncTimeout time.Duration `yaml:"full_sync_timeout"`
	// StartupFullSync runs a full sync of every table when the scheduler
	// starts.
	StartupFullSync bool `yaml:"startup_full_sync"`
	// IncrementalInterval is the period of scheduled incremental syncs.
	// Zero disables them.
	IncrementalInterval time.Duration `yaml:"incremental_interval"`

	Bulk bulk.Config `yaml:"bulk"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ParallelThreshold:   1000,
		PoolSize:            4,
		FullSyncTimeout:     30 * time.Minute,
		IncrementalInterval: 5 * time.Minute,
		Bulk:                bulk.DefaultConfig(),
	}
}

func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.ParallelThreshold == 0 {
		c.ParallelThreshold = d.ParallelThreshold
	}
	if c.PoolSize == 0 {
		c.PoolSize = d.PoolSize
	}
	if c.FullSyncTimeout == 0 {
		c.FullSyncTimeout = d.FullSyncTimeout
	}
	c.Bulk.ApplyDefaults()
}

func (c *Config) ApplyEnvOverrides() {}

func (c *Config) ResolvePaths(_, _ string) {}

func (c *Config) Validate() error {
	if c.PoolSize <= 0 {
		return fmt.Errorf("resync.pool_size must be positive")
	}
	if c.IncrementalInterval < 0 {
		return fmt.Errorf("resync.incremental_interval must not be negative")
	}
	return c.Bulk.Validate()
}
