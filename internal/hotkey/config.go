package hotkey

import (
	"fmt"
	"time"
)

// Config holds hot-key detection and warmup settings.
type Config struct {
	// Threshold accesses within Window promote a query to the hot set.
	Threshold int           `yaml:"threshold"`
	Window    time.Duration `yaml:"window"`
	// HotTTL is the lifetime of the hot set, refreshed on each promotion.
	HotTTL  time.Duration `yaml:"hot_ttl"`
	Timeout time.Duration `yaml:"timeout"`

	WarmupEnabled     bool          `yaml:"warmup_enabled"`
	WarmupInterval    time.Duration `yaml:"warmup_interval"`
	WarmupCount       int           `yaml:"warmup_count"`
	WarmupConcurrency int           `yaml:"warmup_concurrency"`
	// NearExpiry refreshes entries with less distributed TTL left.
	NearExpiry  time.Duration `yaml:"near_expiry"`
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Threshold:         100,
		Window:            time.Hour,
		HotTTL:            24 * time.Hour,
		Timeout:           500 * time.Millisecond,
		WarmupEnabled:     true,
		WarmupInterval:    30 * time.Minute,
		WarmupCount:       100,
		WarmupConcurrency: 4,
		NearExpiry:        24 * time.Minute,
		StopTimeout:       10 * time.Second,
	}
}

func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Threshold == 0 {
		c.Threshold = d.Threshold
	}
	if c.Window == 0 {
		c.Window = d.Window
	}
	if c.HotTTL == 0 {
		c.HotTTL = d.HotTTL
	}
	if c.Timeout == 0 {
		c.Timeout = d.Timeout
	}
	if c.WarmupInterval == 0 {
		c.WarmupInterval = d.WarmupInterval
	}
	if c.WarmupCount == 0 {
		c.WarmupCount = d.WarmupCount
	}
	if c.WarmupConcurrency == 0 {
		c.WarmupConcurrency = d.WarmupConcurrency
	}
	if c.NearExpiry == 0 {
		c.NearExpiry = d.NearExpiry
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = d.StopTimeout
	}
}

func (c *Config) ApplyEnvOverrides() {}

func (c *Config) ResolvePaths(_, _ string) {}

func (c *Config) Validate() error {
	if c.Threshold < 1 {
		return fmt.Errorf("hotkey.threshold must be positive")
	}
	if c.Window <= 0 || c.HotTTL <= 0 {
		return fmt.Errorf("hotkey.window and hotkey.hot_ttl must be positive")
	}
	if c.WarmupInterval <= 0 || c.WarmupCount < 1 || c.WarmupConcurrency < 1 {
		return fmt.Errorf("hotkey warmup interval, count and concurrency must be positive")
	}
	return nil
}
