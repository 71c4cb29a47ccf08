package cache

import (
	"fmt"
	"time"
)

// Config holds cache tier settings.
type Config struct {
	LocalSize int           `yaml:"local_size"`
	LocalTTL  time.Duration `yaml:"local_ttl"`
	// TTL and HotTTL apply to the distributed tier.
	TTL     time.Duration `yaml:"ttl"`
	HotTTL  time.Duration `yaml:"hot_ttl"`
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		LocalSize: 1000,
		LocalTTL:  5 * time.Minute,
		TTL:       time.Hour,
		HotTTL:    4 * time.Hour,
		Timeout:   500 * time.Millisecond,
	}
}

func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.LocalSize == 0 {
		c.LocalSize = d.LocalSize
	}
	if c.LocalTTL == 0 {
		c.LocalTTL = d.LocalTTL
	}
	if c.TTL == 0 {
		c.TTL = d.TTL
	}
	if c.HotTTL == 0 {
		c.HotTTL = d.HotTTL
	}
	if c.Timeout == 0 {
		c.Timeout = d.Timeout
	}
}

func (c *Config) ApplyEnvOverrides() {}

func (c *Config) ResolvePaths(_, _ string) {}

func (c *Config) Validate() error {
	if c.LocalSize < 1 {
		return fmt.Errorf("cache.local_size must be positive")
	}
	if c.TTL <= 0 || c.HotTTL <= 0 || c.LocalTTL <= 0 {
		return fmt.Errorf("cache ttls must be positive")
	}
	if c.HotTTL < c.TTL {
		return fmt.Errorf("cache.hot_ttl must not be shorter than cache.ttl")
	}
	return nil
}
