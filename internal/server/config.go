package server

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/syntrixbase/searchsync/internal/server/ratelimit"
)

// Config holds the HTTP listener configuration.
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// WriteTimeout has no default since admin syncs can run for minutes.
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`

	// RequestTimeout bounds every handler's context. Zero disables it;
	// the API applies per-route timeouts instead.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	EnableCORS     bool     `yaml:"enable_cors"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	RateLimit ratelimit.Config `yaml:"rate_limit"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultConfig returns safe defaults for development.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            8080,
		ReadTimeout:     10 * time.Second,
		IdleTimeout:     60 * time.Second,
		RateLimit:       ratelimit.Config{Requests: 100, Window: time.Minute},
		ShutdownTimeout: 10 * time.Second,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.Host == "" {
		c.Host = defaults.Host
	}
	if c.Port == 0 {
		c.Port = defaults.Port
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = defaults.ReadTimeout
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = defaults.IdleTimeout
	}
	if c.RateLimit.Requests == 0 {
		c.RateLimit.Requests = defaults.RateLimit.Requests
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = defaults.RateLimit.Window
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaults.ShutdownTimeout
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("SEARCHSYNC_HTTP_HOST"); val != "" {
		c.Host = val
	}
	if val := os.Getenv("SEARCHSYNC_HTTP_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Port = port
		}
	}
}

// ResolvePaths is a no-op; the server has no file paths.
func (c *Config) ResolvePaths(_, _ string) { _ = c }

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Port)
	}
	if c.RateLimit.Enabled && (c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("server.rate_limit requires positive requests and window")
	}
	return nil
}
