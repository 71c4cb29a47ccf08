// Package rediskv builds the shared Redis client used by the idempotency
// guard, the hot-key detector and the distributed cache tier.
package rediskv

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection settings.
type Config struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DefaultConfig returns the default Redis configuration.
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		PoolSize:     20,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}
}

func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.PoolSize == 0 {
		c.PoolSize = d.PoolSize
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = d.WriteTimeout
	}
}

func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("SEARCHSYNC_REDIS_ADDR"); val != "" {
		c.Addr = val
	}
	if val := os.Getenv("SEARCHSYNC_REDIS_PASSWORD"); val != "" {
		c.Password = val
	}
	if val := os.Getenv("SEARCHSYNC_REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			c.DB = db
		}
	}
}

func (c *Config) ResolvePaths(_, _ string) {}

func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if c.DB < 0 {
		return fmt.Errorf("redis.db must be >= 0")
	}
	return nil
}

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}
