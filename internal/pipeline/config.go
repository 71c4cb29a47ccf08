package pipeline

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/syntrixbase/searchsync/internal/pipeline/bulk"
	"github.com/syntrixbase/searchsync/internal/pipeline/idempotency"
)

// Config holds the change consumer configuration.
type Config struct {
	// ConsumerGroup is the durable consumer name shared by every instance.
	ConsumerGroup string `yaml:"consumer_group"`
	// MaxPollRecords caps the messages fetched per batch.
	MaxPollRecords int `yaml:"max_poll_records"`
	// FetchWait is how long one fetch waits for the first message.
	FetchWait time.Duration `yaml:"fetch_wait"`
	// Concurrency is the number of per-key workers.
	Concurrency int `yaml:"concurrency"`
	// AckWait is the broker redelivery timeout of a fetched message.
	AckWait time.Duration `yaml:"ack_wait"`
	// RedeliveryDelay is used when a message could not be dead-lettered.
	RedeliveryDelay time.Duration `yaml:"redelivery_delay"`

	Bulk        bulk.Config        `yaml:"bulk"`
	Idempotency idempotency.Config `yaml:"idempotency"`
}

// DefaultConfig returns the default consumer configuration.
func DefaultConfig() Config {
	return Config{
		ConsumerGroup:   "searchsync",
		MaxPollRecords:  500,
		FetchWait:       time.Second,
		Concurrency:     3,
		AckWait:         30 * time.Second,
		RedeliveryDelay: 5 * time.Second,
		Bulk:            bulk.DefaultConfig(),
		Idempotency:     idempotency.DefaultConfig(),
	}
}

func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.ConsumerGroup == "" {
		c.ConsumerGroup = d.ConsumerGroup
	}
	if c.MaxPollRecords == 0 {
		c.MaxPollRecords = d.MaxPollRecords
	}
	if c.FetchWait == 0 {
		c.FetchWait = d.FetchWait
	}
	if c.Concurrency == 0 {
		c.Concurrency = d.Concurrency
	}
	if c.AckWait == 0 {
		c.AckWait = d.AckWait
	}
	if c.RedeliveryDelay == 0 {
		c.RedeliveryDelay = d.RedeliveryDelay
	}
	c.Bulk.ApplyDefaults()
	c.Idempotency.ApplyDefaults()
}

func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("SEARCHSYNC_CONSUMER_GROUP"); val != "" {
		c.ConsumerGroup = val
	}
	if val := os.Getenv("SEARCHSYNC_CONSUMER_CONCURRENCY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Concurrency = n
		}
	}
	c.Bulk.ApplyEnvOverrides()
	c.Idempotency.ApplyEnvOverrides()
}

func (c *Config) ResolvePaths(configDir, dataDir string) {
	c.Bulk.ResolvePaths(configDir, dataDir)
	c.Idempotency.ResolvePaths(configDir, dataDir)
}

func (c *Config) Validate() error {
	if c.Concurrency <= 0 {
		return fmt.Errorf("consumer.concurrency must be positive")
	}
	if c.MaxPollRecords <= 0 {
		return fmt.Errorf("consumer.max_poll_records must be positive")
	}
	if err := c.Bulk.Validate(); err != nil {
		return err
	}
	return c.Idempotency.Validate()
}
