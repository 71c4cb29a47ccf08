// Package config loads the process configuration: defaults, then
// config.yml, then config.local.yml, then SEARCHSYNC_* environment
// overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/syntrixbase/searchsync/internal/cache"
	"github.com/syntrixbase/searchsync/internal/checkpoint"
	"github.com/syntrixbase/searchsync/internal/core/pubsub"
	"github.com/syntrixbase/searchsync/internal/core/rediskv"
	"github.com/syntrixbase/searchsync/internal/hotkey"
	"github.com/syntrixbase/searchsync/internal/pipeline"
	"github.com/syntrixbase/searchsync/internal/resync"
	"github.com/syntrixbase/searchsync/internal/retrieval"
	"github.com/syntrixbase/searchsync/internal/retrieval/vector"
	"github.com/syntrixbase/searchsync/internal/rowstore"
	"github.com/syntrixbase/searchsync/internal/searchindex"
	"github.com/syntrixbase/searchsync/internal/server"
	"github.com/syntrixbase/searchsync/internal/source"
	"gopkg.in/yaml.v3"
)

const (
	mainFile  = "config.yml"
	localFile = "config.local.yml"
)

// Config holds the application configuration.
type Config struct {
	// DataDir is the root of runtime data: logs, bleve indexes and
	// checkpoints. Relative paths resolve against the working directory.
	DataDir string `yaml:"data_dir"`

	Logging LoggingConfig `yaml:"logging"`
	Server  server.Config `yaml:"server"`

	// Infrastructure
	Broker     pubsub.Config      `yaml:"broker"`
	Redis      rediskv.Config     `yaml:"redis"`
	Database   rowstore.Config    `yaml:"database"`
	Index      searchindex.Config `yaml:"index"`
	Checkpoint checkpoint.Config  `yaml:"checkpoint"`

	// Services
	Source    source.Config    `yaml:"source"`
	Pipeline  pipeline.Config  `yaml:"pipeline"`
	Resync    resync.Config    `yaml:"resync"`
	Retrieval retrieval.Config `yaml:"retrieval"`
	Vector    vector.Config    `yaml:"vector"`
	Cache     cache.Config     `yaml:"cache"`
	HotKey    hotkey.Config    `yaml:"hotkey"`
}

// Default returns the configuration used when no file sets a value.
func Default() *Config {
	return &Config{
		DataDir:    "data",
		Logging:    DefaultLoggingConfig(),
		Server:     server.DefaultConfig(),
		Broker:     pubsub.DefaultConfig(),
		Redis:      rediskv.DefaultConfig(),
		Database:   rowstore.DefaultConfig(),
		Index:      searchindex.DefaultConfig(),
		Checkpoint: checkpoint.DefaultConfig(),
		Source:     source.DefaultConfig(),
		Pipeline:   pipeline.DefaultConfig(),
		Resync:     resync.DefaultConfig(),
		Retrieval:  retrieval.DefaultConfig(),
		Vector:     vector.DefaultConfig(),
		Cache:      cache.DefaultConfig(),
		HotKey:     hotkey.DefaultConfig(),
	}
}

// LoadConfig loads configuration from configDir.
// Order: defaults -> config.yml -> config.local.yml -> ApplyDefaults ->
// ApplyEnvOverrides -> ResolvePaths -> Validate. Missing files are skipped.
func LoadConfig(configDir string) (*Config, error) {
	cfg := Default()

	for _, name := range []string{mainFile, localFile} {
		if err := loadFile(filepath.Join(configDir, name), cfg); err != nil {
			return nil, err
		}
	}

	if val := os.Getenv("SEARCHSYNC_DATA_DIR"); val != "" {
		cfg.DataDir = val
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}

	if err := ApplyServiceConfigs(configDir, cfg.DataDir, cfg.services()...); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

func (c *Config) services() []ServiceConfig {
	return []ServiceConfig{
		&c.Logging,
		&c.Server,
		&c.Broker,
		&c.Redis,
		&c.Database,
		&c.Index,
		&c.Checkpoint,
		&c.Source,
		&c.Pipeline,
		&c.Resync,
		&c.Retrieval,
		&c.Vector,
		&c.Cache,
		&c.HotKey,
	}
}

func loadFile(filename string, cfg *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", filename, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filename, err)
	}
	return nil
}
