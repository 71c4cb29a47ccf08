package retrieval

import (
	"fmt"
	"os"
	"time"
)

// Config holds retrieval settings.
type Config struct {
	DefaultTopK int `yaml:"default_top_k"`
	// SourceTimeout bounds each source call. A source that times out
	// contributes no results.
	SourceTimeout time.Duration `yaml:"source_timeout"`
	// Indexes are searched by the lexical source. Empty means every
	// configured table.
	Indexes   []string        `yaml:"indexes"`
	Rerank    RerankConfig    `yaml:"rerank"`
	Embedding EmbeddingConfig `yaml:"embedding"`
}

// RerankConfig configures the external relevance scorer.
type RerankConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Model   string `yaml:"model"`
	// Timeout bounds one attempt.
	Timeout        time.Duration `yaml:"timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
}

// EmbeddingConfig configures the query embedder. Without a URL queries are
// embedded with the local hashing embedder.
type EmbeddingConfig struct {
	URL       string        `yaml:"url"`
	Model     string        `yaml:"model"`
	APIKey    string        `yaml:"api_key"`
	Dimension int           `yaml:"dimension"`
	Timeout   time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the default retrieval configuration.
func DefaultConfig() Config {
	return Config{
		DefaultTopK:   10,
		SourceTimeout: 3 * time.Second,
		Rerank: RerankConfig{
			Model:          "bge-reranker-v2-m3",
			Timeout:        5 * time.Second,
			MaxAttempts:    3,
			InitialBackoff: 200 * time.Millisecond,
			Multiplier:     2,
		},
		Embedding: EmbeddingConfig{
			Model:     "bge-m3",
			Dimension: 1024,
			Timeout:   5 * time.Second,
		},
	}
}

func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.DefaultTopK == 0 {
		c.DefaultTopK = d.DefaultTopK
	}
	if c.SourceTimeout == 0 {
		c.SourceTimeout = d.SourceTimeout
	}
	if c.Rerank.Model == "" {
		c.Rerank.Model = d.Rerank.Model
	}
	if c.Rerank.Timeout == 0 {
		c.Rerank.Timeout = d.Rerank.Timeout
	}
	if c.Rerank.MaxAttempts == 0 {
		c.Rerank.MaxAttempts = d.Rerank.MaxAttempts
	}
	if c.Rerank.InitialBackoff == 0 {
		c.Rerank.InitialBackoff = d.Rerank.InitialBackoff
	}
	if c.Rerank.Multiplier == 0 {
		c.Rerank.Multiplier = d.Rerank.Multiplier
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = d.Embedding.Model
	}
	if c.Embedding.Dimension == 0 {
		c.Embedding.Dimension = d.Embedding.Dimension
	}
	if c.Embedding.Timeout == 0 {
		c.Embedding.Timeout = d.Embedding.Timeout
	}
}

func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("SEARCHSYNC_RERANK_URL"); val != "" {
		c.Rerank.URL = val
		c.Rerank.Enabled = true
	}
	if val := os.Getenv("SEARCHSYNC_EMBEDDING_URL"); val != "" {
		c.Embedding.URL = val
	}
	if val := os.Getenv("SEARCHSYNC_EMBEDDING_API_KEY"); val != "" {
		c.Embedding.APIKey = val
	}
}

func (c *Config) ResolvePaths(_, _ string) {}

func (c *Config) Validate() error {
	if c.DefaultTopK < 1 || c.DefaultTopK > MaxTopK {
		return fmt.Errorf("retrieval.default_top_k must be between 1 and %d", MaxTopK)
	}
	if c.SourceTimeout <= 0 {
		return fmt.Errorf("retrieval.source_timeout must be positive")
	}
	if c.Rerank.Enabled && c.Rerank.URL == "" {
		return fmt.Errorf("retrieval.rerank.url is required when rerank is enabled")
	}
	if c.Rerank.MaxAttempts < 1 {
		return fmt.Errorf("retrieval.rerank.max_attempts must be at least 1")
	}
	if c.Rerank.Multiplier < 1 {
		return fmt.Errorf("retrieval.rerank.multiplier must be at least 1")
	}
	if c.Embedding.Dimension < 1 {
		return fmt.Errorf("retrieval.embedding.dimension must be positive")
	}
	return nil
}
