package searchindex

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config configures the bleve-backed index.
type Config struct {
	// Dir holds one <name>.bleve directory per index.
	Dir string `yaml:"dir"`
	// InMemory keeps indexes in memory only.
	InMemory bool `yaml:"in_memory"`
	// TitleField and ContentField are boosted in queries; ContentField is
	// highlighted.
	TitleField   string `yaml:"title_field"`
	ContentField string `yaml:"content_field"`
	TagsField    string `yaml:"tags_field"`
}

// DefaultConfig returns the default index configuration.
func DefaultConfig() Config {
	return Config{
		Dir:          "indexes",
		TitleField:   "title",
		ContentField: "content",
		TagsField:    "tags",
	}
}

func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Dir == "" {
		c.Dir = d.Dir
	}
	if c.TitleField == "" {
		c.TitleField = d.TitleField
	}
	if c.ContentField == "" {
		c.ContentField = d.ContentField
	}
	if c.TagsField == "" {
		c.TagsField = d.TagsField
	}
}

func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("SEARCHSYNC_INDEX_DIR"); val != "" {
		c.Dir = val
	}
}

func (c *Config) ResolvePaths(_, dataDir string) {
	if c.Dir != "" && !filepath.IsAbs(c.Dir) && dataDir != "" {
		c.Dir = filepath.Join(dataDir, c.Dir)
	}
}

func (c *Config) Validate() error {
	if !c.InMemory && c.Dir == "" {
		return fmt.Errorf("index.dir is required unless index.in_memory is set")
	}
	return nil
}
