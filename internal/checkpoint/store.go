// Package checkpoint persists source positions and sync watermarks with
// PebbleDB.
package checkpoint

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

const (
	positionPrefix = "!position/"
	lastSyncPrefix = "!sync/"
)

// Config configures the checkpoint store.
type Config struct {
	// Dir is the pebble directory. Relative paths resolve against the data
	// directory.
	Dir string `yaml:"dir"`
	// InMemory keeps checkpoints in memory only.
	InMemory bool `yaml:"in_memory"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{Dir: "checkpoints"}
}

func (c *Config) ApplyDefaults() {
	if c.Dir == "" {
		c.Dir = DefaultConfig().Dir
	}
}

func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("SEARCHSYNC_CHECKPOINT_DIR"); val != "" {
		c.Dir = val
	}
}

func (c *Config) ResolvePaths(_, dataDir string) {
	if c.Dir != "" && !filepath.IsAbs(c.Dir) && dataDir != "" {
		c.Dir = filepath.Clean(filepath.Join(dataDir, c.Dir))
	}
}

func (c *Config) Validate() error {
	if !c.InMemory && c.Dir == "" {
		return fmt.Errorf("checkpoint.dir is required")
	}
	return nil
}

// Position is a binlog position: file name and byte offset.
type Position struct {
	File   string `json:"file"`
	Offset uint32 `json:"offset"`
}

// IsZero reports whether no position is recorded.
func (p Position) IsZero() bool {
	return p.File == "" && p.Offset == 0
}

func (p Position) String() string {
	return fmt.Sprintf("%s:%d", p.File, p.Offset)
}

// Store reads and writes checkpoints. It is safe for concurrent use.
type Store struct {
	db     *pebble.DB
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// Open opens the store described by cfg.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := &pebble.Options{}
	dir := cfg.Dir
	if cfg.InMemory {
		opts.FS = vfs.NewMem()
		if dir == "" {
			dir = "checkpoints"
		}
	} else {
		if dir == "" {
			return nil, fmt.Errorf("checkpoint path is required")
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
		}
	}

	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble database: %w", err)
	}
	return &Store{db: db, logger: logger.With("component", "checkpoint")}, nil
}

// LoadPosition returns the saved position of source, or the zero Position.
func (s *Store) LoadPosition(source string) (Position, error) {
	var pos Position
	value, ok, err := s.get(positionPrefix + source)
	if err != nil || !ok {
		return pos, err
	}
	if err := json.Unmarshal(value, &pos); err != nil {
		return Position{}, fmt.Errorf("failed to decode position of %s: %w", source, err)
	}
	return pos, nil
}

// SavePosition durably records the position of source.
func (s *Store) SavePosition(source string, pos Position) error {
	value, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("failed to encode position: %w", err)
	}
	if err := s.set(positionPrefix+source, value); err != nil {
		return fmt.Errorf("failed to save position of %s: %w", source, err)
	}
	return nil
}

// LastSync returns the last incremental sync time of table.
func (s *Store) LastSync(table string) (time.Time, bool, error) {
	value, ok, err := s.get(lastSyncPrefix + table)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	if len(value) != 8 {
		return time.Time{}, false, fmt.Errorf("invalid sync watermark of %s", table)
	}
	return time.UnixMilli(int64(binary.BigEndian.Uint64(value))), true, nil
}

// SetLastSync records the last incremental sync time of table.
func (s *Store) SetLastSync(table string, t time.Time) error {
	value := binary.BigEndian.AppendUint64(nil, uint64(t.UnixMilli()))
	if err := s.set(lastSyncPrefix+table, value); err != nil {
		return fmt.Errorf("failed to save sync watermark of %s: %w", table, err)
	}
	return nil
}

func (s *Store) get(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, fmt.Errorf("checkpoint store is closed")
	}

	value, closer, err := s.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer closer.Close()
	return append([]byte(nil), value...), true, nil
}

func (s *Store) set(key string, value []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("checkpoint store is closed")
	}
	return s.db.Set([]byte(key), value, pebble.Sync)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close checkpoint store", "error", err)
		return err
	}
	return nil
}
