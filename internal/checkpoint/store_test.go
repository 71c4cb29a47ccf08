package checkpoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMem(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{InMemory: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_Position(t *testing.T) {
	s := openMem(t)

	pos, err := s.LoadPosition("primary")
	require.NoError(t, err)
	assert.True(t, pos.IsZero())

	want := Position{File: "mysql-bin.000003", Offset: 4567}
	require.NoError(t, s.SavePosition("primary", want))

	pos, err = s.LoadPosition("primary")
	require.NoError(t, err)
	assert.Equal(t, want, pos)
	assert.Equal(t, "mysql-bin.000003:4567", pos.String())

	other, err := s.LoadPosition("replica")
	require.NoError(t, err)
	assert.True(t, other.IsZero())
}

func TestStore_LastSync(t *testing.T) {
	s := openMem(t)

	_, ok, err := s.LastSync("template")
	require.NoError(t, err)
	assert.False(t, ok)

	at := time.UnixMilli(1700000000123)
	require.NoError(t, s.SetLastSync("template", at))

	got, ok, err := s.LastSync("template")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, at.Equal(got))
}

func TestStore_PersistsOnDisk(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(Config{Dir: dir}, nil)
	require.NoError(t, err)
	require.NoError(t, s.SavePosition("primary", Position{File: "bin.000001", Offset: 120}))
	require.NoError(t, s.Close())

	s, err = Open(Config{Dir: dir}, nil)
	require.NoError(t, err)
	defer s.Close()

	pos, err := s.LoadPosition("primary")
	require.NoError(t, err)
	assert.Equal(t, Position{File: "bin.000001", Offset: 120}, pos)
}

func TestStore_Closed(t *testing.T) {
	s, err := Open(Config{InMemory: true}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.LoadPosition("primary")
	assert.Error(t, err)
	assert.Error(t, s.SetLastSync("t", time.Now()))
}

func TestConfig_Lifecycle(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	assert.Equal(t, "checkpoints", cfg.Dir)

	t.Setenv("SEARCHSYNC_CHECKPOINT_DIR", "cp")
	cfg.ApplyEnvOverrides()
	cfg.ResolvePaths("config", "/var/lib/searchsync")
	assert.Equal(t, "/var/lib/searchsync/cp", cfg.Dir)
	assert.NoError(t, cfg.Validate())
}
