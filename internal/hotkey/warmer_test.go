package hotkey

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/searchsync/internal/retrieval"
)

type staticKeys struct {
	keys []string
	err  error
}

func (s staticKeys) HotKeys(_ context.Context, limit int) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	if limit > 0 && len(s.keys) > limit {
		return s.keys[:limit], nil
	}
	return s.keys, nil
}

type ttlMap map[string]time.Duration

func (m ttlMap) Remaining(_ context.Context, req retrieval.SearchRequest) (time.Duration, bool) {
	d, ok := m[req.Query]
	return d, ok
}

type recordingEngine struct {
	mu        sync.Mutex
	refreshed []retrieval.SearchRequest
	fail      map[string]bool
}

func (e *recordingEngine) Refresh(_ context.Context, req retrieval.SearchRequest) ([]retrieval.SearchResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail[req.Query] {
		return nil, errors.New("sources down")
	}
	e.refreshed = append(e.refreshed, req)
	return []retrieval.SearchResult{{ID: "1"}}, nil
}

func (e *recordingEngine) DefaultTopK() int { return 10 }

func (e *recordingEngine) queries() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.refreshed))
	for i, r := range e.refreshed {
		out[i] = r.Query
	}
	sort.Strings(out)
	return out
}

func TestWarmer_RefreshesAbsentAndNearExpiry(t *testing.T) {
	engine := &recordingEngine{}
	ttl := ttlMap{
		"fresh":  3 * time.Hour,
		"stale":  5 * time.Minute,
		"border": 24 * time.Minute,
	}
	keys := staticKeys{keys: []string{"absent", "border", "fresh", "stale"}}
	w := NewWarmer(keys, ttl, engine, DefaultConfig(), nil)

	n, err := w.WarmNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"absent", "stale"}, engine.queries())

	for _, req := range engine.refreshed {
		assert.Equal(t, retrieval.SourceHybrid, req.SourceType)
		assert.Equal(t, 10, req.TopK)
	}
}

func TestWarmer_CountAndFailures(t *testing.T) {
	engine := &recordingEngine{fail: map[string]bool{"b": true}}
	cfg := DefaultConfig()
	cfg.WarmupCount = 3
	w := NewWarmer(staticKeys{keys: []string{"a", "b", "c", "d"}}, ttlMap{}, engine, cfg, nil)

	n, err := w.WarmNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a", "c"}, engine.queries())
}

func TestWarmer_KeySourceError(t *testing.T) {
	w := NewWarmer(staticKeys{err: errors.New("redis down")}, ttlMap{}, &recordingEngine{}, DefaultConfig(), nil)
	_, err := w.WarmNow(context.Background())
	assert.ErrorContains(t, err, "redis down")
}

func TestWarmer_StartWarmsImmediately(t *testing.T) {
	engine := &recordingEngine{}
	w := NewWarmer(staticKeys{keys: []string{"q"}}, ttlMap{}, engine, DefaultConfig(), nil)

	w.Start(context.Background())
	assert.Eventually(t, func() bool {
		return len(engine.queries()) == 1
	}, time.Second, 5*time.Millisecond)
	w.Stop()
	w.Stop()
}

func TestWarmer_PeriodicCycles(t *testing.T) {
	engine := &recordingEngine{}
	cfg := DefaultConfig()
	cfg.WarmupInterval = 10 * time.Millisecond
	w := NewWarmer(staticKeys{keys: []string{"q"}}, ttlMap{}, engine, cfg, nil)

	w.Start(context.Background())
	defer w.Stop()
	assert.Eventually(t, func() bool {
		return len(engine.queries()) >= 3
	}, time.Second, 5*time.Millisecond)
}
