package retrieval

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/searchsync/internal/searchindex"
)

func TestLexical_Search(t *testing.T) {
	ctx := context.Background()
	idx, err := searchindex.NewBleve(searchindex.Config{InMemory: true})
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Bulk(ctx, "codestyle_template", []searchindex.Op{
		{Type: searchindex.OpUpsert, ID: "1", Doc: map[string]any{
			"title":   "Redis connection pool",
			"content": "How to size the redis connection pool for a web service",
			"lang":    "go",
		}},
		{Type: searchindex.OpUpsert, ID: "2", Doc: map[string]any{
			"title":   "Kafka consumer",
			"content": strings.Repeat("consumer lag ", 40),
			"lang":    "java",
		}},
	}))

	l := NewLexical(idx, []string{"codestyle_template", "missing"}, searchindex.Config{})
	got, err := l.Search(ctx, SearchRequest{Query: "redis pool", TopK: 5})
	require.NoError(t, err)
	require.NotEmpty(t, got)

	top := got[0]
	assert.Equal(t, "1", top.ID)
	assert.Equal(t, SourceLexical, top.SourceType)
	assert.Equal(t, "Redis connection pool", top.Title)
	assert.Contains(t, top.Highlight, "<mark>")
	assert.NotEmpty(t, top.Snippet)
	assert.Equal(t, "go", top.Metadata["lang"])
	assert.Positive(t, top.Score)

	got, err = l.Search(ctx, SearchRequest{Query: "consumer", TopK: 5, Filters: map[string]any{"lang": "go"}})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "short", snippet("short"))
	long := strings.Repeat("é", 250)
	s := snippet(long)
	assert.True(t, strings.HasSuffix(s, "..."))
	assert.Equal(t, snippetLength+3, len([]rune(s)))
}
