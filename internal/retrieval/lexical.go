package retrieval

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/syntrixbase/searchsync/internal/searchindex"
)

const snippetLength = 200

// Lexical searches the full-text index.
type Lexical struct {
	index        searchindex.Index
	indexes      []string
	titleField   string
	contentField string
}

// NewLexical creates a lexical source over indexes.
func NewLexical(index searchindex.Index, indexes []string, cfg searchindex.Config) *Lexical {
	cfg.ApplyDefaults()
	return &Lexical{
		index:        index,
		indexes:      indexes,
		titleField:   cfg.TitleField,
		contentField: cfg.ContentField,
	}
}

func (l *Lexical) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	hits, err := l.index.Search(ctx, searchindex.Query{
		Indexes: l.indexes,
		Text:    req.Query,
		Filters: req.Filters,
		Size:    req.TopK,
	})
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		r := SearchResult{
			ID:         h.ID,
			Index:      h.Index,
			SourceType: SourceLexical,
			Title:      stringField(h.Fields, l.titleField),
			Content:    stringField(h.Fields, l.contentField),
			Score:      h.Score,
		}
		if frags := h.Fragments[l.contentField]; len(frags) > 0 {
			r.Highlight = strings.Join(frags, " ... ")
			r.Snippet = frags[0]
		} else {
			r.Snippet = snippet(r.Content)
		}
		for k, v := range h.Fields {
			if k == l.titleField || k == l.contentField {
				continue
			}
			if r.Metadata == nil {
				r.Metadata = make(map[string]any, len(h.Fields))
			}
			r.Metadata[k] = v
		}
		results = append(results, r)
	}
	return results, nil
}

func stringField(fields map[string]any, name string) string {
	switch v := fields[name].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func snippet(content string) string {
	if utf8.RuneCountInString(content) <= snippetLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:snippetLength]) + "..."
}
