// Package retrieval answers search requests by fanning out to the lexical and
// vector sources, fusing their rankings and optionally reranking the result.
package retrieval

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRequest marks a search request that fails validation.
var ErrInvalidRequest = errors.New("invalid search request")

// MaxTopK bounds SearchRequest.TopK.
const MaxTopK = 100

// SourceType names a retrieval source, or HYBRID for both.
type SourceType string

const (
	SourceLexical SourceType = "ELASTICSEARCH"
	SourceVector  SourceType = "VECTOR"
	SourceHybrid  SourceType = "HYBRID"
)

// ParseSourceType parses a source type case-insensitively. An empty name is
// HYBRID.
func ParseSourceType(name string) (SourceType, error) {
	switch SourceType(strings.ToUpper(strings.TrimSpace(name))) {
	case "", SourceHybrid:
		return SourceHybrid, nil
	case SourceLexical:
		return SourceLexical, nil
	case SourceVector:
		return SourceVector, nil
	default:
		return "", fmt.Errorf("%w: unknown source type %q", ErrInvalidRequest, name)
	}
}

func (t SourceType) usesLexical() bool { return t == SourceLexical || t == SourceHybrid }
func (t SourceType) usesVector() bool  { return t == SourceVector || t == SourceHybrid }

// SearchRequest is one retrieval query.
type SearchRequest struct {
	Query        string         `json:"query" schema:"query" validate:"required"`
	TopK         int            `json:"topK" schema:"topK" validate:"omitempty,min=1,max=100"`
	SourceType   SourceType     `json:"sourceType,omitempty" schema:"sourceType"`
	Filters      map[string]any `json:"filters,omitempty" schema:"-"`
	EnableRerank bool           `json:"enableRerank,omitempty" schema:"enableRerank"`
	// VectorWeight and KeywordWeight select weighted fusion when either is
	// set. A missing weight counts as 1.0.
	VectorWeight  *float64 `json:"vectorWeight,omitempty" schema:"vectorWeight" validate:"omitempty,min=0"`
	KeywordWeight *float64 `json:"keywordWeight,omitempty" schema:"keywordWeight" validate:"omitempty,min=0"`
}

// Normalize validates r in place and fills defaults: a zero TopK becomes
// defaultTopK and an empty SourceType becomes HYBRID.
func (r *SearchRequest) Normalize(defaultTopK int) error {
	r.Query = strings.TrimSpace(r.Query)
	if r.Query == "" {
		return fmt.Errorf("%w: query is required", ErrInvalidRequest)
	}
	if r.TopK == 0 {
		r.TopK = defaultTopK
	}
	if r.TopK < 1 || r.TopK > MaxTopK {
		return fmt.Errorf("%w: topK must be between 1 and %d, got %d", ErrInvalidRequest, MaxTopK, r.TopK)
	}
	st, err := ParseSourceType(string(r.SourceType))
	if err != nil {
		return err
	}
	r.SourceType = st
	if r.VectorWeight != nil && *r.VectorWeight < 0 {
		return fmt.Errorf("%w: vectorWeight must not be negative", ErrInvalidRequest)
	}
	if r.KeywordWeight != nil && *r.KeywordWeight < 0 {
		return fmt.Errorf("%w: keywordWeight must not be negative", ErrInvalidRequest)
	}
	return nil
}

// weighted reports whether r asks for weighted fusion.
func (r *SearchRequest) weighted() bool {
	return r.VectorWeight != nil || r.KeywordWeight != nil
}

func (r *SearchRequest) weights() map[SourceType]float64 {
	w := map[SourceType]float64{SourceLexical: 1, SourceVector: 1}
	if r.KeywordWeight != nil {
		w[SourceLexical] = *r.KeywordWeight
	}
	if r.VectorWeight != nil {
		w[SourceVector] = *r.VectorWeight
	}
	return w
}

// SearchResult is one ranked document. Score is source-local until fusion
// and reranking overwrite it.
type SearchResult struct {
	ID         string         `json:"id"`
	Index      string         `json:"index,omitempty"`
	SourceType SourceType     `json:"sourceType"`
	Title      string         `json:"title,omitempty"`
	Content    string         `json:"content,omitempty"`
	Snippet    string         `json:"snippet,omitempty"`
	Highlight  string         `json:"highlight,omitempty"`
	Score      float64        `json:"score"`
	Rank       int            `json:"rank"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// passage is the text sent to the reranker.
func (r SearchResult) passage() string {
	switch {
	case r.Title == "":
		return r.Content
	case r.Content == "":
		return r.Title
	default:
		return r.Title + "\n" + r.Content
	}
}
