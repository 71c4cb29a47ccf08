package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// Embedder turns query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Normalize scales v to unit length in place. A zero vector is left as is.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// HTTPEmbedder calls an OpenAI-compatible embeddings endpoint.
type HTTPEmbedder struct {
	cfg    EmbeddingConfig
	client *http.Client
}

// NewHTTPEmbedder creates an HTTPEmbedder. cfg.URL is the full endpoint,
// e.g. http://host/v1/embeddings.
func NewHTTPEmbedder(cfg EmbeddingConfig) *HTTPEmbedder {
	return &HTTPEmbedder{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// SetHTTPClient sets a custom HTTP client (useful for testing).
func (e *HTTPEmbedder) SetHTTPClient(client *http.Client) {
	e.client = client
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: e.cfg.Model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call embedding service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding request failed with status: %d", resp.StatusCode)
	}

	var out embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(out.Data) == 0 || len(out.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedding response is empty")
	}
	return Normalize(out.Data[0].Embedding), nil
}

// HashEmbedder is a deterministic local embedder. Each lower-cased token is
// hashed into one of Dimension buckets with a hash-derived sign, so texts
// sharing tokens get similar vectors.
type HashEmbedder struct {
	Dimension int
}

func (e HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.Dimension <= 0 {
		return nil, fmt.Errorf("hash embedder dimension must be positive")
	}
	v := make([]float32, e.Dimension)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, tok := range tokens {
		h := xxhash.Sum64String(tok)
		i := h % uint64(e.Dimension)
		if h>>63 == 1 {
			v[i]--
		} else {
			v[i]++
		}
	}
	return Normalize(v), nil
}
