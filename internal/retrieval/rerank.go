package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Reranker scores passages against a query. It returns one score per
// passage, in passage order.
type Reranker interface {
	Rerank(ctx context.Context, query string, passages []string) ([]float64, error)
}

// statusError is a non-2xx scorer response.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("rerank request failed with status: %d", e.code)
}

// transient reports whether a failed attempt is worth retrying: network
// failures, 429 and 5xx.
func transient(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, errTransport)
}

var (
	errTransport  = errors.New("rerank transport failure")
	errScoreCount = errors.New("rerank score count does not match passages")
)

type rerankRequest struct {
	Model    string   `json:"model"`
	Query    string   `json:"query"`
	Passages []string `json:"passages"`
}

type rerankResponse struct {
	Scores []float64 `json:"scores"`
	Model  string    `json:"model,omitempty"`
}

// HTTPReranker calls a JSON scoring endpoint, retrying transient failures
// with exponential backoff.
type HTTPReranker struct {
	cfg    RerankConfig
	client *http.Client
	logger *slog.Logger
	timer  backoff.Timer
}

// NewHTTPReranker creates an HTTPReranker.
func NewHTTPReranker(cfg RerankConfig, logger *slog.Logger) *HTTPReranker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &HTTPReranker{
		cfg:    cfg,
		client: &http.Client{},
		logger: logger.With("component", "reranker"),
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing).
func (r *HTTPReranker) SetHTTPClient(client *http.Client) {
	r.client = client
}

func (r *HTTPReranker) Rerank(ctx context.Context, query string, passages []string) ([]float64, error) {
	var scores []float64
	op := func() error {
		var err error
		scores, err = r.call(ctx, query, passages)
		if err != nil && !transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Warn("Rerank attempt failed, retrying", "backoff", wait, "error", err)
	}
	if err := backoff.RetryNotifyWithTimer(op, r.policy(ctx), notify, r.timer); err != nil {
		return nil, err
	}
	return scores, nil
}

// policy allows MaxAttempts calls in total, starting at InitialBackoff and
// growing by Multiplier without jitter.
func (r *HTTPReranker) policy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.cfg.InitialBackoff
	exp.Multiplier = r.cfg.Multiplier
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(r.cfg.MaxAttempts-1)), ctx)
}

func (r *HTTPReranker) call(ctx context.Context, query string, passages []string) ([]float64, error) {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(rerankRequest{Model: r.cfg.Model, Query: query, Passages: passages})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", errTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &statusError{code: resp.StatusCode}
	}

	var out rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}
	if len(out.Scores) != len(passages) {
		return nil, fmt.Errorf("%w: got %d for %d", errScoreCount, len(out.Scores), len(passages))
	}
	return out.Scores, nil
}
