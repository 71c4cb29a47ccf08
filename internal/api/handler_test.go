package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/searchsync/internal/resync"
	"github.com/syntrixbase/searchsync/internal/retrieval"
	"github.com/syntrixbase/searchsync/internal/rowstore"
	"github.com/syntrixbase/searchsync/internal/server"
)

type mockSearcher struct{ mock.Mock }

func (m *mockSearcher) Search(ctx context.Context, req retrieval.SearchRequest) ([]retrieval.SearchResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).([]retrieval.SearchResult)
	return res, args.Error(1)
}

type mockSyncer struct {
	mock.Mock
	tables []rowstore.Table
}

func (m *mockSyncer) Run(ctx context.Context, req resync.Request) (resync.Result, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(resync.Result), args.Error(1)
}

func (m *mockSyncer) Tables() []rowstore.Table { return m.tables }

type countFunc func(ctx context.Context) (int, error)

func (f countFunc) InvalidateAll(ctx context.Context) (int, error) { return f(ctx) }
func (f countFunc) WarmNow(ctx context.Context) (int, error)       { return f(ctx) }

func newTestServer(h *Handler) http.Handler {
	srv := server.New(server.Config{}, nil)
	h.RegisterRoutes(srv)
	return srv.Handler()
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) server.APIError {
	t.Helper()
	var apiErr server.APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &apiErr))
	return apiErr
}

func TestSearchTemplate(t *testing.T) {
	searcher := new(mockSearcher)
	results := []retrieval.SearchResult{
		{ID: "1", Index: "scrm_templates", Title: "Coding style", Score: 0.03, Rank: 1},
	}
	vw := 0.7
	searcher.On("Search", mock.Anything, retrieval.SearchRequest{
		Query:        "coding style",
		TopK:         5,
		Filters:      map[string]any{"codestyle": "go"},
		EnableRerank: true,
		VectorWeight: &vw,
	}).Return(results, nil)

	h := newTestServer(NewHandler(searcher, nil))
	w := do(t, h, http.MethodPost, "/search/template",
		`{"query":"coding style","topK":5,"filters":{"codestyle":"go"},"enableRerank":true,"vectorWeight":0.7}`)

	require.Equal(t, http.StatusOK, w.Code)
	var got []retrieval.SearchResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, results, got)
	searcher.AssertExpectations(t)
}

func TestSearchTemplate_Validation(t *testing.T) {
	searcher := new(mockSearcher)
	h := newTestServer(NewHandler(searcher, nil))

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"missing query", `{"topK":5}`, "query"},
		{"topK too large", `{"query":"q","topK":101}`, "topK"},
		{"negative topK", `{"query":"q","topK":-1}`, "topK"},
		{"negative weight", `{"query":"q","keywordWeight":-0.5}`, "keywordWeight"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/search/template", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			apiErr := decodeError(t, w)
			assert.Equal(t, ErrCodeBadRequest, apiErr.Code)
			assert.Contains(t, apiErr.Message, tt.field)
		})
	}
	searcher.AssertNotCalled(t, "Search", mock.Anything, mock.Anything)
}

func TestSearchTemplate_BadBody(t *testing.T) {
	h := newTestServer(NewHandler(new(mockSearcher), nil))

	w := do(t, h, http.MethodPost, "/search/template", `{"query":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	big := `{"query":"` + strings.Repeat("a", DefaultMaxBodySize) + `"}`
	w = do(t, h, http.MethodPost, "/search/template", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestSearchTemplate_EngineErrors(t *testing.T) {
	searcher := new(mockSearcher)
	searcher.On("Search", mock.Anything, mock.MatchedBy(func(r retrieval.SearchRequest) bool { return r.Query == "bad" })).
		Return(nil, fmt.Errorf("%w: unknown source type", retrieval.ErrInvalidRequest))
	searcher.On("Search", mock.Anything, mock.MatchedBy(func(r retrieval.SearchRequest) bool { return r.Query == "boom" })).
		Return(nil, errors.New("index closed"))
	h := newTestServer(NewHandler(searcher, nil))

	w := do(t, h, http.MethodPost, "/search/template", `{"query":"bad","sourceType":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPost, "/search/template", `{"query":"boom"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, ErrCodeInternalError, decodeError(t, w).Code)
}

func TestSearchTemplate_EmptyResultIsArray(t *testing.T) {
	searcher := new(mockSearcher)
	searcher.On("Search", mock.Anything, mock.Anything).Return(nil, nil)
	h := newTestServer(NewHandler(searcher, nil))

	w := do(t, h, http.MethodPost, "/search/template", `{"query":"nothing"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestSearchQuick(t *testing.T) {
	searcher := new(mockSearcher)
	searcher.On("Search", mock.Anything, retrieval.SearchRequest{
		Query:      "coding style",
		TopK:       3,
		SourceType: retrieval.SourceLexical,
	}).Return([]retrieval.SearchResult{{ID: "1", Rank: 1}}, nil)
	h := newTestServer(NewHandler(searcher, nil))

	w := do(t, h, http.MethodGet, "/search/quick?query=coding+style&topK=3&sourceType=ELASTICSEARCH&utm=x", "")
	require.Equal(t, http.StatusOK, w.Code)
	searcher.AssertExpectations(t)

	w = do(t, h, http.MethodGet, "/search/quick?query=q&topK=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodGet, "/search/quick", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSync_SingleTable(t *testing.T) {
	syncer := &mockSyncer{}
	since := time.Unix(1700000000, 0)
	syncer.On("Run", mock.Anything, resync.Request{
		Strategy: resync.StrategyIncremental,
		Table:    "scrm.templates",
		Since:    since,
	}).Return(resync.Result{Strategy: resync.StrategyIncremental, Table: "scrm_templates", Count: 4, Duration: 15 * time.Millisecond}, nil)

	h := newTestServer(NewHandler(nil, nil, WithSyncer(syncer)))
	w := do(t, h, http.MethodPost, "/sync/incremental?table=scrm.templates&since=1700000000", "")

	require.Equal(t, http.StatusOK, w.Code)
	var resp SyncResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "incremental", resp.Strategy)
	assert.Equal(t, 4, resp.Count)
	assert.Equal(t, []SyncTableResult{{Table: "scrm_templates", Count: 4, DurationMs: 15}}, resp.Tables)
}

func TestSync_AllTables(t *testing.T) {
	syncer := &mockSyncer{tables: []rowstore.Table{
		{Database: "scrm", Name: "templates"},
		{Database: "scrm", Name: "articles"},
	}}
	syncer.On("Run", mock.Anything, mock.MatchedBy(func(r resync.Request) bool { return r.Table == "scrm_templates" })).
		Return(resync.Result{Table: "scrm_templates", Count: 10}, nil)
	syncer.On("Run", mock.Anything, mock.MatchedBy(func(r resync.Request) bool { return r.Table == "scrm_articles" })).
		Return(resync.Result{Table: "scrm_articles", Count: 5}, nil)

	h := newTestServer(NewHandler(nil, nil, WithSyncer(syncer)))
	w := do(t, h, http.MethodPost, "/sync/FULL", "")

	require.Equal(t, http.StatusOK, w.Code)
	var resp SyncResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "full", resp.Strategy)
	assert.Equal(t, 15, resp.Count)
	assert.Len(t, resp.Tables, 2)
}

func TestSync_Errors(t *testing.T) {
	syncer := &mockSyncer{}
	syncer.On("Run", mock.Anything, mock.MatchedBy(func(r resync.Request) bool { return r.Table == "missing" })).
		Return(resync.Result{}, fmt.Errorf("%w: %q", resync.ErrUnknownTable, "missing"))
	h := newTestServer(NewHandler(nil, nil, WithSyncer(syncer)))

	w := do(t, h, http.MethodPost, "/sync/sideways?table=t", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPost, "/sync/single", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPost, "/sync/incremental?table=t&since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPost, "/sync/full?table=missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, ErrCodeNotFound, decodeError(t, w).Code)

	w = do(t, h, http.MethodGet, "/sync/full", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestParseSince(t *testing.T) {
	got, err := parseSince("")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	got, err = parseSince("2024-05-01T10:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), got)

	got, err = parseSince("86400")
	require.NoError(t, err)
	assert.Equal(t, int64(86400), got.Unix())

	_, err = parseSince("soon")
	assert.Error(t, err)
}

func TestCacheEndpoints(t *testing.T) {
	invalidate := countFunc(func(context.Context) (int, error) { return 7, nil })
	warm := countFunc(func(context.Context) (int, error) { return 3, nil })
	h := newTestServer(NewHandler(nil, nil, WithCache(invalidate), WithWarmer(warm)))

	w := do(t, h, http.MethodDelete, "/search/cache", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":7}`, w.Body.String())

	w = do(t, h, http.MethodPost, "/search/cache/warmup", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":3}`, w.Body.String())
}

func TestDisabledComponents(t *testing.T) {
	h := newTestServer(NewHandler(nil, nil))

	for _, tc := range []struct{ method, target, body string }{
		{http.MethodPost, "/search/template", `{"query":"q"}`},
		{http.MethodPost, "/sync/full", ""},
		{http.MethodDelete, "/search/cache", ""},
		{http.MethodPost, "/search/cache/warmup", ""},
	} {
		w := do(t, h, tc.method, tc.target, tc.body)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, tc.target)
	}
}

func TestHealth(t *testing.T) {
	h := newTestServer(NewHandler(nil, nil,
		WithHealthCheck("redis", func(context.Context) error { return nil }),
	))
	w := do(t, h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","checks":{"redis":"ok"}}`, w.Body.String())

	h = newTestServer(NewHandler(nil, nil,
		WithHealthCheck("redis", func(context.Context) error { return nil }),
		WithHealthCheck("broker", func(context.Context) error { return errors.New("connection refused") }),
	))
	w = do(t, h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "connection refused", resp.Checks["broker"])
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(NewHandler(nil, nil))
	w := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
