package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, cfg Config) (*Server, context.CancelFunc, <-chan error) {
	t.Helper()
	srv := New(cfg, nil)
	srv.Handle("GET /ping", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "pong")
	}))

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() { errChan <- srv.Start(ctx) }()

	require.Eventually(t, func() bool { return srv.Addr() != "" }, time.Second, 10*time.Millisecond)
	return srv, cancel, errChan
}

func TestServer_StartServeStop(t *testing.T) {
	srv, cancel, errChan := startServer(t, Config{Host: "127.0.0.1"})
	defer cancel()

	resp, err := http.Get("http://" + srv.Addr() + "/ping")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pong", string(body))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	require.NoError(t, srv.Stop(context.Background()))
	cancel()

	select {
	case err := <-errChan:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("server did not stop in time")
	}
}

func TestServer_Start_AlreadyStarted(t *testing.T) {
	srv, cancel, _ := startServer(t, Config{Host: "127.0.0.1"})
	defer cancel()
	defer srv.Stop(context.Background())

	err := srv.Start(context.Background())
	assert.EqualError(t, err, "server already started")
}

func TestServer_Start_PortConflict(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	srv := New(Config{Host: "127.0.0.1", Port: port}, nil)
	err = srv.Start(context.Background())
	assert.Error(t, err)
}

func TestServer_Stop_NotStarted(t *testing.T) {
	srv := New(Config{RateLimit: DefaultConfig().RateLimit}, nil)
	assert.NoError(t, srv.Stop(context.Background()))
	assert.NoError(t, srv.Stop(context.Background()))
}

func TestServer_MethodRouting(t *testing.T) {
	srv := New(Config{}, nil)
	srv.Handle("POST /sync/{strategy}", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, r.PathValue("strategy"))
	}))

	h := srv.Handler()
	w := serve(h, http.MethodPost, "/sync/full")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "full", w.Body.String())

	w = serve(h, http.MethodGet, "/sync/full")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
