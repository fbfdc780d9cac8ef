package http

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/tvstream/internal/http/middleware"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestServer_MiddlewareChain(t *testing.T) {
	s := NewServer(DefaultServerConfig(), testLogger(), "test")
	s.Handle("/panic", http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	s.Handle("/ok", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(middleware.GetRequestID(r.Context())))
	}))

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	id := rec.Header().Get(middleware.RequestIDHeader)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(middleware.RequestIDHeader, "abc")
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Body.String())

	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_CORS(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.CORSOrigins = []string{"https://player.example"}
	s := NewServer(cfg, testLogger(), "test")
	s.Handle("/ok", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set("Origin", "https://player.example")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, "https://player.example", rec.Header().Get("Access-Control-Allow-Origin"))

	check := s.CheckOrigin()
	assert.True(t, check(req))
	evil := httptest.NewRequest(http.MethodGet, "/ws", nil)
	evil.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(evil))
	assert.True(t, check(httptest.NewRequest(http.MethodGet, "/ws", nil)), "non-browser client")
}

func TestServer_Static(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>player</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("play()"), 0o644))

	s := NewServer(DefaultServerConfig(), testLogger(), "test")
	s.Static(dir)

	tests := []struct {
		path   string
		status int
		body   string
	}{
		{"/", http.StatusOK, "player"},
		{"/app.js", http.StatusOK, "play()"},
		{"/watch/news", http.StatusOK, "player"},
		{"/missing.css", http.StatusNotFound, ""},
		{"/api/v1/nope", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		assert.Equal(t, tt.status, rec.Code, tt.path)
		if tt.body != "" {
			assert.Contains(t, rec.Body.String(), tt.body, tt.path)
		}
	}
}

func TestServer_EmbeddedStatusPage(t *testing.T) {
	withoutIndex := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(withoutIndex, "app.js"), []byte("play()"), 0o644))

	for _, dir := range []string{"", withoutIndex} {
		s := NewServer(DefaultServerConfig(), testLogger(), "test")
		s.Static(dir)

		rec := httptest.NewRecorder()
		s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code, dir)
		assert.Contains(t, rec.Body.String(), "No player page", dir)
	}
}

func TestServer_ServeAndShutdown(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.MaxConnections = 4
	cfg.ShutdownTimeout = time.Second
	s := NewServer(cfg, testLogger(), "test")
	s.Handle("/ping", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong"))
	}))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/ping")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "pong", strings.TrimSpace(string(body)))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
