package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/tracklab/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/tracklab/backend/internal/infrastructure/logging"
)

func TestServer_Wiring(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "state.db")
	cfg.Catalog.Dir = filepath.Join(t.TempDir(), "missing")

	srv, err := New(cfg, logging.NewNop())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/sessions", strings.NewReader(`{"challenge_id":"global-travel"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, 1, srv.Sessions().Stats().Active)

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, w.Body.String(), `tracklab_http_requests_total{method="POST",path="/sessions",status="201"} 1`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.Equal(t, 0, srv.Sessions().Stats().Active)
}

func TestSessionConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Tag.Prefix = "GT-"
	cfg.Sandbox.MaxConsole = 7
	cfg.Capture.DedupWindow = 250 * time.Millisecond

	sc := SessionConfig(cfg)
	assert.Equal(t, "GT-", sc.Tag.Prefix)
	assert.Equal(t, 7, sc.Sandbox.MaxConsole)
	assert.Equal(t, 250*time.Millisecond, sc.DedupWindow)
	assert.Equal(t, cfg.Capture.AllowList, sc.Sandbox.AllowList)
}

func TestServer_Addr(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = "9001"
	srv, err := New(cfg, logging.NewNop())
	require.NoError(t, err)
	defer srv.Close()
	assert.Equal(t, "127.0.0.1:9001", srv.Addr())
}
