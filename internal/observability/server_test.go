// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec.Code, rec.Body.String()
}

func TestHandler_Metrics(t *testing.T) {
	s := NewServer("", WithBuildInfo("v1.2.3", "abc123"))
	s.Metrics().PluginLoads.WithLabelValues("ok").Inc()

	code, body := get(t, s.Handler(), "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "go_")
	assert.Contains(t, body, "process_")
	assert.Contains(t, body, `patchbay_plugin_loads_total{status="ok"} 1`)
	assert.Contains(t, body, "patchbay_render_average_ms")
	assert.Contains(t, body, `patchbay_build_info{commit="abc123",version="v1.2.3"} 1`)
}

func TestHandler_LivenessIgnoresReadiness(t *testing.T) {
	s := NewServer("", WithReadiness(func() error { return errors.New("stopped") }))

	code, body := get(t, s.Handler(), "/healthz/liveness")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok\n", body)
}

func TestHandler_Readiness(t *testing.T) {
	var rendering atomic.Bool
	s := NewServer("", WithReadiness(func() error {
		if !rendering.Load() {
			return errors.New("engine not rendering")
		}
		return nil
	}))
	h := s.Handler()

	code, body := get(t, h, "/healthz/readiness")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "not ready: engine not rendering\n", body)

	rendering.Store(true)
	code, body = get(t, h, "/healthz/readiness")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok\n", body)
}

func TestHandler_ReadinessFirstFailureWins(t *testing.T) {
	s := NewServer("",
		WithReadiness(func() error { return nil }),
		WithReadiness(func() error { return errors.New("no device") }),
		WithReadiness(func() error { return errors.New("unreached") }),
		WithReadiness(nil),
	)

	_, body := get(t, s.Handler(), "/healthz/readiness")
	assert.Equal(t, "not ready: no device\n", body)
}

func TestHandler_ReadyWithoutChecks(t *testing.T) {
	code, _ := get(t, NewServer("").Handler(), "/healthz/readiness")
	assert.Equal(t, http.StatusOK, code)
}

func TestHandler_RejectsWrites(t *testing.T) {
	rec := httptest.NewRecorder()
	NewServer("").Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/metrics", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func startServer(t *testing.T, opts ...ServerOption) *Server {
	t.Helper()
	s := NewServer("127.0.0.1:0", opts...)
	_, err := s.Start()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func TestServer_ServesOverTCP(t *testing.T) {
	s := startServer(t)
	require.NotEmpty(t, s.Addr())

	resp, err := http.Get("http://" + s.Addr() + "/healthz/liveness")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok\n", string(body))
}

func TestServer_DoubleStartFails(t *testing.T) {
	s := startServer(t)

	_, err := s.Start()
	assert.ErrorIs(t, err, ErrServerRunning)
}

func TestServer_ListenError(t *testing.T) {
	s := startServer(t)

	other := NewServer(s.Addr())
	_, err := other.Start()
	require.Error(t, err)
	assert.Empty(t, other.Addr())
}

func TestServer_StopIdempotent(t *testing.T) {
	s := NewServer("127.0.0.1:0")
	assert.NoError(t, s.Stop(context.Background()), "stop before start")

	errCh, err := s.Start()
	require.NoError(t, err)
	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Stop(context.Background()))

	select {
	case err, ok := <-errCh:
		assert.False(t, ok, "unexpected serve error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("error channel not closed after shutdown")
	}
}
