// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

// Package observability serves Prometheus metrics and health probes for a
// running engine.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// ErrServerRunning is returned by Start on a server that is already serving.
var ErrServerRunning = errors.New("observability server already running")

// ReadinessCheck returns nil when the engine can serve, or the reason it
// cannot.
type ReadinessCheck func() error

// Server serves /metrics, /healthz/liveness and /healthz/readiness.
type Server struct {
	addr     string
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *Metrics
	checks   []ReadinessCheck

	mu       sync.Mutex
	listener net.Listener
	http     *http.Server
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithReadiness adds a readiness check. The server is ready when every
// check passes.
func WithReadiness(check ReadinessCheck) ServerOption {
	return func(s *Server) {
		if check != nil {
			s.checks = append(s.checks, check)
		}
	}
}

// WithBuildInfo exports patchbay_build_info with version and commit labels.
func WithBuildInfo(version, commit string) ServerOption {
	return func(s *Server) {
		info := prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "patchbay_build_info",
			Help:        "Build information of the running binary",
			ConstLabels: prometheus.Labels{"version": version, "commit": commit},
		})
		info.Set(1)
		s.registry.MustRegister(info)
	}
}

// NewServer creates a server for addr ("host:port"; port 0 picks a free
// port). It registers Go and process collectors next to the engine metrics.
func NewServer(addr string, opts ...ServerOption) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s := &Server{
		addr:     addr,
		logger:   slog.Default(),
		registry: registry,
		metrics:  NewMetrics(registry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Metrics returns the engine metrics.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Registry returns the server's registry.
func (s *Server) Registry() *prometheus.Registry { return s.registry }

// Handler returns the HTTP handler with every endpoint mounted.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelError),
	}))
	mux.HandleFunc("GET /healthz/liveness", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, "ok")
	})
	mux.HandleFunc("GET /healthz/readiness", s.handleReadiness)
	return mux
}

// Start listens and serves in the background. The returned channel
// receives a serve failure, if any, and is closed when serving ends.
func (s *Server) Start() (<-chan error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.http != nil {
		return nil, ErrServerRunning
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, oops.In("observability").With("addr", s.addr).Hint("metrics address unavailable").Wrap(err)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.listener, s.http = listener, srv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- oops.In("observability").With("addr", listener.Addr().String()).Wrap(err)
		}
	}()

	s.logger.Info("observability server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop shuts the server down, waiting for in-flight scrapes until ctx ends.
// Stopping a server that is not running is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.http = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	if err := srv.Shutdown(ctx); err != nil {
		return oops.In("observability").With("operation", "shutdown").Wrap(err)
	}
	s.logger.Info("observability server stopped")
	return nil
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	for _, check := range s.checks {
		if err := check(); err != nil {
			writeStatus(w, http.StatusServiceUnavailable, "not ready: "+err.Error())
			return
		}
	}
	writeStatus(w, http.StatusOK, "ok")
}

func writeStatus(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	//nolint:errcheck // client may disconnect
	fmt.Fprintln(w, body)
}
