// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

// Package observability provides HTTP endpoints for metrics, health checks
// and any extra handlers the host mounts next to them.
package observability

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// ReadinessChecker returns whether the host is ready to serve.
type ReadinessChecker func() bool

// Metrics contains host-level Prometheus metrics.
type Metrics struct {
	BuildInfo     *prometheus.GaugeVec
	RequestsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers the host metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BuildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "blockhost_build_info",
				Help: "Build information, always 1",
			},
			[]string{"version", "commit"},
		),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blockhost_http_requests_total",
				Help: "Total number of requests to mounted handlers by handler and status code",
			},
			[]string{"handler", "code"},
		),
	}

	reg.MustRegister(m.BuildInfo)
	reg.MustRegister(m.RequestsTotal)

	return m
}

// Server provides HTTP endpoints for observability (metrics and health probes).
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	registry   *prometheus.Registry
	metrics    *Metrics
	isReady    ReadinessChecker
	running    atomic.Bool

	mu       sync.Mutex
	handlers map[string]http.Handler
}

// NewServer creates a new observability server.
// addr: listen address in "host:port" format (e.g., "127.0.0.1:9100", ":9100" for all interfaces).
func NewServer(addr string, readinessChecker ReadinessChecker) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Server{
		addr:     addr,
		registry: registry,
		metrics:  NewMetrics(registry),
		isReady:  readinessChecker,
		handlers: make(map[string]http.Handler),
	}
}

// Metrics returns the host metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Registry returns the registry served on /metrics, for callers that own
// their own collectors.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Handle mounts h at path. Requests are counted in RequestsTotal. Handlers
// must be mounted before Start.
func (s *Server) Handle(path string, h http.Handler) error {
	if s.running.Load() {
		return oops.In("observability").With("path", path).Errorf("cannot mount handler on a running server")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.handlers[path]; dup {
		return oops.In("observability").With("path", path).Errorf("handler already mounted")
	}
	counter := s.metrics.RequestsTotal.MustCurryWith(prometheus.Labels{"handler": path})
	s.handlers[path] = promhttp.InstrumentHandlerCounter(counter, h)
	return nil
}

// Start begins serving observability endpoints.
// It returns an error channel that will receive any errors from the HTTP server
// after it starts. The channel is closed when the server stops gracefully.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.In("observability").Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.In("observability").With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/healthz/liveness", s.handleLiveness)
	mux.HandleFunc("/healthz/readiness", s.handleReadiness)

	s.mu.Lock()
	for path, h := range s.handlers {
		mux.Handle(path, h)
	}
	s.mu.Unlock()

	httpSrv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		// Use local httpSrv to avoid race with subsequent Start() calls
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			slog.Error("observability server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	slog.Info("observability server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the observability server. Long-lived
// connections such as signal streams are closed once ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			if closeErr := s.httpServer.Close(); closeErr != nil {
				s.running.Store(true)
				return oops.In("observability").With("operation", "shutdown_observability_server").Wrap(err)
			}
		}
	}

	slog.Info("observability server stopped")
	return nil
}

// Addr returns the address the server is listening on.
// Returns empty string if not running.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("ok\n"))
}

// handleReadiness returns 200 when the checker reports ready, 503 otherwise.
func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if s.isReady == nil || s.isReady() {
		w.WriteHeader(http.StatusOK)
		//nolint:errcheck // health check write error is acceptable, client may disconnect
		w.Write([]byte("ok\n"))
		return
	}

	w.WriteHeader(http.StatusServiceUnavailable)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("not ready\n"))
}
