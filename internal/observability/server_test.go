// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

package observability

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestServer_Metrics(t *testing.T) {
	// Create server with always-ready checker
	server := NewServer("127.0.0.1:0", func() bool { return true })

	if _, err := server.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(ctx)
	}()

	addr := server.Addr()
	if addr == "" {
		t.Fatal("server address is empty")
	}

	// Make request to /metrics
	resp, err := http.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("failed to GET /metrics: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}

	// Check for Prometheus format indicators
	bodyStr := string(body)
	if !strings.Contains(bodyStr, "# HELP") {
		t.Error("expected Prometheus format with HELP comments")
	}
	if !strings.Contains(bodyStr, "# TYPE") {
		t.Error("expected Prometheus format with TYPE comments")
	}

	// Check for standard Go metrics
	if !strings.Contains(bodyStr, "go_") {
		t.Error("expected go_* metrics")
	}

	// Check for process metrics
	if !strings.Contains(bodyStr, "process_") {
		t.Error("expected process_* metrics")
	}

	// Set custom metrics so they appear in output
	metrics := server.Metrics()
	metrics.BuildInfo.WithLabelValues("test", "abc123").Set(1)
	metrics.RequestsTotal.WithLabelValues("/events", "200").Inc()

	// Make another request to see the custom metrics
	resp2, err := http.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("failed to GET /metrics (second request): %v", err)
	}
	defer func() { _ = resp2.Body.Close() }()

	body2, err := io.ReadAll(resp2.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	bodyStr2 := string(body2)

	// Check for custom metrics (they appear after being used)
	if !strings.Contains(bodyStr2, "blockhost_build_info") {
		t.Error("expected blockhost_build_info metric")
	}
	if !strings.Contains(bodyStr2, "blockhost_http_requests_total") {
		t.Error("expected blockhost_http_requests_total metric")
	}
}

func TestServer_LivenessReturns200(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil)

	if _, err := server.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(ctx)
	}()

	resp, err := http.Get("http://" + server.Addr() + "/healthz/liveness")
	if err != nil {
		t.Fatalf("failed to GET /healthz/liveness: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}

	if strings.TrimSpace(string(body)) != "ok" {
		t.Errorf("expected body 'ok', got %q", string(body))
	}
}

func TestServer_ReadinessWhenReady(t *testing.T) {
	// Create server with always-ready checker
	server := NewServer("127.0.0.1:0", func() bool { return true })

	if _, err := server.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(ctx)
	}()

	resp, err := http.Get("http://" + server.Addr() + "/healthz/readiness")
	if err != nil {
		t.Fatalf("failed to GET /healthz/readiness: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}

	if strings.TrimSpace(string(body)) != "ok" {
		t.Errorf("expected body 'ok', got %q", string(body))
	}
}

func TestServer_ReadinessWhenNotReady(t *testing.T) {
	// Create server with never-ready checker
	server := NewServer("127.0.0.1:0", func() bool { return false })

	if _, err := server.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(ctx)
	}()

	resp, err := http.Get("http://" + server.Addr() + "/healthz/readiness")
	if err != nil {
		t.Fatalf("failed to GET /healthz/readiness: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}

	if strings.TrimSpace(string(body)) != "not ready" {
		t.Errorf("expected body 'not ready', got %q", string(body))
	}
}

func TestServer_ReadinessWithNilChecker(t *testing.T) {
	// Create server with nil readiness checker (should default to ready)
	server := NewServer("127.0.0.1:0", nil)

	if _, err := server.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(ctx)
	}()

	resp, err := http.Get("http://" + server.Addr() + "/healthz/readiness")
	if err != nil {
		t.Fatalf("failed to GET /healthz/readiness: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200 with nil checker, got %d", resp.StatusCode)
	}
}

func TestServer_DoubleStartFails(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil)

	if _, err := server.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(ctx)
	}()

	// Second start should fail
	if _, err := server.Start(); err == nil {
		t.Error("expected error on double start, got nil")
	}
}

func TestServer_StopIdempotent(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil)

	// Stop without start should not error
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		t.Errorf("stop without start should not error: %v", err)
	}
}

func TestServer_ErrorChannelReportsServeErrors(t *testing.T) {
	// This test proves the bug fix: when the server encounters an error after Start() returns,
	// the caller can now detect it via the error channel.

	server := NewServer("127.0.0.1:0", nil)

	errCh, err := server.Start()
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}

	// Get the listener address before we close it
	addr := server.Addr()
	if addr == "" {
		t.Fatal("server address is empty")
	}

	// Force close the underlying listener to trigger an error in Serve()
	// This simulates a real-world scenario where the listener fails unexpectedly
	if server.listener != nil {
		_ = server.listener.Close()
	}

	// The error channel should receive the error from Serve()
	select {
	case serveErr := <-errCh:
		// We expect an error because we closed the listener
		if serveErr == nil {
			t.Error("expected an error from the error channel after closing listener")
		}
	case <-time.After(2 * time.Second):
		t.Error("timeout waiting for error on error channel - bug: server errors are not propagated")
	}

	// Clean up
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Stop(ctx)
}

func TestServer_ErrorChannelClosesOnNormalShutdown(t *testing.T) {
	// Verify the error channel closes gracefully on normal shutdown (no error sent)
	server := NewServer("127.0.0.1:0", nil)

	errCh, err := server.Start()
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}

	// Normal shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		t.Fatalf("failed to stop server: %v", err)
	}

	// The error channel should be closed (receive nil or closed)
	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			t.Errorf("unexpected error on normal shutdown: %v", err)
		}
		// ok=false (closed) or ok=true with err=nil are both acceptable
	case <-time.After(2 * time.Second):
		t.Error("timeout waiting for error channel to close")
	}
}

func TestServer_MountedHandlerIsCounted(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil)
	err := server.Handle("/events", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	if err != nil {
		t.Fatalf("failed to mount handler: %v", err)
	}
	if err := server.Handle("/events", http.NotFoundHandler()); err == nil {
		t.Error("expected error mounting the same path twice")
	}

	if _, err := server.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(ctx)
	}()

	if err := server.Handle("/late", http.NotFoundHandler()); err == nil {
		t.Error("expected error mounting a handler on a running server")
	}

	for range 2 {
		resp, err := http.Get("http://" + server.Addr() + "/events")
		if err != nil {
			t.Fatalf("failed to GET /events: %v", err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusTeapot {
			t.Errorf("expected status 418, got %d", resp.StatusCode)
		}
	}

	resp, err := http.Get("http://" + server.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("failed to GET /metrics: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}

	if !strings.Contains(string(body), `blockhost_http_requests_total{code="418",handler="/events"} 2`) {
		t.Errorf("expected /events request counter to be 2, got:\n%s", body)
	}
}

func TestServer_ReadinessFollowsChecker(t *testing.T) {
	var ready atomic.Bool
	server := NewServer("127.0.0.1:0", ready.Load)

	if _, err := server.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(ctx)
	}()

	status := func() int {
		resp, err := http.Get("http://" + server.Addr() + "/healthz/readiness")
		if err != nil {
			t.Fatalf("failed to GET /healthz/readiness: %v", err)
		}
		_ = resp.Body.Close()
		return resp.StatusCode
	}

	if got := status(); got != http.StatusServiceUnavailable {
		t.Errorf("expected 503 while loads are in flight, got %d", got)
	}
	ready.Store(true)
	if got := status(); got != http.StatusOK {
		t.Errorf("expected 200 once settled, got %d", got)
	}
}
