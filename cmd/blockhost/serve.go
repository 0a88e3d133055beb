// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/blockhost/blockhost/internal/config"
	"github.com/blockhost/blockhost/internal/extension"
	"github.com/blockhost/blockhost/internal/observability"
	"github.com/blockhost/blockhost/internal/runtime"
	"github.com/blockhost/blockhost/internal/signal"
	"github.com/blockhost/blockhost/pkg/errutil"
)

const shutdownTimeout = 5 * time.Second

// ObservabilityServer is the metrics, health and signal stream endpoint.
type ObservabilityServer interface {
	Handle(path string, h http.Handler) error
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// serveConfig holds flags specific to the serve command.
type serveConfig struct {
	project string
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	sc := &serveConfig{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the extension host",
		Long: `Run the extension host: load the configured builtins, catalogs and
extensions, then serve /metrics, /healthz/* and the /events signal stream
until interrupted. Readiness reports 503 while worker loads are in flight.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cmd, cfg, sc, nil)
		},
	}

	cmd.Flags().StringVar(&sc.project, "project", "", "YAML project to instantiate before loading extensions")

	return cmd
}

// runServe runs the host until a signal arrives or ctx ends.
func runServe(ctx context.Context, cmd *cobra.Command, cfg *config.Config, sc *serveConfig, deps *HostDeps) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	project, err := readProject(sc.project)
	if err != nil {
		return err
	}

	h, err := newHost(ctx, cfg, project, deps)
	if err != nil {
		return err
	}
	defer h.Close()

	var obsServer ObservabilityServer
	if cfg.Metrics.Addr != "" {
		srv := observability.NewServer(cfg.Metrics.Addr, func() bool {
			return h.manager.LoadsInFlight() == 0
		})
		srv.Metrics().BuildInfo.WithLabelValues(version, commit).Set(1)
		if err := extension.RegisterMetrics(srv.Registry()); err != nil {
			return oops.In("host").Wrapf(err, "register extension metrics")
		}
		if err := srv.Handle("/events", signal.NewHandler(h.bus)); err != nil {
			return err //nolint:wrapcheck // observability errors carry their own context
		}
		obsErrChan, err := srv.Start()
		if err != nil {
			return oops.In("host").Wrapf(err, "start observability server")
		}
		obsServer = srv
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
	}

	if err := h.loadStartup(ctx); err != nil {
		errutil.LogWarn(slog.Default(), "some extensions failed to load", err)
	}
	slog.Info("extension host ready",
		"extensions", h.manager.LoadedIDs(),
		"primitives", len(h.runtime.Primitives()),
	)
	cmd.Println("Extension host started")

	sigChan := make(chan os.Signal, 1)
	ossignal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer ossignal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			slog.Warn("error stopping observability server", "error", err)
		}
	}

	slog.Info("shutdown complete")
	return nil
}

// readProject parses the project file at path; an empty path is no project.
func readProject(path string) (*runtime.Project, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, oops.In("host").With("path", path).Wrapf(err, "read project")
	}
	p, err := runtime.ParseProject(data)
	if err != nil {
		return nil, oops.In("host").With("path", path).Wrap(err)
	}
	return p, nil
}

// monitorServerErrors cancels ctx when the server reports an error.
// It exits when an error arrives, the channel closes, or ctx ends.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
