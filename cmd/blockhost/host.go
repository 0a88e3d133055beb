// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/samber/oops"

	"github.com/blockhost/blockhost/internal/builtin"
	"github.com/blockhost/blockhost/internal/config"
	"github.com/blockhost/blockhost/internal/extension"
	"github.com/blockhost/blockhost/internal/l10n"
	"github.com/blockhost/blockhost/internal/library"
	"github.com/blockhost/blockhost/internal/runtime"
	"github.com/blockhost/blockhost/internal/security"
	"github.com/blockhost/blockhost/internal/signal"
	"github.com/blockhost/blockhost/internal/store"
	"github.com/blockhost/blockhost/internal/worker"
	"github.com/blockhost/blockhost/internal/worker/binary"
	"github.com/blockhost/blockhost/internal/worker/lua"
)

// URLStore is the alias store the host persists known extension URLs in.
type URLStore interface {
	extension.AliasStore
	ListURLs(ctx context.Context) (map[string]string, error)
}

// HostDeps contains injectable dependencies for building a host.
// All fields with nil values will use their default implementations.
type HostDeps struct {
	// URLStoreFactory opens the alias store for a database URL. The
	// returned func releases it.
	// Default: Postgres when the URL is set, in memory otherwise.
	URLStoreFactory func(ctx context.Context, databaseURL string) (URLStore, func(), error)

	// MigratorFactory creates a schema migrator for auto-migration.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (Migrator, error)
}

// host is a fully wired extension host.
type host struct {
	cfg      *config.Config
	runtime  *runtime.Runtime
	bus      *signal.Bus
	aliases  URLStore
	gate     *security.Gate
	fetcher  *library.Fetcher
	manager  *extension.Manager
	releases []func()
}

func defaultURLStore(ctx context.Context, databaseURL string) (URLStore, func(), error) {
	if databaseURL == "" {
		return store.NewMemoryURLStore(), func() {}, nil
	}
	pool, err := store.OpenPool(ctx, databaseURL)
	if err != nil {
		return nil, nil, err //nolint:wrapcheck // store errors carry their own code
	}
	return store.NewPostgresURLStore(pool), pool.Close, nil
}

// newHost wires the runtime, workers, gate, formatter and alias store
// into a manager. project may be nil.
func newHost(ctx context.Context, cfg *config.Config, project *runtime.Project, deps *HostDeps) (_ *host, err error) {
	if deps == nil {
		deps = &HostDeps{}
	}
	if deps.URLStoreFactory == nil {
		deps.URLStoreFactory = defaultURLStore
	}
	if deps.MigratorFactory == nil {
		deps.MigratorFactory = func(databaseURL string) (Migrator, error) {
			return store.NewMigrator(databaseURL)
		}
	}

	h := &host{cfg: cfg, runtime: runtime.New(), bus: signal.NewBus()}
	defer func() {
		if err != nil {
			h.Close()
		}
	}()

	if project != nil {
		if err := h.runtime.Apply(project); err != nil {
			return nil, oops.In("host").Wrapf(err, "apply project")
		}
	}
	if len(h.runtime.TargetIDs()) == 0 {
		h.runtime.AddTarget("stage", "Stage", true)
	}

	formatter, err := l10n.New(cfg.L10n.Locale)
	if err != nil {
		return nil, err //nolint:wrapcheck // l10n errors carry their own code
	}
	if cfg.L10n.Translations != "" {
		if err := formatter.LoadFile(cfg.L10n.Translations); err != nil {
			return nil, err //nolint:wrapcheck // l10n errors carry their own code
		}
	}

	h.gate, err = security.NewGate(cfg.Security)
	if err != nil {
		return nil, err //nolint:wrapcheck // gate errors carry their own code
	}
	slog.Info("security policy", "policy", h.gate.String())

	fetchOpts := []library.FetcherOption{library.WithRetries(cfg.Library.Retries, cfg.Library.Backoff)}
	if v := cfg.HostVersion(); v != nil {
		fetchOpts = append(fetchOpts, library.WithHostVersion(v))
	}
	h.fetcher = library.NewFetcher(fetchOpts...)

	if cfg.Database.URL != "" && cfg.Database.AutoMigrate {
		if err := autoMigrate(cfg.Database.URL, deps.MigratorFactory); err != nil {
			return nil, err
		}
	}

	aliases, release, err := deps.URLStoreFactory(ctx, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	h.aliases = aliases
	h.releases = append(h.releases, release)

	transport := worker.NewTransport(
		lua.New(h.fetcher, lua.WithCallTimeout(cfg.Extensions.CallTimeout)),
		binary.New(binary.WithCallTimeout(cfg.Extensions.CallTimeout)),
	)

	opts := []extension.ManagerOption{
		extension.WithSecurityGate(h.gate),
		extension.WithAliasStore(aliases),
		extension.WithSignals(h.bus),
		extension.WithTransport(transport),
		extension.WithLibraryFetcher(h.fetcher),
		extension.WithLocalizer(formatter),
		extension.WithPlatformNamespace(cfg.Extensions.PlatformNamespace),
		extension.WithAssetPrefix(cfg.Extensions.AssetPrefix),
		extension.WithExternalCatalogs(cfg.Extensions.Catalogs...),
		extension.WithNormalizerConfig(extension.NormalizerConfig{
			ShowCompatibilityWarning: cfg.Extensions.ShowCompatibilityWarning,
			CompatibleExtensions:     cfg.Extensions.Compatible,
		}),
	}
	opts = append(opts, builtin.Options()...)

	h.manager, err = extension.NewManager(h.runtime, h.runtime, opts...)
	if err != nil {
		return nil, err //nolint:wrapcheck // manager errors carry their own code
	}
	return h, nil
}

// loadStartup loads the configured builtins and extension refs, then
// waits for every worker load to settle. Failures are logged and joined;
// the extensions that did load stay loaded.
func (h *host) loadStartup(ctx context.Context) error {
	var errs []error
	for _, id := range h.cfg.Extensions.Builtins {
		if err := h.manager.LoadBuiltin(ctx, id); err != nil && !extension.IsWarning(err) {
			errs = append(errs, err)
		}
	}
	for _, ref := range h.cfg.Extensions.Load {
		ids, err := h.load(ctx, ref, false)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		slog.Info("extensions loaded", "ref", ref, "extensions", ids)
	}
	if err := h.manager.AwaitAllLoaded(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// load loads ref. Local library documents are cataloged as official
// libraries, local scripts and binaries go straight to a worker, and
// anything else is resolved by the manager.
func (h *host) load(ctx context.Context, ref string, replace bool) ([]string, error) {
	u, local := localURL(ref)
	switch {
	case local && isLibraryPath(u):
		return h.loadLocalLibrary(ctx, u, replace)
	case local:
		return h.manager.LoadInWorker(ctx, u, replace)
	default:
		return h.manager.LoadByURL(ctx, ref, replace) //nolint:wrapcheck // manager errors carry their own code
	}
}

// loadLocalLibrary catalogs the library at libURL and loads every entry
// it offers.
func (h *host) loadLocalLibrary(ctx context.Context, libURL string, replace bool) ([]string, error) {
	doc, err := h.fetcher.Fetch(ctx, libURL)
	if err != nil {
		return nil, extension.ErrInvalidLibrary(libURL, err)
	}
	h.manager.SetExternalCatalogs(append(h.manager.ExternalCatalogs(), libURL))
	if err := h.manager.AwaitAllLoaded(ctx); err != nil {
		return nil, err //nolint:wrapcheck // manager errors carry their own code
	}

	var (
		loaded []string
		errs   []error
	)
	for _, e := range doc.Extensions {
		ids, err := h.manager.LoadByURL(ctx, e.ID, replace)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		loaded = append(loaded, ids...)
	}
	return loaded, errors.Join(errs...)
}

// localURL maps an existing file path or a file/data URL to a URL the
// fetcher and worker runtimes read.
func localURL(ref string) (string, bool) {
	if strings.HasPrefix(ref, "file://") || strings.HasPrefix(ref, "data:") {
		return ref, true
	}
	info, err := os.Stat(ref)
	if err != nil || info.IsDir() {
		return "", false
	}
	abs, err := filepath.Abs(ref)
	if err != nil {
		return "", false
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), true
}

func isLibraryPath(raw string) bool {
	if strings.HasPrefix(raw, "data:") {
		return strings.HasPrefix(raw, "data:application/yaml") || strings.HasPrefix(raw, "data:text/yaml")
	}
	ext := strings.ToLower(path.Ext(raw))
	return ext == ".yaml" || ext == ".yml"
}

// Close stops every worker and releases the alias store.
func (h *host) Close() {
	if h.manager != nil {
		if err := h.manager.Close(); err != nil {
			slog.Warn("error stopping extension workers", "error", err)
		}
	}
	if h.bus != nil {
		h.bus.Close()
	}
	for i := len(h.releases) - 1; i >= 0; i-- {
		h.releases[i]()
	}
	h.releases = nil
}
