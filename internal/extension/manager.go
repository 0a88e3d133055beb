// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

// Package extension loads, registers, hot-swaps and removes the extensions
// that contribute blocks to a running program.
//
// The Manager is the only entry point the rest of the host uses. It keeps
// extension code behind the dispatch fabric, so an extension runs either
// in-process or in a worker and is called the same way.
package extension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/blockhost/blockhost/internal/dispatch"
	"github.com/blockhost/blockhost/internal/library"
	"github.com/blockhost/blockhost/internal/signal"
	"github.com/blockhost/blockhost/pkg/blockext"
)

var tracer = otel.Tracer("blockhost/extension")

// inProcessService matches the service names of in-process extensions.
var inProcessService = regexp.MustCompile(`^extension_\d+_`)

// Manager composes the registry, normalizer, orchestrator and replacement
// engine behind one API.
type Manager struct {
	fabric       *dispatch.Fabric
	registry     *Registry
	normalizer   *Normalizer
	orchestrator *Orchestrator

	engine    Engine
	programs  Programs
	gate      SecurityGate
	resolver  URLResolver
	aliases   AliasStore
	signals   Signals
	transport Transport
	fetcher   LibraryFetcher
	localizer Localizer

	platform    string
	assetPrefix string
	normCfg     NormalizerConfig
	builtins    map[string]Factory

	// opMu makes register, replace and delete single critical sections.
	opMu sync.Mutex
	// owners maps a worker-hosted extension id to its worker. Guarded by opMu.
	owners map[string]int

	catalogMu       sync.Mutex
	catalogs        []string
	catalogsFetched bool
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithFabric makes the manager use f instead of a fabric of its own.
func WithFabric(f *dispatch.Fabric) ManagerOption {
	return func(m *Manager) {
		m.fabric = f
	}
}

// WithSecurityGate sets the gate remote URLs pass through.
func WithSecurityGate(g SecurityGate) ManagerOption {
	return func(m *Manager) {
		m.gate = g
	}
}

// WithURLResolver sets the fallback resolver for unknown ids.
func WithURLResolver(r URLResolver) ManagerOption {
	return func(m *Manager) {
		m.resolver = r
	}
}

// WithAliasStore sets the store remembering each extension's URL.
func WithAliasStore(s AliasStore) ManagerOption {
	return func(m *Manager) {
		m.aliases = s
	}
}

// WithSignals sets the sink for host signals.
func WithSignals(s Signals) ManagerOption {
	return func(m *Manager) {
		m.signals = s
	}
}

// WithTransport sets the worker transport.
func WithTransport(t Transport) ManagerOption {
	return func(m *Manager) {
		m.transport = t
	}
}

// WithLibraryFetcher sets how library documents are retrieved.
func WithLibraryFetcher(f LibraryFetcher) ManagerOption {
	return func(m *Manager) {
		m.fetcher = f
	}
}

// WithLocalizer sets the formatter for localizable text.
func WithLocalizer(l Localizer) ManagerOption {
	return func(m *Manager) {
		m.localizer = l
	}
}

// WithPlatformNamespace sets the reserved platform token.
func WithPlatformNamespace(ns string) ManagerOption {
	return func(m *Manager) {
		m.platform = ns
	}
}

// WithAssetPrefix marks extensions whose library URL starts with prefix
// as replaceable.
func WithAssetPrefix(prefix string) ManagerOption {
	return func(m *Manager) {
		m.assetPrefix = prefix
	}
}

// WithExternalCatalogs sets the libraries cataloged before the first wait.
func WithExternalCatalogs(urls ...string) ManagerOption {
	return func(m *Manager) {
		m.catalogs = append([]string(nil), urls...)
	}
}

// WithNormalizerConfig sets the compatibility warning behavior.
func WithNormalizerConfig(cfg NormalizerConfig) ManagerOption {
	return func(m *Manager) {
		m.normCfg = cfg
	}
}

// WithBuiltin adds a builtin extension constructor.
func WithBuiltin(id string, factory Factory) ManagerOption {
	return func(m *Manager) {
		m.builtins[id] = factory
	}
}

// NewManager creates a manager installing primitives into engine and
// inspecting programs for live blocks.
func NewManager(engine Engine, programs Programs, opts ...ManagerOption) (*Manager, error) {
	if engine == nil || programs == nil {
		return nil, errors.New("extension manager needs an engine and programs")
	}
	m := &Manager{
		engine:   engine,
		programs: programs,
		builtins: make(map[string]Factory),
		owners:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.fabric == nil {
		m.fabric = dispatch.New()
	}
	if m.signals == nil {
		m.signals = nopSignals{}
	}
	if m.localizer == nil {
		m.localizer = defaultLocalizer{}
	}
	if m.fetcher == nil {
		m.fetcher = library.NewFetcher()
	}

	m.registry = NewRegistry(m.platform)
	for id, f := range m.builtins {
		m.registry.AddBuiltin(id, f)
	}
	m.normalizer = NewNormalizer(m.fabric, m.programs, m.localizer, m.normCfg)
	m.orchestrator = NewOrchestrator(m.fabric, m.transport, m.signals)

	if err := m.fabric.SetServiceSync(dispatch.ExtensionsService, dispatch.NewLocalService(m.serviceMethods())); err != nil {
		return nil, oopsErr().Wrapf(err, "bind %s service", dispatch.ExtensionsService)
	}
	return m, nil
}

// Fabric returns the fabric extension services live on.
func (m *Manager) Fabric() *dispatch.Fabric {
	return m.fabric
}

// Registry returns the registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// IsLoaded reports whether id is registered.
func (m *Manager) IsLoaded(id string) bool {
	return m.registry.IsLoaded(id)
}

// IsBuiltin reports whether id is a builtin extension.
func (m *Manager) IsBuiltin(id string) bool {
	return m.registry.IsBuiltin(id)
}

// LoadedIDs returns the registered ids, sorted.
func (m *Manager) LoadedIDs() []string {
	return m.registry.LoadedIDs()
}

// Info returns the normalized descriptor of a loaded extension.
func (m *Manager) Info(id string) (*blockext.Info, bool) {
	return m.registry.Info(id)
}

// AddBuiltin adds a builtin constructor after construction.
func (m *Manager) AddBuiltin(id string, factory Factory) {
	m.registry.AddBuiltin(id, factory)
}

// LoadBuiltin constructs and registers a builtin. Unknown or duplicate ids
// are logged and reported but are not fatal to callers.
func (m *Manager) LoadBuiltin(ctx context.Context, id string) error {
	factory, ok := m.registry.Builtin(id)
	if !ok {
		slog.Warn("could not find builtin extension", "extension", id)
		return ErrUnknownBuiltin(id)
	}
	if m.registry.IsLoaded(id) {
		slog.Warn("rejecting attempt to load a second extension", "extension", id)
		err := ErrAlreadyLoaded(id)
		recordLoad(sourceBuiltin, err)
		return err
	}
	ext, err := factory()
	if err != nil {
		err = oopsErr().With("extension", id).Wrapf(err, "construct builtin")
		recordLoad(sourceBuiltin, err)
		return err
	}
	_, err = m.register(ctx, id, ext, false, sourceBuiltin)
	return err
}

// Register binds an in-process extension. A duplicate without replace is
// a no-op reported with a warning-class error; with replace the loaded
// extension is hot-swapped when no live block would break.
func (m *Manager) Register(ctx context.Context, id string, ext blockext.Extension, replace bool) (string, error) {
	return m.register(ctx, id, ext, replace, sourceLocal)
}

func (m *Manager) register(ctx context.Context, id string, ext blockext.Extension, replace bool, source string) (_ string, err error) {
	ctx, span := tracer.Start(ctx, "extension.register",
		trace.WithAttributes(
			attribute.String("extension.id", id),
			attribute.Bool("extension.replace", replace),
		),
	)
	defer func() {
		recordLoad(source, err)
		endSpan(span, err)
	}()

	if ext == nil {
		return "", ErrInvalidDescriptor(id, errors.New("nil extension"))
	}
	if m.registry.IsLoaded(id) && !replace {
		slog.Warn("rejecting attempt to load a second extension", "extension", id)
		return "", ErrAlreadyLoaded(id)
	}

	raw := ext.Info()
	if raw.ID == "" {
		raw.ID = id
	}
	if raw.ID != id {
		return "", ErrInvalidDescriptor(id, fmt.Errorf("descriptor id %q does not match %q", raw.ID, id))
	}
	if !ValidID(id) {
		return "", ErrInvalidID(id)
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	svc := dispatch.NewLocalService(ext)
	if existing, loaded := m.registry.ServiceName(id); loaded {
		if !replace {
			slog.Warn("rejecting attempt to load a second extension", "extension", id)
			return "", ErrAlreadyLoaded(id)
		}
		if err := m.replaceLocked(ctx, id, existing, svc, raw); err != nil {
			return "", err
		}
		m.setOwnerLocked(id, -1)
		return id, nil
	}

	service := m.registry.nextServiceName(id)
	if err := m.fabric.SetServiceSync(service, svc); err != nil {
		return "", oopsErr().With("extension", id).Wrapf(err, "bind service")
	}
	if err := m.installLocked(ctx, id, service, raw); err != nil {
		m.fabric.RemoveService(service)
		return "", err
	}
	return id, nil
}

// installLocked normalizes raw, installs its primitives and records the
// registration. Callers hold opMu.
func (m *Manager) installLocked(ctx context.Context, id, service string, raw blockext.Info) error {
	info, err := m.normalizer.Normalize(service, raw)
	if err != nil {
		return err
	}
	if err := m.engine.InstallPrimitives(info); err != nil {
		return oopsErr().With("extension", id).Wrapf(err, "install primitives")
	}
	m.registry.record(id, service, info)
	m.afterLoaded(ctx, id)
	registered.Set(float64(len(m.registry.LoadedIDs())))

	slog.Info("registered extension",
		"extension", id,
		"service", service,
		"blocks", len(info.Blocks))
	return nil
}

// afterLoaded remembers the library URL of a cataloged extension and flags
// it replaceable when it lives under the asset prefix.
func (m *Manager) afterLoaded(ctx context.Context, id string) {
	entry, ok := m.registry.CatalogEntry(id)
	if !ok || entry.URL == "" {
		return
	}
	if m.aliases != nil {
		if err := m.aliases.SaveURL(ctx, id, entry.URL); err != nil {
			slog.Warn("failed to remember extension URL",
				"extension", id,
				"url", entry.URL,
				"error", err)
		}
	}
	if m.assetPrefix != "" && strings.HasPrefix(entry.URL, m.assetPrefix) {
		m.registry.markReplaceable(id)
	}
}

// RegisterExtensionService collects the descriptor of a worker-hosted
// service and registers it. workerID ties the registration to the load
// that started the worker; pass -1 when there is none.
func (m *Manager) RegisterExtensionService(ctx context.Context, service string, workerID int) (string, error) {
	out, err := m.fabric.Call(ctx, service, blockext.MethodGetInfo)
	if err != nil {
		return "", ErrInvalidDescriptor(service, err)
	}
	id, err := m.registerService(ctx, service, out, workerID)
	if err == nil {
		m.orchestrator.recordRegistered(workerID, id)
	}
	return id, err
}

// RegisterExtensionServiceSync registers an in-process service bound by a
// synchronous transport.
func (m *Manager) RegisterExtensionServiceSync(ctx context.Context, service string) (string, error) {
	out, err := m.fabric.CallSync(ctx, service, blockext.MethodGetInfo)
	if err != nil {
		return "", ErrInvalidDescriptor(service, err)
	}
	return m.registerService(ctx, service, out, -1)
}

func (m *Manager) registerService(ctx context.Context, service string, out any, workerID int) (_ string, err error) {
	raw, err := blockext.InfoFromValue(out)
	if err != nil {
		return "", ErrInvalidDescriptor(service, err)
	}
	id := raw.ID
	_, replace, _ := m.orchestrator.slot(workerID)

	ctx, span := tracer.Start(ctx, "extension.register_service",
		trace.WithAttributes(
			attribute.String("extension.id", id),
			attribute.String("extension.service", service),
			attribute.Int("extension.worker", workerID),
		),
	)
	defer func() {
		recordLoad(sourceWorker, err)
		endSpan(span, err)
	}()

	if !ValidID(id) {
		return "", ErrInvalidID(id)
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	existing, loaded := m.registry.ServiceName(id)
	switch {
	case loaded && existing == service:
		return id, m.refreshLocked(id, service, raw)
	case loaded && !replace:
		slog.Warn("rejecting attempt to load a second extension",
			"extension", id,
			"service", service)
		m.fabric.RemoveService(service)
		return "", ErrAlreadyLoaded(id)
	case loaded:
		svc, ok := m.fabric.Service(service)
		if !ok {
			return "", ErrInvalidDescriptor(service, dispatch.ErrServiceNotFound)
		}
		err = m.replaceLocked(ctx, id, existing, svc, raw)
		m.fabric.RemoveService(service)
		if err != nil {
			return "", err
		}
		m.setOwnerLocked(id, workerID)
		return id, nil
	default:
		if err := m.installLocked(ctx, id, service, raw); err != nil {
			return "", err
		}
		m.setOwnerLocked(id, workerID)
		return id, nil
	}
}

// setOwnerLocked records the worker hosting id, -1 for none, and closes
// the previous worker once no extension is left on it. Callers hold opMu.
func (m *Manager) setOwnerLocked(id string, workerID int) {
	prev, had := m.owners[id]
	if workerID >= 0 {
		m.owners[id] = workerID
	} else {
		delete(m.owners, id)
	}
	if !had || prev == workerID {
		return
	}
	for _, w := range m.owners {
		if w == prev {
			return
		}
	}
	closed, err := m.fabric.CloseWorker(prev)
	if err != nil {
		slog.Warn("failed to close idle worker", "worker", prev, "error", err)
		return
	}
	if closed {
		slog.Debug("closed idle worker", "worker", prev, "extension", id)
	}
}

// RefreshBlocks re-collects descriptors and refreshes primitives for the
// named service, or for every loaded extension when service is empty or
// unknown. Failures are logged and returned joined.
func (m *Manager) RefreshBlocks(ctx context.Context, service string) error {
	targets := make(map[string]string)
	for _, id := range m.registry.LoadedIDs() {
		name, _ := m.registry.ServiceName(id)
		targets[id] = name
	}
	if service != "" {
		for id, name := range targets {
			if name == service {
				targets = map[string]string{id: name}
				break
			}
		}
	}

	var errs []error
	for id, name := range targets {
		if err := m.refresh(ctx, id, name); err != nil {
			slog.Error("failed to refresh extension primitives",
				"extension", id,
				"service", name,
				"error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) refresh(ctx context.Context, id, service string) error {
	out, err := m.fabric.Call(ctx, service, blockext.MethodGetInfo)
	if err != nil {
		return ErrInvalidDescriptor(service, err)
	}
	raw, err := blockext.InfoFromValue(out)
	if err != nil {
		return ErrInvalidDescriptor(service, err)
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.refreshLocked(id, service, raw)
}

func (m *Manager) refreshLocked(id, service string, raw blockext.Info) error {
	info, err := m.normalizer.Normalize(service, raw)
	if err != nil {
		return err
	}
	if err := m.engine.RefreshPrimitives(info); err != nil {
		return oopsErr().With("extension", id).Wrapf(err, "refresh primitives")
	}
	m.registry.record(id, service, info)
	return nil
}

// LoadByURL loads ref, which is a builtin id, a cataloged id, a library
// URL, or an id some alias store or resolver can map to a library URL.
// It returns the ids loaded. A library URL already loaded is a no-op.
func (m *Manager) LoadByURL(ctx context.Context, ref string, replace bool) (_ []string, err error) {
	ctx, span := tracer.Start(ctx, "extension.load",
		trace.WithAttributes(
			attribute.String("extension.ref", ref),
			attribute.Bool("extension.replace", replace),
		),
	)
	defer func() { endSpan(span, err) }()

	if ref == "" {
		return nil, ErrNotFound(ref)
	}
	if m.registry.IsBuiltin(ref) {
		if err := m.LoadBuiltin(ctx, ref); err != nil && !IsWarning(err) {
			return nil, err
		}
		return []string{ref}, nil
	}
	if m.registry.IsCataloged(ref) {
		return m.loadCataloged(ctx, ref, replace)
	}

	libURL := ref
	if !isUserURL(ref) {
		libURL = m.lookupURL(ctx, ref)
	}
	if !isUserURL(libURL) {
		slog.Error("extension not found", "extension", ref, "url", libURL)
		m.signals.Emit(signal.ExtensionNotFound, ref)
		return nil, ErrNotFound(ref)
	}
	if m.registry.IsURLLoaded(libURL) {
		slog.Debug("extension library already loaded", "url", libURL)
		return nil, nil
	}

	ids, err := m.loadLibrary(ctx, libURL, SourceCustom)
	if err != nil {
		return nil, err
	}
	return m.loadAll(ctx, ids, replace)
}

// lookupURL maps an id to a library URL through the alias store, then the
// resolver.
func (m *Manager) lookupURL(ctx context.Context, id string) string {
	if m.aliases != nil {
		u, ok, err := m.aliases.KnownURL(ctx, id)
		if err != nil {
			slog.Warn("alias lookup failed", "extension", id, "error", err)
		} else if ok {
			return u
		}
	}
	if m.resolver != nil {
		// The resolved extension may share the id but not the opcodes of
		// the blocks that asked for it.
		u, ok, err := m.resolver.ResolveExtensionURL(ctx, id)
		if err != nil {
			slog.Warn("extension URL resolver failed", "extension", id, "error", err)
		} else if ok {
			return u
		}
	}
	return ""
}

func isUserURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// loadAll loads cataloged ids concurrently and returns those that
// registered. One failing entry does not stop its siblings; failures are
// returned joined.
func (m *Manager) loadAll(ctx context.Context, ids []string, replace bool) ([]string, error) {
	results := make([][]string, len(ids))
	errs := make([]error, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		g.Go(func() error {
			results[i], errs[i] = m.loadCataloged(ctx, id, replace)
			return nil
		})
	}
	_ = g.Wait()

	var out []string
	for _, r := range results {
		out = append(out, r...)
	}
	return out, errors.Join(errs...)
}

// loadCataloged starts a worker for a cataloged id unless it is already
// loaded and replace is off.
func (m *Manager) loadCataloged(ctx context.Context, id string, replace bool) ([]string, error) {
	if m.registry.IsLoaded(id) && !replace {
		slog.Debug("extension already loaded", "extension", id)
		return nil, nil
	}
	entry, ok := m.registry.CatalogEntry(id)
	if !ok {
		return nil, ErrNotFound(id)
	}
	return m.orchestrator.LoadInWorker(ctx, entry.WorkerURL, replace)
}

// gateEntry passes a remote worker URL of e through the gate and pins the
// result on e, so cataloged entries never need gating again.
func (m *Manager) gateEntry(ctx context.Context, e *library.Entry, base string) error {
	workerURL, err := e.WorkerURL(base)
	if err != nil || !isUserURL(workerURL) {
		return nil //nolint:nilerr // AddCatalogEntry reports unresolvable entries
	}
	rewritten, err := m.rewrite(ctx, workerURL)
	if err != nil {
		return err
	}
	e.URL = rewritten
	return nil
}

func (m *Manager) rewrite(ctx context.Context, raw string) (string, error) {
	if m.gate == nil {
		return raw, nil
	}
	rewritten, err := m.gate.RewriteURL(ctx, raw)
	if err != nil {
		return "", err //nolint:wrapcheck // gate errors carry their own codes
	}
	return rewritten, nil
}

// loadLibrary fetches the library at libURL through the gate and catalogs
// its entries. It returns every id the library offers.
func (m *Manager) loadLibrary(ctx context.Context, libURL string, source Source) ([]string, error) {
	fetchURL, err := m.rewrite(ctx, libURL)
	if err != nil {
		return nil, err
	}
	doc, err := m.fetcher.Fetch(ctx, fetchURL)
	if err != nil {
		m.signals.Emit(signal.ExtensionNotFound, libURL)
		return nil, ErrInvalidLibrary(libURL, err)
	}

	base := doc.URL
	if base == "" {
		base = fetchURL
	}
	var (
		ids     []string
		added   []string
		rejects []error
	)
	for _, e := range doc.Extensions {
		var changed bool
		err := m.gateEntry(ctx, &e, base)
		if err == nil {
			changed, err = m.registry.AddCatalogEntry(e, source, libURL, base)
		}
		if err != nil {
			slog.Warn("skipping library entry",
				"url", libURL,
				"extension", e.ID,
				"error", err)
			rejects = append(rejects, err)
			continue
		}
		ids = append(ids, e.ID)
		if changed {
			added = append(added, e.ID)
		}
	}

	prev, seen := m.registry.LibraryDigest(libURL)
	m.registry.setLibraryDigest(libURL, doc.Digest)
	if len(added) > 0 || (seen && prev != doc.Digest) {
		m.signals.Emit(signal.LibraryUpdated, added)
	}
	if len(ids) == 0 && len(rejects) > 0 {
		return nil, errors.Join(rejects...)
	}
	return ids, nil
}

// SetExternalCatalogs replaces the external library list. They are fetched
// again before the next wait completes.
func (m *Manager) SetExternalCatalogs(urls []string) {
	m.catalogMu.Lock()
	defer m.catalogMu.Unlock()
	m.catalogs = append([]string(nil), urls...)
	m.catalogsFetched = false
}

// ExternalCatalogs returns the external library list.
func (m *Manager) ExternalCatalogs() []string {
	m.catalogMu.Lock()
	defer m.catalogMu.Unlock()
	return append([]string(nil), m.catalogs...)
}

func (m *Manager) fetchExternalCatalogs(ctx context.Context) error {
	m.catalogMu.Lock()
	defer m.catalogMu.Unlock()
	if m.catalogsFetched {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, u := range m.catalogs {
		g.Go(func() error {
			_, err := m.loadLibrary(gctx, u, SourceOfficial)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return oopsErr().Wrapf(err, "load external extension catalogs")
	}
	m.catalogsFetched = true
	return nil
}

// AwaitAllLoaded catalogs the external libraries once, then waits until
// no worker load is in flight. It returns the joined failures of the
// loads it waited for.
func (m *Manager) AwaitAllLoaded(ctx context.Context) error {
	if err := m.fetchExternalCatalogs(ctx); err != nil {
		return err
	}
	return m.orchestrator.Wait(ctx)
}

// LoadsInFlight returns the number of worker loads not yet settled.
func (m *Manager) LoadsInFlight() int {
	return m.orchestrator.InFlight()
}

// LoadInWorker loads url in a fresh worker.
func (m *Manager) LoadInWorker(ctx context.Context, url string, replace bool) ([]string, error) {
	return m.orchestrator.LoadInWorker(ctx, url, replace)
}

// AllocateWorker hands the oldest pending load to a starting worker.
func (m *Manager) AllocateWorker() (dispatch.Allocation, error) {
	return m.orchestrator.AllocateWorker()
}

// OnWorkerInit settles the load of workerID.
func (m *Manager) OnWorkerInit(workerID int, err error) {
	m.orchestrator.OnWorkerInit(workerID, err)
}

// LoadedURLs maps each loaded cataloged extension to its library URL.
func (m *Manager) LoadedURLs() map[string]string {
	return m.registry.LoadedURLs()
}

// ReplaceableExtensions lists loaded extensions flagged replaceable.
func (m *Manager) ReplaceableExtensions() []CatalogEntry {
	return m.registry.ReplaceableExtensions()
}

// CatalogEntry returns the catalog entry of id.
func (m *Manager) CatalogEntry(id string) (CatalogEntry, bool) {
	return m.registry.CatalogEntry(id)
}

// DisposeServices removes every in-process extension service from the
// fabric and returns the removed names.
func (m *Manager) DisposeServices() []string {
	return m.fabric.RemoveServices(inProcessService.MatchString)
}

// ClearLoaded forgets all registrations.
func (m *Manager) ClearLoaded() {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.registry.ClearLoaded()
	clear(m.owners)
	registered.Set(0)
}

// Close stops every worker and drops every service.
func (m *Manager) Close() error {
	return m.fabric.Close() //nolint:wrapcheck // worker close errors pass through
}

// serviceMethods is the host-side "extensions" service workers call.
func (m *Manager) serviceMethods() *blockext.MethodTable {
	t := &blockext.MethodTable{}
	t.Set(dispatch.MethodAllocateWorker, func(context.Context, ...any) (any, error) {
		return m.AllocateWorker()
	})
	t.Set(dispatch.MethodOnWorkerInit, func(_ context.Context, args ...any) (any, error) {
		if len(args) == 0 {
			return nil, errors.New("onWorkerInit: missing worker id")
		}
		id, err := intArg(args[0])
		if err != nil {
			return nil, fmt.Errorf("onWorkerInit: %w", err)
		}
		var initErr error
		if len(args) > 1 {
			initErr = errorArg(args[1])
		}
		m.OnWorkerInit(id, initErr)
		return nil, nil
	})
	t.Set(dispatch.MethodRegisterExtensionService, func(ctx context.Context, args ...any) (any, error) {
		if len(args) == 0 {
			return nil, errors.New("registerExtensionService: missing service name")
		}
		service, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("registerExtensionService: service name is %T", args[0])
		}
		workerID := -1
		if len(args) > 1 {
			id, err := intArg(args[1])
			if err != nil {
				return nil, fmt.Errorf("registerExtensionService: %w", err)
			}
			workerID = id
		}
		return m.RegisterExtensionService(ctx, service, workerID)
	})
	t.Set(dispatch.MethodRegisterExtensionServiceSync, func(ctx context.Context, args ...any) (any, error) {
		if len(args) == 0 {
			return nil, errors.New("registerExtensionServiceSync: missing service name")
		}
		service, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("registerExtensionServiceSync: service name is %T", args[0])
		}
		return m.RegisterExtensionServiceSync(ctx, service)
	})
	return t
}

func intArg(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("worker id is %T", v)
	}
}

func errorArg(v any) error {
	switch e := v.(type) {
	case nil:
		return nil
	case error:
		return e
	case string:
		if e == "" {
			return nil
		}
		return errors.New(e)
	default:
		return fmt.Errorf("%v", e)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil && !IsWarning(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
