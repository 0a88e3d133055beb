// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

package extension

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/blockhost/blockhost/internal/library"
	"github.com/blockhost/blockhost/pkg/blockext"
)

// DefaultPlatformNamespace is the platform token reserved next to the core
// block categories.
const DefaultPlatformNamespace = "blockhost"

// coreNamespaces are the opcode prefixes of the host's own block categories.
var coreNamespaces = []string{
	"control", "event", "looks", "motion", "operator",
	"sound", "sensing", "data", "procedures", "argument",
}

// Source tells where a catalog entry came from.
type Source string

// Catalog sources.
const (
	SourceOfficial Source = "official"
	SourceCustom   Source = "custom"
)

// CatalogEntry is an extension a library offers, loaded or not.
type CatalogEntry struct {
	ID          string
	Name        string
	Description string
	Version     string
	// URL is the library document the entry came from.
	URL string
	// WorkerURL is what a worker loads to run the extension.
	WorkerURL   string
	Source      Source
	Replaceable bool
}

// Registry holds loaded extensions, the builtin table and the catalog.
type Registry struct {
	mu       sync.RWMutex
	reserved []string
	builtins map[string]Factory
	loaded   map[string]string
	infos    map[string]*blockext.Info
	catalog  map[string]*CatalogEntry
	digests  map[string]string
	nextSeq  int
}

// NewRegistry creates a registry reserving the core namespaces and
// platform. An empty platform uses DefaultPlatformNamespace.
func NewRegistry(platform string) *Registry {
	if platform == "" {
		platform = DefaultPlatformNamespace
	}
	reserved := append(append([]string(nil), coreNamespaces...), platform)
	return &Registry{
		reserved: reserved,
		builtins: make(map[string]Factory),
		loaded:   make(map[string]string),
		infos:    make(map[string]*blockext.Info),
		catalog:  make(map[string]*CatalogEntry),
		digests:  make(map[string]string),
	}
}

// IsReserved reports whether id is a reserved token or starts with one
// followed by an underscore.
func (r *Registry) IsReserved(id string) bool {
	for _, token := range r.reserved {
		if id == token || strings.HasPrefix(id, token+"_") {
			return true
		}
	}
	return false
}

// AddBuiltin adds or replaces a builtin constructor.
func (r *Registry) AddBuiltin(id string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builtins[id] = factory
}

// Builtin returns the constructor for a builtin id.
func (r *Registry) Builtin(id string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.builtins[id]
	return f, ok
}

// IsBuiltin reports whether id is in the builtin table.
func (r *Registry) IsBuiltin(id string) bool {
	_, ok := r.Builtin(id)
	return ok
}

// IsLoaded reports whether id is registered.
func (r *Registry) IsLoaded(id string) bool {
	_, ok := r.ServiceName(id)
	return ok
}

// ServiceName returns the service hosting id.
func (r *Registry) ServiceName(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.loaded[id]
	return name, ok
}

// LoadedIDs returns the registered ids, sorted.
func (r *Registry) LoadedIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.loaded))
	for id := range r.loaded {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ServiceNames returns the services of all registered extensions, sorted.
func (r *Registry) ServiceNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.loaded))
	for _, name := range r.loaded {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Info returns a copy of the normalized descriptor of id.
func (r *Registry) Info(id string) (*blockext.Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.infos[id]
	if !ok {
		return nil, false
	}
	return info.Clone(), true
}

// nextServiceName allocates an in-process service name for id.
func (r *Registry) nextServiceName(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := fmt.Sprintf("extension_%d_%s", r.nextSeq, id)
	r.nextSeq++
	return name
}

// record maps id to service with its normalized descriptor.
func (r *Registry) record(id, service string, info *blockext.Info) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaded[id] = service
	r.infos[id] = info
}

// forget drops id's registration and custom catalog entry. Official
// entries survive so the extension can be loaded again.
func (r *Registry) forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.loaded, id)
	delete(r.infos, id)
	if e, ok := r.catalog[id]; ok && e.Source == SourceCustom {
		delete(r.catalog, id)
	}
}

// ClearLoaded forgets every registration. Services and primitives are
// left to their owners.
func (r *Registry) ClearLoaded() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaded = make(map[string]string)
	r.infos = make(map[string]*blockext.Info)
}

// AddCatalogEntry adds an entry of the library known as libraryURL and
// fetched from baseURL, which relative worker locations resolve against.
// Custom entries may not use reserved ids. It reports whether the entry
// is new or changed.
func (r *Registry) AddCatalogEntry(e library.Entry, source Source, libraryURL, baseURL string) (bool, error) {
	if source == SourceCustom && r.IsReserved(e.ID) {
		return false, ErrReservedID(e.ID)
	}
	if baseURL == "" {
		baseURL = libraryURL
	}
	workerURL, err := e.WorkerURL(baseURL)
	if err != nil {
		return false, ErrInvalidLibrary(libraryURL, err)
	}
	entry := &CatalogEntry{
		ID:          e.ID,
		Name:        e.Name,
		Description: e.Description,
		Version:     e.Version,
		URL:         libraryURL,
		WorkerURL:   workerURL,
		Source:      source,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.catalog[e.ID]; ok {
		entry.Replaceable = old.Replaceable
		if *old == *entry {
			return false, nil
		}
	}
	r.catalog[e.ID] = entry
	return true, nil
}

// CatalogEntry returns a copy of the catalog entry for id.
func (r *Registry) CatalogEntry(id string) (CatalogEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.catalog[id]
	if !ok {
		return CatalogEntry{}, false
	}
	return *e, true
}

// IsCataloged reports whether a library offers id.
func (r *Registry) IsCataloged(id string) bool {
	_, ok := r.CatalogEntry(id)
	return ok
}

// markReplaceable flags the catalog entry of id.
func (r *Registry) markReplaceable(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.catalog[id]; ok {
		e.Replaceable = true
	}
}

// LibraryDigest returns the digest recorded for a library URL.
func (r *Registry) LibraryDigest(url string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.digests[url]
	return d, ok
}

func (r *Registry) setLibraryDigest(url, digest string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.digests[url] = digest
}

// LoadedURLs maps each loaded cataloged extension to its library URL.
func (r *Registry) LoadedURLs() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string)
	for id := range r.loaded {
		if e, ok := r.catalog[id]; ok && e.URL != "" {
			out[id] = e.URL
		}
	}
	return out
}

// IsURLLoaded reports whether some loaded extension came from url.
func (r *Registry) IsURLLoaded(url string) bool {
	for _, u := range r.LoadedURLs() {
		if u == url {
			return true
		}
	}
	return false
}

// ReplaceableExtensions returns the loaded entries flagged replaceable,
// sorted by id.
func (r *Registry) ReplaceableExtensions() []CatalogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []CatalogEntry
	for id := range r.loaded {
		if e, ok := r.catalog[id]; ok && e.Replaceable {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
