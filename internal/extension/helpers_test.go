// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

package extension_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockhost/blockhost/internal/dispatch"
	"github.com/blockhost/blockhost/internal/extension"
	"github.com/blockhost/blockhost/internal/runtime"
	"github.com/blockhost/blockhost/internal/signal"
	"github.com/blockhost/blockhost/pkg/blockext"
)

// testExt is an in-process extension whose blocks answer "<tag>:<opcode>".
type testExt struct {
	blockext.MethodTable
	mu   sync.Mutex
	info blockext.Info
}

func (e *testExt) Info() blockext.Info {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.info
}

func (e *testExt) setInfo(info blockext.Info) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.info = info
}

func block(opcode string, kind blockext.BlockType) blockext.Block {
	return blockext.Block{Opcode: opcode, BlockType: kind}
}

func newExt(id, tag string, blocks ...blockext.Block) *testExt {
	e := &testExt{info: blockext.Info{ID: id, Name: id, Blocks: blocks}}
	for _, b := range blocks {
		if b.Opcode == "" {
			continue
		}
		result := fmt.Sprintf("%s:%s", tag, b.Opcode)
		e.Set(b.Opcode, blockext.BlockMethod(func(context.Context, blockext.Args, blockext.Util) (any, error) {
			return result, nil
		}))
	}
	return e
}

func newManager(t *testing.T, opts ...extension.ManagerOption) (*extension.Manager, *runtime.Runtime) {
	t.Helper()
	rt := runtime.New()
	rt.AddTarget("stage", "Stage", true)
	rt.AddTarget("sprite", "Sprite", false)
	m, err := extension.NewManager(rt, rt, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, rt
}

func useBlock(t *testing.T, rt *runtime.Runtime, target, id, opcode string) {
	t.Helper()
	require.NoError(t, rt.AddBlock(target, runtime.Block{ID: id, Opcode: opcode}))
}

func exec(t *testing.T, rt *runtime.Runtime, key string) any {
	t.Helper()
	out, err := rt.Execute(context.Background(), key, blockext.Args{}, blockext.Util{})
	require.NoError(t, err)
	return out
}

// remoteService makes an in-process object look worker-hosted: it reports
// itself remote and passes arguments and results through their JSON form.
type remoteService struct {
	local *dispatch.LocalService
}

func (s remoteService) IsLocal() bool { return false }

func (s remoteService) Call(ctx context.Context, method string, args ...any) (any, error) {
	wire := make([]any, len(args))
	for i, a := range args {
		g, err := blockext.Generic(a)
		if err != nil {
			return nil, err
		}
		wire[i] = g
	}
	out, err := s.local.Call(ctx, method, wire...)
	if err != nil {
		return nil, err
	}
	return blockext.Generic(out)
}

// fakeTransport creates workers that host the extensions keyed by URL.
type fakeTransport struct {
	mu        sync.Mutex
	scripts   map[string]func() blockext.Extension
	createErr error
	created   []string
	workers   []*fakeWorker
}

func newTransport() *fakeTransport {
	return &fakeTransport{scripts: make(map[string]func() blockext.Extension)}
}

func (tr *fakeTransport) serve(url string, factory func() blockext.Extension) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.scripts[url] = factory
}

func (tr *fakeTransport) CreateWorker(_ context.Context, url string) (dispatch.Worker, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.createErr != nil {
		return nil, tr.createErr
	}
	tr.created = append(tr.created, url)
	w := &fakeWorker{tr: tr}
	tr.workers = append(tr.workers, w)
	return w, nil
}

func (tr *fakeTransport) script(url string) (func() blockext.Extension, bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	f, ok := tr.scripts[url]
	return f, ok
}

type fakeWorker struct {
	tr     *fakeTransport
	closed atomic.Bool
}

func (w *fakeWorker) Start(ctx context.Context, f *dispatch.Fabric) error {
	out, err := f.Call(ctx, dispatch.ExtensionsService, dispatch.MethodAllocateWorker)
	if err != nil {
		return err
	}
	alloc := out.(dispatch.Allocation)
	f.BindWorker(alloc.WorkerID, w)

	initErr := w.load(ctx, f, alloc)
	_, err = f.Call(ctx, dispatch.ExtensionsService, dispatch.MethodOnWorkerInit, alloc.WorkerID, initErr)
	return err
}

func (w *fakeWorker) load(ctx context.Context, f *dispatch.Fabric, alloc dispatch.Allocation) error {
	factory, ok := w.tr.script(alloc.URL)
	if !ok {
		return errors.New("script not found")
	}
	ext := factory()
	name := dispatch.WorkerServiceName(alloc.WorkerID, ext.Info().ID)
	if err := f.SetService(name, remoteService{local: dispatch.NewLocalService(ext)}); err != nil {
		return err
	}
	_, err := f.Call(ctx, dispatch.ExtensionsService, dispatch.MethodRegisterExtensionService, name, alloc.WorkerID)
	if extension.IsWarning(err) {
		return nil
	}
	return err
}

func (w *fakeWorker) Close() error {
	w.closed.Store(true)
	return nil
}

// memoryAliases is an in-memory AliasStore.
type memoryAliases struct {
	mu   sync.Mutex
	urls map[string]string
}

func newAliases() *memoryAliases {
	return &memoryAliases{urls: make(map[string]string)}
}

func (a *memoryAliases) KnownURL(_ context.Context, id string) (string, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	u, ok := a.urls[id]
	return u, ok, nil
}

func (a *memoryAliases) SaveURL(_ context.Context, id, url string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.urls[id] = url
	return nil
}

func (a *memoryAliases) DeleteURL(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.urls, id)
	return nil
}

func (a *memoryAliases) get(id string) (string, bool) {
	u, ok, _ := a.KnownURL(context.Background(), id)
	return u, ok
}

// recordedSignals collects emitted signal names.
type recordedSignals struct {
	mu    sync.Mutex
	names []signal.Name
}

func (r *recordedSignals) Emit(name signal.Name, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
}

func (r *recordedSignals) has(name signal.Name) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.names {
		if n == name {
			return true
		}
	}
	return false
}

// serveLibrary serves a library document at /library.yaml.
func serveLibrary(t *testing.T, doc string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/library.yaml" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(doc))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// countingGate signs worker scripts, refuses blocked URLs and records
// every URL it is asked about.
type countingGate struct {
	mu      sync.Mutex
	blocked map[string]bool
	seen    []string
}

func (g *countingGate) RewriteURL(_ context.Context, raw string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seen = append(g.seen, raw)
	if g.blocked[raw] {
		return "", errors.New("blocked by policy")
	}
	if strings.HasSuffix(raw, ".lua") {
		return raw + "?signed", nil
	}
	return raw, nil
}

func (g *countingGate) calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.seen...)
}

// closedWorkers reports, per script URL and in creation order, which
// workers were closed.
func (tr *fakeTransport) closedWorkers() map[string][]bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := make(map[string][]bool)
	for i, w := range tr.workers {
		out[tr.created[i]] = append(out[tr.created[i]], w.closed.Load())
	}
	return out
}
