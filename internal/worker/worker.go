// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

// Package worker runs extension code outside the host's own services.
//
// A Transport creates generic workers. Each worker asks the host which URL
// it must load, picks the Runtime that understands that URL, binds every
// extension the code registered as worker_<id>_<extension> and reports
// back through the extensions service.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/samber/oops"

	"github.com/blockhost/blockhost/internal/dispatch"
	"github.com/blockhost/blockhost/internal/extension"
)

// ErrNoRuntime is returned for URLs no runtime can load.
var ErrNoRuntime = errors.New("no runtime handles URL")

// Hosted is one extension registered by code running in a worker.
type Hosted struct {
	ID      string
	Service dispatch.Service
}

// Session is extension code loaded into a worker.
type Session interface {
	// Extensions returns the extensions the code registered, in order.
	Extensions() []Hosted
	// Close releases the code and everything it holds.
	Close() error
}

// Runtime loads extension code of one kind.
type Runtime interface {
	// Name identifies the runtime in logs.
	Name() string
	// Handles reports whether the runtime can load url.
	Handles(url string) bool
	// Load runs the code at url until it has registered its extensions.
	Load(ctx context.Context, url string) (Session, error)
}

// Transport creates workers backed by a fixed set of runtimes.
type Transport struct {
	runtimes []Runtime
}

var _ extension.Transport = (*Transport)(nil)

// NewTransport creates a transport trying runtimes in order.
func NewTransport(runtimes ...Runtime) *Transport {
	return &Transport{runtimes: runtimes}
}

// CreateWorker implements extension.Transport. The worker does not load
// url itself; it loads whatever the host allocates to it, which is url
// only when loads are not racing.
func (t *Transport) CreateWorker(_ context.Context, url string) (dispatch.Worker, error) {
	if t.runtimeFor(url) == nil {
		return nil, oops.In("worker").With("url", url).Wrapf(ErrNoRuntime, "create worker")
	}
	return &Worker{transport: t}, nil
}

func (t *Transport) runtimeFor(url string) Runtime {
	for _, rt := range t.runtimes {
		if rt.Handles(url) {
			return rt
		}
	}
	return nil
}

// Worker hosts the extensions of one allocated URL.
type Worker struct {
	transport *Transport

	mu      sync.Mutex
	session Session
	closed  bool
}

var _ dispatch.Worker = (*Worker)(nil)

// Start implements dispatch.Worker.
func (w *Worker) Start(ctx context.Context, f *dispatch.Fabric) error {
	out, err := f.Call(ctx, dispatch.ExtensionsService, dispatch.MethodAllocateWorker)
	if err != nil {
		return oops.In("worker").With("operation", "allocate").Wrap(err)
	}
	alloc, ok := out.(dispatch.Allocation)
	if !ok {
		return oops.In("worker").With("operation", "allocate").Errorf("unexpected allocation %T", out)
	}

	f.BindWorker(alloc.WorkerID, w)

	logger := slog.With("worker", alloc.WorkerID, "url", alloc.URL)
	initErr := w.load(ctx, f, alloc, logger)
	if initErr != nil {
		logger.Warn("worker failed to initialize", "error", initErr)
	}

	if _, err := f.Call(ctx, dispatch.ExtensionsService, dispatch.MethodOnWorkerInit, alloc.WorkerID, initErr); err != nil {
		return oops.In("worker").With("operation", "report init").With("worker", alloc.WorkerID).Wrap(err)
	}
	return nil
}

func (w *Worker) load(ctx context.Context, f *dispatch.Fabric, alloc dispatch.Allocation, logger *slog.Logger) error {
	rt := w.transport.runtimeFor(alloc.URL)
	if rt == nil {
		return fmt.Errorf("%w: %s", ErrNoRuntime, alloc.URL)
	}
	session, err := rt.Load(ctx, alloc.URL)
	if err != nil {
		return err //nolint:wrapcheck // runtimes return oops errors naming the URL
	}
	if !w.setSession(session) {
		_ = session.Close()
		return errors.New("worker closed while loading")
	}

	hosted := session.Extensions()
	if len(hosted) == 0 {
		return errors.New("extension code registered no extensions")
	}
	var errs []error
	for _, h := range hosted {
		name := dispatch.WorkerServiceName(alloc.WorkerID, h.ID)
		if err := f.SetService(name, h.Service); err != nil {
			errs = append(errs, err)
			continue
		}
		_, err := f.Call(ctx, dispatch.ExtensionsService, dispatch.MethodRegisterExtensionService, name, alloc.WorkerID)
		switch {
		case extension.IsWarning(err):
			logger.Info("extension already loaded", "extension", h.ID)
		case err != nil:
			errs = append(errs, err)
		default:
			logger.Debug("extension registered", "extension", h.ID, "runtime", rt.Name(), "service", name)
		}
	}
	return errors.Join(errs...)
}

func (w *Worker) setSession(s Session) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	w.session = s
	return true
}

// Close implements dispatch.Worker.
func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.session == nil {
		return nil
	}
	return w.session.Close()
}
