// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

// Package dispatch routes method calls to named services that live either
// in the host process or inside isolated workers.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Well-known names used between workers and the host.
const (
	// ExtensionsService is the host-side service workers talk to.
	ExtensionsService = "extensions"

	MethodAllocateWorker               = "allocateWorker"
	MethodOnWorkerInit                 = "onWorkerInit"
	MethodRegisterExtensionService     = "registerExtensionService"
	MethodRegisterExtensionServiceSync = "registerExtensionServiceSync"
)

// Sentinel errors for programmatic error checking.
var (
	// ErrServiceNotFound is returned when calling a name nobody registered.
	ErrServiceNotFound = errors.New("service not found")
	// ErrNotLocal is returned by the synchronous operations for services
	// living in a worker.
	ErrNotLocal = errors.New("service is not local")
	// ErrFabricClosed is returned after Close.
	ErrFabricClosed = errors.New("fabric is closed")
)

// Allocation is the host's answer to MethodAllocateWorker: the worker's
// id and the URL it must load.
type Allocation struct {
	WorkerID int    `json:"workerId"`
	URL      string `json:"url"`
}

// WorkerServiceName returns the service name a worker binds extension id to.
func WorkerServiceName(workerID int, id string) string {
	return fmt.Sprintf("worker_%d_%s", workerID, id)
}

// Service is a named endpoint on the fabric.
type Service interface {
	// Call invokes method with args.
	Call(ctx context.Context, method string, args ...any) (any, error)
	// IsLocal reports whether the service runs in the host process.
	IsLocal() bool
}

// Worker is an isolated execution context that hosts remote services.
type Worker interface {
	// Start runs the worker until it finishes its setup. Workers report
	// back through the fabric; Start blocks only as long as setup does.
	Start(ctx context.Context, f *Fabric) error
	// Close terminates the worker.
	Close() error
}

// Fabric is a registry of named services plus the workers hosting the
// remote ones.
type Fabric struct {
	mu       sync.RWMutex
	services map[string]Service
	workers  []Worker
	// byID holds the workers that reported their allocated id.
	byID   map[int]Worker
	closed bool

	// workerCtx outlives any single load; it is cancelled by Close.
	workerCtx context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates an empty fabric.
func New() *Fabric {
	ctx, cancel := context.WithCancel(context.Background())
	return &Fabric{
		services:  make(map[string]Service),
		byID:      make(map[int]Worker),
		workerCtx: ctx,
		cancel:    cancel,
	}
}

// SetService binds name to svc, replacing any previous binding.
func (f *Fabric) SetService(name string, svc Service) error {
	if svc == nil {
		return fmt.Errorf("service %s: nil service", name)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrFabricClosed
	}
	f.services[name] = svc
	return nil
}

// SetServiceSync binds a local service. The binding is visible to callers
// as soon as it returns.
func (f *Fabric) SetServiceSync(name string, svc Service) error {
	if svc != nil && !svc.IsLocal() {
		return fmt.Errorf("%w: %s", ErrNotLocal, name)
	}
	return f.SetService(name, svc)
}

// Service returns the service bound to name.
func (f *Fabric) Service(name string) (Service, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	svc, ok := f.services[name]
	return svc, ok
}

// IsRemote reports whether name is bound to a worker-hosted service.
func (f *Fabric) IsRemote(name string) bool {
	svc, ok := f.Service(name)
	return ok && !svc.IsLocal()
}

// Call invokes method on the named service. The fabric lock is not held
// while the service runs.
func (f *Fabric) Call(ctx context.Context, service, method string, args ...any) (any, error) {
	svc, err := f.lookup(service)
	if err != nil {
		return nil, err
	}
	return svc.Call(ctx, method, args...)
}

// CallSync invokes method on a local service.
func (f *Fabric) CallSync(ctx context.Context, service, method string, args ...any) (any, error) {
	svc, err := f.lookup(service)
	if err != nil {
		return nil, err
	}
	if !svc.IsLocal() {
		return nil, fmt.Errorf("%w: %s", ErrNotLocal, service)
	}
	return svc.Call(ctx, method, args...)
}

func (f *Fabric) lookup(name string) (Service, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, ErrFabricClosed
	}
	svc, ok := f.services[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	return svc, nil
}

// RemoveService drops a binding and reports whether it existed.
func (f *Fabric) RemoveService(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.services[name]
	delete(f.services, name)
	return ok
}

// RemoveServices drops every binding whose name matches and returns the
// removed names, sorted.
func (f *Fabric) RemoveServices(match func(name string) bool) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed []string
	for name := range f.services {
		if match(name) {
			delete(f.services, name)
			removed = append(removed, name)
		}
	}
	sort.Strings(removed)
	return removed
}

// Services returns the bound names, sorted.
func (f *Fabric) Services() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.services))
	for name := range f.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AddWorker starts w in its own goroutine. Start failures are logged;
// workers that got as far as allocation report them to the host
// themselves.
func (f *Fabric) AddWorker(w Worker) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrFabricClosed
	}
	f.workers = append(f.workers, w)
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		if err := w.Start(f.workerCtx, f); err != nil {
			slog.Error("worker failed to start", "error", err)
		}
	}()
	return nil
}

// BindWorker records that w was allocated workerID, so the worker can be
// closed by id once it hosts nothing.
func (f *Fabric) BindWorker(workerID int, w Worker) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.byID[workerID] = w
}

// CloseWorker terminates the worker bound to workerID and reports whether
// one was bound.
func (f *Fabric) CloseWorker(workerID int) (bool, error) {
	f.mu.Lock()
	w, ok := f.byID[workerID]
	if !ok {
		f.mu.Unlock()
		return false, nil
	}
	delete(f.byID, workerID)
	for i, other := range f.workers {
		if other == w {
			f.workers = append(f.workers[:i], f.workers[i+1:]...)
			break
		}
	}
	f.mu.Unlock()

	if err := w.Close(); err != nil {
		return true, fmt.Errorf("close worker %d: %w", workerID, err)
	}
	return true, nil
}

// Workers returns the number of workers not yet closed.
func (f *Fabric) Workers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.workers)
}

// Close terminates every worker and drops all bindings.
func (f *Fabric) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	workers := f.workers
	f.workers = nil
	clear(f.byID)
	clear(f.services)
	f.mu.Unlock()

	f.cancel()
	var errs []error
	for _, w := range workers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	f.wg.Wait()
	return errors.Join(errs...)
}
