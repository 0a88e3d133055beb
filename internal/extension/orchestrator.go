// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

package extension

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/blockhost/blockhost/internal/dispatch"
	"github.com/blockhost/blockhost/internal/latch"
	"github.com/blockhost/blockhost/internal/signal"
)

// ErrNoPendingLoad is returned by AllocateWorker when nothing is queued.
var ErrNoPendingLoad = errors.New("no pending extension load")

type loadResult struct {
	ids []string
	err error
}

// pendingRequest is one worker load from enqueue until its worker reports.
type pendingRequest struct {
	id       ulid.ULID
	url      string
	replace  bool
	workerID int
	ids      []string
	done     chan loadResult
}

// Orchestrator queues worker loads, hands URLs to workers in FIFO order
// and counts loads still in flight.
type Orchestrator struct {
	fabric    *dispatch.Fabric
	transport Transport
	signals   Signals

	mu         sync.Mutex
	queue      []*pendingRequest
	slots      map[int]*pendingRequest
	nextWorker int

	outstanding latch.Latch
}

// NewOrchestrator creates an orchestrator that starts workers on fabric.
func NewOrchestrator(fabric *dispatch.Fabric, transport Transport, signals Signals) *Orchestrator {
	if signals == nil {
		signals = nopSignals{}
	}
	return &Orchestrator{
		fabric:    fabric,
		transport: transport,
		signals:   signals,
		slots:     make(map[int]*pendingRequest),
	}
}

// LoadInWorker loads url in a fresh worker and returns the ids the worker
// registered. It returns once the worker reports initialization, the
// worker cannot be created, or ctx ends.
func (o *Orchestrator) LoadInWorker(ctx context.Context, url string, replace bool) ([]string, error) {
	start := time.Now()
	o.outstanding.Add(1)
	loadsInFlight.Inc()
	o.signals.Emit(signal.DataLoading, true)
	defer func() {
		o.signals.Emit(signal.DataLoading, false)
		loadsInFlight.Dec()
		observeWorkerLoad(start)
	}()

	req := o.enqueue(url, replace)
	logger := slog.With("request", req.id.String(), "url", url)
	logger.Debug("queued extension load")

	if err := o.startWorker(ctx, url); err != nil {
		o.settleQueued(req, err)
		o.signals.Emit(signal.ExtensionNotFound, url)
		logger.Error("failed to create extension worker", "error", err)
		return nil, ErrWorkerCreate(url, err)
	}

	select {
	case res := <-req.done:
		return res.ids, res.err
	case <-ctx.Done():
		// A request still queued is withdrawn. One already handed to a
		// worker settles when that worker reports.
		o.settleQueued(req, ctx.Err())
		return nil, ctx.Err() //nolint:wrapcheck // caller deadline
	}
}

func (o *Orchestrator) startWorker(ctx context.Context, url string) error {
	if o.transport == nil {
		return errors.New("no worker transport configured")
	}
	w, err := o.transport.CreateWorker(ctx, url)
	if err != nil {
		return err //nolint:wrapcheck // wrapped by caller
	}
	if err := o.fabric.AddWorker(w); err != nil {
		_ = w.Close()
		return err //nolint:wrapcheck // wrapped by caller
	}
	return nil
}

func (o *Orchestrator) enqueue(url string, replace bool) *pendingRequest {
	req := &pendingRequest{
		id:       ulid.Make(),
		url:      url,
		replace:  replace,
		workerID: -1,
		done:     make(chan loadResult, 1),
	}
	o.mu.Lock()
	o.queue = append(o.queue, req)
	o.mu.Unlock()
	return req
}

// settleQueued removes exactly req from the queue and fails it. Requests
// no longer queued are left alone.
func (o *Orchestrator) settleQueued(req *pendingRequest, err error) {
	o.mu.Lock()
	found := false
	for i, r := range o.queue {
		if r == req {
			o.queue = append(o.queue[:i], o.queue[i+1:]...)
			found = true
			break
		}
	}
	o.mu.Unlock()

	if found {
		req.done <- loadResult{err: err}
		o.outstanding.Done(err)
	}
}

// AllocateWorker hands the oldest queued URL to a starting worker.
func (o *Orchestrator) AllocateWorker() (dispatch.Allocation, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.queue) == 0 {
		return dispatch.Allocation{}, ErrNoPendingLoad
	}
	req := o.queue[0]
	o.queue = o.queue[1:]

	id := o.nextWorker
	o.nextWorker++
	req.workerID = id
	o.slots[id] = req

	slog.Debug("allocated extension worker",
		"request", req.id.String(),
		"worker", id,
		"url", req.url)
	return dispatch.Allocation{WorkerID: id, URL: req.url}, nil
}

// OnWorkerInit settles the load allocated to workerID. A non-nil err
// rejects that load only.
func (o *Orchestrator) OnWorkerInit(workerID int, err error) {
	o.mu.Lock()
	req, ok := o.slots[workerID]
	delete(o.slots, workerID)
	o.mu.Unlock()

	if !ok {
		slog.Warn("init signal from unknown worker", "worker", workerID)
		return
	}

	res := loadResult{ids: req.ids}
	if err != nil {
		res = loadResult{err: ErrWorkerInit(req.url, workerID, err)}
		slog.Error("extension worker failed to initialize",
			"request", req.id.String(),
			"worker", workerID,
			"url", req.url,
			"error", err)
	}
	req.done <- res
	o.outstanding.Done(res.err)
}

// slot returns the load a worker is serving, if it is still in flight.
func (o *Orchestrator) slot(workerID int) (url string, replace bool, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	req, ok := o.slots[workerID]
	if !ok {
		return "", false, false
	}
	return req.url, req.replace, true
}

// recordRegistered notes that the worker serving workerID registered id.
func (o *Orchestrator) recordRegistered(workerID int, id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if req, ok := o.slots[workerID]; ok {
		req.ids = append(req.ids, id)
	}
}

// Wait blocks until no loads are in flight. Failures of the cycle are
// returned joined.
func (o *Orchestrator) Wait(ctx context.Context) error {
	return o.outstanding.Wait(ctx) //nolint:wrapcheck // latch errors are load errors
}

// InFlight returns the number of loads not yet settled.
func (o *Orchestrator) InFlight() int {
	return o.outstanding.Count()
}

// Queued returns the number of loads waiting for a worker.
func (o *Orchestrator) Queued() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}
