// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

package extension_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/blockhost/blockhost/internal/dispatch"
	"github.com/blockhost/blockhost/internal/extension"
	"github.com/blockhost/blockhost/internal/signal"
	"github.com/blockhost/blockhost/pkg/errutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

// idleTransport creates workers that never call back; tests drive the
// allocation protocol themselves.
type idleTransport struct {
	fail error
}

func (tr idleTransport) CreateWorker(context.Context, string) (dispatch.Worker, error) {
	if tr.fail != nil {
		return nil, tr.fail
	}
	return idleWorker{}, nil
}

type idleWorker struct{}

func (idleWorker) Start(context.Context, *dispatch.Fabric) error { return nil }
func (idleWorker) Close() error                                  { return nil }

type loadOutcome struct {
	url string
	err error
}

func newOrchestrator(t *testing.T, tr extension.Transport, sig extension.Signals) *extension.Orchestrator {
	t.Helper()
	f := dispatch.New()
	t.Cleanup(func() { _ = f.Close() })
	return extension.NewOrchestrator(f, tr, sig)
}

// startLoads issues the loads one by one so their queue order is known.
func startLoads(t *testing.T, o *extension.Orchestrator, urls ...string) <-chan loadOutcome {
	t.Helper()
	out := make(chan loadOutcome, len(urls))
	for i, u := range urls {
		go func() {
			_, err := o.LoadInWorker(context.Background(), u, false)
			out <- loadOutcome{url: u, err: err}
		}()
		require.Eventually(t, func() bool { return o.Queued() == i+1 }, time.Second, time.Millisecond)
	}
	return out
}

func TestOrchestrator_AllocatesInFIFOOrder(t *testing.T) {
	o := newOrchestrator(t, idleTransport{}, nil)
	urls := []string{"u1", "u2", "u3"}
	done := startLoads(t, o, urls...)
	assert.Equal(t, 3, o.InFlight())

	for i, u := range urls {
		alloc, err := o.AllocateWorker()
		require.NoError(t, err)
		assert.Equal(t, u, alloc.URL)
		assert.Equal(t, i, alloc.WorkerID)
	}
	_, err := o.AllocateWorker()
	require.ErrorIs(t, err, extension.ErrNoPendingLoad)

	for i, u := range urls {
		o.OnWorkerInit(i, nil)
		got := <-done
		assert.Equal(t, u, got.url)
		assert.NoError(t, got.err)
	}
	assert.Zero(t, o.InFlight())
}

func TestOrchestrator_WaitCoversLoadsStartedMidFlight(t *testing.T) {
	o := newOrchestrator(t, idleTransport{}, nil)
	done := startLoads(t, o, "u1", "u2")
	for range 2 {
		_, err := o.AllocateWorker()
		require.NoError(t, err)
	}

	waited := make(chan error, 1)
	go func() { waited <- o.Wait(context.Background()) }()

	o.OnWorkerInit(0, nil)
	<-done

	more := startLoads(t, o, "u3")
	alloc, err := o.AllocateWorker()
	require.NoError(t, err)

	o.OnWorkerInit(1, errors.New("syntax error"))
	<-done
	select {
	case <-waited:
		t.Fatal("wait returned while a load was still in flight")
	case <-time.After(20 * time.Millisecond):
	}

	o.OnWorkerInit(alloc.WorkerID, nil)
	<-more

	select {
	case err := <-waited:
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, extension.CodeWorkerInit)
	case <-time.After(time.Second):
		t.Fatal("wait did not return")
	}

	assert.NoError(t, o.Wait(context.Background()), "idle latch returns immediately")
}

func TestOrchestrator_InitFailureRejectsOnlyThatLoad(t *testing.T) {
	o := newOrchestrator(t, idleTransport{}, nil)
	done := startLoads(t, o, "good", "bad")
	for range 2 {
		_, err := o.AllocateWorker()
		require.NoError(t, err)
	}

	o.OnWorkerInit(1, errors.New("boom"))
	got := <-done
	assert.Equal(t, "bad", got.url)
	errutil.AssertErrorCode(t, got.err, extension.CodeWorkerInit)
	errutil.AssertErrorContext(t, got.err, "url", "bad")

	o.OnWorkerInit(0, nil)
	got = <-done
	assert.Equal(t, "good", got.url)
	assert.NoError(t, got.err)

	// Unknown workers are ignored.
	o.OnWorkerInit(42, nil)
	assert.Zero(t, o.InFlight())
}

func TestOrchestrator_CreationFailureSettlesLoad(t *testing.T) {
	sig := &recordedSignals{}
	o := newOrchestrator(t, idleTransport{fail: errors.New("no workers")}, sig)

	_, err := o.LoadInWorker(context.Background(), "u1", false)
	errutil.AssertErrorCode(t, err, extension.CodeWorkerCreate)
	assert.Zero(t, o.InFlight())
	assert.Zero(t, o.Queued())
	assert.True(t, sig.has(signal.ExtensionNotFound))
	assert.True(t, sig.has(signal.DataLoading))

	assert.NoError(t, o.Wait(context.Background()), "the failed load already settled")
}

func TestOrchestrator_CancelWithdrawsQueuedLoad(t *testing.T) {
	o := newOrchestrator(t, idleTransport{}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	errs := make(chan error, 1)
	go func() {
		_, err := o.LoadInWorker(ctx, "u1", false)
		errs <- err
	}()
	require.Eventually(t, func() bool { return o.Queued() == 1 }, time.Second, time.Millisecond)

	cancel()
	require.ErrorIs(t, <-errs, context.Canceled)
	assert.Zero(t, o.Queued())
	assert.Zero(t, o.InFlight())

	_, err := o.AllocateWorker()
	assert.ErrorIs(t, err, extension.ErrNoPendingLoad)
}
