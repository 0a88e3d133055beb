// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

package signal_test

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/blockhost/blockhost/internal/signal"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

func TestBus_EmitDeliversToSubscribers(t *testing.T) {
	bus := signal.NewBus()
	a, cancelA := bus.Subscribe()
	b, cancelB := bus.Subscribe()
	defer cancelB()

	bus.Emit(signal.DataLoading, true)

	for _, ch := range []<-chan signal.Signal{a, b} {
		sig := <-ch
		assert.Equal(t, signal.DataLoading, sig.Name)
		assert.Equal(t, true, sig.Payload)
		assert.False(t, sig.At.IsZero())
	}

	cancelA()
	_, ok := <-a
	assert.False(t, ok, "channel closed after cancel")
	assert.Equal(t, 1, bus.Subscribers())

	cancelA()
}

func TestBus_DropsSlowSubscriber(t *testing.T) {
	bus := signal.NewBus()
	slow, cancel := bus.Subscribe()
	defer cancel()

	for range 100 {
		bus.Emit(signal.ProjectChanged, nil)
	}

	assert.Equal(t, 0, bus.Subscribers())
	n := 0
	for range slow {
		n++
	}
	assert.Positive(t, n)
}

func TestBus_Close(t *testing.T) {
	bus := signal.NewBus()
	ch, cancel := bus.Subscribe()
	bus.Close()
	bus.Close()

	_, ok := <-ch
	assert.False(t, ok)
	cancel()

	bus.Emit(signal.ExtensionNotFound, "x")

	late, _ := bus.Subscribe()
	_, ok = <-late
	assert.False(t, ok)
}

func TestHandler_StreamsSignals(t *testing.T) {
	bus := signal.NewBus()
	srv := httptest.NewServer(signal.NewHandler(bus))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	require.Eventually(t, func() bool { return bus.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	bus.Emit(signal.LibraryUpdated, map[string]any{"ids": []string{"greeter"}})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got struct {
		Name    string         `json:"name"`
		Payload map[string]any `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "EXTENSION_LIBRARY_UPDATED", got.Name)
	assert.Equal(t, []any{"greeter"}, got.Payload["ids"])

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return bus.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
}
