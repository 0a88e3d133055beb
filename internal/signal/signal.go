// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

// Package signal fans host notifications out to in-process subscribers and
// websocket clients.
package signal

import (
	"log/slog"
	"sync"
	"time"
)

// Name identifies a host signal.
type Name string

// Signals emitted by the extension manager.
const (
	ExtensionNotFound Name = "EXTENSION_NOT_FOUND"
	LibraryUpdated    Name = "EXTENSION_LIBRARY_UPDATED"
	DataLoading       Name = "EXTENSION_DATA_LOADING"
	ProjectChanged    Name = "PROJECT_CHANGED"
)

// subscriberBuffer bounds how far a subscriber may fall behind before it
// is dropped.
const subscriberBuffer = 64

// Signal is one emitted notification.
type Signal struct {
	Name    Name      `json:"name"`
	Payload any       `json:"payload,omitempty"`
	At      time.Time `json:"at"`
}

// Bus delivers signals to subscribers without blocking the emitter.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]chan Signal
	nextID uint64
	closed bool
	now    func() time.Time
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[uint64]chan Signal),
		now:  time.Now,
	}
}

// Emit delivers a signal to every subscriber. Subscribers whose buffer is
// full are dropped and their channel closed.
func (b *Bus) Emit(name Name, payload any) {
	sig := Signal{Name: name, Payload: payload, At: b.now()}

	var slow []uint64
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	for id, ch := range b.subs {
		select {
		case ch <- sig:
		default:
			slow = append(slow, id)
		}
	}
	b.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	b.mu.Lock()
	for _, id := range slow {
		if ch, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
			slog.Warn("dropping slow signal subscriber", "subscriber", id, "signal", string(name))
		}
	}
	b.mu.Unlock()
}

// Subscribe returns a channel of signals and a function that cancels the
// subscription. The channel is closed on cancel, on Close, or when the
// subscriber falls too far behind.
func (b *Bus) Subscribe() (<-chan Signal, func()) {
	ch := make(chan Signal, subscriberBuffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscription. Later emits are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
