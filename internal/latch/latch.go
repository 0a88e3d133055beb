// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Blockhost Contributors

// Package latch provides a re-arming countdown barrier.
//
// A Latch counts outstanding operations. Wait returns once the count is
// zero; waiters that arrive while the count is already zero return
// immediately. The latch re-arms as soon as the count rises again, so it
// can be reused across load cycles.
package latch

import (
	"context"
	"errors"
	"sync"
)

// Latch is a countdown barrier with late-subscriber support.
type Latch struct {
	mu       sync.Mutex
	count    int
	failures []error
	waiters  []chan error
}

// Add raises the outstanding count by n.
func (l *Latch) Add(n int) {
	if n <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.count += n
}

// Done marks one outstanding operation finished. A non-nil err is kept and
// handed to the waiters of the current cycle. Calling Done at zero is a
// no-op; the count never goes negative.
func (l *Latch) Done(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count == 0 {
		return
	}
	l.count--
	if err != nil {
		l.failures = append(l.failures, err)
	}
	if l.count > 0 {
		return
	}
	result := errors.Join(l.failures...)
	for _, w := range l.waiters {
		w <- result
	}
	l.waiters = nil
	l.failures = nil
}

// Count returns the outstanding count.
func (l *Latch) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Wait blocks until the count reaches zero or ctx is done. It returns the
// joined failures reported during the cycle it waited on, or nil when the
// count was already zero.
func (l *Latch) Wait(ctx context.Context) error {
	l.mu.Lock()
	if l.count == 0 {
		l.mu.Unlock()
		return nil
	}
	ch := make(chan error, 1)
	l.waiters = append(l.waiters, ch)
	l.mu.Unlock()

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		l.remove(ch)
		return ctx.Err() //nolint:wrapcheck // caller sees the context error as-is
	}
}

func (l *Latch) remove(ch chan error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, w := range l.waiters {
		if w == ch {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			return
		}
	}
}
