// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package eventloop runs posted events one at a time, in post order, on a
// dedicated goroutine.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-nfc/internal/syncutil"
)

// Kind identifies an event so pending instances can be removed.
type Kind int

// KindBarrier is used internally by Sync.
const KindBarrier Kind = -1

// ErrStopped is returned when posting to a stopped handler
var ErrStopped = errors.New("event handler stopped")

type event struct {
	fn   func()
	kind Kind
}

type delayedEvent struct {
	timer *time.Timer
	kind  Kind
}

// Handler is a serialized event queue.
type Handler struct {
	// OnPanic is called when an event panics; the loop keeps running
	OnPanic  func(kind Kind, value any, stack []byte)
	delayed  map[uint64]*delayedEvent
	wake     chan struct{}
	stopChan chan struct{}
	name     string
	queue    []event
	wg       sync.WaitGroup
	nextID   uint64
	inFlight int
	handled  atomic.Int64
	mu       syncutil.Mutex
	running  atomic.Bool
	stopped  atomic.Bool
}

// New creates a stopped handler. Events posted before Start are kept.
func New(name string) *Handler {
	return &Handler{
		name:     name,
		delayed:  make(map[uint64]*delayedEvent),
		wake:     make(chan struct{}, 1),
		stopChan: make(chan struct{}),
	}
}

// Name returns the handler name used in logs
func (h *Handler) Name() string {
	return h.name
}

// Start launches the loop goroutine. Calling Start twice is a no-op.
func (h *Handler) Start() {
	if h.stopped.Load() || !h.running.CompareAndSwap(false, true) {
		return
	}
	h.wg.Add(1)
	go h.loop()
}

// Stop cancels delayed events, discards queued ones and waits for the
// running event to finish.
func (h *Handler) Stop() {
	if !h.stopped.CompareAndSwap(false, true) {
		return
	}
	h.mu.Lock()
	for id, de := range h.delayed {
		de.timer.Stop()
		delete(h.delayed, id)
	}
	h.queue = nil
	h.mu.Unlock()

	close(h.stopChan)
	h.wg.Wait()
	h.running.Store(false)
}

// Post appends an event to the queue.
func (h *Handler) Post(kind Kind, fn func()) error {
	if h.stopped.Load() {
		return ErrStopped
	}
	h.mu.Lock()
	h.queue = append(h.queue, event{kind: kind, fn: fn})
	h.mu.Unlock()
	h.signal()
	return nil
}

// PostDelayed appends the event to the queue once delay has elapsed.
// A delayed event removed with RemoveEvent before it fires never runs.
func (h *Handler) PostDelayed(kind Kind, delay time.Duration, fn func()) error {
	if h.stopped.Load() {
		return ErrStopped
	}
	if delay <= 0 {
		return h.Post(kind, fn)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	h.delayed[id] = &delayedEvent{
		kind: kind,
		timer: time.AfterFunc(delay, func() {
			h.mu.Lock()
			if _, ok := h.delayed[id]; !ok {
				h.mu.Unlock()
				return
			}
			delete(h.delayed, id)
			h.queue = append(h.queue, event{kind: kind, fn: fn})
			h.mu.Unlock()
			h.signal()
		}),
	}
	return nil
}

// RemoveEvent drops every pending event of kind, queued or delayed, and
// returns how many were removed. An event already running is not affected.
func (h *Handler) RemoveEvent(kind Kind) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	removed := 0
	for id, de := range h.delayed {
		if de.kind == kind {
			de.timer.Stop()
			delete(h.delayed, id)
			removed++
		}
	}
	kept := h.queue[:0]
	for _, ev := range h.queue {
		if ev.kind == kind {
			removed++
			continue
		}
		kept = append(kept, ev)
	}
	h.queue = kept
	return removed
}

// HasEvent reports whether an event of kind is pending
func (h *Handler) HasEvent(kind Kind) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, de := range h.delayed {
		if de.kind == kind {
			return true
		}
	}
	for _, ev := range h.queue {
		if ev.kind == kind {
			return true
		}
	}
	return false
}

// Sync waits until every event posted before the call has run.
// It must not be called from inside an event.
func (h *Handler) Sync(ctx context.Context) error {
	done := make(chan struct{})
	if err := h.Post(KindBarrier, func() { close(done) }); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: sync: %w", h.name, ctx.Err())
	}
}

// Pending returns the number of queued events plus the one running, if
// any. Delayed events and Sync barriers are not counted.
func (h *Handler) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queue) + h.inFlight
}

// Handled returns the number of events run so far
func (h *Handler) Handled() int64 {
	return h.handled.Load()
}

func (h *Handler) signal() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

func (h *Handler) loop() {
	defer h.wg.Done()
	for {
		ev, ok := h.next()
		if ok {
			h.run(ev)
			h.finish(ev)
			continue
		}
		select {
		case <-h.wake:
		case <-h.stopChan:
			return
		}
	}
}

func (h *Handler) next() (event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.queue) == 0 {
		return event{}, false
	}
	ev := h.queue[0]
	h.queue[0] = event{}
	h.queue = h.queue[1:]
	if ev.kind != KindBarrier {
		h.inFlight++
	}
	return ev, true
}

func (h *Handler) finish(ev event) {
	if ev.kind == KindBarrier {
		return
	}
	h.mu.Lock()
	h.inFlight--
	h.mu.Unlock()
}

func (h *Handler) run(ev event) {
	defer func() {
		if r := recover(); r != nil {
			if h.OnPanic != nil {
				h.OnPanic(ev.kind, r, debug.Stack())
			}
		}
	}()
	if h.stopped.Load() && ev.kind != KindBarrier {
		return
	}
	ev.fn()
	h.handled.Add(1)
}
