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

// Package routing serializes card-emulation routing commands onto the
// service event queue.
package routing

import (
	"context"
	"sync/atomic"
	"time"

	nfc "github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/internal/eventloop"
)

// Config holds the watchdog budgets for routing commands
type Config struct {
	// ComputeTimeout bounds ComputeRoutingParams, which rebuilds the whole table
	ComputeTimeout time.Duration
	// CommitTimeout bounds CommitRouting
	CommitTimeout time.Duration
}

// DefaultConfig returns the default routing budgets
func DefaultConfig() *Config {
	return &Config{
		ComputeTimeout: 10 * time.Second,
		CommitTimeout:  3 * time.Second,
	}
}

// Metrics counts routing commands run on the event queue
type Metrics struct {
	Computes       int64
	Commits        int64
	Failures       int64
	SkippedNfcOff  int64
	PostedComputes int64
	PostedCommits  int64
}

// Manager posts routing work to the event handler. Posting both commands from
// the same call site keeps a compute ahead of the commit it feeds.
type Manager struct {
	handler        *eventloop.Handler
	ce             nfc.CeInterface
	state          nfc.StateProvider
	watchdog       *nfc.Watchdog
	config         *Config
	computes       atomic.Int64
	commits        atomic.Int64
	failures       atomic.Int64
	skipped        atomic.Int64
	postedComputes atomic.Int64
	postedCommits  atomic.Int64
}

// NewManager creates a routing manager. state is a non-owning back-reference
// to the service.
func NewManager(
	handler *eventloop.Handler,
	ce nfc.CeInterface,
	state nfc.StateProvider,
	watchdog *nfc.Watchdog,
	config *Config,
) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	if watchdog == nil {
		watchdog = nfc.NewWatchdog(nil)
	}
	return &Manager{
		handler:  handler,
		ce:       ce,
		state:    state,
		watchdog: watchdog,
		config:   config,
	}
}

// ComputeRoutingParams schedules a routing-table computation and returns
// immediately.
func (m *Manager) ComputeRoutingParams(paymentType nfc.DefaultPaymentType) bool {
	err := m.handler.Post(eventloop.KindComputeRoutingParams, func() {
		m.HandleComputeRoutingParams(paymentType)
	})
	if err != nil {
		nfc.Debugf("routing: compute not posted: %v", err)
		return false
	}
	m.postedComputes.Add(1)
	return true
}

// CommitRouting schedules a routing commit and returns immediately.
func (m *Manager) CommitRouting() bool {
	err := m.handler.Post(eventloop.KindCommitRouting, m.HandleCommitRouting)
	if err != nil {
		nfc.Debugf("routing: commit not posted: %v", err)
		return false
	}
	m.postedCommits.Add(1)
	return true
}

// HandleComputeRoutingParams runs on the event queue
func (m *Manager) HandleComputeRoutingParams(paymentType nfc.DefaultPaymentType) {
	if !m.nfcActive() {
		return
	}
	err := m.watchdog.Run(context.Background(), "ComputeRoutingParams", m.config.ComputeTimeout,
		func(ctx context.Context) error {
			return m.ce.ComputeRoutingParams(ctx, paymentType)
		})
	m.computes.Add(1)
	if err != nil {
		m.failures.Add(1)
		nfc.Debugf("routing: compute params (payment %s) failed: %v", paymentType, err)
	}
}

// HandleCommitRouting runs on the event queue
func (m *Manager) HandleCommitRouting() {
	if !m.nfcActive() {
		return
	}
	err := m.watchdog.Run(context.Background(), "CommitRouting", m.config.CommitTimeout, m.ce.CommitRouting)
	m.commits.Add(1)
	if err != nil {
		m.failures.Add(1)
		nfc.Debugf("routing: commit failed: %v", err)
	}
}

// nfcActive rejects work that was posted before a fast turn-off
func (m *Manager) nfcActive() bool {
	state := m.state.GetNfcState()
	if state == nfc.StateOff || state == nfc.StateTurningOff {
		m.skipped.Add(1)
		nfc.Debugf("routing: skipping command, NFC state %s", state)
		return false
	}
	return true
}

// Metrics returns command counters
func (m *Manager) Metrics() Metrics {
	return Metrics{
		Computes:       m.computes.Load(),
		Commits:        m.commits.Load(),
		Failures:       m.failures.Load(),
		SkippedNfcOff:  m.skipped.Load(),
		PostedComputes: m.postedComputes.Load(),
		PostedCommits:  m.postedCommits.Load(),
	}
}
