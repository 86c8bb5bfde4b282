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

package routing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nfc "github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/internal/eventloop"
	"github.com/ZaparooProject/go-nfc/internal/virtual"
)

type routingFixture struct {
	manager *Manager
	handler *eventloop.Handler
	ctrl    *virtual.Controller
	state   *virtual.State
}

func newRoutingFixture(t *testing.T, state nfc.State, config *Config) *routingFixture {
	t.Helper()
	handler := eventloop.New("routing-test")
	handler.Start()
	t.Cleanup(handler.Stop)

	ctrl := virtual.NewController()
	st := virtual.NewState(state)
	return &routingFixture{
		manager: NewManager(handler, ctrl, st, nfc.NewWatchdog(ctrl), config),
		handler: handler,
		ctrl:    ctrl,
		state:   st,
	}
}

func (f *routingFixture) sync(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.handler.Sync(ctx))
}

func TestComputeThenCommit(t *testing.T) {
	t.Parallel()
	f := newRoutingFixture(t, nfc.StateOn, nil)

	assert.True(t, f.manager.ComputeRoutingParams(nfc.PaymentTypeUicc))
	assert.True(t, f.manager.CommitRouting())
	f.sync(t)

	assert.Equal(t, []string{"ComputeRoutingParams", "CommitRouting"}, f.ctrl.CommandNames())
	assert.Equal(t, nfc.PaymentTypeUicc, f.ctrl.RoutingPaymentType())
	assert.Equal(t, Metrics{Computes: 1, Commits: 1, PostedComputes: 1, PostedCommits: 1}, f.manager.Metrics())
}

func TestRoutingAllowedWhileTurningOn(t *testing.T) {
	t.Parallel()
	f := newRoutingFixture(t, nfc.StateTurningOn, nil)

	f.manager.ComputeRoutingParams(nfc.PaymentTypeHce)
	f.manager.CommitRouting()
	f.sync(t)

	assert.Equal(t, 1, f.ctrl.CommandCount("CommitRouting"))
}

func TestRoutingSkippedAfterTurnOff(t *testing.T) {
	t.Parallel()

	for _, state := range []nfc.State{nfc.StateOff, nfc.StateTurningOff} {
		t.Run(state.String(), func(t *testing.T) {
			t.Parallel()
			f := newRoutingFixture(t, state, nil)

			f.manager.ComputeRoutingParams(nfc.PaymentTypeHce)
			f.manager.CommitRouting()
			f.sync(t)

			assert.Empty(t, f.ctrl.CommandNames())
			assert.Equal(t, int64(2), f.manager.Metrics().SkippedNfcOff)
		})
	}
}

func TestRoutingFailureCounted(t *testing.T) {
	t.Parallel()
	f := newRoutingFixture(t, nfc.StateOn, nil)
	f.ctrl.FailCommand("CommitRouting", errors.New("nci status 0x03"))

	f.manager.CommitRouting()
	f.sync(t)

	metrics := f.manager.Metrics()
	assert.Equal(t, int64(1), metrics.Commits)
	assert.Equal(t, int64(1), metrics.Failures)
}

func TestRoutingWatchdogAbortsHungCommit(t *testing.T) {
	t.Parallel()
	f := newRoutingFixture(t, nfc.StateOn, &Config{
		ComputeTimeout: time.Second,
		CommitTimeout:  20 * time.Millisecond,
	})
	f.ctrl.HangCommand("CommitRouting")

	f.manager.CommitRouting()
	f.sync(t)

	assert.Equal(t, 1, f.ctrl.Aborts())
	assert.Equal(t, int64(1), f.manager.Metrics().Failures)
}

func TestPostAfterStop(t *testing.T) {
	t.Parallel()
	f := newRoutingFixture(t, nfc.StateOn, nil)
	f.handler.Stop()

	assert.False(t, f.manager.ComputeRoutingParams(nfc.PaymentTypeHce))
	assert.False(t, f.manager.CommitRouting())
	assert.Zero(t, f.manager.Metrics().PostedCommits)
}
