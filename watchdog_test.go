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

package nfc

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ansel1/merry/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchdog_ReturnsResult(t *testing.T) {
	t.Parallel()
	wd := NewWatchdog(nil)

	require.NoError(t, wd.Run(context.Background(), "Initialize", time.Second, func(context.Context) error {
		return nil
	}))

	boom := errors.New("boom")
	assert.ErrorIs(t, wd.Run(context.Background(), "Initialize", time.Second, func(context.Context) error {
		return boom
	}), boom)
	assert.Zero(t, wd.Expired())
}

func TestWatchdog_AbortsOnExpiry(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var aborts atomic.Int32
	var expiredName atomic.Value
	wd := &Watchdog{
		Abort: func() {
			aborts.Add(1)
			close(release)
		},
		OnExpired: func(name string, _ time.Duration) {
			expiredName.Store(name)
		},
	}

	err := wd.Run(context.Background(), "CommitRouting", 20*time.Millisecond, func(context.Context) error {
		<-release
		return nil
	})

	require.ErrorIs(t, err, ErrWatchdogTimeout)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, int32(1), aborts.Load())
	assert.Equal(t, "CommitRouting", expiredName.Load())
	assert.Equal(t, int64(1), wd.Expired())
	assert.Equal(t, 20*time.Millisecond, merry.Value(err, WatchdogBudgetKey))
	assert.NotEmpty(t, merry.Stack(err))
}

func TestWatchdog_RecoversPanic(t *testing.T) {
	t.Parallel()
	wd := NewWatchdog(nil)

	err := wd.Run(context.Background(), "SendRawFrame", time.Second, func(context.Context) error {
		panic("driver bug")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SendRawFrame panicked")
}

func TestWatchdog_ParentCancelled(t *testing.T) {
	t.Parallel()
	wd := NewWatchdog(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := wd.Run(ctx, "Deinitialize", time.Second, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, wd.Expired())
}
