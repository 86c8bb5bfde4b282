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
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ansel1/merry/v2"
)

type watchdogKey string

// WatchdogBudgetKey carries the expired budget on watchdog errors, see merry.Value.
const WatchdogBudgetKey watchdogKey = "watchdog_budget"

// Watchdog bounds synchronous controller commands. A command that outlives its
// budget is abandoned: the controller is aborted and the caller gets
// ErrWatchdogTimeout while the stuck call keeps running in the background.
type Watchdog struct {
	// Abort is invoked when a command expires, usually NfccInterface.Abort
	Abort func()
	// OnExpired is notified with the command name after Abort ran
	OnExpired func(name string, budget time.Duration)
	expired   atomic.Int64
}

// NewWatchdog creates a watchdog that aborts nfcc on expiry.
// nfcc may be nil in which case expiry only reports.
func NewWatchdog(nfcc NfccInterface) *Watchdog {
	wd := &Watchdog{}
	if nfcc != nil {
		wd.Abort = nfcc.Abort
	}
	return wd
}

// Run executes fn with the given budget. fn receives a context that is
// cancelled at expiry; implementations may honour it but are not required to.
func (w *Watchdog) Run(ctx context.Context, name string, budget time.Duration, fn func(ctx context.Context) error) error {
	cmdCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%s panicked: %v", name, r)
			}
		}()
		done <- fn(cmdCtx)
	}()

	timer := time.NewTimer(budget)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}

	w.expired.Add(1)
	Debugf("watchdog: %s exceeded %v, aborting controller", name, budget)
	if w.Abort != nil {
		w.Abort()
	}
	if w.OnExpired != nil {
		w.OnExpired(name, budget)
	}
	return merry.Wrap(NewHardwareError(name, ErrWatchdogTimeout, ErrorTypeTransient),
		merry.WithValue(WatchdogBudgetKey, budget))
}

// Expired returns how many commands exceeded their budget
func (w *Watchdog) Expired() int64 {
	return w.expired.Load()
}
