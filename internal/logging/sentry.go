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

// Package logging reports NFC service failures to Sentry. Reporting is opt-in
// and every function is a no-op until InitSentry succeeds.
package logging

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/ansel1/merry/v2"
	"github.com/getsentry/sentry-go"

	nfc "github.com/ZaparooProject/go-nfc"
)

var sentryEnabled atomic.Bool

// Options configures Sentry reporting
type Options struct {
	DSN         string
	Release     string
	Environment string
	Enabled     bool
}

// InitSentry initializes Sentry reporting.
// NFCD_SENTRY=1/0 overrides opts.Enabled and NFCD_SENTRY_DSN overrides the DSN.
// Returns true if Sentry was initialized.
func InitSentry(opts Options) bool {
	enabled := opts.Enabled
	switch os.Getenv("NFCD_SENTRY") {
	case "1":
		enabled = true
	case "0":
		enabled = false
	}
	if !enabled {
		return false
	}

	dsn := opts.DSN
	if env := os.Getenv("NFCD_SENTRY_DSN"); env != "" {
		dsn = env
	}
	if dsn == "" {
		nfc.Debugf("sentry: enabled without DSN, reporting stays off")
		return false
	}

	environment := opts.Environment
	if environment == "" {
		environment = "production"
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Release:          "nfcd@" + opts.Release,
		Environment:      environment,
		AttachStacktrace: true,
		TracesSampleRate: 0.0,
	})
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Warning: failed to initialize Sentry: %v\n", err)
		return false
	}

	sentryEnabled.Store(true)
	return true
}

// SentryEnabled returns whether Sentry is currently enabled.
func SentryEnabled() bool {
	return sentryEnabled.Load()
}

// FlushSentry flushes buffered events. Call before exit.
func FlushSentry(timeout time.Duration) {
	if sentryEnabled.Load() {
		sentry.Flush(timeout)
	}
}

// CapturePanic reports a recovered panic with its stack.
func CapturePanic(panicValue any, stack []byte, context string) {
	nfc.Debugf("panic in %s: %v", context, panicValue)
	if !sentryEnabled.Load() {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("panic_context", context)
		scope.SetExtra("stack_trace", string(stack))
		scope.SetLevel(sentry.LevelFatal)

		switch v := panicValue.(type) {
		case error:
			sentry.CaptureException(v)
		case string:
			sentry.CaptureMessage(v)
		default:
			sentry.CaptureMessage(fmt.Sprintf("%v", v))
		}
	})
	sentry.Flush(2 * time.Second)
}

// CaptureError reports err with a context tag and extra data.
func CaptureError(err error, context string, data map[string]any) {
	if !sentryEnabled.Load() || err == nil {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("error_context", context)
		for k, v := range data {
			scope.SetExtra(k, v)
		}
		if len(merry.Stack(err)) > 0 {
			scope.SetExtra("details", merry.Details(err))
		}
		sentry.CaptureException(err)
	})
}

// CaptureMessage reports a message at level.
func CaptureMessage(message string, level sentry.Level, data map[string]any) {
	if !sentryEnabled.Load() {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(level)
		for k, v := range data {
			scope.SetExtra(k, v)
		}
		sentry.CaptureMessage(message)
	})
}
