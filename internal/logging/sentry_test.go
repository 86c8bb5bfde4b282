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

package logging

import (
	"errors"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
)

func TestInitSentry_Disabled(t *testing.T) {
	t.Setenv("NFCD_SENTRY", "")
	t.Setenv("NFCD_SENTRY_DSN", "")

	assert.False(t, InitSentry(Options{DSN: "https://key@example.invalid/1"}))
	assert.False(t, SentryEnabled())
}

func TestInitSentry_EnvOverridesOption(t *testing.T) {
	t.Setenv("NFCD_SENTRY", "0")
	t.Setenv("NFCD_SENTRY_DSN", "")

	assert.False(t, InitSentry(Options{Enabled: true, DSN: "https://key@example.invalid/1"}))
	assert.False(t, SentryEnabled())
}

func TestInitSentry_EnabledWithoutDSN(t *testing.T) {
	t.Setenv("NFCD_SENTRY", "1")
	t.Setenv("NFCD_SENTRY_DSN", "")

	assert.False(t, InitSentry(Options{Release: "test"}))
	assert.False(t, SentryEnabled())
}

func TestCapture_NoopWhenDisabled(t *testing.T) {
	assert.NotPanics(t, func() {
		CapturePanic("boom", []byte("stack"), "test")
		CapturePanic(errors.New("boom"), nil, "test")
		CaptureError(errors.New("controller timeout"), "test", map[string]any{"op": "Initialize"})
		CaptureError(nil, "test", nil)
		CaptureMessage("watchdog expired", sentry.LevelWarning, nil)
		FlushSentry(0)
	})
}
