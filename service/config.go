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

package service

import (
	"time"

	"github.com/ZaparooProject/go-nfc/cardemulation"
	"github.com/ZaparooProject/go-nfc/polling"
	"github.com/ZaparooProject/go-nfc/routing"
	"github.com/ZaparooProject/go-nfc/tagdispatch"
)

// Config holds the service watchdog budgets and the component configs.
type Config struct {
	Routing       *routing.Config
	Polling       *polling.Config
	CardEmulation *cardemulation.Config
	TagDispatch   *tagdispatch.Config

	// InitTimeout bounds controller initialization, which may include a
	// firmware download
	InitTimeout time.Duration

	// DeinitTimeout bounds controller shutdown when NFC is turned off
	DeinitTimeout time.Duration

	// ScreenTimeout bounds screen state updates
	ScreenTimeout time.Duration

	// ShutdownTimeout bounds the device power-off notification
	ShutdownTimeout time.Duration

	// QueryTimeout bounds controller queries such as the NCI version
	QueryTimeout time.Duration

	// FieldOffDelay holds back field-off notifications so a reader that
	// briefly drops its field is not reported as gone
	FieldOffDelay time.Duration
}

// DefaultConfig returns the default service configuration
func DefaultConfig() *Config {
	return &Config{
		Routing:         routing.DefaultConfig(),
		Polling:         polling.DefaultConfig(),
		CardEmulation:   cardemulation.DefaultConfig(),
		TagDispatch:     tagdispatch.DefaultConfig(),
		InitTimeout:     90 * time.Second,
		DeinitTimeout:   10 * time.Second,
		ScreenTimeout:   1 * time.Second,
		ShutdownTimeout: 3 * time.Second,
		QueryTimeout:    1 * time.Second,
		FieldOffDelay:   300 * time.Millisecond,
	}
}

// withDefaults fills nil sub-configs so callers may override a single one
func (c *Config) withDefaults() *Config {
	out := *c
	def := DefaultConfig()
	if out.Routing == nil {
		out.Routing = def.Routing
	}
	if out.Polling == nil {
		out.Polling = def.Polling
	}
	if out.CardEmulation == nil {
		out.CardEmulation = def.CardEmulation
	}
	if out.TagDispatch == nil {
		out.TagDispatch = def.TagDispatch
	}
	if out.InitTimeout <= 0 {
		out.InitTimeout = def.InitTimeout
	}
	if out.DeinitTimeout <= 0 {
		out.DeinitTimeout = def.DeinitTimeout
	}
	if out.ScreenTimeout <= 0 {
		out.ScreenTimeout = def.ScreenTimeout
	}
	if out.ShutdownTimeout <= 0 {
		out.ShutdownTimeout = def.ShutdownTimeout
	}
	if out.QueryTimeout <= 0 {
		out.QueryTimeout = def.QueryTimeout
	}
	return &out
}
