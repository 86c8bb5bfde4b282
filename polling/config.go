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

package polling

import (
	"fmt"
	"time"

	nfc "github.com/ZaparooProject/go-nfc"
)

// Config holds polling configuration options
type Config struct {
	// DefaultTechMask is polled when no reader-mode app narrows it
	DefaultTechMask uint16
	// EnableHostRouting keeps card-emulation listening on while discovering
	EnableHostRouting bool
	// PollingScreenState is the lowest screen state that still polls for tags.
	// Below it only card-emulation listening stays enabled. Reader mode
	// ignores the gate.
	PollingScreenState nfc.ScreenState
	// DiscoveryTimeout bounds EnableDiscovery and DisableDiscovery
	DiscoveryTimeout time.Duration
}

// DefaultConfig returns the default polling configuration
func DefaultConfig() *Config {
	return &Config{
		DefaultTechMask:    nfc.DefaultTechMask,
		EnableHostRouting:  true,
		PollingScreenState: nfc.ScreenStateOnUnlocked,
		DiscoveryTimeout:   10 * time.Second,
	}
}

// Params is the RF discovery configuration pushed to the controller.
type Params struct {
	TechMask          uint16
	EnableReaderMode  bool
	EnableHostRouting bool
}

// ShouldEnablePolling reports whether discovery must run at all
func (p Params) ShouldEnablePolling() bool {
	return p.TechMask != 0 || p.EnableHostRouting
}

func (p Params) String() string {
	return fmt.Sprintf("mask=0x%02x reader=%t host=%t", p.TechMask, p.EnableReaderMode, p.EnableHostRouting)
}
