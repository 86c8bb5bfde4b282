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

// Package polling decides the RF discovery configuration and owns the
// foreground-dispatch and reader-mode registrations of applications.
package polling

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"

	nfc "github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/internal/syncutil"
)

// Metrics counts discovery reconfigurations
type Metrics struct {
	Applied  int64
	Skipped  int64
	Failures int64
}

// Manager is the polling manager.
type Manager struct {
	nfcc       nfc.NfccInterface
	state      nfc.StateProvider
	foreground nfc.ForegroundAppProvider
	watchdog   *nfc.Watchdog
	config     *Config

	fgData      RegistryData
	readerData  RegistryData
	currParams  Params
	screen      nfc.ScreenState
	paramsValid bool

	applied  atomic.Int64
	skipped  atomic.Int64
	failures atomic.Int64

	mu     syncutil.Mutex
	loopMu syncutil.Mutex
}

// NewManager creates a polling manager. foreground may be nil, in which case
// registrations are never re-validated against the top ability.
func NewManager(
	nfcc nfc.NfccInterface,
	state nfc.StateProvider,
	foreground nfc.ForegroundAppProvider,
	watchdog *nfc.Watchdog,
	config *Config,
) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	if watchdog == nil {
		watchdog = nfc.NewWatchdog(nfcc)
	}
	return &Manager{
		nfcc:       nfcc,
		state:      state,
		foreground: foreground,
		watchdog:   watchdog,
		config:     config,
	}
}

// GetPollingParameters computes discovery parameters for screen
func (m *Manager) GetPollingParameters(screen nfc.ScreenState) Params {
	m.mu.Lock()
	reader := m.readerData
	m.mu.Unlock()

	params := Params{EnableHostRouting: m.config.EnableHostRouting}
	if reader.IsEnabled {
		params.TechMask = reader.TechMask
		params.EnableReaderMode = true
		return params
	}
	if screen != nfc.ScreenStateUnknown && screen < m.config.PollingScreenState {
		return params
	}
	params.TechMask = m.config.DefaultTechMask
	return params
}

// StartPollingLoop applies the current discovery parameters. Unchanged
// parameters are not re-sent unless force is set. The stored parameters
// only change when the controller accepted the new ones.
func (m *Manager) StartPollingLoop(force bool) error {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()

	m.mu.Lock()
	screen := m.screen
	curr, valid := m.currParams, m.paramsValid
	m.mu.Unlock()

	params := m.GetPollingParameters(screen)
	if valid && params == curr && !force {
		m.skipped.Add(1)
		nfc.Debugf("polling: parameters unchanged (%s)", params)
		return nil
	}

	var err error
	if params.ShouldEnablePolling() {
		restart := force || (valid && curr.ShouldEnablePolling())
		err = m.watchdog.Run(context.Background(), "EnableDiscovery", m.config.DiscoveryTimeout,
			func(ctx context.Context) error {
				return m.nfcc.EnableDiscovery(ctx, params.TechMask, params.EnableReaderMode,
					params.EnableHostRouting, restart)
			})
	} else {
		err = m.watchdog.Run(context.Background(), "DisableDiscovery", m.config.DiscoveryTimeout,
			m.nfcc.DisableDiscovery)
	}
	if err != nil {
		m.failures.Add(1)
		nfc.Debugf("polling: applying %s failed: %v", params, err)
		return err
	}

	m.applied.Add(1)
	nfc.Debugf("polling: applied %s", params)
	m.mu.Lock()
	m.currParams = params
	m.paramsValid = true
	m.mu.Unlock()
	return nil
}

// ResetCurrPollingParams forgets the applied parameters so the next loop
// start always reaches the controller.
func (m *Manager) ResetCurrPollingParams() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currParams = Params{}
	m.paramsValid = false
}

// CurrentParams returns the last applied parameters
func (m *Manager) CurrentParams() (Params, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currParams, m.paramsValid
}

// HandleScreenChanged records the new screen state and re-applies polling
func (m *Manager) HandleScreenChanged(screen nfc.ScreenState) error {
	m.mu.Lock()
	m.screen = screen
	m.mu.Unlock()
	if m.state.GetNfcState() != nfc.StateOn {
		return nil
	}
	return m.StartPollingLoop(false)
}

// Screen returns the last known screen state
func (m *Manager) Screen() nfc.ScreenState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.screen
}

// SetScreen records the screen state without touching discovery
func (m *Manager) SetScreen(screen nfc.ScreenState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.screen = screen
}

func (m *Manager) checkRegistration(element nfc.ElementName, callback nfc.TagCallback) error {
	if element.IsEmpty() || callback == nil {
		return nfc.ErrInvalidParameter
	}
	if m.state.GetNfcState() != nfc.StateOn {
		return nfc.ErrNfcDisabled
	}
	return nil
}

// register stores a registration. A re-registration by the same app keeps
// its caller token.
func register(data *RegistryData, element nfc.ElementName, techs []nfc.TechType,
	callback nfc.TagCallback, vendor bool,
) string {
	token := data.CallerToken
	if !data.Owns(element) || token == "" {
		token = uuid.NewString()
	}
	*data = RegistryData{
		Callback:    callback,
		Element:     element,
		CallerToken: token,
		TechMask:    nfc.TechMaskFromTechList(techs),
		IsEnabled:   true,
		IsVendorApp: vendor,
	}
	return token
}

// EnableForegroundDispatch routes discovered tags to element while it is
// the top ability. An empty tech list succeeds without registering.
// Returns the caller token of the registration.
func (m *Manager) EnableForegroundDispatch(
	element nfc.ElementName,
	techs []nfc.TechType,
	callback nfc.TagCallback,
	vendor bool,
) (string, error) {
	if err := m.checkRegistration(element, callback); err != nil {
		return "", err
	}
	if len(techs) == 0 {
		return "", nil
	}

	m.mu.Lock()
	token := register(&m.fgData, element, techs, callback, vendor)
	m.mu.Unlock()
	nfc.Debugf("polling: foreground dispatch enabled for %s", element)
	return token, nil
}

// DisableForegroundDispatch removes element's foreground registration
func (m *Manager) DisableForegroundDispatch(element nfc.ElementName) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.fgData.Owns(element) {
		return nfc.ErrNotRegistered
	}
	m.fgData.reset()
	nfc.Debugf("polling: foreground dispatch disabled for %s", element)
	return nil
}

// EnableReaderMode gives element exclusive tag access for techs and narrows
// discovery to them. An empty tech list succeeds without registering.
func (m *Manager) EnableReaderMode(
	element nfc.ElementName,
	techs []nfc.TechType,
	callback nfc.TagCallback,
	vendor bool,
) (string, error) {
	if err := m.checkRegistration(element, callback); err != nil {
		return "", err
	}
	if len(techs) == 0 {
		return "", nil
	}

	m.mu.Lock()
	token := register(&m.readerData, element, techs, callback, vendor)
	m.mu.Unlock()
	nfc.Debugf("polling: reader mode enabled for %s", element)
	return token, m.StartPollingLoop(false)
}

// DisableReaderMode removes element's reader-mode registration and restores
// default discovery.
func (m *Manager) DisableReaderMode(element nfc.ElementName) error {
	m.mu.Lock()
	if !m.readerData.Owns(element) {
		m.mu.Unlock()
		return nfc.ErrNotRegistered
	}
	m.readerData.reset()
	m.mu.Unlock()
	nfc.Debugf("polling: reader mode disabled for %s", element)

	if m.state.GetNfcState() != nfc.StateOn {
		return nil
	}
	return m.StartPollingLoop(false)
}

// HandleAppStateChanged drops the registrations of an app that left the
// foreground. Vendor registrations are kept.
func (m *Manager) HandleAppStateChanged(element nfc.ElementName, foreground bool) {
	if foreground {
		return
	}
	m.mu.Lock()
	if m.fgData.Owns(element) && !m.fgData.IsVendorApp {
		m.fgData.reset()
	}
	readerDropped := m.readerData.Owns(element) && !m.readerData.IsVendorApp
	if readerDropped {
		m.readerData.reset()
	}
	m.mu.Unlock()

	if readerDropped && m.state.GetNfcState() == nfc.StateOn {
		if err := m.StartPollingLoop(false); err != nil {
			nfc.Debugf("polling: restoring discovery after %s left failed: %v", element, err)
		}
	}
}

// valid re-checks that a registration still belongs to the top ability
func (m *Manager) valid(data RegistryData) bool {
	if !data.IsEnabled {
		return false
	}
	if data.IsVendorApp || m.foreground == nil {
		return true
	}
	return m.foreground.GetTopAbility().SameApp(data.Element)
}

// IsForegroundEnabled reports whether a live foreground registration exists
func (m *Manager) IsForegroundEnabled() bool {
	m.mu.Lock()
	data := m.fgData
	m.mu.Unlock()
	return m.valid(data)
}

// IsReaderModeEnabled reports whether a live reader-mode registration exists
func (m *Manager) IsReaderModeEnabled() bool {
	m.mu.Lock()
	data := m.readerData
	m.mu.Unlock()
	return m.valid(data)
}

// GetForegroundData returns a copy of the foreground registration
func (m *Manager) GetForegroundData() RegistryData {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fgData
}

// GetReaderModeData returns a copy of the reader-mode registration
func (m *Manager) GetReaderModeData() RegistryData {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readerData
}

// SendTagToForeground delivers tag to the foreground registration
func (m *Manager) SendTagToForeground(tag *nfc.TagInfo) bool {
	m.mu.Lock()
	callback := m.fgData.Callback
	m.mu.Unlock()
	if callback == nil {
		return false
	}
	if err := safeCallCallback(callback, tag, "foreground dispatch"); err != nil {
		nfc.Debugf("polling: %v", err)
		return false
	}
	return true
}

// SendTagToReaderApp delivers tag to the reader-mode registration
func (m *Manager) SendTagToReaderApp(tag *nfc.TagInfo) bool {
	m.mu.Lock()
	callback := m.readerData.Callback
	m.mu.Unlock()
	if callback == nil {
		return false
	}
	if err := safeCallCallback(callback, tag, "reader mode"); err != nil {
		nfc.Debugf("polling: %v", err)
		return false
	}
	return true
}

// Metrics returns discovery counters
func (m *Manager) Metrics() Metrics {
	return Metrics{
		Applied:  m.applied.Load(),
		Skipped:  m.skipped.Load(),
		Failures: m.failures.Load(),
	}
}
