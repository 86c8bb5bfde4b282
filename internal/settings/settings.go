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

// Package settings persists NFC service preferences as a JSON file.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	nfc "github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/internal/syncutil"
)

// Settings holds the preferences that survive a restart.
type Settings struct {
	DefaultPaymentApp element `json:"defaultPaymentApp"`
	NfcOn             bool    `json:"nfcOn"`
	CrashReporting    bool    `json:"crashReporting"`
}

type element struct {
	BundleName  string `json:"bundleName,omitempty"`
	AbilityName string `json:"abilityName,omitempty"`
	DeviceID    string `json:"deviceId,omitempty"`
	ModuleName  string `json:"moduleName,omitempty"`
}

// DefaultSettings returns the settings of a fresh install
func DefaultSettings() *Settings {
	return &Settings{
		NfcOn:          false,
		CrashReporting: false,
	}
}

// DefaultPath returns the settings file under the user config directory.
func DefaultPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locating config dir: %w", err)
	}
	return filepath.Join(configDir, "nfcd", "settings.json"), nil
}

// Store is a file-backed nfc.Preferences. An empty path keeps settings in
// memory only.
type Store struct {
	current *Settings
	path    string
	mu      syncutil.RWMutex
}

// Open loads settings from path. A missing file yields defaults.
func Open(path string) (*Store, error) {
	store := &Store{path: path, current: DefaultSettings()}
	if path == "" {
		return store, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from the command line
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return store, nil
		}
		return store, fmt.Errorf("reading settings: %w", err)
	}

	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return store, fmt.Errorf("parsing settings %s: %w", path, err)
	}
	store.current = &s
	return store, nil
}

// NewMemory creates a store that never touches disk
func NewMemory() *Store {
	store, _ := Open("")
	return store
}

// Path returns the backing file, empty for memory stores
func (s *Store) Path() string {
	return s.path
}

// Get returns a copy of the current settings
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.current
}

// update applies fn and writes the file. Must not be called with s.mu held.
func (s *Store) update(fn func(*Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.current)
	return s.save()
}

func (s *Store) save() error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("creating settings dir: %w", err)
	}
	data, err := json.MarshalIndent(s.current, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing settings: %w", err)
	}
	return nil
}

// GetNfcState implements nfc.Preferences
func (s *Store) GetNfcState() nfc.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current.NfcOn {
		return nfc.StateOn
	}
	return nfc.StateOff
}

// SetNfcState implements nfc.Preferences. Only settled states are persisted.
func (s *Store) SetNfcState(state nfc.State) error {
	if state.IsTransitioning() {
		return nfc.ErrInvalidParameter
	}
	return s.update(func(cur *Settings) {
		cur.NfcOn = state == nfc.StateOn
	})
}

// GetDefaultPaymentApp implements nfc.Preferences
func (s *Store) GetDefaultPaymentApp() nfc.ElementName {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e := s.current.DefaultPaymentApp
	return nfc.ElementName{
		BundleName:  e.BundleName,
		AbilityName: e.AbilityName,
		DeviceID:    e.DeviceID,
		ModuleName:  e.ModuleName,
	}
}

// SetDefaultPaymentApp implements nfc.Preferences
func (s *Store) SetDefaultPaymentApp(app nfc.ElementName) error {
	return s.update(func(cur *Settings) {
		cur.DefaultPaymentApp = element{
			BundleName:  app.BundleName,
			AbilityName: app.AbilityName,
			DeviceID:    app.DeviceID,
			ModuleName:  app.ModuleName,
		}
	})
}

// SetCrashReporting updates the crash reporting opt-in
func (s *Store) SetCrashReporting(enabled bool) error {
	return s.update(func(cur *Settings) {
		cur.CrashReporting = enabled
	})
}

// IsCrashReportingEnabled returns whether crash reporting is enabled
func (s *Store) IsCrashReportingEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.CrashReporting
}
