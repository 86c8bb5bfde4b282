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
	"fmt"
	"runtime/debug"

	"github.com/google/uuid"

	nfc "github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/internal/logging"
	"github.com/ZaparooProject/go-nfc/internal/syncutil"
)

// StatusCallback receives every NFC state change, including the
// intermediate TURNING_ON and TURNING_OFF states.
type StatusCallback func(state nfc.State)

// FieldCallback receives external reader field changes
type FieldCallback func(on bool)

type callbackRegistry struct {
	status map[string]StatusCallback
	field  map[string]FieldCallback
	mu     syncutil.Mutex
}

func newCallbackRegistry() *callbackRegistry {
	return &callbackRegistry{
		status: make(map[string]StatusCallback),
		field:  make(map[string]FieldCallback),
	}
}

// RegisterNfcStatusCallback adds a state listener and returns the token
// that removes it.
func (s *Service) RegisterNfcStatusCallback(callback StatusCallback) (string, error) {
	if callback == nil {
		return "", nfc.ErrInvalidParameter
	}
	token := uuid.New().String()
	s.callbacks.mu.Lock()
	s.callbacks.status[token] = callback
	s.callbacks.mu.Unlock()
	return token, nil
}

// UnregisterNfcStatusCallback removes a state listener
func (s *Service) UnregisterNfcStatusCallback(token string) error {
	s.callbacks.mu.Lock()
	defer s.callbacks.mu.Unlock()
	if _, ok := s.callbacks.status[token]; !ok {
		return nfc.ErrNotRegistered
	}
	delete(s.callbacks.status, token)
	return nil
}

// RegisterFieldCallback adds a field listener and returns its token
func (s *Service) RegisterFieldCallback(callback FieldCallback) (string, error) {
	if callback == nil {
		return "", nfc.ErrInvalidParameter
	}
	token := uuid.New().String()
	s.callbacks.mu.Lock()
	s.callbacks.field[token] = callback
	s.callbacks.mu.Unlock()
	return token, nil
}

// UnregisterFieldCallback removes a field listener
func (s *Service) UnregisterFieldCallback(token string) error {
	s.callbacks.mu.Lock()
	defer s.callbacks.mu.Unlock()
	if _, ok := s.callbacks.field[token]; !ok {
		return nfc.ErrNotRegistered
	}
	delete(s.callbacks.field, token)
	return nil
}

func (r *callbackRegistry) publishState(state nfc.State) {
	r.mu.Lock()
	targets := make([]StatusCallback, 0, len(r.status))
	for _, cb := range r.status {
		targets = append(targets, cb)
	}
	r.mu.Unlock()

	for _, cb := range targets {
		invoke("status callback", func() { cb(state) })
	}
}

func (r *callbackRegistry) publishField(on bool) {
	r.mu.Lock()
	targets := make([]FieldCallback, 0, len(r.field))
	for _, cb := range r.field {
		targets = append(targets, cb)
	}
	r.mu.Unlock()

	for _, cb := range targets {
		invoke("field callback", func() { cb(on) })
	}
}

// invoke runs an application callback; a panicking callback must not take
// down the queue it runs on.
func invoke(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			nfc.Debugf("service: %s panicked: %v", name, r)
			logging.CapturePanic(r, debug.Stack(), fmt.Sprintf("service.%s", name))
		}
	}()
	fn()
}
