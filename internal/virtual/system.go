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

package virtual

import (
	"slices"
	"sync/atomic"

	nfc "github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/internal/syncutil"
)

// State is a settable nfc.StateProvider
type State struct {
	state atomic.Int32
}

// NewState creates a state provider reporting state
func NewState(state nfc.State) *State {
	s := &State{}
	s.Set(state)
	return s
}

// Set changes the reported state
func (s *State) Set(state nfc.State) {
	s.state.Store(int32(state))
}

// GetNfcState implements nfc.StateProvider
func (s *State) GetNfcState() nfc.State {
	return nfc.State(s.state.Load())
}

// Launch is one recorded application start
type Launch struct {
	Tag        *nfc.TagInfo
	Candidates []nfc.ElementName
	Selector   bool
}

// System simulates the application manager: it reports the top ability,
// records launches and collects AID conflict notifications.
type System struct {
	top       nfc.ElementName
	launches  []Launch
	conflicts map[string][]nfc.ElementName
	startErr  error
	mu        syncutil.Mutex
}

// NewSystem creates an application manager with nothing in the foreground
func NewSystem() *System {
	return &System{conflicts: make(map[string][]nfc.ElementName)}
}

// SetTopAbility changes the foreground ability
func (s *System) SetTopAbility(element nfc.ElementName) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.top = element
}

// FailStarts makes subsequent launches fail with err
func (s *System) FailStarts(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startErr = err
}

// GetTopAbility implements nfc.ForegroundAppProvider
func (s *System) GetTopAbility() nfc.ElementName {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.top
}

// StartAbility implements nfc.AbilityStarter
func (s *System) StartAbility(element nfc.ElementName, tag *nfc.TagInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.launches = append(s.launches, Launch{Candidates: []nfc.ElementName{element}, Tag: tag})
	return nil
}

// StartAbilitySelector implements nfc.AbilityStarter
func (s *System) StartAbilitySelector(candidates []nfc.ElementName, tag *nfc.TagInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.launches = append(s.launches, Launch{Candidates: slices.Clone(candidates), Tag: tag, Selector: true})
	return nil
}

// Launches returns every recorded launch
func (s *System) Launches() []Launch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.launches)
}

// PublishAidConflicted records an AID conflict notification
func (s *System) PublishAidConflicted(aid string, candidates []nfc.ElementName) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts[aid] = slices.Clone(candidates)
}

// Conflicts returns the candidates published for aid
func (s *System) Conflicts(aid string) ([]nfc.ElementName, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conflicts[aid]
	return c, ok
}
