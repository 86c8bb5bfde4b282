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

// Package service is the NFC service orchestrator. It owns the on/off state
// machine, the two event queues and every component, and turns hardware
// callbacks into queued events.
package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	nfc "github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/appdata"
	"github.com/ZaparooProject/go-nfc/cardemulation"
	"github.com/ZaparooProject/go-nfc/internal/eventloop"
	"github.com/ZaparooProject/go-nfc/internal/logging"
	"github.com/ZaparooProject/go-nfc/internal/syncutil"
	"github.com/ZaparooProject/go-nfc/polling"
	"github.com/ZaparooProject/go-nfc/routing"
	"github.com/ZaparooProject/go-nfc/tagdispatch"
)

// Deps are the external collaborators of the service
type Deps struct {
	Nfcc       nfc.NfccInterface
	Tags       nfc.TagInterface
	Ce         nfc.CeInterface
	Prefs      nfc.Preferences
	Foreground nfc.ForegroundAppProvider
	Starter    nfc.AbilityStarter
	Notifier   cardemulation.Notifier
	// Apps is the installed-app registry; a fresh one is created when nil
	Apps *appdata.Registry
}

// Metrics counts service-level events
type Metrics struct {
	TurnOnFailures   int64
	TurnOffFailures  int64
	WatchdogExpiries int64
	TagsFound        int64
	PanicsRecovered  int64
}

// Service is the NFC service.
//
// State changes happen on the switch queue, everything else on the event
// queue. mu guards state, nciVersion and fieldOn only.
type Service struct {
	nfcc          nfc.NfccInterface
	prefs         nfc.Preferences
	eventHandler  *eventloop.Handler
	switchHandler *eventloop.Handler
	watchdog      *nfc.Watchdog
	apps          *appdata.Registry
	ce            *cardemulation.Service
	routing       *routing.Manager
	polling       *polling.Manager
	tags          *tagdispatch.Dispatcher
	config        *Config
	callbacks     *callbackRegistry

	turnOnFailures   atomic.Int64
	turnOffFailures  atomic.Int64
	watchdogExpiries atomic.Int64
	tagsFound        atomic.Int64
	panics           atomic.Int64

	state       nfc.State
	nciVersion  int
	mu          syncutil.RWMutex
	fieldOn     bool
	initialized atomic.Bool
	closed      atomic.Bool
}

// New wires the service and its components. Nothing touches the controller
// until Initialize.
func New(deps Deps, config *Config) (*Service, error) {
	if deps.Nfcc == nil || deps.Tags == nil || deps.Ce == nil {
		return nil, fmt.Errorf("%w: controller interfaces are required", nfc.ErrInvalidParameter)
	}
	if deps.Prefs == nil || deps.Foreground == nil || deps.Starter == nil {
		return nil, fmt.Errorf("%w: preferences, foreground and starter are required", nfc.ErrInvalidParameter)
	}
	if config == nil {
		config = DefaultConfig()
	}
	config = config.withDefaults()
	if deps.Apps == nil {
		deps.Apps = appdata.NewRegistry()
	}

	s := &Service{
		nfcc:          deps.Nfcc,
		prefs:         deps.Prefs,
		apps:          deps.Apps,
		config:        config,
		eventHandler:  eventloop.New("nfc-event"),
		switchHandler: eventloop.New("nfc-switch"),
		callbacks:     newCallbackRegistry(),
		state:         nfc.StateOff,
	}
	s.eventHandler.OnPanic = s.onEventPanic
	s.switchHandler.OnPanic = s.onEventPanic

	s.watchdog = nfc.NewWatchdog(deps.Nfcc)
	s.watchdog.OnExpired = s.onWatchdogExpired

	s.routing = routing.NewManager(s.eventHandler, deps.Ce, s, s.watchdog, config.Routing)
	s.polling = polling.NewManager(deps.Nfcc, s, deps.Foreground, s.watchdog, config.Polling)
	s.ce = cardemulation.NewService(cardemulation.Deps{
		Ce:       deps.Ce,
		Apps:     deps.Apps,
		Routing:  s.routing,
		State:    s,
		Prefs:    deps.Prefs,
		Notifier: deps.Notifier,
		Watchdog: s.watchdog,
	}, config.CardEmulation)
	s.tags = tagdispatch.NewDispatcher(tagdispatch.Deps{
		Tags:     deps.Tags,
		Polling:  s.polling,
		Apps:     deps.Apps,
		Starter:  deps.Starter,
		State:    s,
		Watchdog: s.watchdog,
	}, config.TagDispatch)
	return s, nil
}

// Initialize starts the event queues, registers for controller callbacks
// and restores the persisted NFC state. Calling it again is a no-op.
func (s *Service) Initialize() error {
	if s.closed.Load() {
		return eventloop.ErrStopped
	}
	if !s.initialized.CompareAndSwap(false, true) {
		return nil
	}
	s.eventHandler.Start()
	s.switchHandler.Start()
	s.nfcc.SetTagListener(s)
	s.nfcc.SetCeHostListener(s)

	if s.prefs.GetNfcState() == nfc.StateOn {
		nfc.Debugln("service: NFC was on before restart, turning on")
		return s.TurnOn()
	}
	return nil
}

// Close stops both queues. Work still queued is discarded; the controller
// is left as is.
func (s *Service) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.nfcc.SetTagListener(nil)
	s.nfcc.SetCeHostListener(nil)
	s.switchHandler.Stop()
	s.eventHandler.Stop()
}

// GetNfcState returns the current NFC state
func (s *Service) GetNfcState() nfc.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsNfcOpen reports whether NFC is fully on
func (s *Service) IsNfcOpen() bool {
	return s.GetNfcState() == nfc.StateOn
}

// GetNciVersion returns the NCI version reported by the last successful turn-on
func (s *Service) GetNciVersion() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nciVersion
}

// TurnOn requests NFC on. The state moves to TURNING_ON before the call
// returns; the controller work runs on the switch queue.
func (s *Service) TurnOn() error {
	return s.requestTransition(nfc.StateOn)
}

// TurnOff requests NFC off
func (s *Service) TurnOff() error {
	return s.requestTransition(nfc.StateOff)
}

func (s *Service) requestTransition(target nfc.State) error {
	interim, kind, work := nfc.StateTurningOn, eventloop.KindTurnOn, s.doTurnOn
	if target == nfc.StateOff {
		interim, kind, work = nfc.StateTurningOff, eventloop.KindTurnOff, s.doTurnOff
	}

	s.mu.Lock()
	current := s.state
	switch {
	case current == target:
		s.mu.Unlock()
		nfc.Debugf("service: already %s", target)
		s.callbacks.publishState(target)
		return nil
	case current.IsTransitioning():
		s.mu.Unlock()
		nfc.Debugf("service: %s rejected, state %s", target, current)
		return nfc.ErrBusy
	}
	s.state = interim
	s.mu.Unlock()
	s.callbacks.publishState(interim)

	if err := s.switchHandler.Post(kind, work); err != nil {
		s.setState(current)
		return fmt.Errorf("scheduling %s: %w", target, err)
	}
	return nil
}

// RestartNfc turns NFC off and back on
func (s *Service) RestartNfc() error {
	if s.GetNfcState() != nfc.StateOn {
		return nfc.ErrNfcDisabled
	}
	if err := s.TurnOff(); err != nil {
		return err
	}
	return s.switchHandler.Post(eventloop.KindTurnOn, func() {
		if !s.beginTransition(nfc.StateOff, nfc.StateTurningOn) {
			nfc.Debugf("service: restart skipped, state %s", s.GetNfcState())
			return
		}
		s.doTurnOn()
	})
}

func (s *Service) beginTransition(from, to nfc.State) bool {
	s.mu.Lock()
	if s.state != from {
		s.mu.Unlock()
		return false
	}
	s.state = to
	s.mu.Unlock()
	s.callbacks.publishState(to)
	return true
}

// setState settles the state machine, persists the result and notifies
// status callbacks.
func (s *Service) setState(state nfc.State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	if !state.IsTransitioning() {
		if err := s.prefs.SetNfcState(state); err != nil {
			nfc.Debugf("service: persisting state %s failed: %v", state, err)
			logging.CaptureError(err, "service.persist_state", map[string]any{"state": state.String()})
		}
	}
	nfc.Debugf("service: NFC state %s", state)
	s.callbacks.publishState(state)
}

func (s *Service) doTurnOn() {
	ctx := context.Background()
	start := time.Now()

	err := s.watchdog.Run(ctx, "Initialize", s.config.InitTimeout, s.nfcc.Initialize)
	if err != nil {
		s.turnOnFailures.Add(1)
		nfc.Debugf("service: controller initialization failed after %v: %v", time.Since(start), err)
		logging.CaptureError(err, "service.turn_on", map[string]any{
			"elapsed":   time.Since(start).String(),
			"retryable": nfc.IsRetryable(err),
		})
		s.setState(nfc.StateOff)
		return
	}

	var reported, version int
	err = s.watchdog.Run(ctx, "GetNciVersion", s.config.QueryTimeout, func(context.Context) error {
		reported = s.nfcc.GetNciVersion()
		return nil
	})
	if err != nil {
		nfc.Debugf("service: NCI version query failed: %v", err)
	} else {
		version = reported
	}
	s.mu.Lock()
	s.nciVersion = version
	s.mu.Unlock()

	pushedScreen := s.polling.Screen()
	s.pushScreenState(pushedScreen)
	if err := s.polling.StartPollingLoop(true); err != nil {
		nfc.Debugf("service: starting discovery failed: %v", err)
	}

	s.ce.Initialize()
	s.ce.InitConfigAidRouting(true)
	s.ce.UpdateDefaultPaymentType()
	s.routing.ComputeRoutingParams(s.ce.GetDefaultPaymentType())
	s.routing.CommitRouting()

	s.setState(nfc.StateOn)
	nfc.Debugf("service: NFC on in %v, NCI 0x%02x", time.Since(start), version)

	// picks up app changes that arrived while the controller was coming up
	s.ce.ConfigRoutingAndCommit()

	// screen events seen during TURNING_ON were only recorded; queued behind
	// them so the last recorded screen wins
	s.post(eventloop.KindScreenChanged, func() {
		if screen := s.polling.Screen(); screen != pushedScreen && s.GetNfcState() == nfc.StateOn {
			s.pushScreenState(screen)
			if err := s.polling.StartPollingLoop(false); err != nil {
				nfc.Debugf("service: polling update for screen %s failed: %v", screen, err)
			}
		}
	})
}

func (s *Service) doTurnOff() {
	s.tags.Clear()
	s.eventHandler.RemoveEvent(eventloop.KindFieldOffTimeout)

	err := s.watchdog.Run(context.Background(), "Deinitialize", s.config.DeinitTimeout, s.nfcc.Deinitialize)
	if err != nil {
		s.turnOffFailures.Add(1)
		nfc.Debugf("service: controller deinitialization failed: %v", err)
		logging.CaptureError(err, "service.turn_off", nil)
	}

	s.polling.ResetCurrPollingParams()
	s.ce.Deinitialize()

	s.mu.Lock()
	wasFieldOn := s.fieldOn
	s.fieldOn = false
	s.mu.Unlock()
	if wasFieldOn {
		s.callbacks.publishField(false)
	}
	s.setState(nfc.StateOff)
}

func (s *Service) pushScreenState(screen nfc.ScreenState) {
	err := s.watchdog.Run(context.Background(), "SetScreenStatus", s.config.ScreenTimeout,
		func(ctx context.Context) error {
			return s.nfcc.SetScreenStatus(ctx, screen)
		})
	if err != nil {
		nfc.Debugf("service: screen state %s not applied: %v", screen, err)
	}
}

func (s *Service) onWatchdogExpired(name string, budget time.Duration) {
	s.watchdogExpiries.Add(1)
	logging.CaptureMessage(fmt.Sprintf("watchdog expired: %s", name), sentry.LevelError, map[string]any{
		"command": name,
		"budget":  budget.String(),
		"state":   s.GetNfcState().String(),
	})
}

func (s *Service) onEventPanic(kind eventloop.Kind, value any, stack []byte) {
	s.panics.Add(1)
	logging.CapturePanic(value, stack, fmt.Sprintf("event kind %d", kind))
}

// WaitIdle blocks until both queues have drained, including events queued
// by the events that ran while waiting. Delayed events that have not fired
// are not waited for.
func (s *Service) WaitIdle(ctx context.Context) error {
	for {
		if err := s.switchHandler.Sync(ctx); err != nil {
			return err
		}
		if err := s.eventHandler.Sync(ctx); err != nil {
			return err
		}
		if s.switchHandler.Pending() == 0 && s.eventHandler.Pending() == 0 {
			return nil
		}
	}
}

// CardEmulation returns the card-emulation service
func (s *Service) CardEmulation() *cardemulation.Service {
	return s.ce
}

// Polling returns the polling manager
func (s *Service) Polling() *polling.Manager {
	return s.polling
}

// Tags returns the tag dispatcher, which also serves app tag sessions
func (s *Service) Tags() *tagdispatch.Dispatcher {
	return s.tags
}

// Apps returns the installed-app registry
func (s *Service) Apps() *appdata.Registry {
	return s.apps
}

// Routing returns the routing manager
func (s *Service) Routing() *routing.Manager {
	return s.routing
}

// Metrics returns service counters
func (s *Service) Metrics() Metrics {
	return Metrics{
		TurnOnFailures:   s.turnOnFailures.Load(),
		TurnOffFailures:  s.turnOffFailures.Load(),
		WatchdogExpiries: s.watchdogExpiries.Load(),
		TagsFound:        s.tagsFound.Load(),
		PanicsRecovered:  s.panics.Load(),
	}
}

func (s *Service) post(kind eventloop.Kind, fn func()) {
	if err := s.eventHandler.Post(kind, fn); err != nil {
		nfc.Debugf("service: event %d dropped: %v", kind, err)
	}
}
