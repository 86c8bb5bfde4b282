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
	"context"

	nfc "github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/appdata"
	"github.com/ZaparooProject/go-nfc/internal/eventloop"
)

// PackageAction is what happened to an installed bundle
type PackageAction int

const (
	PackageAdded PackageAction = iota
	PackageChanged
	PackageRemoved
)

func (a PackageAction) String() string {
	switch a {
	case PackageAdded:
		return "added"
	case PackageChanged:
		return "changed"
	case PackageRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// PackageEvent reports an install, update or removal. Apps holds the
// bundle's NFC declarations and is ignored for removals.
type PackageEvent struct {
	Bundle string
	Apps   []appdata.AppInfo
	Action PackageAction
}

// OnTagDiscovered implements nfc.TagListener
func (s *Service) OnTagDiscovered(rfDiscID int) {
	s.post(eventloop.KindTagFound, func() {
		if state := s.GetNfcState(); state != nfc.StateOn {
			nfc.Debugf("service: tag %d ignored, NFC state %s", rfDiscID, state)
			return
		}
		s.tagsFound.Add(1)
		route := s.tags.HandleTagFound(rfDiscID)
		nfc.Debugf("service: tag %d dispatched via %s", rfDiscID, route)
	})
}

// OnTagLost implements nfc.TagListener
func (s *Service) OnTagLost(rfDiscID int) {
	s.post(eventloop.KindTagLost, func() {
		s.tags.HandleTagLost(rfDiscID)
	})
}

// FieldActivated implements nfc.CeHostListener. A field-off still waiting
// out FieldOffDelay is cancelled, so a short dropout is never reported.
func (s *Service) FieldActivated() {
	s.eventHandler.RemoveEvent(eventloop.KindFieldOffTimeout)
	s.post(eventloop.KindFieldActivated, func() {
		s.setFieldOn(true)
	})
}

// FieldDeactivated implements nfc.CeHostListener
func (s *Service) FieldDeactivated() {
	err := s.eventHandler.PostDelayed(eventloop.KindFieldOffTimeout, s.config.FieldOffDelay, func() {
		s.setFieldOn(false)
	})
	if err != nil {
		nfc.Debugf("service: field-off dropped: %v", err)
	}
}

func (s *Service) setFieldOn(on bool) {
	s.mu.Lock()
	changed := s.fieldOn != on
	s.fieldOn = on
	s.mu.Unlock()
	if changed {
		nfc.Debugf("service: external field %t", on)
		s.callbacks.publishField(on)
	}
}

// IsFieldOn reports whether an external reader field is present
func (s *Service) IsFieldOn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fieldOn
}

// OnCardEmulationData implements nfc.CeHostListener
func (s *Service) OnCardEmulationData(data []byte) {
	s.post(eventloop.KindCeData, func() {
		s.ce.HandleDataApdu(data)
	})
}

// OnCardEmulationActivated implements nfc.CeHostListener
func (s *Service) OnCardEmulationActivated() {
	s.post(eventloop.KindCeActivated, func() {
		nfc.Debugln("service: card emulation activated")
	})
}

// OnCardEmulationDeactivated implements nfc.CeHostListener
func (s *Service) OnCardEmulationDeactivated() {
	s.post(eventloop.KindCeDeactivated, s.ce.HandleCardEmulationDeactivated)
}

// HandleScreenChanged reports a new display state
func (s *Service) HandleScreenChanged(screen nfc.ScreenState) {
	s.post(eventloop.KindScreenChanged, func() {
		if s.GetNfcState() == nfc.StateOn {
			s.pushScreenState(screen)
		}
		if err := s.polling.HandleScreenChanged(screen); err != nil {
			nfc.Debugf("service: polling update for screen %s failed: %v", screen, err)
		}
	})
}

// HandlePackageEvent updates the app registry and reconciles routing when
// the bundle's NFC declarations changed.
func (s *Service) HandlePackageEvent(event PackageEvent) {
	s.post(eventloop.KindPackageUpdated, func() {
		var changed bool
		if event.Action == PackageRemoved {
			changed = s.apps.RemoveApp(event.Bundle)
		} else {
			changed = s.apps.UpdateAidList(event.Bundle, event.Apps)
		}
		nfc.Debugf("service: package %s %s, declarations changed=%t", event.Bundle, event.Action, changed)
		if changed {
			s.ce.OnAppAddOrChangeOrRemove()
		}
	})
}

// HandleAppStateChanged reports an app moving to or from the foreground
func (s *Service) HandleAppStateChanged(element nfc.ElementName, foreground bool) {
	s.post(eventloop.KindAppStateChanged, func() {
		s.polling.HandleAppStateChanged(element, foreground)
		s.ce.HandleAppStateChanged(element, foreground)
	})
}

// OnDefaultPaymentServiceChange reports a new user-selected payment app
func (s *Service) OnDefaultPaymentServiceChange(element nfc.ElementName) {
	s.post(eventloop.KindDefaultPaymentChanged, func() {
		s.ce.OnDefaultPaymentServiceChange(element)
	})
}

// HandleShutdown tells the controller the device is powering off
func (s *Service) HandleShutdown() {
	s.post(eventloop.KindShutdown, func() {
		if s.GetNfcState() != nfc.StateOn {
			return
		}
		err := s.watchdog.Run(context.Background(), "Shutdown", s.config.ShutdownTimeout, s.nfcc.Shutdown)
		if err != nil {
			nfc.Debugf("service: controller shutdown failed: %v", err)
		}
	})
}

// FactoryReset clears the controller's persistent configuration. It runs
// on the switch queue so it never overlaps a turn-on or turn-off.
func (s *Service) FactoryReset() error {
	return s.switchHandler.Post(eventloop.KindFactoryReset, func() {
		err := s.watchdog.Run(context.Background(), "FactoryReset", s.config.DeinitTimeout, s.nfcc.FactoryReset)
		if err != nil {
			nfc.Debugf("service: factory reset failed: %v", err)
		}
	})
}
