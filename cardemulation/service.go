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

// Package cardemulation keeps the controller AID routing table in step with
// installed HCE applications and dispatches card-emulation APDUs to them.
package cardemulation

import (
	"context"
	"encoding/hex"
	"errors"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	nfc "github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/appdata"
	"github.com/ZaparooProject/go-nfc/internal/logging"
	"github.com/ZaparooProject/go-nfc/internal/syncutil"
)

// Minimum and maximum AID length in bytes (ISO/IEC 7816-5)
const (
	minAidLen = 5
	maxAidLen = 16
)

// statusFileNotFound answers a SELECT that matches no application
var statusFileNotFound = []byte{0x6A, 0x82}

// AppSource answers which HCE applications are installed
type AppSource interface {
	GetHceApps() []appdata.HceAppAidInfo
	IsBundleInstalled(bundle string) bool
	GetApp(element nfc.ElementName) (appdata.AppInfo, bool)
}

// RoutingTrigger schedules routing recomputation and commit
type RoutingTrigger interface {
	ComputeRoutingParams(paymentType nfc.DefaultPaymentType) bool
	CommitRouting() bool
}

// Notifier publishes user-visible card-emulation notifications
type Notifier interface {
	PublishAidConflicted(aid string, candidates []nfc.ElementName)
}

// HceCmdCallback receives APDUs for the session application
type HceCmdCallback func(data []byte)

// Config holds CeService budgets
type Config struct {
	// AidTimeout bounds each AID table command and controller query
	AidTimeout time.Duration
}

// DefaultConfig returns the default card-emulation configuration
func DefaultConfig() *Config {
	return &Config{AidTimeout: 10 * time.Second}
}

// AidAddResult is the outcome of adding one AID to the controller
type AidAddResult struct {
	Err error
	Aid string
}

// ReconcileResult reports one AID table push to hardware
type ReconcileResult struct {
	ClearErr error
	Adds     []AidAddResult
}

// Failed returns the AIDs that could not be added
func (r ReconcileResult) Failed() []string {
	var failed []string
	for _, add := range r.Adds {
		if add.Err != nil {
			failed = append(failed, add.Aid)
		}
	}
	return failed
}

// Succeeded reports whether the clear and every add succeeded
func (r ReconcileResult) Succeeded() bool {
	return r.ClearErr == nil && len(r.Failed()) == 0
}

// Deps are the collaborators of a Service
type Deps struct {
	Ce       nfc.CeInterface
	Apps     AppSource
	Routing  RoutingTrigger
	State    nfc.StateProvider
	Prefs    nfc.Preferences
	Notifier Notifier
	Watchdog *nfc.Watchdog
}

// Service is the card-emulation routing engine.
//
// configRoutingMu guards the selection state (foreground, default payment,
// dynamic AIDs) and the AID cache. Hardware calls run outside it; commitMu
// serializes whole reconciliations instead.
type Service struct {
	ce       nfc.CeInterface
	apps     AppSource
	routing  RoutingTrigger
	state    nfc.StateProvider
	prefs    nfc.Preferences
	notifier Notifier
	watchdog *nfc.Watchdog
	config   *Config

	aidToAidEntry         AidTable
	hceCallbacks          map[string]hceRegistration
	defaultPaymentElement nfc.ElementName
	foregroundElement     nfc.ElementName
	sessionElement        nfc.ElementName
	dynamicAids           []string
	lastResult            ReconcileResult
	defaultPaymentType    nfc.DefaultPaymentType

	configRoutingMu syncutil.Mutex
	commitMu        syncutil.Mutex
	hceMu           syncutil.RWMutex
}

type hceRegistration struct {
	callback HceCmdCallback
	element  nfc.ElementName
}

// NewService creates a card-emulation service
func NewService(deps Deps, config *Config) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	if deps.Watchdog == nil {
		deps.Watchdog = nfc.NewWatchdog(nil)
	}
	if deps.Notifier == nil {
		deps.Notifier = logNotifier{}
	}
	return &Service{
		ce:                 deps.Ce,
		apps:               deps.Apps,
		routing:            deps.Routing,
		state:              deps.State,
		prefs:              deps.Prefs,
		notifier:           deps.Notifier,
		watchdog:           deps.Watchdog,
		config:             config,
		hceCallbacks:       make(map[string]hceRegistration),
		defaultPaymentType: nfc.PaymentTypeEmpty,
	}
}

// Initialize restores the default payment application from preferences
func (s *Service) Initialize() {
	if s.prefs == nil {
		return
	}
	element := s.prefs.GetDefaultPaymentApp()
	s.configRoutingMu.Lock()
	s.defaultPaymentElement = element
	s.configRoutingMu.Unlock()
	nfc.Debugf("ce: initialized, default payment %s", element)
}

// Deinitialize forgets selection state and the AID cache. HCE command
// callbacks survive so apps keep their registration across an NFC toggle.
func (s *Service) Deinitialize() {
	s.configRoutingMu.Lock()
	s.defaultPaymentElement = nfc.ElementName{}
	s.foregroundElement = nfc.ElementName{}
	s.dynamicAids = nil
	s.aidToAidEntry = nil
	s.lastResult = ReconcileResult{}
	s.defaultPaymentType = nfc.PaymentTypeEmpty
	s.configRoutingMu.Unlock()

	s.hceMu.Lock()
	s.sessionElement = nfc.ElementName{}
	s.hceMu.Unlock()
}

// BuildAidEntries builds the AID table for the current selection state
func (s *Service) BuildAidEntries() AidTable {
	hceApps := s.apps.GetHceApps()
	s.configRoutingMu.Lock()
	defer s.configRoutingMu.Unlock()
	return BuildAidEntries(hceApps, s.foregroundElement, s.defaultPaymentElement, s.dynamicAids)
}

// InitConfigAidRouting pushes the AID table to the controller when it differs
// from the last committed one, when the previous push failed, or
// unconditionally when force is set. Failed entries do not stop the push, but
// they leave the cache untouched so the next trigger retries. Returns true when the controller table was rewritten.
func (s *Service) InitConfigAidRouting(force bool) bool {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	table := s.BuildAidEntries()

	s.configRoutingMu.Lock()
	unchanged := table.Equal(s.aidToAidEntry)
	// after a partial push the controller may hold entries the cache never saw
	clean := s.lastResult.Succeeded()
	s.configRoutingMu.Unlock()
	if unchanged && clean && !force {
		nfc.Debugf("ce: AID table unchanged (%d entries)", len(table))
		return false
	}

	result := s.pushAidTable(table)

	s.configRoutingMu.Lock()
	s.lastResult = result
	if result.Succeeded() {
		s.aidToAidEntry = table
	}
	s.configRoutingMu.Unlock()

	if !result.Succeeded() {
		nfc.Debugf("ce: AID table partially applied, clear=%v failed=%v", result.ClearErr, result.Failed())
	}
	return true
}

func (s *Service) pushAidTable(table AidTable) ReconcileResult {
	var result ReconcileResult
	result.ClearErr = s.watchdog.Run(context.Background(), "ClearAidTable", s.config.AidTimeout, s.ce.ClearAidTable)
	if result.ClearErr != nil {
		nfc.Debugf("ce: clear AID table failed: %v", result.ClearErr)
	}

	for _, aid := range table.SortedAids() {
		entry := table[aid]
		err := s.watchdog.Run(context.Background(), "AddAidRouting", s.config.AidTimeout,
			func(ctx context.Context) error {
				return s.ce.AddAidRouting(ctx, entry.Aid, entry.Route, entry.AidInfo, entry.Power)
			})
		if err != nil {
			nfc.Debugf("ce: add AID %s failed: %v", aid, err)
			if errors.Is(err, nfc.ErrAidTableFull) {
				logging.CaptureError(err, "ce.aid_table_full", map[string]any{
					"aid":     aid,
					"entries": len(table),
				})
			}
		}
		result.Adds = append(result.Adds, AidAddResult{Aid: aid, Err: err})
	}
	return result
}

// ConfigRoutingAndCommit reconciles AID and payment routing and schedules a
// routing commit when either changed. Does nothing unless NFC is on.
func (s *Service) ConfigRoutingAndCommit() bool {
	if state := s.state.GetNfcState(); state != nfc.StateOn {
		nfc.Debugf("ce: routing not configured, NFC state %s", state)
		return false
	}

	aidChanged := s.InitConfigAidRouting(false)
	paymentChanged := s.UpdateDefaultPaymentType()
	if !aidChanged && !paymentChanged {
		return false
	}

	s.routing.ComputeRoutingParams(s.GetDefaultPaymentType())
	s.routing.CommitRouting()
	return true
}

// UpdateDefaultPaymentType recomputes where the default payment application
// lives. Returns whether the type changed.
func (s *Service) UpdateDefaultPaymentType() bool {
	s.configRoutingMu.Lock()
	element := s.defaultPaymentElement
	s.configRoutingMu.Unlock()

	paymentType := s.paymentTypeOf(element)

	s.configRoutingMu.Lock()
	defer s.configRoutingMu.Unlock()
	if paymentType == s.defaultPaymentType {
		return false
	}
	nfc.Debugf("ce: default payment type %s -> %s", s.defaultPaymentType, paymentType)
	s.defaultPaymentType = paymentType
	return true
}

// simVendorBundle returns "" when the controller does not answer in time
func (s *Service) simVendorBundle() string {
	var vendor string
	err := s.watchdog.Run(context.Background(), "GetSimVendorBundleName", s.config.AidTimeout,
		func(context.Context) error {
			vendor = s.ce.GetSimVendorBundleName()
			return nil
		})
	if err != nil {
		nfc.Debugf("ce: SIM vendor query failed: %v", err)
		return ""
	}
	return vendor
}

func (s *Service) paymentTypeOf(element nfc.ElementName) nfc.DefaultPaymentType {
	if element.IsEmpty() {
		return nfc.PaymentTypeEmpty
	}
	if vendor := s.simVendorBundle(); vendor != "" && element.BundleName == vendor {
		return nfc.PaymentTypeUicc
	}
	if !s.apps.IsBundleInstalled(element.BundleName) {
		return nfc.PaymentTypeUninstalled
	}
	if app, ok := s.apps.GetApp(element); ok && app.OffHost &&
		len(app.PaymentAids) == 0 && len(app.OtherAids) == 0 {
		return nfc.PaymentTypeEse
	}
	return nfc.PaymentTypeHce
}

// SearchElementByAid resolves the application that should receive a SELECT
// for aid. Several candidates are broken by foreground first, then the
// default payment app when it declares aid as a payment AID. An unresolved
// conflict is published to the notifier.
func (s *Service) SearchElementByAid(aid string) (nfc.ElementName, bool) {
	aid = strings.ToUpper(aid)
	hceApps := s.apps.GetHceApps()

	s.configRoutingMu.Lock()
	foreground := s.foregroundElement
	defaultPayment := s.defaultPaymentElement
	dynamic := slices.Contains(s.dynamicAids, aid)
	s.configRoutingMu.Unlock()

	var candidates []appdata.HceAppAidInfo
	for _, app := range hceApps {
		if app.Declares(aid) {
			candidates = append(candidates, app)
		}
	}
	if dynamic && !slices.ContainsFunc(candidates, func(c appdata.HceAppAidInfo) bool {
		return c.Element.SameApp(foreground)
	}) {
		candidates = append(candidates, appdata.HceAppAidInfo{
			Element: foreground,
			Aids:    []appdata.AidInfo{{Value: aid, Category: nfc.AidCategoryOther}},
		})
	}

	switch len(candidates) {
	case 0:
		return nfc.ElementName{}, false
	case 1:
		return candidates[0].Element, true
	}

	if !foreground.IsEmpty() {
		for _, c := range candidates {
			if c.Element.SameApp(foreground) {
				return c.Element, true
			}
		}
	}
	if !defaultPayment.IsEmpty() {
		for _, c := range candidates {
			if c.Element.SameApp(defaultPayment) && c.DeclaresPayment(aid) {
				return c.Element, true
			}
		}
	}

	elements := make([]nfc.ElementName, 0, len(candidates))
	for _, c := range candidates {
		elements = append(elements, c.Element)
	}
	nfc.Debugf("ce: AID %s conflicts between %d apps", aid, len(elements))
	s.notifier.PublishAidConflicted(aid, elements)
	return nfc.ElementName{}, false
}

// OnDefaultPaymentServiceChange persists the new default payment application
// and reconciles routing.
func (s *Service) OnDefaultPaymentServiceChange(element nfc.ElementName) {
	s.configRoutingMu.Lock()
	if s.defaultPaymentElement == element {
		s.configRoutingMu.Unlock()
		return
	}
	s.defaultPaymentElement = element
	s.configRoutingMu.Unlock()

	if s.prefs != nil {
		if err := s.prefs.SetDefaultPaymentApp(element); err != nil {
			nfc.Debugf("ce: persisting default payment failed: %v", err)
			logging.CaptureError(err, "ce.default_payment", nil)
		}
	}
	s.ConfigRoutingAndCommit()
}

// OnAppAddOrChangeOrRemove reconciles routing after the app registry changed
func (s *Service) OnAppAddOrChangeOrRemove() {
	s.ConfigRoutingAndCommit()
}

// StartHce makes element the foreground HCE application and routes its
// dynamic AIDs to the host.
func (s *Service) StartHce(element nfc.ElementName, aids []string) error {
	if element.IsEmpty() {
		return nfc.ErrInvalidParameter
	}
	if s.state.GetNfcState() != nfc.StateOn {
		return nfc.ErrNfcDisabled
	}
	normalized := make([]string, 0, len(aids))
	for _, aid := range aids {
		aid = strings.ToUpper(strings.TrimSpace(aid))
		if !validAid(aid) {
			return nfc.ErrInvalidParameter
		}
		if !slices.Contains(normalized, aid) {
			normalized = append(normalized, aid)
		}
	}

	s.configRoutingMu.Lock()
	s.foregroundElement = element
	s.dynamicAids = normalized
	s.configRoutingMu.Unlock()

	nfc.Debugf("ce: HCE started for %s with %d dynamic AIDs", element, len(normalized))
	s.ConfigRoutingAndCommit()
	return nil
}

// StopHce ends the foreground HCE session of element. Stopping an element that
// is not in the foreground succeeds without changes.
func (s *Service) StopHce(element nfc.ElementName) error {
	if element.IsEmpty() {
		return nfc.ErrInvalidParameter
	}
	if s.clearForeground(element) {
		s.ConfigRoutingAndCommit()
	}
	return nil
}

// HandleAppStateChanged tears down the HCE session of a foreground app that
// moved to the background.
func (s *Service) HandleAppStateChanged(element nfc.ElementName, foreground bool) {
	if foreground {
		return
	}
	if s.clearForeground(element) {
		nfc.Debugf("ce: %s left the foreground, HCE session cleared", element)
		s.ConfigRoutingAndCommit()
	}
}

func (s *Service) clearForeground(element nfc.ElementName) bool {
	s.configRoutingMu.Lock()
	defer s.configRoutingMu.Unlock()
	if s.foregroundElement.IsEmpty() || !s.foregroundElement.SameApp(element) {
		return false
	}
	s.foregroundElement = nfc.ElementName{}
	s.dynamicAids = nil
	return true
}

// RegHceCmdCallback registers the APDU receiver for element
func (s *Service) RegHceCmdCallback(element nfc.ElementName, callback HceCmdCallback) error {
	if element.IsEmpty() || callback == nil {
		return nfc.ErrInvalidParameter
	}
	s.hceMu.Lock()
	s.hceCallbacks[element.Key()] = hceRegistration{element: element, callback: callback}
	s.hceMu.Unlock()
	return nil
}

// UnRegHceCmdCallback removes the APDU receiver for element
func (s *Service) UnRegHceCmdCallback(element nfc.ElementName) error {
	s.hceMu.Lock()
	defer s.hceMu.Unlock()
	if _, ok := s.hceCallbacks[element.Key()]; !ok {
		return nfc.ErrNotRegistered
	}
	delete(s.hceCallbacks, element.Key())
	return nil
}

// OnHceCallbackDied cleans up after an application process died
func (s *Service) OnHceCallbackDied(element nfc.ElementName) {
	s.hceMu.Lock()
	delete(s.hceCallbacks, element.Key())
	if s.sessionElement.SameApp(element) {
		s.sessionElement = nfc.ElementName{}
	}
	s.hceMu.Unlock()

	if s.clearForeground(element) {
		s.ConfigRoutingAndCommit()
	}
}

// HandleDataApdu routes an APDU from the reader. SELECT by AID picks the
// session application; everything else goes to the current session.
func (s *Service) HandleDataApdu(data []byte) {
	if aid, ok := parseSelectAid(data); ok {
		element, found := s.SearchElementByAid(aid)
		s.hceMu.Lock()
		s.sessionElement = element
		s.hceMu.Unlock()
		if !found {
			nfc.Debugf("ce: no application for AID %s", aid)
			if err := s.sendRaw(statusFileNotFound); err != nil {
				nfc.Debugf("ce: sending 6A82 failed: %v", err)
			}
			return
		}
	}

	s.hceMu.RLock()
	session := s.sessionElement
	reg, ok := s.hceCallbacks[session.Key()]
	s.hceMu.RUnlock()

	if session.IsEmpty() || !ok {
		nfc.Debugf("ce: dropping %d byte APDU, no session callback for %s", len(data), session)
		return
	}
	safeDeliver(reg.callback, data)
}

// HandleCardEmulationDeactivated ends the current APDU session
func (s *Service) HandleCardEmulationDeactivated() {
	s.hceMu.Lock()
	s.sessionElement = nfc.ElementName{}
	s.hceMu.Unlock()
}

// SendRawFrame sends a response APDU on behalf of element
func (s *Service) SendRawFrame(element nfc.ElementName, data []byte) error {
	if len(data) == 0 {
		return nfc.ErrInvalidParameter
	}
	if s.state.GetNfcState() != nfc.StateOn {
		return nfc.ErrNfcDisabled
	}
	s.hceMu.RLock()
	_, registered := s.hceCallbacks[element.Key()]
	s.hceMu.RUnlock()
	if !registered {
		return nfc.ErrNotRegistered
	}
	err := s.sendRaw(data)
	if err != nil {
		nfc.Debugf("ce: %s response failed with code %d: %v", element, nfc.CodeOf(err, false), err)
	}
	return err
}

func (s *Service) sendRaw(data []byte) error {
	return s.watchdog.Run(context.Background(), "SendRawFrame", s.config.AidTimeout,
		func(ctx context.Context) error {
			return s.ce.SendRawFrame(ctx, data)
		})
}

// GetDefaultPaymentType returns the current payment type
func (s *Service) GetDefaultPaymentType() nfc.DefaultPaymentType {
	s.configRoutingMu.Lock()
	defer s.configRoutingMu.Unlock()
	return s.defaultPaymentType
}

// GetDefaultPaymentElement returns the default payment application
func (s *Service) GetDefaultPaymentElement() nfc.ElementName {
	s.configRoutingMu.Lock()
	defer s.configRoutingMu.Unlock()
	return s.defaultPaymentElement
}

// GetForegroundElement returns the foreground HCE application
func (s *Service) GetForegroundElement() nfc.ElementName {
	s.configRoutingMu.Lock()
	defer s.configRoutingMu.Unlock()
	return s.foregroundElement
}

// GetDynamicAids returns the AIDs registered by the foreground application
func (s *Service) GetDynamicAids() []string {
	s.configRoutingMu.Lock()
	defer s.configRoutingMu.Unlock()
	return slices.Clone(s.dynamicAids)
}

// GetAidTable returns the last AID table fully committed to the controller
func (s *Service) GetAidTable() AidTable {
	s.configRoutingMu.Lock()
	defer s.configRoutingMu.Unlock()
	return s.aidToAidEntry.Clone()
}

// LastReconcile returns the result of the most recent AID table push
func (s *Service) LastReconcile() ReconcileResult {
	s.configRoutingMu.Lock()
	defer s.configRoutingMu.Unlock()
	return s.lastResult
}

// parseSelectAid extracts the AID of a SELECT by DF name: 00 A4 04 00 Lc AID
func parseSelectAid(data []byte) (string, bool) {
	if len(data) < 5 || data[1] != 0xA4 || data[2] != 0x04 {
		return "", false
	}
	lc := int(data[4])
	if lc < minAidLen || lc > maxAidLen || len(data) < 5+lc {
		return "", false
	}
	return strings.ToUpper(hex.EncodeToString(data[5 : 5+lc])), true
}

func validAid(aid string) bool {
	if len(aid)%2 != 0 || len(aid) < minAidLen*2 || len(aid) > maxAidLen*2 {
		return false
	}
	_, err := hex.DecodeString(aid)
	return err == nil
}

func safeDeliver(callback HceCmdCallback, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			logging.CapturePanic(r, debug.Stack(), "hce callback")
		}
	}()
	callback(slices.Clone(data))
}

type logNotifier struct{}

func (logNotifier) PublishAidConflicted(aid string, candidates []nfc.ElementName) {
	nfc.Debugf("ce: AID %s conflicted: %v", aid, candidates)
}
