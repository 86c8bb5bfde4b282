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

// Package virtual provides an in-memory NFC controller. It implements the
// controller, tag and card-emulation command interfaces, records every command
// and lets tests inject failures and hangs.
package virtual

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	nfc "github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/internal/syncutil"
)

// DefaultNciVersion is reported after a successful Initialize
const DefaultNciVersion = 0x20

// Command is one recorded controller command
type Command struct {
	Name string
	Args string
}

func (c Command) String() string {
	if c.Args == "" {
		return c.Name
	}
	return c.Name + "(" + c.Args + ")"
}

// Discovery is the RF discovery configuration last applied
type Discovery struct {
	TechMask    uint16
	Restarts    int
	Enabled     bool
	ReaderMode  bool
	HostRouting bool
}

// AidRoute is one row of the emulated controller AID table
type AidRoute struct {
	Route   int
	AidInfo int
	Power   int
}

// Controller is a virtual NFC controller.
type Controller struct {
	tagListener nfc.TagListener
	ceListener  nfc.CeHostListener
	tags        map[int]*Tag
	failures    map[string]error
	aidFailures map[string]error
	hangs       map[string]chan struct{}
	aidTable    map[string]AidRoute
	fieldChecks map[int]int
	connected   map[int]nfc.TechType
	simVendor   string
	commands    []Command
	sentFrames  [][]byte
	discovery   Discovery
	nciVersion  int
	aidCapacity int
	aborts      int
	paymentType nfc.DefaultPaymentType
	screen      nfc.ScreenState
	mu          syncutil.Mutex
	initialized bool
}

// NewController creates a powered-down virtual controller
func NewController() *Controller {
	return &Controller{
		tags:        make(map[int]*Tag),
		failures:    make(map[string]error),
		aidFailures: make(map[string]error),
		hangs:       make(map[string]chan struct{}),
		aidTable:    make(map[string]AidRoute),
		fieldChecks: make(map[int]int),
		connected:   make(map[int]nfc.TechType),
	}
}

// SetAidCapacity limits the AID table to n entries; 0 means unlimited.
// Adds beyond the limit fail with nfc.ErrAidTableFull.
func (c *Controller) SetAidCapacity(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aidCapacity = n
}

// FailCommand makes every future call of name fail with err. A nil err clears it.
func (c *Controller) FailCommand(name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.failures, name)
		return
	}
	c.failures[name] = err
}

// FailAid makes AddAidRouting fail for aid. A nil err clears it.
func (c *Controller) FailAid(aid string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	aid = strings.ToUpper(aid)
	if err == nil {
		delete(c.aidFailures, aid)
		return
	}
	c.aidFailures[aid] = err
}

// HangCommand makes future calls of name block until Abort or ReleaseCommand
func (c *Controller) HangCommand(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.hangs[name]; !ok {
		c.hangs[name] = make(chan struct{})
	}
}

// ReleaseCommand unblocks calls of name stuck in a hang
func (c *Controller) ReleaseCommand(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.hangs[name]; ok {
		close(ch)
		delete(c.hangs, name)
	}
}

// SetSimVendorBundleName sets the bundle reported by GetSimVendorBundleName
func (c *Controller) SetSimVendorBundleName(bundle string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.simVendor = bundle
}

// begin records a command and applies injected hangs and failures.
func (c *Controller) begin(name, args string) error {
	c.mu.Lock()
	c.commands = append(c.commands, Command{Name: name, Args: args})
	hang := c.hangs[name]
	err := c.failures[name]
	c.mu.Unlock()

	if hang != nil {
		<-hang
		return nfc.NewHardwareError(name, nfc.ErrHardwareTimeout, nfc.ErrorTypeTransient)
	}
	if err != nil {
		return err
	}
	return nil
}

// Commands returns every recorded command in call order
func (c *Controller) Commands() []Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.commands)
}

// CommandCount returns how many times name was called
func (c *Controller) CommandCount(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, cmd := range c.commands {
		if cmd.Name == name {
			count++
		}
	}
	return count
}

// CommandNames returns the recorded command names in call order
func (c *Controller) CommandNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.commands))
	for _, cmd := range c.commands {
		names = append(names, cmd.Name)
	}
	return names
}

// ResetCommands clears the command log
func (c *Controller) ResetCommands() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands = nil
}

// Aborts returns how many times Abort was called
func (c *Controller) Aborts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborts
}

// Initialized reports whether the controller is powered up
func (c *Controller) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// Discovery returns the current RF discovery configuration
func (c *Controller) Discovery() Discovery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.discovery
}

// Screen returns the last screen state pushed to the controller
func (c *Controller) Screen() nfc.ScreenState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.screen
}

// AidTable returns a copy of the controller AID table
func (c *Controller) AidTable() map[string]AidRoute {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.aidTable)
}

// RoutingPaymentType returns the payment type of the last routing computation
func (c *Controller) RoutingPaymentType() nfc.DefaultPaymentType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paymentType
}

// SentFrames returns every frame sent through SendRawFrame
func (c *Controller) SentFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.sentFrames)
}

// Initialize implements nfc.NfccInterface
func (c *Controller) Initialize(_ context.Context) error {
	if err := c.begin("Initialize", ""); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initialized = true
	c.nciVersion = DefaultNciVersion
	return nil
}

// Deinitialize implements nfc.NfccInterface
func (c *Controller) Deinitialize(_ context.Context) error {
	err := c.begin("Deinitialize", "")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initialized = false
	c.discovery = Discovery{}
	clear(c.aidTable)
	clear(c.connected)
	clear(c.fieldChecks)
	return err
}

// EnableDiscovery implements nfc.NfccInterface
func (c *Controller) EnableDiscovery(_ context.Context, techMask uint16, readerMode, hostRouting, restart bool) error {
	args := fmt.Sprintf("mask=0x%02x,reader=%t,host=%t,restart=%t", techMask, readerMode, hostRouting, restart)
	if err := c.begin("EnableDiscovery", args); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	restarts := c.discovery.Restarts
	if restart {
		restarts++
	}
	c.discovery = Discovery{
		Enabled:     true,
		TechMask:    techMask,
		ReaderMode:  readerMode,
		HostRouting: hostRouting,
		Restarts:    restarts,
	}
	return nil
}

// DisableDiscovery implements nfc.NfccInterface
func (c *Controller) DisableDiscovery(_ context.Context) error {
	if err := c.begin("DisableDiscovery", ""); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discovery.Enabled = false
	c.discovery.TechMask = 0
	return nil
}

// SetScreenStatus implements nfc.NfccInterface
func (c *Controller) SetScreenStatus(_ context.Context, state nfc.ScreenState) error {
	if err := c.begin("SetScreenStatus", state.String()); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.screen = state
	return nil
}

// query blocks while name is hung. Queries are not recorded in the command log.
func (c *Controller) query(name string) {
	c.mu.Lock()
	hang := c.hangs[name]
	c.mu.Unlock()
	if hang != nil {
		<-hang
	}
}

// GetNciVersion implements nfc.NfccInterface
func (c *Controller) GetNciVersion() int {
	c.query("GetNciVersion")
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nciVersion
}

// Abort resets the controller and releases every hung command.
func (c *Controller) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aborts++
	c.commands = append(c.commands, Command{Name: "Abort"})
	for name, ch := range c.hangs {
		close(ch)
		delete(c.hangs, name)
	}
}

// FactoryReset implements nfc.NfccInterface
func (c *Controller) FactoryReset(_ context.Context) error {
	if err := c.begin("FactoryReset", ""); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.aidTable)
	return nil
}

// Shutdown implements nfc.NfccInterface
func (c *Controller) Shutdown(_ context.Context) error {
	if err := c.begin("Shutdown", ""); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discovery = Discovery{}
	return nil
}

// SetTagListener implements nfc.NfccInterface
func (c *Controller) SetTagListener(listener nfc.TagListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tagListener = listener
}

// SetCeHostListener implements nfc.NfccInterface
func (c *Controller) SetCeHostListener(listener nfc.CeHostListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ceListener = listener
}

// ComputeRoutingParams implements nfc.CeInterface
func (c *Controller) ComputeRoutingParams(_ context.Context, paymentType nfc.DefaultPaymentType) error {
	if err := c.begin("ComputeRoutingParams", paymentType.String()); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paymentType = paymentType
	return nil
}

// CommitRouting implements nfc.CeInterface
func (c *Controller) CommitRouting(_ context.Context) error {
	if err := c.begin("CommitRouting", ""); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return nil
}

// AddAidRouting implements nfc.CeInterface
func (c *Controller) AddAidRouting(_ context.Context, aid string, route, aidInfo, power int) error {
	aid = strings.ToUpper(aid)
	if err := c.begin("AddAidRouting", aid); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err, ok := c.aidFailures[aid]; ok {
		return err
	}
	if _, exists := c.aidTable[aid]; !exists && c.aidCapacity > 0 && len(c.aidTable) >= c.aidCapacity {
		return nfc.NewHardwareError("AddAidRouting", nfc.ErrAidTableFull, nfc.ErrorTypeRejected)
	}
	c.aidTable[aid] = AidRoute{Route: route, AidInfo: aidInfo, Power: power}
	return nil
}

// ClearAidTable implements nfc.CeInterface
func (c *Controller) ClearAidTable(_ context.Context) error {
	if err := c.begin("ClearAidTable", ""); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.aidTable)
	return nil
}

// SendRawFrame implements nfc.CeInterface
func (c *Controller) SendRawFrame(_ context.Context, data []byte) error {
	if err := c.begin("SendRawFrame", fmt.Sprintf("%X", data)); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sentFrames = append(c.sentFrames, slices.Clone(data))
	return nil
}

// GetSimVendorBundleName implements nfc.CeInterface
func (c *Controller) GetSimVendorBundleName() string {
	c.query("GetSimVendorBundleName")
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.simVendor
}

// ActivateField simulates an external reader field appearing
func (c *Controller) ActivateField() {
	if l := c.ceHostListener(); l != nil {
		l.FieldActivated()
	}
}

// DeactivateField simulates the external reader field going away
func (c *Controller) DeactivateField() {
	if l := c.ceHostListener(); l != nil {
		l.FieldDeactivated()
	}
}

// ActivateCardEmulation simulates a reader starting an ISO-DEP session
func (c *Controller) ActivateCardEmulation() {
	if l := c.ceHostListener(); l != nil {
		l.OnCardEmulationActivated()
	}
}

// DeactivateCardEmulation simulates a reader ending an ISO-DEP session
func (c *Controller) DeactivateCardEmulation() {
	if l := c.ceHostListener(); l != nil {
		l.OnCardEmulationDeactivated()
	}
}

// ReceiveApdu simulates an APDU arriving from the reader
func (c *Controller) ReceiveApdu(data []byte) {
	if l := c.ceHostListener(); l != nil {
		l.OnCardEmulationData(slices.Clone(data))
	}
}

func (c *Controller) ceHostListener() nfc.CeHostListener {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ceListener
}
