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

package nfc

import "context"

// NfccInterface is the controller-level command sink of the NCI layer.
// Implementations block until the controller answers; callers bound them with
// a Watchdog.
type NfccInterface interface {
	// Initialize powers the controller up and runs the NCI core init sequence
	Initialize(ctx context.Context) error

	// Deinitialize shuts RF down and releases the controller
	Deinitialize(ctx context.Context) error

	// EnableDiscovery starts (or restarts) RF discovery for the given poll mask
	EnableDiscovery(ctx context.Context, techMask uint16, readerMode, hostRouting, restart bool) error

	// DisableDiscovery stops RF discovery
	DisableDiscovery(ctx context.Context) error

	// SetScreenStatus tells the controller about the display state
	SetScreenStatus(ctx context.Context, state ScreenState) error

	// GetNciVersion returns the negotiated NCI version. It may block on
	// the controller; callers bound it with a Watchdog.
	GetNciVersion() int

	// Abort resets a controller that stopped answering
	Abort()

	// FactoryReset clears controller persistent configuration
	FactoryReset(ctx context.Context) error

	// Shutdown puts the controller into its power-off state ahead of device shutdown
	Shutdown(ctx context.Context) error

	// SetTagListener registers the receiver of tag presence callbacks
	SetTagListener(listener TagListener)

	// SetCeHostListener registers the receiver of card-emulation callbacks
	SetCeHostListener(listener CeHostListener)
}

// TagInterface issues per-tag commands. Tags are addressed by RF discovery id.
type TagInterface interface {
	Connect(ctx context.Context, rfDiscID int, tech TechType) error
	Disconnect(ctx context.Context, rfDiscID int) error
	Reconnect(ctx context.Context, rfDiscID int) error
	Transceive(ctx context.Context, rfDiscID int, data []byte) ([]byte, error)
	ReadNdef(ctx context.Context, rfDiscID int) ([]byte, error)
	WriteNdef(ctx context.Context, rfDiscID int, data []byte) error
	FormatNdef(ctx context.Context, rfDiscID int, key []byte) error
	SetNdefReadOnly(ctx context.Context, rfDiscID int) error
	DetectNdefInfo(ctx context.Context, rfDiscID int) (NdefInfo, error)
	IsTagFieldOn(ctx context.Context, rfDiscID int) bool

	// StartFieldOnChecking arms presence checking; the controller reports
	// OnTagLost when the tag leaves the field.
	StartFieldOnChecking(rfDiscID int, interval int)
	StopFieldChecking(rfDiscID int)

	GetTechList(rfDiscID int) []TechType
	GetTagUID(rfDiscID int) []byte
	GetTechParams(rfDiscID int) []TechParams
}

// CeInterface issues card-emulation routing commands.
type CeInterface interface {
	ComputeRoutingParams(ctx context.Context, paymentType DefaultPaymentType) error
	CommitRouting(ctx context.Context) error
	AddAidRouting(ctx context.Context, aid string, route, aidInfo, power int) error
	ClearAidTable(ctx context.Context) error
	SendRawFrame(ctx context.Context, data []byte) error
	// GetSimVendorBundleName may block like GetNciVersion
	GetSimVendorBundleName() string
}

// TagListener receives tag presence callbacks from controller threads.
type TagListener interface {
	OnTagDiscovered(rfDiscID int)
	OnTagLost(rfDiscID int)
}

// CeHostListener receives card-emulation callbacks from controller threads.
type CeHostListener interface {
	FieldActivated()
	FieldDeactivated()
	OnCardEmulationData(data []byte)
	OnCardEmulationActivated()
	OnCardEmulationDeactivated()
}

// StateProvider exposes the authoritative NFC state to components.
type StateProvider interface {
	GetNfcState() State
}

// Preferences persists service state across restarts.
type Preferences interface {
	GetNfcState() State
	SetNfcState(state State) error
	GetDefaultPaymentApp() ElementName
	SetDefaultPaymentApp(element ElementName) error
}

// ForegroundAppProvider answers which ability is currently in the foreground.
type ForegroundAppProvider interface {
	GetTopAbility() ElementName
}

// AbilityStarter launches applications for dispatched tags.
type AbilityStarter interface {
	// StartAbility launches exactly one application with the tag
	StartAbility(element ElementName, tag *TagInfo) error

	// StartAbilitySelector lets the user pick among several candidates
	StartAbilitySelector(candidates []ElementName, tag *TagInfo) error
}

// TagCallback receives tags delivered to foreground or reader-mode apps.
type TagCallback func(tag *TagInfo)
