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

import (
	"fmt"
	"strings"
)

// State is the NFC on/off state owned by the service.
type State int

const (
	StateOff State = iota
	StateTurningOn
	StateOn
	StateTurningOff
)

// String returns a human-readable state name
func (s State) String() string {
	switch s {
	case StateOff:
		return "OFF"
	case StateTurningOn:
		return "TURNING_ON"
	case StateOn:
		return "ON"
	case StateTurningOff:
		return "TURNING_OFF"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// IsTransitioning reports whether the state is one of the two in-flight states.
func (s State) IsTransitioning() bool {
	return s == StateTurningOn || s == StateTurningOff
}

// ScreenState is the display/lock state pushed to the controller.
// Values are ordered so that a larger value never polls less.
type ScreenState int

const (
	ScreenStateUnknown ScreenState = iota
	ScreenStateOffUnlocked
	ScreenStateOffLocked
	ScreenStateOnLocked
	ScreenStateOnUnlocked
)

// String returns a human-readable screen state name
func (s ScreenState) String() string {
	switch s {
	case ScreenStateOffUnlocked:
		return "OFF_UNLOCKED"
	case ScreenStateOffLocked:
		return "OFF_LOCKED"
	case ScreenStateOnLocked:
		return "ON_LOCKED"
	case ScreenStateOnUnlocked:
		return "ON_UNLOCKED"
	default:
		return "UNKNOWN"
	}
}

// IsOn reports whether the display is on.
func (s ScreenState) IsOn() bool {
	return s == ScreenStateOnLocked || s == ScreenStateOnUnlocked
}

// IsUnlocked reports whether the keyguard is dismissed.
func (s ScreenState) IsUnlocked() bool {
	return s == ScreenStateOffUnlocked || s == ScreenStateOnUnlocked
}

// TechType identifies a tag technology reported by the controller.
type TechType int

const (
	TechUnknown TechType = iota
	TechNfcA
	TechNfcB
	TechIsoDep
	TechNfcF
	TechNfcV
	TechNdef
	TechNdefFormatable
	TechMifareClassic
	TechMifareUltralight
)

var techNames = map[TechType]string{
	TechNfcA:             "NfcA",
	TechNfcB:             "NfcB",
	TechIsoDep:           "IsoDep",
	TechNfcF:             "NfcF",
	TechNfcV:             "NfcV",
	TechNdef:             "Ndef",
	TechNdefFormatable:   "NdefFormatable",
	TechMifareClassic:    "MifareClassic",
	TechMifareUltralight: "MifareUltralight",
}

// String returns the technology name
func (t TechType) String() string {
	if name, ok := techNames[t]; ok {
		return name
	}
	return "Unknown"
}

// Poll mask bits for EnableDiscovery.
const (
	PollA uint16 = 0x01
	PollB uint16 = 0x02
	PollF uint16 = 0x04
	PollV uint16 = 0x08

	// DefaultTechMask polls for every supported technology
	DefaultTechMask = PollA | PollB | PollF | PollV
)

// TechMaskFromTechList converts declared technologies into poll mask bits.
// Technologies without a radio of their own (Ndef, IsoDep, ...) map onto the
// radio they ride on.
func TechMaskFromTechList(techs []TechType) uint16 {
	var mask uint16
	for _, tech := range techs {
		switch tech {
		case TechNfcA, TechMifareClassic, TechMifareUltralight:
			mask |= PollA
		case TechNfcB:
			mask |= PollB
		case TechIsoDep:
			mask |= PollA | PollB
		case TechNfcF:
			mask |= PollF
		case TechNfcV:
			mask |= PollV
		case TechNdef, TechNdefFormatable:
			mask |= DefaultTechMask
		case TechUnknown:
		}
	}
	return mask
}

// HasTech reports whether techs contains tech.
func HasTech(techs []TechType, tech TechType) bool {
	for _, t := range techs {
		if t == tech {
			return true
		}
	}
	return false
}

// ElementName identifies an application ability (bundle + ability).
type ElementName struct {
	BundleName  string
	AbilityName string
	DeviceID    string
	ModuleName  string
}

// IsEmpty reports whether no application is named.
func (e ElementName) IsEmpty() bool {
	return e.BundleName == "" && e.AbilityName == ""
}

// Key returns a stable map key for the element
func (e ElementName) Key() string {
	return strings.Join([]string{e.DeviceID, e.BundleName, e.ModuleName, e.AbilityName}, "/")
}

// String returns bundle/ability for logging
func (e ElementName) String() string {
	if e.IsEmpty() {
		return "<none>"
	}
	return e.BundleName + "/" + e.AbilityName
}

// SameApp compares bundle and ability only; device and module are routing
// hints that differ between installation records of the same ability.
func (e ElementName) SameApp(other ElementName) bool {
	return e.BundleName == other.BundleName && e.AbilityName == other.AbilityName
}

// DefaultPaymentType says where the default payment application lives.
type DefaultPaymentType int

const (
	PaymentTypeHce DefaultPaymentType = iota
	PaymentTypeUicc
	PaymentTypeEse
	PaymentTypeEmpty
	PaymentTypeUninstalled
)

// String returns a human-readable payment type
func (p DefaultPaymentType) String() string {
	switch p {
	case PaymentTypeHce:
		return "HCE"
	case PaymentTypeUicc:
		return "UICC"
	case PaymentTypeEse:
		return "ESE"
	case PaymentTypeEmpty:
		return "EMPTY"
	case PaymentTypeUninstalled:
		return "UNINSTALLED"
	default:
		return "UNKNOWN"
	}
}

// AidCategory is the declared purpose of an AID.
type AidCategory int

const (
	AidCategoryOther AidCategory = iota
	AidCategoryPayment
)

// Routing destinations and power states for AID entries.
const (
	RouteHost = 0x00
	RouteEse  = 0x01
	RouteUicc = 0x02

	// PowerStateHost allows host routing while switched on, screen on or off
	PowerStateHost = 0x39
)

// NDEF tag modes reported by DetectNdefInfo.
const (
	NdefModeUnknown   = 0
	NdefModeReadOnly  = 1
	NdefModeReadWrite = 2
)

// NdefInfo describes the NDEF capability of a tag.
type NdefInfo struct {
	Message []byte
	Type    int
	MaxSize int
	Mode    int
}

// TechParams holds the activation parameters of one technology.
// Only the fields belonging to the technology are set.
type TechParams struct {
	Atqa            []byte
	AppData         []byte
	ProtocolInfo    []byte
	SystemCode      []byte
	Pmm             []byte
	HistoricalBytes []byte
	HiLayerResponse []byte
	Tech            TechType
	Sak             byte
	ResponseFlags   byte
	DsfID           byte
}

// Extras are the per-technology values delivered with a tag.
type Extras map[string]any

// Extras keys.
const (
	ExtraSak             = "Sak"
	ExtraAtqa            = "Atqa"
	ExtraAppData         = "AppData"
	ExtraProtocolInfo    = "ProtocolInfo"
	ExtraSystemCode      = "SystemCode"
	ExtraPmm             = "Pmm"
	ExtraResponseFlags   = "ResponseFlags"
	ExtraDsfID           = "DsfId"
	ExtraHistoricalBytes = "HistoricalBytes"
	ExtraHiLayerResponse = "HiLayerResponse"
	ExtraNdefMsg         = "NdefMsg"
	ExtraNdefType        = "NdefType"
	ExtraNdefMaxSize     = "NdefMaxSize"
	ExtraNdefMode        = "NdefMode"
)

// TagInfo is the app-facing description of a discovered tag.
type TagInfo struct {
	TechExtras    []Extras
	UID           []byte
	TechList      []TechType
	RfDiscID      int
	ConnectedTech TechType
}

// TechMask returns the poll mask matching the tag's technologies
func (t *TagInfo) TechMask() uint16 {
	return TechMaskFromTechList(t.TechList)
}
