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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestState(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "TURNING_ON", StateTurningOn.String())
	assert.Equal(t, "State(9)", State(9).String())
	assert.True(t, StateTurningOff.IsTransitioning())
	assert.False(t, StateOn.IsTransitioning())
}

func TestScreenState(t *testing.T) {
	t.Parallel()

	assert.True(t, ScreenStateOnLocked.IsOn())
	assert.False(t, ScreenStateOffUnlocked.IsOn())
	assert.True(t, ScreenStateOffUnlocked.IsUnlocked())
	assert.False(t, ScreenStateUnknown.IsUnlocked())
	assert.Equal(t, "UNKNOWN", ScreenStateUnknown.String())
}

func TestTechMaskFromTechList(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		techs    []TechType
		expected uint16
	}{
		{name: "empty", techs: nil, expected: 0},
		{name: "type A family", techs: []TechType{TechNfcA, TechMifareUltralight}, expected: PollA},
		{name: "iso-dep covers A and B", techs: []TechType{TechIsoDep}, expected: PollA | PollB},
		{name: "felica and vicinity", techs: []TechType{TechNfcF, TechNfcV}, expected: PollF | PollV},
		{name: "ndef polls everything", techs: []TechType{TechNdef}, expected: DefaultTechMask},
		{name: "unknown ignored", techs: []TechType{TechUnknown}, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, TechMaskFromTechList(tt.techs))
		})
	}
}

func TestElementName(t *testing.T) {
	t.Parallel()

	a := ElementName{BundleName: "com.example.wallet", AbilityName: "PayAbility", ModuleName: "entry"}
	b := ElementName{BundleName: "com.example.wallet", AbilityName: "PayAbility"}

	assert.True(t, a.SameApp(b))
	assert.NotEqual(t, a.Key(), b.Key())
	assert.Equal(t, "com.example.wallet/PayAbility", a.String())
	assert.True(t, ElementName{}.IsEmpty())
	assert.Equal(t, "<none>", ElementName{}.String())
}

func TestTagInfo_TechMask(t *testing.T) {
	t.Parallel()

	info := &TagInfo{TechList: []TechType{TechNfcA, TechIsoDep}}
	assert.Equal(t, PollA|PollB, info.TechMask())
	assert.Equal(t, "MifareClassic", TechMifareClassic.String())
	assert.Equal(t, "Unknown", TechType(99).String())
}
