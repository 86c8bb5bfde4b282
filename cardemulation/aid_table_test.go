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

package cardemulation

import (
	"testing"

	nfc "github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/appdata"
	"github.com/stretchr/testify/assert"
)

var (
	walletApp  = nfc.ElementName{BundleName: "com.example.wallet", AbilityName: "PayAbility"}
	transitApp = nfc.ElementName{BundleName: "com.example.transit", AbilityName: "CardAbility"}
)

func hceApp(element nfc.ElementName, payment []string, other []string) appdata.HceAppAidInfo {
	info := appdata.HceAppAidInfo{Element: element}
	for _, aid := range payment {
		info.Aids = append(info.Aids, appdata.AidInfo{Value: aid, Category: nfc.AidCategoryPayment})
	}
	for _, aid := range other {
		info.Aids = append(info.Aids, appdata.AidInfo{Value: aid, Category: nfc.AidCategoryOther})
	}
	return info
}

func TestBuildAidEntries(t *testing.T) {
	t.Parallel()

	apps := []appdata.HceAppAidInfo{
		hceApp(walletApp, []string{"A0000000031010"}, []string{"F0010203040506"}),
		hceApp(transitApp, []string{"A0000000041010"}, nil),
	}

	tests := []struct {
		name           string
		foreground     nfc.ElementName
		defaultPayment nfc.ElementName
		dynamic        []string
		want           []string
	}{
		{
			name: "OtherOnly",
			want: []string{"F0010203040506"},
		},
		{
			name:           "DefaultPaymentAddsItsPaymentAids",
			defaultPayment: walletApp,
			want:           []string{"A0000000031010", "F0010203040506"},
		},
		{
			name:       "ForegroundAddsItsPaymentAids",
			foreground: transitApp,
			want:       []string{"A0000000041010", "F0010203040506"},
		},
		{
			name:       "DynamicAidsAlwaysIncluded",
			foreground: transitApp,
			dynamic:    []string{"d2760000850101"},
			want:       []string{"A0000000041010", "D2760000850101", "F0010203040506"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			table := BuildAidEntries(apps, tt.foreground, tt.defaultPayment, tt.dynamic)
			assert.Equal(t, tt.want, table.SortedAids())
			for _, entry := range table {
				assert.Equal(t, nfc.RouteHost, entry.Route)
				assert.Equal(t, nfc.PowerStateHost, entry.Power)
				assert.Zero(t, entry.AidInfo)
			}
		})
	}
}

func TestAidTable_EqualIsStructural(t *testing.T) {
	t.Parallel()
	apps := []appdata.HceAppAidInfo{hceApp(walletApp, nil, []string{"F0010203040506", "F0010203040507"})}

	first := BuildAidEntries(apps, nfc.ElementName{}, nfc.ElementName{}, nil)
	second := BuildAidEntries(apps, nfc.ElementName{}, nfc.ElementName{}, nil)
	assert.True(t, first.Equal(second))

	clone := first.Clone()
	clone["F0010203040506"] = AidEntry{Aid: "F0010203040506", Route: nfc.RouteEse}
	assert.False(t, first.Equal(clone))
	assert.True(t, AidTable(nil).Equal(AidTable{}))
}
