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

package appdata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nfc "github.com/ZaparooProject/go-nfc"
)

var (
	wallet  = nfc.ElementName{BundleName: "com.example.wallet", AbilityName: "PayAbility"}
	transit = nfc.ElementName{BundleName: "com.example.transit", AbilityName: "CardAbility"}
	reader  = nfc.ElementName{BundleName: "com.example.reader", AbilityName: "MainAbility"}
)

func TestUpdateAidList(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	apps := []AppInfo{{Element: wallet, PaymentAids: []string{" a0000000041010 "}}}
	assert.True(t, r.UpdateAidList(wallet.BundleName, apps))
	assert.False(t, r.UpdateAidList(wallet.BundleName, apps), "identical update reports a change")

	app, ok := r.GetApp(wallet)
	require.True(t, ok)
	assert.Equal(t, []string{"A0000000041010"}, app.PaymentAids)

	assert.True(t, r.UpdateAidList(wallet.BundleName, []AppInfo{
		{Element: wallet, PaymentAids: []string{"A0000000041010"}, OtherAids: []string{"F0010203040506"}},
	}))
}

func TestUpdateAidList_DropsUndeclaredAndForeignApps(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	changed := r.UpdateAidList(wallet.BundleName, []AppInfo{
		{Element: wallet},
		{Element: transit, OtherAids: []string{"F0010203040506"}},
	})
	assert.False(t, changed)
	assert.False(t, r.IsBundleInstalled(wallet.BundleName))
	assert.False(t, r.IsBundleInstalled(transit.BundleName))

	// an update that removes every declaration uninstalls the bundle
	require.True(t, r.UpdateAidList(wallet.BundleName, []AppInfo{{Element: wallet, OffHost: true}}))
	assert.True(t, r.UpdateAidList(wallet.BundleName, nil))
	assert.False(t, r.IsBundleInstalled(wallet.BundleName))
}

func TestRemoveApp(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.UpdateAidList(reader.BundleName, []AppInfo{{Element: reader, TechList: []nfc.TechType{nfc.TechNfcA}}})

	assert.True(t, r.RemoveApp(reader.BundleName))
	assert.False(t, r.RemoveApp(reader.BundleName))
	assert.Empty(t, r.GetBundleAbilities(reader.BundleName))
}

func TestGetHceApps(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.UpdateAidList(wallet.BundleName, []AppInfo{{Element: wallet, PaymentAids: []string{"A0000000041010"}}})
	r.UpdateAidList(transit.BundleName, []AppInfo{{Element: transit, OtherAids: []string{"F0010203040506"}}})
	r.UpdateAidList(reader.BundleName, []AppInfo{{Element: reader, TechList: []nfc.TechType{nfc.TechNfcA}}})
	r.UpdateAidList("com.example.se", []AppInfo{{
		Element: nfc.ElementName{BundleName: "com.example.se", AbilityName: "SeAbility"},
		OffHost: true,
	}})

	apps := r.GetHceApps()
	require.Len(t, apps, 2)
	assert.Equal(t, transit, apps[0].Element, "apps are ordered by element key")
	assert.Equal(t, wallet, apps[1].Element)

	assert.True(t, apps[1].Declares("a0000000041010"))
	assert.True(t, apps[1].DeclaresPayment("A0000000041010"))
	assert.True(t, apps[0].Declares("F0010203040506"))
	assert.False(t, apps[0].DeclaresPayment("F0010203040506"))
}

func TestGetDispatchTagAppsByTech(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.UpdateAidList(reader.BundleName, []AppInfo{{Element: reader, TechList: []nfc.TechType{nfc.TechNdef}}})
	r.UpdateAidList(transit.BundleName, []AppInfo{{Element: transit, TechList: []nfc.TechType{nfc.TechIsoDep}}})

	assert.Equal(t, []nfc.ElementName{transit}, r.GetDispatchTagAppsByTech([]nfc.TechType{nfc.TechNfcA, nfc.TechIsoDep}))
	assert.Equal(t, []nfc.ElementName{reader, transit},
		r.GetDispatchTagAppsByTech([]nfc.TechType{nfc.TechIsoDep, nfc.TechNdef}))
	assert.Empty(t, r.GetDispatchTagAppsByTech([]nfc.TechType{nfc.TechNfcV}))
}
