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
	"maps"
	"slices"
	"strings"

	nfc "github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/appdata"
)

// AidEntry is one row of the controller AID routing table.
type AidEntry struct {
	Aid     string
	Route   int
	AidInfo int
	Power   int
}

// AidTable maps AID to its routing entry.
type AidTable map[string]AidEntry

// Equal reports whether both tables hold the same entries
func (t AidTable) Equal(other AidTable) bool {
	return maps.Equal(t, other)
}

// SortedAids returns the table keys in ascending order
func (t AidTable) SortedAids() []string {
	aids := slices.Collect(maps.Keys(t))
	slices.Sort(aids)
	return aids
}

// Clone returns a copy of the table
func (t AidTable) Clone() AidTable {
	return maps.Clone(t)
}

func newHostEntry(aid string) AidEntry {
	return AidEntry{
		Aid:   aid,
		Route: nfc.RouteHost,
		Power: nfc.PowerStateHost,
	}
}

// BuildAidEntries derives the AID table from installed apps and the current
// foreground/payment selection. Other-category AIDs are always routed;
// payment AIDs only for the foreground and default-payment apps. Dynamic
// AIDs of the active session are always routed.
func BuildAidEntries(
	hceApps []appdata.HceAppAidInfo,
	foreground nfc.ElementName,
	defaultPayment nfc.ElementName,
	dynamicAids []string,
) AidTable {
	table := make(AidTable)
	for _, app := range hceApps {
		selected := (!foreground.IsEmpty() && app.Element.SameApp(foreground)) ||
			(!defaultPayment.IsEmpty() && app.Element.SameApp(defaultPayment))
		for _, aid := range app.Aids {
			if aid.Category == nfc.AidCategoryOther || selected {
				key := strings.ToUpper(aid.Value)
				table[key] = newHostEntry(key)
			}
		}
	}
	for _, aid := range dynamicAids {
		key := strings.ToUpper(aid)
		table[key] = newHostEntry(key)
	}
	return table
}
