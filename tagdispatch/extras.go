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

package tagdispatch

import (
	"context"
	"slices"

	nfc "github.com/ZaparooProject/go-nfc"
)

// buildTagInfo queries the controller for the tag's identity and builds one
// extras map per technology, in tech-list order.
func (d *Dispatcher) buildTagInfo(rfDiscID int) *nfc.TagInfo {
	techs := d.tags.GetTechList(rfDiscID)
	params := d.tags.GetTechParams(rfDiscID)

	info := &nfc.TagInfo{
		RfDiscID:   rfDiscID,
		UID:        d.tags.GetTagUID(rfDiscID),
		TechList:   techs,
		TechExtras: make([]nfc.Extras, len(techs)),
	}
	for i, tech := range techs {
		idx := slices.IndexFunc(params, func(p nfc.TechParams) bool { return p.Tech == tech })
		if idx < 0 {
			info.TechExtras[i] = nfc.Extras{}
			continue
		}
		info.TechExtras[i] = techExtras(params[idx])
	}
	return info
}

func techExtras(p nfc.TechParams) nfc.Extras {
	extras := nfc.Extras{}
	switch p.Tech {
	case nfc.TechNfcA, nfc.TechMifareClassic, nfc.TechMifareUltralight:
		extras[nfc.ExtraSak] = p.Sak
		extras[nfc.ExtraAtqa] = slices.Clone(p.Atqa)
	case nfc.TechNfcB:
		extras[nfc.ExtraAppData] = slices.Clone(p.AppData)
		extras[nfc.ExtraProtocolInfo] = slices.Clone(p.ProtocolInfo)
	case nfc.TechNfcF:
		extras[nfc.ExtraSystemCode] = slices.Clone(p.SystemCode)
		extras[nfc.ExtraPmm] = slices.Clone(p.Pmm)
	case nfc.TechNfcV:
		extras[nfc.ExtraResponseFlags] = p.ResponseFlags
		extras[nfc.ExtraDsfID] = p.DsfID
	case nfc.TechIsoDep:
		extras[nfc.ExtraHistoricalBytes] = slices.Clone(p.HistoricalBytes)
		extras[nfc.ExtraHiLayerResponse] = slices.Clone(p.HiLayerResponse)
	case nfc.TechUnknown, nfc.TechNdef, nfc.TechNdefFormatable:
	}
	return extras
}

// addNdefExtras fills the NDEF extras once the message was read. Capability
// detection failures leave type and size unset.
func (d *Dispatcher) addNdefExtras(info *nfc.TagInfo, message []byte) {
	idx := slices.Index(info.TechList, nfc.TechNdef)
	if idx < 0 {
		return
	}

	var ndefInfo nfc.NdefInfo
	err := d.run("DetectNdefInfo", func(ctx context.Context) error {
		var detectErr error
		ndefInfo, detectErr = d.tags.DetectNdefInfo(ctx, info.RfDiscID)
		return detectErr
	})

	d.mu.Lock()
	defer d.mu.Unlock()
	extras := info.TechExtras[idx]
	extras[nfc.ExtraNdefMsg] = slices.Clone(message)
	if err != nil {
		nfc.Debugf("tag %d: NDEF capability detection failed: %v", info.RfDiscID, err)
		return
	}
	extras[nfc.ExtraNdefType] = ndefInfo.Type
	extras[nfc.ExtraNdefMaxSize] = ndefInfo.MaxSize
	extras[nfc.ExtraNdefMode] = ndefInfo.Mode
}
