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

// Package appdata keeps the NFC-relevant declarations of installed
// applications: card-emulation AIDs and the tag technologies they handle.
package appdata

import (
	"slices"
	"strings"

	nfc "github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/internal/syncutil"
)

// AppInfo is the NFC metadata one ability declares in its bundle.
type AppInfo struct {
	Element     nfc.ElementName
	TechList    []nfc.TechType
	PaymentAids []string
	OtherAids   []string
	// OffHost is set for abilities whose card emulation runs on a secure element
	OffHost bool
}

// AidInfo is one declared AID with its category
type AidInfo struct {
	Value    string
	Category nfc.AidCategory
}

// HceAppAidInfo is an installed HCE ability and the AIDs it declares
type HceAppAidInfo struct {
	Element nfc.ElementName
	Aids    []AidInfo
}

// Declares reports whether the app declares aid in any category
func (h HceAppAidInfo) Declares(aid string) bool {
	for _, a := range h.Aids {
		if strings.EqualFold(a.Value, aid) {
			return true
		}
	}
	return false
}

// DeclaresPayment reports whether the app declares aid as a payment AID
func (h HceAppAidInfo) DeclaresPayment(aid string) bool {
	for _, a := range h.Aids {
		if a.Category == nfc.AidCategoryPayment && strings.EqualFold(a.Value, aid) {
			return true
		}
	}
	return false
}

// Registry holds AppInfo records keyed by bundle.
type Registry struct {
	bundles map[string][]AppInfo
	mu      syncutil.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{bundles: make(map[string][]AppInfo)}
}

// UpdateAidList replaces every record of bundle with apps. Apps without any
// NFC declaration are dropped. Returns whether the stored set changed.
func (r *Registry) UpdateAidList(bundle string, apps []AppInfo) bool {
	filtered := make([]AppInfo, 0, len(apps))
	for _, app := range apps {
		if app.Element.BundleName != bundle {
			nfc.Debugf("appdata: ignoring %s declared under bundle %s", app.Element, bundle)
			continue
		}
		if len(app.TechList) == 0 && len(app.PaymentAids) == 0 && len(app.OtherAids) == 0 && !app.OffHost {
			continue
		}
		filtered = append(filtered, normalize(app))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old, existed := r.bundles[bundle]
	if len(filtered) == 0 {
		delete(r.bundles, bundle)
		return existed
	}
	if existed && equalApps(old, filtered) {
		return false
	}
	r.bundles[bundle] = filtered
	return true
}

// RemoveApp forgets every record of bundle. Returns whether anything was removed.
func (r *Registry) RemoveApp(bundle string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bundles[bundle]; !ok {
		return false
	}
	delete(r.bundles, bundle)
	return true
}

// IsBundleInstalled reports whether bundle has NFC declarations on record
func (r *Registry) IsBundleInstalled(bundle string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bundles[bundle]
	return ok
}

// GetApp returns the record for element
func (r *Registry) GetApp(element nfc.ElementName) (AppInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, app := range r.bundles[element.BundleName] {
		if app.Element.SameApp(element) {
			return app, true
		}
	}
	return AppInfo{}, false
}

// GetHceApps returns every ability declaring host card-emulation AIDs,
// ordered by element key so callers see a deterministic order.
func (r *Registry) GetHceApps() []HceAppAidInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []HceAppAidInfo
	for _, apps := range r.bundles {
		for _, app := range apps {
			if app.OffHost || len(app.PaymentAids)+len(app.OtherAids) == 0 {
				continue
			}
			info := HceAppAidInfo{Element: app.Element}
			for _, aid := range app.PaymentAids {
				info.Aids = append(info.Aids, AidInfo{Value: aid, Category: nfc.AidCategoryPayment})
			}
			for _, aid := range app.OtherAids {
				info.Aids = append(info.Aids, AidInfo{Value: aid, Category: nfc.AidCategoryOther})
			}
			result = append(result, info)
		}
	}
	slices.SortFunc(result, func(a, b HceAppAidInfo) int {
		return strings.Compare(a.Element.Key(), b.Element.Key())
	})
	return result
}

// GetDispatchTagAppsByTech returns abilities declaring any of techs.
func (r *Registry) GetDispatchTagAppsByTech(techs []nfc.TechType) []nfc.ElementName {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []nfc.ElementName
	for _, apps := range r.bundles {
		for _, app := range apps {
			if slices.ContainsFunc(app.TechList, func(t nfc.TechType) bool { return nfc.HasTech(techs, t) }) {
				result = append(result, app.Element)
			}
		}
	}
	slices.SortFunc(result, func(a, b nfc.ElementName) int {
		return strings.Compare(a.Key(), b.Key())
	})
	return result
}

// GetBundleAbilities returns every ability recorded for bundle
func (r *Registry) GetBundleAbilities(bundle string) []nfc.ElementName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	apps := r.bundles[bundle]
	result := make([]nfc.ElementName, 0, len(apps))
	for _, app := range apps {
		result = append(result, app.Element)
	}
	return result
}

func normalize(app AppInfo) AppInfo {
	out := app
	out.TechList = slices.Clone(app.TechList)
	out.PaymentAids = upperAll(app.PaymentAids)
	out.OtherAids = upperAll(app.OtherAids)
	return out
}

func upperAll(aids []string) []string {
	if len(aids) == 0 {
		return nil
	}
	out := make([]string, 0, len(aids))
	for _, aid := range aids {
		if aid = strings.ToUpper(strings.TrimSpace(aid)); aid != "" {
			out = append(out, aid)
		}
	}
	return out
}

func equalApps(a, b []AppInfo) bool {
	return slices.EqualFunc(a, b, func(x, y AppInfo) bool {
		return x.Element == y.Element &&
			x.OffHost == y.OffHost &&
			slices.Equal(x.TechList, y.TechList) &&
			slices.Equal(x.PaymentAids, y.PaymentAids) &&
			slices.Equal(x.OtherAids, y.OtherAids)
	})
}
