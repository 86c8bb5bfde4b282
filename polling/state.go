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

package polling

import (
	"fmt"
	"runtime/debug"

	nfc "github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/internal/logging"
)

// RegistryData is an app registration for foreground dispatch or reader mode.
// At most one is live per role.
type RegistryData struct {
	Callback    nfc.TagCallback
	Element     nfc.ElementName
	CallerToken string
	TechMask    uint16
	IsEnabled   bool
	IsVendorApp bool
}

// Owns reports whether element registered this data
func (r *RegistryData) Owns(element nfc.ElementName) bool {
	return r.IsEnabled && r.Element.SameApp(element)
}

func (r *RegistryData) reset() {
	*r = RegistryData{}
}

// safeCallCallback delivers a tag with panic recovery
func safeCallCallback(callback nfc.TagCallback, tag *nfc.TagInfo, callbackName string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.CapturePanic(r, debug.Stack(), callbackName)
			err = fmt.Errorf("%s callback panicked: %v", callbackName, r)
		}
	}()
	callback(tag)
	return nil
}
