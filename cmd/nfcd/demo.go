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

package main

import (
	"context"
	"fmt"
	"time"

	nfc "github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/appdata"
	"github.com/ZaparooProject/go-nfc/internal/virtual"
	"github.com/ZaparooProject/go-nfc/pkg/ndef"
	"github.com/ZaparooProject/go-nfc/service"
)

var (
	demoWallet = nfc.ElementName{BundleName: "com.example.wallet", AbilityName: "PayAbility"}
	demoReader = nfc.ElementName{BundleName: "com.example.reader", AbilityName: "MainAbility"}
)

const demoPaymentAid = "A0000000041010"

// runDemo drives the virtual controller through a tag read and a payment
// SELECT so the whole service path can be watched with -debug.
func runDemo(ctx context.Context, svc *service.Service, ctrl *virtual.Controller, sys *virtual.System) error {
	step := func(format string, args ...any) error {
		_, _ = fmt.Printf("demo: "+format+"\n", args...)
		waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return svc.WaitIdle(waitCtx)
	}

	svc.HandlePackageEvent(service.PackageEvent{
		Bundle: demoWallet.BundleName,
		Action: service.PackageAdded,
		Apps:   []appdata.AppInfo{{Element: demoWallet, PaymentAids: []string{demoPaymentAid}}},
	})
	svc.HandlePackageEvent(service.PackageEvent{
		Bundle: demoReader.BundleName,
		Action: service.PackageAdded,
		Apps:   []appdata.AppInfo{{Element: demoReader, TechList: []nfc.TechType{nfc.TechNdef}}},
	})
	if err := step("installed %s and %s", demoWallet, demoReader); err != nil {
		return err
	}

	if err := svc.TurnOn(); err != nil {
		return fmt.Errorf("demo turn on: %w", err)
	}
	if err := step("turning NFC on"); err != nil {
		return err
	}
	svc.OnDefaultPaymentServiceChange(demoWallet)
	if err := step("default payment set to %s", demoWallet); err != nil {
		return err
	}

	msg, err := ndef.NewMessage(ndef.NewURIRecord("https://zaparoo.org")).Encode()
	if err != nil {
		return fmt.Errorf("demo NDEF: %w", err)
	}
	ctrl.PlaceTag(1, virtual.NewNdefTag([]byte{0x04, 0xA1, 0xB2, 0xC3, 0xD4, 0xE5, 0xF6}, msg))
	if err := step("tag placed"); err != nil {
		return err
	}
	ctrl.RemoveTag(1)

	if err := svc.CardEmulation().RegHceCmdCallback(demoWallet, func(apdu []byte) {
		_, _ = fmt.Printf("demo: %s received APDU %X\n", demoWallet, apdu)
		if err := svc.CardEmulation().SendRawFrame(demoWallet, []byte{0x90, 0x00}); err != nil {
			_, _ = fmt.Printf("demo: response failed (code %d): %v\n", nfc.CodeOf(err, false), err)
		}
	}); err != nil {
		return fmt.Errorf("demo HCE callback: %w", err)
	}
	ctrl.ActivateField()
	ctrl.ActivateCardEmulation()
	ctrl.ReceiveApdu([]byte{0x00, 0xA4, 0x04, 0x00, 0x07, 0xA0, 0x00, 0x00, 0x00, 0x04, 0x10, 0x10, 0x00})
	ctrl.DeactivateCardEmulation()
	ctrl.DeactivateField()
	if err := step("payment reader session finished"); err != nil {
		return err
	}

	_, _ = fmt.Printf("demo: %d launches, %d frames sent, AID table %d entries\n",
		len(sys.Launches()), len(ctrl.SentFrames()), len(ctrl.AidTable()))
	return nil
}
