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
	"errors"
	"sync/atomic"
	"testing"
	"time"

	nfc "github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/appdata"
	"github.com/ZaparooProject/go-nfc/internal/settings"
	"github.com/ZaparooProject/go-nfc/internal/virtual"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	paymentAid = "A0000000031010"
	loyaltyAid = "F0010203040506"
)

type countingRouting struct {
	computes atomic.Int32
	commits  atomic.Int32
	last     atomic.Int32
}

func (r *countingRouting) ComputeRoutingParams(paymentType nfc.DefaultPaymentType) bool {
	r.computes.Add(1)
	r.last.Store(int32(paymentType))
	return true
}

func (r *countingRouting) CommitRouting() bool {
	r.commits.Add(1)
	return true
}

type ceFixture struct {
	svc      *Service
	ctrl     *virtual.Controller
	registry *appdata.Registry
	routing  *countingRouting
	state    *virtual.State
	system   *virtual.System
	prefs    *settings.Store
}

func newCeFixture(t *testing.T) *ceFixture {
	t.Helper()
	f := &ceFixture{
		ctrl:     virtual.NewController(),
		registry: appdata.NewRegistry(),
		routing:  &countingRouting{},
		state:    virtual.NewState(nfc.StateOn),
		system:   virtual.NewSystem(),
		prefs:    settings.NewMemory(),
	}
	f.svc = NewService(Deps{
		Ce:       f.ctrl,
		Apps:     f.registry,
		Routing:  f.routing,
		State:    f.state,
		Prefs:    f.prefs,
		Notifier: f.system,
	}, nil)
	return f
}

func (f *ceFixture) install(app appdata.AppInfo) {
	f.registry.UpdateAidList(app.Element.BundleName, []appdata.AppInfo{app})
}

func TestInitConfigAidRouting_Idempotent(t *testing.T) {
	t.Parallel()
	f := newCeFixture(t)
	f.install(appdata.AppInfo{Element: walletApp, OtherAids: []string{loyaltyAid}})

	require.True(t, f.svc.InitConfigAidRouting(false))
	assert.Contains(t, f.ctrl.AidTable(), loyaltyAid)

	f.ctrl.ResetCommands()
	assert.False(t, f.svc.InitConfigAidRouting(false))
	assert.Empty(t, f.ctrl.Commands(), "unchanged table must not touch the controller")

	assert.True(t, f.svc.InitConfigAidRouting(true), "force always rewrites")
	assert.Equal(t, 1, f.ctrl.CommandCount("ClearAidTable"))
}

func TestInitConfigAidRouting_EmptyTableNoHardware(t *testing.T) {
	t.Parallel()
	f := newCeFixture(t)

	assert.False(t, f.svc.InitConfigAidRouting(false))
	assert.Empty(t, f.ctrl.Commands())
}

func TestInitConfigAidRouting_PartialFailureKeepsCache(t *testing.T) {
	t.Parallel()
	f := newCeFixture(t)
	f.install(appdata.AppInfo{
		Element:   walletApp,
		OtherAids: []string{"F0010203040501", "F0010203040502", "F0010203040503"},
	})
	f.ctrl.FailAid("F0010203040502", nfc.ErrAidTableFull)

	require.True(t, f.svc.InitConfigAidRouting(false))
	assert.Equal(t, 3, f.ctrl.CommandCount("AddAidRouting"), "adds continue after a failure")
	assert.Empty(t, f.svc.GetAidTable(), "cache must stay at the previous generation")
	assert.Equal(t, []string{"F0010203040502"}, f.svc.LastReconcile().Failed())

	hw := f.ctrl.AidTable()
	assert.Contains(t, hw, "F0010203040501")
	assert.Contains(t, hw, "F0010203040503")

	// Stale cache makes the next unforced trigger retry.
	f.ctrl.FailAid("F0010203040502", nil)
	require.True(t, f.svc.InitConfigAidRouting(false))
	assert.Len(t, f.svc.GetAidTable(), 3)
	assert.True(t, f.svc.LastReconcile().Succeeded())
	assert.False(t, f.svc.InitConfigAidRouting(false))
}

func TestInitConfigAidRouting_RevertAfterPartialFailure(t *testing.T) {
	t.Parallel()
	f := newCeFixture(t)
	f.install(appdata.AppInfo{Element: walletApp, OtherAids: []string{"F0010203040501"}})
	require.True(t, f.svc.InitConfigAidRouting(false))

	f.install(appdata.AppInfo{
		Element:   transitApp,
		OtherAids: []string{"F0010203040502", "F0010203040503"},
	})
	f.ctrl.FailAid("F0010203040503", nfc.ErrAidTableFull)
	require.True(t, f.svc.InitConfigAidRouting(false))
	assert.Contains(t, f.ctrl.AidTable(), "F0010203040502")

	// the rebuilt table equals the cache, but the controller still holds
	// the half-applied generation
	require.True(t, f.registry.RemoveApp(transitApp.BundleName))
	assert.True(t, f.svc.InitConfigAidRouting(false))

	hw := f.ctrl.AidTable()
	assert.Len(t, hw, 1)
	assert.Contains(t, hw, "F0010203040501")
	assert.True(t, f.svc.LastReconcile().Succeeded())
	assert.False(t, f.svc.InitConfigAidRouting(false))
}

func TestUpdateDefaultPaymentType_SimVendorQueryBounded(t *testing.T) {
	t.Parallel()
	f := newCeFixture(t)
	f.svc.config = &Config{AidTimeout: 30 * time.Millisecond}
	simApp := nfc.ElementName{BundleName: "com.carrier.sim", AbilityName: "SimAbility"}
	f.ctrl.SetSimVendorBundleName(simApp.BundleName)
	f.ctrl.HangCommand("GetSimVendorBundleName")

	f.svc.configRoutingMu.Lock()
	f.svc.defaultPaymentElement = simApp
	f.svc.configRoutingMu.Unlock()

	require.True(t, f.svc.UpdateDefaultPaymentType())
	assert.Equal(t, nfc.PaymentTypeUninstalled, f.svc.GetDefaultPaymentType())

	f.ctrl.ReleaseCommand("GetSimVendorBundleName")
	require.True(t, f.svc.UpdateDefaultPaymentType())
	assert.Equal(t, nfc.PaymentTypeUicc, f.svc.GetDefaultPaymentType())
}

func TestInitConfigAidRouting_TableFull(t *testing.T) {
	t.Parallel()
	f := newCeFixture(t)
	f.ctrl.SetAidCapacity(2)
	f.install(appdata.AppInfo{
		Element:   walletApp,
		OtherAids: []string{"F0010203040501", "F0010203040502", "F0010203040503"},
	})

	require.True(t, f.svc.InitConfigAidRouting(false))
	result := f.svc.LastReconcile()
	assert.Equal(t, []string{"F0010203040503"}, result.Failed())
	for _, add := range result.Adds {
		if add.Err != nil {
			assert.ErrorIs(t, add.Err, nfc.ErrAidTableFull)
		}
	}
	assert.Len(t, f.ctrl.AidTable(), 2)
	assert.Empty(t, f.svc.GetAidTable())
}

func TestInitConfigAidRouting_ClearFailureKeepsCache(t *testing.T) {
	t.Parallel()
	f := newCeFixture(t)
	f.install(appdata.AppInfo{Element: walletApp, OtherAids: []string{loyaltyAid}})
	f.ctrl.FailCommand("ClearAidTable", nfc.NewHardwareError("ClearAidTable", nfc.ErrHardwareRejected, nfc.ErrorTypeRejected))

	require.True(t, f.svc.InitConfigAidRouting(false))
	assert.Empty(t, f.svc.GetAidTable())
	assert.Error(t, f.svc.LastReconcile().ClearErr)
}

func TestSearchElementByAid(t *testing.T) {
	t.Parallel()

	t.Run("NoCandidates", func(t *testing.T) {
		t.Parallel()
		f := newCeFixture(t)
		_, ok := f.svc.SearchElementByAid(paymentAid)
		assert.False(t, ok)
	})

	t.Run("SingleCandidate", func(t *testing.T) {
		t.Parallel()
		f := newCeFixture(t)
		f.install(appdata.AppInfo{Element: walletApp, OtherAids: []string{loyaltyAid}})
		got, ok := f.svc.SearchElementByAid(loyaltyAid)
		require.True(t, ok)
		assert.Equal(t, walletApp, got)
	})

	t.Run("ForegroundWinsOverDefaultPayment", func(t *testing.T) {
		t.Parallel()
		f := newCeFixture(t)
		f.install(appdata.AppInfo{Element: walletApp, OtherAids: []string{loyaltyAid}})
		f.install(appdata.AppInfo{Element: transitApp, OtherAids: []string{loyaltyAid}})
		f.svc.OnDefaultPaymentServiceChange(walletApp)
		require.NoError(t, f.svc.StartHce(transitApp, nil))

		got, ok := f.svc.SearchElementByAid(loyaltyAid)
		require.True(t, ok)
		assert.Equal(t, transitApp, got)
	})

	t.Run("DefaultPaymentNeedsPaymentCategory", func(t *testing.T) {
		t.Parallel()
		f := newCeFixture(t)
		f.install(appdata.AppInfo{Element: walletApp, PaymentAids: []string{paymentAid}})
		f.install(appdata.AppInfo{Element: transitApp, OtherAids: []string{paymentAid}})
		f.svc.OnDefaultPaymentServiceChange(walletApp)

		got, ok := f.svc.SearchElementByAid(paymentAid)
		require.True(t, ok)
		assert.Equal(t, walletApp, got)
	})

	t.Run("UnresolvedConflictIsPublished", func(t *testing.T) {
		t.Parallel()
		f := newCeFixture(t)
		f.install(appdata.AppInfo{Element: walletApp, OtherAids: []string{loyaltyAid}})
		f.install(appdata.AppInfo{Element: transitApp, OtherAids: []string{loyaltyAid}})
		f.svc.OnDefaultPaymentServiceChange(walletApp)

		_, ok := f.svc.SearchElementByAid(loyaltyAid)
		assert.False(t, ok, "default payment app only wins for payment AIDs")
		candidates, published := f.system.Conflicts(loyaltyAid)
		require.True(t, published)
		assert.ElementsMatch(t, []nfc.ElementName{walletApp, transitApp}, candidates)
	})

	t.Run("Deterministic", func(t *testing.T) {
		t.Parallel()
		f := newCeFixture(t)
		f.install(appdata.AppInfo{Element: walletApp, OtherAids: []string{loyaltyAid}})
		f.install(appdata.AppInfo{Element: transitApp, OtherAids: []string{loyaltyAid}})
		require.NoError(t, f.svc.StartHce(walletApp, nil))

		for range 20 {
			got, ok := f.svc.SearchElementByAid(loyaltyAid)
			require.True(t, ok)
			assert.Equal(t, walletApp, got)
		}
	})
}

func TestUpdateDefaultPaymentType(t *testing.T) {
	t.Parallel()

	simApp := nfc.ElementName{BundleName: "com.carrier.sim", AbilityName: "SimAbility"}
	eseApp := nfc.ElementName{BundleName: "com.bank.ese", AbilityName: "EseAbility"}

	tests := []struct {
		name    string
		element nfc.ElementName
		want    nfc.DefaultPaymentType
	}{
		{name: "Empty", element: nfc.ElementName{}, want: nfc.PaymentTypeEmpty},
		{name: "Hce", element: walletApp, want: nfc.PaymentTypeHce},
		{name: "Uninstalled", element: transitApp, want: nfc.PaymentTypeUninstalled},
		{name: "SimVendor", element: simApp, want: nfc.PaymentTypeUicc},
		{name: "OffHost", element: eseApp, want: nfc.PaymentTypeEse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newCeFixture(t)
			f.ctrl.SetSimVendorBundleName(simApp.BundleName)
			f.install(appdata.AppInfo{Element: walletApp, PaymentAids: []string{paymentAid}})
			f.install(appdata.AppInfo{Element: eseApp, OffHost: true})

			f.svc.configRoutingMu.Lock()
			f.svc.defaultPaymentElement = tt.element
			f.svc.configRoutingMu.Unlock()

			changed := f.svc.UpdateDefaultPaymentType()
			assert.Equal(t, tt.want != nfc.PaymentTypeEmpty, changed)
			assert.Equal(t, tt.want, f.svc.GetDefaultPaymentType())
			assert.False(t, f.svc.UpdateDefaultPaymentType(), "second update is a no-op")
		})
	}
}

func TestConfigRoutingAndCommit(t *testing.T) {
	t.Parallel()

	t.Run("SkippedWhenOff", func(t *testing.T) {
		t.Parallel()
		f := newCeFixture(t)
		f.state.Set(nfc.StateOff)
		f.install(appdata.AppInfo{Element: walletApp, OtherAids: []string{loyaltyAid}})

		assert.False(t, f.svc.ConfigRoutingAndCommit())
		assert.Empty(t, f.ctrl.Commands())
		assert.Zero(t, f.routing.computes.Load())
	})

	t.Run("CommitsOnChangeOnly", func(t *testing.T) {
		t.Parallel()
		f := newCeFixture(t)
		f.install(appdata.AppInfo{Element: walletApp, OtherAids: []string{loyaltyAid}})

		assert.True(t, f.svc.ConfigRoutingAndCommit())
		assert.Equal(t, int32(1), f.routing.computes.Load())
		assert.Equal(t, int32(1), f.routing.commits.Load())

		assert.False(t, f.svc.ConfigRoutingAndCommit())
		assert.Equal(t, int32(1), f.routing.computes.Load())
	})

	t.Run("PaymentChangeAloneCommits", func(t *testing.T) {
		t.Parallel()
		f := newCeFixture(t)
		f.install(appdata.AppInfo{Element: walletApp, OtherAids: []string{loyaltyAid}})
		require.True(t, f.svc.ConfigRoutingAndCommit())

		f.svc.OnDefaultPaymentServiceChange(walletApp)
		assert.Equal(t, int32(2), f.routing.computes.Load())
		assert.Equal(t, int32(nfc.PaymentTypeHce), f.routing.last.Load())
		assert.Equal(t, walletApp, f.prefs.GetDefaultPaymentApp())
	})
}

func TestStartStopHce(t *testing.T) {
	t.Parallel()

	t.Run("RoutesDynamicAids", func(t *testing.T) {
		t.Parallel()
		f := newCeFixture(t)
		require.NoError(t, f.svc.StartHce(transitApp, []string{"d2760000850101"}))

		assert.Equal(t, transitApp, f.svc.GetForegroundElement())
		assert.Equal(t, []string{"D2760000850101"}, f.svc.GetDynamicAids())
		assert.Contains(t, f.ctrl.AidTable(), "D2760000850101")

		require.NoError(t, f.svc.StopHce(transitApp))
		assert.True(t, f.svc.GetForegroundElement().IsEmpty())
		assert.NotContains(t, f.ctrl.AidTable(), "D2760000850101")
	})

	t.Run("Preconditions", func(t *testing.T) {
		t.Parallel()
		f := newCeFixture(t)
		require.ErrorIs(t, f.svc.StartHce(nfc.ElementName{}, nil), nfc.ErrInvalidParameter)
		require.ErrorIs(t, f.svc.StartHce(transitApp, []string{"XYZ"}), nfc.ErrInvalidParameter)
		require.ErrorIs(t, f.svc.StartHce(transitApp, []string{"A000"}), nfc.ErrInvalidParameter)

		f.state.Set(nfc.StateOff)
		require.ErrorIs(t, f.svc.StartHce(transitApp, nil), nfc.ErrNfcDisabled)
	})

	t.Run("BackgroundedAppIsTornDown", func(t *testing.T) {
		t.Parallel()
		f := newCeFixture(t)
		require.NoError(t, f.svc.StartHce(transitApp, []string{"D2760000850101"}))

		f.svc.HandleAppStateChanged(walletApp, false)
		assert.Equal(t, transitApp, f.svc.GetForegroundElement(), "other apps do not affect the session")

		f.svc.HandleAppStateChanged(transitApp, false)
		assert.True(t, f.svc.GetForegroundElement().IsEmpty())
		assert.Empty(t, f.svc.GetDynamicAids())
	})

	t.Run("CallbackDeathClearsSession", func(t *testing.T) {
		t.Parallel()
		f := newCeFixture(t)
		require.NoError(t, f.svc.RegHceCmdCallback(transitApp, func([]byte) {}))
		require.NoError(t, f.svc.StartHce(transitApp, nil))

		f.svc.OnHceCallbackDied(transitApp)
		assert.True(t, f.svc.GetForegroundElement().IsEmpty())
		require.ErrorIs(t, f.svc.UnRegHceCmdCallback(transitApp), nfc.ErrNotRegistered)
	})
}

func TestHandleDataApdu(t *testing.T) {
	t.Parallel()

	selectApdu := []byte{0x00, 0xA4, 0x04, 0x00, 0x07, 0xF0, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x00}

	t.Run("DeliversToResolvedApp", func(t *testing.T) {
		t.Parallel()
		f := newCeFixture(t)
		f.install(appdata.AppInfo{Element: walletApp, OtherAids: []string{loyaltyAid}})

		var received [][]byte
		require.NoError(t, f.svc.RegHceCmdCallback(walletApp, func(data []byte) {
			received = append(received, data)
		}))

		f.svc.HandleDataApdu(selectApdu)
		f.svc.HandleDataApdu([]byte{0x80, 0xCA, 0x00, 0x00, 0x00})
		require.Len(t, received, 2)
		assert.Equal(t, selectApdu, received[0])

		f.svc.HandleCardEmulationDeactivated()
		f.svc.HandleDataApdu([]byte{0x80, 0xCA, 0x00, 0x00, 0x00})
		assert.Len(t, received, 2, "no session after deactivation")
	})

	t.Run("UnknownAidAnswersFileNotFound", func(t *testing.T) {
		t.Parallel()
		f := newCeFixture(t)
		f.svc.HandleDataApdu(selectApdu)
		assert.Equal(t, [][]byte{{0x6A, 0x82}}, f.ctrl.SentFrames())
	})

	t.Run("CallbackPanicIsContained", func(t *testing.T) {
		t.Parallel()
		f := newCeFixture(t)
		f.install(appdata.AppInfo{Element: walletApp, OtherAids: []string{loyaltyAid}})
		require.NoError(t, f.svc.RegHceCmdCallback(walletApp, func([]byte) {
			panic("app bug")
		}))
		assert.NotPanics(t, func() { f.svc.HandleDataApdu(selectApdu) })
	})
}

func TestSendRawFrame(t *testing.T) {
	t.Parallel()
	f := newCeFixture(t)

	require.ErrorIs(t, f.svc.SendRawFrame(walletApp, []byte{0x90, 0x00}), nfc.ErrNotRegistered)
	require.NoError(t, f.svc.RegHceCmdCallback(walletApp, func([]byte) {}))
	require.NoError(t, f.svc.SendRawFrame(walletApp, []byte{0x90, 0x00}))
	require.ErrorIs(t, f.svc.SendRawFrame(walletApp, nil), nfc.ErrInvalidParameter)

	f.ctrl.FailCommand("SendRawFrame", errors.New("link down"))
	require.Error(t, f.svc.SendRawFrame(walletApp, []byte{0x90, 0x00}))

	f.state.Set(nfc.StateOff)
	require.ErrorIs(t, f.svc.SendRawFrame(walletApp, []byte{0x90, 0x00}), nfc.ErrNfcDisabled)
}

func TestInitializeDeinitialize(t *testing.T) {
	t.Parallel()
	f := newCeFixture(t)
	require.NoError(t, f.prefs.SetDefaultPaymentApp(walletApp))
	f.install(appdata.AppInfo{Element: walletApp, PaymentAids: []string{paymentAid}})

	f.svc.Initialize()
	assert.Equal(t, walletApp, f.svc.GetDefaultPaymentElement())
	require.True(t, f.svc.InitConfigAidRouting(true))
	assert.Contains(t, f.svc.GetAidTable(), paymentAid)

	f.svc.Deinitialize()
	assert.True(t, f.svc.GetDefaultPaymentElement().IsEmpty())
	assert.Empty(t, f.svc.GetAidTable())
	assert.Equal(t, nfc.PaymentTypeEmpty, f.svc.GetDefaultPaymentType())
}
