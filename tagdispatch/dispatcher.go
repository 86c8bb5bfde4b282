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

// Package tagdispatch tracks tags in the field and hands each discovered tag
// to exactly one consumer: the reader-mode app, the foreground app, an app
// named by the tag itself, or the apps declaring its technologies.
package tagdispatch

import (
	"context"
	"slices"
	"sync/atomic"
	"time"

	nfc "github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/internal/syncutil"
	"github.com/ZaparooProject/go-nfc/pkg/ndef"
)

// lostHistory bounds how many lost tag ids are remembered
const lostHistory = 32

// Config holds tag dispatch timing
type Config struct {
	// Retry governs NDEF reads right after discovery
	Retry *nfc.RetryConfig
	// IsoDepFieldCheck is the presence-check interval for ISO-DEP tags
	IsoDepFieldCheck time.Duration
	// DefaultFieldCheck is the presence-check interval for other tags
	DefaultFieldCheck time.Duration
	// TagTimeout bounds each tag command
	TagTimeout time.Duration
}

// DefaultConfig returns the default dispatch configuration
func DefaultConfig() *Config {
	return &Config{
		Retry:             nfc.DefaultRetryConfig(),
		IsoDepFieldCheck:  500 * time.Millisecond,
		DefaultFieldCheck: 125 * time.Millisecond,
		TagTimeout:        5 * time.Second,
	}
}

// Polling is the registration side consulted before normal dispatch
type Polling interface {
	IsReaderModeEnabled() bool
	IsForegroundEnabled() bool
	SendTagToReaderApp(tag *nfc.TagInfo) bool
	SendTagToForeground(tag *nfc.TagInfo) bool
}

// AppSource answers which installed apps handle a tag
type AppSource interface {
	GetDispatchTagAppsByTech(techs []nfc.TechType) []nfc.ElementName
	GetBundleAbilities(bundle string) []nfc.ElementName
	IsBundleInstalled(bundle string) bool
}

// Route says who received a discovered tag
type Route int

const (
	RouteNone Route = iota
	RouteReaderMode
	RouteForeground
	RouteLaunchRecord
	RouteSingleApp
	RouteSelector
	RouteAbandoned
)

var routeNames = map[Route]string{
	RouteNone:         "none",
	RouteReaderMode:   "reader-mode",
	RouteForeground:   "foreground",
	RouteLaunchRecord: "launch-record",
	RouteSingleApp:    "single-app",
	RouteSelector:     "selector",
	RouteAbandoned:    "abandoned",
}

func (r Route) String() string {
	if name, ok := routeNames[r]; ok {
		return name
	}
	return "unknown"
}

// TagHost is the service-side record of a tag in the field
type TagHost struct {
	FoundAt       time.Time
	Info          *nfc.TagInfo
	LastNdef      []byte
	ConnectedTech nfc.TechType
	Route         Route
}

// Metrics counts dispatch outcomes
type Metrics struct {
	Found      int64
	Lost       int64
	Duplicates int64
	Abandoned  int64
	Launched   int64
}

// Dispatcher is the tag dispatcher. Its host registry is only mutated under
// mu; tag commands run outside it.
type Dispatcher struct {
	tags     nfc.TagInterface
	polling  Polling
	apps     AppSource
	starter  nfc.AbilityStarter
	state    nfc.StateProvider
	watchdog *nfc.Watchdog
	config   *Config

	hosts map[int]*TagHost
	lost  []int

	found      atomic.Int64
	lostCount  atomic.Int64
	duplicates atomic.Int64
	abandoned  atomic.Int64
	launched   atomic.Int64

	mu syncutil.Mutex
}

// Deps are the collaborators of a Dispatcher
type Deps struct {
	Tags     nfc.TagInterface
	Polling  Polling
	Apps     AppSource
	Starter  nfc.AbilityStarter
	State    nfc.StateProvider
	Watchdog *nfc.Watchdog
}

// NewDispatcher creates a tag dispatcher
func NewDispatcher(deps Deps, config *Config) *Dispatcher {
	if config == nil {
		config = DefaultConfig()
	}
	if deps.Watchdog == nil {
		deps.Watchdog = nfc.NewWatchdog(nil)
	}
	return &Dispatcher{
		tags:     deps.Tags,
		polling:  deps.Polling,
		apps:     deps.Apps,
		starter:  deps.Starter,
		state:    deps.State,
		watchdog: deps.Watchdog,
		config:   config,
		hosts:    make(map[int]*TagHost),
	}
}

// HandleTagFound registers and dispatches a newly discovered tag. A second
// discovery of a registered id is ignored.
func (d *Dispatcher) HandleTagFound(rfDiscID int) Route {
	info := d.buildTagInfo(rfDiscID)

	d.mu.Lock()
	if _, dup := d.hosts[rfDiscID]; dup {
		d.mu.Unlock()
		d.duplicates.Add(1)
		nfc.Debugf("tag %d: already registered, ignoring discovery", rfDiscID)
		return RouteNone
	}
	host := &TagHost{Info: info, FoundAt: time.Now()}
	d.hosts[rfDiscID] = host
	d.lost = slices.DeleteFunc(d.lost, func(id int) bool { return id == rfDiscID })
	d.mu.Unlock()
	d.found.Add(1)

	interval := d.config.DefaultFieldCheck
	if nfc.HasTech(info.TechList, nfc.TechIsoDep) {
		interval = d.config.IsoDepFieldCheck
	}
	d.tags.StartFieldOnChecking(rfDiscID, int(interval.Milliseconds()))
	nfc.Debugf("tag %d: found uid=%X techs=%v", rfDiscID, info.UID, info.TechList)

	route := d.dispatch(host)
	d.mu.Lock()
	host.Route = route
	d.mu.Unlock()
	return route
}

func (d *Dispatcher) dispatch(host *TagHost) Route {
	info := host.Info
	switch {
	case d.polling.IsReaderModeEnabled():
		d.polling.SendTagToReaderApp(d.snapshot(info))
		return RouteReaderMode
	case d.polling.IsForegroundEnabled():
		d.polling.SendTagToForeground(d.snapshot(info))
		return RouteForeground
	}

	rfDiscID := info.RfDiscID
	ctx, cancel := context.WithTimeout(context.Background(), d.config.TagTimeout)
	data, err := nfc.ReadNdefWithRetry(ctx, d.tags, rfDiscID, d.config.Retry)
	cancel()

	var msg *ndef.Message
	if err == nil && len(data) > 0 {
		msg, err = ndef.Parse(data)
	}
	if err != nil || msg == nil {
		nfc.Debugf("tag %d: no valid NDEF (%v), checking presence", rfDiscID, err)
		if rerr := d.run("Reconnect", func(ctx context.Context) error {
			return d.tags.Reconnect(ctx, rfDiscID)
		}); rerr != nil {
			nfc.Debugf("tag %d: reconnect failed, abandoning: %v", rfDiscID, rerr)
			_ = d.run("Disconnect", func(ctx context.Context) error {
				return d.tags.Disconnect(ctx, rfDiscID)
			})
			d.unregister(rfDiscID)
			d.abandoned.Add(1)
			return RouteAbandoned
		}
	} else {
		d.mu.Lock()
		host.LastNdef = data
		d.mu.Unlock()
		d.addNdefExtras(info, data)

		if bundle, ok := msg.LaunchBundle(); ok && d.apps.IsBundleInstalled(bundle) {
			element := nfc.ElementName{BundleName: bundle}
			if abilities := d.apps.GetBundleAbilities(bundle); len(abilities) > 0 {
				element = abilities[0]
			}
			return d.start(RouteLaunchRecord, []nfc.ElementName{element}, info)
		}
	}

	candidates := d.apps.GetDispatchTagAppsByTech(info.TechList)
	switch len(candidates) {
	case 0:
		nfc.Debugf("tag %d: no application handles %v", rfDiscID, info.TechList)
		return RouteNone
	case 1:
		return d.start(RouteSingleApp, candidates, info)
	default:
		return d.start(RouteSelector, candidates, info)
	}
}

func (d *Dispatcher) start(route Route, candidates []nfc.ElementName, info *nfc.TagInfo) Route {
	info = d.snapshot(info)
	var err error
	if route == RouteSelector {
		err = d.starter.StartAbilitySelector(candidates, info)
	} else {
		err = d.starter.StartAbility(candidates[0], info)
	}
	if err != nil {
		nfc.Debugf("tag %d: %s launch failed: %v", info.RfDiscID, route, err)
		return RouteNone
	}
	d.launched.Add(1)
	return route
}

func (d *Dispatcher) snapshot(info *nfc.TagInfo) *nfc.TagInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return cloneInfo(info)
}

// HandleTagLost forgets a tag that left the field
func (d *Dispatcher) HandleTagLost(rfDiscID int) {
	if !d.unregister(rfDiscID) {
		return
	}
	d.lostCount.Add(1)
	nfc.Debugf("tag %d: lost", rfDiscID)
}

func (d *Dispatcher) unregister(rfDiscID int) bool {
	d.mu.Lock()
	_, ok := d.hosts[rfDiscID]
	if ok {
		delete(d.hosts, rfDiscID)
		d.lost = append(d.lost, rfDiscID)
		if len(d.lost) > lostHistory {
			d.lost = d.lost[len(d.lost)-lostHistory:]
		}
	}
	d.mu.Unlock()
	if ok {
		d.tags.StopFieldChecking(rfDiscID)
	}
	return ok
}

// Clear forgets every registered tag, used when NFC turns off
func (d *Dispatcher) Clear() {
	d.mu.Lock()
	ids := make([]int, 0, len(d.hosts))
	for id := range d.hosts {
		ids = append(ids, id)
	}
	d.mu.Unlock()
	for _, id := range ids {
		d.unregister(id)
	}
}

// Host returns the registered record for rfDiscID
func (d *Dispatcher) Host(rfDiscID int) (TagHost, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	host, ok := d.hosts[rfDiscID]
	if !ok {
		return TagHost{}, false
	}
	return *host, true
}

// RegisteredTags returns the ids of every tag in the field, ascending
func (d *Dispatcher) RegisteredTags() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]int, 0, len(d.hosts))
	for id := range d.hosts {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Metrics returns dispatch counters
func (d *Dispatcher) Metrics() Metrics {
	return Metrics{
		Found:      d.found.Load(),
		Lost:       d.lostCount.Load(),
		Duplicates: d.duplicates.Load(),
		Abandoned:  d.abandoned.Load(),
		Launched:   d.launched.Load(),
	}
}

func (d *Dispatcher) run(name string, fn func(ctx context.Context) error) error {
	return d.watchdog.Run(context.Background(), name, d.config.TagTimeout, fn)
}
