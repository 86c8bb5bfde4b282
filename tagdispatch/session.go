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
	"fmt"
	"maps"
	"slices"

	nfc "github.com/ZaparooProject/go-nfc"
)

// lookup checks the preconditions of an app-facing tag command
func (d *Dispatcher) lookup(rfDiscID int) (*TagHost, error) {
	if d.state.GetNfcState() != nfc.StateOn {
		return nil, nfc.ErrNfcDisabled
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	host, ok := d.hosts[rfDiscID]
	if !ok {
		if slices.Contains(d.lost, rfDiscID) {
			return nil, nfc.ErrTagLost
		}
		return nil, nfc.ErrTagNotFound
	}
	return host, nil
}

// tagErr maps a failed command on a tag that is gone to ErrTagLost
func (d *Dispatcher) tagErr(rfDiscID int, op string, err error) error {
	if err == nil || nfc.IsTagLost(err) {
		return err
	}
	d.mu.Lock()
	_, registered := d.hosts[rfDiscID]
	d.mu.Unlock()
	if !registered {
		return fmt.Errorf("%s: %w: %w", op, nfc.ErrTagLost, err)
	}
	return err
}

// exec runs a tag command after the precondition check
func (d *Dispatcher) exec(rfDiscID int, op string, fn func(ctx context.Context) error) error {
	if _, err := d.lookup(rfDiscID); err != nil {
		return err
	}
	err := d.tagErr(rfDiscID, op, d.run(op, fn))
	if err != nil && !nfc.IsPrecondition(err) {
		nfc.Debugf("tag %d: %s failed with code %d: %v", rfDiscID, op, nfc.CodeOf(err, true), err)
	}
	return err
}

// Connect selects tech for subsequent commands on the tag
func (d *Dispatcher) Connect(rfDiscID int, tech nfc.TechType) error {
	host, err := d.lookup(rfDiscID)
	if err != nil {
		return err
	}
	if !nfc.HasTech(host.Info.TechList, tech) {
		return nfc.ErrInvalidParameter
	}
	err = d.tagErr(rfDiscID, "Connect", d.run("Connect", func(ctx context.Context) error {
		return d.tags.Connect(ctx, rfDiscID, tech)
	}))
	if err != nil {
		return err
	}
	d.mu.Lock()
	host.ConnectedTech = tech
	host.Info.ConnectedTech = tech
	d.mu.Unlock()
	return nil
}

// Disconnect releases the tag and forgets it
func (d *Dispatcher) Disconnect(rfDiscID int) error {
	err := d.exec(rfDiscID, "Disconnect", func(ctx context.Context) error {
		return d.tags.Disconnect(ctx, rfDiscID)
	})
	if err != nil && !nfc.IsTagLost(err) {
		return err
	}
	d.unregister(rfDiscID)
	return err
}

// Reconnect re-activates the tag with its current technology
func (d *Dispatcher) Reconnect(rfDiscID int) error {
	return d.exec(rfDiscID, "Reconnect", func(ctx context.Context) error {
		return d.tags.Reconnect(ctx, rfDiscID)
	})
}

// SendRawFrame exchanges a raw frame with the tag
func (d *Dispatcher) SendRawFrame(rfDiscID int, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nfc.ErrInvalidParameter
	}
	var resp []byte
	err := d.exec(rfDiscID, "Transceive", func(ctx context.Context) error {
		var txErr error
		resp, txErr = d.tags.Transceive(ctx, rfDiscID, data)
		return txErr
	})
	return resp, err
}

// NdefRead reads the NDEF message and caches it on the host
func (d *Dispatcher) NdefRead(rfDiscID int) ([]byte, error) {
	host, err := d.lookup(rfDiscID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.config.TagTimeout)
	defer cancel()
	data, err := nfc.ReadNdefWithRetry(ctx, d.tags, rfDiscID, d.config.Retry)
	if err != nil {
		return nil, d.tagErr(rfDiscID, "ReadNdef", err)
	}
	d.mu.Lock()
	host.LastNdef = slices.Clone(data)
	d.mu.Unlock()
	return data, nil
}

// NdefWrite writes an NDEF message to the tag
func (d *Dispatcher) NdefWrite(rfDiscID int, message []byte) error {
	if len(message) == 0 {
		return nfc.ErrInvalidParameter
	}
	host, err := d.lookup(rfDiscID)
	if err != nil {
		return err
	}
	err = d.tagErr(rfDiscID, "WriteNdef", d.run("WriteNdef", func(ctx context.Context) error {
		return d.tags.WriteNdef(ctx, rfDiscID, message)
	}))
	if err != nil {
		return err
	}
	d.mu.Lock()
	host.LastNdef = slices.Clone(message)
	d.mu.Unlock()
	return nil
}

// NdefMakeReadOnly permanently locks the NDEF area
func (d *Dispatcher) NdefMakeReadOnly(rfDiscID int) error {
	return d.exec(rfDiscID, "SetNdefReadOnly", func(ctx context.Context) error {
		return d.tags.SetNdefReadOnly(ctx, rfDiscID)
	})
}

// FormatNdef formats the tag for NDEF with the given key
func (d *Dispatcher) FormatNdef(rfDiscID int, key []byte) error {
	return d.exec(rfDiscID, "FormatNdef", func(ctx context.Context) error {
		return d.tags.FormatNdef(ctx, rfDiscID, key)
	})
}

// IsTagFieldOn reports whether the tag is still in the field
func (d *Dispatcher) IsTagFieldOn(rfDiscID int) bool {
	if _, err := d.lookup(rfDiscID); err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.config.TagTimeout)
	defer cancel()
	return d.tags.IsTagFieldOn(ctx, rfDiscID)
}

// GetTagInfo returns a copy of the tag description
func (d *Dispatcher) GetTagInfo(rfDiscID int) (*nfc.TagInfo, error) {
	host, err := d.lookup(rfDiscID)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return cloneInfo(host.Info), nil
}

// cloneInfo deep-copies a tag description. Must be called with d.mu held
// when info belongs to a registered host.
func cloneInfo(src *nfc.TagInfo) *nfc.TagInfo {
	info := *src
	info.UID = slices.Clone(src.UID)
	info.TechList = slices.Clone(src.TechList)
	info.TechExtras = make([]nfc.Extras, len(src.TechExtras))
	for i, extras := range src.TechExtras {
		info.TechExtras[i] = maps.Clone(extras)
	}
	return &info
}
