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

package virtual

import (
	"context"
	"fmt"
	"slices"

	nfc "github.com/ZaparooProject/go-nfc"
)

// Tag is a simulated tag in the RF field
type Tag struct {
	// ReconnectErr is returned by Reconnect when set
	ReconnectErr error
	UID          []byte
	TechList     []nfc.TechType
	TechParams   []nfc.TechParams
	// Ndef is the stored NDEF message, nil for a blank tag
	Ndef    []byte
	MaxSize int
	// TransientReads makes the next N ReadNdef calls fail with a timeout
	TransientReads int
	ReadOnly       bool
	Formatable     bool
	present        bool
}

// NewNdefTag creates a Type 2 style tag (NFC-A) holding message
func NewNdefTag(uid []byte, message []byte) *Tag {
	return &Tag{
		UID:      slices.Clone(uid),
		TechList: []nfc.TechType{nfc.TechNfcA, nfc.TechMifareUltralight, nfc.TechNdef},
		TechParams: []nfc.TechParams{
			{Tech: nfc.TechNfcA, Sak: 0x00, Atqa: []byte{0x44, 0x00}},
		},
		Ndef:    slices.Clone(message),
		MaxSize: 137,
	}
}

// NewIsoDepTag creates an ISO-DEP (NFC-A) tag without NDEF
func NewIsoDepTag(uid []byte) *Tag {
	return &Tag{
		UID:      slices.Clone(uid),
		TechList: []nfc.TechType{nfc.TechNfcA, nfc.TechIsoDep},
		TechParams: []nfc.TechParams{
			{Tech: nfc.TechNfcA, Sak: 0x20, Atqa: []byte{0x04, 0x00}},
			{Tech: nfc.TechIsoDep, HistoricalBytes: []byte{0x80, 0x73}},
		},
	}
}

// PlaceTag puts tag in the field under rfDiscID and reports the discovery
func (c *Controller) PlaceTag(rfDiscID int, tag *Tag) {
	c.mu.Lock()
	tag.present = true
	c.tags[rfDiscID] = tag
	listener := c.tagListener
	c.mu.Unlock()

	if listener != nil {
		listener.OnTagDiscovered(rfDiscID)
	}
}

// RemoveTag takes the tag out of the field and reports the loss
func (c *Controller) RemoveTag(rfDiscID int) {
	c.mu.Lock()
	tag, ok := c.tags[rfDiscID]
	if ok {
		tag.present = false
	}
	delete(c.connected, rfDiscID)
	delete(c.fieldChecks, rfDiscID)
	listener := c.tagListener
	c.mu.Unlock()

	if ok && listener != nil {
		listener.OnTagLost(rfDiscID)
	}
}

// TagNdef returns the NDEF message currently stored on a tag
func (c *Controller) TagNdef(rfDiscID int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tag, ok := c.tags[rfDiscID]; ok {
		return slices.Clone(tag.Ndef)
	}
	return nil
}

// FieldCheckInterval returns the presence-check interval armed for a tag,
// or 0 when none is armed.
func (c *Controller) FieldCheckInterval(rfDiscID int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fieldChecks[rfDiscID]
}

// ConnectedTech returns the technology a tag is connected with
func (c *Controller) ConnectedTech(rfDiscID int) (nfc.TechType, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tech, ok := c.connected[rfDiscID]
	return tech, ok
}

// presentTag returns the tag under rfDiscID when it is still in the field.
// Must be called with c.mu held.
func (c *Controller) presentTag(op string, rfDiscID int) (*Tag, error) {
	tag, ok := c.tags[rfDiscID]
	if !ok || !tag.present {
		return nil, nfc.NewHardwareError(op, nfc.ErrTagLost, nfc.ErrorTypeRejected)
	}
	return tag, nil
}

// Connect implements nfc.TagInterface
func (c *Controller) Connect(_ context.Context, rfDiscID int, tech nfc.TechType) error {
	if err := c.begin("Connect", fmt.Sprintf("%d,%s", rfDiscID, tech)); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	tag, err := c.presentTag("Connect", rfDiscID)
	if err != nil {
		return err
	}
	if !nfc.HasTech(tag.TechList, tech) {
		return nfc.NewHardwareError("Connect", nfc.ErrInvalidParameter, nfc.ErrorTypeRejected)
	}
	c.connected[rfDiscID] = tech
	return nil
}

// Disconnect implements nfc.TagInterface
func (c *Controller) Disconnect(_ context.Context, rfDiscID int) error {
	if err := c.begin("Disconnect", fmt.Sprint(rfDiscID)); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.connected, rfDiscID)
	return nil
}

// Reconnect implements nfc.TagInterface
func (c *Controller) Reconnect(_ context.Context, rfDiscID int) error {
	if err := c.begin("Reconnect", fmt.Sprint(rfDiscID)); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	tag, err := c.presentTag("Reconnect", rfDiscID)
	if err != nil {
		return err
	}
	return tag.ReconnectErr
}

// Transceive echoes the request followed by 90 00
func (c *Controller) Transceive(_ context.Context, rfDiscID int, data []byte) ([]byte, error) {
	if err := c.begin("Transceive", fmt.Sprintf("%d,%X", rfDiscID, data)); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.presentTag("Transceive", rfDiscID); err != nil {
		return nil, err
	}
	return append(slices.Clone(data), 0x90, 0x00), nil
}

// ReadNdef implements nfc.TagInterface. A blank tag yields no data and no error.
func (c *Controller) ReadNdef(_ context.Context, rfDiscID int) ([]byte, error) {
	if err := c.begin("ReadNdef", fmt.Sprint(rfDiscID)); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	tag, err := c.presentTag("ReadNdef", rfDiscID)
	if err != nil {
		return nil, err
	}
	if tag.TransientReads > 0 {
		tag.TransientReads--
		return nil, nfc.NewHardwareError("ReadNdef", nfc.ErrHardwareTimeout, nfc.ErrorTypeTransient)
	}
	if !nfc.HasTech(tag.TechList, nfc.TechNdef) {
		return nil, nil
	}
	return slices.Clone(tag.Ndef), nil
}

// WriteNdef implements nfc.TagInterface
func (c *Controller) WriteNdef(_ context.Context, rfDiscID int, data []byte) error {
	if err := c.begin("WriteNdef", fmt.Sprint(rfDiscID)); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	tag, err := c.presentTag("WriteNdef", rfDiscID)
	if err != nil {
		return err
	}
	if tag.ReadOnly || !nfc.HasTech(tag.TechList, nfc.TechNdef) {
		return nfc.NewHardwareError("WriteNdef", nfc.ErrHardwareRejected, nfc.ErrorTypeRejected)
	}
	if tag.MaxSize > 0 && len(data) > tag.MaxSize {
		return nfc.NewHardwareError("WriteNdef", nfc.ErrInvalidParameter, nfc.ErrorTypeRejected)
	}
	tag.Ndef = slices.Clone(data)
	return nil
}

// FormatNdef implements nfc.TagInterface
func (c *Controller) FormatNdef(_ context.Context, rfDiscID int, _ []byte) error {
	if err := c.begin("FormatNdef", fmt.Sprint(rfDiscID)); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	tag, err := c.presentTag("FormatNdef", rfDiscID)
	if err != nil {
		return err
	}
	if !tag.Formatable && !nfc.HasTech(tag.TechList, nfc.TechNdefFormatable) {
		return nfc.NewHardwareError("FormatNdef", nfc.ErrHardwareRejected, nfc.ErrorTypeRejected)
	}
	tag.TechList = slices.DeleteFunc(slices.Clone(tag.TechList), func(t nfc.TechType) bool {
		return t == nfc.TechNdefFormatable
	})
	if !nfc.HasTech(tag.TechList, nfc.TechNdef) {
		tag.TechList = append(tag.TechList, nfc.TechNdef)
	}
	tag.Ndef = nil
	return nil
}

// SetNdefReadOnly implements nfc.TagInterface
func (c *Controller) SetNdefReadOnly(_ context.Context, rfDiscID int) error {
	if err := c.begin("SetNdefReadOnly", fmt.Sprint(rfDiscID)); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	tag, err := c.presentTag("SetNdefReadOnly", rfDiscID)
	if err != nil {
		return err
	}
	tag.ReadOnly = true
	return nil
}

// DetectNdefInfo implements nfc.TagInterface
func (c *Controller) DetectNdefInfo(_ context.Context, rfDiscID int) (nfc.NdefInfo, error) {
	if err := c.begin("DetectNdefInfo", fmt.Sprint(rfDiscID)); err != nil {
		return nfc.NdefInfo{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	tag, err := c.presentTag("DetectNdefInfo", rfDiscID)
	if err != nil {
		return nfc.NdefInfo{}, err
	}
	if !nfc.HasTech(tag.TechList, nfc.TechNdef) {
		return nfc.NdefInfo{}, nfc.ErrNoNdef
	}
	mode := nfc.NdefModeReadWrite
	if tag.ReadOnly {
		mode = nfc.NdefModeReadOnly
	}
	return nfc.NdefInfo{
		Type:    2,
		MaxSize: tag.MaxSize,
		Mode:    mode,
		Message: slices.Clone(tag.Ndef),
	}, nil
}

// IsTagFieldOn implements nfc.TagInterface
func (c *Controller) IsTagFieldOn(_ context.Context, rfDiscID int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	tag, ok := c.tags[rfDiscID]
	return ok && tag.present
}

// StartFieldOnChecking implements nfc.TagInterface
func (c *Controller) StartFieldOnChecking(rfDiscID int, interval int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands = append(c.commands, Command{Name: "StartFieldOnChecking", Args: fmt.Sprintf("%d,%d", rfDiscID, interval)})
	c.fieldChecks[rfDiscID] = interval
}

// StopFieldChecking implements nfc.TagInterface
func (c *Controller) StopFieldChecking(rfDiscID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.fieldChecks, rfDiscID)
}

// GetTechList implements nfc.TagInterface
func (c *Controller) GetTechList(rfDiscID int) []nfc.TechType {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tag, ok := c.tags[rfDiscID]; ok {
		return slices.Clone(tag.TechList)
	}
	return nil
}

// GetTagUID implements nfc.TagInterface
func (c *Controller) GetTagUID(rfDiscID int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tag, ok := c.tags[rfDiscID]; ok {
		return slices.Clone(tag.UID)
	}
	return nil
}

// GetTechParams implements nfc.TagInterface
func (c *Controller) GetTechParams(rfDiscID int) []nfc.TechParams {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tag, ok := c.tags[rfDiscID]; ok {
		return slices.Clone(tag.TechParams)
	}
	return nil
}
