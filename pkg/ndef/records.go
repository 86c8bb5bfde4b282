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

package ndef

import (
	"errors"
	"strings"
)

// Well-known and external record types
const (
	TypeURI  = "U"
	TypeText = "T"
	// TypeAppLaunch is the external type naming the bundle to launch
	TypeAppLaunch = "ohos.com:pkg"
)

// Payload errors
var (
	ErrShortPayload  = errors.New("ndef: payload too short")
	ErrUnknownPrefix = errors.New("ndef: unknown URI prefix code")
)

// uriPrefixes is the NFC Forum URI abbreviation table, indexed by code.
var uriPrefixes = [...]string{
	"", "http://www.", "https://www.", "http://", "https://", "tel:", "mailto:",
	"ftp://anonymous:anonymous@", "ftp://ftp.", "ftps://", "sftp://", "smb://",
	"nfs://", "ftp://", "dav://", "news:", "telnet://", "imap:", "rtsp://",
	"urn:", "pop:", "sip:", "sips:", "tftp:", "btspp://", "btl2cap://",
	"btgoep://", "tcpobex://", "irdaobex://", "file://", "urn:epc:id:",
	"urn:epc:tag:", "urn:epc:pat:", "urn:epc:raw:", "urn:epc:", "urn:nfc:",
}

// NewURIRecord creates a URI record using the longest matching abbreviation
func NewURIRecord(uri string) Record {
	code := 0
	for i, prefix := range uriPrefixes {
		if i > 0 && strings.HasPrefix(uri, prefix) && len(prefix) > len(uriPrefixes[code]) {
			code = i
		}
	}
	payload := append([]byte{byte(code)}, uri[len(uriPrefixes[code]):]...)
	return Record{TNF: TNFWellKnown, Type: TypeURI, Payload: payload}
}

// URI expands a URI record payload
func (r Record) URI() (string, error) {
	if len(r.Payload) == 0 {
		return "", ErrShortPayload
	}
	code := int(r.Payload[0])
	if code >= len(uriPrefixes) {
		return "", ErrUnknownPrefix
	}
	return uriPrefixes[code] + string(r.Payload[1:]), nil
}

// NewTextRecord creates a UTF-8 text record. An empty language means "en".
func NewTextRecord(text, language string) Record {
	if language == "" {
		language = "en"
	}
	if len(language) > 0x3F {
		language = language[:0x3F]
	}
	payload := make([]byte, 0, 1+len(language)+len(text))
	payload = append(payload, byte(len(language)))
	payload = append(payload, language...)
	payload = append(payload, text...)
	return Record{TNF: TNFWellKnown, Type: TypeText, Payload: payload}
}

// Text returns the text and language of a text record
func (r Record) Text() (text, language string, err error) {
	if len(r.Payload) == 0 {
		return "", "", ErrShortPayload
	}
	langLen := int(r.Payload[0] & 0x3F)
	if len(r.Payload) < 1+langLen {
		return "", "", ErrShortPayload
	}
	return string(r.Payload[1+langLen:]), string(r.Payload[1 : 1+langLen]), nil
}

// NewExternalRecord creates an NFC Forum external type record
func NewExternalRecord(externalType string, payload []byte) Record {
	return Record{TNF: TNFExternal, Type: externalType, Payload: payload}
}

// NewAppLaunchRecord creates a record asking the reader to launch bundle
func NewAppLaunchRecord(bundle string) Record {
	return NewExternalRecord(TypeAppLaunch, []byte(bundle))
}

// LaunchBundle returns the bundle named by an application launch record
func (m *Message) LaunchBundle() (string, bool) {
	rec, ok := m.Find(TNFExternal, TypeAppLaunch)
	if !ok || len(rec.Payload) == 0 {
		return "", false
	}
	return string(rec.Payload), true
}

// FirstURI returns the first URI record of the message
func (m *Message) FirstURI() (string, bool) {
	rec, ok := m.Find(TNFWellKnown, TypeURI)
	if !ok {
		return "", false
	}
	uri, err := rec.URI()
	return uri, err == nil
}
