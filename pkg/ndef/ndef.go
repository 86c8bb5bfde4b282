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

// Package ndef decodes and encodes NDEF messages read from tags and finds the
// records tag dispatch acts on.
package ndef

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Type name formats
const (
	TNFEmpty       byte = 0x00
	TNFWellKnown   byte = 0x01
	TNFMedia       byte = 0x02
	TNFAbsoluteURI byte = 0x03
	TNFExternal    byte = 0x04
	TNFUnknown     byte = 0x05
	TNFUnchanged   byte = 0x06
)

// Record header flags
const (
	flagMB  byte = 0x80
	flagME  byte = 0x40
	flagCF  byte = 0x20
	flagSR  byte = 0x10
	flagIL  byte = 0x08
	tnfMask byte = 0x07
)

// Codec errors
var (
	ErrEmptyMessage    = errors.New("ndef: empty message")
	ErrTruncatedRecord = errors.New("ndef: truncated record")
	ErrInvalidTNF      = errors.New("ndef: invalid TNF")
	ErrChunkedRecord   = errors.New("ndef: chunked records not supported")
	ErrMissingBegin    = errors.New("ndef: first record lacks message-begin flag")
)

// Record is one NDEF record
type Record struct {
	Type    string
	ID      string
	Payload []byte
	TNF     byte
}

// Message is an ordered list of records
type Message struct {
	Records []Record
}

// Parse decodes a complete NDEF message. Data after the message-end record
// is ignored.
func Parse(data []byte) (*Message, error) {
	if len(data) == 0 {
		return nil, ErrEmptyMessage
	}

	msg := &Message{}
	for offset := 0; offset < len(data); {
		rec, flags, n, err := parseRecord(data[offset:])
		if err != nil {
			return nil, fmt.Errorf("record %d at offset %d: %w", len(msg.Records), offset, err)
		}
		if len(msg.Records) == 0 && flags&flagMB == 0 {
			return nil, ErrMissingBegin
		}
		msg.Records = append(msg.Records, rec)
		offset += n
		if flags&flagME != 0 {
			break
		}
	}
	return msg, nil
}

func parseRecord(data []byte) (rec Record, flags byte, n int, err error) {
	if len(data) < 3 {
		return rec, 0, 0, ErrTruncatedRecord
	}
	flags = data[0]
	if flags&flagCF != 0 {
		return rec, flags, 0, ErrChunkedRecord
	}
	rec.TNF = flags & tnfMask
	if rec.TNF > TNFUnchanged {
		return rec, flags, 0, ErrInvalidTNF
	}

	typeLen := int(data[1])
	pos := 2
	var payloadLen int
	if flags&flagSR != 0 {
		payloadLen = int(data[pos])
		pos++
	} else {
		if len(data) < pos+4 {
			return rec, flags, 0, ErrTruncatedRecord
		}
		payloadLen = int(binary.BigEndian.Uint32(data[pos:]))
		pos += 4
	}
	idLen := 0
	if flags&flagIL != 0 {
		if len(data) <= pos {
			return rec, flags, 0, ErrTruncatedRecord
		}
		idLen = int(data[pos])
		pos++
	}

	end := pos + typeLen + idLen + payloadLen
	if payloadLen < 0 || end > len(data) {
		return rec, flags, 0, ErrTruncatedRecord
	}
	rec.Type = string(data[pos : pos+typeLen])
	pos += typeLen
	rec.ID = string(data[pos : pos+idLen])
	pos += idLen
	if payloadLen > 0 {
		rec.Payload = append([]byte(nil), data[pos:end]...)
	}
	return rec, flags, end, nil
}

// Encode serializes the message. Short-record form is used where it fits.
func (m *Message) Encode() ([]byte, error) {
	if len(m.Records) == 0 {
		return nil, ErrEmptyMessage
	}

	var out []byte
	for i, rec := range m.Records {
		if rec.TNF > TNFUnchanged {
			return nil, fmt.Errorf("record %d: %w", i, ErrInvalidTNF)
		}
		flags := rec.TNF
		if i == 0 {
			flags |= flagMB
		}
		if i == len(m.Records)-1 {
			flags |= flagME
		}
		short := len(rec.Payload) <= 0xFF
		if short {
			flags |= flagSR
		}
		if rec.ID != "" {
			flags |= flagIL
		}

		out = append(out, flags, byte(len(rec.Type)))
		if short {
			out = append(out, byte(len(rec.Payload)))
		} else {
			out = binary.BigEndian.AppendUint32(out, uint32(len(rec.Payload))) //nolint:gosec // len is non-negative
		}
		if rec.ID != "" {
			out = append(out, byte(len(rec.ID)))
		}
		out = append(out, rec.Type...)
		out = append(out, rec.ID...)
		out = append(out, rec.Payload...)
	}
	return out, nil
}

// NewMessage builds a message from records
func NewMessage(records ...Record) *Message {
	return &Message{Records: records}
}

// Find returns the first record with the given TNF and type
func (m *Message) Find(tnf byte, recordType string) (Record, bool) {
	for _, rec := range m.Records {
		if rec.TNF == tnf && rec.Type == recordType {
			return rec, true
		}
	}
	return Record{}, false
}
