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

package nfc

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHardwareError(t *testing.T) {
	t.Parallel()

	err := NewHardwareError("AddAidRouting", ErrAidTableFull, ErrorTypeRejected)

	assert.Equal(t, "AddAidRouting: AID routing table full", err.Error())
	assert.ErrorIs(t, err, ErrAidTableFull)

	var he *HardwareError
	wrapped := fmt.Errorf("pushing table: %w", err)
	assert.ErrorAs(t, wrapped, &he)
	assert.Equal(t, "AddAidRouting", he.Op)
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err      error
		name     string
		expected bool
	}{
		{name: "nil", err: nil, expected: false},
		{name: "watchdog", err: ErrWatchdogTimeout, expected: true},
		{name: "busy", err: ErrHardwareBusy, expected: true},
		{name: "timeout", err: ErrHardwareTimeout, expected: true},
		{name: "deadline", err: context.DeadlineExceeded, expected: true},
		{name: "transient hardware error", err: NewHardwareError("ReadNdef", errors.New("crc"), ErrorTypeTransient), expected: true},
		{name: "rejected hardware error", err: NewHardwareError("ReadNdef", ErrHardwareBusy, ErrorTypeRejected), expected: false},
		{name: "rejected", err: ErrHardwareRejected, expected: false},
		{name: "precondition", err: ErrNfcDisabled, expected: false},
		{name: "wrapped transient", err: fmt.Errorf("op: %w", ErrHardwareTimeout), expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, IsRetryable(tt.err))
		})
	}
}

func TestIsPrecondition(t *testing.T) {
	t.Parallel()

	for _, err := range []error{ErrNfcDisabled, ErrTagNotFound, ErrTagLost, ErrInvalidParameter, ErrNotRegistered} {
		assert.True(t, IsPrecondition(fmt.Errorf("wrapped: %w", err)), "%v", err)
	}
	assert.False(t, IsPrecondition(ErrHardwareBusy))
	assert.False(t, IsPrecondition(ErrBusy))
}

func TestIsTagLost(t *testing.T) {
	t.Parallel()

	assert.True(t, IsTagLost(NewHardwareError("Transceive", ErrTagLost, ErrorTypeRejected)))
	assert.False(t, IsTagLost(ErrTagNotFound))
}

func TestCodeOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err      error
		name     string
		expected ErrorCode
		isTag    bool
	}{
		{name: "success", err: nil, expected: CodeSuccess},
		{name: "invalid parameter", err: ErrInvalidParameter, expected: CodeInvalidParameter},
		{name: "busy", err: ErrBusy, expected: CodeNfcBusy},
		{name: "tag api while off", err: ErrNfcDisabled, isTag: true, expected: CodeTagStateNfcClosed},
		{name: "hce api while off", err: ErrNfcDisabled, expected: CodeHceStateNfcClosed},
		{name: "tag lost", err: ErrTagLost, isTag: true, expected: CodeTagStateLost},
		{name: "tag not found", err: ErrTagNotFound, isTag: true, expected: CodeTagStateLost},
		{name: "unregistered", err: ErrNotRegistered, expected: CodeRegistrationAbsent},
		{name: "tag io", err: ErrHardwareTimeout, isTag: true, expected: CodeTagStateIOFailed},
		{name: "hce io", err: ErrHardwareRejected, expected: CodeHceStateIOFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, CodeOf(tt.err, tt.isTag))
		})
	}
}
