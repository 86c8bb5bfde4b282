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
)

// Error categories used by retry and error-code mapping
var (
	// Hardware errors - transient, retried on the next trigger
	ErrWatchdogTimeout = errors.New("hardware watchdog expired")
	ErrHardwareBusy    = errors.New("controller busy")
	ErrHardwareTimeout = errors.New("controller command timeout")

	// Hardware errors - explicit rejection by the controller
	ErrHardwareRejected = errors.New("controller rejected command")
	ErrAidTableFull     = errors.New("AID routing table full")

	// Precondition errors - returned to the caller, never retried
	ErrNfcDisabled      = errors.New("NFC is not enabled")
	ErrTagNotFound      = errors.New("tag not found")
	ErrTagLost          = errors.New("tag lost")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNotRegistered    = errors.New("registration not found")
	ErrNoNdef           = errors.New("no NDEF message on tag")

	// State machine errors
	ErrBusy = errors.New("NFC state transition in progress")
)

// ErrorType is the category of a hardware error
type ErrorType int

const (
	// ErrorTypeTransient indicates a timeout or busy condition
	ErrorTypeTransient ErrorType = iota
	// ErrorTypeRejected indicates an explicit failure response
	ErrorTypeRejected
)

// HardwareError wraps a failed controller command with its operation name
type HardwareError struct {
	Err  error
	Op   string
	Type ErrorType
}

func (e *HardwareError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *HardwareError) Unwrap() error {
	return e.Err
}

// NewHardwareError creates a hardware error for op
func NewHardwareError(op string, err error, errType ErrorType) *HardwareError {
	return &HardwareError{Op: op, Err: err, Type: errType}
}

// IsRetryable returns true if the error is hardware-transient
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var he *HardwareError
	if errors.As(err, &he) {
		return he.Type == ErrorTypeTransient
	}

	switch {
	case errors.Is(err, ErrWatchdogTimeout),
		errors.Is(err, ErrHardwareBusy),
		errors.Is(err, ErrHardwareTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return true
	default:
		return false
	}
}

// IsPrecondition returns true if the request could not run in the current state
func IsPrecondition(err error) bool {
	switch {
	case errors.Is(err, ErrNfcDisabled),
		errors.Is(err, ErrTagNotFound),
		errors.Is(err, ErrTagLost),
		errors.Is(err, ErrInvalidParameter),
		errors.Is(err, ErrNotRegistered):
		return true
	default:
		return false
	}
}

// IsTagLost returns true if the tag left the field during the operation
func IsTagLost(err error) bool {
	return errors.Is(err, ErrTagLost)
}

// ErrorCode is the numeric result handed to applications
type ErrorCode int

// Application-facing result codes
const (
	CodeSuccess            ErrorCode = 0
	CodeInvalidParameter   ErrorCode = 401
	CodeNfcStateInvalid    ErrorCode = 3100101
	CodeNfcBusy            ErrorCode = 3100102
	CodeTagStateNfcClosed  ErrorCode = 3100201
	CodeTagStateLost       ErrorCode = 3100202
	CodeTagStateIOFailed   ErrorCode = 3100204
	CodeHceStateNfcClosed  ErrorCode = 3100301
	CodeHceStateIOFailed   ErrorCode = 3100302
	CodeRegistrationAbsent ErrorCode = 3100303
)

// CodeOf maps an error to the application-facing code. Tag and HCE callers
// pass isTag to pick the subsystem-specific variant of shared errors.
func CodeOf(err error, isTag bool) ErrorCode {
	switch {
	case err == nil:
		return CodeSuccess
	case errors.Is(err, ErrInvalidParameter):
		return CodeInvalidParameter
	case errors.Is(err, ErrBusy):
		return CodeNfcBusy
	case errors.Is(err, ErrNfcDisabled):
		if isTag {
			return CodeTagStateNfcClosed
		}
		return CodeHceStateNfcClosed
	case errors.Is(err, ErrTagLost), errors.Is(err, ErrTagNotFound):
		return CodeTagStateLost
	case errors.Is(err, ErrNotRegistered):
		return CodeRegistrationAbsent
	case isTag:
		return CodeTagStateIOFailed
	default:
		return CodeHceStateIOFailed
	}
}
