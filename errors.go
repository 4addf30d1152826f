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

package actuator

import (
	"errors"
	"fmt"
	"syscall"
)

// Error categories for fault escalation and caller handling
var (
	// Transport errors - surfaced by the transfer queue
	ErrTransportTimeout   = errors.New("transport timeout")
	ErrTransportWrite     = errors.New("transport write failed")
	ErrTransportRead      = errors.New("transport read failed")
	ErrTransportClosed    = errors.New("transport is closed")
	ErrNotInitialized     = errors.New("transport not initialized")
	ErrAlreadyInitialized = errors.New("transport already initialized")
	ErrQueueOverflow      = errors.New("transfer queue overflow")

	// Framing errors - detected locally, never dispatched
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// Device errors
	ErrCommandFailed        = errors.New("command execution failed")
	ErrIncompatibleFirmware = errors.New("incompatible actuator firmware")
	ErrNoFreeSlot           = errors.New("no free command slot")
	ErrDeviceClosed         = errors.New("device is closed")

	// Data errors - not retryable
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrInvalidTiming    = errors.New("invalid timing value")
	ErrUnknownTiming    = errors.New("unknown timing parameter")
	ErrInvalidConfig    = errors.New("invalid configuration")
)

// ErrorType represents the category of error
type ErrorType int

const (
	// ErrorTypeTransient indicates a potentially retryable error
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent indicates a non-retryable error
	ErrorTypePermanent
	// ErrorTypeTimeout indicates a timeout error (special handling)
	ErrorTypeTimeout
)

// Abort codes carried by TransportError.Code. The low byte names the cause,
// the next byte the bus phase that failed.
const (
	AbortBusError uint32 = 0x01
	AbortTimeout  uint32 = 0x02
	AbortOverflow uint32 = 0x03

	AbortPhaseWrite     uint32 = 0x100
	AbortPhaseRead      uint32 = 0x200
	AbortPhaseWriteRead uint32 = 0x300
)

// TransportError wraps transport-level errors with additional context
type TransportError struct {
	Err       error     // Underlying error
	Op        string    // Operation that failed
	Bus       string    // Bus identifier
	Addr      uint16    // Target address
	Code      uint32    // Opaque diagnostic code
	Type      ErrorType // Error category
	Retryable bool      // Whether the error is retryable
}

func (e *TransportError) Error() string {
	if e.Bus != "" {
		return fmt.Sprintf("%s %s@0x%02X: %v (abort 0x%X)", e.Op, e.Bus, e.Addr, e.Err, e.Code)
	}
	return fmt.Sprintf("%s: %v (abort 0x%X)", e.Op, e.Err, e.Code)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// CommandError reports a well-framed response whose result code is not
// ResultSuccessful.
type CommandError struct {
	Command CommandID
	Result  Result
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s returned %s", e.Command, e.Result)
}

func (*CommandError) Unwrap() error {
	return ErrCommandFailed
}

// IsRetryable returns true if the error is potentially retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}

	switch {
	case errors.Is(err, ErrTransportTimeout),
		errors.Is(err, ErrTransportRead),
		errors.Is(err, ErrTransportWrite),
		errors.Is(err, ErrChecksumMismatch),
		errors.Is(err, ErrNoFreeSlot):
		return true
	default:
		return false
	}
}

// GetErrorType returns the error type for the given error
func GetErrorType(err error) ErrorType {
	if err == nil {
		return ErrorTypePermanent
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Type
	}

	if errors.Is(err, ErrTransportTimeout) {
		return ErrorTypeTimeout
	}

	if IsRetryable(err) {
		return ErrorTypeTransient
	}

	return ErrorTypePermanent
}

// IsFatal returns true if the error indicates the bus or device is gone.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) && te.Type == ErrorTypePermanent {
		return true
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		//nolint:exhaustive // Only checking specific device-gone errors, not all errno values
		switch errno {
		case syscall.ENXIO, syscall.ENODEV:
			return true
		}
	}

	return errors.Is(err, ErrTransportClosed) || errors.Is(err, ErrDeviceClosed)
}

// NewTimeoutError creates a timeout error for a bus transaction
func NewTimeoutError(op, bus string, addr uint16, phase uint32) *TransportError {
	return &TransportError{
		Op:        op,
		Bus:       bus,
		Addr:      addr,
		Err:       ErrTransportTimeout,
		Code:      AbortTimeout | phase,
		Type:      ErrorTypeTimeout,
		Retryable: true,
	}
}

// NewBusError wraps a failed bus transaction (NACK, arbitration loss, ...).
func NewBusError(op, bus string, addr uint16, phase uint32, err error) *TransportError {
	sentinel := ErrTransportWrite
	if phase == AbortPhaseRead {
		sentinel = ErrTransportRead
	}
	return &TransportError{
		Op:        op,
		Bus:       bus,
		Addr:      addr,
		Err:       fmt.Errorf("%w: %w", sentinel, err),
		Code:      AbortBusError | phase,
		Type:      ErrorTypeTransient,
		Retryable: true,
	}
}

// NewOverflowError reports a transfer rejected because the queue is full
func NewOverflowError(bus string, addr uint16) *TransportError {
	return &TransportError{
		Op:   "Enqueue",
		Bus:  bus,
		Addr: addr,
		Err:  ErrQueueOverflow,
		Code: AbortOverflow,
		Type: ErrorTypePermanent,
	}
}
