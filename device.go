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
	"fmt"
	"time"

	"github.com/uwrt/go-actuator/internal/frame"
	"github.com/uwrt/go-actuator/internal/syncutil"
)

// Defaults for the actuator board link
const (
	DefaultAddress       uint16 = 0x1C
	DefaultPollInterval         = 300 * time.Millisecond
	DefaultMaxStatusAge         = 1000 * time.Millisecond
	DefaultFirmwareMajor uint8  = 1
	DefaultFirmwareMinor uint8  = 0
)

// DeviceConfig contains configuration options for the Device
type DeviceConfig struct {
	// Clock returns the current time. Tests replace it to drive liveness.
	Clock func() time.Time
	// PollInterval is the status poll period used by polling.DeviceActor
	PollInterval time.Duration
	// MaxStatusAge is how long a good status keeps the board "connected"
	MaxStatusAge time.Duration
	// Address is the 7-bit bus address of the board
	Address uint16
	// FirmwareMajor and FirmwareMinor must match the board exactly
	FirmwareMajor uint8
	FirmwareMinor uint8
}

// DefaultDeviceConfig returns default device configuration
func DefaultDeviceConfig() *DeviceConfig {
	return &DeviceConfig{
		Clock:         time.Now,
		PollInterval:  DefaultPollInterval,
		MaxStatusAge:  DefaultMaxStatusAge,
		Address:       DefaultAddress,
		FirmwareMajor: DefaultFirmwareMajor,
		FirmwareMinor: DefaultFirmwareMinor,
	}
}

// Option represents a functional option for New
type Option func(*Device) error

// WithAddress sets the 7-bit board address
func WithAddress(addr uint16) Option {
	return func(d *Device) error {
		if addr == 0 || addr > 0x7F {
			return fmt.Errorf("%w: address 0x%X is not a 7-bit address", ErrInvalidConfig, addr)
		}
		d.config.Address = addr
		return nil
	}
}

// WithPollInterval sets the status poll period
func WithPollInterval(interval time.Duration) Option {
	return func(d *Device) error {
		if interval <= 0 {
			return fmt.Errorf("%w: poll interval must be positive", ErrInvalidConfig)
		}
		d.config.PollInterval = interval
		return nil
	}
}

// WithMaxStatusAge sets the staleness window of the last good status
func WithMaxStatusAge(age time.Duration) Option {
	return func(d *Device) error {
		if age <= 0 {
			return fmt.Errorf("%w: max status age must be positive", ErrInvalidConfig)
		}
		d.config.MaxStatusAge = age
		return nil
	}
}

// WithFirmwareVersion sets the board firmware version the engine accepts
func WithFirmwareVersion(major, minor uint8) Option {
	return func(d *Device) error {
		d.config.FirmwareMajor = major
		d.config.FirmwareMinor = minor
		return nil
	}
}

// WithClock replaces the time source
func WithClock(clock func() time.Time) Option {
	return func(d *Device) error {
		if clock == nil {
			return fmt.Errorf("%w: nil clock", ErrInvalidConfig)
		}
		d.config.Clock = clock
		return nil
	}
}

// Device drives one actuator board through an asynchronous Transport.
//
// Thread Safety: all methods are safe for concurrent use. Completion handlers
// run on the transport's executor goroutine and share the device lock with
// callers, so no method blocks on bus activity.
type Device struct {
	transport      Transport
	safety         Safety
	config         *DeviceConfig
	statusDeadline time.Time
	pool           slotPool
	statusCmd      slot
	killCmd        slot
	timingCmd      slot
	timings        [NumTimings]timingEntry
	lastStatus     Status
	mu             syncutil.Mutex
	missing        TimingMask
	haveStatus     bool
	polled         bool
	versionWarned  bool
	killRefresh    bool
	closed         bool
}

// New creates an actuator device on transport. safety receives faults and
// supplies the kill switch state.
func New(transport Transport, safety Safety, opts ...Option) (*Device, error) {
	if transport == nil || safety == nil {
		return nil, fmt.Errorf("%w: transport and safety are required", ErrInvalidParameter)
	}
	d := &Device{
		transport: transport,
		safety:    safety,
		config:    DefaultDeviceConfig(),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}

	// The last status is expired until the first good poll
	d.statusDeadline = d.now()
	d.populateLocked(&d.statusCmd, CmdGetStatus, handlerStatus, false)
	d.populateLocked(&d.killCmd, CmdSetKillSwitch, handlerKillSwitch, true)
	return d, nil
}

// Config returns a copy of the device configuration
func (d *Device) Config() DeviceConfig {
	return *d.config
}

// Close stops the device from issuing new commands. Transfers already queued
// still complete through their handlers.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// BusySlots reports how many pool slots are claimed.
func (d *Device) BusySlots() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pool.busy()
}

func (d *Device) now() time.Time {
	return d.config.Clock()
}

// populateLocked prepares s for command id. The request payload is left for
// the caller to fill.
func (d *Device) populateLocked(s *slot, id CommandID, h responseHandler, important bool) {
	s.cmd = id
	s.handler = h
	s.important = important
	s.request[0] = byte(id)
	s.xfer = Transfer{
		Handler: d,
		Context: s,
		Addr:    d.config.Address,
		Tx:      s.request[:id.CommandSize()],
		Rx:      s.response[:id.ResponseSize()],
	}
}

// sendLocked seals the request frame and queues it. On failure the slot is
// released and the failure escalated.
func (d *Device) sendLocked(s *slot) error {
	frame.Seal(s.xfer.Tx)
	if err := d.transport.Enqueue(&s.xfer, &s.inProgress); err != nil {
		s.inUse = false
		logErrorf("actuator: unable to queue %s: %v", s.cmd, err)
		d.safety.RaiseFault(FaultActuatorFail)
		return fmt.Errorf("queue %s: %w", s.cmd, err)
	}
	return nil
}

// reportLocked logs a command failure, escalating it when the slot is important.
func (d *Device) reportLocked(s *slot, err error) {
	if s.important {
		logErrorf("actuator: %s: %v", s.cmd, err)
		d.safety.RaiseFault(FaultActuatorFail)
		return
	}
	logWarnf("actuator: non-critical %s: %v", s.cmd, err)
}

// TransferDone validates the response frame and dispatches it.
func (d *Device) TransferDone(t *Transfer) {
	s, ok := t.Context.(*slot)
	if !ok {
		logErrorf("actuator: completion for foreign transfer")
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if len(t.Rx) > 0 && !frame.Verify(t.Rx) {
		d.reportLocked(s, fmt.Errorf("response: %w", ErrChecksumMismatch))
		s.inUse = false
		return
	}
	if !d.dispatchLocked(s) {
		s.inUse = false
	}
}

// TransferFailed logs the transport failure and releases the slot.
func (d *Device) TransferFailed(t *Transfer, err error) {
	s, ok := t.Context.(*slot)
	if !ok {
		logErrorf("actuator: failure for foreign transfer: %v", err)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.reportLocked(s, err)
	s.inUse = false
}

// dispatchLocked runs the response handler of s and reports whether the slot
// was retained for a chained send.
func (d *Device) dispatchLocked(s *slot) bool {
	switch s.handler {
	case handlerResult:
		d.handleResultLocked(s)
		return false
	case handlerStatus:
		d.handleStatusLocked(s)
		return false
	case handlerKillSwitch:
		return d.handleKillSwitchLocked(s)
	case handlerTiming:
		return d.handleTimingLocked(s)
	default:
		return false
	}
}

func (d *Device) handleResultLocked(s *slot) {
	if res := Result(s.response[0]); res != ResultSuccessful {
		d.reportLocked(s, &CommandError{Command: s.cmd, Result: res})
	}
}
