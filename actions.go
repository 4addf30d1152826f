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

import "fmt"

// issue allocates a pool slot for id, lets fill write the payload and sends it.
// Every public command is important: failures latch FaultActuatorFail.
func (d *Device) issue(id CommandID, fill func(p []byte)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDeviceClosed
	}

	s := d.pool.allocate()
	if s == nil {
		logErrorf("actuator: failed to create %s request: %v", id, ErrNoFreeSlot)
		d.safety.RaiseFault(FaultActuatorFail)
		return fmt.Errorf("%s: %w", id, ErrNoFreeSlot)
	}

	h := handlerResult
	if id.ResponseSize() == 0 {
		h = handlerNone
	}
	d.populateLocked(s, id, h, true)
	if fill != nil {
		fill(s.payload())
	}
	return d.sendLocked(s)
}

func checkIndex(what string, n uint8) error {
	if n != 1 && n != 2 {
		return fmt.Errorf("%w: %s %d (expected 1 or 2)", ErrInvalidParameter, what, n)
	}
	return nil
}

func checkDuration(what string, v uint16) error {
	if v == 0 {
		return fmt.Errorf("%w: %s must be nonzero", ErrInvalidParameter, what)
	}
	return nil
}

// OpenClaw opens the claw.
func (d *Device) OpenClaw() error {
	return d.issue(CmdOpenClaw, nil)
}

// CloseClaw closes the claw.
func (d *Device) CloseClaw() error {
	return d.issue(CmdCloseClaw, nil)
}

// SetClawTimings writes claw travel times directly to the board. The timing
// cache is not touched; use SetTiming for configuration that must survive a
// board reset.
func (d *Device) SetClawTimings(openMs, closeMs uint16) error {
	if err := checkDuration("claw open time", openMs); err != nil {
		return err
	}
	if err := checkDuration("claw close time", closeMs); err != nil {
		return err
	}
	return d.issue(CmdSetClawTiming, func(p []byte) {
		putClawTiming(p, openMs, closeMs)
	})
}

// ArmTorpedo arms both torpedoes.
func (d *Device) ArmTorpedo() error {
	return d.issue(CmdArmTorpedo, nil)
}

// DisarmTorpedo disarms both torpedoes.
func (d *Device) DisarmTorpedo() error {
	return d.issue(CmdDisarmTorpedo, nil)
}

// FireTorpedo fires torpedo 1 or 2.
func (d *Device) FireTorpedo(torpedo uint8) error {
	if err := checkIndex("torpedo", torpedo); err != nil {
		return err
	}
	return d.issue(CmdFireTorpedo, func(p []byte) {
		p[0] = torpedo
	})
}

// SetTorpedoTimings writes one coil timing directly to the board.
func (d *Device) SetTorpedoTimings(torpedo uint8, kind TorpedoTiming, us uint16) error {
	if err := checkIndex("torpedo", torpedo); err != nil {
		return err
	}
	if kind >= NumTorpedoTimings {
		return fmt.Errorf("%w: torpedo timing type %d", ErrInvalidParameter, kind)
	}
	if err := checkDuration("coil time", us); err != nil {
		return err
	}
	return d.issue(CmdSetTorpedoTiming, func(p []byte) {
		putTorpedoTiming(p, torpedo, kind, us)
	})
}

// DropMarker releases dropper 1 or 2.
func (d *Device) DropMarker(dropper uint8) error {
	if err := checkIndex("dropper", dropper); err != nil {
		return err
	}
	return d.issue(CmdDropMarker, func(p []byte) {
		p[0] = dropper
	})
}

// ClearDropperStatus resets the dropper state reported in the status.
func (d *Device) ClearDropperStatus() error {
	return d.issue(CmdClearDropperStatus, nil)
}

// SetDropperTimings writes the dropper active time directly to the board.
func (d *Device) SetDropperTimings(activeMs uint16) error {
	if err := checkDuration("dropper active time", activeMs); err != nil {
		return err
	}
	return d.issue(CmdSetDropperTiming, func(p []byte) {
		putDropperTiming(p, activeMs)
	})
}

// ResetActuators resets the board. It does not answer; its timings come back
// as missing in the next status and are resynchronized from the cache.
func (d *Device) ResetActuators() error {
	return d.issue(CmdResetActuators, nil)
}
