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

import "github.com/uwrt/go-actuator/internal/frame"

// PollStatus is the recurring status tick. The first call only starts the
// grace period; later calls raise or lower FaultNoActuator from the age of
// the last good status before requesting a new one.
func (d *Device) PollStatus() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	if d.polled {
		if d.connectedLocked() {
			d.safety.LowerFault(FaultNoActuator)
		} else {
			d.safety.RaiseFault(FaultNoActuator)
		}
	} else {
		d.polled = true
	}

	if d.statusCmd.inUse {
		logErrorf("actuator: unable to poll board, status request still in progress")
		d.safety.RaiseFault(FaultActuatorFail)
		return
	}
	d.statusCmd.inUse = true
	// sendLocked logs and escalates an enqueue failure itself
	_ = d.sendLocked(&d.statusCmd)
}

// IsConnected reports whether a valid status arrived within the max status age.
func (d *Device) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connectedLocked()
}

func (d *Device) connectedLocked() bool {
	return d.now().Before(d.statusDeadline)
}

// LastStatus returns the last accepted status and whether one was received.
func (d *Device) LastStatus() (Status, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastStatus, d.haveStatus
}

func (d *Device) handleStatusLocked(s *slot) {
	if res := Result(s.response[0]); res != ResultSuccessful {
		d.reportLocked(s, &CommandError{Command: s.cmd, Result: res})
		return
	}

	st := decodeStatus(frame.Payload(s.xfer.Rx))
	if st.FirmwareMajor != d.config.FirmwareMajor || st.FirmwareMinor != d.config.FirmwareMinor {
		if !d.versionWarned {
			logErrorf("actuator: invalid firmware version %d.%d (%d.%d expected): %v",
				st.FirmwareMajor, st.FirmwareMinor, d.config.FirmwareMajor, d.config.FirmwareMinor,
				ErrIncompatibleFirmware)
			d.versionWarned = true
		}
		d.safety.RaiseFault(FaultActuatorFail)
		return
	}

	if !d.connectedLocked() {
		logInfof("actuator: board online, firmware %d.%d", st.FirmwareMajor, st.FirmwareMinor)
	}
	d.lastStatus = st
	d.haveStatus = true
	d.statusDeadline = d.now().Add(d.config.MaxStatusAge)

	// A kill update in flight already carries a fresh value
	if !d.killCmd.inUse {
		d.sendKillSwitchLocked()
	}

	if st.MissingTimings != 0 {
		Debugf("board reports missing timings: %s", st.MissingTimings)
		d.missing |= st.MissingTimings & AllTimings
	}
	// Entries whose last set-timing failed are still missing locally even
	// though the board does not report them
	if d.missing != 0 {
		d.updateMissingTimingsLocked()
	}
}
