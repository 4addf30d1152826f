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

// RequestKillRefresh forwards the current kill switch state to the board. A
// request made while an update is in flight is coalesced into a single
// follow-up update sent when the current one completes.
func (d *Device) RequestKillRefresh() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if d.killCmd.inUse {
		d.killRefresh = true
		return
	}
	d.sendKillSwitchLocked()
}

func (d *Device) sendKillSwitchLocked() {
	s := &d.killCmd
	d.killRefresh = false
	s.inUse = true
	s.payload()[0] = boolByte(d.safety.AssertingKill())
	// sendLocked logs and escalates an enqueue failure itself
	_ = d.sendLocked(s)
}

func (d *Device) handleKillSwitchLocked(s *slot) bool {
	if res := Result(s.response[0]); res != ResultSuccessful {
		logErrorf("actuator: kill switch update: %v", &CommandError{Command: s.cmd, Result: res})
		d.safety.RaiseFault(FaultActuatorFail)
		return false
	}
	if !d.killRefresh {
		return false
	}
	// Resample: the switch may have changed again since the request
	d.sendKillSwitchLocked()
	return s.inUse
}
