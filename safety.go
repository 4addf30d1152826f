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

// FaultID names a latched fault condition reported to the safety collaborator.
type FaultID uint8

// Faults raised by the actuator engine
const (
	// FaultActuatorFail is raised when an important command, the status poll or
	// the kill-switch propagation fails.
	FaultActuatorFail FaultID = iota
	// FaultNoActuator is raised while no valid status was received within the
	// maximum status age.
	FaultNoActuator

	NumFaults = iota
)

func (f FaultID) String() string {
	switch f {
	case FaultActuatorFail:
		return "actuator-fail"
	case FaultNoActuator:
		return "no-actuator"
	default:
		return fmt.Sprintf("fault(%d)", uint8(f))
	}
}

// Safety is the fault latch and kill-switch source the engine reports to.
// All methods may be called from the transport executor goroutine and must
// not call back into the Device synchronously.
type Safety interface {
	// RaiseFault latches id. Repeated raises of an active fault are no-ops.
	RaiseFault(id FaultID)
	// LowerFault clears id. Lowering an inactive fault is a no-op.
	LowerFault(id FaultID)
	// AssertingKill reports whether the vehicle kill switch is asserted.
	AssertingKill() bool
}
