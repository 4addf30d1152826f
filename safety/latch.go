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

// Package safety provides the fault latch and kill switch state the actuator
// engine reports to.
package safety

import (
	"github.com/golang/glog"

	actuator "github.com/uwrt/go-actuator"
	"github.com/uwrt/go-actuator/internal/syncutil"
)

// Latch is an edge-triggered fault latch with a kill switch input. It
// implements actuator.Safety. The kill switch starts asserted.
type Latch struct {
	// OnKillChange is called after the kill switch state changed, outside the
	// latch lock. actuatorctl wires it to Device.RequestKillRefresh.
	OnKillChange func(asserting bool)
	// OnFault is called on every raise or lower edge.
	OnFault func(id actuator.FaultID, active bool)

	faults [actuator.NumFaults]bool
	counts [actuator.NumFaults]int
	mu     syncutil.Mutex
	kill   bool
}

// NewLatch creates a latch with no active faults and the kill switch asserted.
func NewLatch() *Latch {
	return &Latch{kill: true}
}

// RaiseFault latches id. Raising an active fault is a no-op.
func (l *Latch) RaiseFault(id actuator.FaultID) {
	if !l.set(id, true) {
		return
	}
	glog.Errorf("safety: fault %s raised", id)
	if l.OnFault != nil {
		l.OnFault(id, true)
	}
}

// LowerFault clears id. Lowering an inactive fault is a no-op.
func (l *Latch) LowerFault(id actuator.FaultID) {
	if !l.set(id, false) {
		return
	}
	glog.Infof("safety: fault %s lowered", id)
	if l.OnFault != nil {
		l.OnFault(id, false)
	}
}

// set updates id and reports whether it changed.
func (l *Latch) set(id actuator.FaultID, active bool) bool {
	if int(id) >= len(l.faults) {
		glog.Warningf("safety: unknown fault %s", id)
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.faults[id] == active {
		return false
	}
	l.faults[id] = active
	if active {
		l.counts[id]++
	}
	return true
}

// Active reports whether id is latched.
func (l *Latch) Active(id actuator.FaultID) bool {
	if int(id) >= len(l.faults) {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.faults[id]
}

// RaiseCount returns how many times id went from lowered to raised.
func (l *Latch) RaiseCount(id actuator.FaultID) int {
	if int(id) >= len(l.counts) {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[id]
}

// Faults returns the latched faults.
func (l *Latch) Faults() []actuator.FaultID {
	l.mu.Lock()
	defer l.mu.Unlock()
	var ids []actuator.FaultID
	for i, active := range l.faults {
		if active {
			ids = append(ids, actuator.FaultID(i))
		}
	}
	return ids
}

// AssertingKill reports whether the kill switch is asserted.
func (l *Latch) AssertingKill() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.kill
}

// SetAssertingKill updates the kill switch and calls OnKillChange on change.
func (l *Latch) SetAssertingKill(asserting bool) {
	l.mu.Lock()
	changed := l.kill != asserting
	l.kill = asserting
	l.mu.Unlock()

	if !changed {
		return
	}
	glog.Infof("safety: kill switch asserting=%t", asserting)
	if l.OnKillChange != nil {
		l.OnKillChange(asserting)
	}
}

var _ actuator.Safety = (*Latch)(nil)
