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

// MaxCommands is the capacity of the shared command slot pool.
const MaxCommands = 8

// responseHandler selects how a framed response is dispatched. The set is
// closed; see Device.dispatchLocked.
type responseHandler uint8

const (
	handlerNone responseHandler = iota
	handlerResult
	handlerStatus
	handlerKillSwitch
	handlerTiming
)

// slot is a reusable request/response buffer pair. inUse is its only
// ownership guard and is read and written under Device.mu.
type slot struct {
	xfer       Transfer
	inProgress InProgress
	sentGen    [2]uint32 // timing generations carried by an in-flight set-timing
	category   int       // timing category of an in-flight set-timing
	request    [MaxCommandFrame]byte
	response   [MaxResponseFrame]byte
	cmd        CommandID
	handler    responseHandler
	important  bool
	inUse      bool
}

// payload returns the command payload area of the request frame.
func (s *slot) payload() []byte {
	return s.request[1 : s.cmd.CommandSize()-1]
}

// slotPool is a lazily grown arena of at most MaxCommands slots.
type slotPool struct {
	slots [MaxCommands]slot
	n     int
}

// allocate claims the first free slot, constructing one when all existing
// slots are busy and capacity remains. It returns nil when exhausted.
func (p *slotPool) allocate() *slot {
	for i := range p.n {
		if !p.slots[i].inUse {
			p.slots[i].inUse = true
			return &p.slots[i]
		}
	}
	if p.n == MaxCommands {
		return nil
	}
	s := &p.slots[p.n]
	p.n++
	s.inUse = true
	return s
}

// busy counts claimed slots.
func (p *slotPool) busy() int {
	n := 0
	for i := range p.n {
		if p.slots[i].inUse {
			n++
		}
	}
	return n
}
