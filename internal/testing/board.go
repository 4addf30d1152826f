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

// Package testing provides test utilities including a simulated actuator
// board that plugs into a periph i2c.Bus consumer.
//
// The VirtualBoard mirrors the board firmware's command set: every write
// phase carries one command frame [id][payload][crc8], every read phase
// returns the response frame [result][payload][crc8] of the last command.
// Fault injection hooks (NACK, corrupted checksum, held bus) let tests drive
// the engine's failure paths deterministically.
package testing

import (
	"encoding/binary"
	"errors"
	"fmt"

	"periph.io/x/conn/v3/physic"

	"github.com/uwrt/go-actuator/internal/frame"
	"github.com/uwrt/go-actuator/internal/syncutil"
)

// Board command ids
const (
	CmdGetStatus          = 0x00
	CmdOpenClaw           = 0x01
	CmdCloseClaw          = 0x02
	CmdSetClawTiming      = 0x03
	CmdArmTorpedo         = 0x04
	CmdDisarmTorpedo      = 0x05
	CmdFireTorpedo        = 0x06
	CmdSetTorpedoTiming   = 0x07
	CmdDropMarker         = 0x08
	CmdClearDropperStatus = 0x09
	CmdSetDropperTiming   = 0x0A
	CmdSetKillSwitch      = 0x0B
	CmdResetActuators     = 0x0C

	numCommands = 0x0D
)

// Response result codes
const (
	ResultSuccessful     = 0x00
	ResultFailed         = 0x01
	ResultInvalidCommand = 0x02
	ResultBusy           = 0x03
)

// AllMissing is the missing-timings mask of a freshly reset board.
const AllMissing uint16 = 0x1FFF

// DefaultBoardAddress is the board's 7-bit address.
const DefaultBoardAddress = 0x1C

const statusPayloadSize = 9

// commandPayload is the payload size of every command, indexed by id.
var commandPayload = [numCommands]int{
	CmdSetClawTiming:    4,
	CmdFireTorpedo:      1,
	CmdSetTorpedoTiming: 4,
	CmdDropMarker:       1,
	CmdSetDropperTiming: 2,
	CmdSetKillSwitch:    1,
}

var (
	// ErrNACK is returned by Tx when the board does not acknowledge.
	ErrNACK = errors.New("virtual board: NACK")
	// ErrNoResponse is returned by a read with no pending response.
	ErrNoResponse = errors.New("virtual board: no response pending")
)

// BoardState is a snapshot of the simulated board.
type BoardState struct {
	TorpedoTimings [2][5]uint16
	ClawOpen       uint16
	ClawClose      uint16
	DropperActive  uint16
	Missing        uint16
	ClawState      uint8
	TorpedoState   uint8
	Dropper1State  uint8
	Dropper2State  uint8
	KillAsserted   bool
}

// VirtualBoard simulates the actuator board behind an I2C bus. It implements
// periph.io/x/conn/v3/i2c.Bus.
type VirtualBoard struct {
	results     map[byte]byte
	hold        chan struct{}
	entered     chan byte
	pending     []byte
	commands    []byte
	state       BoardState
	mu          syncutil.Mutex
	addr        uint16
	corruptNext int
	nackNext    int
	fwMajor     uint8
	fwMinor     uint8
}

// NewVirtualBoard creates a board at DefaultBoardAddress running firmware
// 1.0, just out of reset (every timing missing).
func NewVirtualBoard() *VirtualBoard {
	return &VirtualBoard{
		addr:    DefaultBoardAddress,
		fwMajor: 1,
		results: make(map[byte]byte),
		state:   BoardState{Missing: AllMissing},
	}
}

// String implements i2c.Bus
func (*VirtualBoard) String() string {
	return "virtual-actuator"
}

// SetSpeed implements i2c.Bus
func (*VirtualBoard) SetSpeed(_ physic.Frequency) error {
	return nil
}

// Tx implements i2c.Bus. A write processes a command frame, a read returns
// the pending response frame.
func (v *VirtualBoard) Tx(addr uint16, w, r []byte) error {
	v.waitHold(w)

	v.mu.Lock()
	defer v.mu.Unlock()

	if addr != v.addr {
		return fmt.Errorf("%w: address 0x%02X", ErrNACK, addr)
	}
	if v.nackNext > 0 {
		v.nackNext--
		return ErrNACK
	}
	if len(w) > 0 {
		v.processCommand(w)
	}
	if len(r) > 0 {
		return v.readResponse(r)
	}
	return nil
}

func (v *VirtualBoard) waitHold(w []byte) {
	v.mu.Lock()
	hold, entered := v.hold, v.entered
	v.mu.Unlock()
	if hold == nil {
		return
	}
	if entered != nil && len(w) > 0 {
		entered <- w[0]
	}
	<-hold
}

func (v *VirtualBoard) readResponse(r []byte) error {
	if v.pending == nil {
		return ErrNoResponse
	}
	resp := v.pending
	v.pending = nil
	if v.corruptNext > 0 {
		v.corruptNext--
		resp[len(resp)-1] ^= 0x01
	}
	if len(resp) != len(r) {
		// Short or long read: the board clocks out what it has, then idles high
		for i := range r {
			r[i] = 0xFF
		}
	}
	copy(r, resp)
	return nil
}

func (v *VirtualBoard) processCommand(w []byte) {
	id := w[0]
	v.commands = append(v.commands, id)

	if int(id) >= numCommands || len(w) != frame.Size(commandPayload[id]) || !frame.Verify(w) {
		v.respond(ResultInvalidCommand, nil)
		return
	}
	if res, ok := v.results[id]; ok && res != ResultSuccessful {
		v.respond(res, nil)
		return
	}

	p := frame.Payload(w)
	s := &v.state
	switch id {
	case CmdGetStatus:
		v.respond(ResultSuccessful, v.statusPayload())
		return
	case CmdOpenClaw:
		s.ClawState = 1
	case CmdCloseClaw:
		s.ClawState = 2
	case CmdSetClawTiming:
		s.ClawOpen = binary.LittleEndian.Uint16(p[0:2])
		s.ClawClose = binary.LittleEndian.Uint16(p[2:4])
		s.Missing &^= 0x03
	case CmdArmTorpedo:
		s.TorpedoState = 1
	case CmdDisarmTorpedo:
		s.TorpedoState = 0
	case CmdFireTorpedo:
		if p[0] != 1 && p[0] != 2 {
			v.respond(ResultFailed, nil)
			return
		}
		s.TorpedoState = 1 + p[0]
	case CmdSetTorpedoTiming:
		n, kind := p[0], p[1]
		if n < 1 || n > 2 || kind > 4 {
			v.respond(ResultFailed, nil)
			return
		}
		s.TorpedoTimings[n-1][kind] = binary.LittleEndian.Uint16(p[2:4])
		s.Missing &^= 1 << (3 + 5*uint16(n-1) + uint16(kind))
	case CmdDropMarker:
		switch p[0] {
		case 1:
			s.Dropper1State = 1
		case 2:
			s.Dropper2State = 1
		default:
			v.respond(ResultFailed, nil)
			return
		}
	case CmdClearDropperStatus:
		s.Dropper1State, s.Dropper2State = 0, 0
	case CmdSetDropperTiming:
		s.DropperActive = binary.LittleEndian.Uint16(p[0:2])
		s.Missing &^= 0x04
	case CmdSetKillSwitch:
		s.KillAsserted = p[0] != 0
	case CmdResetActuators:
		v.resetLocked()
		return
	}
	v.respond(ResultSuccessful, nil)
}

func (v *VirtualBoard) respond(result byte, payload []byte) {
	resp := make([]byte, frame.Size(len(payload)))
	resp[0] = result
	copy(resp[1:], payload)
	frame.Seal(resp)
	v.pending = resp
}

func (v *VirtualBoard) statusPayload() []byte {
	s := &v.state
	p := make([]byte, statusPayloadSize)
	p[0] = v.fwMajor
	p[1] = v.fwMinor
	binary.LittleEndian.PutUint16(p[2:4], s.Missing)
	p[4] = s.ClawState
	p[5] = s.TorpedoState
	p[6] = s.Dropper1State
	p[7] = s.Dropper2State
	if s.KillAsserted {
		p[8] = 1
	}
	return p
}

// resetLocked forgets every timing and answers nothing, like the firmware.
func (v *VirtualBoard) resetLocked() {
	v.state = BoardState{Missing: AllMissing, KillAsserted: v.state.KillAsserted}
	v.pending = nil
}

// SimulateReset makes the board forget its configuration as after a brownout.
func (v *VirtualBoard) SimulateReset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.resetLocked()
}

// SetFirmwareVersion sets the version reported in the status.
func (v *VirtualBoard) SetFirmwareVersion(major, minor uint8) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.fwMajor, v.fwMinor = major, minor
}

// SetResult makes every later cmd answer result. ResultSuccessful restores
// normal processing.
func (v *VirtualBoard) SetResult(cmd, result byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if result == ResultSuccessful {
		delete(v.results, cmd)
		return
	}
	v.results[cmd] = result
}

// InjectChecksumError corrupts the checksum of the next response frame.
func (v *VirtualBoard) InjectChecksumError() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.corruptNext++
}

// InjectNACK makes the next n bus calls fail.
func (v *VirtualBoard) InjectNACK(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nackNext += n
}

// Hold blocks every bus call until Release. The command id of each held
// write is sent to the returned channel.
func (v *VirtualBoard) Hold() <-chan byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.hold = make(chan struct{})
	v.entered = make(chan byte, 64)
	return v.entered
}

// Release unblocks calls held by Hold.
func (v *VirtualBoard) Release() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.hold != nil {
		close(v.hold)
		v.hold = nil
		v.entered = nil
	}
}

// State returns a snapshot of the board.
func (v *VirtualBoard) State() BoardState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// SetMissing overwrites the board's missing-timings mask.
func (v *VirtualBoard) SetMissing(mask uint16) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state.Missing = mask
}

// Commands returns the ids of every command frame received, in order.
func (v *VirtualBoard) Commands() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]byte(nil), v.commands...)
}

// Count returns how many frames with id cmd were received.
func (v *VirtualBoard) Count(cmd byte) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, id := range v.commands {
		if id == cmd {
			n++
		}
	}
	return n
}

// ClearCommandLog forgets the received command log.
func (v *VirtualBoard) ClearCommandLog() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.commands = nil
}
