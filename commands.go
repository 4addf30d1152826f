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
	"encoding/binary"
	"fmt"

	"github.com/uwrt/go-actuator/internal/frame"
)

// CommandID identifies an actuator board command on the wire
type CommandID uint8

// Actuator board commands
const (
	CmdGetStatus          CommandID = 0x00
	CmdOpenClaw           CommandID = 0x01
	CmdCloseClaw          CommandID = 0x02
	CmdSetClawTiming      CommandID = 0x03
	CmdArmTorpedo         CommandID = 0x04
	CmdDisarmTorpedo      CommandID = 0x05
	CmdFireTorpedo        CommandID = 0x06
	CmdSetTorpedoTiming   CommandID = 0x07
	CmdDropMarker         CommandID = 0x08
	CmdClearDropperStatus CommandID = 0x09
	CmdSetDropperTiming   CommandID = 0x0A
	CmdSetKillSwitch      CommandID = 0x0B
	CmdResetActuators     CommandID = 0x0C

	numCommands = iota
)

// Result is the first byte of every response frame
type Result uint8

// Response result codes
const (
	ResultSuccessful     Result = 0x00
	ResultFailed         Result = 0x01
	ResultInvalidCommand Result = 0x02
	ResultBusy           Result = 0x03
)

func (r Result) String() string {
	switch r {
	case ResultSuccessful:
		return "successful"
	case ResultFailed:
		return "failed"
	case ResultInvalidCommand:
		return "invalid command"
	case ResultBusy:
		return "busy"
	default:
		return fmt.Sprintf("result(0x%02X)", uint8(r))
	}
}

// noResponse marks commands after which the board does not answer.
const noResponse = -1

// StatusPayloadSize is the length of the get-status response payload.
const StatusPayloadSize = 9

type commandInfo struct {
	name     string
	payload  int // command payload bytes
	response int // response payload bytes after the result code, or noResponse
}

// commandTable holds the fixed frame geometry of every command, indexed by id.
var commandTable = [numCommands]commandInfo{
	CmdGetStatus:          {name: "get-status", payload: 0, response: StatusPayloadSize},
	CmdOpenClaw:           {name: "open-claw", payload: 0, response: 0},
	CmdCloseClaw:          {name: "close-claw", payload: 0, response: 0},
	CmdSetClawTiming:      {name: "set-claw-timing", payload: 4, response: 0},
	CmdArmTorpedo:         {name: "arm-torpedo", payload: 0, response: 0},
	CmdDisarmTorpedo:      {name: "disarm-torpedo", payload: 0, response: 0},
	CmdFireTorpedo:        {name: "fire-torpedo", payload: 1, response: 0},
	CmdSetTorpedoTiming:   {name: "set-torpedo-timing", payload: 4, response: 0},
	CmdDropMarker:         {name: "drop-marker", payload: 1, response: 0},
	CmdClearDropperStatus: {name: "clear-dropper-status", payload: 0, response: 0},
	CmdSetDropperTiming:   {name: "set-dropper-timing", payload: 2, response: 0},
	CmdSetKillSwitch:      {name: "set-kill-switch", payload: 1, response: 0},
	CmdResetActuators:     {name: "reset-actuators", payload: 0, response: noResponse},
}

// Largest frames in either direction, used to size slot buffers.
const (
	MaxCommandFrame  = 4 + frame.Overhead
	MaxResponseFrame = StatusPayloadSize + frame.Overhead
)

func (c CommandID) valid() bool {
	return int(c) < len(commandTable)
}

func (c CommandID) String() string {
	if !c.valid() {
		return fmt.Sprintf("command(0x%02X)", uint8(c))
	}
	return commandTable[c].name
}

// CommandSize returns the on-wire length of the command frame.
func (c CommandID) CommandSize() int {
	if !c.valid() {
		return 0
	}
	return frame.Size(commandTable[c].payload)
}

// ResponseSize returns the on-wire length of the response frame, zero when the
// board sends none.
func (c CommandID) ResponseSize() int {
	if !c.valid() || commandTable[c].response == noResponse {
		return 0
	}
	return frame.Size(commandTable[c].response)
}

// TorpedoTiming selects one of the five coil timings of a torpedo
type TorpedoTiming uint8

// Torpedo coil timings in firing order
const (
	TorpedoCoil1On TorpedoTiming = iota
	TorpedoCoil1To2Delay
	TorpedoCoil2On
	TorpedoCoil2To3Delay
	TorpedoCoil3On

	NumTorpedoTimings = iota
)

// Status is the decoded get-status response payload
type Status struct {
	FirmwareMajor  uint8
	FirmwareMinor  uint8
	MissingTimings TimingMask
	ClawState      uint8
	TorpedoState   uint8
	Dropper1State  uint8
	Dropper2State  uint8
	KillAsserted   bool
}

func decodeStatus(p []byte) Status {
	return Status{
		FirmwareMajor:  p[0],
		FirmwareMinor:  p[1],
		MissingTimings: TimingMask(binary.LittleEndian.Uint16(p[2:4])),
		ClawState:      p[4],
		TorpedoState:   p[5],
		Dropper1State:  p[6],
		Dropper2State:  p[7],
		KillAsserted:   p[8] != 0,
	}
}

func putClawTiming(p []byte, openMs, closeMs uint16) {
	binary.LittleEndian.PutUint16(p[0:2], openMs)
	binary.LittleEndian.PutUint16(p[2:4], closeMs)
}

func putTorpedoTiming(p []byte, torpedo uint8, kind TorpedoTiming, timeUs uint16) {
	p[0] = torpedo
	p[1] = uint8(kind)
	binary.LittleEndian.PutUint16(p[2:4], timeUs)
}

func putDropperTiming(p []byte, activeMs uint16) {
	binary.LittleEndian.PutUint16(p[0:2], activeMs)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
