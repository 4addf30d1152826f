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

package testing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uwrt/go-actuator/internal/frame"
)

func command(id byte, payload ...byte) []byte {
	cmd := make([]byte, frame.Size(len(payload)))
	cmd[0] = id
	copy(cmd[1:], payload)
	frame.Seal(cmd)
	return cmd
}

func exchange(t *testing.T, b *VirtualBoard, cmd []byte, respLen int) []byte {
	t.Helper()
	require.NoError(t, b.Tx(DefaultBoardAddress, cmd, nil))
	if respLen == 0 {
		return nil
	}
	resp := make([]byte, respLen)
	require.NoError(t, b.Tx(DefaultBoardAddress, nil, resp))
	return resp
}

func TestVirtualBoard_StatusAfterReset(t *testing.T) {
	t.Parallel()

	b := NewVirtualBoard()
	resp := exchange(t, b, command(CmdGetStatus), 11)
	assert.Equal(t, BuildStatusResponse(1, 0, AllMissing, false), resp)
	assert.True(t, frame.Verify(resp))
}

func TestVirtualBoard_TimingsClearMissingBits(t *testing.T) {
	t.Parallel()

	b := NewVirtualBoard()
	exchange(t, b, command(CmdSetClawTiming, 0x94, 0x11, 0x94, 0x11), 2)
	exchange(t, b, command(CmdSetDropperTiming, 0xFA, 0x00), 2)
	exchange(t, b, command(CmdSetTorpedoTiming, 2, 4, 0xC8, 0x32), 2)

	st := b.State()
	assert.Equal(t, uint16(4500), st.ClawOpen)
	assert.Equal(t, uint16(4500), st.ClawClose)
	assert.Equal(t, uint16(250), st.DropperActive)
	assert.Equal(t, uint16(13000), st.TorpedoTimings[1][4])
	assert.Equal(t, AllMissing&^0x07&^(1<<12), st.Missing)
}

func TestVirtualBoard_ResetHasNoResponse(t *testing.T) {
	t.Parallel()

	b := NewVirtualBoard()
	exchange(t, b, command(CmdSetDropperTiming, 0xFA, 0x00), 2)
	exchange(t, b, command(CmdSetKillSwitch, 1), 2)
	exchange(t, b, command(CmdResetActuators), 0)

	err := b.Tx(DefaultBoardAddress, nil, make([]byte, 2))
	require.ErrorIs(t, err, ErrNoResponse)
	assert.Equal(t, AllMissing, b.State().Missing)
	assert.True(t, b.State().KillAsserted)
}

func TestVirtualBoard_RejectsBadFrames(t *testing.T) {
	t.Parallel()

	b := NewVirtualBoard()
	bad := command(CmdOpenClaw)
	bad[1] ^= 0x10
	assert.Equal(t, BuildErrorResponse(ResultInvalidCommand), exchange(t, b, bad, 2))

	// Wrong length for the command id
	assert.Equal(t, BuildErrorResponse(ResultInvalidCommand), exchange(t, b, command(CmdOpenClaw, 1), 2))
	assert.Equal(t, BuildErrorResponse(ResultInvalidCommand), exchange(t, b, command(0x42), 2))
	assert.Equal(t, BuildErrorResponse(ResultFailed), exchange(t, b, command(CmdFireTorpedo, 3), 2))
	assert.Equal(t, uint8(0), b.State().ClawState)
}

func TestVirtualBoard_FaultInjection(t *testing.T) {
	t.Parallel()

	b := NewVirtualBoard()

	b.InjectNACK(1)
	require.ErrorIs(t, b.Tx(DefaultBoardAddress, command(CmdOpenClaw), nil), ErrNACK)
	require.ErrorIs(t, b.Tx(0x20, command(CmdOpenClaw), nil), ErrNACK)

	b.InjectChecksumError()
	resp := exchange(t, b, command(CmdOpenClaw), 2)
	assert.False(t, frame.Verify(resp))

	b.SetResult(CmdCloseClaw, ResultBusy)
	assert.Equal(t, BuildErrorResponse(ResultBusy), exchange(t, b, command(CmdCloseClaw), 2))
	b.SetResult(CmdCloseClaw, ResultSuccessful)
	assert.Equal(t, BuildSuccessResponse(), exchange(t, b, command(CmdCloseClaw), 2))

	b.SetFirmwareVersion(2, 1)
	assert.Equal(t, BuildStatusResponse(2, 1, AllMissing, false), exchange(t, b, command(CmdGetStatus), 11))

	assert.Equal(t, 2, b.Count(CmdCloseClaw))
	assert.Equal(t, []byte{CmdOpenClaw, CmdCloseClaw, CmdCloseClaw, CmdGetStatus}, b.Commands())
	b.ClearCommandLog()
	assert.Empty(t, b.Commands())
}

func TestVirtualBoard_Hold(t *testing.T) {
	t.Parallel()

	b := NewVirtualBoard()
	entered := b.Hold()

	done := make(chan error, 1)
	go func() {
		done <- b.Tx(DefaultBoardAddress, command(CmdDropMarker, 1), nil)
	}()

	assert.Equal(t, byte(CmdDropMarker), <-entered)
	select {
	case <-done:
		t.Fatal("held call completed before Release")
	default:
	}

	b.Release()
	require.NoError(t, <-done)
	assert.Equal(t, uint8(1), b.State().Dropper1State)
}
