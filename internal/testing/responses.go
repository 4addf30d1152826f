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
	"encoding/binary"

	"github.com/uwrt/go-actuator/internal/frame"
)

// BuildResponse creates a sealed response frame [result][payload][crc8]
func BuildResponse(result byte, payload ...byte) []byte {
	resp := make([]byte, frame.Size(len(payload)))
	resp[0] = result
	copy(resp[1:], payload)
	frame.Seal(resp)
	return resp
}

// BuildSuccessResponse creates the response of a command without payload
func BuildSuccessResponse() []byte {
	return BuildResponse(ResultSuccessful)
}

// BuildErrorResponse creates a response carrying a non-success result
func BuildErrorResponse(result byte) []byte {
	return BuildResponse(result)
}

// BuildStatusResponse creates a get-status response
func BuildStatusResponse(major, minor uint8, missing uint16, kill bool) []byte {
	p := make([]byte, statusPayloadSize)
	p[0] = major
	p[1] = minor
	binary.LittleEndian.PutUint16(p[2:4], missing)
	if kill {
		p[8] = 1
	}
	return BuildResponse(ResultSuccessful, p...)
}

// BuildCorruptResponse returns resp with one bit of its checksum flipped
func BuildCorruptResponse(resp []byte) []byte {
	out := append([]byte(nil), resp...)
	out[len(out)-1] ^= 0x80
	return out
}
