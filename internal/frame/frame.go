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

package frame

// Frame layout constants. Every non-empty frame is a one byte header
// (command id or result code), a fixed-size payload and a trailing CRC-8.
const (
	HeaderSize  = 1
	TrailerSize = 1
	Overhead    = HeaderSize + TrailerSize
)

// Size returns the on-wire length of a frame carrying payloadLen bytes.
func Size(payloadLen int) int {
	return payloadLen + Overhead
}

// Seal stores the checksum of frm[:len-1] in the last byte of frm.
// Frames shorter than Overhead are left untouched.
func Seal(frm []byte) {
	if len(frm) < Overhead {
		return
	}
	frm[len(frm)-1] = CalculateChecksum(frm[:len(frm)-1])
}

// Verify reports whether the trailing checksum of frm matches its contents.
// An empty frame is valid: commands without a response carry no frame at all.
func Verify(frm []byte) bool {
	if len(frm) == 0 {
		return true
	}
	if len(frm) < Overhead {
		return false
	}
	return CalculateChecksum(frm[:len(frm)-1]) == frm[len(frm)-1]
}

// Payload returns the payload section of frm.
func Payload(frm []byte) []byte {
	if len(frm) < Overhead {
		return nil
	}
	return frm[HeaderSize : len(frm)-TrailerSize]
}
