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

import (
	"testing"
)

// FuzzSealVerify checks that a sealed frame always verifies and that flipping
// any single bit is always detected.
//
// Run with: go test -fuzz=FuzzSealVerify -fuzztime=30s ./internal/frame/
func FuzzSealVerify(f *testing.F) {
	f.Add([]byte{0x00}, uint(0))
	f.Add([]byte{0x0B, 0x01}, uint(3))
	f.Add([]byte{0x03, 0x94, 0x11, 0x94, 0x11}, uint(17))
	f.Add([]byte{0xFF, 0xFF, 0xFF, 0xFF}, uint(31))

	f.Fuzz(func(t *testing.T, body []byte, bit uint) {
		frm := make([]byte, len(body)+TrailerSize)
		copy(frm, body)
		Seal(frm)
		if len(frm) >= Overhead && !Verify(frm) {
			t.Fatalf("sealed frame %X does not verify", frm)
		}
		if len(frm) < Overhead {
			return
		}

		bit %= uint(len(frm) * 8)
		frm[bit/8] ^= 1 << (bit % 8)
		if Verify(frm) {
			t.Fatalf("single bit error at %d not detected in %X", bit, frm)
		}
	})
}

// FuzzVerify ensures arbitrary input never panics.
func FuzzVerify(f *testing.F) {
	f.Add([]byte{})
	f.Add([]byte{0x00})
	f.Add([]byte{0x00, 0x00})
	f.Fuzz(func(_ *testing.T, buf []byte) {
		_ = Verify(buf)
		_ = Payload(buf)
	})
}
