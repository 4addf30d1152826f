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

// Polynomial is the CRC-8 generator (x^8 + x^2 + x + 1) shared with the
// actuator board firmware. Initial value is zero, no reflection, no final XOR.
const Polynomial = 0x07

var crcTable = makeTable(Polynomial)

func makeTable(poly byte) [256]byte {
	var table [256]byte
	for i := range table {
		crc := byte(i)
		for range 8 {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
	return table
}

// CalculateChecksum computes the CRC-8 of data.
func CalculateChecksum(data []byte) byte {
	crc := byte(0)
	for _, b := range data {
		crc = crcTable[crc^b]
	}
	return crc
}
