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

// crc7Poly is x^7 + x^3 + 1.
const crc7Poly = 0x09

// CRC7 computes the 7-bit CRC used by SD command frames, MSB first.
func CRC7(data []byte) byte {
	var crc byte
	for _, b := range data {
		for i := range 8 {
			crc <<= 1
			if ((b<<i)&0x80)^(crc&0x80) != 0 {
				crc ^= crc7Poly
			}
		}
	}
	return crc & 0x7F
}

// FrameCRC returns the CRC7 of the first five bytes of a command frame shifted
// into position with the stop bit set, i.e. the byte a CRC-checking card
// expects in position 5.
func FrameCRC(cmd []byte) byte {
	if len(cmd) > CommandFrameLen-1 {
		cmd = cmd[:CommandFrameLen-1]
	}
	return CRC7(cmd)<<1 | StopBit
}
