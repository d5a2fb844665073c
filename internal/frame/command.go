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

// EncodeCommand writes the 6-byte command frame for index and arg into dst.
// The argument is sent big-endian. Only CMD0 and CMD8 carry a real CRC; every
// other command gets CRCFiller.
func EncodeCommand(dst *[CommandFrameLen]byte, index byte, arg uint32) {
	dst[0] = CommandStart | (index & CommandIndexMask)
	dst[1] = byte(arg >> 24)
	dst[2] = byte(arg >> 16)
	dst[3] = byte(arg >> 8)
	dst[4] = byte(arg)
	dst[5] = CommandCRC(index, arg)
}

// CommandCRC returns the CRC byte sent in position 5 of a command frame.
func CommandCRC(index byte, arg uint32) byte {
	switch {
	case index == 0 && arg == 0:
		return ResetCRC
	case index == 8 && arg == IfCondArg:
		return IfCondCRC
	default:
		return CRCFiller
	}
}

// IsDataAccepted reports whether a data-response token signals acceptance.
func IsDataAccepted(token byte) bool {
	return token&DataResponseMask == DataAccepted
}
