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

// Package frame holds the byte-level layout of SD SPI-mode traffic: command
// frames, data tokens and the buffers used to move 512-byte blocks.
package frame

// Command frame layout.
const (
	CommandFrameLen  = 6    // start+index, 4 argument bytes, CRC7+stop
	CommandStart     = 0x40 // start bit 0, transmission bit 1
	CommandIndexMask = 0x3F
	StopBit          = 0x01
	CRCFiller        = 0xFF // CRC position once CRC checking is off
)

// Precomputed CRC bytes for the two commands that are checked while the card
// is still in native-CRC mode. Both include the stop bit.
const (
	ResetCRC  = 0x95 // CMD0, argument 0
	IfCondCRC = 0x69 // CMD8, argument IfCondArg
	IfCondArg = 0x1A5
)

// Bus-level markers.
const (
	IdleByte         = 0xFF // MISO idles high; also the filler clocked out while polling
	R1InvalidMask    = 0x80 // R1 is valid only with the top bit clear
	StartBlockToken  = 0xFE
	DataResponseMask = 0x1F
	DataAccepted     = 0x05
)

// Payload sizes.
const (
	BlockSize    = 512
	BlockCRCLen  = 2
	RegisterSize = 16
)
