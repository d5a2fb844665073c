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

// Package testing provides test utilities including a byte-level SD card
// simulator.
//
// VirtualCard models a high-capacity SD card in SPI mode as seen from the
// host: every Exchange shifts one byte in on MOSI and one byte out on MISO.
// The byte returned by an exchange is decided before the incoming byte is
// parsed, which matches a real full-duplex shift register, so responses to a
// command start on the exchange after its last byte.
//
// Protocol coverage:
//   - CMD0, CMD8, CMD9, CMD17, CMD24, CMD55, ACMD41
//   - native-mode CRC enforcement for CMD0 and CMD8
//   - Ncr response latency, start-token latency, post-write busy
//   - fault injection for every failure path of the host driver
package testing

import (
	"github.com/ZaparooProject/go-sdspi/internal/frame"
	"github.com/ZaparooProject/go-sdspi/internal/syncutil"
)

// SD command indices understood by the simulator.
const (
	CmdGoIdleState     = 0
	CmdSendIfCond      = 8
	CmdSendCSD         = 9
	CmdReadSingleBlock = 17
	CmdWriteBlock      = 24
	CmdAppCmd          = 55
	AcmdSDSendOpCond   = 41
)

// R1 bits produced by the simulator.
const (
	R1Ready          = 0x00
	R1Idle           = 0x01
	R1IllegalCommand = 0x04
	R1CRCError       = 0x08
	R1AddressError   = 0x20
)

// Data-response tokens (xxx0 sss1).
const (
	DataAccepted    = 0xE5
	DataCRCError    = 0xEB
	DataWriteError  = 0xED
	busyForever     = -1
	defaultCapacity = 1000 // C_SIZE; 1000 * 512 KiB
)

type rxState int

const (
	rxCommand rxState = iota
	rxWriteToken
	rxWriteData
)

// CommandRecord is a command frame as received by the card.
type CommandRecord struct {
	Index byte
	Arg   uint32
	CRC   byte
}

// VirtualCard simulates an SDHC card behind a full-duplex byte exchange.
// It satisfies the sdspi.Bus interface structurally.
type VirtualCard struct {
	blocks   map[uint32][]byte
	commands []CommandRecord
	txQueue  []byte
	cmdBuf   []byte
	writeBuf []byte
	csd      [frame.RegisterSize]byte

	mu syncutil.Mutex

	exchanges   int
	busy        int
	writeLBA    uint32
	acmdPolls   int
	idlePolls   int
	ncr         int
	tokenDelay  int
	busyCycles  int
	rxState     rxState
	resetR1     byte
	ifCondR1    byte
	ifCondVolt  byte
	csdR1       byte
	dataResp    byte
	echoPattern int // -1 echoes the host's pattern

	idle        bool
	appCmd      bool
	silent      bool
	neverReady  bool
	noToken     bool
	stuckBusy   bool
	rejectRead  bool
	rejectWrite bool
	checkCRC    bool
}

// NewVirtualCard creates a card that completes initialization after two
// ACMD41 polls and reports C_SIZE = 1000.
func NewVirtualCard() *VirtualCard {
	return &VirtualCard{
		blocks:      make(map[uint32][]byte),
		csd:         BuildCSD(CSDStructureV2, defaultCapacity),
		idle:        true,
		idlePolls:   2,
		ncr:         1,
		tokenDelay:  2,
		busyCycles:  4,
		resetR1:     R1Idle,
		ifCondR1:    R1Idle,
		ifCondVolt:  0x01,
		csdR1:       R1Ready,
		dataResp:    DataAccepted,
		echoPattern: -1,
		checkCRC:    true,
	}
}

// Exchange shifts out one byte and returns the byte the card drove on MISO.
func (v *VirtualCard) Exchange(out byte) (byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.exchange(out), nil
}

// ExchangeBuffer exchanges every byte of out and returns the last byte read.
func (v *VirtualCard) ExchangeBuffer(out []byte) (byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var last byte = frame.IdleByte
	for _, b := range out {
		last = v.exchange(b)
	}
	return last, nil
}

// Transfer is the bulk form: r[i] receives the byte read while w[i] was sent.
func (v *VirtualCard) Transfer(w, r []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, b := range w {
		in := v.exchange(b)
		if i < len(r) {
			r[i] = in
		}
	}
	return nil
}

func (v *VirtualCard) exchange(out byte) byte {
	v.exchanges++
	in := v.nextOutput()
	if !v.silent {
		v.receive(out)
	}
	return in
}

func (v *VirtualCard) nextOutput() byte {
	if len(v.txQueue) > 0 {
		b := v.txQueue[0]
		v.txQueue = v.txQueue[1:]
		return b
	}
	if v.busy != 0 {
		if v.busy > 0 {
			v.busy--
		}
		return 0x00
	}
	return frame.IdleByte
}

func (v *VirtualCard) receive(b byte) {
	switch v.rxState {
	case rxWriteToken:
		if b == frame.StartBlockToken {
			v.writeBuf = v.writeBuf[:0]
			v.rxState = rxWriteData
		}
	case rxWriteData:
		v.writeBuf = append(v.writeBuf, b)
		if len(v.writeBuf) == frame.BlockSize+frame.BlockCRCLen {
			v.finishWrite()
		}
	default:
		if len(v.cmdBuf) == 0 && b&0xC0 != frame.CommandStart {
			return
		}
		v.cmdBuf = append(v.cmdBuf, b)
		if len(v.cmdBuf) == frame.CommandFrameLen {
			v.handleCommand()
			v.cmdBuf = v.cmdBuf[:0]
		}
	}
}

func (v *VirtualCard) respond(data ...byte) {
	for range v.ncr {
		v.txQueue = append(v.txQueue, frame.IdleByte)
	}
	v.txQueue = append(v.txQueue, data...)
}

func (v *VirtualCard) idleBit() byte {
	if v.idle {
		return R1Idle
	}
	return R1Ready
}

func (v *VirtualCard) handleCommand() {
	rec := CommandRecord{
		Index: v.cmdBuf[0] & frame.CommandIndexMask,
		Arg: uint32(v.cmdBuf[1])<<24 | uint32(v.cmdBuf[2])<<16 |
			uint32(v.cmdBuf[3])<<8 | uint32(v.cmdBuf[4]),
		CRC: v.cmdBuf[5],
	}
	v.commands = append(v.commands, rec)

	appCmd := v.appCmd
	v.appCmd = false

	if v.checkCRC && (rec.Index == CmdGoIdleState || rec.Index == CmdSendIfCond) {
		if frame.FrameCRC(v.cmdBuf) != rec.CRC {
			v.respond(v.idleBit() | R1CRCError)
			return
		}
	}

	switch {
	case rec.Index == CmdGoIdleState:
		v.idle = true
		v.acmdPolls = 0
		v.respond(v.resetR1)
	case rec.Index == CmdSendIfCond:
		v.handleIfCond(rec.Arg)
	case rec.Index == CmdAppCmd:
		v.appCmd = true
		v.respond(v.idleBit())
	case appCmd && rec.Index == AcmdSDSendOpCond:
		v.handleOpCond()
	case rec.Index == CmdSendCSD:
		v.handleSendCSD()
	case rec.Index == CmdReadSingleBlock:
		v.handleRead(rec.Arg)
	case rec.Index == CmdWriteBlock:
		v.handleWrite(rec.Arg)
	default:
		v.respond(v.idleBit() | R1IllegalCommand)
	}
}

func (v *VirtualCard) handleIfCond(arg uint32) {
	if v.ifCondR1 != R1Idle {
		v.respond(v.ifCondR1)
		return
	}
	echo := byte(arg)
	if v.echoPattern >= 0 {
		echo = byte(v.echoPattern)
	}
	v.respond(v.ifCondR1, 0x00, 0x00, v.ifCondVolt&0x0F, echo)
}

func (v *VirtualCard) handleOpCond() {
	if v.neverReady {
		v.respond(R1Idle)
		return
	}
	v.acmdPolls++
	if v.acmdPolls > v.idlePolls {
		v.idle = false
	}
	v.respond(v.idleBit())
}

func (v *VirtualCard) handleSendCSD() {
	if v.csdR1 != R1Ready {
		v.respond(v.csdR1)
		return
	}
	v.respondWithData(v.csd[:])
}

func (v *VirtualCard) capacity() uint64 {
	cSize := uint64(v.csd[7]&0x3F)<<16 | uint64(v.csd[8])<<8 | uint64(v.csd[9])
	return (cSize + 1) * 1024
}

func (v *VirtualCard) handleRead(lba uint32) {
	switch {
	case v.idle:
		v.respond(R1Idle | R1IllegalCommand)
		return
	case v.rejectRead:
		v.respond(R1AddressError)
		return
	case uint64(lba) >= v.capacity():
		v.respond(R1AddressError)
		return
	}
	data := v.blocks[lba]
	if data == nil {
		data = make([]byte, frame.BlockSize)
	}
	v.respondWithData(data)
}

func (v *VirtualCard) respondWithData(data []byte) {
	v.respond(R1Ready)
	if v.noToken {
		return
	}
	for range v.tokenDelay {
		v.txQueue = append(v.txQueue, frame.IdleByte)
	}
	v.txQueue = append(v.txQueue, frame.StartBlockToken)
	v.txQueue = append(v.txQueue, data...)
	// CRC16 is not checked by the host; send a recognizable pattern.
	v.txQueue = append(v.txQueue, 0xC1, 0xC2)
}

func (v *VirtualCard) handleWrite(lba uint32) {
	switch {
	case v.idle:
		v.respond(R1Idle | R1IllegalCommand)
		return
	case v.rejectWrite:
		v.respond(R1AddressError)
		return
	case uint64(lba) >= v.capacity():
		v.respond(R1AddressError)
		return
	}
	v.writeLBA = lba
	v.rxState = rxWriteToken
	v.respond(R1Ready)
}

func (v *VirtualCard) finishWrite() {
	v.rxState = rxCommand
	v.txQueue = append(v.txQueue, v.dataResp)
	if !frame.IsDataAccepted(v.dataResp) {
		return
	}
	block := make([]byte, frame.BlockSize)
	copy(block, v.writeBuf[:frame.BlockSize])
	v.blocks[v.writeLBA] = block
	if v.stuckBusy {
		v.busy = busyForever
	} else {
		v.busy = v.busyCycles
	}
}
