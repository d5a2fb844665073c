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

import "github.com/ZaparooProject/go-sdspi/internal/frame"

// CSD structure versions (bits 127:126).
const (
	CSDStructureV1 = 0 // standard capacity
	CSDStructureV2 = 1 // high capacity
)

// BuildCSD returns a CSD register shaped like a real SDHC card with the given
// structure version and C_SIZE. The trailing byte carries a valid CRC7.
func BuildCSD(structure byte, cSize uint32) [frame.RegisterSize]byte {
	csd := [frame.RegisterSize]byte{
		0x00, 0x0E, 0x00, 0x32, 0x5B, 0x59, 0x00, 0x00,
		0x00, 0x00, 0x7F, 0x80, 0x0A, 0x40, 0x00, 0x00,
	}
	csd[0] = structure << 6
	csd[7] = byte(cSize>>16) & 0x3F
	csd[8] = byte(cSize >> 8)
	csd[9] = byte(cSize)
	csd[15] = frame.CRC7(csd[:15])<<1 | frame.StopBit
	return csd
}

// SetCSD replaces the CSD register returned by CMD9.
func (v *VirtualCard) SetCSD(csd [frame.RegisterSize]byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.csd = csd
}

// SetWriteProtect sets or clears the temporary write-protect bit of the CSD.
func (v *VirtualCard) SetWriteProtect(on bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if on {
		v.csd[14] |= 0x10
	} else {
		v.csd[14] &^= 0x10
	}
	v.csd[15] = frame.CRC7(v.csd[:15])<<1 | frame.StopBit
}

// SetResetResponse sets the R1 returned for CMD0.
func (v *VirtualCard) SetResetResponse(r1 byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.resetR1 = r1
}

// SetIfCondResponse sets the R1 for CMD8 and the voltage nibble and check
// pattern echoed in its R7 payload. A negative pattern echoes the host's.
func (v *VirtualCard) SetIfCondResponse(r1, voltage byte, pattern int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ifCondR1 = r1
	v.ifCondVolt = voltage
	v.echoPattern = pattern
}

// SetIdlePolls sets how many ACMD41 polls the card answers with idle before
// it reports ready.
func (v *VirtualCard) SetIdlePolls(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.idlePolls = n
}

// SetNeverReady keeps the card in the idle state forever.
func (v *VirtualCard) SetNeverReady(on bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.neverReady = on
}

// SetSilent makes the card ignore every command and leave MISO high, as
// when no card is inserted.
func (v *VirtualCard) SetSilent(on bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.silent = on
}

// SetSendCSDResponse sets a non-zero R1 for CMD9 to simulate a failure.
func (v *VirtualCard) SetSendCSDResponse(r1 byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.csdR1 = r1
}

// SetResponseLatency sets the number of idle bytes before each R1 (Ncr).
func (v *VirtualCard) SetResponseLatency(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ncr = n
}

// SetTokenLatency sets the number of idle bytes between R1 and a start token.
func (v *VirtualCard) SetTokenLatency(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tokenDelay = n
}

// SetBusyCycles sets how many exchanges the card holds MISO low after an
// accepted write.
func (v *VirtualCard) SetBusyCycles(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.busyCycles = n
}

// SetStuckBusy keeps MISO low forever after an accepted write.
func (v *VirtualCard) SetStuckBusy(on bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stuckBusy = on
}

// SetNoStartToken suppresses the start token after CMD9/CMD17.
func (v *VirtualCard) SetNoStartToken(on bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.noToken = on
}

// SetDataResponse sets the token returned after a write payload.
func (v *VirtualCard) SetDataResponse(token byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dataResp = token
}

// SetRejectRead makes CMD17 answer with an address error.
func (v *VirtualCard) SetRejectRead(on bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rejectRead = on
}

// SetRejectWrite makes CMD24 answer with an address error.
func (v *VirtualCard) SetRejectWrite(on bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rejectWrite = on
}

// SetCRCCheck enables or disables CRC enforcement on CMD0 and CMD8.
func (v *VirtualCard) SetCRCCheck(on bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.checkCRC = on
}

// SetBlock stores data as the contents of sector lba.
func (v *VirtualCard) SetBlock(lba uint32, data []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	block := make([]byte, frame.BlockSize)
	copy(block, data)
	v.blocks[lba] = block
}

// Block returns a copy of sector lba, zero-filled if never written.
func (v *VirtualCard) Block(lba uint32) []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	block := make([]byte, frame.BlockSize)
	copy(block, v.blocks[lba])
	return block
}

// Exchanges returns the number of bytes exchanged so far.
func (v *VirtualCard) Exchanges() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.exchanges
}

// Commands returns a copy of every command frame received so far.
func (v *VirtualCard) Commands() []CommandRecord {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]CommandRecord, len(v.commands))
	copy(out, v.commands)
	return out
}

// CommandCount returns how many times the command index was received.
func (v *VirtualCard) CommandCount(index byte) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, c := range v.commands {
		if c.Index == index {
			n++
		}
	}
	return n
}

// IsIdle reports whether the card is still in the idle state.
func (v *VirtualCard) IsIdle() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.idle
}
