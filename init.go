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

package sdspi

import (
	"fmt"

	"github.com/ZaparooProject/go-sdspi/internal/frame"
)

// State is the outcome of card initialization.
type State int

const (
	// StateFailed means the card answered but initialization broke down.
	StateFailed State = iota
	// StateNotPresent means nothing answered the reset command.
	StateNotPresent
	// StateUnsupported means the card is legacy or standard capacity.
	StateUnsupported
	// StateReady means the card accepts block reads and writes.
	StateReady
)

func (s State) String() string {
	switch s {
	case StateFailed:
		return "failed"
	case StateNotPresent:
		return "not-present"
	case StateUnsupported:
		return "unsupported"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// initStep names the stage of the handshake, used in errors and logs.
type initStep string

const (
	stepReset        initStep = "init reset"
	stepVoltageCheck initStep = "init voltage check"
	stepIdleWait     initStep = "init idle wait"
	stepReadRegister initStep = "init read CSD"
)

// CMD8 reply layout: R1 is consumed by sendCommand, four R7 bytes follow.
const (
	ifCondReplyLen     = 4
	ifCondVoltageMask  = 0x0F
	ifCondVoltage27_36 = 0x01
	ifCondCheckPattern = byte(frame.IfCondArg & 0xFF)
)

// initialize runs the handshake once and records the outcome.
func (d *Device) initialize() {
	d.link.trace.Clear()
	state, err := d.runInit()
	d.state = state
	if err != nil {
		d.initErr = d.link.trace.WrapError(err)
		Debugf("card init: %s: %v", state, err)
		return
	}

	d.blockSize = frame.BlockSize
	d.writable = !d.config.ReadOnly && !d.csd.WriteProtected()
	Debugf("card init: ready, %d blocks (%s), writable=%t", d.blockCount, d.config.Capacity, d.writable)
}

func (d *Device) runInit() (State, error) {
	if err := d.reset(); err != nil {
		return StateNotPresent, err
	}
	if state, err := d.checkVoltage(); err != nil {
		return state, err
	}
	if err := d.waitIdleExit(); err != nil {
		return StateFailed, err
	}
	if state, err := d.readRegister(); err != nil {
		return state, err
	}
	return StateReady, nil
}

// reset puts the card into SPI mode. Any answer but R1 idle, including no
// answer at all, means there is no usable card.
func (d *Device) reset() error {
	r1, err := d.link.sendCommand(Command{Index: cmdGoIdleState})
	if err != nil {
		return newIOError(string(stepReset), noSector, fmt.Errorf("%w: %w", ErrNotPresent, err))
	}
	Debugf("%s: R1 %s", stepReset, r1)
	if r1 != R1Idle {
		return newIOError(string(stepReset), noSector, fmt.Errorf("%w: R1 %s", ErrNotPresent, r1))
	}
	return nil
}

// checkVoltage sends CMD8. Version 1 cards reject it as illegal and are not
// supported.
func (d *Device) checkVoltage() (State, error) {
	op := string(stepVoltageCheck)
	r1, err := d.link.sendCommand(Command{Index: cmdSendIfCond, Arg: frame.IfCondArg})
	if err != nil {
		return StateFailed, newIOError(op, noSector, err)
	}
	Debugf("%s: R1 %s", op, r1)
	if r1 != R1Idle {
		return StateUnsupported, newUnsupportedError(op, fmt.Errorf("legacy card, R1 %s", r1))
	}

	var reply [ifCondReplyLen]byte
	if err := d.link.readBytes(reply[:]); err != nil {
		return StateFailed, newIOError(op, noSector, err)
	}
	d.link.trace.RecordRX(reply[:], "R7")
	if reply[2]&ifCondVoltageMask != ifCondVoltage27_36 || reply[3] != ifCondCheckPattern {
		return StateUnsupported, newUnsupportedError(op,
			fmt.Errorf("voltage 0x%X pattern 0x%02X", reply[2]&ifCondVoltageMask, reply[3]))
	}
	return StateReady, nil
}

// waitIdleExit repeats ACMD41 with HCS set until the card leaves idle.
func (d *Device) waitIdleExit() error {
	op := string(stepIdleWait)
	for round := range d.config.IdleWaitBudget {
		if _, err := d.link.sendCommand(Command{Index: cmdAppCmd}); err != nil {
			return newIOError(op, noSector, err)
		}
		r1, err := d.link.sendCommand(Command{Index: acmdSDSendOpCond, Arg: hcsArg})
		if err != nil {
			return newIOError(op, noSector, err)
		}
		switch r1 {
		case R1Ready:
			Debugf("%s: card ready after %d rounds", op, round+1)
			return nil
		case R1Idle:
			continue
		default:
			return newIOError(op, noSector, fmt.Errorf("%w: ACMD41 R1 %s", ErrBadResponse, r1))
		}
	}
	d.link.trace.RecordTimeout("ACMD41 idle exit")
	return newIOError(op, noSector,
		fmt.Errorf("card still idle after %d rounds: %w", d.config.IdleWaitBudget, ErrTimeout))
}

// readRegister fetches the CSD and derives the capacity.
func (d *Device) readRegister() (State, error) {
	op := string(stepReadRegister)
	r1, err := d.link.sendCommand(Command{Index: cmdSendCSD})
	if err != nil {
		return StateFailed, newIOError(op, noSector, err)
	}
	if r1 != R1Ready {
		return StateFailed, newIOError(op, noSector, fmt.Errorf("%w: CMD9 R1 %s", ErrBadResponse, r1))
	}
	if err := d.link.receiveBlock(d.csd[:]); err != nil {
		return StateFailed, newIOError(op, noSector, err)
	}
	d.csdRead = true
	Debugf("%s: %s", op, &d.csd)

	count, err := decodeCapacity(&d.csd, d.config.Capacity)
	if err != nil {
		return StateUnsupported, newUnsupportedError(op, err)
	}
	d.blockCount = count
	return StateReady, nil
}
