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
	"strings"

	"github.com/ZaparooProject/go-sdspi/internal/frame"
)

// SD command indices used by the driver.
const (
	cmdGoIdleState     = 0
	cmdSendIfCond      = 8
	cmdSendCSD         = 9
	cmdReadSingleBlock = 17
	cmdWriteBlock      = 24
	cmdAppCmd          = 55

	// acmdSDSendOpCond must follow cmdAppCmd.
	acmdSDSendOpCond = 41
)

// hcsArg sets the host-capacity-support bit in ACMD41.
const hcsArg uint32 = 1 << 30

// Command is an SD command index and its 32-bit argument.
type Command struct {
	Index uint8
	Arg   uint32
}

func (c Command) String() string {
	return fmt.Sprintf("CMD%d(0x%08X)", c.Index&frame.CommandIndexMask, c.Arg)
}

// Frame returns the six bytes clocked out for the command.
func (c Command) Frame() [frame.CommandFrameLen]byte {
	var buf [frame.CommandFrameLen]byte
	frame.EncodeCommand(&buf, c.Index, c.Arg)
	return buf
}

// R1 is the one-byte status every command answers with.
type R1 byte

// R1 values and flag bits.
const (
	R1Ready R1 = 0x00
	R1Idle  R1 = 0x01

	R1EraseReset     R1 = 0x02
	R1IllegalCommand R1 = 0x04
	R1CRCError       R1 = 0x08
	R1EraseSequence  R1 = 0x10
	R1AddressError   R1 = 0x20
	R1ParameterError R1 = 0x40
)

var r1FlagNames = []struct {
	name string
	bit  R1
}{
	{"idle", R1Idle},
	{"erase-reset", R1EraseReset},
	{"illegal-command", R1IllegalCommand},
	{"crc-error", R1CRCError},
	{"erase-sequence", R1EraseSequence},
	{"address-error", R1AddressError},
	{"parameter-error", R1ParameterError},
}

// Valid reports whether the byte can be an R1 response at all.
func (r R1) Valid() bool {
	return byte(r)&frame.R1InvalidMask == 0
}

// String decodes the flag bits for diagnostics.
func (r R1) String() string {
	if !r.Valid() {
		return fmt.Sprintf("0x%02X [invalid]", byte(r))
	}
	if r == R1Ready {
		return "0x00 [ready]"
	}
	var flags []string
	for _, f := range r1FlagNames {
		if r&f.bit != 0 {
			flags = append(flags, f.name)
		}
	}
	return fmt.Sprintf("0x%02X [%s]", byte(r), strings.Join(flags, " "))
}

// link drives the byte-level protocol over a Bus. All waits are bounded by
// iteration counts.
type link struct {
	bus        Bus
	bulk       BulkTransferer
	trace      *TraceBuffer
	pollBudget int
	busyBudget int
}

func newLink(bus Bus, cfg *Config) link {
	l := link{
		bus:        bus,
		trace:      NewTraceBuffer(busName(bus), cfg.TraceSize),
		pollBudget: cfg.PollBudget,
		busyBudget: cfg.BusyBudget,
	}
	if bulk, ok := bus.(BulkTransferer); ok {
		l.bulk = bulk
	}
	return l
}

func (l *link) exchange(out byte) (byte, error) {
	in, err := l.bus.Exchange(out)
	if err != nil {
		return 0, fmt.Errorf("bus exchange: %w", err)
	}
	return in, nil
}

// recv clocks one idle byte out and returns what came back.
func (l *link) recv() (byte, error) {
	return l.exchange(frame.IdleByte)
}

// readBytes fills dst with received bytes, using a bulk transfer when the
// bus supports one.
func (l *link) readBytes(dst []byte) error {
	if l.bulk != nil {
		fill := frame.GetFill(len(dst))
		defer frame.PutFill(fill)
		if err := l.bulk.Transfer(fill, dst); err != nil {
			return fmt.Errorf("bus transfer: %w", err)
		}
		return nil
	}
	for i := range dst {
		b, err := l.recv()
		if err != nil {
			return err
		}
		dst[i] = b
	}
	return nil
}

// writeBytes clocks out src and discards what comes back.
func (l *link) writeBytes(src []byte) error {
	if _, err := l.bus.ExchangeBuffer(src); err != nil {
		return fmt.Errorf("bus exchange: %w", err)
	}
	return nil
}

// waitReady polls until the card releases the bus. It returns the last byte
// seen; running out of budget is not an error here.
func (l *link) waitReady() (byte, error) {
	var last byte
	for range l.pollBudget {
		b, err := l.recv()
		if err != nil {
			return 0, err
		}
		last = b
		if b == frame.IdleByte {
			return b, nil
		}
	}
	return last, nil
}

// sendCommand waits for the bus to idle, clocks out the command frame and
// polls for a valid R1.
func (l *link) sendCommand(cmd Command) (R1, error) {
	last, err := l.waitReady()
	if err != nil {
		return 0, err
	}
	if last != frame.IdleByte {
		Debugf("%s: card still busy before command (last 0x%02X)", cmd, last)
		l.trace.RecordTimeout("ready before " + cmd.String())
	}

	buf := cmd.Frame()
	l.trace.RecordTX(buf[:], cmd.String())
	if err := l.writeBytes(buf[:]); err != nil {
		return 0, err
	}

	for range l.pollBudget {
		b, err := l.recv()
		if err != nil {
			return 0, err
		}
		if r1 := R1(b); r1.Valid() {
			l.trace.RecordRX([]byte{b}, "R1")
			return r1, nil
		}
	}

	l.trace.RecordTimeout("R1 for " + cmd.String())
	Debugf("%s: no R1 within %d polls", cmd, l.pollBudget)
	return 0, fmt.Errorf("%s R1: %w", cmd, ErrTimeout)
}
