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
	"errors"
	"io"
	"testing"

	virt "github.com/ZaparooProject/go-sdspi/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_NilBus(t *testing.T) {
	t.Parallel()

	dev, err := New(nil)
	require.ErrorIs(t, err, ErrInvalidParameter)
	assert.Nil(t, dev)
}

func TestNew_InvalidOption(t *testing.T) {
	t.Parallel()

	card := virt.NewVirtualCard()
	_, err := New(card, WithPollBudget(0))
	require.ErrorIs(t, err, ErrInvalidParameter)
	assert.Zero(t, card.Exchanges(), "options are validated before any bus traffic")
}

func TestInit_Ready(t *testing.T) {
	t.Parallel()

	card := virt.NewVirtualCard()
	dev := newReadyDevice(t, card)

	assert.True(t, dev.Ready())
	require.NoError(t, dev.Err())
	assert.Equal(t, uint32(512), dev.BlockSize())
	assert.Equal(t, uint64(1000*1024), dev.BlockCount())
	assert.Equal(t, int64(1000*1024*512), dev.Size())
	assert.Equal(t, uint32(0), dev.Position())
	assert.True(t, dev.Writable())
	assert.Equal(t, card, dev.Bus())

	csd, ok := dev.CSD()
	require.True(t, ok)
	assert.True(t, csd.IsHighCapacity())
	assert.Equal(t, uint32(1000), csd.CSize())
}

func TestInit_CommandSequence(t *testing.T) {
	t.Parallel()

	card := virt.NewVirtualCard()
	newReadyDevice(t, card)

	cmds := card.Commands()
	require.GreaterOrEqual(t, len(cmds), 4)
	assert.Equal(t, byte(virt.CmdGoIdleState), cmds[0].Index)
	assert.Equal(t, byte(0x95), cmds[0].CRC)
	assert.Equal(t, byte(virt.CmdSendIfCond), cmds[1].Index)
	assert.Equal(t, uint32(0x1A5), cmds[1].Arg)
	assert.Equal(t, byte(0x69), cmds[1].CRC)
	assert.Equal(t, byte(virt.CmdAppCmd), cmds[2].Index)
	assert.Equal(t, byte(virt.AcmdSDSendOpCond), cmds[3].Index)
	assert.Equal(t, uint32(1<<30), cmds[3].Arg)
	assert.Equal(t, byte(virt.CmdSendCSD), cmds[len(cmds)-1].Index)

	// Idle for two polls, ready on the third.
	assert.Equal(t, 3, card.CommandCount(virt.AcmdSDSendOpCond))
	assert.Equal(t, 3, card.CommandCount(virt.CmdAppCmd))
}

func TestInit_StandardCapacityFormula(t *testing.T) {
	t.Parallel()

	dev := newReadyDevice(t, virt.NewVirtualCard(), WithCapacityFormula(CapacityStandard))
	assert.Equal(t, uint64(1001*1024), dev.BlockCount())
}

func TestInit_ByteOnlyBus(t *testing.T) {
	t.Parallel()

	card := virt.NewVirtualCard()
	dev, err := New(byteBus{card: card})
	require.NoError(t, err)
	require.Equal(t, StateReady, dev.State(), "init error: %v", dev.Err())

	data := pattern(9)
	require.NoError(t, dev.WriteBlock(data))
	require.NoError(t, dev.SeekSector(0))
	got := make([]byte, BlockSize)
	require.NoError(t, dev.ReadBlock(got))
	assert.Equal(t, data, got)
}

func TestInit_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		setup     func(*virt.VirtualCard)
		name      string
		wantState State
		wantKind  ErrorKind
		wantCause error
	}{
		{
			name:      "silent bus",
			setup:     func(c *virt.VirtualCard) { c.SetSilent(true) },
			wantState: StateNotPresent,
			wantKind:  KindIO,
			wantCause: ErrNotPresent,
		},
		{
			name:      "reset not acknowledged as idle",
			setup:     func(c *virt.VirtualCard) { c.SetResetResponse(virt.R1Ready) },
			wantState: StateNotPresent,
			wantKind:  KindIO,
			wantCause: ErrNotPresent,
		},
		{
			name: "legacy card rejects CMD8",
			setup: func(c *virt.VirtualCard) {
				c.SetIfCondResponse(virt.R1Idle|virt.R1IllegalCommand, 0, -1)
			},
			wantState: StateUnsupported,
			wantKind:  KindUnsupported,
		},
		{
			name:      "CMD8 wrong voltage",
			setup:     func(c *virt.VirtualCard) { c.SetIfCondResponse(virt.R1Idle, 0x02, -1) },
			wantState: StateUnsupported,
			wantKind:  KindUnsupported,
		},
		{
			name:      "CMD8 wrong check pattern",
			setup:     func(c *virt.VirtualCard) { c.SetIfCondResponse(virt.R1Idle, 0x01, 0x55) },
			wantState: StateUnsupported,
			wantKind:  KindUnsupported,
		},
		{
			name:      "never leaves idle",
			setup:     func(c *virt.VirtualCard) { c.SetNeverReady(true) },
			wantState: StateFailed,
			wantKind:  KindIO,
			wantCause: ErrTimeout,
		},
		{
			name:      "CMD9 rejected",
			setup:     func(c *virt.VirtualCard) { c.SetSendCSDResponse(virt.R1IllegalCommand) },
			wantState: StateFailed,
			wantKind:  KindIO,
			wantCause: ErrBadResponse,
		},
		{
			name:      "CSD never arrives",
			setup:     func(c *virt.VirtualCard) { c.SetNoStartToken(true) },
			wantState: StateFailed,
			wantKind:  KindIO,
			wantCause: ErrTimeout,
		},
		{
			name:      "standard capacity CSD",
			setup:     func(c *virt.VirtualCard) { c.SetCSD(virt.BuildCSD(virt.CSDStructureV1, 1000)) },
			wantState: StateUnsupported,
			wantKind:  KindUnsupported,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			card := virt.NewVirtualCard()
			tt.setup(card)
			dev := newTestDevice(t, card, WithIdleWaitBudget(20), WithPollBudget(64))

			assert.Equal(t, tt.wantState, dev.State())
			assert.False(t, dev.Ready())
			assert.Zero(t, dev.BlockCount())
			assert.Zero(t, dev.BlockSize())

			err := dev.Err()
			require.Error(t, err)
			kind, ok := KindOf(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantKind, kind)
			if tt.wantCause != nil {
				require.ErrorIs(t, err, tt.wantCause)
			}
			assert.True(t, HasTrace(err))
		})
	}
}

func TestInit_BusErrorDuringVoltageCheck(t *testing.T) {
	t.Parallel()

	card := virt.NewVirtualCard()
	// Enough for CMD0 and its R1, then the bus dies.
	bus := &faultyBus{card: card, n: 9}
	dev, err := New(bus)
	require.NoError(t, err)

	assert.Equal(t, StateFailed, dev.State())
	require.ErrorIs(t, dev.Err(), errBusFault)
}

func TestNotReady_NoBusTraffic(t *testing.T) {
	t.Parallel()

	card := virt.NewVirtualCard()
	card.SetSilent(true)
	dev := newTestDevice(t, card, WithPollBudget(32))
	require.Equal(t, StateNotPresent, dev.State())

	before := card.Exchanges()
	buf := make([]byte, BlockSize)

	err := dev.ReadBlock(buf)
	require.ErrorIs(t, err, ErrIO)
	require.ErrorIs(t, err, ErrNotReady)
	require.ErrorIs(t, err, ErrNotPresent)

	require.ErrorIs(t, dev.WriteBlock(buf), ErrIO)
	require.ErrorIs(t, dev.SeekSector(0), ErrIO)
	assert.Equal(t, before, card.Exchanges())
	assert.False(t, IsRetryable(err))
}

func TestSeekSector(t *testing.T) {
	t.Parallel()

	card := virt.NewVirtualCard()
	dev := newReadyDevice(t, card)
	before := card.Exchanges()

	require.NoError(t, dev.SeekSector(100))
	require.NoError(t, dev.SeekSector(100))
	assert.Equal(t, uint32(100), dev.Position())
	assert.Equal(t, before, card.Exchanges())

	last := uint32(dev.BlockCount() - 1)
	require.NoError(t, dev.SeekSector(last))
	assert.Equal(t, last, dev.Position())

	err := dev.SeekSector(last + 1)
	require.ErrorIs(t, err, ErrOutOfBounds)
	assert.NotErrorIs(t, err, ErrIO)
	assert.Equal(t, last, dev.Position(), "failed seek keeps position")
}

func TestSeekSector_RepeatedSeekReadsSameSector(t *testing.T) {
	t.Parallel()

	card := virt.NewVirtualCard()
	card.SetBlock(7, pattern(7))
	card.SetBlock(8, pattern(8))
	dev := newReadyDevice(t, card)

	once := make([]byte, BlockSize)
	require.NoError(t, dev.SeekSector(7))
	require.NoError(t, dev.ReadBlock(once))

	twice := make([]byte, BlockSize)
	require.NoError(t, dev.SeekSector(7))
	require.NoError(t, dev.SeekSector(7))
	require.NoError(t, dev.ReadBlock(twice))

	assert.Equal(t, pattern(7), once)
	assert.Equal(t, once, twice)
	assert.Equal(t, uint32(8), dev.Position())
}

func TestReadBlock_LastAddressableSectorDoesNotWrap(t *testing.T) {
	t.Parallel()

	card := virt.NewVirtualCard()
	card.SetCSD(virt.BuildCSD(virt.CSDStructureV2, 0x3FFFFF))
	dev := newReadyDevice(t, card, WithCapacityFormula(CapacityStandard))
	require.Equal(t, uint64(1<<32-1), dev.BlockCount())

	last := uint32(dev.BlockCount() - 1)
	card.SetBlock(last, pattern(3))
	buf := make([]byte, BlockSize)
	require.NoError(t, dev.SeekSector(last))
	require.NoError(t, dev.ReadBlock(buf))
	assert.Equal(t, pattern(3), buf)
	assert.Equal(t, uint32(1<<32-1), dev.Position())

	require.ErrorIs(t, dev.ReadBlock(buf), ErrOutOfBounds)
	n, err := dev.ReadAt(buf, int64(last)*BlockSize)
	require.NoError(t, err)
	assert.Equal(t, BlockSize, n)
	n, err = dev.ReadAt(buf, int64(dev.BlockCount())*BlockSize)
	require.ErrorIs(t, err, io.EOF)
	assert.Zero(t, n)
}

func TestReadWriteRoundTrip(t *testing.T) {
	t.Parallel()

	card := virt.NewVirtualCard()
	dev := newReadyDevice(t, card)

	first, second := pattern(1), pattern(2)
	require.NoError(t, dev.SeekSector(7))
	require.NoError(t, dev.WriteBlock(first))
	assert.Equal(t, uint32(8), dev.Position())
	require.NoError(t, dev.WriteBlock(second))
	assert.Equal(t, uint32(9), dev.Position())

	assert.Equal(t, first, card.Block(7))
	assert.Equal(t, second, card.Block(8))

	got := make([]byte, BlockSize+16)
	require.NoError(t, dev.SeekSector(7))
	require.NoError(t, dev.ReadBlock(got))
	assert.Equal(t, first, got[:BlockSize])
	assert.Equal(t, make([]byte, 16), got[BlockSize:], "bytes past one block are untouched")
	require.NoError(t, dev.ReadBlock(got))
	assert.Equal(t, second, got[:BlockSize])
	assert.Equal(t, uint32(9), dev.Position())
}

func TestReadBlock_UnwrittenSectorIsZero(t *testing.T) {
	t.Parallel()

	dev := newReadyDevice(t, virt.NewVirtualCard())
	got := pattern(5)
	require.NoError(t, dev.ReadBlock(got))
	assert.Equal(t, make([]byte, BlockSize), got)
}

func TestReadBlock_PresetData(t *testing.T) {
	t.Parallel()

	card := virt.NewVirtualCard()
	card.SetBlock(0, pattern(0x40))
	dev := newReadyDevice(t, card)

	got := make([]byte, BlockSize)
	require.NoError(t, dev.ReadBlock(got))
	assert.Equal(t, pattern(0x40), got)
}

func TestReadBlock_LastSector(t *testing.T) {
	t.Parallel()

	dev := newReadyDevice(t, virt.NewVirtualCard())
	last := uint32(dev.BlockCount() - 1)
	require.NoError(t, dev.SeekSector(last))

	buf := make([]byte, BlockSize)
	require.NoError(t, dev.ReadBlock(buf))
	assert.Equal(t, last+1, dev.Position())

	err := dev.ReadBlock(buf)
	require.ErrorIs(t, err, ErrOutOfBounds)
}

func TestReadBlock_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		setup     func(*virt.VirtualCard)
		name      string
		wantCause error
	}{
		{
			name:      "no start token",
			setup:     func(c *virt.VirtualCard) { c.SetNoStartToken(true) },
			wantCause: ErrTimeout,
		},
		{
			name:      "command rejected",
			setup:     func(c *virt.VirtualCard) { c.SetRejectRead(true) },
			wantCause: ErrBadResponse,
		},
		{
			name:      "card stops answering",
			setup:     func(c *virt.VirtualCard) { c.SetSilent(true) },
			wantCause: ErrTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			card := virt.NewVirtualCard()
			dev := newReadyDevice(t, card, WithPollBudget(64))
			require.NoError(t, dev.SeekSector(3))
			tt.setup(card)

			err := dev.ReadBlock(make([]byte, BlockSize))
			require.ErrorIs(t, err, ErrIO)
			require.ErrorIs(t, err, tt.wantCause)
			assert.Equal(t, uint32(3), dev.Position(), "failed read keeps position")
			assert.True(t, IsRetryable(err))

			var sdErr *Error
			require.ErrorAs(t, err, &sdErr)
			assert.Equal(t, "read", sdErr.Op)
			assert.Equal(t, int64(3), sdErr.Sector)

			trace := GetTrace(err)
			require.NotNil(t, trace)
			require.NotEmpty(t, trace.Trace)
			assert.Equal(t, TraceTX, trace.Trace[0].Direction)
			assert.Contains(t, trace.Trace[0].Note, "CMD17")
		})
	}
}

func TestReadBlock_ShortBuffer(t *testing.T) {
	t.Parallel()

	card := virt.NewVirtualCard()
	dev := newReadyDevice(t, card)
	before := card.Exchanges()

	err := dev.ReadBlock(make([]byte, BlockSize-1))
	require.ErrorIs(t, err, io.ErrShortBuffer)
	require.ErrorIs(t, err, ErrIO)
	assert.Equal(t, before, card.Exchanges())
	assert.Zero(t, dev.Position())
}

func TestWriteBlock_Rejected(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		token byte
	}{
		{"crc error", virt.DataCRCError},
		{"write error", virt.DataWriteError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			card := virt.NewVirtualCard()
			dev := newReadyDevice(t, card)
			require.NoError(t, dev.SeekSector(11))
			card.SetDataResponse(tt.token)

			err := dev.WriteBlock(pattern(3))
			require.ErrorIs(t, err, ErrIO)
			require.ErrorIs(t, err, ErrWriteRejected)
			assert.Equal(t, uint32(11), dev.Position())
			assert.Equal(t, make([]byte, BlockSize), card.Block(11))

			// The card recovers once it accepts data again.
			card.SetDataResponse(virt.DataAccepted)
			require.NoError(t, dev.WriteBlock(pattern(3)))
			assert.Equal(t, uint32(12), dev.Position())
		})
	}
}

func TestWriteBlock_CommandRejected(t *testing.T) {
	t.Parallel()

	card := virt.NewVirtualCard()
	dev := newReadyDevice(t, card)
	card.SetRejectWrite(true)

	err := dev.WriteBlock(pattern(1))
	require.ErrorIs(t, err, ErrBadResponse)
	assert.Zero(t, dev.Position())
}

func TestWriteBlock_StuckBusy(t *testing.T) {
	t.Parallel()

	card := virt.NewVirtualCard()
	dev := newReadyDevice(t, card, WithBusyBudget(64))
	card.SetStuckBusy(true)

	err := dev.WriteBlock(pattern(1))
	require.ErrorIs(t, err, ErrIO)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Zero(t, dev.Position())
}

func TestWriteBlock_BusyThenIdle(t *testing.T) {
	t.Parallel()

	card := virt.NewVirtualCard()
	card.SetBusyCycles(200)
	dev := newReadyDevice(t, card)

	require.NoError(t, dev.WriteBlock(pattern(1)))
	require.NoError(t, dev.WriteBlock(pattern(2)))
	assert.Equal(t, pattern(2), card.Block(1))
}

func TestWriteBlock_NotWritable(t *testing.T) {
	t.Parallel()

	t.Run("read-only option", func(t *testing.T) {
		t.Parallel()

		card := virt.NewVirtualCard()
		dev := newReadyDevice(t, card, WithReadOnly())
		assert.False(t, dev.Writable())
		before := card.Exchanges()

		err := dev.WriteBlock(pattern(1))
		require.ErrorIs(t, err, ErrNotWritable)
		assert.Contains(t, err.Error(), "read-only")
		assert.Equal(t, before, card.Exchanges())
		assert.False(t, IsRetryable(err))
	})

	t.Run("write-protected card", func(t *testing.T) {
		t.Parallel()

		card := virt.NewVirtualCard()
		card.SetWriteProtect(true)
		dev := newReadyDevice(t, card)
		assert.False(t, dev.Writable())

		err := dev.WriteBlock(pattern(1))
		require.ErrorIs(t, err, ErrNotWritable)
		assert.Contains(t, err.Error(), "write protected")
		assert.Zero(t, dev.Position())

		// Reads still work.
		require.NoError(t, dev.ReadBlock(make([]byte, BlockSize)))
	})
}

func TestDevice_Close(t *testing.T) {
	t.Parallel()

	bus := &closingBus{VirtualCard: virt.NewVirtualCard()}
	dev, err := New(bus)
	require.NoError(t, err)
	require.True(t, dev.Ready())

	require.NoError(t, dev.Close())
	require.NoError(t, dev.Close())
	assert.Equal(t, 1, bus.closes)
	assert.False(t, dev.Ready())

	err = dev.ReadBlock(make([]byte, BlockSize))
	require.ErrorIs(t, err, ErrBusClosed)
	assert.True(t, IsFatal(err))
}

func TestDevice_CloseError(t *testing.T) {
	t.Parallel()

	bus := &closingBus{VirtualCard: virt.NewVirtualCard(), closeErr: errors.New("stuck")}
	dev, err := New(bus)
	require.NoError(t, err)

	require.Error(t, dev.Close())
}

func TestDevice_CloseWithoutCloser(t *testing.T) {
	t.Parallel()

	dev := newReadyDevice(t, virt.NewVirtualCard())
	require.NoError(t, dev.Close())
}
