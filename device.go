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
	"fmt"
	"io"

	"github.com/ZaparooProject/go-sdspi/internal/frame"
)

// BlockSize is the fixed sector size of high-capacity cards.
const BlockSize = frame.BlockSize

// Device is a high-capacity SD card driven in SPI mode, exposed as an array
// of 512-byte sectors with a current position.
//
// Thread Safety: Device is NOT thread-safe. All methods must be called from
// a single goroutine or protected with external synchronization.
type Device struct {
	link       link
	config     *Config
	initErr    error
	blockCount uint64
	blockSize  uint32
	position   uint32
	state      State
	csd        CSD
	csdRead    bool
	writable   bool
	closed     bool
}

// New creates a device on bus and runs the initialization handshake once.
// The returned error only reports invalid arguments; whether the card came
// up is reported by State and Err.
func New(bus Bus, opts ...Option) (*Device, error) {
	if bus == nil {
		return nil, fmt.Errorf("%w: nil bus", ErrInvalidParameter)
	}

	config := DefaultConfig()
	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	device := &Device{
		link:   newLink(bus, config),
		config: config,
	}
	device.initialize()
	return device, nil
}

// Bus returns the underlying bus
func (d *Device) Bus() Bus {
	return d.link.bus
}

// State returns the outcome of initialization.
func (d *Device) State() State {
	return d.state
}

// Err returns the initialization error, or nil when the device is ready.
func (d *Device) Err() error {
	return d.initErr
}

// Ready reports whether the device accepts I/O.
func (d *Device) Ready() bool {
	return d.state == StateReady && !d.closed
}

// BlockSize returns the sector size in bytes, or 0 if not ready.
func (d *Device) BlockSize() uint32 {
	return d.blockSize
}

// BlockCount returns the number of sectors, or 0 if not ready.
func (d *Device) BlockCount() uint64 {
	return d.blockCount
}

// Size returns the capacity in bytes.
func (d *Device) Size() int64 {
	return int64(d.blockCount) * int64(d.blockSize)
}

// Position returns the sector the next read or write will access.
func (d *Device) Position() uint32 {
	return d.position
}

// CSD returns the card's CSD register. ok is false if it was never read.
func (d *Device) CSD() (csd CSD, ok bool) {
	return d.csd, d.csdRead
}

// Writable reports whether WriteBlock may succeed.
func (d *Device) Writable() bool {
	return d.writable
}

// checkAccess validates that sector can be accessed without touching the bus.
func (d *Device) checkAccess(op string, sector uint32) error {
	if d.closed {
		return newIOError(op, int64(sector), ErrBusClosed)
	}
	if d.state != StateReady {
		cause := ErrNotReady
		if d.initErr != nil {
			cause = fmt.Errorf("%w: %w", ErrNotReady, d.initErr)
		}
		return newIOError(op, int64(sector), cause)
	}
	if uint64(sector) >= d.blockCount {
		return newOutOfBoundsError(op, sector, d.blockCount)
	}
	return nil
}

// SeekSector sets the position for the next read or write. It never
// touches the bus.
func (d *Device) SeekSector(sector uint32) error {
	if err := d.checkAccess("seek", sector); err != nil {
		return err
	}
	d.position = sector
	return nil
}

// ReadBlock reads the sector at the current position into the first 512
// bytes of buf and advances the position.
func (d *Device) ReadBlock(buf []byte) error {
	const op = "read"
	sector := d.position
	if err := d.checkAccess(op, sector); err != nil {
		return err
	}
	if len(buf) < BlockSize {
		return newIOError(op, int64(sector), io.ErrShortBuffer)
	}

	d.link.trace.Clear()
	if err := d.readSector(sector, buf[:BlockSize]); err != nil {
		Debugf("read sector %d: %v", sector, err)
		return d.link.trace.WrapError(newIOError(op, int64(sector), err))
	}
	d.position++
	return nil
}

func (d *Device) readSector(sector uint32, dst []byte) error {
	cmd := Command{Index: cmdReadSingleBlock, Arg: sector}
	r1, err := d.link.sendCommand(cmd)
	if err != nil {
		return err
	}
	if r1 != R1Ready {
		return fmt.Errorf("%w: %s R1 %s", ErrBadResponse, cmd, r1)
	}
	return d.link.receiveBlock(dst)
}

// WriteBlock writes the first 512 bytes of buf to the sector at the current
// position. The position advances only when the card accepts the data.
func (d *Device) WriteBlock(buf []byte) error {
	const op = "write"
	sector := d.position
	if err := d.checkAccess(op, sector); err != nil {
		return err
	}
	if !d.writable {
		cause := errors.New("read-only device")
		if d.csd.WriteProtected() {
			cause = errors.New("card is write protected")
		}
		return newNotWritableError(op, sector, cause)
	}
	if len(buf) < BlockSize {
		return newIOError(op, int64(sector), io.ErrShortBuffer)
	}

	d.link.trace.Clear()
	if err := d.writeSector(sector, buf[:BlockSize]); err != nil {
		Debugf("write sector %d: %v", sector, err)
		return d.link.trace.WrapError(newIOError(op, int64(sector), err))
	}
	d.position++
	return nil
}

func (d *Device) writeSector(sector uint32, src []byte) error {
	cmd := Command{Index: cmdWriteBlock, Arg: sector}
	r1, err := d.link.sendCommand(cmd)
	if err != nil {
		return err
	}
	if r1 != R1Ready {
		return fmt.Errorf("%w: %s R1 %s", ErrBadResponse, cmd, r1)
	}
	return d.link.transmitBlock(src)
}

// Close releases the bus if it implements io.Closer. Later I/O fails.
func (d *Device) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	if closer, ok := d.link.bus.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("failed to close bus: %w", err)
		}
	}
	return nil
}
