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

// Package spi provides an SD card bus over periph.io SPI ports: Linux
// spidev nodes and FTDI FT232H USB bridges.
package spi

import (
	"errors"
	"fmt"

	sdspi "github.com/ZaparooProject/go-sdspi"
	"github.com/ZaparooProject/go-sdspi/internal/frame"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/ftdi"
)

const (
	// DefaultFrequency is safe for the identification phase of every card.
	// Cards must accept 100-400 kHz until initialized.
	DefaultFrequency = 400 * physic.KiloHertz

	// mode is CPOL=0, CPHA=0, MSB first.
	mode = spi.Mode0

	// powerUpBytes is 80 clock cycles with MOSI high.
	powerUpBytes = 10

	ftdiVendorID    = 0x0403
	ft232hProductID = 0x6014
)

var errNoFT232H = errors.New("no FT232H device found")

// Bus implements sdspi.Bus over a periph.io spi.Conn.
type Bus struct {
	conn     spi.Conn
	port     spi.PortCloser
	cs       gpio.PinOut
	portName string
	maxTx    int
	// keepCS is set when the controller drives CS. Every transfer then
	// leaves CS asserted so a command, its response and its data block
	// share one selection.
	keepCS   bool
	closed   bool
}

var (
	_ sdspi.Bus            = (*Bus)(nil)
	_ sdspi.BulkTransferer = (*Bus)(nil)
)

// Option configures a Bus.
type Option func(*options) error

type options struct {
	csPin     string
	frequency physic.Frequency
	skipPower bool
}

// WithFrequency sets the SPI clock.
func WithFrequency(f physic.Frequency) Option {
	return func(o *options) error {
		if f <= 0 {
			return fmt.Errorf("invalid SPI frequency %s", f)
		}
		o.frequency = f
		return nil
	}
}

// WithChipSelect drives CS from the named GPIO (for example "GPIO25")
// instead of the controller's hardware CS. The pin is held low for the life
// of the bus so that multi-byte responses are not cut short.
//
// Without it the controller's CS is held asserted between transfers, but
// the 80 power-up clocks go out with CS asserted. Cards that insist on CS
// high during power-up need a GPIO chip select.
func WithChipSelect(pinName string) Option {
	return func(o *options) error {
		o.csPin = pinName
		return nil
	}
}

// WithoutPowerUp skips the 80-cycle power-up sequence, for cards that are
// already in SPI mode.
func WithoutPowerUp() Option {
	return func(o *options) error {
		o.skipPower = true
		return nil
	}
}

func applyOptions(opts []Option) (*options, error) {
	o := &options{frequency: DefaultFrequency}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// New opens an SPI port by periph registry name, e.g. "/dev/spidev0.0" or
// "SPI0.0".
func New(portName string, opts ...Option) (*Bus, error) {
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	port, err := spireg.Open(portName)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %s: %w", portName, err)
	}

	c, err := port.Connect(o.frequency, mode, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to connect SPI: %w", err)
	}

	bus, err := newBus(c, port, portName, o, nil)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	return bus, nil
}

// OpenBus is New with default options, typed for sdspi.WithBusFactory.
func OpenBus(path string) (sdspi.Bus, error) {
	return New(path)
}

// NewFT232H opens the first FT232H bridge. SCK, MOSI and MISO are on
// ADBUS0-2 and CS is driven manually on ADBUS3 (D3) unless WithChipSelect
// names another pin.
func NewFT232H(opts ...Option) (*Bus, error) {
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	ft := findFT232H()
	if ft == nil {
		return nil, errNoFT232H
	}

	port, err := ft.SPI()
	if err != nil {
		return nil, fmt.Errorf("failed to get FT232H SPI port: %w", err)
	}
	c, err := port.Connect(o.frequency, mode, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to connect FT232H SPI: %w", err)
	}

	var cs gpio.PinOut = ft.D3
	bus, err := newBus(c, port, ft.String(), o, cs)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	return bus, nil
}

func findFT232H() *ftdi.FT232H {
	info := ftdi.Info{}
	for _, dev := range ftdi.All() {
		dev.Info(&info)
		if info.VenID != ftdiVendorID || info.DevID != ft232hProductID {
			continue
		}
		if ft, ok := dev.(*ftdi.FT232H); ok {
			return ft
		}
	}
	return nil
}

// NewFromConn wraps an already connected spi.Conn. The caller keeps
// ownership of the port; Close only releases chip select.
func NewFromConn(c spi.Conn, name string, opts ...Option) (*Bus, error) {
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return newBus(c, nil, name, o, nil)
}

func newBus(c spi.Conn, port spi.PortCloser, name string, o *options, defaultCS gpio.PinOut) (*Bus, error) {
	bus := &Bus{
		conn:     c,
		port:     port,
		portName: name,
		cs:       defaultCS,
	}
	if limits, ok := c.(conn.Limits); ok {
		bus.maxTx = limits.MaxTxSize()
	}

	if o.csPin != "" {
		pin := gpioreg.ByName(o.csPin)
		if pin == nil {
			return nil, fmt.Errorf("chip select pin %s not found", o.csPin)
		}
		bus.cs = pin
	}
	bus.keepCS = bus.cs == nil

	if !o.skipPower {
		if err := bus.powerUp(); err != nil {
			return nil, err
		}
	} else if err := bus.selectCard(); err != nil {
		return nil, err
	}

	sdspi.Debugf("SPI bus %s open at %s", name, o.frequency)
	return bus, nil
}

// powerUp clocks 80 cycles with CS deasserted so the card enters its
// native-mode idle state, then selects the card.
func (b *Bus) powerUp() error {
	if b.cs != nil {
		if err := b.cs.Out(gpio.High); err != nil {
			return fmt.Errorf("failed to deassert chip select: %w", err)
		}
	}
	fill := frame.GetFill(powerUpBytes)
	defer frame.PutFill(fill)
	// Sent as a plain transfer so hardware CS is released afterwards.
	if err := b.conn.Tx(fill, nil); err != nil {
		return fmt.Errorf("power-up clocks failed: %w", err)
	}
	return b.selectCard()
}

func (b *Bus) selectCard() error {
	if b.cs == nil {
		return nil
	}
	if err := b.cs.Out(gpio.Low); err != nil {
		return fmt.Errorf("failed to assert chip select: %w", err)
	}
	return nil
}

// Exchange sends one byte and returns the byte clocked in with it.
func (b *Bus) Exchange(out byte) (byte, error) {
	if b.closed {
		return 0, sdspi.ErrBusClosed
	}
	w := [1]byte{out}
	var r [1]byte
	if err := b.tx(w[:], r[:]); err != nil {
		return 0, fmt.Errorf("spi %s: %w", b.portName, err)
	}
	return r[0], nil
}

// ExchangeBuffer sends out and returns the last byte clocked in.
func (b *Bus) ExchangeBuffer(out []byte) (byte, error) {
	if len(out) == 0 {
		return frame.IdleByte, nil
	}
	r := frame.GetBuffer(len(out))
	defer frame.PutBuffer(r)
	if err := b.Transfer(out, r); err != nil {
		return 0, err
	}
	return r[len(r)-1], nil
}

// Transfer clocks w out and fills r, split to the controller's limit.
func (b *Bus) Transfer(w, r []byte) error {
	if b.closed {
		return sdspi.ErrBusClosed
	}
	if len(w) != len(r) {
		return fmt.Errorf("%w: transfer lengths %d and %d differ", sdspi.ErrInvalidParameter, len(w), len(r))
	}
	chunk := len(w)
	if b.maxTx > 0 && b.maxTx < chunk {
		chunk = b.maxTx
	}
	for off := 0; off < len(w); off += chunk {
		end := min(off+chunk, len(w))
		if err := b.tx(w[off:end], r[off:end]); err != nil {
			return fmt.Errorf("spi %s: %w", b.portName, err)
		}
	}
	return nil
}

func (b *Bus) tx(w, r []byte) error {
	if !b.keepCS {
		return b.conn.Tx(w, r)
	}
	return b.conn.TxPackets([]spi.Packet{{W: w, R: r, KeepCS: true}})
}

// Close deselects the card and closes the port if the bus opened it.
func (b *Bus) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true

	var errs []error
	if b.keepCS {
		// A transfer without KeepCS releases the controller's CS.
		if err := b.conn.Tx([]byte{frame.IdleByte}, nil); err != nil {
			errs = append(errs, fmt.Errorf("failed to deassert chip select: %w", err))
		}
	}
	if b.cs != nil {
		if err := b.cs.Out(gpio.High); err != nil {
			errs = append(errs, fmt.Errorf("failed to deassert chip select: %w", err))
		}
	}
	if b.port != nil {
		if err := b.port.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close SPI port: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (b *Bus) String() string {
	return "spi:" + b.portName
}
