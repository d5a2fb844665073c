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
// Package console is a line-oriented serial terminal for driving a card
// interactively. A receive goroutine moves incoming bytes into a small ring
// buffer and the consumer drains it with Getch or ReadLine. Output
// translates LF to CRLF.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	sdspi "github.com/ZaparooProject/go-sdspi"
	"github.com/ZaparooProject/go-sdspi/internal/ring"
	"github.com/ZaparooProject/go-sdspi/internal/syncutil"
	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is the console line rate.
	DefaultBaudRate = 115200
	// RxBufferSize is the receive ring capacity. Bytes arriving while it is
	// full are dropped.
	RxBufferSize = 64

	// readTimeout bounds each port read so Close is noticed promptly.
	readTimeout = 50 * time.Millisecond

	// clearScreen is ECMA-48 erase display followed by cursor home.
	clearScreen = "\x1b[2J\x1b[H"

	backspace = 0x08
	deleteKey = 0x7F
)

// ErrClosed is returned by reads and writes after Close.
var ErrClosed = errors.New("console closed")

// Port is the part of serial.Port the console uses.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

var _ Port = serial.Port(nil)

// Console is a serial terminal with buffered receive.
type Console struct {
	port  Port
	rx    *ring.Ring[byte]
	wake  chan struct{}
	done  chan struct{}
	rxErr error
	wg    sync.WaitGroup
	errMu syncutil.Mutex
	wrMu  syncutil.Mutex

	closed atomic.Bool
}

// Open opens a serial port at baud, 8N1. A baud of 0 selects DefaultBaudRate.
func Open(portName string, baud int) (*Console, error) {
	if baud == 0 {
		baud = DefaultBaudRate
	}
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open console port %s: %w", portName, err)
	}

	c, err := New(port)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	return c, nil
}

// New starts a console on an already open port. The console owns the port
// and closes it on Close.
func New(port Port) (*Console, error) {
	if err := port.SetReadTimeout(readTimeout); err != nil {
		return nil, fmt.Errorf("failed to set console read timeout: %w", err)
	}
	rx, err := ring.New[byte](RxBufferSize)
	if err != nil {
		return nil, err
	}

	c := &Console{
		port: port,
		rx:   rx,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	c.wg.Add(1)
	go c.receive()
	return c, nil
}

// receive is the only producer for c.rx.
func (c *Console) receive() {
	defer c.wg.Done()

	var buf [16]byte
	for {
		select {
		case <-c.done:
			return
		default:
		}

		n, err := c.port.Read(buf[:])
		for _, b := range buf[:n] {
			if !c.rx.Push(b) {
				sdspi.Debugf("console: receive buffer full, dropped 0x%02X", b)
			}
		}
		if n > 0 {
			c.signal()
		}
		if err != nil {
			if !c.closed.Load() {
				c.setErr(err)
			}
			c.signal()
			return
		}
	}
}

func (c *Console) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Console) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	c.rxErr = fmt.Errorf("console receive: %w", err)
}

func (c *Console) err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.rxErr
}

// TryGetch returns the next received byte without blocking.
func (c *Console) TryGetch() (byte, bool) {
	return c.rx.Pop()
}

// Getch blocks until a byte arrives, the receive side fails or ctx ends.
// Only one goroutine may consume from a Console.
// Bytes already buffered are returned even after a receive error.
func (c *Console) Getch(ctx context.Context) (byte, error) {
	for {
		if b, ok := c.rx.Pop(); ok {
			return b, nil
		}
		if err := c.err(); err != nil {
			return 0, err
		}
		if c.closed.Load() {
			return 0, ErrClosed
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-c.done:
		case <-c.wake:
		}
	}
}

// ReadLine reads up to CR or LF, echoing what is typed. Backspace and
// delete erase the previous character.
func (c *Console) ReadLine(ctx context.Context) (string, error) {
	var line []byte
	for {
		b, err := c.Getch(ctx)
		if err != nil {
			return string(line), err
		}
		switch b {
		case '\r', '\n':
			if err := c.Putch('\n'); err != nil {
				return string(line), err
			}
			return string(line), nil
		case backspace, deleteKey:
			if len(line) == 0 {
				continue
			}
			line = line[:len(line)-1]
			if _, err := c.writeRaw([]byte("\b \b")); err != nil {
				return string(line), err
			}
		default:
			line = append(line, b)
			if err := c.Putch(b); err != nil {
				return string(line), err
			}
		}
	}
}

// Putch writes one byte. LF is sent as CRLF.
func (c *Console) Putch(b byte) error {
	_, err := c.Write([]byte{b})
	return err
}

// Write sends p with every LF expanded to CRLF. The returned count is in
// bytes of p.
func (c *Console) Write(p []byte) (int, error) {
	out := make([]byte, 0, len(p)+8)
	for _, b := range p {
		if b == '\n' {
			out = append(out, '\r')
		}
		out = append(out, b)
	}
	if _, err := c.writeRaw(out); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteString is Write for strings.
func (c *Console) WriteString(s string) (int, error) {
	return c.Write([]byte(s))
}

// Printf formats to the console.
func (c *Console) Printf(format string, args ...any) error {
	_, err := c.WriteString(fmt.Sprintf(format, args...))
	return err
}

// Clear erases the terminal and homes the cursor.
func (c *Console) Clear() error {
	_, err := c.writeRaw([]byte(clearScreen))
	return err
}

func (c *Console) writeRaw(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	c.wrMu.Lock()
	defer c.wrMu.Unlock()
	n, err := c.port.Write(p)
	if err != nil {
		return n, fmt.Errorf("console write: %w", err)
	}
	return n, nil
}

// Buffered returns the number of received bytes waiting to be read.
func (c *Console) Buffered() int {
	return c.rx.Len()
}

// Dropped returns how many received bytes were lost to a full buffer.
func (c *Console) Dropped() uint64 {
	return c.rx.Dropped()
}

// Close stops the receive goroutine and closes the port.
func (c *Console) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.done)
	err := c.port.Close()
	c.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close console port: %w", err)
	}
	return nil
}

// String describes the console for logs.
func (c *Console) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "console(rx %d/%d", c.rx.Len(), c.rx.Cap())
	if d := c.rx.Dropped(); d > 0 {
		_, _ = fmt.Fprintf(&sb, ", %d dropped", d)
	}
	_ = sb.WriteByte(')')
	return sb.String()
}
