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
	"testing"

	virt "github.com/ZaparooProject/go-sdspi/internal/testing"
	"github.com/stretchr/testify/require"
)

// newTestDevice brings up a Device on card and fails the test on argument
// errors. The card state is left for the caller to assert.
func newTestDevice(t *testing.T, card *virt.VirtualCard, opts ...Option) *Device {
	t.Helper()
	dev, err := New(card, opts...)
	require.NoError(t, err)
	return dev
}

// newReadyDevice is newTestDevice that also requires initialization to
// succeed.
func newReadyDevice(t *testing.T, card *virt.VirtualCard, opts ...Option) *Device {
	t.Helper()
	dev := newTestDevice(t, card, opts...)
	require.Equal(t, StateReady, dev.State(), "init error: %v", dev.Err())
	return dev
}

func pattern(seed byte) []byte {
	buf := make([]byte, BlockSize)
	for i := range buf {
		buf[i] = seed + byte(i*3)
	}
	return buf
}

// byteBus hides the card's bulk Transfer so every read is byte by byte.
type byteBus struct {
	card *virt.VirtualCard
}

func (b byteBus) Exchange(out byte) (byte, error) {
	return b.card.Exchange(out)
}

func (b byteBus) ExchangeBuffer(out []byte) (byte, error) {
	return b.card.ExchangeBuffer(out)
}

// closingBus records Close calls.
type closingBus struct {
	*virt.VirtualCard
	closeErr error
	closes   int
}

func (c *closingBus) Close() error {
	c.closes++
	return c.closeErr
}

var errBusFault = errors.New("bus fault")

// faultyBus fails every exchange after the first n.
type faultyBus struct {
	card *virt.VirtualCard
	n    int
}

func (f *faultyBus) Exchange(out byte) (byte, error) {
	if f.n <= 0 {
		return 0, errBusFault
	}
	f.n--
	return f.card.Exchange(out)
}

func (f *faultyBus) ExchangeBuffer(out []byte) (byte, error) {
	last := byte(0xFF)
	for _, b := range out {
		in, err := f.Exchange(b)
		if err != nil {
			return 0, err
		}
		last = in
	}
	return last, nil
}
