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
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"sector and cause", newIOError("read", 12, ErrTimeout), "read sector 12: i/o error: poll budget exhausted"},
		{"no sector", newIOError("init reset", noSector, ErrNotPresent), "init reset: i/o error: no card present"},
		{"no cause", &Error{Op: "seek", Sector: 3, Kind: KindOutOfBounds}, "seek sector 3: sector out of bounds"},
		{"no kind", &Error{Op: "close", Sector: noSector, Err: io.EOF}, "close: EOF"},
		{"bounds", newOutOfBoundsError("seek", 5000, 4096), "seek sector 5000: sector out of bounds: card has 4096 blocks"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_KindMatching(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("wrapped: %w", newNotWritableError("write", 1, errors.New("read-only device")))

	assert.ErrorIs(t, err, ErrNotWritable)
	assert.NotErrorIs(t, err, ErrIO)
	assert.NotErrorIs(t, err, ErrOutOfBounds)

	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, KindNotWritable, kind)

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)

	cause := newIOError("read", 1, ErrBadResponse)
	assert.ErrorIs(t, cause, ErrIO)
	assert.ErrorIs(t, cause, ErrBadResponse)
}

func TestErrorKind_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "io", KindIO.String())
	assert.Equal(t, "out-of-bounds", KindOutOfBounds.String())
	assert.Equal(t, "unsupported", KindUnsupported.String())
	assert.Equal(t, "not-writable", KindNotWritable.String())
	assert.Equal(t, "ErrorKind(0)", ErrorKind(0).String())
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		name string
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "timeout", err: newIOError("read", 1, ErrTimeout), want: true},
		{name: "bad response", err: newIOError("read", 1, ErrBadResponse), want: true},
		{name: "write rejected", err: newIOError("write", 1, ErrWriteRejected), want: true},
		{name: "not present", err: newIOError("init reset", noSector, ErrNotPresent), want: true},
		{name: "plain io", err: newIOError("read", 1, errors.New("glitch")), want: true},
		{name: "not ready", err: newIOError("read", 1, fmt.Errorf("%w: %w", ErrNotReady, ErrTimeout)), want: false},
		{name: "short buffer", err: newIOError("read", 1, io.ErrShortBuffer), want: false},
		{name: "invalid parameter", err: newIOError("read", 1, ErrInvalidParameter), want: false},
		{name: "out of bounds", err: newOutOfBoundsError("seek", 9, 8), want: false},
		{name: "unsupported", err: newUnsupportedError("init", errors.New("legacy")), want: false},
		{name: "not writable", err: newNotWritableError("write", 1, errors.New("ro")), want: false},
		{name: "bus closed", err: newIOError("read", 1, ErrBusClosed), want: false},
		{name: "bare timeout", err: ErrTimeout, want: true},
		{name: "unknown", err: errors.New("something"), want: false},
		{name: "traced", err: &TraceableError{Err: newIOError("read", 1, ErrTimeout)}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestIsFatal(t *testing.T) {
	t.Parallel()

	assert.False(t, IsFatal(nil))
	assert.True(t, IsFatal(ErrBusClosed))
	assert.True(t, IsFatal(fmt.Errorf("read: %w", io.EOF)))
	assert.True(t, IsFatal(io.ErrClosedPipe))
	assert.True(t, IsFatal(fmt.Errorf("spi: %w", syscall.ENODEV)))
	assert.True(t, IsFatal(syscall.ENXIO))
	assert.False(t, IsFatal(syscall.EAGAIN))
	assert.False(t, IsFatal(ErrTimeout))
}
