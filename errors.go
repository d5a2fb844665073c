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
)

// Error kinds reported to callers. Every *Error matches exactly one of these
// with errors.Is.
var (
	ErrIO          = errors.New("i/o error")
	ErrOutOfBounds = errors.New("sector out of bounds")
	ErrUnsupported = errors.New("card not supported")
	ErrNotWritable = errors.New("device not writable")
)

// Causes carried underneath an *Error.
var (
	ErrTimeout       = errors.New("poll budget exhausted")
	ErrNotPresent    = errors.New("no card present")
	ErrNotReady      = errors.New("device not initialized")
	ErrBadResponse   = errors.New("unexpected card response")
	ErrWriteRejected = errors.New("write data rejected by card")

	ErrInvalidParameter = errors.New("invalid parameter")
	ErrBusClosed        = errors.New("bus is closed")
)

// ErrorKind is the category a failed operation falls into.
type ErrorKind int

const (
	// KindIO covers bus failures, timeouts, unexpected responses and
	// operations on a device that never became ready.
	KindIO ErrorKind = iota + 1
	// KindOutOfBounds means the requested sector is past the end of the card.
	KindOutOfBounds
	// KindUnsupported means the card answered but is not a high-capacity card.
	KindUnsupported
	// KindNotWritable means the device refuses writes.
	KindNotWritable
)

func (k ErrorKind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindOutOfBounds:
		return "out-of-bounds"
	case KindUnsupported:
		return "unsupported"
	case KindNotWritable:
		return "not-writable"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindIO:
		return ErrIO
	case KindOutOfBounds:
		return ErrOutOfBounds
	case KindUnsupported:
		return ErrUnsupported
	case KindNotWritable:
		return ErrNotWritable
	default:
		return nil
	}
}

// noSector marks an *Error that is not tied to a sector.
const noSector = -1

// Error describes a failed driver operation.
type Error struct {
	Err    error     // Underlying cause, may be nil
	Op     string    // Operation that failed ("read", "init reset", ...)
	Sector int64     // Sector involved, or -1
	Kind   ErrorKind // Error category
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Sector >= 0 {
		msg = fmt.Sprintf("%s sector %d", e.Op, e.Sector)
	}
	kind := e.Kind.sentinel()
	switch {
	case kind == nil && e.Err == nil:
		return msg
	case e.Err == nil:
		return fmt.Sprintf("%s: %v", msg, kind)
	case kind == nil:
		return fmt.Sprintf("%s: %v", msg, e.Err)
	default:
		return fmt.Sprintf("%s: %v: %v", msg, kind, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind.
func (e *Error) Is(target error) bool {
	kind := e.Kind.sentinel()
	return kind != nil && target == kind
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsRetryable returns true if repeating the operation could succeed. Timeouts
// and bus-level failures are retryable. Bounds, capability and write-protect
// failures are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsFatal(err) {
		return false
	}
	kind, ok := KindOf(err)
	if ok && kind != KindIO {
		return false
	}

	switch {
	case errors.Is(err, ErrNotReady),
		errors.Is(err, ErrInvalidParameter),
		errors.Is(err, io.ErrShortBuffer):
		return false
	case errors.Is(err, ErrTimeout),
		errors.Is(err, ErrNotPresent),
		errors.Is(err, ErrBadResponse),
		errors.Is(err, ErrWriteRejected):
		return true
	default:
		return ok
	}
}

// IsFatal returns true if the bus underneath the device is gone and further
// operations cannot succeed.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if isDeviceGoneError(err) {
		return true
	}
	return errors.Is(err, ErrBusClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe)
}

// isDeviceGoneError checks for OS-level errors seen when an adapter is
// unplugged during a transfer.
func isDeviceGoneError(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	//nolint:exhaustive // only device-gone errnos matter here
	switch errno {
	case syscall.ENXIO, syscall.ENODEV:
		return true
	default:
		return false
	}
}

// Error constructors for consistent error creation

func newIOError(op string, sector int64, cause error) *Error {
	return &Error{Op: op, Sector: sector, Kind: KindIO, Err: cause}
}

func newOutOfBoundsError(op string, sector uint32, count uint64) *Error {
	return &Error{
		Op:     op,
		Sector: int64(sector),
		Kind:   KindOutOfBounds,
		Err:    fmt.Errorf("card has %d blocks", count),
	}
}

func newUnsupportedError(op string, cause error) *Error {
	return &Error{Op: op, Sector: noSector, Kind: KindUnsupported, Err: cause}
}

func newNotWritableError(op string, sector uint32, cause error) *Error {
	return &Error{Op: op, Sector: int64(sector), Kind: KindNotWritable, Err: cause}
}
