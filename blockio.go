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
	"io"
)

var (
	_ io.ReaderAt = (*Device)(nil)
	_ io.WriterAt = (*Device)(nil)
)

// sectorSpan converts a byte offset and length into a starting sector and a
// sector count. Both must be multiples of BlockSize.
func sectorSpan(op string, off int64, n int) (uint32, int, error) {
	if off < 0 || off%BlockSize != 0 || n%BlockSize != 0 {
		return 0, 0, newIOError(op, noSector,
			fmt.Errorf("%w: offset %d length %d not sector aligned", ErrInvalidParameter, off, n))
	}
	first := off / BlockSize
	if first > int64(^uint32(0)) {
		return 0, 0, newOutOfBoundsError(op, ^uint32(0), 0)
	}
	return uint32(first), n / BlockSize, nil
}

// ReadAt reads whole sectors starting at byte offset off. Reads that run
// past the last sector return the sectors that exist and io.EOF.
func (d *Device) ReadAt(p []byte, off int64) (int, error) {
	first, count, err := sectorSpan("read", off, len(p))
	if err != nil {
		return 0, err
	}
	if d.Ready() && uint64(first) >= d.blockCount {
		return 0, io.EOF
	}
	if err := d.SeekSector(first); err != nil {
		return 0, err
	}

	n := 0
	for range count {
		if uint64(d.position) >= d.blockCount {
			return n, io.EOF
		}
		if err := d.ReadBlock(p[n : n+BlockSize]); err != nil {
			return n, err
		}
		n += BlockSize
	}
	return n, nil
}

// WriteAt writes whole sectors starting at byte offset off. Writing past the
// last sector fails with an out-of-bounds error after the sectors that fit.
func (d *Device) WriteAt(p []byte, off int64) (int, error) {
	first, count, err := sectorSpan("write", off, len(p))
	if err != nil {
		return 0, err
	}
	if err := d.SeekSector(first); err != nil {
		return 0, err
	}

	n := 0
	for range count {
		if err := d.WriteBlock(p[n : n+BlockSize]); err != nil {
			return n, err
		}
		n += BlockSize
	}
	return n, nil
}
