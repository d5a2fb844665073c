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

// dataErrorMask selects the high nibble of a data error token; a token of
// the form 0000xxxx reports a failed read in place of the start token.
const dataErrorMask = 0xF0

// waitStartToken polls for the start-block token.
func (l *link) waitStartToken() error {
	for range l.pollBudget {
		b, err := l.recv()
		if err != nil {
			return err
		}
		switch {
		case b == frame.StartBlockToken:
			return nil
		case b&dataErrorMask == 0:
			l.trace.RecordRX([]byte{b}, "data error token")
			return fmt.Errorf("%w: data error token 0x%02X", ErrBadResponse, b)
		}
	}
	l.trace.RecordTimeout("start token")
	return fmt.Errorf("start token: %w", ErrTimeout)
}

// receiveBlock reads one data block into dst. The trailing CRC is clocked
// in and discarded.
func (l *link) receiveBlock(dst []byte) error {
	if err := l.waitStartToken(); err != nil {
		return err
	}
	if err := l.readBytes(dst); err != nil {
		return err
	}
	l.trace.RecordRX(dst, "data")

	var crc [frame.BlockCRCLen]byte
	return l.readBytes(crc[:])
}

// transmitBlock sends one 512-byte block and waits for the card to finish
// programming it.
func (l *link) transmitBlock(src []byte) error {
	if _, err := l.exchange(frame.StartBlockToken); err != nil {
		return err
	}
	l.trace.RecordTX(src, "data")
	if err := l.writeBytes(src[:frame.BlockSize]); err != nil {
		return err
	}
	filler := [frame.BlockCRCLen]byte{frame.CRCFiller, frame.CRCFiller}
	if err := l.writeBytes(filler[:]); err != nil {
		return err
	}

	resp, err := l.recv()
	if err != nil {
		return err
	}
	l.trace.RecordRX([]byte{resp}, "data response")
	if !frame.IsDataAccepted(resp) {
		return fmt.Errorf("%w: data response 0x%02X", ErrWriteRejected, resp)
	}

	return l.waitNotBusy()
}

// waitNotBusy polls until the card stops holding the line low.
func (l *link) waitNotBusy() error {
	for range l.busyBudget {
		b, err := l.recv()
		if err != nil {
			return err
		}
		if b == frame.IdleByte {
			return nil
		}
	}
	l.trace.RecordTimeout("busy")
	return fmt.Errorf("write busy: %w", ErrTimeout)
}
