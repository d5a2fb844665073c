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

package frame

import "sync"

// BufferPool hands out block-sized scratch buffers so that bulk transfers do
// not allocate on every sector.
type BufferPool struct {
	blockPool sync.Pool
	fillPool  sync.Pool
}

// TransferBufferSize covers a payload plus its token and CRC trailer.
const TransferBufferSize = BlockSize + 1 + BlockCRCLen

var defaultPool = NewBufferPool()

// NewBufferPool creates a buffer pool.
func NewBufferPool() *BufferPool {
	return &BufferPool{
		blockPool: sync.Pool{
			New: func() any {
				buf := make([]byte, TransferBufferSize)
				return &buf
			},
		},
		fillPool: sync.Pool{
			New: func() any {
				buf := newFill(TransferBufferSize)
				return &buf
			},
		},
	}
}

// GetBuffer returns a zeroed buffer of length size. Sizes above
// TransferBufferSize are allocated directly.
func (p *BufferPool) GetBuffer(size int) []byte {
	if size > TransferBufferSize {
		return make([]byte, size)
	}
	bufPtr, ok := p.blockPool.Get().(*[]byte)
	if !ok {
		return make([]byte, size)
	}
	return (*bufPtr)[:size]
}

// PutBuffer returns a buffer obtained from GetBuffer. The buffer is cleared.
func (p *BufferPool) PutBuffer(buf []byte) {
	if cap(buf) != TransferBufferSize {
		return
	}
	full := buf[:TransferBufferSize]
	for i := range full {
		full[i] = 0
	}
	p.blockPool.Put(&full)
}

// GetFill returns a read-only buffer of size bytes, all IdleByte. It is the
// MOSI side of a receive-only transfer.
func (p *BufferPool) GetFill(size int) []byte {
	if size > TransferBufferSize {
		return newFill(size)
	}
	bufPtr, ok := p.fillPool.Get().(*[]byte)
	if !ok {
		return newFill(size)
	}
	return (*bufPtr)[:size]
}

// PutFill returns a buffer obtained from GetFill. Callers must not have
// written to it.
func (p *BufferPool) PutFill(buf []byte) {
	if cap(buf) != TransferBufferSize {
		return
	}
	full := buf[:TransferBufferSize]
	p.fillPool.Put(&full)
}

func newFill(size int) []byte {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = IdleByte
	}
	return buf
}

// GetBuffer acquires a scratch buffer from the default pool.
func GetBuffer(size int) []byte { return defaultPool.GetBuffer(size) }

// PutBuffer returns a scratch buffer to the default pool.
func PutBuffer(buf []byte) { defaultPool.PutBuffer(buf) }

// GetFill acquires an all-0xFF buffer from the default pool.
func GetFill(size int) []byte { return defaultPool.GetFill(size) }

// PutFill returns an all-0xFF buffer to the default pool.
func PutFill(buf []byte) { defaultPool.PutFill(buf) }
