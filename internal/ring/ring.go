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

// Package ring provides a fixed-capacity single-producer/single-consumer
// queue for handing bytes from a receive goroutine to a consumer loop.
//
// Head and tail are free-running counters; their difference is the fill
// level and the slot index is the counter masked by capacity-1. Exactly one
// goroutine may call Push and exactly one goroutine may call Pop/Peek. No
// locks are taken and nothing is allocated after New.
//
// On overflow the newest element is dropped: Push returns false and the
// drop counter is incremented. Elements already queued are never
// overwritten.
package ring

import (
	"fmt"
	"sync/atomic"
)

// Ring is an SPSC queue of T with a power-of-two capacity.
type Ring[T any] struct {
	buf     []T
	mask    uint64
	head    atomic.Uint64 // next slot to pop, written by the consumer
	tail    atomic.Uint64 // next slot to push, written by the producer
	dropped atomic.Uint64
}

// New creates a ring holding up to capacity elements. capacity must be a
// power of two greater than zero.
func New[T any](capacity int) (*Ring[T], error) {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("ring capacity must be a power of two, got %d", capacity)
	}
	return &Ring[T]{
		buf:  make([]T, capacity),
		mask: uint64(capacity - 1),
	}, nil
}

// Push appends v. It returns false and drops v when the ring is full.
// Producer side only.
func (r *Ring[T]) Push(v T) bool {
	tail := r.tail.Load()
	if tail-r.head.Load() == uint64(len(r.buf)) {
		r.dropped.Add(1)
		return false
	}
	r.buf[tail&r.mask] = v
	r.tail.Store(tail + 1)
	return true
}

// Pop removes and returns the oldest element. ok is false when empty.
// Consumer side only.
func (r *Ring[T]) Pop() (v T, ok bool) {
	head := r.head.Load()
	if head == r.tail.Load() {
		return v, false
	}
	v = r.buf[head&r.mask]
	r.head.Store(head + 1)
	return v, true
}

// Peek returns the oldest element without removing it. Consumer side only.
func (r *Ring[T]) Peek() (v T, ok bool) {
	head := r.head.Load()
	if head == r.tail.Load() {
		return v, false
	}
	return r.buf[head&r.mask], true
}

// Len returns the number of queued elements. The value is a snapshot when
// called concurrently with Push or Pop.
func (r *Ring[T]) Len() int {
	return int(r.tail.Load() - r.head.Load())
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// Dropped returns how many pushes were rejected because the ring was full.
func (r *Ring[T]) Dropped() uint64 {
	return r.dropped.Load()
}
