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

import "time"

// Connection retry constants control ConnectDevice behavior.
const (
	// DefaultConnectionRetries is the number of attempts to bring a card up.
	DefaultConnectionRetries = 3
	// ConnectionInitialBackoff is the initial delay between attempts.
	// Gives a card that was just inserted time to settle its supply.
	ConnectionInitialBackoff = 100 * time.Millisecond
	// ConnectionMaxBackoff is the maximum delay between attempts.
	ConnectionMaxBackoff = 500 * time.Millisecond
	// ConnectionBackoffMultiplier is the exponential backoff multiplier.
	ConnectionBackoffMultiplier = 2.0
	// ConnectionJitter is the random jitter factor (0.0-1.0).
	ConnectionJitter = 0.1
	// ConnectionRetryTimeout is the overall timeout for all attempts.
	ConnectionRetryTimeout = 10 * time.Second
)

// Poll budgets bound every wait on the bus. They count exchanged bytes, not
// time, so the wall-clock limit scales with the bus clock.
const (
	// DefaultPollBudget bounds the wait for an idle bus before a command,
	// for R1 after a command and for a start token before a data block.
	// Real cards answer R1 within 8 bytes; read latency stays below
	// 100ms, which is roughly 1250 bytes at 100 kHz.
	DefaultPollBudget = 4096

	// DefaultIdleWaitBudget bounds CMD55/ACMD41 rounds while the card leaves
	// the idle state. Cards must finish within one second.
	DefaultIdleWaitBudget = 1000

	// DefaultBusyBudget bounds the post-write busy wait. Programming may
	// take up to 250ms, which is ~3000 bytes at 100 kHz and far more at
	// full speed.
	DefaultBusyBudget = 1 << 17
)
