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

import "fmt"

// Bus is a synchronous full-duplex byte link to the card. Every byte sent
// clocks exactly one byte back. Implementations do not apply timeouts; the
// driver bounds every wait by iteration count.
type Bus interface {
	// Exchange sends one byte and returns the byte received in the same cycle.
	Exchange(out byte) (byte, error)

	// ExchangeBuffer sends every byte of out and returns the byte received
	// during the final cycle. Earlier received bytes are discarded.
	ExchangeBuffer(out []byte) (byte, error)
}

// BulkTransferer is implemented by buses that can clock a whole buffer in
// one transfer. When present the driver uses it for block payloads.
// len(w) must equal len(r).
type BulkTransferer interface {
	Transfer(w, r []byte) error
}

// busName returns a label for traces and logs.
func busName(bus Bus) string {
	if s, ok := bus.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", bus)
}
