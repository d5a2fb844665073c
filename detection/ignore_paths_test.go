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
package detection

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPathIgnored(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		devicePath  string
		ignorePaths []string
		expected    bool
	}{
		{"empty ignore list", "/dev/spidev0.0", nil, false},
		{"empty device path", "", []string{"/dev/spidev0.0"}, false},
		{"exact match", "/dev/spidev0.0", []string{"/dev/spidev0.0"}, true},
		{"case insensitive", "/dev/spidev0.0", []string{"/DEV/SPIDEV0.0"}, true},
		{"other chip select", "/dev/spidev0.1", []string{"/dev/spidev0.0"}, false},
		{"one of many", "/dev/spidev1.0", []string{"/dev/spidev0.0", "/dev/spidev1.0", "ft232h"}, true},
		{"bridge name", "FT232H", []string{"ft232h"}, true},
		{"relative components", "/dev/../dev/spidev0.0", []string{"/dev/spidev0.0"}, true},
		{"blank entries", "/dev/spidev0.0", []string{"", "/dev/spidev0.0", ""}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, IsPathIgnored(tt.devicePath, tt.ignorePaths))
		})
	}
}
