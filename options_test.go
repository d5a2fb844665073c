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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	c := DefaultConfig()
	assert.Equal(t, DefaultPollBudget, c.PollBudget)
	assert.Equal(t, DefaultIdleWaitBudget, c.IdleWaitBudget)
	assert.Equal(t, DefaultBusyBudget, c.BusyBudget)
	assert.Equal(t, DefaultTraceSize, c.TraceSize)
	assert.Equal(t, CapacityLegacy, c.Capacity)
	assert.False(t, c.ReadOnly)
}

func TestOptions(t *testing.T) {
	t.Parallel()

	c := DefaultConfig()
	for _, opt := range []Option{
		WithPollBudget(10),
		WithIdleWaitBudget(20),
		WithBusyBudget(30),
		WithTraceSize(40),
		WithCapacityFormula(CapacityStandard),
		WithReadOnly(),
	} {
		require.NoError(t, opt(c))
	}

	assert.Equal(t, 10, c.PollBudget)
	assert.Equal(t, 20, c.IdleWaitBudget)
	assert.Equal(t, 30, c.BusyBudget)
	assert.Equal(t, 40, c.TraceSize)
	assert.Equal(t, CapacityStandard, c.Capacity)
	assert.True(t, c.ReadOnly)
}

func TestOptions_Invalid(t *testing.T) {
	t.Parallel()

	for name, opt := range map[string]Option{
		"poll":     WithPollBudget(0),
		"idle":     WithIdleWaitBudget(-1),
		"busy":     WithBusyBudget(0),
		"trace":    WithTraceSize(0),
		"capacity": WithCapacityFormula(CapacityFormula(7)),
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			require.ErrorIs(t, opt(DefaultConfig()), ErrInvalidParameter)
		})
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "not-present", StateNotPresent.String())
	assert.Equal(t, "unsupported", StateUnsupported.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "State(9)", State(9).String())
}
