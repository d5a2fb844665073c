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

// Config contains the tunables of a Device.
type Config struct {
	// PollBudget bounds ready, R1 and start-token waits, in exchanged bytes.
	PollBudget int
	// IdleWaitBudget bounds CMD55/ACMD41 rounds during initialization.
	IdleWaitBudget int
	// BusyBudget bounds the wait after an accepted write, in exchanged bytes.
	BusyBudget int
	// TraceSize is the number of bus transfers kept for error traces.
	TraceSize int
	// Capacity selects the C_SIZE to block count conversion.
	Capacity CapacityFormula
	// ReadOnly refuses all writes.
	ReadOnly bool
}

// DefaultConfig returns the default device configuration
func DefaultConfig() *Config {
	return &Config{
		PollBudget:     DefaultPollBudget,
		IdleWaitBudget: DefaultIdleWaitBudget,
		BusyBudget:     DefaultBusyBudget,
		TraceSize:      DefaultTraceSize,
		Capacity:       CapacityLegacy,
	}
}

// Option configures a Device before initialization.
type Option func(*Config) error

func positiveBudget(name string, n int) error {
	if n < 1 {
		return fmt.Errorf("%w: %s must be at least 1, got %d", ErrInvalidParameter, name, n)
	}
	return nil
}

// WithPollBudget sets the byte budget for ready, R1 and start-token waits.
func WithPollBudget(n int) Option {
	return func(c *Config) error {
		if err := positiveBudget("poll budget", n); err != nil {
			return err
		}
		c.PollBudget = n
		return nil
	}
}

// WithIdleWaitBudget sets the number of ACMD41 rounds allowed during init.
func WithIdleWaitBudget(n int) Option {
	return func(c *Config) error {
		if err := positiveBudget("idle wait budget", n); err != nil {
			return err
		}
		c.IdleWaitBudget = n
		return nil
	}
}

// WithBusyBudget sets the byte budget for the post-write busy wait.
func WithBusyBudget(n int) Option {
	return func(c *Config) error {
		if err := positiveBudget("busy budget", n); err != nil {
			return err
		}
		c.BusyBudget = n
		return nil
	}
}

// WithTraceSize sets how many bus transfers are attached to failing errors.
func WithTraceSize(n int) Option {
	return func(c *Config) error {
		if err := positiveBudget("trace size", n); err != nil {
			return err
		}
		c.TraceSize = n
		return nil
	}
}

// WithCapacityFormula selects how the block count is derived from C_SIZE.
func WithCapacityFormula(f CapacityFormula) Option {
	return func(c *Config) error {
		switch f {
		case CapacityLegacy, CapacityStandard:
			c.Capacity = f
			return nil
		default:
			return fmt.Errorf("%w: unknown capacity formula %d", ErrInvalidParameter, int(f))
		}
	}
}

// WithReadOnly makes every write fail with ErrNotWritable.
func WithReadOnly() Option {
	return func(c *Config) error {
		c.ReadOnly = true
		return nil
	}
}
