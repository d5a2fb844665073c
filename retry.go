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
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"
)

// RetryConfig configures backoff between whole-operation attempts, such as
// bringing up a freshly inserted card. Bus-level waits never sleep; they are
// bounded by the poll budgets in Config.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (0 or 1 = no retry)
	MaxAttempts int
	// InitialBackoff is the delay after the first failed attempt
	InitialBackoff time.Duration
	// MaxBackoff caps the delay between attempts
	MaxBackoff time.Duration
	// BackoffMultiplier is the factor by which the delay grows
	BackoffMultiplier float64
	// Jitter adds up to this fraction of the delay at random
	Jitter float64
	// RetryTimeout bounds all attempts together (0 = no limit)
	RetryTimeout time.Duration
}

// DefaultRetryConfig returns the connection retry configuration.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       DefaultConnectionRetries,
		InitialBackoff:    ConnectionInitialBackoff,
		MaxBackoff:        ConnectionMaxBackoff,
		BackoffMultiplier: ConnectionBackoffMultiplier,
		Jitter:            ConnectionJitter,
		RetryTimeout:      ConnectionRetryTimeout,
	}
}

// RetryableFunc is a function that can be retried
type RetryableFunc func() error

// RetryWithConfig calls retryFunc until it succeeds, returns an error that
// IsRetryable rejects, or the attempts or context run out. The last error
// is returned.
func RetryWithConfig(ctx context.Context, config *RetryConfig, retryFunc RetryableFunc) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	if config.MaxAttempts <= 1 {
		return retryFunc()
	}

	if config.RetryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.RetryTimeout)
		defer cancel()
	}

	var lastErr error
	backoff := config.InitialBackoff
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			if lastErr != nil {
				return lastErr
			}
			return fmt.Errorf("retry context cancelled: %w", ctx.Err())
		}

		err := retryFunc()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) || attempt >= config.MaxAttempts {
			return err
		}
		lastErr = err

		sleep := jitter(backoff, config.Jitter)
		Debugf("attempt %d/%d failed, retrying in %v: %v", attempt, config.MaxAttempts, sleep, err)
		if !sleepContext(ctx, sleep) {
			return lastErr
		}
		backoff = nextBackoff(backoff, config)
	}
}

// sleepContext sleeps for d and reports false if ctx ended first.
func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextBackoff(backoff time.Duration, config *RetryConfig) time.Duration {
	next := time.Duration(float64(backoff) * config.BackoffMultiplier)
	if config.MaxBackoff > 0 && next > config.MaxBackoff {
		return config.MaxBackoff
	}
	return next
}

// jitter adds a random fraction of base, up to factor*base.
func jitter(base time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		return base
	}
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return base
	}
	frac := float64(binary.LittleEndian.Uint64(buf[:])) / float64(1<<64)
	return base + time.Duration(frac*factor*float64(base))
}
