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
	"errors"
	"fmt"
	"io"

	"github.com/ZaparooProject/go-sdspi/detection"
)

// BusFactory opens a bus from a path such as "/dev/spidev0.0".
type BusFactory func(path string) (Bus, error)

// BusFromDeviceFactory opens a bus for a detected device.
type BusFromDeviceFactory func(device detection.DeviceInfo) (Bus, error)

// DeviceDetector enumerates candidate buses.
type DeviceDetector func(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error)

// ConnectOption represents a functional option for ConnectDevice
type ConnectOption func(*connectConfig) error

type connectConfig struct {
	busFactory        BusFactory
	busDeviceFactory  BusFromDeviceFactory
	deviceDetector    DeviceDetector
	retryConfig       *RetryConfig
	deviceOptions     []Option
	autoDetect        bool
	connectionRetries int
}

// WithAutoDetection uses the first detected device instead of a path.
func WithAutoDetection() ConnectOption {
	return func(c *connectConfig) error {
		c.autoDetect = true
		return nil
	}
}

// WithDeviceOptions adds device-level options
func WithDeviceOptions(opts ...Option) ConnectOption {
	return func(c *connectConfig) error {
		c.deviceOptions = append(c.deviceOptions, opts...)
		return nil
	}
}

// WithBusFactory sets the function that opens a bus from a path.
func WithBusFactory(factory BusFactory) ConnectOption {
	return func(c *connectConfig) error {
		c.busFactory = factory
		return nil
	}
}

// WithBusFromDeviceFactory sets the function that opens a detected device.
func WithBusFromDeviceFactory(factory BusFromDeviceFactory) ConnectOption {
	return func(c *connectConfig) error {
		c.busDeviceFactory = factory
		return nil
	}
}

// WithDeviceDetector replaces detection.DetectAll during auto-detection.
func WithDeviceDetector(detector DeviceDetector) ConnectOption {
	return func(c *connectConfig) error {
		c.deviceDetector = detector
		return nil
	}
}

// WithConnectionRetries sets the number of connection attempts
func WithConnectionRetries(maxAttempts int) ConnectOption {
	return func(c *connectConfig) error {
		if maxAttempts < 1 {
			return fmt.Errorf("connection retries must be at least 1, got %d", maxAttempts)
		}
		c.connectionRetries = maxAttempts
		return nil
	}
}

// WithRetryConfig replaces the backoff used between connection attempts.
func WithRetryConfig(config *RetryConfig) ConnectOption {
	return func(c *connectConfig) error {
		if config == nil {
			return fmt.Errorf("%w: nil retry config", ErrInvalidParameter)
		}
		c.retryConfig = config
		return nil
	}
}

func applyConnectOptions(opts []ConnectOption) (*connectConfig, error) {
	config := &connectConfig{
		connectionRetries: DefaultConnectionRetries,
	}
	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, fmt.Errorf("failed to apply connect option: %w", err)
		}
	}
	return config, nil
}

// ConnectDevice opens a bus and brings the card up, retrying while the card
// reports retryable failures such as not being fully inserted yet. Each
// attempt uses a fresh bus and a fresh Device, so initialization still runs
// exactly once per Device.
//
// Example usage:
//
//	// Connect to a specific spidev node
//	device, err := sdspi.ConnectDevice(ctx, "/dev/spidev0.0",
//	    sdspi.WithBusFactory(spi.OpenBus))
//
//	// Auto-detect
//	device, err := sdspi.ConnectDevice(ctx, "",
//	    sdspi.WithAutoDetection(), sdspi.WithBusFromDeviceFactory(...))
func ConnectDevice(ctx context.Context, path string, opts ...ConnectOption) (*Device, error) {
	config, err := applyConnectOptions(opts)
	if err != nil {
		return nil, err
	}

	open, err := busOpener(ctx, path, config)
	if err != nil {
		return nil, err
	}

	retryConfig := config.retryConfig
	if retryConfig == nil {
		retryConfig = DefaultRetryConfig()
	}
	rc := *retryConfig
	rc.MaxAttempts = config.connectionRetries
	if config.autoDetect {
		rc.MaxAttempts = 1
	}

	var device *Device
	err = RetryWithConfig(ctx, &rc, func() error {
		bus, err := open()
		if err != nil {
			return err
		}
		device, err = setupDevice(bus, config)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect after %d attempts: %w", rc.MaxAttempts, err)
	}
	return device, nil
}

func setupDevice(bus Bus, config *connectConfig) (*Device, error) {
	device, err := New(bus, config.deviceOptions...)
	if err != nil {
		closeBus(bus)
		return nil, fmt.Errorf("failed to create device: %w", err)
	}
	if device.State() != StateReady {
		closeBus(bus)
		return nil, device.Err()
	}
	return device, nil
}

func closeBus(bus Bus) {
	if closer, ok := bus.(io.Closer); ok {
		_ = closer.Close()
	}
}

// busOpener resolves path or auto-detection into a function that opens a
// fresh bus per attempt.
func busOpener(ctx context.Context, path string, config *connectConfig) (func() (Bus, error), error) {
	if !config.autoDetect && path != "" {
		if config.busFactory == nil {
			return nil, errors.New("bus factory not provided")
		}
		return func() (Bus, error) {
			bus, err := config.busFactory(path)
			if err != nil {
				return nil, fmt.Errorf("failed to open bus %s: %w", path, err)
			}
			return bus, nil
		}, nil
	}

	if config.busDeviceFactory == nil {
		return nil, errors.New("bus device factory not provided")
	}
	info, err := detectFirst(ctx, config.deviceDetector)
	if err != nil {
		return nil, err
	}
	Debugf("auto-detected %s", info)
	return func() (Bus, error) {
		bus, err := config.busDeviceFactory(info)
		if err != nil {
			return nil, fmt.Errorf("failed to open detected bus %s: %w", info.Path, err)
		}
		return bus, nil
	}, nil
}

func detectFirst(ctx context.Context, detector DeviceDetector) (detection.DeviceInfo, error) {
	opts := detection.DefaultOptions()
	opts.Mode = detection.Safe
	if detector == nil {
		detector = detection.DetectAll
	}

	devices, err := detector(ctx, &opts)
	if err != nil {
		return detection.DeviceInfo{}, fmt.Errorf("failed to detect devices: %w", err)
	}
	if len(devices) == 0 {
		return detection.DeviceInfo{}, detection.ErrNoDevicesFound
	}
	return devices[0], nil
}
