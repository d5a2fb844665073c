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

// Package spi detects SD cards attached to SPI controllers. Importing it
// registers the detector with the detection package.
package spi

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	sdspi "github.com/ZaparooProject/go-sdspi"
	"github.com/ZaparooProject/go-sdspi/detection"
	"github.com/ZaparooProject/go-sdspi/transport/spi"
	"periph.io/x/conn/v3/physic"
)

// TransportName is the detection transport handled here.
const TransportName = "spi"

// Config represents one SPI slot that may hold a card.
type Config struct {
	// Additional metadata
	Metadata map[string]string `json:"metadata,omitempty"`
	// Device path (e.g., "/dev/spidev0.0")
	Device string `json:"device"`
	// Human-readable name
	Name string `json:"name,omitempty"`
	// Chip select GPIO name when CS is driven manually (e.g., "GPIO25")
	CSPin string `json:"cs_pin,omitempty"`
	// Clock frequency in Hz (0 = transport default)
	FrequencyHz int64 `json:"frequency_hz,omitempty"`
}

// Prober opens a slot and initializes the card in it. Replaceable for tests.
type Prober func(ctx context.Context, config Config, mode detection.Mode) (*ProbeResult, error)

// ProbeResult is what a successful probe learned about the card.
type ProbeResult struct {
	State      sdspi.State
	BlockCount uint64
	CSD        string
}

type detector struct {
	probe Prober
}

// New creates a new SPI detector
func New() detection.Detector {
	return &detector{probe: probeCard}
}

// NewWithProber creates a detector with a custom probe function.
func NewWithProber(probe Prober) detection.Detector {
	return &detector{probe: probe}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return TransportName
}

// gatherConfigs collects slot configurations from all sources
func gatherConfigs() []Config {
	var configs []Config
	configs = append(configs, loadConfigFile()...)
	if envConfig := loadEnvConfig(); envConfig != nil {
		configs = append(configs, *envConfig)
	}
	if runtime.GOOS == "linux" {
		configs = append(configs, detectLinuxSPIDevices()...)
	}
	configs = append(configs, detectFTDIBridges()...)
	return deduplicateConfigs(configs)
}

func createDeviceInfo(config Config) detection.DeviceInfo {
	device := detection.DeviceInfo{
		Transport:  TransportName,
		Path:       config.Device,
		Name:       config.Name,
		Confidence: detection.Low,
		Metadata:   make(map[string]string),
	}
	for k, v := range config.Metadata {
		device.Metadata[k] = v
	}
	if config.CSPin != "" {
		device.Metadata["cs_pin"] = config.CSPin
	}
	if config.FrequencyHz > 0 {
		device.Metadata["frequency_hz"] = strconv.FormatInt(config.FrequencyHz, 10)
	}
	if device.Name == "" {
		device.Name = "SD card slot at " + config.Device
	}
	return device
}

// Detect searches SPI slots for SD cards.
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	return d.detectConfigs(ctx, gatherConfigs(), opts)
}

func (d *detector) detectConfigs(
	ctx context.Context,
	configs []Config,
	opts *detection.Options,
) ([]detection.DeviceInfo, error) {
	if len(configs) == 0 {
		return nil, detection.ErrNoDevicesFound
	}

	var devices []detection.DeviceInfo
	for _, config := range configs {
		select {
		case <-ctx.Done():
			return devices, detection.ErrDetectionTimeout
		default:
		}

		if detection.IsPathIgnored(config.Device, opts.IgnorePaths) {
			continue
		}
		if vidpid := config.Metadata["vidpid"]; vidpid != "" && detection.IsBlocked(vidpid, opts.Blocklist) {
			sdspi.Debugf("skipping %s: %s is blocklisted", config.Device, vidpid)
			continue
		}

		device := createDeviceInfo(config)
		if opts.Mode == detection.Passive {
			devices = append(devices, device)
			continue
		}

		result, err := d.probe(ctx, config, opts.Mode)
		if err != nil {
			sdspi.Debugf("probe %s: %v", config.Device, err)
			continue
		}
		applyProbeResult(&device, result)
		devices = append(devices, device)
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

func applyProbeResult(device *detection.DeviceInfo, result *ProbeResult) {
	device.Metadata["state"] = result.State.String()
	switch result.State {
	case sdspi.StateReady:
		device.Confidence = detection.High
		device.Metadata["blocks"] = strconv.FormatUint(result.BlockCount, 10)
	case sdspi.StateUnsupported:
		device.Confidence = detection.Medium
	default:
		device.Confidence = detection.Low
	}
	if result.CSD != "" {
		device.Metadata["csd"] = result.CSD
	}
}

// loadConfigFile loads slot configurations from the first JSON file found.
func loadConfigFile() []Config {
	configPaths := []string{
		"sdspi.json",
		".sdspi.json",
		filepath.Join(os.Getenv("HOME"), ".config", "sdspi", "spi.json"),
		"/etc/sdspi/spi.json",
	}

	for _, path := range configPaths {
		// #nosec G304 -- paths are hardcoded above, not user input
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if configs, err := parseConfig(data); err == nil {
			return configs
		}
	}
	return nil
}

// parseConfig accepts either a list of slots or a single slot object.
func parseConfig(data []byte) ([]Config, error) {
	var configs []Config
	if err := json.Unmarshal(data, &configs); err == nil {
		return configs, nil
	}
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("invalid SPI config: %w", err)
	}
	return []Config{config}, nil
}

// loadEnvConfig reads SDSPI_SPI_DEVICE and SDSPI_SPI_CS_PIN.
func loadEnvConfig() *Config {
	device := os.Getenv("SDSPI_SPI_DEVICE")
	if device == "" {
		return nil
	}
	return &Config{
		Device: device,
		Name:   "SD card slot from environment",
		CSPin:  os.Getenv("SDSPI_SPI_CS_PIN"),
	}
}

// detectLinuxSPIDevices lists spidev nodes the process may open.
func detectLinuxSPIDevices() []Config {
	matches, err := filepath.Glob("/dev/spidev*")
	if err != nil {
		return nil
	}

	var configs []Config
	for _, path := range matches {
		if !deviceAccessible(path) {
			sdspi.Debugf("skipping %s: no read/write access", path)
			continue
		}
		configs = append(configs, Config{
			Device: path,
			Name:   "SD card slot " + filepath.Base(path),
		})
	}
	return configs
}

func deduplicateConfigs(configs []Config) []Config {
	seen := make(map[string]bool)
	var unique []Config
	for _, config := range configs {
		if !seen[config.Device] {
			seen[config.Device] = true
			unique = append(unique, config)
		}
	}
	return unique
}

// BusOptions converts a slot configuration into transport options.
func BusOptions(config Config) []spi.Option {
	var opts []spi.Option
	if config.CSPin != "" {
		opts = append(opts, spi.WithChipSelect(config.CSPin))
	}
	if config.FrequencyHz > 0 {
		opts = append(opts, spi.WithFrequency(frequencyFromHz(config.FrequencyHz)))
	}
	return opts
}

func frequencyFromHz(hz int64) physic.Frequency {
	return physic.Frequency(hz) * physic.Hertz
}

// ConfigFromDevice rebuilds a slot configuration from detection output.
func ConfigFromDevice(device detection.DeviceInfo) Config {
	config := Config{
		Device:   device.Path,
		Name:     device.Name,
		CSPin:    device.Metadata["cs_pin"],
		Metadata: device.Metadata,
	}
	if hz, err := strconv.ParseInt(device.Metadata["frequency_hz"], 10, 64); err == nil {
		config.FrequencyHz = hz
	}
	return config
}

// OpenDetected opens the bus for a detected slot, typed for
// sdspi.WithBusFromDeviceFactory.
func OpenDetected(device detection.DeviceInfo) (sdspi.Bus, error) {
	bus, err := openSlot(ConfigFromDevice(device))
	if err != nil {
		return nil, err
	}
	return bus, nil
}

// probeCard opens the slot and runs card initialization once. Full mode
// also reads sector 0.
func probeCard(_ context.Context, config Config, mode detection.Mode) (*ProbeResult, error) {
	bus, err := openSlot(config)
	if err != nil {
		return nil, err
	}
	defer func() { _ = bus.Close() }()

	dev, err := sdspi.New(bus)
	if err != nil {
		return nil, err
	}
	if dev.State() == sdspi.StateNotPresent {
		return nil, dev.Err()
	}

	result := &ProbeResult{State: dev.State(), BlockCount: dev.BlockCount()}
	if csd, ok := dev.CSD(); ok {
		result.CSD = csd.String()
	}
	if mode == detection.Full && dev.Ready() {
		buf := make([]byte, sdspi.BlockSize)
		if err := dev.ReadBlock(buf); err != nil {
			return nil, fmt.Errorf("read sector 0: %w", err)
		}
	}
	return result, nil
}
