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


// Command sdtool inspects and exercises SD cards on an SPI bus.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	sdspi "github.com/ZaparooProject/go-sdspi"
	"github.com/ZaparooProject/go-sdspi/console"
	"github.com/ZaparooProject/go-sdspi/detection"
	spidetect "github.com/ZaparooProject/go-sdspi/detection/spi"
	"github.com/ZaparooProject/go-sdspi/internal/syncutil"
	"github.com/ZaparooProject/go-sdspi/transport/spi"
	"periph.io/x/conn/v3/physic"
)

const usage = `usage: sdtool [flags] <command> [args]

commands:
  info                   show card state, capacity and CSD
  read SECTOR [COUNT]    hex dump sectors
  write SECTOR HEX       write one sector (zero padded)
  dump FILE [FIRST N]    copy sectors to FILE
  stress [ROUNDS]        write, read back and restore random sectors
  shell                  interactive command loop

flags:
`

// debugLockTimeout bounds lock waits under -debug in -tags=deadlock builds.
const debugLockTimeout = 10 * time.Second

type config struct {
	command     string
	args        []string
	devicePath  string
	csPin       string
	consolePort string
	capacity    string
	frequency   physic.Frequency
	baud        int
	retries     int
	debug       bool
	sessionLog  bool
	readOnly    bool
}

// Package-level flag variables
var (
	flagDevicePath  string
	flagCSPin       string
	flagConsolePort string
	flagCapacity    string
	flagFrequency   physic.Frequency
	flagBaud        int
	flagRetries     int
	flagDebug       bool
	flagSessionLog  bool
	flagReadOnly    bool
)

func init() {
	flag.StringVar(&flagDevicePath, "device", "",
		`SPI device path, or "ft232h" for a USB bridge (auto-detect if empty)`)
	flag.StringVar(&flagCSPin, "cs", "", "GPIO driven as chip select (hardware CS if empty)")
	flag.Var(&flagFrequency, "freq", "SPI clock, e.g. 400kHz or 10MHz (transport default if unset)")
	flag.StringVar(&flagCapacity, "capacity", sdspi.CapacityLegacy.String(),
		"C_SIZE conversion: legacy or standard")
	flag.StringVar(&flagConsolePort, "console", "", "serial port for the shell (stdin/stdout if empty)")
	flag.IntVar(&flagBaud, "baud", console.DefaultBaudRate, "console baud rate")
	flag.IntVar(&flagRetries, "retries", sdspi.DefaultConnectionRetries, "connection attempts")
	flag.BoolVar(&flagDebug, "debug", false, "Enable debug output")
	flag.BoolVar(&flagSessionLog, "log", false, "Write debug output to sdspi_<timestamp>.log")
	flag.BoolVar(&flagReadOnly, "readonly", false, "Refuse all writes")
	flag.Usage = func() {
		_, _ = fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
}

func parseConfig() *config {
	cfg := &config{
		devicePath:  flagDevicePath,
		csPin:       flagCSPin,
		consolePort: flagConsolePort,
		capacity:    flagCapacity,
		frequency:   flagFrequency,
		baud:        flagBaud,
		retries:     flagRetries,
		debug:       flagDebug,
		sessionLog:  flagSessionLog,
		readOnly:    flagReadOnly,
		command:     "info",
	}
	if args := flag.Args(); len(args) > 0 {
		cfg.command = args[0]
		cfg.args = args[1:]
	}

	if cfg.debug {
		sdspi.SetDebugEnabled(true)
		if syncutil.DetectionEnabled {
			syncutil.SetLockTimeout(debugLockTimeout)
			sdspi.Debugf("lock checking on, timeout %s", debugLockTimeout)
		}
	}
	return cfg
}

func (c *config) busOptions() []spi.Option {
	var opts []spi.Option
	if c.csPin != "" {
		opts = append(opts, spi.WithChipSelect(c.csPin))
	}
	if c.frequency > 0 {
		opts = append(opts, spi.WithFrequency(c.frequency))
	}
	return opts
}

func (c *config) deviceOptions() ([]sdspi.Option, error) {
	var opts []sdspi.Option
	switch strings.ToLower(c.capacity) {
	case "", sdspi.CapacityLegacy.String():
	case sdspi.CapacityStandard.String():
		opts = append(opts, sdspi.WithCapacityFormula(sdspi.CapacityStandard))
	default:
		return nil, fmt.Errorf("unknown capacity formula %q", c.capacity)
	}
	if c.readOnly {
		opts = append(opts, sdspi.WithReadOnly())
	}
	return opts, nil
}

// newBus opens a bus from a device path.
func (c *config) newBus(path string) (sdspi.Bus, error) {
	if strings.EqualFold(path, spidetect.FT232HDevice) {
		bus, err := spi.NewFT232H(c.busOptions()...)
		if err != nil {
			return nil, fmt.Errorf("failed to open FT232H: %w", err)
		}
		return bus, nil
	}
	bus, err := spi.New(path, c.busOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create SPI transport for %s: %w", path, err)
	}
	return bus, nil
}

// newBusFromDevice opens a detected slot, letting -cs and -freq override
// what detection found.
func (c *config) newBusFromDevice(device detection.DeviceInfo) (sdspi.Bus, error) {
	metadata := make(map[string]string, len(device.Metadata)+2)
	for k, v := range device.Metadata {
		metadata[k] = v
	}
	if c.csPin != "" {
		metadata["cs_pin"] = c.csPin
	}
	if c.frequency > 0 {
		metadata["frequency_hz"] = strconv.FormatInt(int64(c.frequency/physic.Hertz), 10)
	}
	device.Metadata = metadata
	return spidetect.OpenDetected(device)
}

func connectToDevice(ctx context.Context, cfg *config) (*sdspi.Device, error) {
	deviceOpts, err := cfg.deviceOptions()
	if err != nil {
		return nil, err
	}
	connectOpts := []sdspi.ConnectOption{
		sdspi.WithDeviceOptions(deviceOpts...),
		sdspi.WithConnectionRetries(cfg.retries),
	}

	if cfg.devicePath == "" {
		connectOpts = append(connectOpts,
			sdspi.WithAutoDetection(),
			sdspi.WithBusFromDeviceFactory(cfg.newBusFromDevice))
		if cfg.debug {
			_, _ = fmt.Println("Auto-detecting SD card slots...")
		}
	} else {
		connectOpts = append(connectOpts, sdspi.WithBusFactory(cfg.newBus))
		if cfg.debug {
			_, _ = fmt.Printf("Opening device: %s\n", cfg.devicePath)
		}
	}

	device, err := sdspi.ConnectDevice(ctx, cfg.devicePath, connectOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SD card: %w", err)
	}
	return device, nil
}

// execute runs one command against an initialized device.
func execute(ctx context.Context, w io.Writer, dev *sdspi.Device, cfg *config) error {
	switch cfg.command {
	case "info":
		return runInfo(w, dev)
	case "read":
		sector, count, err := parseRange(cfg.args, 1)
		if err != nil {
			return err
		}
		return runRead(ctx, w, dev, sector, count)
	case "write":
		if len(cfg.args) != 2 {
			return errors.New("write needs SECTOR and HEX")
		}
		sector, err := parseSector(cfg.args[0])
		if err != nil {
			return err
		}
		return runWrite(w, dev, sector, cfg.args[1])
	case "dump":
		if len(cfg.args) == 0 {
			return errors.New("dump needs an output file")
		}
		first, count, err := parseRange(cfg.args[1:], dev.BlockCount())
		if err != nil {
			return err
		}
		return runDump(ctx, w, dev, cfg.args[0], first, count)
	case "stress":
		rounds := defaultStressRounds
		if len(cfg.args) > 0 {
			n, err := strconv.Atoi(cfg.args[0])
			if err != nil || n < 1 {
				return fmt.Errorf("invalid round count %q", cfg.args[0])
			}
			rounds = n
		}
		return runStress(ctx, w, dev, &stressConfig{rounds: rounds, reportDir: "."})
	case "shell":
		return runShell(ctx, dev, cfg)
	default:
		return fmt.Errorf("unknown command %q", cfg.command)
	}
}

func run(ctx context.Context, cfg *config) error {
	if cfg.sessionLog {
		path, err := sdspi.InitSessionLog("")
		if err != nil {
			return err
		}
		_, _ = fmt.Printf("Session log: %s\n", path)
		defer func() { _ = sdspi.CloseSessionLog() }()
	}

	device, err := connectToDevice(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := device.Close(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to close device: %v\n", err)
		}
	}()

	return execute(ctx, os.Stdout, device, cfg)
}

func main() {
	flag.Parse()
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	cfg := parseConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		_, _ = fmt.Print("\nShutting down gracefully...\n")
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
