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


package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	sdspi "github.com/ZaparooProject/go-sdspi"
)

const (
	defaultStressRounds = 16
	// defaultStressRegion keeps random sectors within the first 4 MiB.
	defaultStressRegion = 8192
)

type stressConfig struct {
	reportDir string
	rounds    int
	region    uint64
}

// StressTestResult holds the outcome of a stress run.
type StressTestResult struct {
	CrashFile string
	Passed    int
	Failed    int
	Duration  time.Duration
	Success   bool
}

// CrashReport contains all information for debugging a failure.
type CrashReport struct {
	Timestamp    time.Time  `json:"timestamp"`
	Bus          string     `json:"bus"`
	Operation    string     `json:"operation"`
	Error        string     `json:"error"`
	ErrorKind    string     `json:"error_kind,omitempty"`
	CSD          string     `json:"csd,omitempty"`
	ExpectedDump []string   `json:"expected_dump,omitempty"`
	ActualDump   []string   `json:"actual_dump,omitempty"`
	WireTrace    []string   `json:"wire_trace,omitempty"`
	RestoreError string     `json:"restore_error,omitempty"`
	OperationLog []LogEntry `json:"operation_log"`
	Sector       uint32     `json:"sector"`
	Round        int        `json:"round"`
}

// LogEntry represents a single operation in the log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"`
	Error     string    `json:"error,omitempty"`
	Sector    uint32    `json:"sector"`
	Success   bool      `json:"success"`
}

// testFailureInfo holds information about a test failure.
type testFailureInfo struct {
	err        error
	restoreErr error
	operation  string
	expected   []byte
	actual     []byte
	sector     uint32
	round      int
}

type stressRun struct {
	w      io.Writer
	dev    *sdspi.Device
	cfg    *stressConfig
	result *StressTestResult
	opLog  []LogEntry
}

func printStressTestBanner(w io.Writer, dev *sdspi.Device, cfg *stressConfig, region uint64) {
	_, _ = fmt.Fprintln(w, "================================================================================")
	_, _ = fmt.Fprintln(w, "                          SD Card Stress Test Mode")
	_, _ = fmt.Fprintln(w, "================================================================================")
	_, _ = fmt.Fprintf(w, "Card: %d blocks, testing %d rounds over sectors 0-%d\n",
		dev.BlockCount(), cfg.rounds, region-1)
	_, _ = fmt.Fprintln(w, "Each round: save, write random data, read back, verify, restore")
}

// runStress writes random data to random sectors, verifies it and restores
// the original contents. It stops at the first failure and writes a crash
// report.
func runStress(ctx context.Context, w io.Writer, dev *sdspi.Device, cfg *stressConfig) error {
	if !dev.Ready() {
		return dev.Err()
	}
	if !dev.Writable() {
		return errors.New("stress test needs a writable card")
	}

	region := cfg.region
	if region == 0 {
		region = defaultStressRegion
	}
	region = min(region, dev.BlockCount())
	printStressTestBanner(w, dev, cfg, region)

	run := &stressRun{
		w:      w,
		dev:    dev,
		cfg:    cfg,
		result: &StressTestResult{},
		opLog:  make([]LogEntry, 0, 4*cfg.rounds),
	}
	started := time.Now()

	var testErr error
	for round := 1; round <= cfg.rounds; round++ {
		if err := ctx.Err(); err != nil {
			testErr = err
			break
		}
		sector := uint32(randomInt(0, int(region-1)))
		if testErr = run.round(round, sector); testErr != nil {
			run.result.Failed++
			break
		}
		run.result.Passed++
	}

	run.result.Duration = time.Since(started)
	run.result.Success = testErr == nil
	printFinalSummary(w, run.result, cfg.rounds)
	return testErr
}

func (r *stressRun) logStart(operation string, sector uint32) *LogEntry {
	r.opLog = append(r.opLog, LogEntry{
		Timestamp: time.Now(),
		Operation: operation,
		Sector:    sector,
	})
	return &r.opLog[len(r.opLog)-1]
}

// step runs one logged operation.
func (r *stressRun) step(operation string, sector uint32, fn func() error) error {
	err := fn()
	entry := r.logStart(operation, sector)
	if err != nil {
		entry.Error = err.Error()
		return err
	}
	entry.Success = true
	return nil
}

func (r *stressRun) round(round int, sector uint32) error {
	_, _ = fmt.Fprintf(r.w, "  [%3d] sector %-8d ", round, sector)

	original := make([]byte, sdspi.BlockSize)
	pattern := make([]byte, sdspi.BlockSize)
	readBack := make([]byte, sdspi.BlockSize)
	_, _ = rand.Read(pattern)

	fail := func(info *testFailureInfo) error {
		_, _ = fmt.Fprintln(r.w, "FAIL")
		info.sector = sector
		info.round = round
		r.handleTestFailure(info)
		return info.err
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"save", func() error { return r.readSector(sector, original) }},
		{"write", func() error { return r.writeSector(sector, pattern) }},
		{"read", func() error { return r.readSector(sector, readBack) }},
		{"verify", func() error { return verifySector(pattern, readBack) }},
		{"restore", func() error { return r.writeSector(sector, original) }},
	}
	// Once the write has been attempted the sector may hold the pattern,
	// so every later failure puts the original data back first.
	written := false
	for _, s := range steps {
		if s.name == "write" {
			written = true
		}
		if err := r.step(s.name, sector, s.fn); err != nil {
			info := &testFailureInfo{err: err, operation: s.name}
			if s.name == "verify" {
				info.expected = pattern
				info.actual = readBack
			}
			if written && s.name != "restore" {
				info.restoreErr = r.step("restore", sector, func() error {
					return r.writeSector(sector, original)
				})
			}
			return fail(info)
		}
		_, _ = fmt.Fprintf(r.w, "%s ", s.name)
	}
	_, _ = fmt.Fprintln(r.w, "OK")
	return nil
}

func (r *stressRun) readSector(sector uint32, dst []byte) error {
	if err := r.dev.SeekSector(sector); err != nil {
		return err
	}
	return r.dev.ReadBlock(dst)
}

func (r *stressRun) writeSector(sector uint32, src []byte) error {
	if err := r.dev.SeekSector(sector); err != nil {
		return err
	}
	return r.dev.WriteBlock(src)
}

func verifySector(expected, actual []byte) error {
	if bytes.Equal(expected, actual) {
		return nil
	}
	for i := range expected {
		if expected[i] != actual[i] {
			return fmt.Errorf("data mismatch at byte %d: wrote %02X, read %02X", i, expected[i], actual[i])
		}
	}
	return errors.New("data mismatch")
}

func (r *stressRun) handleTestFailure(info *testFailureInfo) {
	_, _ = fmt.Fprintf(r.w, "\n  [!] FAILURE at %s of sector %d: %v\n", info.operation, info.sector, info.err)
	if info.restoreErr != nil {
		_, _ = fmt.Fprintf(r.w, "  [!] Sector %d could not be restored: %v\n", info.sector, info.restoreErr)
	}
	if te := sdspi.GetTrace(info.err); te != nil {
		_, _ = fmt.Fprint(r.w, te.FormatTrace())
	}

	report := r.createCrashReport(info)
	filename, err := writeCrashReportToFile(report, r.cfg.reportDir)
	if err != nil {
		_, _ = fmt.Fprintf(r.w, "  [!] Failed to write crash report: %v\n", err)
		return
	}
	_, _ = fmt.Fprintf(r.w, "  Creating crash report... %s\n", filename)
	r.result.CrashFile = filename
}

func (r *stressRun) createCrashReport(info *testFailureInfo) *CrashReport {
	report := &CrashReport{
		Timestamp:    time.Now(),
		Bus:          describeBus(r.dev.Bus()),
		Operation:    info.operation,
		Error:        info.err.Error(),
		OperationLog: r.opLog,
		Sector:       info.sector,
		Round:        info.round,
	}
	if info.restoreErr != nil {
		report.RestoreError = info.restoreErr.Error()
	}
	if kind, ok := sdspi.KindOf(info.err); ok {
		report.ErrorKind = kind.String()
	}
	if csd, ok := r.dev.CSD(); ok {
		report.CSD = csd.String()
	}
	if te := sdspi.GetTrace(info.err); te != nil {
		report.WireTrace = strings.Split(strings.TrimRight(te.FormatTrace(), "\n"), "\n")
	}
	base := int64(info.sector) * sdspi.BlockSize
	if len(info.expected) > 0 {
		report.ExpectedDump = formatHexDump(info.expected, base)
	}
	if len(info.actual) > 0 {
		report.ActualDump = formatHexDump(info.actual, base)
	}
	return report
}

func describeBus(bus sdspi.Bus) string {
	if s, ok := bus.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", bus)
}

func writeCrashReportToFile(report *CrashReport, dir string) (string, error) {
	timestamp := report.Timestamp.Format("20060102_150405")
	filename := filepath.Join(dir, fmt.Sprintf("stress_test_crash_%d_%s.json", report.Sector, timestamp))

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal crash report: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write crash report: %w", err)
	}

	return filename, nil
}

func randomInt(low, high int) int {
	if low >= high {
		return low
	}
	var b [4]byte
	_, _ = rand.Read(b[:])
	n := uint64(binary.BigEndian.Uint32(b[:]))
	return low + int(n%uint64(high-low+1))
}

func printFinalSummary(w io.Writer, result *StressTestResult, rounds int) {
	status := "PASS"
	if !result.Success {
		status = "FAIL"
	}

	_, _ = fmt.Fprintln(w, "================================================================================")
	_, _ = fmt.Fprintln(w, "                              STRESS TEST SUMMARY")
	_, _ = fmt.Fprintln(w, "================================================================================")
	_, _ = fmt.Fprintf(w, "[%s] %d/%d rounds passed - %s\n",
		status, result.Passed, rounds, result.Duration.Round(time.Millisecond))
	if result.CrashFile != "" {
		_, _ = fmt.Fprintf(w, "Crash report written: %s\n", result.CrashFile)
	}
	_, _ = fmt.Fprintln(w, "================================================================================")
}
