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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/ZaparooProject/go-sdspi/internal/syncutil"
)

// sessionLog is the optional per-run debug log file.
var sessionLog struct {
	file   *os.File
	writer io.Writer
	path   string
	mu     syncutil.Mutex
}

func currentSessionWriter() io.Writer {
	sessionLog.mu.Lock()
	defer sessionLog.mu.Unlock()
	return sessionLog.writer
}

// InitSessionLog creates sdspi_YYYYMMDD_HHMMSS.log in dir (the current
// directory when empty) and mirrors every debug line into it. Returns the
// log file path for display to the user.
func InitSessionLog(dir string) (string, error) {
	name := fmt.Sprintf("sdspi_%s.log", time.Now().Format("20060102_150405"))
	path := filepath.Join(dir, name)

	logFile, err := os.Create(path) //nolint:gosec // name is generated here
	if err != nil {
		return "", fmt.Errorf("failed to create session log: %w", err)
	}
	writeSessionHeader(logFile)

	sessionLog.mu.Lock()
	defer sessionLog.mu.Unlock()
	if sessionLog.file != nil {
		_ = sessionLog.file.Close()
	}
	sessionLog.file = logFile
	sessionLog.writer = logFile
	sessionLog.path = path
	return path, nil
}

// CloseSessionLog writes a footer and closes the session log.
func CloseSessionLog() error {
	sessionLog.mu.Lock()
	defer sessionLog.mu.Unlock()
	if sessionLog.file == nil {
		return nil
	}

	_, _ = fmt.Fprintf(sessionLog.writer, "\n%s === Session ended ===\n", time.Now().Format("15:04:05.000"))
	err := sessionLog.file.Close()
	sessionLog.file = nil
	sessionLog.writer = nil
	sessionLog.path = ""
	if err != nil {
		return fmt.Errorf("failed to close session log: %w", err)
	}
	return nil
}

// GetSessionLogPath returns the current session log file path.
func GetSessionLogPath() string {
	sessionLog.mu.Lock()
	defer sessionLog.mu.Unlock()
	return sessionLog.path
}

func writeSessionHeader(writer io.Writer) {
	_, _ = fmt.Fprint(writer, "=== SD/SPI Debug Session Log ===\n")
	_, _ = fmt.Fprintf(writer, "Started: %s\n", time.Now().Format(time.RFC3339))
	_, _ = fmt.Fprintf(writer, "PID: %d\n", os.Getpid())
	_, _ = fmt.Fprintf(writer, "OS: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	_, _ = fmt.Fprintf(writer, "Go Version: %s\n", runtime.Version())
	if exe, err := os.Executable(); err == nil {
		_, _ = fmt.Fprintf(writer, "Executable: %s\n", exe)
	}
	_, _ = fmt.Fprintf(writer, "Command Line: %s\n", strings.Join(os.Args, " "))
	_, _ = fmt.Fprint(writer, "================================\n\n")
}
