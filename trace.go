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
	"errors"
	"fmt"
	"strings"
	"time"
)

// TraceableError embeds the bus traffic of a failed operation in the error.
// Applications can pull it out with errors.As:
//
//	var te *sdspi.TraceableError
//	if errors.As(err, &te) {
//	    log.Printf("Wire trace:\n%s", te.FormatTrace())
//	}
type TraceableError struct {
	Err   error
	Bus   string
	Trace []TraceEntry
}

// TraceDirection indicates the direction of bus data
type TraceDirection string

const (
	// TraceTX indicates bytes clocked out to the card
	TraceTX TraceDirection = "TX"
	// TraceRX indicates bytes clocked in from the card
	TraceRX TraceDirection = "RX"
)

// TraceEntry is a single recorded transfer.
type TraceEntry struct {
	Timestamp time.Time
	Direction TraceDirection
	Note      string
	Data      []byte
}

func (e TraceEntry) String() string {
	ts := e.Timestamp.Format("15:04:05.000")
	if e.Note == "" {
		return fmt.Sprintf("[%s] %s: %s", ts, e.Direction, formatHexBytes(e.Data))
	}
	return fmt.Sprintf("[%s] %s: %s (%s)", ts, e.Direction, formatHexBytes(e.Data), e.Note)
}

func (e *TraceableError) Error() string {
	return e.Err.Error()
}

func (e *TraceableError) Unwrap() error {
	return e.Err
}

// FormatTrace returns the trace as indented lines, oldest first.
func (e *TraceableError) FormatTrace() string {
	if len(e.Trace) == 0 {
		return fmt.Sprintf("[%s] (no trace data)", e.Bus)
	}

	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "[%s] Wire trace (%d entries):\n", e.Bus, len(e.Trace))
	for _, entry := range e.Trace {
		arrow := ">"
		if entry.Direction == TraceRX {
			arrow = "<"
		}
		if entry.Note != "" {
			_, _ = fmt.Fprintf(&sb, "  %s %s (%s)\n", arrow, formatHexBytes(entry.Data), entry.Note)
		} else {
			_, _ = fmt.Fprintf(&sb, "  %s %s\n", arrow, formatHexBytes(entry.Data))
		}
	}
	return sb.String()
}

const traceHexLimit = 32

// formatHexBytes formats a byte slice as space-separated hex, truncating
// block payloads.
func formatHexBytes(data []byte) string {
	if len(data) == 0 {
		return "(empty)"
	}
	shown := data
	if len(shown) > traceHexLimit {
		shown = shown[:traceHexLimit]
	}
	var sb strings.Builder
	for i, b := range shown {
		if i > 0 {
			_ = sb.WriteByte(' ')
		}
		_, _ = fmt.Fprintf(&sb, "%02X", b)
	}
	if len(data) > traceHexLimit {
		_, _ = fmt.Fprintf(&sb, " ... (%d bytes total)", len(data))
	}
	return sb.String()
}

// DefaultTraceSize is the number of entries kept per operation.
const DefaultTraceSize = 16

// TraceBuffer keeps the most recent transfers of one operation in a fixed
// circular slice. A nil *TraceBuffer records nothing.
type TraceBuffer struct {
	bus     string
	entries []TraceEntry
	next    int
	full    bool
}

// NewTraceBuffer creates a trace buffer holding at most size entries.
func NewTraceBuffer(bus string, size int) *TraceBuffer {
	if size <= 0 {
		size = DefaultTraceSize
	}
	return &TraceBuffer{
		bus:     bus,
		entries: make([]TraceEntry, size),
	}
}

// RecordTX records bytes sent to the card.
func (tb *TraceBuffer) RecordTX(data []byte, note string) {
	tb.record(TraceTX, data, note)
}

// RecordRX records bytes received from the card.
func (tb *TraceBuffer) RecordRX(data []byte, note string) {
	tb.record(TraceRX, data, note)
}

// RecordTimeout records an exhausted poll.
func (tb *TraceBuffer) RecordTimeout(note string) {
	tb.record(TraceRX, nil, "TIMEOUT: "+note)
}

func (tb *TraceBuffer) record(dir TraceDirection, data []byte, note string) {
	if tb == nil {
		return
	}
	tb.entries[tb.next] = TraceEntry{
		Timestamp: time.Now(),
		Direction: dir,
		Note:      note,
		Data:      append([]byte(nil), data...),
	}
	tb.next++
	if tb.next == len(tb.entries) {
		tb.next = 0
		tb.full = true
	}
}

// Len returns the number of recorded entries.
func (tb *TraceBuffer) Len() int {
	if tb == nil {
		return 0
	}
	if tb.full {
		return len(tb.entries)
	}
	return tb.next
}

// Entries returns a copy of the recorded entries, oldest first.
func (tb *TraceBuffer) Entries() []TraceEntry {
	if tb == nil {
		return nil
	}
	out := make([]TraceEntry, 0, tb.Len())
	if tb.full {
		out = append(out, tb.entries[tb.next:]...)
	}
	return append(out, tb.entries[:tb.next]...)
}

// WrapError attaches the recorded entries to err. Returns nil if err is nil.
func (tb *TraceBuffer) WrapError(err error) error {
	if err == nil || tb == nil {
		return err
	}
	return &TraceableError{
		Err:   err,
		Bus:   tb.bus,
		Trace: tb.Entries(),
	}
}

// Clear drops all recorded entries.
func (tb *TraceBuffer) Clear() {
	if tb == nil {
		return
	}
	clear(tb.entries)
	tb.next = 0
	tb.full = false
}

// HasTrace checks if an error carries a wire trace.
func HasTrace(err error) bool {
	var te *TraceableError
	return errors.As(err, &te)
}

// GetTrace extracts the wire trace from an error, or nil.
func GetTrace(err error) *TraceableError {
	var te *TraceableError
	if errors.As(err, &te) {
		return te
	}
	return nil
}
