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
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	sdspi "github.com/ZaparooProject/go-sdspi"
)

// dumpChunkSectors is how many sectors one ReadAt call covers during dump.
const dumpChunkSectors = 64

func parseSector(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid sector %q", s)
	}
	return uint32(n), nil
}

// parseRange reads an optional "FIRST [COUNT]" pair.
func parseRange(args []string, defaultCount uint64) (first uint32, count uint64, err error) {
	count = defaultCount
	if len(args) > 0 {
		if first, err = parseSector(args[0]); err != nil {
			return 0, 0, err
		}
	}
	if len(args) > 1 {
		count, err = strconv.ParseUint(args[1], 0, 64)
		if err != nil || count == 0 {
			return 0, 0, fmt.Errorf("invalid sector count %q", args[1])
		}
	}
	return first, count, nil
}

// parseHexData decodes a sector payload, ignoring spaces and colons, and
// zero pads it to a full sector.
func parseHexData(s string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", ":", "", "0x", "").Replace(s)
	data, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	if len(data) > sdspi.BlockSize {
		return nil, fmt.Errorf("data is %d bytes, a sector holds %d", len(data), sdspi.BlockSize)
	}
	block := make([]byte, sdspi.BlockSize)
	copy(block, data)
	return block, nil
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func runInfo(w io.Writer, dev *sdspi.Device) error {
	_, _ = fmt.Fprintf(w, "State:      %s\n", dev.State())
	_, _ = fmt.Fprintf(w, "Bus:        %s\n", describeBus(dev.Bus()))
	if !dev.Ready() {
		if err := dev.Err(); err != nil {
			_, _ = fmt.Fprintf(w, "Error:      %v\n", err)
		}
		return nil
	}

	_, _ = fmt.Fprintf(w, "Block size: %d\n", dev.BlockSize())
	_, _ = fmt.Fprintf(w, "Blocks:     %d\n", dev.BlockCount())
	_, _ = fmt.Fprintf(w, "Capacity:   %s (%d bytes)\n", formatSize(dev.Size()), dev.Size())
	_, _ = fmt.Fprintf(w, "Writable:   %s\n", yesNo(dev.Writable()))

	csd, ok := dev.CSD()
	if !ok {
		return nil
	}
	_, _ = fmt.Fprintln(w, "CSD:")
	_, _ = fmt.Fprintf(w, "  Raw:              %s\n", strings.ToUpper(hex.EncodeToString(csd[:])))
	_, _ = fmt.Fprintf(w, "  Structure:        %d\n", csd.Structure())
	_, _ = fmt.Fprintf(w, "  C_SIZE:           %d\n", csd.CSize())
	_, _ = fmt.Fprintf(w, "  TAAC:             0x%02X\n", csd.TAAC())
	_, _ = fmt.Fprintf(w, "  NSAC:             %d\n", csd.NSAC())
	_, _ = fmt.Fprintf(w, "  TRAN_SPEED:       0x%02X (%d Mbit/s)\n", csd.TranSpeed(), csd.TransferRate()/1_000_000)
	_, _ = fmt.Fprintf(w, "  CCC:              0x%03X\n", csd.CCC())
	_, _ = fmt.Fprintf(w, "  READ_BL_LEN:      %d\n", 1<<csd.ReadBlockLen())
	_, _ = fmt.Fprintf(w, "  WRITE_BL_LEN:     %d\n", 1<<csd.WriteBlockLen())
	_, _ = fmt.Fprintf(w, "  Copy:             %s\n", yesNo(csd.Copy()))
	_, _ = fmt.Fprintf(w, "  Perm write prot.: %s\n", yesNo(csd.PermWriteProtect()))
	_, _ = fmt.Fprintf(w, "  Tmp write prot.:  %s\n", yesNo(csd.TmpWriteProtect()))
	_, _ = fmt.Fprintf(w, "  File format:      %d\n", csd.FileFormat())
	_, _ = fmt.Fprintf(w, "  CRC:              0x%02X (%s)\n", csd.CRC(), validity(csd.CRCValid()))
	return nil
}

func validity(ok bool) string {
	if ok {
		return "valid"
	}
	return "invalid"
}

// formatHexDump renders data 16 bytes per line with offsets from base.
func formatHexDump(data []byte, base int64) []string {
	const lineSize = 16
	lines := make([]string, 0, (len(data)+lineSize-1)/lineSize)

	for i := 0; i < len(data); i += lineSize {
		end := min(i+lineSize, len(data))
		chunk := data[i:end]

		var sb strings.Builder
		_, _ = fmt.Fprintf(&sb, "%08X ", base+int64(i))
		for j := range lineSize {
			if j == lineSize/2 {
				_ = sb.WriteByte(' ')
			}
			if j < len(chunk) {
				_, _ = fmt.Fprintf(&sb, " %02X", chunk[j])
			} else {
				_, _ = sb.WriteString("   ")
			}
		}
		_, _ = sb.WriteString("  |")
		for _, b := range chunk {
			if b >= 0x20 && b < 0x7F {
				_ = sb.WriteByte(b)
			} else {
				_ = sb.WriteByte('.')
			}
		}
		_ = sb.WriteByte('|')
		lines = append(lines, sb.String())
	}
	return lines
}

func printSector(w io.Writer, sector uint32, data []byte) {
	_, _ = fmt.Fprintf(w, "Sector %d:\n", sector)
	for _, line := range formatHexDump(data, int64(sector)*sdspi.BlockSize) {
		_, _ = fmt.Fprintln(w, line)
	}
}

func runRead(ctx context.Context, w io.Writer, dev *sdspi.Device, sector uint32, count uint64) error {
	if err := dev.SeekSector(sector); err != nil {
		return err
	}
	buf := make([]byte, sdspi.BlockSize)
	for i := range count {
		if err := ctx.Err(); err != nil {
			return err
		}
		current := dev.Position()
		if err := dev.ReadBlock(buf); err != nil {
			return fmt.Errorf("read sector %d: %w", current, err)
		}
		printSector(w, current, buf)
		if i+1 < count && uint64(current)+1 >= dev.BlockCount() {
			break
		}
	}
	return nil
}

func runWrite(w io.Writer, dev *sdspi.Device, sector uint32, payload string) error {
	block, err := parseHexData(payload)
	if err != nil {
		return err
	}
	if err := dev.SeekSector(sector); err != nil {
		return err
	}
	if err := dev.WriteBlock(block); err != nil {
		return fmt.Errorf("write sector %d: %w", sector, err)
	}
	_, _ = fmt.Fprintf(w, "Wrote sector %d\n", sector)
	return nil
}

// runDump copies count sectors starting at first into a file.
func runDump(ctx context.Context, w io.Writer, dev *sdspi.Device, path string, first uint32, count uint64) error {
	if !dev.Ready() {
		return dev.Err()
	}
	if end := uint64(first) + count; end > dev.BlockCount() {
		count = dev.BlockCount() - min(uint64(first), dev.BlockCount())
	}

	out, err := os.Create(path) //nolint:gosec // path is the user's output file
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() { _ = out.Close() }()

	buf := make([]byte, dumpChunkSectors*sdspi.BlockSize)
	off := int64(first) * sdspi.BlockSize
	var written uint64
	for written < count {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := min(count-written, dumpChunkSectors)
		chunk := buf[:n*sdspi.BlockSize]
		read, err := dev.ReadAt(chunk, off)
		if _, werr := out.Write(chunk[:read]); werr != nil {
			return fmt.Errorf("failed to write %s: %w", path, werr)
		}
		written += uint64(read / sdspi.BlockSize)
		off += int64(read)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("dump at byte %d: %w", off, err)
		}
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	_, _ = fmt.Fprintf(w, "Dumped %d sectors to %s\n", written, path)
	return nil
}
