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
package detection

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultBlocklist returns USB bridges that should not be probed.
// Format: VID:PID in hexadecimal (case-insensitive).
func DefaultBlocklist() []string {
	return []string{}
}

// IsBlocked checks if a USB VID:PID is in the blocklist.
func IsBlocked(vidpid string, blocklist []string) bool {
	vidpid = ParseVIDPID(vidpid)
	if vidpid == "" {
		return false
	}
	for _, blocked := range blocklist {
		if ParseVIDPID(blocked) == vidpid {
			return true
		}
	}
	return false
}

// ParseVIDPID normalizes a USB id to "VVVV:PPPP" upper-case hex. Accepted
// forms are "0403:6014", "VID:0403 PID:6014", "vid=0403 pid=6014" and
// "vendor=0403 product=6014". Returns "" if no id is found.
func ParseVIDPID(descriptor string) string {
	upper := strings.ToUpper(strings.TrimSpace(descriptor))

	vid := hexAfter(upper, "VID:", "VID=", "VENDOR=")
	pid := hexAfter(upper, "PID:", "PID=", "PRODUCT=")
	if vid == "" || pid == "" {
		parts := strings.Split(upper, ":")
		if len(parts) != 2 || !isHex(parts[0]) || !isHex(parts[1]) {
			return ""
		}
		vid, pid = parts[0], parts[1]
	}

	v, errV := strconv.ParseUint(vid, 16, 16)
	p, errP := strconv.ParseUint(pid, 16, 16)
	if errV != nil || errP != nil {
		return ""
	}
	return fmt.Sprintf("%04X:%04X", v, p)
}

// hexAfter returns the hex digits following the first matching prefix.
func hexAfter(s string, prefixes ...string) string {
	for _, prefix := range prefixes {
		if idx := strings.Index(s, prefix); idx >= 0 {
			return extractHex(s[idx+len(prefix):])
		}
	}
	return ""
}

// extractHex extracts the leading run of hex digits from a string.
func extractHex(s string) string {
	end := strings.IndexFunc(s, func(r rune) bool { return !isHexRune(r) })
	if end < 0 {
		return s
	}
	return s[:end]
}

func isHexRune(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F') || (r >= 'a' && r <= 'f')
}

// isHex checks if a string contains only hexadecimal characters.
func isHex(s string) bool {
	return s != "" && extractHex(s) == s
}

// IsPathIgnored checks if a device path should be ignored. Paths are
// compared after cleaning and case folding.
func IsPathIgnored(devicePath string, ignorePaths []string) bool {
	if devicePath == "" {
		return false
	}
	normalized := normalizedPath(devicePath)
	for _, ignorePath := range ignorePaths {
		if ignorePath == "" {
			continue
		}
		if devicePath == ignorePath || normalized == normalizedPath(ignorePath) {
			return true
		}
	}
	return false
}

func normalizedPath(path string) string {
	return strings.ToLower(filepath.Clean(path))
}
