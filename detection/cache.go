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
	"time"

	"github.com/ZaparooProject/go-sdspi/internal/syncutil"
)

type cacheEntry struct {
	timestamp time.Time
	devices   []DeviceInfo
}

// detectionCache holds the last result per transport.
type detectionCache struct {
	entries map[string]cacheEntry
	mu      syncutil.RWMutex
}

var cache = newDetectionCache()

func newDetectionCache() *detectionCache {
	return &detectionCache{entries: make(map[string]cacheEntry)}
}

func (c *detectionCache) get(transport string, ttl time.Duration) ([]DeviceInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[transport]
	if !ok || time.Since(entry.timestamp) > ttl {
		return nil, false
	}
	return copyDevices(entry.devices), true
}

func (c *detectionCache) set(transport string, devices []DeviceInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[transport] = cacheEntry{devices: copyDevices(devices), timestamp: time.Now()}
}

func (c *detectionCache) remove(transport string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, transport)
}

func (c *detectionCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

// copyDevices copies the slice and each metadata map so callers cannot
// mutate cached state.
func copyDevices(devices []DeviceInfo) []DeviceInfo {
	out := make([]DeviceInfo, len(devices))
	for i, d := range devices {
		out[i] = d
		if d.Metadata != nil {
			out[i].Metadata = make(map[string]string, len(d.Metadata))
			for k, v := range d.Metadata {
				out[i].Metadata[k] = v
			}
		}
	}
	return out
}

func getCached(transport string, ttl time.Duration) ([]DeviceInfo, bool) {
	return cache.get(transport, ttl)
}

func setCached(transport string, devices []DeviceInfo) {
	cache.set(transport, devices)
}

func clearCacheForTransport(transport string) {
	cache.remove(transport)
}
