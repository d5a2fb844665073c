//go:build !deadlock

package syncutil

import (
	"sync"
	"time"
)

// DetectionEnabled reports whether lock checking is compiled in.
const DetectionEnabled = false

// Mutex is a sync.Mutex.
//
//nolint:gocritic // embedding exposes Lock/Unlock directly
type Mutex struct {
	sync.Mutex
}

// RWMutex is a sync.RWMutex.
//
//nolint:gocritic // embedding exposes the full RWMutex method set
type RWMutex struct {
	sync.RWMutex
}

// SetLockTimeout is a no-op without the deadlock build tag.
func SetLockTimeout(time.Duration) {}
