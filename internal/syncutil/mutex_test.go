//nolint:paralleltest // SetLockTimeout changes package-wide options
package syncutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMutex_SerializesWriters(t *testing.T) {
	var mu Mutex
	var wg sync.WaitGroup
	counter := 0

	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 1000 {
				mu.Lock()
				counter++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 8000, counter)
}

func TestRWMutex_ReadersShareLock(t *testing.T) {
	var mu RWMutex
	mu.RLock()
	acquired := make(chan struct{})
	go func() {
		mu.RLock()
		close(acquired)
		mu.RUnlock()
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second reader blocked behind the first")
	}
	mu.RUnlock()

	mu.Lock()
	mu.Unlock() //nolint:staticcheck // empty critical section checks the lock is free
}

func TestSetLockTimeout(t *testing.T) {
	SetLockTimeout(time.Minute)
	defer SetLockTimeout(30 * time.Second)

	var mu Mutex
	mu.Lock()
	mu.Unlock() //nolint:staticcheck // empty critical section
}
