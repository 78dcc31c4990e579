// ABOUTME: Tests for the seen-message-ID set
// ABOUTME: Covers TTL expiry, capacity eviction, atomicity, and concurrency safety

package dedupe

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSeen_ObserveNewID(t *testing.T) {
	seen := NewSeen(5*time.Minute, 100)
	defer seen.Close()

	assert.False(t, seen.Observe(42), "first observation must report new")
	assert.True(t, seen.Observe(42), "second observation must report duplicate")
	assert.True(t, seen.Contains(42))
}

func TestSeen_ContainsDoesNotRecord(t *testing.T) {
	seen := NewSeen(5*time.Minute, 100)
	defer seen.Close()

	assert.False(t, seen.Contains(7))
	assert.False(t, seen.Observe(7), "Contains must not have recorded the ID")
}

func TestSeen_Expiry(t *testing.T) {
	seen := NewSeen(10*time.Millisecond, 100)
	defer seen.Close()

	assert.False(t, seen.Observe(1))
	assert.True(t, seen.Contains(1))

	time.Sleep(20 * time.Millisecond)

	assert.False(t, seen.Contains(1), "ID must expire after the TTL")
	assert.False(t, seen.Observe(1), "expired ID observes as new again")
}

func TestSeen_ObserveRefreshesTTL(t *testing.T) {
	seen := NewSeen(50*time.Millisecond, 100)
	defer seen.Close()

	seen.Observe(9)
	time.Sleep(30 * time.Millisecond)

	// Re-observing refreshes the window
	assert.True(t, seen.Observe(9))
	time.Sleep(30 * time.Millisecond)

	assert.True(t, seen.Contains(9), "refreshed ID must outlive the original TTL")
}

func TestSeen_CapacityEvictsOldest(t *testing.T) {
	seen := NewSeen(5*time.Minute, 3)
	defer seen.Close()

	seen.Observe(1)
	seen.Observe(2)
	seen.Observe(3)

	assert.True(t, seen.Contains(1))
	assert.True(t, seen.Contains(2))
	assert.True(t, seen.Contains(3))

	seen.Observe(4)

	assert.False(t, seen.Contains(1), "oldest ID must be evicted at capacity")
	assert.True(t, seen.Contains(2))
	assert.True(t, seen.Contains(3))
	assert.True(t, seen.Contains(4))

	seen.Observe(5)

	assert.False(t, seen.Contains(2), "eviction must follow insertion order")
	assert.True(t, seen.Contains(5))
}

func TestSeen_ReobserveMovesToBack(t *testing.T) {
	seen := NewSeen(5*time.Minute, 3)
	defer seen.Close()

	seen.Observe(1)
	seen.Observe(2)
	seen.Observe(3)

	// Touch 1 so 2 becomes the oldest
	seen.Observe(1)
	seen.Observe(4)

	assert.True(t, seen.Contains(1), "touched ID must survive eviction")
	assert.False(t, seen.Contains(2))
}

func TestSeen_Sweep(t *testing.T) {
	seen := NewSeen(10*time.Millisecond, 100)
	defer seen.Close()

	seen.Observe(1)
	seen.Observe(2)
	seen.Observe(3)
	assert.Equal(t, 3, seen.Len())

	time.Sleep(20 * time.Millisecond)

	// Expired IDs linger in the map until swept
	seen.sweep()
	assert.Equal(t, 0, seen.Len(), "sweep must drop expired IDs")
}

func TestSeen_ObserveIsAtomic(t *testing.T) {
	seen := NewSeen(5*time.Minute, 100)
	defer seen.Close()

	const goroutines = 100

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !seen.Observe(777) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load(),
		"exactly one goroutine may observe the ID as new")
}

func TestSeen_Concurrent(t *testing.T) {
	seen := NewSeen(5*time.Minute, 1000)
	defer seen.Close()

	const goroutines = 50
	const opsPerGoroutine = 100

	var wg sync.WaitGroup
	for i := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range opsPerGoroutine {
				id := int64(i*opsPerGoroutine + j)
				seen.Observe(id)
				seen.Contains(id)
			}
		}()
	}
	wg.Wait()

	seen.Observe(1)
	assert.True(t, seen.Contains(1))
}

func TestSeen_CloseIsIdempotent(t *testing.T) {
	seen := NewSeen(5*time.Minute, 100)

	seen.Observe(1)
	assert.True(t, seen.Contains(1))

	seen.Close()
	seen.Close()
}
