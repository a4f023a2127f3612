package lockpool

import (
	"sync"
	"testing"
	"time"
)

func TestWithSerializesSameKey(t *testing.T) {
	p := New(4)

	var mu sync.Mutex
	inside := 0
	maxInside := 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.With("tenant-1", "entity-1", func() error {
				mu.Lock()
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Fatalf("With should serialize writes to the same key, saw %d concurrent", maxInside)
	}
}

func TestWithAllowsDifferentKeysConcurrently(t *testing.T) {
	p := New(64)

	start := make(chan struct{})
	var wg sync.WaitGroup
	concurrent := 0
	var mu sync.Mutex
	maxConcurrent := 0

	for i := 0; i < 16; i++ {
		id := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_ = p.With("tenant-1", entityID(id), func() error {
				mu.Lock()
				concurrent++
				if concurrent > maxConcurrent {
					maxConcurrent = concurrent
				}
				mu.Unlock()

				time.Sleep(5 * time.Millisecond)

				mu.Lock()
				concurrent--
				mu.Unlock()
				return nil
			})
		}()
	}
	close(start)
	wg.Wait()

	if maxConcurrent < 2 {
		t.Fatalf("With should allow distinct keys to run concurrently, max observed %d", maxConcurrent)
	}
}

func TestWithPropagatesError(t *testing.T) {
	p := New(1)
	sentinel := errWant
	err := p.With("tenant-1", "entity-1", func() error { return sentinel })
	if err != sentinel {
		t.Fatalf("With should return fn's error, got %v", err)
	}
}

func entityID(i int) string {
	return string(rune('a' + i))
}

var errWant = &testError{}

type testError struct{}

func (e *testError) Error() string { return "boom" }
