package gateway

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestAllowRateUnlimited(t *testing.T) {
	for i := 0; i < 100; i++ {
		if !allowRate("unlimited", 0) {
			t.Fatal("limit 0 must never reject")
		}
	}
}

func TestAllowRateEnforcesLimit(t *testing.T) {
	key := "limited"
	for i := 0; i < 5; i++ {
		if !allowRate(key, 5) {
			t.Fatalf("request %d should be admitted", i+1)
		}
	}
	if allowRate(key, 5) {
		t.Error("6th request within the window should be rejected")
	}
}

func TestAllowRateIsolatesKeys(t *testing.T) {
	if !allowRate("target-a", 1) {
		t.Fatal("first request on target-a should be admitted")
	}
	if allowRate("target-a", 1) {
		t.Fatal("second request on target-a should be rejected")
	}
	if !allowRate("target-b", 1) {
		t.Error("target-b must have its own window")
	}
}

func TestRateWindowPrunesOldEntries(t *testing.T) {
	w := &rateLimitWindow{}
	// Seed entries older than the window; they must not count.
	w.requests = []time.Time{
		time.Now().Add(-2 * time.Minute),
		time.Now().Add(-90 * time.Second),
	}
	if !w.allow(2) {
		t.Error("stale entries should have been pruned")
	}
	if len(w.requests) != 1 {
		t.Errorf("window holds %d entries, want 1", len(w.requests))
	}
}

func TestAllowRateConcurrent(t *testing.T) {
	key := fmt.Sprintf("concurrent-%d", time.Now().UnixNano())
	const limit = 10

	var wg sync.WaitGroup
	admitted := make(chan struct{}, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if allowRate(key, limit) {
				admitted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(admitted)

	n := 0
	for range admitted {
		n++
	}
	if n != limit {
		t.Errorf("admitted %d requests, want exactly %d", n, limit)
	}
}
