package gateway

import (
	"sync"
	"time"
)

type rateLimitWindow struct {
	mu       sync.Mutex
	requests []time.Time
}

// allow checks the sliding one-minute window against the limit and records
// the request when admitted, atomically.
func (w *rateLimitWindow) allow(limit int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := time.Now().Add(-time.Minute)
	i := 0
	for i < len(w.requests) && w.requests[i].Before(cutoff) {
		i++
	}
	w.requests = w.requests[i:]

	if len(w.requests) >= limit {
		return false
	}
	w.requests = append(w.requests, time.Now())
	return true
}

// key: "provider:<id>" or "query:<id>"
var rateLimitWindows sync.Map

func getWindow(key string) *rateLimitWindow {
	val, _ := rateLimitWindows.LoadOrStore(key, &rateLimitWindow{})
	return val.(*rateLimitWindow)
}

// allowRate admits the request unless the target's per-minute limit is
// exhausted. A limit of 0 means unlimited.
func allowRate(key string, perMinute int) bool {
	if perMinute <= 0 {
		return true
	}
	return getWindow(key).allow(perMinute)
}
