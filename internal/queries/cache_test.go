package queries

import (
	"testing"
	"time"
)

func TestCacheKeyDistinguishesParams(t *testing.T) {
	a := cacheKey(1, []any{"x"})
	b := cacheKey(1, []any{"y"})
	c := cacheKey(2, []any{"x"})

	if a == b {
		t.Error("different parameter values must produce different keys")
	}
	if a == c {
		t.Error("different query ids must produce different keys")
	}
	if a != cacheKey(1, []any{"x"}) {
		t.Error("identical inputs must produce identical keys")
	}
}

func TestCacheExpiry(t *testing.T) {
	c := newResultCache()
	c.put("1:a", &cacheEntry{data: "v", expiresAt: time.Now().Add(-time.Second)})

	if _, ok := c.get("1:a"); ok {
		t.Error("expired entry must not be served")
	}
	if c.len() != 0 {
		t.Error("expired entry should be dropped on read")
	}
}

func TestCacheInvalidateQuery(t *testing.T) {
	c := newResultCache()
	future := time.Now().Add(time.Minute)
	c.put(cacheKey(7, []any{"a"}), &cacheEntry{expiresAt: future})
	c.put(cacheKey(7, []any{"b"}), &cacheEntry{expiresAt: future})
	c.put(cacheKey(8, []any{"a"}), &cacheEntry{expiresAt: future})

	c.invalidateQuery(7)

	if c.len() != 1 {
		t.Errorf("entries = %d, want only query 8's to survive", c.len())
	}
	if _, ok := c.get(cacheKey(8, []any{"a"})); !ok {
		t.Error("other queries' entries must survive invalidation")
	}
}

func TestCacheSweep(t *testing.T) {
	c := newResultCache()
	c.put("1:live", &cacheEntry{expiresAt: time.Now().Add(time.Minute)})
	c.put("1:dead", &cacheEntry{expiresAt: time.Now().Add(-time.Minute)})

	c.sweep()

	if c.len() != 1 {
		t.Errorf("entries after sweep = %d, want 1", c.len())
	}
}
