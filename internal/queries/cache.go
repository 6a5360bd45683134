package queries

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"
)

type cacheEntry struct {
	data      any
	rowCount  int
	size      int64
	expiresAt time.Time
}

// resultCache is the process-wide query result cache, keyed by
// "<queryID>:<parameter hash>".
type resultCache struct {
	entries sync.Map
}

func newResultCache() *resultCache {
	return &resultCache{}
}

// cacheKey derives the cache key from the query id and the serialized
// parameter set, so distinct parameter values never share an entry.
func cacheKey(queryID uint, params []any) string {
	h := fnv.New64a()
	if b, err := json.Marshal(params); err == nil {
		h.Write(b)
	}
	return fmt.Sprintf("%d:%x", queryID, h.Sum64())
}

func (c *resultCache) get(key string) (*cacheEntry, bool) {
	v, ok := c.entries.Load(key)
	if !ok {
		return nil, false
	}
	entry := v.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.entries.Delete(key)
		return nil, false
	}
	return entry, true
}

func (c *resultCache) put(key string, entry *cacheEntry) {
	c.entries.Store(key, entry)
}

// invalidateQuery removes every entry belonging to the given query id.
func (c *resultCache) invalidateQuery(queryID uint) {
	prefix := fmt.Sprintf("%d:", queryID)
	c.entries.Range(func(key, _ any) bool {
		if strings.HasPrefix(key.(string), prefix) {
			c.entries.Delete(key)
		}
		return true
	})
}

// sweep removes expired entries.
func (c *resultCache) sweep() {
	now := time.Now()
	c.entries.Range(func(key, v any) bool {
		if now.After(v.(*cacheEntry).expiresAt) {
			c.entries.Delete(key)
		}
		return true
	})
}

// len reports the number of stored entries, expired ones included.
func (c *resultCache) len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
