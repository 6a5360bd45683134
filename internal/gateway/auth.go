package gateway

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/herihandoko/apimanager-new-sub000/internal/database"
)

// keyCache caches API key lookups for fast request handling.
// Key: key string, Value: cachedKey
var keyCache sync.Map

type cachedKey struct {
	Name     string
	Enabled  bool
	CachedAt time.Time
}

const keyCacheTTL = 30 * time.Second

func lookupKey(key string) (string, bool) {
	if cached, ok := keyCache.Load(key); ok {
		ck := cached.(cachedKey)
		if time.Since(ck.CachedAt) < keyCacheTTL {
			if !ck.Enabled {
				return "", false
			}
			return ck.Name, true
		}
		keyCache.Delete(key)
	}

	var ak database.APIKey
	if err := database.DB.Where("key = ?", key).First(&ak).Error; err != nil {
		return "", false
	}

	keyCache.Store(key, cachedKey{
		Name:     ak.Name,
		Enabled:  ak.Enabled,
		CachedAt: time.Now(),
	})

	if !ak.Enabled {
		return "", false
	}
	return ak.Name, true
}

// InvalidateKeyCache removes a key from the cache.
func InvalidateKeyCache(key string) {
	keyCache.Delete(key)
}

// InvalidateAllKeyCache clears the entire key cache.
func InvalidateAllKeyCache() {
	keyCache.Range(func(key, _ any) bool {
		keyCache.Delete(key)
		return true
	})
}

type callerKeyType string

const callerKey callerKeyType = "caller"

func withCallerName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, callerKey, name)
}

// GetCallerName returns the API key name the auth middleware resolved for
// this request, or "" when unauthenticated.
func GetCallerName(ctx context.Context) string {
	if v, ok := ctx.Value(callerKey).(string); ok {
		return v
	}
	return ""
}

// APIKeyAuth validates the gateway API key and injects the caller's key name
// into the request context.
func APIKeyAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := extractKey(r)
		if key == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"success": false, "message": "API key is required",
			})
			return
		}

		name, ok := lookupKey(key)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"success": false, "message": "Invalid or disabled API key",
			})
			return
		}

		r = r.WithContext(withCallerName(r.Context(), name))
		next.ServeHTTP(w, r)
	})
}

func extractKey(r *http.Request) string {
	if key := r.Header.Get("x-api-key"); key != "" {
		return key
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
