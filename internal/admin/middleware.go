// Package admin implements the operator-facing management API: CRUD for
// providers, endpoints, connections and dynamic queries, API key issuance,
// and call-log listing. It is deliberately thin record management; identity
// and permission evaluation live elsewhere.
package admin

import (
	"net/http"
	"strings"

	"github.com/herihandoko/apimanager-new-sub000/internal/config"
)

// AdminAuth middleware validates the shared admin secret.
func AdminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if config.Cfg.AdminSecret == "" {
			http.Error(w, `{"error":"not_configured","message":"Admin secret not configured"}`, http.StatusServiceUnavailable)
			return
		}

		auth := r.Header.Get("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		if token == "" || token == auth {
			http.Error(w, `{"error":"unauthorized","message":"Missing admin token"}`, http.StatusUnauthorized)
			return
		}

		if token != config.Cfg.AdminSecret {
			http.Error(w, `{"error":"forbidden","message":"Invalid admin token"}`, http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
