package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/herihandoko/apimanager-new-sub000/internal/fault"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeFault renders a typed failure as {success:false, message, ...},
// merging any diagnostic detail (e.g. availableEndpoints) into the body.
func writeFault(w http.ResponseWriter, err error) {
	f := fault.As(err)
	body := map[string]any{
		"success": false,
		"message": f.Message,
		"error":   f.Kind.String(),
	}
	for k, v := range f.Detail {
		body[k] = v
	}
	writeJSON(w, f.HTTPStatus(), body)
}

func writeRateLimited(w http.ResponseWriter) {
	w.Header().Set("Retry-After", "60")
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"success": false, "message": "Rate limit exceeded",
	})
}
