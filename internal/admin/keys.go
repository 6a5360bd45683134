package admin

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/herihandoko/apimanager-new-sub000/internal/database"
	"github.com/herihandoko/apimanager-new-sub000/internal/gateway"
)

func ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	var keys []database.APIKey
	if err := database.DB.Order("id").Find(&keys).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list api keys")
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

// CreateAPIKey issues a new gateway key. The key value is only returned once,
// in this response.
func CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	key := database.APIKey{
		Name:    body.Name,
		Key:     uuid.New().String(),
		Enabled: true,
	}
	if err := database.DB.Create(&key).Error; err != nil {
		writeError(w, http.StatusConflict, "key name already exists")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":   key.ID,
		"name": key.Name,
		"key":  key.Key,
	})
}

func EnableAPIKey(w http.ResponseWriter, r *http.Request) {
	setAPIKeyEnabled(w, r, true)
}

func DisableAPIKey(w http.ResponseWriter, r *http.Request) {
	setAPIKeyEnabled(w, r, false)
}

func setAPIKeyEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	id, ok := urlID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid key id")
		return
	}
	result := database.DB.Model(&database.APIKey{}).Where("id = ?", id).Update("enabled", enabled)
	if result.RowsAffected == 0 {
		writeError(w, http.StatusNotFound, "key not found")
		return
	}
	gateway.InvalidateAllKeyCache()
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func DeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid key id")
		return
	}
	result := database.DB.Delete(&database.APIKey{}, id)
	if result.RowsAffected == 0 {
		writeError(w, http.StatusNotFound, "key not found")
		return
	}
	gateway.InvalidateAllKeyCache()
	w.WriteHeader(http.StatusNoContent)
}
