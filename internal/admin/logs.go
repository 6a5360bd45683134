package admin

import (
	"net/http"
	"strconv"

	"github.com/herihandoko/apimanager-new-sub000/internal/database"
)

const defaultLogLimit = 100

func logLimit(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			return n
		}
	}
	return defaultLogLimit
}

// ListCallLogs returns the most recent generic call records, optionally
// filtered by target type and id.
func ListCallLogs(w http.ResponseWriter, r *http.Request) {
	q := database.DB.Model(&database.CallLog{}).Order("id desc").Limit(logLimit(r))

	if t := r.URL.Query().Get("target_type"); t != "" {
		q = q.Where("target_type = ?", t)
	}
	if raw := r.URL.Query().Get("target_id"); raw != "" {
		if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
			q = q.Where("target_id = ?", uint(id))
		}
	}

	var logs []database.CallLog
	if err := q.Find(&logs).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list call logs")
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func ListConnectionLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid connection id")
		return
	}
	var logs []database.ConnectionLog
	if err := database.DB.Where("connection_id = ?", id).Order("id desc").Limit(logLimit(r)).Find(&logs).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list connection logs")
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func ListQueryLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid query id")
		return
	}
	var logs []database.QueryLog
	if err := database.DB.Where("query_id = ?", id).Order("id desc").Limit(logLimit(r)).Find(&logs).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list query logs")
		return
	}
	writeJSON(w, http.StatusOK, logs)
}
