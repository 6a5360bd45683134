package admin

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/herihandoko/apimanager-new-sub000/internal/database"
	"github.com/herihandoko/apimanager-new-sub000/internal/queries"
)

// QueryEngine is wired from main so query mutations can evict cached results.
var QueryEngine *queries.Engine

type queryInput struct {
	ConnectionID       uint     `json:"connection_id"`
	Name               string   `json:"name"`
	SQLText            string   `json:"sql_text"`
	Method             string   `json:"method"`
	Path               string   `json:"path"`
	ParamNames         []string `json:"param_names"`
	ResponseShape      string   `json:"response_shape"`
	CacheEnabled       bool     `json:"cache_enabled"`
	CacheTTLSeconds    int      `json:"cache_ttl_seconds"`
	RateLimitPerMinute int      `json:"rate_limit_per_minute"`
	Active             *bool    `json:"active"`
}

func (in *queryInput) validate() string {
	if in.ConnectionID == 0 {
		return "connection_id is required"
	}
	if in.Name == "" || in.SQLText == "" {
		return "name and sql_text are required"
	}
	switch strings.ToUpper(in.Method) {
	case http.MethodGet, http.MethodPost:
	default:
		return "method must be GET or POST"
	}
	switch in.ResponseShape {
	case "", "rows", "single", "scalar":
	default:
		return "response_shape must be rows, single or scalar"
	}
	if in.Path == "" {
		return "path is required"
	}
	if in.CacheEnabled && in.CacheTTLSeconds <= 0 {
		return "cache_ttl_seconds must be positive when caching is enabled"
	}
	return ""
}

func (in *queryInput) apply(q *database.DynamicQuery) error {
	names := in.ParamNames
	if names == nil {
		names = []string{}
	}
	encoded, err := json.Marshal(names)
	if err != nil {
		return err
	}

	q.ConnectionID = in.ConnectionID
	q.Name = in.Name
	q.SQLText = in.SQLText
	q.Method = strings.ToUpper(in.Method)
	q.Path = "/" + strings.TrimPrefix(in.Path, "/")
	q.ParamNames = string(encoded)
	q.ResponseShape = in.ResponseShape
	if q.ResponseShape == "" {
		q.ResponseShape = "rows"
	}
	q.CacheEnabled = in.CacheEnabled
	q.CacheTTLSeconds = in.CacheTTLSeconds
	q.RateLimitPerMinute = in.RateLimitPerMinute
	if in.Active != nil {
		q.Active = *in.Active
	}
	return nil
}

func ListQueries(w http.ResponseWriter, r *http.Request) {
	var qs []database.DynamicQuery
	if err := database.DB.Order("id").Find(&qs).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list queries")
		return
	}
	writeJSON(w, http.StatusOK, qs)
}

func GetQueryHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid query id")
		return
	}
	q, err := database.GetDynamicQuery(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "query not found")
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func CreateQuery(w http.ResponseWriter, r *http.Request) {
	var in queryInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := in.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if err := database.DB.First(&database.DatabaseConnection{}, in.ConnectionID).Error; err != nil {
		writeError(w, http.StatusBadRequest, "connection_id does not reference an existing connection")
		return
	}

	q := database.DynamicQuery{Active: true}
	if err := in.apply(&q); err != nil {
		writeError(w, http.StatusBadRequest, "invalid parameter list")
		return
	}

	if err := database.DB.Create(&q).Error; err != nil {
		writeError(w, http.StatusConflict, "query (connection, method, path) already registered")
		return
	}

	// Live-test the definition. A failing test does not block persistence;
	// the outcome is reported so the operator can fix the query text.
	testResult := map[string]any{"tested": false}
	if QueryEngine != nil && len(in.ParamNames) == 0 {
		if _, err := QueryEngine.TestDefinition(r.Context(), "", q.ID); err != nil {
			testResult = map[string]any{"tested": true, "ok": false, "message": err.Error()}
		} else {
			testResult = map[string]any{"tested": true, "ok": true}
		}
	}

	writeJSON(w, http.StatusCreated, map[string]any{"query": q, "test": testResult})
}

func UpdateQuery(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid query id")
		return
	}

	var q database.DynamicQuery
	if err := database.DB.First(&q, id).Error; err != nil {
		writeError(w, http.StatusNotFound, "query not found")
		return
	}

	var in queryInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := in.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if err := in.apply(&q); err != nil {
		writeError(w, http.StatusBadRequest, "invalid parameter list")
		return
	}

	if err := database.DB.Save(&q).Error; err != nil {
		writeError(w, http.StatusConflict, "failed to update query")
		return
	}

	// A changed definition must never serve results cached for the old one.
	if QueryEngine != nil {
		QueryEngine.Invalidate(q.ID)
	}
	writeJSON(w, http.StatusOK, q)
}

func DeleteQuery(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid query id")
		return
	}
	result := database.DB.Delete(&database.DynamicQuery{}, id)
	if result.RowsAffected == 0 {
		writeError(w, http.StatusNotFound, "query not found")
		return
	}
	if QueryEngine != nil {
		QueryEngine.Invalidate(id)
	}
	w.WriteHeader(http.StatusNoContent)
}
