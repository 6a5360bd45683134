package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"gorm.io/gorm"

	"github.com/herihandoko/apimanager-new-sub000/internal/crypto"
	"github.com/herihandoko/apimanager-new-sub000/internal/database"
)

type providerInput struct {
	Name               string `json:"name"`
	BaseURL            string `json:"base_url"`
	AuthHeaderName     string `json:"auth_header_name"`
	AuthHeaderValue    string `json:"auth_header_value"`
	TimeoutSeconds     int    `json:"timeout_seconds"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute"`
	Active             *bool  `json:"active"`
}

func (in *providerInput) validate() string {
	if in.Name == "" {
		return "name is required"
	}
	if !strings.HasPrefix(in.BaseURL, "http://") && !strings.HasPrefix(in.BaseURL, "https://") {
		return "base_url must be an absolute http(s) URL"
	}
	if in.TimeoutSeconds < 0 {
		return "timeout_seconds must not be negative"
	}
	return ""
}

func ListProviders(w http.ResponseWriter, r *http.Request) {
	var providers []database.Provider
	if err := database.DB.Preload("Endpoints").Order("id").Find(&providers).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list providers")
		return
	}
	writeJSON(w, http.StatusOK, providers)
}

func GetProviderHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid provider id")
		return
	}
	p, err := database.GetProvider(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "provider not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func CreateProvider(w http.ResponseWriter, r *http.Request) {
	var in providerInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := in.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	authValue, err := crypto.Encrypt(in.AuthHeaderValue)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encrypt auth header")
		return
	}

	p := database.Provider{
		Name:               in.Name,
		BaseURL:            strings.TrimRight(in.BaseURL, "/"),
		AuthHeaderName:     in.AuthHeaderName,
		AuthHeaderValue:    authValue,
		TimeoutSeconds:     in.TimeoutSeconds,
		RateLimitPerMinute: in.RateLimitPerMinute,
		Active:             true,
	}
	if in.TimeoutSeconds == 0 {
		p.TimeoutSeconds = 30
	}
	if in.Active != nil {
		p.Active = *in.Active
	}

	if err := database.DB.Create(&p).Error; err != nil {
		writeError(w, http.StatusConflict, "provider name already exists")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func UpdateProvider(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid provider id")
		return
	}

	var p database.Provider
	if err := database.DB.First(&p, id).Error; err != nil {
		writeError(w, http.StatusNotFound, "provider not found")
		return
	}

	var in providerInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := in.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	updates := map[string]any{
		"name":                  in.Name,
		"base_url":              strings.TrimRight(in.BaseURL, "/"),
		"auth_header_name":      in.AuthHeaderName,
		"timeout_seconds":       in.TimeoutSeconds,
		"rate_limit_per_minute": in.RateLimitPerMinute,
	}
	if in.Active != nil {
		updates["active"] = *in.Active
	}
	if in.AuthHeaderValue != "" {
		authValue, err := crypto.Encrypt(in.AuthHeaderValue)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to encrypt auth header")
			return
		}
		updates["auth_header_value"] = authValue
	}

	if err := database.DB.Model(&p).Updates(updates).Error; err != nil {
		writeError(w, http.StatusConflict, "failed to update provider")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func DeleteProvider(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid provider id")
		return
	}
	database.DB.Where("provider_id = ?", id).Delete(&database.Endpoint{})
	result := database.DB.Delete(&database.Provider{}, id)
	if result.RowsAffected == 0 {
		writeError(w, http.StatusNotFound, "provider not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// placeholderName restricts the segment placeholder grammar before a
// template is accepted into the registry.
var placeholderName = regexp.MustCompile(`^\{[A-Za-z_][A-Za-z0-9_]*\}$`)

type endpointInput struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description"`
	Active      *bool  `json:"active"`
	SortOrder   int    `json:"sort_order"`
}

func (in *endpointInput) validate() string {
	method := strings.ToUpper(in.Method)
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
	default:
		return "method must be one of GET, POST, PUT, DELETE, PATCH"
	}
	if in.Path == "" {
		return "path is required"
	}
	for _, seg := range strings.Split(strings.Trim(in.Path, "/"), "/") {
		if strings.Contains(seg, "{") || strings.Contains(seg, "}") {
			if !placeholderName.MatchString(seg) {
				return "path placeholders must look like {name}"
			}
		}
	}
	return ""
}

func CreateEndpoint(w http.ResponseWriter, r *http.Request) {
	providerID, ok := urlID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid provider id")
		return
	}
	if err := database.DB.First(&database.Provider{}, providerID).Error; err != nil {
		writeError(w, http.StatusNotFound, "provider not found")
		return
	}

	var in endpointInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := in.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	ep := database.Endpoint{
		ProviderID:  providerID,
		Method:      strings.ToUpper(in.Method),
		Path:        "/" + strings.TrimPrefix(in.Path, "/"),
		Description: in.Description,
		Active:      true,
		SortOrder:   in.SortOrder,
	}
	if in.Active != nil {
		ep.Active = *in.Active
	}

	if err := database.DB.Create(&ep).Error; err != nil {
		writeError(w, http.StatusConflict, "endpoint (method, path) already registered for this provider")
		return
	}
	writeJSON(w, http.StatusCreated, ep)
}

func UpdateEndpoint(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid endpoint id")
		return
	}

	var ep database.Endpoint
	if err := database.DB.First(&ep, id).Error; err != nil {
		writeError(w, http.StatusNotFound, "endpoint not found")
		return
	}

	var in endpointInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := in.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	updates := map[string]any{
		"method":      strings.ToUpper(in.Method),
		"path":        "/" + strings.TrimPrefix(in.Path, "/"),
		"description": in.Description,
		"sort_order":  in.SortOrder,
	}
	if in.Active != nil {
		updates["active"] = *in.Active
	}

	if err := database.DB.Model(&ep).Updates(updates).Error; err != nil {
		writeError(w, http.StatusConflict, "failed to update endpoint")
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

func DeleteEndpoint(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid endpoint id")
		return
	}
	result := database.DB.Delete(&database.Endpoint{}, id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) || result.RowsAffected == 0 {
		writeError(w, http.StatusNotFound, "endpoint not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
