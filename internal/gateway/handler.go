package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/herihandoko/apimanager-new-sub000/internal/broker"
	"github.com/herihandoko/apimanager-new-sub000/internal/calllog"
	"github.com/herihandoko/apimanager-new-sub000/internal/crypto"
	"github.com/herihandoko/apimanager-new-sub000/internal/database"
	"github.com/herihandoko/apimanager-new-sub000/internal/fault"
	"github.com/herihandoko/apimanager-new-sub000/internal/queries"
)

// Wired from main at startup.
var (
	Broker *broker.Broker
	Engine *queries.Engine
)

// ProxyHandler forwards /proxy/provider/{providerID}/* to the matched
// upstream endpoint. Every attempt, success or failure, produces exactly one
// generic call record and one provider log entry.
func ProxyHandler(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()
	wildcard := "/" + chi.URLParam(r, "*")

	provider, err := resolveProvider(chi.URLParam(r, "providerID"))
	if err != nil {
		writeFault(w, err)
		return
	}

	if !allowRate(fmt.Sprintf("provider:%d", provider.ID), provider.RateLimitPerMinute) {
		writeRateLimited(w)
		return
	}

	endpoint, err := MatchEndpoint(provider.Endpoints, r.Method, wildcard)
	if err != nil {
		writeFault(w, err)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeFault(w, fault.Wrap(fault.Validation, err, "read request body"))
		return
	}

	start := time.Now()
	res, err := Forward(r.Context(), provider, r, wildcard, body)
	if err != nil {
		f := fault.As(err)
		calllog.Provider(requestID, provider.ID, endpoint.ID, r.Method, wildcard,
			f.HTTPStatus(), false, time.Since(start), 0, f.Message)
		writeFault(w, f)
		return
	}

	success := res.StatusCode < http.StatusBadRequest
	calllog.Provider(requestID, provider.ID, endpoint.ID, r.Method, wildcard,
		res.StatusCode, success, res.Duration, int64(len(res.Body)), "")

	respondUpstream(w, res)
}

// DynamicProxyHandler serves /proxy/dynamic/{externalApiID}: a single fixed
// endpoint whose {param} placeholders are substituted from the query string
// (GET) or the JSON body (POST) before forwarding.
func DynamicProxyHandler(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()

	endpointID, err := parseID(chi.URLParam(r, "externalApiID"))
	if err != nil {
		writeFault(w, err)
		return
	}

	var endpoint database.Endpoint
	if err := database.DB.First(&endpoint, endpointID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeFault(w, fault.New(fault.NotFound, "endpoint %d not found", endpointID))
			return
		}
		writeFault(w, err)
		return
	}
	if !endpoint.Active {
		writeFault(w, fault.New(fault.Inactive, "endpoint %d is disabled", endpointID))
		return
	}

	provider, err := loadActiveProvider(endpoint.ProviderID)
	if err != nil {
		writeFault(w, err)
		return
	}

	if !allowRate(fmt.Sprintf("provider:%d", provider.ID), provider.RateLimitPerMinute) {
		writeRateLimited(w)
		return
	}

	values, body, err := substitutionValues(r)
	if err != nil {
		writeFault(w, err)
		return
	}

	path, err := SubstitutePath(endpoint.Path, values)
	if err != nil {
		writeFault(w, err)
		return
	}

	start := time.Now()
	res, err := Forward(r.Context(), provider, r, path, body)
	if err != nil {
		f := fault.As(err)
		calllog.Provider(requestID, provider.ID, endpoint.ID, r.Method, path,
			f.HTTPStatus(), false, time.Since(start), 0, f.Message)
		writeFault(w, f)
		return
	}

	success := res.StatusCode < http.StatusBadRequest
	calllog.Provider(requestID, provider.ID, endpoint.ID, r.Method, path,
		res.StatusCode, success, res.Duration, int64(len(res.Body)), "")

	respondUpstream(w, res)
}

// ExecuteQueryHandler serves POST /dynamic-queries/{id}/execute. The body
// carries positional parameters: {"params": [...]}.
func ExecuteQueryHandler(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()

	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeFault(w, err)
		return
	}

	var body struct {
		Params []any `json:"params"`
	}
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeFault(w, fault.Wrap(fault.Validation, err, "invalid request body"))
			return
		}
	}

	if q, err := database.GetDynamicQuery(id); err == nil {
		if !allowRate(fmt.Sprintf("query:%d", q.ID), q.RateLimitPerMinute) {
			writeRateLimited(w)
			return
		}
	}

	result, err := Engine.Execute(r.Context(), requestID, id, body.Params)
	if err != nil {
		writeFault(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"cached":      result.Cached,
		"data":        result.Data,
		"row_count":   result.RowCount,
		"duration_ms": result.DurationMs,
	})
}

// TestQueryHandler serves POST /dynamic-queries/{id}/test: it runs the stored
// definition with no parameters. A failing test is reported to the caller but
// is not fatal; the definition stays persisted.
func TestQueryHandler(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()

	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeFault(w, err)
		return
	}

	result, err := Engine.TestDefinition(r.Context(), requestID, id)
	if err != nil {
		f := fault.As(err)
		if f.Kind == fault.NotFound {
			writeFault(w, f)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"message": f.Message,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"data":      result.Data,
		"row_count": result.RowCount,
	})
}

// connectionTestRequest carries either a stored connection id or an inline
// configuration with plaintext credentials.
type connectionTestRequest struct {
	ConnectionID uint `json:"connection_id"`

	Driver   string `json:"driver"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"db_name"`
	Username string `json:"username"`
	Password string `json:"password"`
	UseTLS   bool   `json:"use_tls"`

	UseTunnel     bool   `json:"use_tunnel"`
	SSHHost       string `json:"ssh_host"`
	SSHPort       int    `json:"ssh_port"`
	SSHUser       string `json:"ssh_user"`
	SSHPassword   string `json:"ssh_password"`
	SSHPrivateKey string `json:"ssh_private_key"`
	LocalPort     int    `json:"local_port"`
}

// TestConnectionHandler serves POST /database-connections/test. It validates
// reachability without touching the connection cache; the only side effect
// is logging. The handler responds within the broker's fixed setup deadline.
func TestConnectionHandler(w http.ResponseWriter, r *http.Request) {
	var req connectionTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFault(w, fault.Wrap(fault.Validation, err, "invalid request body"))
		return
	}

	var cfg *database.DatabaseConnection
	if req.ConnectionID != 0 {
		stored, err := database.GetConnection(req.ConnectionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				writeFault(w, fault.New(fault.NotFound, "connection %d not found", req.ConnectionID))
				return
			}
			writeFault(w, err)
			return
		}
		cfg = stored
	} else {
		built, err := req.toConfig()
		if err != nil {
			writeFault(w, err)
			return
		}
		cfg = built
	}

	start := time.Now()
	if err := Broker.TestConnection(r.Context(), cfg); err != nil {
		f := fault.As(err)
		calllog.Connection("", cfg.ID, "connect", "error", time.Since(start), f.Message)
		writeJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"message": f.Message,
		})
		return
	}
	calllog.Connection("", cfg.ID, "connect", "success", time.Since(start), "")

	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"message":     "connection ok",
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

func (req *connectionTestRequest) toConfig() (*database.DatabaseConnection, error) {
	password, err := crypto.Encrypt(req.Password)
	if err != nil {
		return nil, err
	}
	sshPassword, err := crypto.Encrypt(req.SSHPassword)
	if err != nil {
		return nil, err
	}
	sshKey, err := crypto.Encrypt(req.SSHPrivateKey)
	if err != nil {
		return nil, err
	}
	return &database.DatabaseConnection{
		Driver:        req.Driver,
		Host:          req.Host,
		Port:          req.Port,
		DBName:        req.DBName,
		Username:      req.Username,
		Password:      password,
		UseTLS:        req.UseTLS,
		UseTunnel:     req.UseTunnel,
		SSHHost:       req.SSHHost,
		SSHPort:       req.SSHPort,
		SSHUser:       req.SSHUser,
		SSHPassword:   sshPassword,
		SSHPrivateKey: sshKey,
		LocalPort:     req.LocalPort,
		Active:        true,
	}, nil
}

// respondUpstream surfaces a completed upstream exchange. Success bodies are
// wrapped under "data"; upstream error statuses are reused verbatim with the
// upstream body preserved under "error".
func respondUpstream(w http.ResponseWriter, res *UpstreamResult) {
	if res.StatusCode >= http.StatusBadRequest {
		writeJSON(w, res.StatusCode, map[string]any{
			"success": false,
			"message": fmt.Sprintf("upstream returned status %d", res.StatusCode),
			"error":   decodeBody(res.Body),
		})
		return
	}

	writeJSON(w, res.StatusCode, map[string]any{
		"success": true,
		"status":  res.StatusCode,
		"data":    decodeBody(res.Body),
	})
}

// decodeBody keeps JSON upstream bodies structured and falls back to a raw
// string for everything else.
func decodeBody(body []byte) any {
	var v any
	if err := json.Unmarshal(body, &v); err == nil {
		return v
	}
	return string(body)
}

func resolveProvider(idOrName string) (*database.Provider, error) {
	if id, err := strconv.ParseUint(idOrName, 10, 64); err == nil {
		return loadActiveProvider(uint(id))
	}

	p, err := database.GetProviderByName(idOrName)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fault.New(fault.NotFound, "provider %q not found", idOrName)
		}
		return nil, err
	}
	if !p.Active {
		return nil, fault.New(fault.Inactive, "provider %q is disabled", idOrName)
	}
	return p, nil
}

func loadActiveProvider(id uint) (*database.Provider, error) {
	p, err := database.GetProvider(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fault.New(fault.NotFound, "provider %d not found", id)
		}
		return nil, err
	}
	if !p.Active {
		return nil, fault.New(fault.Inactive, "provider %d is disabled", id)
	}
	return p, nil
}

func parseID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fault.New(fault.Validation, "invalid id %q", raw)
	}
	return uint(id), nil
}

// substitutionValues collects placeholder values from the query string (GET)
// or a flat JSON object body (other verbs). The raw body is returned so it
// can still be forwarded verbatim.
func substitutionValues(r *http.Request) (map[string]string, []byte, error) {
	values := make(map[string]string)
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			values[k] = v[0]
		}
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, nil, fault.Wrap(fault.Validation, err, "read request body")
	}

	if len(body) > 0 {
		var fields map[string]any
		if err := json.Unmarshal(body, &fields); err == nil {
			for k, v := range fields {
				values[k] = fmt.Sprintf("%v", v)
			}
		}
	}

	return values, body, nil
}
