// Package queries maps stored parameterized queries to callable endpoints.
// Execution goes through the connection broker; results are optionally
// cached per (query id, parameter set) with the query's configured TTL.
package queries

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/herihandoko/apimanager-new-sub000/internal/broker"
	"github.com/herihandoko/apimanager-new-sub000/internal/calllog"
	"github.com/herihandoko/apimanager-new-sub000/internal/database"
	"github.com/herihandoko/apimanager-new-sub000/internal/fault"
)

// Engine executes dynamic queries and owns their result cache.
type Engine struct {
	broker *broker.Broker
	cache  *resultCache
}

func NewEngine(b *broker.Broker) *Engine {
	return &Engine{broker: b, cache: newResultCache()}
}

// Result is the outcome of one dynamic query execution.
type Result struct {
	Cached     bool  `json:"cached"`
	Data       any   `json:"data"`
	RowCount   int   `json:"row_count"`
	DurationMs int64 `json:"duration_ms"`
}

// Execute runs the stored query with positional parameters, honoring the
// per-query result cache. Exactly one call record is written per invocation,
// cached hits included.
func (e *Engine) Execute(ctx context.Context, requestID string, id uint, params []any) (*Result, error) {
	q, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if !q.Active {
		return nil, fault.New(fault.Inactive, "query %d is disabled", id)
	}

	if err := validateParams(q, params); err != nil {
		return nil, err
	}

	start := time.Now()

	var key string
	if q.CacheEnabled {
		key = cacheKey(q.ID, params)
		if entry, ok := e.cache.get(key); ok {
			res := &Result{Cached: true, Data: entry.data, RowCount: entry.rowCount, DurationMs: time.Since(start).Milliseconds()}
			calllog.Query(requestID, q.ID, q.Method, q.Path, http.StatusOK, true, true, time.Since(start), entry.rowCount, entry.size, "")
			return res, nil
		}
	}

	qr, err := e.broker.ExecuteQuery(ctx, requestID, q.ConnectionID, q.SQLText, params)
	duration := time.Since(start)
	if err != nil {
		f := fault.As(err)
		calllog.Query(requestID, q.ID, q.Method, q.Path, f.HTTPStatus(), false, false, duration, 0, 0, f.Message)
		return nil, err
	}

	data, rowCount := shape(q.ResponseShape, qr)
	size := payloadSize(data)

	calllog.Query(requestID, q.ID, q.Method, q.Path, http.StatusOK, true, false, duration, rowCount, size, "")

	if q.CacheEnabled {
		ttl := time.Duration(q.CacheTTLSeconds) * time.Second
		if ttl <= 0 {
			ttl = time.Minute
		}
		e.cache.put(key, &cacheEntry{data: data, rowCount: rowCount, size: size, expiresAt: time.Now().Add(ttl)})
	}

	return &Result{Cached: false, Data: data, RowCount: rowCount, DurationMs: duration.Milliseconds()}, nil
}

// TestDefinition runs the stored query with no parameters purely to validate
// it. The result is never cached and a failure is not fatal to the caller:
// the administrative layer persists the definition either way.
func (e *Engine) TestDefinition(ctx context.Context, requestID string, id uint) (*Result, error) {
	q, err := e.load(id)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	qr, err := e.broker.ExecuteQuery(ctx, requestID, q.ConnectionID, q.SQLText, nil)
	duration := time.Since(start)
	if err != nil {
		f := fault.As(err)
		calllog.Query(requestID, q.ID, q.Method, q.Path, f.HTTPStatus(), false, false, duration, 0, 0, f.Message)
		return nil, err
	}

	data, rowCount := shape(q.ResponseShape, qr)
	calllog.Query(requestID, q.ID, q.Method, q.Path, http.StatusOK, true, false, duration, rowCount, payloadSize(data), "")

	return &Result{Cached: false, Data: data, RowCount: rowCount, DurationMs: duration.Milliseconds()}, nil
}

// Invalidate evicts every cached result for a query. Must be called whenever
// the definition is edited or deleted, so a changed query never serves the
// old query's results.
func (e *Engine) Invalidate(queryID uint) {
	e.cache.invalidateQuery(queryID)
}

// Sweep evicts expired result cache entries. Wired to the cron schedule.
func (e *Engine) Sweep() {
	e.cache.sweep()
}

func (e *Engine) load(id uint) (*database.DynamicQuery, error) {
	q, err := database.GetDynamicQuery(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fault.New(fault.NotFound, "query %d not found", id)
		}
		return nil, fmt.Errorf("load query %d: %w", id, err)
	}
	return q, nil
}

func validateParams(q *database.DynamicQuery, params []any) error {
	var names []string
	if q.ParamNames != "" {
		if err := json.Unmarshal([]byte(q.ParamNames), &names); err != nil {
			return fault.Wrap(fault.Validation, err, "query %d has a malformed parameter list", q.ID)
		}
	}
	if len(params) != len(names) {
		return fault.New(fault.Validation, "query %d expects %d parameter(s), got %d", q.ID, len(names), len(params))
	}
	return nil
}

// shape renders the broker result per the query's declared response shape.
func shape(responseShape string, qr *broker.QueryResult) (any, int) {
	switch responseShape {
	case "single":
		if len(qr.Rows) > 0 {
			return qr.Rows[0], len(qr.Rows)
		}
		return nil, 0
	case "scalar":
		if len(qr.Rows) > 0 && len(qr.Columns) > 0 {
			return qr.Rows[0][qr.Columns[0]], len(qr.Rows)
		}
		return nil, 0
	default: // rows
		if qr.Rows != nil {
			return qr.Rows, len(qr.Rows)
		}
		return map[string]any{"rows_affected": qr.RowsAffected}, 0
	}
}

func payloadSize(data any) int64 {
	b, err := json.Marshal(data)
	if err != nil {
		return 0
	}
	return int64(len(b))
}
