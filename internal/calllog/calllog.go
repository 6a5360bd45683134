// Package calllog writes call records. Writes are best-effort: a logging
// failure is reported on the process log and never propagates to the caller,
// so the primary response is never masked by an audit problem.
package calllog

import (
	"log"
	"time"

	"github.com/herihandoko/apimanager-new-sub000/internal/database"
)

const (
	TargetProvider   = "provider"
	TargetConnection = "connection"
	TargetQuery      = "query"
)

// Provider records one forwarded (or failed) provider call: one generic
// CallLog row plus one ProviderLog row.
func Provider(requestID string, providerID, endpointID uint, method, path string, statusCode int, success bool, duration time.Duration, responseBytes int64, errText string) {
	rec := database.CallLog{
		RequestID:     requestID,
		TargetType:    TargetProvider,
		TargetID:      providerID,
		Method:        method,
		Path:          path,
		StatusCode:    statusCode,
		Success:       success,
		DurationMs:    duration.Milliseconds(),
		ResponseBytes: responseBytes,
		Error:         errText,
	}
	if err := database.DB.Create(&rec).Error; err != nil {
		log.Printf("calllog: provider call record failed: %v", err)
	}

	plog := database.ProviderLog{
		ProviderID: providerID,
		EndpointID: endpointID,
		RequestID:  requestID,
		Method:     method,
		Path:       path,
		StatusCode: statusCode,
		DurationMs: duration.Milliseconds(),
		Error:      errText,
	}
	if err := database.DB.Create(&plog).Error; err != nil {
		log.Printf("calllog: provider log failed: %v", err)
	}
}

// Connection records one connect or query action against a managed database
// connection. Action is "connect" or "query"; status is "success" or "error".
func Connection(requestID string, connectionID uint, action, status string, duration time.Duration, errText string) {
	rec := database.ConnectionLog{
		ConnectionID: connectionID,
		RequestID:    requestID,
		Action:       action,
		Status:       status,
		DurationMs:   duration.Milliseconds(),
		Error:        errText,
	}
	if err := database.DB.Create(&rec).Error; err != nil {
		log.Printf("calllog: connection log failed: %v", err)
	}
}

// Query records one dynamic query execution: one generic CallLog row plus one
// QueryLog row.
func Query(requestID string, queryID uint, method, path string, statusCode int, success, cached bool, duration time.Duration, resultRows int, responseBytes int64, errText string) {
	rec := database.CallLog{
		RequestID:     requestID,
		TargetType:    TargetQuery,
		TargetID:      queryID,
		Method:        method,
		Path:          path,
		StatusCode:    statusCode,
		Success:       success,
		DurationMs:    duration.Milliseconds(),
		ResponseBytes: responseBytes,
		Error:         errText,
	}
	if err := database.DB.Create(&rec).Error; err != nil {
		log.Printf("calllog: query call record failed: %v", err)
	}

	qlog := database.QueryLog{
		QueryID:    queryID,
		RequestID:  requestID,
		Cached:     cached,
		Success:    success,
		DurationMs: duration.Milliseconds(),
		ResultRows: resultRows,
		Error:      errText,
	}
	if err := database.DB.Create(&qlog).Error; err != nil {
		log.Printf("calllog: query log failed: %v", err)
	}
}

// PruneOlderThan deletes log rows created before the cutoff. Used by the
// nightly retention job.
func PruneOlderThan(cutoff time.Time) {
	for _, model := range []any{
		&database.CallLog{}, &database.ProviderLog{},
		&database.ConnectionLog{}, &database.QueryLog{},
	} {
		if err := database.DB.Where("created_at < ?", cutoff).Delete(model).Error; err != nil {
			log.Printf("calllog: prune failed: %v", err)
		}
	}
}
