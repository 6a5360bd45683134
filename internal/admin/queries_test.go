package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/herihandoko/apimanager-new-sub000/internal/database"
)

// createTargetConnection stores a connection config over a seeded file-backed
// SQLite database.
func createTargetConnection(t *testing.T) *database.DatabaseConnection {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "target.db")
	target, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open target db: %v", err)
	}
	if err := target.Exec("CREATE TABLE pets (id INTEGER PRIMARY KEY, name TEXT)").Error; err != nil {
		t.Fatalf("seed target db: %v", err)
	}
	if sqlDB, err := target.DB(); err == nil {
		sqlDB.Close()
	}

	conn := database.DatabaseConnection{Name: "target", Driver: "sqlite", DBName: dbPath, Active: true}
	if err := database.DB.Create(&conn).Error; err != nil {
		t.Fatalf("create connection config: %v", err)
	}
	return &conn
}

func TestCreateQueryRunsLiveTest(t *testing.T) {
	setupTestDB(t)
	conn := createTargetConnection(t)

	rec := httptest.NewRecorder()
	CreateQuery(rec, newChiRequest(http.MethodPost, "/admin/queries", nil, map[string]any{
		"connection_id": conn.ID, "name": "pets", "sql_text": "SELECT * FROM pets",
		"method": "get", "path": "pets",
	}))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	test, ok := out["test"].(map[string]any)
	if !ok || test["tested"] != true || test["ok"] != true {
		t.Errorf("test outcome = %v, want a passing live test", out["test"])
	}

	var q database.DynamicQuery
	database.DB.First(&q)
	if q.Method != "GET" {
		t.Errorf("method = %q, want upper-cased", q.Method)
	}
	if q.Path != "/pets" {
		t.Errorf("path = %q, want normalized", q.Path)
	}
	if q.ResponseShape != "rows" {
		t.Errorf("response shape = %q, want default rows", q.ResponseShape)
	}
	if q.ParamNames != "[]" {
		t.Errorf("param names = %q, want empty list", q.ParamNames)
	}
}

func TestCreateQueryFailingTestStillPersists(t *testing.T) {
	setupTestDB(t)
	conn := createTargetConnection(t)

	rec := httptest.NewRecorder()
	CreateQuery(rec, newChiRequest(http.MethodPost, "/admin/queries", nil, map[string]any{
		"connection_id": conn.ID, "name": "broken", "sql_text": "SELECT * FROM missing_table",
		"method": "GET", "path": "/broken",
	}))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want create to succeed despite the failing test", rec.Code)
	}

	var out map[string]any
	json.Unmarshal(rec.Body.Bytes(), &out)
	test := out["test"].(map[string]any)
	if test["ok"] != false || test["message"] == "" {
		t.Errorf("test outcome = %v, want a reported failure", test)
	}

	var count int64
	database.DB.Model(&database.DynamicQuery{}).Count(&count)
	if count != 1 {
		t.Error("definition must persist even when its live test fails")
	}
}

func TestCreateQueryValidation(t *testing.T) {
	setupTestDB(t)
	conn := createTargetConnection(t)

	tests := []struct {
		name       string
		payload    map[string]any
		wantStatus int
	}{
		{"missing connection", map[string]any{
			"name": "x", "sql_text": "SELECT 1", "method": "GET", "path": "/x",
		}, http.StatusBadRequest},
		{"unknown connection", map[string]any{
			"connection_id": 999, "name": "x", "sql_text": "SELECT 1", "method": "GET", "path": "/x",
		}, http.StatusBadRequest},
		{"bad method", map[string]any{
			"connection_id": conn.ID, "name": "x", "sql_text": "SELECT 1", "method": "DELETE", "path": "/x",
		}, http.StatusBadRequest},
		{"bad shape", map[string]any{
			"connection_id": conn.ID, "name": "x", "sql_text": "SELECT 1", "method": "GET", "path": "/x",
			"response_shape": "csv",
		}, http.StatusBadRequest},
		{"cache without ttl", map[string]any{
			"connection_id": conn.ID, "name": "x", "sql_text": "SELECT 1", "method": "GET", "path": "/x",
			"cache_enabled": true,
		}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			CreateQuery(rec, newChiRequest(http.MethodPost, "/admin/queries", nil, tt.payload))
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestUpdateQueryInvalidatesCachedResults(t *testing.T) {
	setupTestDB(t)
	conn := createTargetConnection(t)

	q := database.DynamicQuery{
		ConnectionID: conn.ID, Name: "cached", SQLText: "SELECT * FROM pets",
		Method: "GET", Path: "/cached", ParamNames: "[]", ResponseShape: "rows",
		CacheEnabled: true, CacheTTLSeconds: 60, Active: true,
	}
	database.DB.Create(&q)

	// Prime the result cache.
	if _, err := QueryEngine.Execute(context.Background(), "req-1", q.ID, nil); err != nil {
		t.Fatalf("prime cache: %v", err)
	}
	res, err := QueryEngine.Execute(context.Background(), "req-2", q.ID, nil)
	if err != nil || !res.Cached {
		t.Fatalf("expected a cache hit, got %+v, %v", res, err)
	}

	rec := httptest.NewRecorder()
	UpdateQuery(rec, newChiRequest(http.MethodPut, "/admin/queries/1", idParam(q.ID), map[string]any{
		"connection_id": conn.ID, "name": "cached", "sql_text": "SELECT name FROM pets",
		"method": "GET", "path": "/cached", "cache_enabled": true, "cache_ttl_seconds": 60,
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", rec.Code, rec.Body.String())
	}

	res, err = QueryEngine.Execute(context.Background(), "req-3", q.ID, nil)
	if err != nil {
		t.Fatalf("Execute after update: %v", err)
	}
	if res.Cached {
		t.Error("updated definition must not serve the old cached result")
	}
}

func TestDeleteQuery(t *testing.T) {
	setupTestDB(t)
	conn := createTargetConnection(t)

	q := database.DynamicQuery{
		ConnectionID: conn.ID, Name: "doomed", SQLText: "SELECT 1",
		Method: "GET", Path: "/doomed", ParamNames: "[]", ResponseShape: "rows", Active: true,
	}
	database.DB.Create(&q)

	rec := httptest.NewRecorder()
	DeleteQuery(rec, newChiRequest(http.MethodDelete, "/admin/queries/1", idParam(q.ID), nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	DeleteQuery(rec, newChiRequest(http.MethodDelete, "/admin/queries/1", idParam(q.ID), nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}
