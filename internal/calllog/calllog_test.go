package calllog

import (
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/herihandoko/apimanager-new-sub000/internal/database"
)

func setupTestDB(t *testing.T) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	database.DB = db
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func TestProviderWritesBothRecords(t *testing.T) {
	setupTestDB(t)

	Provider("req-1", 3, 5, "GET", "/users/42", 200, true, 120*time.Millisecond, 512, "")

	var call database.CallLog
	if err := database.DB.First(&call).Error; err != nil {
		t.Fatalf("load call log: %v", err)
	}
	if call.TargetType != TargetProvider || call.TargetID != 3 {
		t.Errorf("call log target = %s/%d", call.TargetType, call.TargetID)
	}
	if call.DurationMs != 120 || call.ResponseBytes != 512 || !call.Success {
		t.Errorf("call log = %+v", call)
	}

	var plog database.ProviderLog
	if err := database.DB.First(&plog).Error; err != nil {
		t.Fatalf("load provider log: %v", err)
	}
	if plog.ProviderID != 3 || plog.EndpointID != 5 || plog.RequestID != "req-1" {
		t.Errorf("provider log = %+v", plog)
	}
}

func TestQueryWritesBothRecords(t *testing.T) {
	setupTestDB(t)

	Query("req-2", 9, "GET", "/top", 200, true, true, 3*time.Millisecond, 10, 2048, "")

	var call database.CallLog
	if err := database.DB.First(&call).Error; err != nil {
		t.Fatalf("load call log: %v", err)
	}
	if call.TargetType != TargetQuery || call.TargetID != 9 {
		t.Errorf("call log target = %s/%d", call.TargetType, call.TargetID)
	}

	var qlog database.QueryLog
	if err := database.DB.First(&qlog).Error; err != nil {
		t.Fatalf("load query log: %v", err)
	}
	if !qlog.Cached || qlog.ResultRows != 10 {
		t.Errorf("query log = %+v", qlog)
	}
}

func TestConnectionWritesSingleRecord(t *testing.T) {
	setupTestDB(t)

	Connection("req-3", 4, "connect", "error", 50*time.Millisecond, "dial refused")

	var clogs []database.ConnectionLog
	database.DB.Find(&clogs)
	if len(clogs) != 1 {
		t.Fatalf("connection log count = %d, want 1", len(clogs))
	}
	if clogs[0].Action != "connect" || clogs[0].Status != "error" || clogs[0].Error == "" {
		t.Errorf("connection log = %+v", clogs[0])
	}

	// Connect/query actions are auxiliary detail, never generic call records.
	var count int64
	database.DB.Model(&database.CallLog{}).Count(&count)
	if count != 0 {
		t.Errorf("call log count = %d, want 0", count)
	}
}

func TestPruneOlderThan(t *testing.T) {
	setupTestDB(t)

	old := database.CallLog{TargetType: TargetProvider, TargetID: 1, CreatedAt: time.Now().AddDate(0, 0, -60)}
	if err := database.DB.Create(&old).Error; err != nil {
		t.Fatalf("create old log: %v", err)
	}
	Provider("req-new", 1, 1, "GET", "/", 200, true, time.Millisecond, 0, "")

	PruneOlderThan(time.Now().AddDate(0, 0, -30))

	var calls []database.CallLog
	database.DB.Find(&calls)
	if len(calls) != 1 {
		t.Fatalf("call logs after prune = %d, want 1", len(calls))
	}
	if calls[0].RequestID != "req-new" {
		t.Errorf("surviving log = %+v, want the recent one", calls[0])
	}
}
