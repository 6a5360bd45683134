package broker

import (
	"context"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/herihandoko/apimanager-new-sub000/internal/database"
	"github.com/herihandoko/apimanager-new-sub000/internal/fault"
)

// setupTestDB creates a fresh in-memory SQLite database for each test.
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

// createSQLiteConnection stores a connection config pointing at a file-backed
// SQLite database under the test's temp dir.
func createSQLiteConnection(t *testing.T, name string, active bool) *database.DatabaseConnection {
	t.Helper()
	conn := database.DatabaseConnection{
		Name:   name,
		Driver: "sqlite",
		DBName: filepath.Join(t.TempDir(), name+".db"),
		Active: active,
	}
	if err := database.DB.Create(&conn).Error; err != nil {
		t.Fatalf("create connection config: %v", err)
	}
	return &conn
}

func TestGetConnectionCachesHandle(t *testing.T) {
	setupTestDB(t)
	conn := createSQLiteConnection(t, "cached", true)

	b := New(time.Minute)
	defer b.CloseAll()

	first, err := b.GetConnection(context.Background(), conn.ID)
	if err != nil {
		t.Fatalf("first GetConnection: %v", err)
	}
	second, err := b.GetConnection(context.Background(), conn.ID)
	if err != nil {
		t.Fatalf("second GetConnection: %v", err)
	}

	if first != second {
		t.Error("expected the cached handle to be reused")
	}
	if got := b.CachedCount(); got != 1 {
		t.Errorf("cached count = %d, want 1", got)
	}

	// Only the first call actually connected.
	var clogs []database.ConnectionLog
	database.DB.Where("action = ?", "connect").Find(&clogs)
	if len(clogs) != 1 {
		t.Errorf("connect log count = %d, want 1", len(clogs))
	}
}

func TestGetConnectionReopensExpiredHandle(t *testing.T) {
	setupTestDB(t)
	conn := createSQLiteConnection(t, "expiring", true)

	b := New(time.Nanosecond)
	defer b.CloseAll()

	first, err := b.GetConnection(context.Background(), conn.ID)
	if err != nil {
		t.Fatalf("first GetConnection: %v", err)
	}
	time.Sleep(time.Millisecond)

	second, err := b.GetConnection(context.Background(), conn.ID)
	if err != nil {
		t.Fatalf("second GetConnection: %v", err)
	}
	if first == second {
		t.Error("expected the expired handle to be replaced")
	}
}

func TestGetConnectionNotFound(t *testing.T) {
	setupTestDB(t)
	b := New(time.Minute)

	_, err := b.GetConnection(context.Background(), 12345)
	if !fault.IsKind(err, fault.NotFound) {
		t.Errorf("expected NotFound fault, got %v", err)
	}
}

func TestGetConnectionInactive(t *testing.T) {
	setupTestDB(t)
	conn := createSQLiteConnection(t, "paused", false)

	b := New(time.Minute)
	_, err := b.GetConnection(context.Background(), conn.ID)
	if !fault.IsKind(err, fault.Inactive) {
		t.Errorf("expected Inactive fault, got %v", err)
	}
}

func TestGetConnectionUnsupportedDriver(t *testing.T) {
	setupTestDB(t)
	conn := database.DatabaseConnection{Name: "odd", Driver: "oracle", Active: true}
	if err := database.DB.Create(&conn).Error; err != nil {
		t.Fatalf("create connection config: %v", err)
	}

	b := New(time.Minute)
	_, err := b.GetConnection(context.Background(), conn.ID)
	if !fault.IsKind(err, fault.Validation) {
		t.Errorf("expected Validation fault, got %v", err)
	}
}

func TestInvalidateEvictsHandle(t *testing.T) {
	setupTestDB(t)
	conn := createSQLiteConnection(t, "edited", true)

	b := New(time.Minute)
	defer b.CloseAll()

	if _, err := b.GetConnection(context.Background(), conn.ID); err != nil {
		t.Fatalf("GetConnection: %v", err)
	}
	b.Invalidate(conn.ID)
	if got := b.CachedCount(); got != 0 {
		t.Errorf("cached count = %d after invalidate, want 0", got)
	}
}

func TestSweepEvictsExpiredHandles(t *testing.T) {
	setupTestDB(t)
	conn := createSQLiteConnection(t, "sweepable", true)

	b := New(time.Nanosecond)
	if _, err := b.GetConnection(context.Background(), conn.ID); err != nil {
		t.Fatalf("GetConnection: %v", err)
	}
	time.Sleep(time.Millisecond)

	b.Sweep()
	if got := b.CachedCount(); got != 0 {
		t.Errorf("cached count = %d after sweep, want 0", got)
	}
}

func TestExecuteQueryRoundTrip(t *testing.T) {
	setupTestDB(t)
	conn := createSQLiteConnection(t, "exec", true)

	b := New(time.Minute)

	ddl, err := b.ExecuteQuery(context.Background(), "req-1", conn.ID,
		"CREATE TABLE pets (id INTEGER PRIMARY KEY, name TEXT)", nil)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	if ddl.Rows != nil {
		t.Errorf("DDL should not return rows, got %v", ddl.Rows)
	}

	ins, err := b.ExecuteQuery(context.Background(), "req-2", conn.ID,
		"INSERT INTO pets (name) VALUES (?)", []any{"rex"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if ins.RowsAffected != 1 {
		t.Errorf("rows affected = %d, want 1", ins.RowsAffected)
	}

	sel, err := b.ExecuteQuery(context.Background(), "req-3", conn.ID,
		"SELECT id, name FROM pets WHERE name = ?", []any{"rex"})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(sel.Rows) != 1 {
		t.Fatalf("rows = %v, want one", sel.Rows)
	}
	if sel.Rows[0]["name"] != "rex" {
		t.Errorf("row = %v", sel.Rows[0])
	}
	if len(sel.Columns) != 2 {
		t.Errorf("columns = %v", sel.Columns)
	}

	// Execution never populates the cache.
	if got := b.CachedCount(); got != 0 {
		t.Errorf("cached count = %d, want 0 after ExecuteQuery", got)
	}

	// Each execution logs one connect and one query action.
	var clogs []database.ConnectionLog
	database.DB.Where("request_id = ?", "req-3").Find(&clogs)
	if len(clogs) != 2 {
		t.Errorf("connection logs for req-3 = %d, want 2", len(clogs))
	}
}

func TestExecuteQueryBadSQL(t *testing.T) {
	setupTestDB(t)
	conn := createSQLiteConnection(t, "badsql", true)

	b := New(time.Minute)
	_, err := b.ExecuteQuery(context.Background(), "req-x", conn.ID, "SELECT FROM nothing", nil)
	if !fault.IsKind(err, fault.Upstream) {
		t.Errorf("expected Upstream fault, got %v", err)
	}

	var clog database.ConnectionLog
	if err := database.DB.Where("request_id = ? AND action = ? AND status = ?",
		"req-x", "query", "error").First(&clog).Error; err != nil {
		t.Errorf("expected a query error log: %v", err)
	}
}

func TestTestConnection(t *testing.T) {
	setupTestDB(t)

	cfg := &database.DatabaseConnection{
		Driver: "sqlite",
		DBName: filepath.Join(t.TempDir(), "probe.db"),
		Active: true,
	}
	b := New(time.Minute)
	if err := b.TestConnection(context.Background(), cfg); err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
	if got := b.CachedCount(); got != 0 {
		t.Errorf("cached count = %d, want 0 after a test probe", got)
	}
}

func TestTestConnectionUnsupportedDriver(t *testing.T) {
	setupTestDB(t)

	b := New(time.Minute)
	err := b.TestConnection(context.Background(), &database.DatabaseConnection{Driver: "mongodb"})
	if !fault.IsKind(err, fault.Validation) {
		t.Errorf("expected Validation fault, got %v", err)
	}
}

func TestReturnsRows(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"SELECT * FROM t", true},
		{"  select 1", true},
		{"WITH x AS (SELECT 1) SELECT * FROM x", true},
		{"EXPLAIN SELECT 1", true},
		{"PRAGMA table_info(t)", true},
		{"INSERT INTO t VALUES (1)", false},
		{"UPDATE t SET a = 1", false},
		{"DELETE FROM t", false},
		{"CREATE TABLE t (a)", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := returnsRows(tt.query); got != tt.want {
			t.Errorf("returnsRows(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}
}

func TestGetConnectionConcurrentMissesShareOneConnect(t *testing.T) {
	setupTestDB(t)
	conn := createSQLiteConnection(t, "contended", true)

	b := New(time.Minute)
	defer b.CloseAll()

	const callers = 20
	handles := make([]*gorm.DB, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			handles[i], errs[i] = b.GetConnection(context.Background(), conn.ID)
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if handles[i] == nil {
			t.Fatalf("caller %d got a nil handle", i)
		}
	}
	if got := b.CachedCount(); got != 1 {
		t.Errorf("cached count = %d, want 1", got)
	}

	// The misses shared one flight and any straggler that raced past it
	// finds the populated entry in the in-flight re-check, so exactly one
	// connect happened.
	var clogs []database.ConnectionLog
	database.DB.Where("action = ?", "connect").Find(&clogs)
	if len(clogs) != 1 {
		t.Errorf("connect log count = %d, want 1", len(clogs))
	}
}

func TestTestConnectionStalledServer(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out the connection setup deadline")
	}
	setupTestDB(t)

	// A listener that accepts and then says nothing simulates a database
	// endpoint that is reachable over TCP but never completes a handshake.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			defer c.Close()
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	cfg := &database.DatabaseConnection{
		Name:     "stalled",
		Driver:   "mysql",
		Host:     "127.0.0.1",
		Port:     port,
		DBName:   "db",
		Username: "u",
		Active:   true,
	}

	b := New(time.Minute)
	defer b.CloseAll()

	done := make(chan error, 1)
	go func() { done <- b.TestConnection(context.Background(), cfg) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected the stalled server to fail the probe")
		}
		f := fault.As(err)
		if f.Kind != fault.Timeout {
			t.Errorf("fault kind = %v, want Timeout", f.Kind)
		}
	case <-time.After(setupTimeout + 5*time.Second):
		t.Fatalf("TestConnection still blocked after %s", setupTimeout+5*time.Second)
	}
}
