package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestInit(t *testing.T) {
	// Use temp directory for test isolation
	tmpDir := t.TempDir()

	db, err := Init(tmpDir)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer db.Close()

	// Verify database file was created
	dbPath := filepath.Join(tmpDir, FileName)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Errorf("database file not created at %s", dbPath)
	}

	// Verify WAL mode is active
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		t.Fatalf("failed to query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %s, want wal", journalMode)
	}

	// Verify every partition exists
	for _, table := range []string{"action_queue", "content_cache", "knowledge_cache"} {
		var name string
		err = db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Fatalf("%s table not found: %v", table, err)
		}
	}
}

func TestInit_CreatesDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	baseDir := filepath.Join(tmpDir, "nested", "path", ".tilth")

	db, err := Init(baseDir)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(baseDir); os.IsNotExist(err) {
		t.Errorf("base directory not created at %s", baseDir)
	}
}

func TestInit_SchemaVersion(t *testing.T) {
	tmpDir := t.TempDir()

	db, err := Init(tmpDir)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer db.Close()

	version, err := GetUserVersion(db)
	if err != nil {
		t.Fatalf("GetUserVersion() error = %v", err)
	}
	if version != CurrentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, CurrentSchemaVersion)
	}
}

func TestInit_Idempotent(t *testing.T) {
	tmpDir := t.TempDir()
	ctx := context.Background()

	db1, err := Init(tmpDir)
	if err != nil {
		t.Fatalf("first Init() error = %v", err)
	}
	if err := InsertAction(ctx, db1, &QueueRow{Timestamp: 42, Service: "tracker", Method: "addOutcome", Payload: []byte(`{}`)}); err != nil {
		t.Fatalf("InsertAction() error = %v", err)
	}
	if err := PutContent(ctx, db1, "suppliers", []byte(`[]`), 1); err != nil {
		t.Fatalf("PutContent() error = %v", err)
	}
	if err := PutKnowledge(ctx, db1, "q", []byte(`{"question":"q"}`), 1); err != nil {
		t.Fatalf("PutKnowledge() error = %v", err)
	}
	db1.Close()

	// Open twice in a row: nothing recreated or wiped
	for i := 0; i < 2; i++ {
		db2, err := Init(tmpDir)
		if err != nil {
			t.Fatalf("re-Init() error = %v", err)
		}
		n, err := CountActions(ctx, db2)
		if err != nil {
			t.Fatalf("CountActions() error = %v", err)
		}
		if n != 1 {
			t.Errorf("pass %d: CountActions() = %d, want 1", i, n)
		}
		if _, err := GetContent(ctx, db2, "suppliers"); err != nil {
			t.Errorf("pass %d: content entry lost: %v", i, err)
		}
		if _, err := GetKnowledge(ctx, db2, "q"); err != nil {
			t.Errorf("pass %d: knowledge entry lost: %v", i, err)
		}
		db2.Close()
	}
}

func TestMigrate_FromVersion1(t *testing.T) {
	tmpDir := t.TempDir()

	db, err := Init(tmpDir)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	// Simulate a store created before the knowledge cache existed
	if _, err := db.Exec("DROP TABLE knowledge_cache"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if err := SetUserVersion(db, 1); err != nil {
		t.Fatalf("SetUserVersion() error = %v", err)
	}
	if err := InsertAction(context.Background(), db, &QueueRow{Timestamp: 7, Service: "calendar", Method: "updateTaskStatus", Payload: []byte(`{}`)}); err != nil {
		t.Fatalf("InsertAction() error = %v", err)
	}
	db.Close()

	db, err = Init(tmpDir)
	if err != nil {
		t.Fatalf("Init() after downgrade error = %v", err)
	}
	defer db.Close()

	version, _ := GetUserVersion(db)
	if version != 2 {
		t.Errorf("user_version = %d, want 2", version)
	}
	if n, _ := CountActions(context.Background(), db); n != 1 {
		t.Errorf("queued action lost during upgrade, count = %d", n)
	}
	var name string
	if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='knowledge_cache'").Scan(&name); err != nil {
		t.Fatalf("knowledge_cache not recreated: %v", err)
	}
}
