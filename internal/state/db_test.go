package state

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func tempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

// setupTestDB creates a new migrated database for testing.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenSQLite(tempDBPath(t))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func TestOpenSQLite_CreatesParentDirectories(t *testing.T) {
	nested := filepath.Join(t.TempDir(), "a", "b", "c")
	path := filepath.Join(nested, "test.db")

	db, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
	if _, err := os.Stat(nested); os.IsNotExist(err) {
		t.Errorf("parent directories not created: %s", nested)
	}
}

func TestOpenSQLite_InvalidPath(t *testing.T) {
	if _, err := OpenSQLite("/proc/nonexistent/test.db"); err == nil {
		t.Error("expected error opening db at invalid path")
	}
}

func TestClose(t *testing.T) {
	db, err := OpenSQLite(tempDBPath(t))
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if _, err := db.Query(context.Background(), "SELECT 1"); err == nil {
		t.Error("expected error after close, got nil")
	}
}

func TestMigrate(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for _, table := range []string{"schema_version", "missions", "checkpoints", "artifacts"} {
		var count int
		row := db.QueryRow(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table)
		if err := row.Scan(&count); err != nil {
			t.Errorf("failed to check table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s does not exist", table)
		}
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := db.Migrate(ctx); err != nil {
			t.Fatalf("Migrate (iteration %d) failed: %v", i, err)
		}
	}

	var version int
	if err := db.QueryRow(ctx, "SELECT MAX(version) FROM schema_version").Scan(&version); err != nil {
		t.Fatalf("failed to get schema version: %v", err)
	}
	if version != 3 {
		t.Errorf("schema version = %d, want 3", version)
	}
}

func TestTransaction_Rollback(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()

	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO missions (id, prompt, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			"m-1", "p", "running", formatTime(now), formatTime(now)); err != nil {
			return err
		}
		return errors.New("abort")
	})
	if err == nil || err.Error() != "abort" {
		t.Fatalf("Transaction error = %v, want abort", err)
	}

	if _, err := db.GetMission(ctx, "m-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetMission after rollback error = %v, want ErrNotFound", err)
	}
}

func TestFormatAndParseTime(t *testing.T) {
	original := time.Date(2024, 6, 15, 10, 30, 45, 123456789, time.UTC)
	parsed, err := parseTime(formatTime(original))
	if err != nil {
		t.Fatalf("parseTime failed: %v", err)
	}
	if !parsed.Equal(original) {
		t.Errorf("parsed time = %v, want %v", parsed, original)
	}

	early := formatTime(time.Date(2024, 1, 1, 0, 0, 5, 0, time.UTC))
	late := formatTime(time.Date(2024, 1, 1, 0, 0, 5, 100, time.UTC))
	if !(early < late) {
		t.Errorf("formatted times do not sort: %q >= %q", early, late)
	}
}

func TestPurgeMissions(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)

	for _, m := range []Mission{
		{ID: "old-done", Prompt: "a", Status: MissionComplete, CreatedAt: old, UpdatedAt: old},
		{ID: "old-running", Prompt: "b", Status: MissionRunning, CreatedAt: old, UpdatedAt: old},
		{ID: "new-done", Prompt: "c", Status: MissionFailed, CreatedAt: time.Now(), UpdatedAt: time.Now()},
	} {
		m := m
		if err := db.CreateMission(ctx, &m); err != nil {
			t.Fatalf("CreateMission failed: %v", err)
		}
	}
	if err := db.SaveCheckpoint(ctx, &Checkpoint{MissionID: "old-done", Phase: "deploy", Data: []byte(`{}`), CreatedAt: old}); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	n, err := db.PurgeMissions(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("PurgeMissions failed: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d missions, want 1", n)
	}

	var count int
	if err := db.QueryRow(ctx, "SELECT COUNT(*) FROM checkpoints WHERE mission_id = ?", "old-done").Scan(&count); err != nil {
		t.Fatalf("count checkpoints: %v", err)
	}
	if count != 0 {
		t.Errorf("checkpoints survived purge: %d", count)
	}
}

func TestOpen_Drivers(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, DriverSQLite, tempDBPath(t), "")
	if err != nil {
		t.Fatalf("Open(sqlite) failed: %v", err)
	}
	s.Close()

	s, err = Open(ctx, DriverMemory, "", "")
	if err != nil {
		t.Fatalf("Open(memory) failed: %v", err)
	}
	s.Close()

	if _, err := Open(ctx, "mongo", "", ""); err == nil {
		t.Error("expected error for unknown driver")
	}
	if _, err := Open(ctx, DriverPostgres, "", ""); err == nil {
		t.Error("expected error for postgres without dsn")
	}
}
