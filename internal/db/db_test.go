package db

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestOpen_CreatesStateFile(t *testing.T) {
	dir := t.TempDir()
	database, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer database.Close()

	if database.BaseDir() != dir {
		t.Errorf("BaseDir = %q, want %q", database.BaseDir(), dir)
	}
	v, err := database.GetSchemaVersion()
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if v != SchemaVersion {
		t.Errorf("schema version = %d, want %d", v, SchemaVersion)
	}
	if _, err := os.Stat(filepath.Join(dir, stateDir, dbFile)); err != nil {
		t.Fatalf("state file: %v", err)
	}
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	database, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := database.Put(CacheKey("oil"), []byte(`{"data":[]}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	database.Close()

	database, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer database.Close()
	got, err := database.Get(CacheKey("oil"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != `{"data":[]}` {
		t.Errorf("got %q after reopen", got)
	}
}

func TestGetPutDelete(t *testing.T) {
	database := openTestDB(t)

	got, err := database.Get("missing")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if got != nil {
		t.Errorf("missing key = %q, want nil", got)
	}

	if err := database.Put("k", []byte("v1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := database.Put("k", []byte("v2")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, _ = database.Get("k")
	if string(got) != "v2" {
		t.Errorf("get = %q, want v2", got)
	}

	if err := database.Delete("k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := database.Delete("k"); err != nil {
		t.Fatalf("delete twice: %v", err)
	}
	got, _ = database.Get("k")
	if got != nil {
		t.Errorf("deleted key = %q, want nil", got)
	}
}

func TestKeys_PrefixIsLiteral(t *testing.T) {
	database := openTestDB(t)
	for _, k := range []string{"cache_oil", "cache_pesticide", "cacheXoil", "pending_oil"} {
		if err := database.Put(k, []byte("x")); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}

	keys, err := database.Keys("cache_")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "cache_oil" || keys[1] != "cache_pesticide" {
		t.Errorf("keys = %v, want [cache_oil cache_pesticide]", keys)
	}
}

func TestClearTables(t *testing.T) {
	database := openTestDB(t)
	for _, k := range []string{CacheKey("oil"), QueueKey("oil"), CacheKey("pathogen"), "sync_state"} {
		if err := database.Put(k, []byte("x")); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}

	n, err := database.ClearTables([]string{"oil", "pathogen"})
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n != 3 {
		t.Errorf("removed = %d, want 3", n)
	}
	if got, _ := database.Get("sync_state"); got == nil {
		t.Error("sync_state should survive ClearTables")
	}
}

func TestSyncState_PauseAndReconcile(t *testing.T) {
	database := openTestDB(t)

	if database.IsPaused() {
		t.Fatal("fresh db should not be paused")
	}
	if err := database.SetPaused(true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if !database.IsPaused() {
		t.Fatal("expected paused")
	}

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := database.MarkReconciled("oil", at); err != nil {
		t.Fatalf("mark reconciled: %v", err)
	}
	state, err := database.GetSyncState()
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if !state.Paused {
		t.Error("MarkReconciled should not reset pause flag")
	}
	if !state.LastReconcileAt["oil"].Equal(at) {
		t.Errorf("last reconcile = %v, want %v", state.LastReconcileAt["oil"], at)
	}

	if err := database.SetPaused(false); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if database.IsPaused() {
		t.Fatal("expected resumed")
	}
}
