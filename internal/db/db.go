// Package db is the durable local state store: a SQLite-backed key/value
// table holding one cache snapshot and one request queue per synced table,
// plus a few global settings.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/labsafe/labsync/internal/workdir"
)

const (
	stateDir  = workdir.StateDir
	dbFile    = "state.db"
	cachePre  = "cache_"
	queuePre  = "pending_"
	driverSQL = "sqlite"
)

// CacheKey returns the storage key of a table's cache snapshot.
func CacheKey(table string) string {
	return cachePre + table
}

// QueueKey returns the storage key of a table's pending request queue.
func QueueKey(table string) string {
	return queuePre + table
}

// DB wraps the database connection
type DB struct {
	conn    *sql.DB
	baseDir string
}

// Open opens (creating if needed) the state database under baseDir and runs
// any pending migrations.
func Open(baseDir string) (*DB, error) {
	dbPath := filepath.Join(baseDir, stateDir, dbFile)

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	conn, err := sql.Open(driverSQL, dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for concurrent reads while writes are serialized
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout as fallback protection (matches lock timeout)
	if _, err := conn.Exec("PRAGMA busy_timeout=2000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	// Slightly faster writes, still safe with WAL
	conn.Exec("PRAGMA synchronous=NORMAL")

	db := &DB{conn: conn, baseDir: baseDir}

	if err := db.runMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

// Close closes the database
func (db *DB) Close() error {
	return db.conn.Close()
}

// BaseDir returns the base directory for the database
func (db *DB) BaseDir() string {
	return db.baseDir
}

// WithWriteLock executes fn while holding the cross-process write lock.
// Callers must not nest it: a second acquire from the same process waits
// for the first.
func (db *DB) WithWriteLock(fn func() error) error {
	locker := newWriteLocker(db.baseDir)
	if err := locker.acquire(defaultTimeout); err != nil {
		return err
	}
	defer locker.release()
	return fn()
}

// Get returns the stored value for key, or nil if the key is absent.
func (db *DB) Get(key string) ([]byte, error) {
	var value string
	err := db.conn.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return []byte(value), nil
}

// Put stores value under key, replacing any previous value.
func (db *DB) Put(key string, value []byte) error {
	_, err := db.conn.Exec(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, string(value))
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Missing keys are not an error.
func (db *DB) Delete(key string) error {
	if _, err := db.conn.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Keys lists stored keys starting with prefix, in key order.
func (db *DB) Keys(prefix string) ([]string, error) {
	pattern := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix) + "%"
	rows, err := db.conn.Query(`SELECT key FROM kv WHERE key LIKE ? ESCAPE '\' ORDER BY key`, pattern)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// ClearTables drops the cache and queue keys of every given table under the
// write lock. Returns the number of keys removed.
func (db *DB) ClearTables(tables []string) (int64, error) {
	var removed int64
	err := db.WithWriteLock(func() error {
		for _, t := range tables {
			res, err := db.conn.Exec(`DELETE FROM kv WHERE key IN (?, ?)`, CacheKey(t), QueueKey(t))
			if err != nil {
				return fmt.Errorf("clear %s: %w", t, err)
			}
			n, _ := res.RowsAffected()
			removed += n
		}
		return nil
	})
	return removed, err
}
