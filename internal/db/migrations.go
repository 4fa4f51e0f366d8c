package db

import (
	"database/sql"
	"fmt"
)

// migration upgrades the schema to Version.
type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations run in order; each entry brings the schema to its Version.
var migrations = []migration{
	{Version: 1, Description: "key/value state table", SQL: schema},
}

// GetSchemaVersion returns the current schema version from the database
func (db *DB) GetSchemaVersion() (int, error) {
	var version string
	err := db.conn.QueryRow("SELECT value FROM schema_info WHERE key = 'version'").Scan(&version)
	if err == sql.ErrNoRows {
		// No version set, assume version 0 (pre-migration)
		return 0, nil
	}
	if err != nil {
		// Table might not exist yet
		return 0, nil
	}
	var v int
	fmt.Sscanf(version, "%d", &v)
	return v, nil
}

// runMigrations applies every migration newer than the stored version.
func (db *DB) runMigrations() error {
	current, err := db.GetSchemaVersion()
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if _, err := db.conn.Exec(m.SQL); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := db.conn.Exec(`INSERT OR REPLACE INTO schema_info (key, value) VALUES ('version', ?)`,
			fmt.Sprintf("%d", m.Version)); err != nil {
			return fmt.Errorf("set schema version %d: %w", m.Version, err)
		}
	}
	return nil
}
