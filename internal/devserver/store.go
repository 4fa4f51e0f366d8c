package devserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS records (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    tbl TEXT NOT NULL,
    data TEXT NOT NULL,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_tbl_id ON records(tbl, id);
`

// Row is one stored row as served over the wire.
type Row struct {
	ID        int64           `json:"id"`
	CreatedAt string          `json:"created_at"`
	Data      json.RawMessage `json:"data"`
}

// Store keeps the rows of every table in one SQLite table.
type Store struct {
	db *sql.DB
}

// Open opens the store with the given database/sql driver ("sqlite" for
// modernc, "sqlite3" for mattn) and creates the schema.
func Open(driver, dsn string) (*Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// one connection: keeps :memory: databases shared and writes serialized
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping() error {
	return s.db.Ping()
}

// ListQuery selects rows of one table.
type ListQuery struct {
	Table string
	Desc  bool
	Limit int   // 0 means no limit
	ID    int64 // 0 means any
}

// List returns the rows matching q ordered by id.
func (s *Store) List(ctx context.Context, q ListQuery) ([]Row, error) {
	query := `SELECT id, created_at, data FROM records WHERE tbl = ?`
	args := []any{q.Table}
	if q.ID != 0 {
		query += ` AND id = ?`
		args = append(args, q.ID)
	}
	if q.Desc {
		query += ` ORDER BY id DESC`
	} else {
		query += ` ORDER BY id ASC`
	}
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", q.Table, err)
	}
	defer rows.Close()

	out := []Row{}
	for rows.Next() {
		var (
			r    Row
			data string
		)
		if err := rows.Scan(&r.ID, &r.CreatedAt, &data); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		r.Data = json.RawMessage(data)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the number of rows q matches, ignoring its limit.
func (s *Store) Count(ctx context.Context, q ListQuery) (int, error) {
	query := `SELECT COUNT(*) FROM records WHERE tbl = ?`
	args := []any{q.Table}
	if q.ID != 0 {
		query += ` AND id = ?`
		args = append(args, q.ID)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", q.Table, err)
	}
	return n, nil
}

// Insert stores data as a new row and returns it.
func (s *Store) Insert(ctx context.Context, table string, data json.RawMessage) (Row, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO records (tbl, data, created_at) VALUES (?, ?, ?)`, table, string(data), now)
	if err != nil {
		return Row{}, fmt.Errorf("insert %s: %w", table, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Row{}, fmt.Errorf("insert %s: %w", table, err)
	}
	return Row{ID: id, CreatedAt: now, Data: data}, nil
}

// Update replaces the data of row id. It returns the updated rows (none when
// the id does not exist).
func (s *Store) Update(ctx context.Context, table string, id int64, data json.RawMessage) ([]Row, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE records SET data = ? WHERE tbl = ? AND id = ?`, string(data), table, id)
	if err != nil {
		return nil, fmt.Errorf("update %s/%d: %w", table, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return []Row{}, nil
	}
	return s.List(ctx, ListQuery{Table: table, ID: id})
}

// Delete removes row id and returns the removed rows.
func (s *Store) Delete(ctx context.Context, table string, id int64) ([]Row, error) {
	rows, err := s.List(ctx, ListQuery{Table: table, ID: id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return rows, nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE tbl = ? AND id = ?`, table, id); err != nil {
		return nil, fmt.Errorf("delete %s/%d: %w", table, id, err)
	}
	return rows, nil
}
