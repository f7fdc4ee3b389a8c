package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/marcus-ai/marcus-core/internal/marcuserr"
)

// SQLStore is the embedded-SQL backend: one generic "rows" table
// holding (collection, key, value JSON, updated_at), grounded on
// internal/db/sqlite.go's Open/migrate/WAL-mode structure. A single
// generic table (rather than one table per Go type) is a deliberate
// departure from the teacher, which hand-writes one table per entity;
// Marcus's Store interface is collection-name-generic by contract
// (spec.md §6), so the schema mirrors that genericity while keeping the
// teacher's migration-ladder mechanism verbatim.
type SQLStore struct {
	db   *sql.DB
	path string
}

type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{1, `CREATE TABLE IF NOT EXISTS rows (
		collection TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (collection, key)
	);`},
	{2, `CREATE INDEX IF NOT EXISTS idx_rows_collection ON rows(collection);`},
	{3, `CREATE INDEX IF NOT EXISTS idx_rows_updated_at ON rows(collection, updated_at);`},
}

// Open creates (or attaches to) a SQLite database at dbPath, enabling
// WAL mode and foreign keys, then runs the migration ladder — the exact
// sequence internal/db/sqlite.go's Open() follows.
func Open(dbPath string) (*SQLStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single-writer discipline, per teacher

	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON;`); err != nil {
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLStore{db: db, path: dbPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY);`); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}
	applied := map[int]bool{}
	rows, err := s.db.Query(`SELECT version FROM schema_migrations;`)
	if err != nil {
		return fmt.Errorf("reading schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("scanning schema_migrations: %w", err)
		}
		applied[v] = true
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration %d: %w", m.version, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_migrations (version) VALUES (?);`, m.version); err != nil {
			return fmt.Errorf("recording migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *SQLStore) Put(ctx context.Context, collection, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshaling %s/%s: %w", collection, key, err)
	}
	var updatedAt string
	var decoded map[string]any
	if json.Unmarshal(data, &decoded) == nil {
		if v, ok := decoded["updated_at"].(string); ok {
			updatedAt = v
		}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rows (collection, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(collection, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at;
	`, collection, key, string(data), updatedAt)
	if err != nil {
		return fmt.Errorf("upserting %s/%s: %w", collection, key, err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, collection, key string, dest any) error {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM rows WHERE collection = ? AND key = ?;`, collection, key).Scan(&value)
	if err == sql.ErrNoRows {
		return marcuserr.New(marcuserr.KindNotFound, fmt.Sprintf("%s/%s", collection, key))
	}
	if err != nil {
		return fmt.Errorf("querying %s/%s: %w", collection, key, err)
	}
	if err := json.Unmarshal([]byte(value), dest); err != nil {
		return fmt.Errorf("decoding %s/%s: %w", collection, key, err)
	}
	return nil
}

func (s *SQLStore) Query(ctx context.Context, collection string, pred Predicate, offset, limit int) ([]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT value FROM rows WHERE collection = ? ORDER BY key;`, collection)
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", collection, err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("scanning collection %s: %w", collection, err)
		}
		var row map[string]any
		if err := json.Unmarshal([]byte(value), &row); err != nil {
			continue
		}
		if pred == nil || pred(row) {
			out = append(out, row)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if offset > 0 {
		if offset >= len(out) {
			return nil, nil
		}
		out = out[offset:]
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *SQLStore) Delete(ctx context.Context, collection, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM rows WHERE collection = ? AND key = ?;`, collection, key)
	if err != nil {
		return fmt.Errorf("deleting %s/%s: %w", collection, key, err)
	}
	return nil
}

func (s *SQLStore) Cleanup(ctx context.Context, collection string, cutoffRFC3339 string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rows WHERE collection = ? AND updated_at <> '' AND updated_at < ?;`, collection, cutoffRFC3339)
	if err != nil {
		return 0, fmt.Errorf("cleaning up collection %s: %w", collection, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

// Path reports the underlying file path, used by diagnose/status output.
func (s *SQLStore) Path() string { return s.path }
