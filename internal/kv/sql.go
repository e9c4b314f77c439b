package kv

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

type dialect struct {
	name      string
	schema    string
	load      string
	upsertAny string
	insertNew string
	updateIf  string
	put       string
	delete    string
}

var postgresDialect = dialect{
	name: "postgres",
	schema: `CREATE TABLE IF NOT EXISTS kv_entries (
	key TEXT PRIMARY KEY,
	value JSONB NOT NULL,
	version BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	load: `SELECT value::text, version FROM kv_entries WHERE key = $1`,
	upsertAny: `INSERT INTO kv_entries (key, value, version, updated_at)
VALUES ($1, $2::jsonb, 1, now())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, version = kv_entries.version + 1, updated_at = now()
RETURNING version`,
	insertNew: `INSERT INTO kv_entries (key, value, version, updated_at)
VALUES ($1, $2::jsonb, 1, now())
ON CONFLICT (key) DO NOTHING
RETURNING version`,
	updateIf: `UPDATE kv_entries SET value = $2::jsonb, version = version + 1, updated_at = now()
WHERE key = $1 AND version = $3
RETURNING version`,
	put: `INSERT INTO kv_entries (key, value, version, updated_at)
VALUES ($1, $2::jsonb, $3, now())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, version = EXCLUDED.version, updated_at = now()`,
	delete: `DELETE FROM kv_entries WHERE key = $1`,
}

var sqliteDialect = dialect{
	name: "sqlite",
	schema: `CREATE TABLE IF NOT EXISTS kv_entries (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	version INTEGER NOT NULL,
	updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
)`,
	load: `SELECT value, version FROM kv_entries WHERE key = ?`,
	upsertAny: `INSERT INTO kv_entries (key, value, version, updated_at)
VALUES (?, ?, 1, CURRENT_TIMESTAMP)
ON CONFLICT (key) DO UPDATE SET value = excluded.value, version = kv_entries.version + 1, updated_at = CURRENT_TIMESTAMP
RETURNING version`,
	insertNew: `INSERT INTO kv_entries (key, value, version, updated_at)
VALUES (?, ?, 1, CURRENT_TIMESTAMP)
ON CONFLICT (key) DO NOTHING
RETURNING version`,
	updateIf: `UPDATE kv_entries SET value = ?2, version = version + 1, updated_at = CURRENT_TIMESTAMP
WHERE key = ?1 AND version = ?3
RETURNING version`,
	put: `INSERT INTO kv_entries (key, value, version, updated_at)
VALUES (?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT (key) DO UPDATE SET value = excluded.value, version = excluded.version, updated_at = CURRENT_TIMESTAMP`,
	delete: `DELETE FROM kv_entries WHERE key = ?`,
}

// SQLStore keeps entries in the kv_entries table of a Postgres or SQLite
// database.
type SQLStore struct {
	db *sql.DB
	d  dialect
}

// NewPostgres wraps a database opened with db.OpenPostgres.
func NewPostgres(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, d: postgresDialect}
}

// NewSQLite wraps a database opened with db.OpenSQLite.
func NewSQLite(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, d: sqliteDialect}
}

func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.d.schema); err != nil {
		return fmt.Errorf("create %s kv schema: %w", s.d.name, err)
	}
	return nil
}

func (s *SQLStore) Load(ctx context.Context, key string) (Entry, bool, error) {
	var (
		value   string
		version int64
	)
	err := s.db.QueryRowContext(ctx, s.d.load, key).Scan(&value, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("query %s kv entry: %w", s.d.name, err)
	}
	return Entry{Value: json.RawMessage(value), Version: version}, true, nil
}

func (s *SQLStore) Store(ctx context.Context, key string, value json.RawMessage, expected int64) (int64, error) {
	var (
		row *sql.Row
		out int64
	)
	switch {
	case expected == AnyVersion:
		row = s.db.QueryRowContext(ctx, s.d.upsertAny, key, string(value))
	case expected == 0:
		row = s.db.QueryRowContext(ctx, s.d.insertNew, key, string(value))
	default:
		row = s.db.QueryRowContext(ctx, s.d.updateIf, key, string(value), expected)
	}
	if err := row.Scan(&out); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrConflict
		}
		return 0, fmt.Errorf("write %s kv entry: %w", s.d.name, err)
	}
	return out, nil
}

func (s *SQLStore) Put(ctx context.Context, key string, e Entry) error {
	if _, err := s.db.ExecContext(ctx, s.d.put, key, string(e.Value), e.Version); err != nil {
		return fmt.Errorf("mirror %s kv entry: %w", s.d.name, err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.d.delete, key); err != nil {
		return fmt.Errorf("delete %s kv entry: %w", s.d.name, err)
	}
	return nil
}
