// Package storage persists assets and out-of-band operations in SQLite.
// All mutation of operation status goes through conditional updates so that
// concurrent device polls, device updates and reaper sweeps resolve races at
// the database rather than with in-process locks.
package storage

import (
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const (
	assetsTable     = "oob_assets"
	operationsTable = "oob_operations"
)

// Store wraps the SQLite database holding asset and operation rows.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite database failed")
	}
	if err := configureSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func configureSQLite(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=MEMORY;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return errors.Wrapf(err, "execute sqlite pragma %s failed", stmt)
		}
	}
	db.SetMaxOpenConns(1)
	return nil
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + assetsTable + ` (
			tenant_id   TEXT NOT NULL,
			asset_id    TEXT NOT NULL,
			boot_id     TEXT,
			last_active TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			secret_hash TEXT NOT NULL,
			PRIMARY KEY (tenant_id, asset_id)
		);`,
		`CREATE TABLE IF NOT EXISTS ` + operationsTable + ` (
			id                 BLOB PRIMARY KEY,
			tenant_id          TEXT NOT NULL,
			asset_id           TEXT NOT NULL,
			name               TEXT NOT NULL,
			status             TEXT NOT NULL,
			tries              INTEGER NOT NULL DEFAULT 0,
			additional_details TEXT,
			parameters         TEXT,
			progress           TEXT,
			upload_token       TEXT,
			FOREIGN KEY (tenant_id, asset_id)
				REFERENCES ` + assetsTable + ` (tenant_id, asset_id)
				ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_operations_asset
			ON ` + operationsTable + ` (tenant_id, asset_id, status);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return errors.Wrap(err, "ensure schema failed")
		}
	}
	return nil
}

func nullableString(val string) sql.NullString {
	if val == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: val, Valid: true}
}

func marshalJSONColumn(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, errors.Wrap(err, "marshal json column failed")
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}
