package storage

import (
	"database/sql"
	"errors"

	"github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS form (
		unicode INTEGER PRIMARY KEY,
		name TEXT,
		default_type INTEGER NOT NULL DEFAULT 0,
		gf0014_id INTEGER,
		component TEXT,
		compound TEXT,
		slice TEXT,
		ambiguous INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS repertoire (
		unicode INTEGER PRIMARY KEY,
		tygf INTEGER NOT NULL DEFAULT 0,
		gb2312 INTEGER NOT NULL DEFAULT 0,
		readings TEXT NOT NULL DEFAULT '[]',
		glyphs TEXT NOT NULL DEFAULT '[]',
		name TEXT,
		gf0014_id INTEGER,
		ambiguous INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS edge (
		referrer_table TEXT NOT NULL,
		referrer_code INTEGER NOT NULL,
		target INTEGER NOT NULL,
		role TEXT NOT NULL,
		PRIMARY KEY (referrer_table, referrer_code, target, role)
	);
	CREATE INDEX IF NOT EXISTS idx_edge_target ON edge(target);
`

// NewSQLiteStorage creates a new SQLite storage backend. SQLite serializes
// writers anyway, so the pool holds a single connection; this also keeps
// ":memory:" databases from splitting across connections.
func NewSQLiteStorage(path string) (*SQLStorage, error) {
	d := dialect{
		driver:      "sqlite3",
		schema:      sqliteSchema,
		isDuplicate: sqliteDuplicate,
	}
	return openSQL(d, path, func(db *sql.DB) {
		db.SetMaxOpenConns(1)
	})
}

func sqliteDuplicate(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || se.ExtendedCode == sqlite3.ErrConstraintUnique
}
