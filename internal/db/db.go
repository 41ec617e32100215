// Package db records wigglebot sessions in SQLite: every published pose
// and every motor program, keyed by a per-run session ID.
package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the database at path and applies any
// pending migrations.
func Open(path string) (*DB, error) {
	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(ON)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	db := &DB{DB: sqlDB, path: path}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	diagf("opened %s", path)
	return db, nil
}

// Path is the file the database was opened from.
func (db *DB) Path() string { return db.path }
