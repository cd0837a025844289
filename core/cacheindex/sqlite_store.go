package cacheindex

import (
	"database/sql"
	"os"
	"path/filepath"

	"github.com/FocuswithJustin/imagepipe/core/errors"
	"github.com/FocuswithJustin/imagepipe/internal/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS entries (
	file_name    TEXT PRIMARY KEY,
	content_hash TEXT NOT NULL
)`

// SQLiteStore keeps the index in a local SQLite database.
type SQLiteStore struct {
	path string
}

// NewSQLiteStore returns a store for the database at path.
func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

// Location returns the database path.
func (s *SQLiteStore) Location() string {
	return s.path
}

// Read returns every row of the entries table, ordered by file name.
func (s *SQLiteStore) Read() ([]Entry, error) {
	if _, err := os.Stat(s.path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewIO("stat", s.path, err)
	}

	db, err := sqlite.Open(s.path)
	if err != nil {
		return nil, errors.NewIO("open", s.path, err)
	}
	defer db.Close()

	if _, err := db.Exec(schema); err != nil {
		return nil, &errors.ParseError{Format: "cache database", Path: s.path, Message: err.Error(), Err: err}
	}

	rows, err := db.Query(`SELECT file_name, content_hash FROM entries ORDER BY file_name`)
	if err != nil {
		return nil, &errors.ParseError{Format: "cache database", Path: s.path, Message: err.Error(), Err: err}
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.FileName, &e.ContentHash); err != nil {
			return nil, errors.NewIO("scan", s.path, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewIO("read", s.path, err)
	}
	return out, nil
}

// Write replaces every row in a single transaction.
func (s *SQLiteStore) Write(entries []Entry) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.NewIO("create directory", dir, err)
	}

	db, err := sqlite.Open(s.path)
	if err != nil {
		return errors.NewIO("open", s.path, err)
	}
	defer db.Close()

	if _, err := db.Exec(schema); err != nil {
		return errors.NewIO("create schema in", s.path, err)
	}

	tx, err := db.Begin()
	if err != nil {
		return errors.NewIO("begin transaction on", s.path, err)
	}
	if err := replaceRows(tx, entries); err != nil {
		tx.Rollback()
		return errors.NewIO("write", s.path, err)
	}
	if err := tx.Commit(); err != nil {
		return errors.NewIO("commit", s.path, err)
	}
	return nil
}

func replaceRows(tx *sql.Tx, entries []Entry) error {
	if _, err := tx.Exec(`DELETE FROM entries`); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO entries (file_name, content_hash) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.Exec(e.FileName, e.ContentHash); err != nil {
			return err
		}
	}
	return nil
}
