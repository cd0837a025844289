package cacheindex

import (
	"path/filepath"
)

// Store persists index entries.
type Store interface {
	// Read returns the persisted entries. A store that does not exist yet
	// yields (nil, nil).
	Read() ([]Entry, error)
	// Write fully replaces the persisted entries.
	Write(entries []Entry) error
	// Location names the backing file.
	Location() string
}

const (
	sidecarName  = ".cache.json"
	databaseName = ".cache.db"
)

// SidecarPath returns the JSON sidecar location inside cacheDir.
func SidecarPath(cacheDir string) string {
	return filepath.Join(cacheDir, sidecarName)
}

// DatabasePath returns the SQLite index location inside cacheDir.
func DatabasePath(cacheDir string) string {
	return filepath.Join(cacheDir, databaseName)
}
