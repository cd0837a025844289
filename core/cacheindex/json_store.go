package cacheindex

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/FocuswithJustin/imagepipe/core/errors"
)

// osRename is a variable to allow testing of rename errors.
var osRename = os.Rename

// tempFileWrite is a function variable for writing to temp files (for testing).
var tempFileWrite = func(f *os.File, data []byte) (int, error) {
	return f.Write(data)
}

// tempFileClose is a function variable for closing temp files (for testing).
var tempFileClose = func(f io.Closer) error {
	return f.Close()
}

// JSONStore keeps the index in a single JSON sidecar file.
type JSONStore struct {
	path string
}

// NewJSONStore returns a store for the sidecar at path.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

// Location returns the sidecar path.
func (s *JSONStore) Location() string {
	return s.path
}

// Read decodes the sidecar. Unknown keys and entries without a file name
// are rejected.
func (s *JSONStore) Read() ([]Entry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewIO("read", s.path, err)
	}
	return decodeDocument(bytes.NewReader(data), "cache index", s.path)
}

// Write replaces the sidecar atomically: the document goes to a temp file in
// the same directory, is synced, then renamed over the old file.
func (s *JSONStore) Write(entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.MarshalIndent(Document{Entries: entries}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode cache index")
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.NewIO("create directory", dir, err)
	}

	tempFile, err := os.CreateTemp(dir, ".cache-*.json")
	if err != nil {
		return errors.NewIO("create temp file in", dir, err)
	}
	tempPath := tempFile.Name()

	if _, err := tempFileWrite(tempFile, data); err != nil {
		tempFileClose(tempFile)
		os.Remove(tempPath)
		return errors.NewIO("write", tempPath, err)
	}

	if err := tempFile.Sync(); err != nil {
		tempFileClose(tempFile)
		os.Remove(tempPath)
		return errors.NewIO("sync", tempPath, err)
	}

	if err := tempFileClose(tempFile); err != nil {
		os.Remove(tempPath)
		return errors.NewIO("close", tempPath, err)
	}

	// Rename to final path (atomic on POSIX)
	if err := osRename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return errors.NewIO("rename", s.path, err)
	}

	return nil
}

func decodeDocument(r io.Reader, format, path string) ([]Entry, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, &errors.ParseError{Format: format, Path: path, Message: err.Error(), Err: err}
	}
	for i, e := range doc.Entries {
		if e.FileName == "" {
			return nil, errors.NewParse(format, path, "entry "+strconv.Itoa(i)+" has no fileName")
		}
	}
	return doc.Entries, nil
}
