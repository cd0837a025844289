package cacheindex

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	ierrors "github.com/FocuswithJustin/imagepipe/core/errors"
)

func TestJSONStore_ReadMissing(t *testing.T) {
	entries, err := NewJSONStore(filepath.Join(t.TempDir(), "nope", ".cache.json")).Read()
	if err != nil || entries != nil {
		t.Errorf("Read = (%v, %v), want (nil, nil)", entries, err)
	}
}

func TestJSONStore_WriteShape(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "assets", ".cache")
	s := NewJSONStore(SidecarPath(dir))

	if err := s.Write([]Entry{{FileName: "a.png", ContentHash: "H1"}}); err != nil {
		t.Fatalf("Write error: %v", err)
	}

	data, err := os.ReadFile(SidecarPath(dir))
	if err != nil {
		t.Fatalf("read sidecar: %v", err)
	}
	for _, want := range []string{`"entries"`, `"fileName": "a.png"`, `"contentHash": "H1"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("sidecar %s missing %s", data, want)
		}
	}

	leftovers, _ := filepath.Glob(filepath.Join(dir, ".cache-*.json"))
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

func TestJSONStore_WriteEmptyIsEmptyArray(t *testing.T) {
	path := SidecarPath(t.TempDir())
	if err := NewJSONStore(path).Write(nil); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), `"entries": []`) {
		t.Errorf("sidecar = %s, want empty entries array", data)
	}
}

func TestJSONStore_ReadAcceptsWhatItWrites(t *testing.T) {
	s := NewJSONStore(SidecarPath(t.TempDir()))
	in := []Entry{{FileName: "a.png", ContentHash: "1"}, {FileName: "cats/b.jpg", ContentHash: "2"}}
	if err := s.Write(in); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	out, err := s.Read()
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("Read = %+v, want %+v", out, in)
	}
}

func TestJSONStore_ReadRejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"malformed", `{"entries": [`},
		{"unknown key", `{"entries": [], "version": 2}`},
		{"unknown entry key", `{"entries": [{"fileName": "a.png", "contentHash": "x", "size": 1}]}`},
		{"missing file name", `{"entries": [{"contentHash": "x"}]}`},
		{"wrong type", `{"entries": {"a.png": "x"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), ".cache.json")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			_, err := NewJSONStore(path).Read()
			var perr *ierrors.ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("Read error = %v, want *ParseError", err)
			}
			if perr.Path != path {
				t.Errorf("ParseError.Path = %q, want %q", perr.Path, path)
			}
		})
	}
}

func TestJSONStore_ReadUnreadable(t *testing.T) {
	// A directory where the file should be cannot be read.
	path := t.TempDir()
	_, err := NewJSONStore(path).Read()
	var ioErr *ierrors.IOError
	if !errors.As(err, &ioErr) {
		t.Errorf("Read error = %v, want *IOError", err)
	}
}

func TestJSONStore_WriteRenameError(t *testing.T) {
	orig := osRename
	defer func() { osRename = orig }()
	osRename = func(string, string) error { return errors.New("rename failed") }

	dir := t.TempDir()
	path := SidecarPath(dir)
	if err := os.WriteFile(path, []byte(`{"entries":[]}`), 0644); err != nil {
		t.Fatal(err)
	}

	err := NewJSONStore(path).Write([]Entry{{FileName: "a.png", ContentHash: "H"}})
	if err == nil {
		t.Fatal("expected error from rename")
	}

	data, _ := os.ReadFile(path)
	if string(data) != `{"entries":[]}` {
		t.Errorf("previous sidecar was modified: %s", data)
	}
	leftovers, _ := filepath.Glob(filepath.Join(dir, ".cache-*.json"))
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

func TestJSONStore_WriteErrors(t *testing.T) {
	t.Run("write", func(t *testing.T) {
		orig := tempFileWrite
		defer func() { tempFileWrite = orig }()
		tempFileWrite = func(*os.File, []byte) (int, error) { return 0, errors.New("disk full") }

		if err := NewJSONStore(SidecarPath(t.TempDir())).Write(nil); err == nil {
			t.Error("expected write error")
		}
	})

	t.Run("close", func(t *testing.T) {
		orig := tempFileClose
		defer func() { tempFileClose = orig }()
		tempFileClose = func(c io.Closer) error {
			c.Close()
			return errors.New("close failed")
		}

		if err := NewJSONStore(SidecarPath(t.TempDir())).Write(nil); err == nil {
			t.Error("expected close error")
		}
	})

	t.Run("directory", func(t *testing.T) {
		blocker := filepath.Join(t.TempDir(), "file")
		if err := os.WriteFile(blocker, nil, 0644); err != nil {
			t.Fatal(err)
		}
		if err := NewJSONStore(filepath.Join(blocker, ".cache.json")).Write(nil); err == nil {
			t.Error("expected error when parent is a file")
		}
	})
}
