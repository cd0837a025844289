package cacheindex

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"testing"

	"github.com/ulikunitz/xz"
)

func TestSnapshot_RoundTrip(t *testing.T) {
	in := []Entry{
		{FileName: "a.png", ContentHash: "1B2M2Y8AsgTpgAmY7PhCfg"},
		{FileName: "cats/image.jpg", ContentHash: "-_8"},
	}

	var buf bytes.Buffer
	if err := ExportSnapshot(&buf, in); err != nil {
		t.Fatalf("ExportSnapshot error: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}) {
		t.Errorf("snapshot is not an xz stream")
	}

	out, err := ImportSnapshot(&buf)
	if err != nil {
		t.Fatalf("ImportSnapshot error: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("ImportSnapshot = %+v, want %+v", out, in)
	}
}

func TestImportSnapshot_NotXZ(t *testing.T) {
	if _, err := ImportSnapshot(bytes.NewReader([]byte(`{"entries":[]}`))); err == nil {
		t.Error("expected error for uncompressed input")
	}
}

func TestImportSnapshot_RejectsUnknownKeys(t *testing.T) {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]byte(`{"entries":[],"extra":true}`))
	w.Close()

	if _, err := ImportSnapshot(&buf); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestExportSnapshot_WriterError(t *testing.T) {
	orig := xzNewWriter
	defer func() { xzNewWriter = orig }()
	xzNewWriter = func(io.Writer) (*xz.Writer, error) { return nil, errors.New("no writer") }

	if err := ExportSnapshot(io.Discard, nil); err == nil {
		t.Error("expected error from writer constructor")
	}
}
