package cacheindex

import (
	"encoding/json"
	"io"

	"github.com/ulikunitz/xz"

	"github.com/FocuswithJustin/imagepipe/core/errors"
)

// Injectable for tests.
var (
	xzNewWriter = xz.NewWriter
	xzNewReader = xz.NewReader
)

// ExportSnapshot writes entries to w as an xz-compressed sidecar document.
func ExportSnapshot(w io.Writer, entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}

	zw, err := xzNewWriter(w)
	if err != nil {
		return errors.Wrap(err, "failed to create xz writer")
	}
	if err := json.NewEncoder(zw).Encode(Document{Entries: entries}); err != nil {
		zw.Close()
		return errors.Wrap(err, "failed to encode snapshot")
	}
	if err := zw.Close(); err != nil {
		return errors.Wrap(err, "failed to finish xz stream")
	}
	return nil
}

// ImportSnapshot reads a snapshot written by ExportSnapshot.
func ImportSnapshot(r io.Reader) ([]Entry, error) {
	zr, err := xzNewReader(r)
	if err != nil {
		return nil, &errors.ParseError{Format: "index snapshot", Message: err.Error(), Err: err}
	}
	return decodeDocument(zr, "index snapshot", "")
}
