package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestNotFoundError(t *testing.T) {
	tests := []struct {
		name     string
		err      *NotFoundError
		wantMsg  string
		wantBase error
	}{
		{
			name:     "with ID",
			err:      &NotFoundError{Resource: "config file", ID: "imagepipe.yaml"},
			wantMsg:  "config file not found: imagepipe.yaml",
			wantBase: ErrNotFound,
		},
		{
			name:     "without ID",
			err:      &NotFoundError{Resource: "asset"},
			wantMsg:  "asset not found",
			wantBase: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
			if got := tt.err.Unwrap(); !errors.Is(got, tt.wantBase) {
				t.Errorf("Unwrap() = %v, want %v", got, tt.wantBase)
			}
		})
	}
}

func TestValidationError(t *testing.T) {
	tests := []struct {
		name    string
		err     *ValidationError
		wantMsg string
	}{
		{
			name:    "with field",
			err:     &ValidationError{Field: "formats", Message: `unknown output format "bmp"`},
			wantMsg: `validation failed for formats: unknown output format "bmp"`,
		},
		{
			name:    "without field",
			err:     &ValidationError{Message: "base path has no extension"},
			wantMsg: "validation failed: base path has no extension",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
			if !errors.Is(tt.err, ErrInvalidInput) {
				t.Errorf("expected %v to unwrap to ErrInvalidInput", tt.err)
			}
		})
	}
}

func TestIOError(t *testing.T) {
	underlying := fmt.Errorf("disk full")
	err := NewIO("write", "/assets/.cache/.cache.json", underlying)

	want := "failed to write /assets/.cache/.cache.json: disk full"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, underlying) {
		t.Error("IOError should unwrap to the underlying error")
	}

	noPath := &IOError{Operation: "sync", Err: underlying}
	if got := noPath.Error(); got != "failed to sync: disk full" {
		t.Errorf("Error() = %q", got)
	}
}

func TestParseError(t *testing.T) {
	err := NewParse("cache index", "/a/.cache.json", "unexpected end of JSON input")
	want := "failed to parse cache index at /a/.cache.json: unexpected end of JSON input"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("ParseError without cause should unwrap to ErrInvalidInput")
	}

	cause := fmt.Errorf("bad byte")
	withCause := &ParseError{Format: "YAML", Message: "bad byte", Err: cause}
	if got := withCause.Error(); got != "failed to parse YAML: bad byte" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(withCause, cause) {
		t.Error("ParseError should unwrap to its cause")
	}
}

func TestUnsupportedError(t *testing.T) {
	tests := []struct {
		name    string
		err     *UnsupportedError
		wantMsg string
	}{
		{"value and reason", NewUnsupported("format", "bmp", "no encoder"), `unsupported format "bmp": no encoder`},
		{"value only", NewUnsupported("extension", "tiff", ""), `unsupported extension "tiff"`},
		{"feature only", &UnsupportedError{Feature: "index backend"}, "unsupported index backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
			if !Is(tt.err, ErrUnsupported) {
				t.Error("expected ErrUnsupported")
			}
		})
	}
}

func TestAssetError(t *testing.T) {
	if NewAsset("a.png", nil) != nil {
		t.Error("NewAsset(nil) should return nil")
	}

	inner := NewUnsupported("extension", "tiff", "")
	err := NewAsset("photos/a.tiff", inner)
	if got := err.Error(); got != `asset photos/a.tiff: unsupported extension "tiff"` {
		t.Errorf("Error() = %q", got)
	}

	var ue *UnsupportedError
	if !As(err, &ue) {
		t.Fatal("expected AssetError to unwrap to UnsupportedError")
	}
	if ue.Value != "tiff" {
		t.Errorf("Value = %q, want tiff", ue.Value)
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "ctx") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if Wrapf(nil, "ctx %d", 1) != nil {
		t.Error("Wrapf(nil) should return nil")
	}

	base := errors.New("base")
	if got := Wrap(base, "loading").Error(); got != "loading: base" {
		t.Errorf("Wrap() = %q", got)
	}
	wrapped := Wrapf(base, "asset %s", "a.png")
	if got := wrapped.Error(); got != "asset a.png: base" {
		t.Errorf("Wrapf() = %q", got)
	}
	if !Is(wrapped, base) {
		t.Error("Wrapf should preserve the chain")
	}
}

func TestJoin(t *testing.T) {
	a := NewValidation("formats", "unknown output format \"bmp\"")
	b := NewValidation("workers", "must not be negative")
	joined := Join(a, b)

	if !Is(joined, ErrInvalidInput) {
		t.Error("joined error should match ErrInvalidInput")
	}
	if Join() != nil {
		t.Error("Join() with no errors should be nil")
	}
}
