// Package formats maps output format identifiers to file extensions and MIME types.
//
// The set of formats is closed. Tokens from configuration are parsed once into
// a Format; everything downstream switches on the enumeration, so an unknown
// token can only surface at the parse boundary.
package formats

import (
	"strconv"
	"strings"

	"github.com/FocuswithJustin/imagepipe/core/errors"
)

// Format identifies a requested output format.
type Format uint8

const (
	// Original keeps the source file's own extension and MIME type.
	Original Format = iota
	WebP
	AVIF
	PNG
	JPG
	JPEG
	GIF

	numFormats
)

// Spec is the extension and MIME type a format resolves to.
type Spec struct {
	Extension string `json:"extension"`
	MIME      string `json:"mime"`
}

var tokens = [numFormats]string{
	Original: "original",
	WebP:     "webp",
	AVIF:     "avif",
	PNG:      "png",
	JPG:      "jpg",
	JPEG:     "jpeg",
	GIF:      "gif",
}

// fixed holds the static extension for every concrete format. Original is
// absent because it resolves against the base file.
var fixed = map[Format]string{
	WebP: "webp",
	AVIF: "avif",
	PNG:  "png",
	JPG:  "jpg",
	JPEG: "jpeg",
	GIF:  "gif",
}

// mimeTypes maps a lowercase extension (no dot) to its MIME type.
// jpg stays image/jpg; emitted <source> types depend on it.
var mimeTypes = map[string]string{
	"png":  "image/png",
	"jpg":  "image/jpg",
	"jpeg": "image/jpeg",
	"webp": "image/webp",
	"avif": "image/avif",
	"gif":  "image/gif",
	"svg":  "image/svg+xml",
}

// String returns the configuration token for the format.
func (f Format) String() string {
	if f < numFormats {
		return tokens[f]
	}
	return "format(" + strconv.Itoa(int(f)) + ")"
}

// Valid reports whether f is one of the declared formats.
func (f Format) Valid() bool {
	return f < numFormats
}

// MarshalText implements encoding.TextMarshaler.
func (f Format) MarshalText() ([]byte, error) {
	if !f.Valid() {
		return nil, errors.NewUnsupported("format", f.String(), "not a declared format")
	}
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Format) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Parse converts a configuration token into a Format. Tokens are matched
// case-insensitively after trimming whitespace.
func Parse(token string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(token))
	for f, t := range tokens {
		if t == normalized {
			return Format(f), nil
		}
	}
	return 0, errors.NewUnsupported("format", token, "known formats are "+strings.Join(Tokens(), ", "))
}

// ParseList parses every token and reports all unknown ones in a single error.
// The order of the input is preserved.
func ParseList(list []string) ([]Format, error) {
	out := make([]Format, 0, len(list))
	var errs []error
	for _, token := range list {
		f, err := Parse(token)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, f)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// Tokens returns every accepted format token in declaration order.
func Tokens() []string {
	out := make([]string, len(tokens))
	copy(out, tokens[:])
	return out
}

// Resolve returns the extension and MIME type for f. For Original the base
// file's extension is returned as written (minus the dot) so the path is left
// untouched; its MIME type must be known.
func (f Format) Resolve(baseExtension string) (Spec, error) {
	if f == Original {
		mime, err := MIMEForExtension(baseExtension)
		if err != nil {
			return Spec{}, err
		}
		return Spec{Extension: strings.TrimPrefix(baseExtension, "."), MIME: mime}, nil
	}

	ext, ok := fixed[f]
	if !ok {
		return Spec{}, errors.NewUnsupported("format", f.String(), "not a declared format")
	}
	return Spec{Extension: ext, MIME: mimeTypes[ext]}, nil
}

// MIMEForExtension returns the MIME type for a file extension. A leading dot
// is optional and matching is case-insensitive.
func MIMEForExtension(ext string) (string, error) {
	normalized := normalizeExtension(ext)
	if normalized == "" {
		return "", errors.NewValidation("extension", "file has no extension")
	}
	mime, ok := mimeTypes[normalized]
	if !ok {
		return "", errors.NewUnsupported("extension", normalized, "no known image MIME type")
	}
	return mime, nil
}

// IsImageExtension reports whether ext has a known image MIME type.
func IsImageExtension(ext string) bool {
	_, ok := mimeTypes[normalizeExtension(ext)]
	return ok
}

func normalizeExtension(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
