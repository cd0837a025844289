// Package validation provides input validation for paths, filename markers
// and the files imagepipe reads back (index snapshots, SQLite indexes).
package validation

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode"
)

// Limits applied to user-supplied values.
const (
	// MaxPathLength is the maximum allowed path length.
	MaxPathLength = 4096
	// MaxMarkerLength is the maximum allowed filename marker length.
	MaxMarkerLength = 255
)

// Common validation errors.
var (
	ErrPathTraversal    = errors.New("path traversal detected")
	ErrPathTooLong      = errors.New("path too long")
	ErrInvalidCharacter = errors.New("invalid character in path")
	ErrEmptyPath        = errors.New("path cannot be empty")
	ErrInvalidMarker    = errors.New("invalid filename marker")
)

// SanitizePath validates a user-supplied path that must stay inside baseDir.
// Absolute paths are accepted when they resolve inside baseDir.
// Returns the cleaned path relative to baseDir, using forward slashes.
func SanitizePath(baseDir, userPath string) (string, error) {
	if err := ValidatePath(userPath); err != nil {
		return "", err
	}

	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base directory: %w", err)
	}

	full := filepath.Clean(filepath.FromSlash(userPath))
	if !filepath.IsAbs(full) {
		full = filepath.Join(absBase, full)
	}

	rel, err := filepath.Rel(absBase, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	if rel == "." {
		return "", fmt.Errorf("%w: path names the base directory", ErrEmptyPath)
	}

	return filepath.ToSlash(rel), nil
}

// IsPathSafe reports whether userPath stays inside baseDir.
func IsPathSafe(baseDir, userPath string) bool {
	_, err := SanitizePath(baseDir, userPath)
	return err == nil
}

// ValidatePath checks length limits and rejects NUL and control characters.
func ValidatePath(path string) error {
	if path == "" {
		return ErrEmptyPath
	}

	if len(path) > MaxPathLength {
		return ErrPathTooLong
	}

	if strings.Contains(path, "\x00") {
		return fmt.Errorf("%w: null byte not allowed", ErrInvalidCharacter)
	}

	for _, r := range path {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: control character not allowed", ErrInvalidCharacter)
		}
	}

	return nil
}

// ValidateMarker checks a filename marker such as "_mobile" or ".2x".
// Markers are spliced into file names, so they may not contain path
// separators, NUL or control characters. The empty marker is allowed.
func ValidateMarker(marker string) error {
	if len(marker) > MaxMarkerLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidMarker, MaxMarkerLength)
	}

	if strings.ContainsAny(marker, "/\\") {
		return fmt.Errorf("%w: path separator not allowed", ErrInvalidMarker)
	}

	if strings.Contains(marker, "\x00") {
		return fmt.Errorf("%w: null byte not allowed", ErrInvalidMarker)
	}

	for _, r := range marker {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: control character not allowed", ErrInvalidMarker)
		}
	}

	if marker == "." || marker == ".." {
		return fmt.Errorf("%w: reserved name", ErrInvalidMarker)
	}

	return nil
}

// FileType represents a validated file type.
type FileType string

const (
	FileTypeXZ      FileType = "xz"
	FileTypeSQLite  FileType = "sqlite"
	FileTypeJSON    FileType = "json"
	FileTypeUnknown FileType = "unknown"
)

// magicBytes defines magic byte signatures for file type detection.
var magicBytes = []struct {
	fileType FileType
	magic    []byte
	offset   int
}{
	{FileTypeXZ, []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}, 0},
	{FileTypeSQLite, []byte("SQLite format 3\x00"), 0},
}

// ValidateFileType checks that the content read from reader matches the type
// implied by the filename extension. It consumes up to 512 bytes of reader.
func ValidateFileType(reader io.Reader, filename string) (FileType, error) {
	buf := make([]byte, 512)
	n, err := io.ReadFull(reader, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return FileTypeUnknown, fmt.Errorf("failed to read file header: %w", err)
	}
	buf = buf[:n]

	detected := detectFileTypeFromMagic(buf)
	expected := detectFileTypeFromExtension(filename)

	if detected == expected {
		return detected, nil
	}

	// JSON has no magic; accept anything that looks like text.
	if expected == FileTypeJSON && detected == FileTypeUnknown && isLikelyText(buf) {
		return FileTypeJSON, nil
	}

	if expected == FileTypeUnknown {
		return detected, nil
	}

	return FileTypeUnknown, fmt.Errorf("file type mismatch: extension suggests %s but content is %s", expected, detected)
}

// detectFileTypeFromMagic detects file type from magic bytes.
func detectFileTypeFromMagic(buf []byte) FileType {
	for _, sig := range magicBytes {
		if sig.offset+len(sig.magic) <= len(buf) {
			if bytes.Equal(buf[sig.offset:sig.offset+len(sig.magic)], sig.magic) {
				return sig.fileType
			}
		}
	}
	return FileTypeUnknown
}

// detectFileTypeFromExtension determines expected file type from filename extension.
func detectFileTypeFromExtension(filename string) FileType {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xz":
		return FileTypeXZ
	case ".db", ".sqlite", ".sqlite3":
		return FileTypeSQLite
	case ".json":
		return FileTypeJSON
	default:
		return FileTypeUnknown
	}
}

// isLikelyText reports whether buf looks like UTF-8 or ASCII text.
func isLikelyText(buf []byte) bool {
	if len(buf) == 0 {
		return false
	}

	if bytes.IndexByte(buf, 0) != -1 {
		return false
	}

	printable := 0
	control := 0
	for _, b := range buf {
		if b >= 0x20 && b <= 0x7e || b == '\t' || b == '\n' || b == '\r' {
			printable++
		} else if b < 0x20 {
			control++
		}
	}

	return printable > 0 && float64(printable)/float64(printable+control) > 0.95
}
