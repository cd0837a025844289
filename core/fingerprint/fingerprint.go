// Package fingerprint computes short, URL-safe content fingerprints for files.
//
// Fingerprints detect change between builds; they are not a security
// boundary. MD5 is the default digest. BLAKE3 is available for trees where
// hashing throughput matters more than compatibility with existing indexes.
package fingerprint

import (
	"crypto/md5"
	"encoding/base64"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/zeebo/blake3"

	"github.com/FocuswithJustin/imagepipe/core/errors"
	"github.com/FocuswithJustin/imagepipe/internal/logging"
)

// osOpen is a variable to allow testing of open and read failures.
var osOpen = func(name string) (io.ReadCloser, error) {
	return os.Open(name)
}

// Algorithm names a digest.
type Algorithm string

const (
	// MD5 is the default digest.
	MD5 Algorithm = "md5"
	// BLAKE3 is the faster, wider digest.
	BLAKE3 Algorithm = "blake3"
)

// ParseAlgorithm validates an algorithm name. Empty selects MD5.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(name))) {
	case "", MD5:
		return MD5, nil
	case BLAKE3:
		return BLAKE3, nil
	default:
		return "", errors.NewUnsupported("hash algorithm", name, "expected md5 or blake3")
	}
}

func (a Algorithm) newHash() hash.Hash {
	if a == BLAKE3 {
		return blake3.New()
	}
	return md5.New()
}

// Hasher fingerprints files. It keeps no per-file state; every call reads the
// whole file again. A Hasher is safe for concurrent use.
type Hasher struct {
	algorithm Algorithm
	root      string
	bytesRead atomic.Int64
}

// Option configures a Hasher.
type Option func(*Hasher)

// WithAlgorithm selects the digest.
func WithAlgorithm(a Algorithm) Option {
	return func(h *Hasher) {
		h.algorithm = a
	}
}

// WithRoot makes relative names resolve against root.
func WithRoot(root string) Option {
	return func(h *Hasher) {
		h.root = root
	}
}

// New creates a Hasher. Without options it hashes with MD5 relative to the
// process working directory.
func New(opts ...Option) *Hasher {
	h := &Hasher{algorithm: MD5}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Algorithm returns the digest in use.
func (h *Hasher) Algorithm() Algorithm {
	return h.algorithm
}

// File streams the named file through the digest and returns its
// fingerprint. The boolean is false when the file does not exist or cannot
// be read; that is an expected outcome, not a failure.
func (h *Hasher) File(name string) (string, bool) {
	p := h.resolve(name)

	f, err := osOpen(p)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Debug("fingerprint_open_failed", "file", name, "error", err.Error())
		}
		return "", false
	}
	defer f.Close()

	digest := h.algorithm.newHash()
	n, err := io.Copy(digest, f)
	h.bytesRead.Add(n)
	if err != nil {
		logging.Debug("fingerprint_read_failed", "file", name, "error", err.Error())
		return "", false
	}

	return Encode(digest.Sum(nil)), true
}

// Reader fingerprints everything read from r.
func (h *Hasher) Reader(r io.Reader) (string, error) {
	digest := h.algorithm.newHash()
	n, err := io.Copy(digest, r)
	h.bytesRead.Add(n)
	if err != nil {
		return "", errors.NewIO("read", "", err)
	}
	return Encode(digest.Sum(nil)), nil
}

// BytesRead returns the number of bytes streamed through this Hasher.
func (h *Hasher) BytesRead() int64 {
	return h.bytesRead.Load()
}

func (h *Hasher) resolve(name string) string {
	if h.root == "" || filepath.IsAbs(name) {
		return filepath.FromSlash(name)
	}
	return filepath.Join(h.root, filepath.FromSlash(name))
}

// Encode renders a digest as unpadded base64 with the URL-safe alphabet
// ('+' becomes '-', '/' becomes '_').
func Encode(sum []byte) string {
	return base64.RawURLEncoding.EncodeToString(sum)
}
