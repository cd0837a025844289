// Package discovery finds the assets a build should consider.
package discovery

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/FocuswithJustin/imagepipe/core/errors"
	"github.com/FocuswithJustin/imagepipe/core/formats"
)

// Options selects files under Root. Patterns are doublestar globs matched
// against slash paths relative to Root.
type Options struct {
	Root        string
	Include     []string
	Exclude     []string
	Passthrough []string
	// SkipDirs are directories (relative or absolute) that are never
	// descended into, such as the cache directory.
	SkipDirs []string
}

// Result lists discovered files as sorted slash paths relative to Root.
type Result struct {
	// Images get responsive variants.
	Images []string
	// Passthrough files are copied as they are: anything matched by a
	// passthrough pattern, and included files that are not images.
	Passthrough []string
}

// All returns images and passthrough files together, sorted.
func (r Result) All() []string {
	out := make([]string, 0, len(r.Images)+len(r.Passthrough))
	out = append(out, r.Images...)
	out = append(out, r.Passthrough...)
	sort.Strings(out)
	return out
}

// osStat is a variable to allow testing of a missing root.
var osStat = os.Stat

// Discover walks Root and classifies every included file.
func Discover(opts Options) (Result, error) {
	info, err := osStat(opts.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{}, &errors.NotFoundError{Resource: "input directory", ID: opts.Root, Err: errors.ErrNotFound}
		}
		return Result{}, errors.NewIO("stat", opts.Root, err)
	}
	if !info.IsDir() {
		return Result{}, &errors.ValidationError{Field: "inputDir", Value: opts.Root, Message: opts.Root + " is not a directory"}
	}

	skip := skipSet(opts.Root, opts.SkipDirs)

	var res Result
	walkErr := fs.WalkDir(os.DirFS(opts.Root), ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return errors.NewIO("walk", path.Join(opts.Root, p), err)
		}
		if d.IsDir() {
			if _, ok := skip[p]; ok && p != "." {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		if !matchAny(opts.Include, p) || matchAny(opts.Exclude, p) {
			return nil
		}
		if matchAny(opts.Passthrough, p) || !formats.IsImageExtension(path.Ext(p)) {
			res.Passthrough = append(res.Passthrough, p)
			return nil
		}
		res.Images = append(res.Images, p)
		return nil
	})
	if walkErr != nil {
		return Result{}, walkErr
	}

	sort.Strings(res.Images)
	sort.Strings(res.Passthrough)
	return res, nil
}

// Match reports whether p matches any of patterns.
func Match(patterns []string, p string) bool {
	return matchAny(patterns, p)
}

func matchAny(patterns []string, p string) bool {
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, p); ok {
			return true
		}
	}
	return false
}

// skipSet maps SkipDirs to slash paths relative to root. Directories outside
// root are dropped.
func skipSet(root string, dirs []string) map[string]struct{} {
	out := make(map[string]struct{}, len(dirs))
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return out
	}
	for _, d := range dirs {
		if d == "" {
			continue
		}
		abs, err := filepath.Abs(filepath.FromSlash(d))
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(absRoot, abs)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		out[filepath.ToSlash(rel)] = struct{}{}
	}
	return out
}
