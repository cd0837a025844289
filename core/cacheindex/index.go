// Package cacheindex tracks the last-known content fingerprint of every asset
// so a build only re-encodes what changed.
//
// An Index is loaded once per run from a Store, diffed against the current
// asset list, and saved back. Hashing during a diff runs in parallel; all
// mutations of the index happen in a single aggregation step afterwards, so
// the map is never written concurrently.
package cacheindex

import (
	"context"
	"sort"
	"sync"

	"github.com/FocuswithJustin/imagepipe/internal/logging"
	"github.com/FocuswithJustin/imagepipe/internal/workerpool"
)

// Entry is one persisted fingerprint.
type Entry struct {
	FileName    string `json:"fileName"`
	ContentHash string `json:"contentHash"`
}

// Document is the on-disk shape of the sidecar file.
type Document struct {
	Entries []Entry `json:"entries"`
}

// Fingerprinter hashes one file. A false result means the file is absent or
// unreadable.
type Fingerprinter interface {
	File(name string) (string, bool)
}

// Diff classifies assets against the index. Buckets are disjoint and keep the
// order in which assets were passed to Index.Diff.
type Diff struct {
	Added     []string `json:"added"`
	Changed   []string `json:"changed"`
	Removed   []string `json:"removed"`
	Unchanged int      `json:"unchanged"`
}

// Empty reports whether nothing was added, changed or removed.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Changed) == 0 && len(d.Removed) == 0
}

// Index maps file names to fingerprints.
type Index struct {
	mu      sync.Mutex
	store   Store
	entries map[string]string
}

// New returns an empty index backed by store.
func New(store Store) *Index {
	return &Index{store: store, entries: make(map[string]string)}
}

// Open reads the index from store. It always returns a usable index: when
// the store is missing the index is empty and the error is nil; when the
// store cannot be read or decoded the index is empty and the error describes
// why. Callers should treat that error as a warning.
func Open(store Store) (*Index, error) {
	idx := New(store)
	entries, err := store.Read()
	if err != nil {
		return idx, err
	}
	for _, e := range entries {
		idx.entries[e.FileName] = e.ContentHash
	}
	return idx, nil
}

// Load opens the JSON sidecar at path.
func Load(path string) (*Index, error) {
	return Open(NewJSONStore(path))
}

// Location names where the index is persisted.
func (x *Index) Location() string {
	if x.store == nil {
		return ""
	}
	return x.store.Location()
}

// Len returns the number of entries.
func (x *Index) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.entries)
}

// Lookup returns the stored fingerprint for name.
func (x *Index) Lookup(name string) (string, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	h, ok := x.entries[name]
	return h, ok
}

// Files returns the indexed file names in sorted order.
func (x *Index) Files() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]string, 0, len(x.entries))
	for name := range x.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Entries returns a copy of the index sorted by file name.
func (x *Index) Entries() []Entry {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.sortedLocked()
}

func (x *Index) sortedLocked() []Entry {
	out := make([]Entry, 0, len(x.entries))
	for name, h := range x.entries {
		out = append(out, Entry{FileName: name, ContentHash: h})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileName < out[j].FileName })
	return out
}

// Clear drops every entry. The store is untouched until Save.
func (x *Index) Clear() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries = make(map[string]string)
}

// Replace swaps the contents of the index for entries. Later duplicates win.
func (x *Index) Replace(entries []Entry) {
	m := make(map[string]string, len(entries))
	for _, e := range entries {
		m[e.FileName] = e.ContentHash
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries = m
}

// Save overwrites the store with the current entries.
func (x *Index) Save() error {
	x.mu.Lock()
	entries := x.sortedLocked()
	x.mu.Unlock()
	return x.store.Write(entries)
}

type hashResult struct {
	hash    string
	present bool
	skipped bool
}

// Diff hashes every asset and updates the index in place:
//
//   - absent or unreadable: reported removed, entry dropped
//   - known with a different fingerprint: reported changed, entry updated
//   - known with the same fingerprint: unchanged
//   - unknown: reported added, entry inserted
//
// Hashing runs on up to workers goroutines (0 picks a default). Duplicate
// asset names are processed once. If ctx is cancelled before every asset is
// hashed, the index is left untouched and ctx.Err() is returned.
func (x *Index) Diff(ctx context.Context, hasher Fingerprinter, assets []string, workers int) (Diff, error) {
	unique := dedupe(assets)

	results := workerpool.Map(workers, unique, func(name string) hashResult {
		if ctx.Err() != nil {
			return hashResult{skipped: true}
		}
		h, ok := hasher.File(name)
		return hashResult{hash: h, present: ok}
	})
	if err := ctx.Err(); err != nil {
		return Diff{}, err
	}

	var d Diff
	x.mu.Lock()
	for i, name := range unique {
		r := results[i]
		prev, known := x.entries[name]
		switch {
		case !r.present:
			delete(x.entries, name)
			d.Removed = append(d.Removed, name)
			logging.AssetStatus(ctx, name, "removed")
		case !known:
			x.entries[name] = r.hash
			d.Added = append(d.Added, name)
			logging.AssetStatus(ctx, name, "added")
		case prev != r.hash:
			x.entries[name] = r.hash
			d.Changed = append(d.Changed, name)
			logging.AssetStatus(ctx, name, "changed")
		default:
			d.Unchanged++
			logging.AssetStatus(ctx, name, "unchanged")
		}
	}
	x.mu.Unlock()

	return d, nil
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
