// Package pipeline drives an incremental image build: it discovers assets,
// diffs them against the cache index and plans the responsive variants each
// image needs.
package pipeline

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/FocuswithJustin/imagepipe/core/cacheindex"
	"github.com/FocuswithJustin/imagepipe/core/errors"
	"github.com/FocuswithJustin/imagepipe/core/fingerprint"
	"github.com/FocuswithJustin/imagepipe/core/formats"
	"github.com/FocuswithJustin/imagepipe/core/variants"
	"github.com/FocuswithJustin/imagepipe/internal/config"
	"github.com/FocuswithJustin/imagepipe/internal/discovery"
	"github.com/FocuswithJustin/imagepipe/internal/logging"
	"github.com/FocuswithJustin/imagepipe/internal/validation"
	"github.com/FocuswithJustin/imagepipe/internal/workerpool"
)

// osStat is a variable to allow testing of output checks.
var osStat = os.Stat

// Action says why an asset appears in a plan.
type Action string

const (
	ActionAdded     Action = "added"
	ActionChanged   Action = "changed"
	ActionUnchanged Action = "unchanged"
)

// AssetPlan is the work for one image.
type AssetPlan struct {
	Input    string                      `json:"input"`
	Action   Action                      `json:"action"`
	Sources  []variants.SourceDescriptor `json:"sources"`
	Fallback variants.SourceDescriptor   `json:"fallback"`
	// Outputs are the files the sources and fallback refer to, under the
	// output directory.
	Outputs []string `json:"outputs"`
	// Missing lists outputs that do not exist on disk.
	Missing []string `json:"missing,omitempty"`
}

// NeedsEncoding reports whether the asset is new, changed or has missing
// outputs.
func (a AssetPlan) NeedsEncoding() bool {
	return a.Action != ActionUnchanged || len(a.Missing) > 0
}

// Failure records an asset that could not be planned.
type Failure struct {
	Asset string `json:"asset"`
	Error string `json:"error"`
}

// Plan is the result of one planning pass.
type Plan struct {
	Diff cacheindex.Diff `json:"diff"`
	// Assets are sorted by input path.
	Assets []AssetPlan `json:"assets"`
	// Passthrough files are copied unchanged.
	Passthrough []string `json:"passthrough"`
	// Stale outputs belong to removed assets and still exist.
	Stale    []string  `json:"stale"`
	Failures []Failure `json:"failures,omitempty"`

	errs []error
}

// Err joins every per-asset failure, or returns nil.
func (p *Plan) Err() error {
	return errors.Join(p.errs...)
}

// PlanOptions controls a planning pass.
type PlanOptions struct {
	// DryRun leaves the persisted index untouched.
	DryRun bool
}

// Pipeline plans builds for one configuration.
type Pipeline struct {
	cfg         *config.Config
	hasher      *fingerprint.Hasher
	store       cacheindex.Store
	index       *cacheindex.Index
	loadWarning error
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithStore replaces the index store chosen by the configuration.
func WithStore(store cacheindex.Store) Option {
	return func(p *Pipeline) {
		p.store = store
	}
}

// WithHasher replaces the hasher built from the configuration.
func WithHasher(h *fingerprint.Hasher) Option {
	return func(p *Pipeline) {
		p.hasher = h
	}
}

// IndexStore returns the store the configuration selects.
func IndexStore(cfg *config.Config) cacheindex.Store {
	if cfg.IndexBackend == config.BackendSQLite {
		return cacheindex.NewSQLiteStore(cacheindex.DatabasePath(filepath.FromSlash(cfg.CacheDir)))
	}
	return cacheindex.NewJSONStore(cacheindex.SidecarPath(filepath.FromSlash(cfg.CacheDir)))
}

// New opens the cache index for cfg, which must be validated. A damaged
// index is logged and replaced by an empty one.
func New(cfg *config.Config, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.NewValidation("config", "must not be nil")
	}

	p := &Pipeline{cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}
	if p.hasher == nil {
		p.hasher = fingerprint.New(
			fingerprint.WithAlgorithm(cfg.Algorithm()),
			fingerprint.WithRoot(filepath.FromSlash(cfg.InputDir)),
		)
	}
	if p.store == nil {
		p.store = IndexStore(cfg)
	}

	idx, err := cacheindex.Open(p.store)
	if err != nil {
		logging.CacheWarning(context.Background(), p.store.Location(), err)
		p.loadWarning = err
	}
	p.index = idx
	return p, nil
}

// LoadWarning returns the problem found while opening the index, if any.
func (p *Pipeline) LoadWarning() error {
	return p.loadWarning
}

// Index returns the cache index.
func (p *Pipeline) Index() *cacheindex.Index {
	return p.index
}

// Diff discovers assets and classifies them against the index, including
// files that are indexed but no longer on disk.
func (p *Pipeline) Diff(ctx context.Context, opts PlanOptions) (cacheindex.Diff, error) {
	_, d, err := p.diff(ctx)
	if err != nil {
		return d, err
	}
	if !opts.DryRun {
		if err := p.save(); err != nil {
			return d, err
		}
	}
	return d, nil
}

func (p *Pipeline) diff(ctx context.Context) (discovery.Result, cacheindex.Diff, error) {
	found, err := discovery.Discover(discovery.Options{
		Root:        filepath.FromSlash(p.cfg.InputDir),
		Include:     p.cfg.Include,
		Exclude:     p.cfg.Exclude,
		Passthrough: p.cfg.Passthrough,
		SkipDirs:    []string{p.cfg.CacheDir, p.cfg.OutputDir},
	})
	if err != nil {
		return found, cacheindex.Diff{}, err
	}

	candidates := union(found.All(), p.index.Files())

	before := p.hasher.BytesRead()
	d, err := p.index.Diff(ctx, p.hasher, candidates, p.cfg.Workers)
	if err != nil {
		return found, d, err
	}
	logging.DiffSummary(ctx, len(d.Added), len(d.Changed), len(d.Removed), d.Unchanged, p.hasher.BytesRead()-before)
	return found, d, nil
}

func (p *Pipeline) save() error {
	if err := p.index.Save(); err != nil {
		return errors.Wrap(err, "failed to save cache index")
	}
	return nil
}

// Plan runs a full planning pass. Per-asset failures are collected in the
// plan and do not stop the batch; the returned error covers discovery,
// cancellation and saving the index.
func (p *Pipeline) Plan(ctx context.Context, opts PlanOptions) (*Plan, error) {
	found, d, err := p.diff(ctx)
	if err != nil {
		return nil, err
	}

	removed := toSet(d.Removed)
	actions := make(map[string]Action, len(d.Added)+len(d.Changed))
	for _, a := range d.Added {
		actions[a] = ActionAdded
	}
	for _, a := range d.Changed {
		actions[a] = ActionChanged
	}

	var images []string
	for _, img := range found.Images {
		if _, gone := removed[img]; !gone {
			images = append(images, img)
		}
	}

	plan := &Plan{Diff: d, Passthrough: []string{}, Stale: []string{}}
	for _, f := range found.Passthrough {
		if _, gone := removed[f]; !gone {
			plan.Passthrough = append(plan.Passthrough, f)
		}
	}

	assets := make([]AssetPlan, len(images))
	errs := make([]error, len(images))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers())
	for i, img := range images {
		i, img := i, img // per-iteration copies (go directive < 1.22)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			action, ok := actions[img]
			if !ok {
				action = ActionUnchanged
			}
			ap, err := p.planAsset(img, action)
			if err != nil {
				errs[i] = errors.NewAsset(img, err)
				return nil
			}
			assets[i] = *ap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	plan.Assets = make([]AssetPlan, 0, len(images))
	for i, img := range images {
		if errs[i] != nil {
			logging.AssetError(ctx, img, "enumerate", errs[i])
			plan.Failures = append(plan.Failures, Failure{Asset: img, Error: errs[i].Error()})
			plan.errs = append(plan.errs, errs[i])
			continue
		}
		plan.Assets = append(plan.Assets, assets[i])
	}

	plan.Stale = p.staleOutputs(d.Removed)

	if !opts.DryRun {
		if err := p.save(); err != nil {
			return plan, err
		}
	}
	return plan, nil
}

// Sources plans a single asset without touching the index. assetPath is
// relative to the input directory, or absolute inside it.
func (p *Pipeline) Sources(assetPath string) (*AssetPlan, error) {
	rel, err := validation.SanitizePath(filepath.FromSlash(p.cfg.InputDir), assetPath)
	if err != nil {
		return nil, &errors.ValidationError{Field: "asset", Value: assetPath, Message: err.Error()}
	}
	if !formats.IsImageExtension(path.Ext(rel)) {
		return nil, errors.NewUnsupported("image extension", path.Ext(rel), "asset "+rel+" is not an image")
	}

	hash, ok := p.hasher.File(rel)
	if !ok {
		return nil, errors.NewNotFound("asset", rel)
	}

	action := ActionAdded
	if prev, known := p.index.Lookup(rel); known {
		action = ActionUnchanged
		if prev != hash {
			action = ActionChanged
		}
	}
	return p.planAsset(rel, action)
}

func (p *Pipeline) planAsset(rel string, action Action) (*AssetPlan, error) {
	outputs, sources, fallback, err := p.derive(rel)
	if err != nil {
		return nil, err
	}

	ap := &AssetPlan{
		Input:    rel,
		Action:   action,
		Sources:  sources,
		Fallback: fallback,
		Outputs:  outputs,
	}
	for _, out := range outputs {
		if _, err := osStat(filepath.FromSlash(out)); err != nil {
			ap.Missing = append(ap.Missing, out)
		}
	}
	if ap.Sources == nil {
		ap.Sources = []variants.SourceDescriptor{}
	}
	return ap, nil
}

// derive computes descriptors for rel and the output files they map to.
func (p *Pipeline) derive(rel string) ([]string, []variants.SourceDescriptor, variants.SourceDescriptor, error) {
	base := p.cfg.PublicPath + rel

	sources, err := variants.Enumerate(base, p.cfg.OutputFormats(), p.cfg.RuleFor(rel))
	if err != nil {
		return nil, nil, variants.SourceDescriptor{}, err
	}
	fallback, err := variants.Fallback(base)
	if err != nil {
		return nil, nil, variants.SourceDescriptor{}, err
	}

	var outputs []string
	for _, url := range variants.DerivedFiles(fallback, sources) {
		outputs = append(outputs, p.outputPath(url))
	}
	return outputs, sources, fallback, nil
}

// outputPath maps a public URL to its file under the output directory.
func (p *Pipeline) outputPath(url string) string {
	rel := strings.TrimPrefix(url, p.cfg.PublicPath)
	return path.Join(p.cfg.OutputDir, rel)
}

// staleOutputs lists existing outputs of removed assets.
func (p *Pipeline) staleOutputs(removed []string) []string {
	stale := []string{}
	seen := make(map[string]struct{})
	for _, rel := range removed {
		var candidates []string
		if formats.IsImageExtension(path.Ext(rel)) && !discovery.Match(p.cfg.Passthrough, rel) {
			outputs, _, _, err := p.derive(rel)
			if err != nil {
				continue
			}
			candidates = outputs
		} else {
			candidates = []string{path.Join(p.cfg.OutputDir, rel)}
		}
		for _, out := range candidates {
			if _, dup := seen[out]; dup {
				continue
			}
			if _, err := osStat(filepath.FromSlash(out)); err == nil {
				seen[out] = struct{}{}
				stale = append(stale, out)
			}
		}
	}
	sort.Strings(stale)
	return stale
}

func (p *Pipeline) workers() int {
	if p.cfg.Workers > 0 {
		return p.cfg.Workers
	}
	return workerpool.DefaultWorkers
}

func union(a, b []string) []string {
	set := toSet(a)
	for _, s := range b {
		set[s] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, s := range items {
		set[s] = struct{}{}
	}
	return set
}
