// Package config loads and validates imagepipe settings.
//
// Values are layered: built-in defaults, then the config file (JSON, JSONC or
// YAML), then overrides from the command line and IMAGEPIPE_* environment
// variables. Validate normalizes paths and globs and must run before the
// config is used.
package config

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/FocuswithJustin/imagepipe/core/errors"
	"github.com/FocuswithJustin/imagepipe/core/fingerprint"
	"github.com/FocuswithJustin/imagepipe/core/formats"
	"github.com/FocuswithJustin/imagepipe/core/variants"
	"github.com/FocuswithJustin/imagepipe/internal/validation"
)

// DefaultFile is read when no config file is named explicitly.
const DefaultFile = "imagepipe.config.json"

// Index backends.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// AdaptiveRule attaches a variant rule set to every asset matching a glob.
type AdaptiveRule struct {
	Match        string             `json:"match" yaml:"match"`
	BaseModifier string             `json:"baseModifier,omitempty" yaml:"baseModifier,omitempty"`
	Variants     []variants.Variant `json:"variants" yaml:"variants"`
}

// RuleSet converts the rule to its variants form.
func (r AdaptiveRule) RuleSet() *variants.RuleSet {
	return &variants.RuleSet{BaseModifier: r.BaseModifier, Variants: r.Variants}
}

// Config is the resolved pipeline configuration.
type Config struct {
	InputDir     string         `json:"inputDir" yaml:"inputDir"`
	OutputDir    string         `json:"outputDir" yaml:"outputDir"`
	CacheDir     string         `json:"cacheDir,omitempty" yaml:"cacheDir,omitempty"`
	Formats      []string       `json:"formats" yaml:"formats"`
	Include      []string       `json:"include" yaml:"include"`
	Exclude      []string       `json:"exclude,omitempty" yaml:"exclude,omitempty"`
	Passthrough  []string       `json:"passthrough,omitempty" yaml:"passthrough,omitempty"`
	Adaptive     []AdaptiveRule `json:"adaptive,omitempty" yaml:"adaptive,omitempty"`
	Hash         string         `json:"hash" yaml:"hash"`
	IndexBackend string         `json:"indexBackend" yaml:"indexBackend"`
	Workers      int            `json:"workers" yaml:"workers"`
	PublicPath   string         `json:"publicPath" yaml:"publicPath"`
	Verbose      bool           `json:"verbose" yaml:"verbose"`

	outputFormats []formats.Format
	algorithm     fingerprint.Algorithm
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		InputDir:     "assets",
		OutputDir:    "dist",
		Formats:      []string{"webp"},
		Include:      []string{"**/*"},
		Hash:         string(fingerprint.MD5),
		IndexBackend: BackendJSON,
		PublicPath:   "/",
	}
}

// Overrides are values from the command line or environment. Zero values
// leave the underlying setting alone.
type Overrides struct {
	InputDir     string
	OutputDir    string
	CacheDir     string
	Formats      []string
	Hash         string
	IndexBackend string
	Workers      int
	Verbose      bool
}

// Load builds a validated Config. An empty file means DefaultFile, which may
// be absent; a file named explicitly must exist.
func Load(file string, ov Overrides) (*Config, error) {
	cfg := Default()

	explicit := file != ""
	if !explicit {
		file = DefaultFile
	}

	if err := cfg.mergeFile(file); err != nil {
		if !explicit && errors.Is(err, errors.ErrNotFound) {
			err = nil
		}
		if err != nil {
			return nil, err
		}
	}

	cfg.apply(ov)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFile decodes file on top of c. Paths set by the file are relative to
// the file's directory.
func (c *Config) mergeFile(file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		if os.IsNotExist(err) {
			return &errors.NotFoundError{Resource: "config file", ID: file, Err: errors.ErrNotFound}
		}
		return errors.NewIO("read", file, err)
	}

	defaults := *c
	c.InputDir, c.OutputDir, c.CacheDir = "", "", ""

	if err := decode(file, data, c); err != nil {
		return err
	}

	base := filepath.Dir(file)
	c.InputDir = relativeTo(base, c.InputDir, defaults.InputDir)
	c.OutputDir = relativeTo(base, c.OutputDir, defaults.OutputDir)
	c.CacheDir = relativeTo(base, c.CacheDir, defaults.CacheDir)
	return nil
}

func relativeTo(base, value, fallback string) string {
	if value == "" {
		return fallback
	}
	if filepath.IsAbs(value) || base == "." {
		return value
	}
	return filepath.Join(base, value)
}

func decode(file string, data []byte, c *Config) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	switch strings.ToLower(filepath.Ext(file)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(c); err != nil && err != io.EOF {
			return &errors.ParseError{Format: "YAML", Path: file, Message: err.Error(), Err: err}
		}
	case ".json", ".jsonc", "":
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(c); err != nil {
			return &errors.ParseError{Format: "JSON", Path: file, Message: err.Error(), Err: err}
		}
	default:
		return errors.NewUnsupported("config file type", filepath.Ext(file), "expected .json, .jsonc, .yaml or .yml")
	}
	return nil
}

func (c *Config) apply(ov Overrides) {
	if ov.InputDir != "" {
		c.InputDir = ov.InputDir
	}
	if ov.OutputDir != "" {
		c.OutputDir = ov.OutputDir
	}
	if ov.CacheDir != "" {
		c.CacheDir = ov.CacheDir
	}
	if len(ov.Formats) > 0 {
		c.Formats = splitList(ov.Formats)
	}
	if ov.Hash != "" {
		c.Hash = ov.Hash
	}
	if ov.IndexBackend != "" {
		c.IndexBackend = ov.IndexBackend
	}
	if ov.Workers != 0 {
		c.Workers = ov.Workers
	}
	if ov.Verbose {
		c.Verbose = true
	}
}

// splitList flattens comma-separated values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate normalizes c in place and reports every problem it finds.
func (c *Config) Validate() error {
	var errs []error

	parsed, err := formats.ParseList(c.Formats)
	if err != nil {
		errs = append(errs, &errors.ValidationError{Field: "formats", Message: err.Error(), Err: err})
	}
	c.outputFormats = parsed

	algorithm, err := fingerprint.ParseAlgorithm(c.Hash)
	if err != nil {
		errs = append(errs, err)
	}
	c.algorithm = algorithm
	c.Hash = string(algorithm)

	switch strings.ToLower(c.IndexBackend) {
	case "", BackendJSON:
		c.IndexBackend = BackendJSON
	case BackendSQLite:
		c.IndexBackend = BackendSQLite
	default:
		errs = append(errs, errors.NewUnsupported("index backend", c.IndexBackend, "expected json or sqlite"))
	}

	if c.Workers < 0 {
		errs = append(errs, errors.NewValidation("workers", "must not be negative"))
	}

	errs = append(errs, c.normalizeDirs()...)

	if c.PublicPath == "" {
		c.PublicPath = "/"
	}
	if !strings.HasSuffix(c.PublicPath, "/") {
		c.PublicPath += "/"
	}

	c.Include = c.fixGlobs("include", c.Include, &errs)
	c.Exclude = c.fixGlobs("exclude", c.Exclude, &errs)
	c.Passthrough = c.fixGlobs("passthrough", c.Passthrough, &errs)

	for i := range c.Adaptive {
		errs = append(errs, validateRule(i, &c.Adaptive[i])...)
	}

	return errors.Join(errs...)
}

func (c *Config) normalizeDirs() []error {
	var errs []error
	if c.InputDir == "" {
		errs = append(errs, errors.NewValidation("inputDir", "must not be empty"))
	}
	if c.OutputDir == "" {
		errs = append(errs, errors.NewValidation("outputDir", "must not be empty"))
	}
	if len(errs) > 0 {
		return errs
	}

	c.InputDir = normalizePath(c.InputDir)
	c.OutputDir = normalizePath(c.OutputDir)
	if c.CacheDir == "" {
		c.CacheDir = path.Join(c.InputDir, ".cache")
	}
	c.CacheDir = normalizePath(c.CacheDir)

	if nested(c.InputDir, c.OutputDir) {
		errs = append(errs, &errors.ValidationError{
			Field:   "outputDir",
			Value:   c.OutputDir,
			Message: "input and output directories must not contain each other",
		})
	}
	return errs
}

var separatorRun = regexp.MustCompile(`[\\/]+`)

// normalizePath collapses separator runs to "/" and cleans the result.
func normalizePath(p string) string {
	return path.Clean(separatorRun.ReplaceAllString(p, "/"))
}

// nested reports whether a and b are the same directory or one contains the
// other, comparing whole path segments.
func nested(a, b string) bool {
	absA, errA := filepath.Abs(filepath.FromSlash(a))
	absB, errB := filepath.Abs(filepath.FromSlash(b))
	if errA != nil || errB != nil {
		absA, absB = a, b
	}
	return within(absA, absB) || within(absB, absA)
}

func within(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

var bareExtensionGlob = regexp.MustCompile(`^\*\.[\w]+$`)

// fixRelativeGlob widens shorthand patterns: "*.png" matches at any depth
// and an existing directory "photos" matches everything below it.
func (c *Config) fixRelativeGlob(pattern string) string {
	pattern = separatorRun.ReplaceAllString(pattern, "/")
	if bareExtensionGlob.MatchString(pattern) {
		return "**/" + pattern
	}
	if strings.ContainsAny(pattern, "*?[{") {
		return pattern
	}
	info, err := os.Stat(filepath.Join(c.InputDir, filepath.FromSlash(pattern)))
	if err != nil || !info.IsDir() {
		return pattern
	}
	return strings.TrimSuffix(pattern, "/") + "/**"
}

func (c *Config) fixGlobs(field string, patterns []string, errs *[]error) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		fixed := c.fixRelativeGlob(p)
		if !doublestar.ValidatePattern(fixed) {
			*errs = append(*errs, &errors.ValidationError{Field: field, Value: p, Message: "invalid glob pattern " + p})
			continue
		}
		out = append(out, fixed)
	}
	return out
}

func validateRule(i int, r *AdaptiveRule) []error {
	var errs []error
	field := func(name string) string {
		return "adaptive[" + strconv.Itoa(i) + "]." + name
	}

	r.Match = separatorRun.ReplaceAllString(r.Match, "/")
	if r.Match == "" || !doublestar.ValidatePattern(r.Match) {
		errs = append(errs, &errors.ValidationError{Field: field("match"), Value: r.Match, Message: "invalid glob pattern " + r.Match})
	}
	if err := validation.ValidateMarker(r.BaseModifier); err != nil {
		errs = append(errs, &errors.ValidationError{Field: field("baseModifier"), Value: r.BaseModifier, Message: err.Error(), Err: err})
	}
	for j, v := range r.Variants {
		vf := field("variants[" + strconv.Itoa(j) + "]")
		if strings.TrimSpace(v.Media) == "" {
			errs = append(errs, errors.NewValidation(vf+".media", "must not be empty"))
		}
		if v.Modifier != nil {
			if err := validation.ValidateMarker(*v.Modifier); err != nil {
				errs = append(errs, &errors.ValidationError{Field: vf + ".modifier", Value: *v.Modifier, Message: err.Error(), Err: err})
			}
		}
	}
	return errs
}

// OutputFormats returns the parsed formats. Valid after Validate.
func (c *Config) OutputFormats() []formats.Format {
	return c.outputFormats
}

// Algorithm returns the parsed hash algorithm. Valid after Validate.
func (c *Config) Algorithm() fingerprint.Algorithm {
	return c.algorithm
}

// RuleFor returns the rule set of the first adaptive rule matching asset,
// a slash path relative to InputDir, or nil when none matches.
func (c *Config) RuleFor(asset string) *variants.RuleSet {
	for _, r := range c.Adaptive {
		if ok, _ := doublestar.Match(r.Match, asset); ok {
			return r.RuleSet()
		}
	}
	return nil
}
