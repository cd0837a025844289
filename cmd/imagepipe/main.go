// Command imagepipe plans incremental responsive-image builds.
// It discovers source images, diffs them against a cache index and prints
// the <source> descriptors and output files each image needs.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"

	"github.com/FocuswithJustin/imagepipe/core/cacheindex"
	"github.com/FocuswithJustin/imagepipe/internal/config"
	"github.com/FocuswithJustin/imagepipe/internal/logging"
	"github.com/FocuswithJustin/imagepipe/internal/pipeline"
	"github.com/FocuswithJustin/imagepipe/internal/sqlite"
	"github.com/FocuswithJustin/imagepipe/internal/validation"
)

const version = "0.1.0"

// stdout receives command output. Logs go to stderr.
var stdout io.Writer = os.Stdout

type cli struct {
	// Global flags
	Config       string   `name:"config" short:"c" env:"IMAGEPIPE_CONFIG" help:"Config file (.json, .jsonc, .yaml); defaults to ${default_config} when present"`
	InputDir     string   `name:"input-dir" short:"i" env:"IMAGEPIPE_INPUT_DIR" help:"Directory containing source images"`
	OutputDir    string   `name:"output-dir" short:"o" env:"IMAGEPIPE_OUTPUT_DIR" help:"Directory receiving derived images"`
	CacheDir     string   `name:"cache-dir" env:"IMAGEPIPE_CACHE_DIR" help:"Directory holding the cache index (default: <input-dir>/.cache)"`
	Format       []string `name:"format" short:"f" env:"IMAGEPIPE_FORMATS" sep:"," help:"Output formats, most preferred first (original, webp, avif, png, jpg, jpeg, gif)"`
	Hash         string   `name:"hash" env:"IMAGEPIPE_HASH" help:"Fingerprint digest (md5 or blake3)"`
	IndexBackend string   `name:"index-backend" env:"IMAGEPIPE_INDEX_BACKEND" help:"Cache index storage (json or sqlite)"`
	Workers      int      `name:"workers" short:"w" env:"IMAGEPIPE_WORKERS" help:"Parallel hashing workers (0 = auto)"`
	Verbose      bool     `name:"verbose" short:"v" env:"IMAGEPIPE_VERBOSE" help:"Log every asset at debug level"`
	LogFormat    string   `name:"log-format" env:"IMAGEPIPE_LOG_FORMAT" default:"text" enum:"text,json" help:"Log format (text or json)"`

	Plan    PlanCmd    `cmd:"" help:"Plan the build: diff assets and list descriptors and outputs"`
	Diff    DiffCmd    `cmd:"" help:"Show added, changed and removed assets"`
	Sources SourcesCmd `cmd:"" help:"Print the source descriptors for one image"`
	Index   IndexGroup `cmd:"" help:"Cache index maintenance"`
	Version VersionCmd `cmd:"" help:"Print version information"`
}

// CLI defines the command-line interface for imagepipe.
var CLI cli

// IndexGroup contains cache index operations.
type IndexGroup struct {
	Show   IndexShowCmd   `cmd:"" help:"List index entries"`
	Export IndexExportCmd `cmd:"" help:"Write an xz-compressed index snapshot"`
	Import IndexImportCmd `cmd:"" help:"Replace the index with a snapshot"`
	Clear  IndexClearCmd  `cmd:"" help:"Remove every index entry"`
}

// loadConfig resolves the configuration from the global flags and sets up
// logging to match.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(CLI.Config, config.Overrides{
		InputDir:     CLI.InputDir,
		OutputDir:    CLI.OutputDir,
		CacheDir:     CLI.CacheDir,
		Formats:      CLI.Format,
		Hash:         CLI.Hash,
		IndexBackend: CLI.IndexBackend,
		Workers:      CLI.Workers,
		Verbose:      CLI.Verbose,
	})
	if err != nil {
		return nil, err
	}

	level := logging.LevelInfo
	if cfg.Verbose {
		level = logging.LevelDebug
	}
	logging.InitLogger(level, logging.ParseFormat(CLI.LogFormat))
	return cfg, nil
}

func openIndex(ctx context.Context) (*cacheindex.Index, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	idx, err := cacheindex.Open(pipeline.IndexStore(cfg))
	if err != nil {
		logging.CacheWarning(ctx, idx.Location(), err)
	}
	return idx, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// PlanCmd plans a build.
type PlanCmd struct {
	DryRun bool `name:"dry-run" help:"Do not save the cache index"`
}

func (c *PlanCmd) Run(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	p, err := pipeline.New(cfg)
	if err != nil {
		return err
	}

	plan, err := p.Plan(ctx, pipeline.PlanOptions{DryRun: c.DryRun})
	if plan == nil {
		return err
	}
	if perr := printJSON(plan); perr != nil {
		return perr
	}
	if err != nil {
		return err
	}
	if err := plan.Err(); err != nil {
		return fmt.Errorf("%d asset(s) failed: %w", len(plan.Failures), err)
	}
	return nil
}

// DiffCmd classifies assets against the cache index.
type DiffCmd struct {
	DryRun bool `name:"dry-run" help:"Do not save the cache index"`
}

func (c *DiffCmd) Run(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	p, err := pipeline.New(cfg)
	if err != nil {
		return err
	}

	d, err := p.Diff(ctx, pipeline.PlanOptions{DryRun: c.DryRun})
	if err != nil {
		return err
	}
	if d.Added == nil {
		d.Added = []string{}
	}
	if d.Changed == nil {
		d.Changed = []string{}
	}
	if d.Removed == nil {
		d.Removed = []string{}
	}
	return printJSON(d)
}

// SourcesCmd prints descriptors for one image.
type SourcesCmd struct {
	Asset string `arg:"" help:"Image path relative to the input directory"`
}

func (c *SourcesCmd) Run(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	p, err := pipeline.New(cfg)
	if err != nil {
		return err
	}

	ap, err := p.Sources(c.Asset)
	if err != nil {
		return err
	}
	return printJSON(ap)
}

// IndexShowCmd lists the cache index.
type IndexShowCmd struct{}

type indexSummary struct {
	Location string             `json:"location"`
	Size     string             `json:"size,omitempty"`
	Count    int                `json:"count"`
	Entries  []cacheindex.Entry `json:"entries"`
}

func (c *IndexShowCmd) Run(ctx context.Context) error {
	idx, err := openIndex(ctx)
	if err != nil {
		return err
	}

	summary := indexSummary{
		Location: idx.Location(),
		Count:    idx.Len(),
		Entries:  idx.Entries(),
	}
	if info, err := os.Stat(idx.Location()); err == nil {
		summary.Size = humanize.Bytes(uint64(info.Size()))
	}
	return printJSON(summary)
}

// IndexExportCmd writes a snapshot of the index.
type IndexExportCmd struct {
	File string `arg:"" help:"Snapshot file to write (.xz)"`
}

func (c *IndexExportCmd) Run(ctx context.Context) error {
	idx, err := openIndex(ctx)
	if err != nil {
		return err
	}

	f, err := os.Create(c.File)
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	if err := cacheindex.ExportSnapshot(f, idx.Entries()); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}

	logging.InfoContext(ctx, "index_exported", "file", c.File, "entries", idx.Len())
	return nil
}

// IndexImportCmd replaces the index with a snapshot.
type IndexImportCmd struct {
	File string `arg:"" help:"Snapshot file to read" type:"existingfile"`
}

func (c *IndexImportCmd) Run(ctx context.Context) error {
	f, err := os.Open(c.File)
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	if ft, err := validation.ValidateFileType(f, c.File); err != nil {
		return err
	} else if ft != validation.FileTypeXZ {
		return fmt.Errorf("snapshot %s is %s, not xz", c.File, ft)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind snapshot: %w", err)
	}

	entries, err := cacheindex.ImportSnapshot(f)
	if err != nil {
		return err
	}

	idx, err := openIndex(ctx)
	if err != nil {
		return err
	}
	idx.Replace(entries)
	if err := idx.Save(); err != nil {
		return err
	}

	logging.InfoContext(ctx, "index_imported", "file", c.File, "entries", idx.Len())
	return nil
}

// IndexClearCmd empties the index.
type IndexClearCmd struct{}

func (c *IndexClearCmd) Run(ctx context.Context) error {
	idx, err := openIndex(ctx)
	if err != nil {
		return err
	}
	removed := idx.Len()
	idx.Clear()
	if err := idx.Save(); err != nil {
		return err
	}

	logging.InfoContext(ctx, "index_cleared", "location", idx.Location(), "removed", removed)
	return nil
}

// VersionCmd prints version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	info := sqlite.GetInfo()
	fmt.Fprintf(stdout, "imagepipe version %s (sqlite: %s)\n", version, info.DriverType)
	return nil
}

func main() {
	// A missing .env is fine; values already in the environment win.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logging.WithRunID(ctx, logging.NewRunID())

	kctx := kong.Parse(&CLI,
		kong.Name("imagepipe"),
		kong.Description("Incremental responsive-image build planner"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{"default_config": config.DefaultFile},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)
	err := kctx.Run()
	kctx.FatalIfErrorf(err)
}
