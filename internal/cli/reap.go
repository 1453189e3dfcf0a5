package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mvp-joe/harvest/internal/config"
	"github.com/mvp-joe/harvest/internal/harvest"
	"github.com/mvp-joe/harvest/internal/snapshot"
)

// ErrNoOutput is returned by reap when no artifact path is configured.
var ErrNoOutput = errors.New("no output path configured")

// buildBindings maps configuration keys to the build flags shared by reap,
// watch and serve --watch.
var buildBindings = map[string]string{
	"output.path":                        "out",
	"output.format":                      "format",
	"filter.max_files":                   "max-files",
	"filter.max_bytes":                   "max-bytes",
	"filter.only_ext":                    "only-ext",
	"filter.skip_ext":                    "skip-ext",
	"filter.skip_folder":                 "skip-folder",
	"filter.no_default_excludes":         "no-default-excludes",
	"incremental.previous_snapshot_path": "previous",
	"build.workers":                      "workers",
}

// addBuildFlags registers the flags in buildBindings.
func addBuildFlags(flags *pflag.FlagSet) {
	flags.StringP("out", "o", "", "snapshot artifact path (default .harvest/snapshot.harvest.json in the root)")
	flags.String("format", "", "artifact format: json, jsonl or sqlite (default from the --out extension)")
	flags.Int("max-files", 0, "maximum number of harvested files")
	flags.Int64("max-bytes", 0, "files larger than this are recorded path-only")
	flags.StringSlice("only-ext", nil, "only harvest these extensions (comma-separated)")
	flags.StringSlice("skip-ext", nil, "never harvest these extensions (comma-separated)")
	flags.StringSlice("skip-folder", nil, "skip these folder names or glob patterns")
	flags.Bool("no-default-excludes", false, "disable the built-in folder and extension excludes")
	flags.String("previous", "", "previous snapshot for an incremental build (default the existing artifact)")
	flags.Int("workers", 0, "extraction workers (default GOMAXPROCS)")
}

// loadBuildConfig loads the configuration for root. Paths given as flags are
// relative to the working directory; paths in the config file are relative
// to the root.
func loadBuildConfig(flags *pflag.FlagSet, root string, bindings map[string]string) (*config.Config, error) {
	cfg, err := loadConfig(flags, root, bindings)
	if err != nil {
		return nil, err
	}
	for name, dst := range map[string]*string{
		"out":      &cfg.Output.Path,
		"previous": &cfg.Incremental.PreviousSnapshotPath,
	} {
		if f := flags.Lookup(name); f != nil && f.Changed && *dst != "" {
			abs, err := filepath.Abs(*dst)
			if err != nil {
				return nil, err
			}
			*dst = abs
		}
	}
	// An explicit --out picks its format from the extension unless --format
	// is given too.
	if out, format := flags.Lookup("out"), flags.Lookup("format"); out != nil && out.Changed && (format == nil || !format.Changed) {
		cfg.Output.Format = ""
	}
	return cfg, nil
}

var reapCmd = &cobra.Command{
	Use:   "reap [root]",
	Short: "Harvest a source tree into a snapshot",
	Long: `Reap walks the root (default the current directory), extracts top-level
code structure and writes a new snapshot version to the artifact.

When the artifact already exists the build is incremental: files whose
modification time and size are unchanged are reused without being read.
Use --full to rebuild every file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := "."
		if len(args) > 0 {
			root = args[0]
		}
		cfg, err := loadBuildConfig(cmd.Flags(), root, buildBindings)
		if err != nil {
			return err
		}
		full, _ := cmd.Flags().GetBool("full")

		ctx, stop := signalContext(cmd.Context())
		defer stop()

		snap, path, err := runReap(ctx, reapOptions{
			Root:   root,
			Config: cfg,
			Full:   full,
			Quiet:  quiet,
			Out:    cmd.ErrOrStderr(),
			Logger: logger,
		})
		if err != nil {
			return err
		}
		if !quiet {
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Snapshot v%d written to %s\n", snap.Metadata.Version, path)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reapCmd)
	addBuildFlags(reapCmd.Flags())
	reapCmd.Flags().Bool("full", false, "ignore the previous snapshot and rebuild every file")
}

type reapOptions struct {
	Root   string
	Config *config.Config
	Full   bool
	Quiet  bool
	Out    io.Writer // progress output
	Logger *slog.Logger
}

// runReap builds and publishes one snapshot. It returns the published
// snapshot and the artifact path.
func runReap(ctx context.Context, opts reapOptions) (*snapshot.Snapshot, string, error) {
	if opts.Config.Output.Path == "" {
		return nil, "", ErrNoOutput
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	p, err := newPipeline(opts.Root, opts.Config, NewCLIProgressReporter(opts.Out, opts.Quiet), opts.Logger)
	if err != nil {
		return nil, "", err
	}
	defer p.Close()

	prev, err := p.previous(opts.Full)
	if err != nil {
		return nil, "", err
	}
	if prev != nil {
		opts.Logger.Debug("incremental build", "root", p.root, "files", len(prev.Data), "version", prev.Metadata.Version)
	}

	snap, err := p.builder.Build(ctx, harvest.Options{Root: p.root, Previous: prev})
	if err != nil {
		return nil, "", err
	}
	if err := p.store.Publish(ctx, snap); err != nil {
		return nil, "", err
	}
	return snap, p.output, nil
}
