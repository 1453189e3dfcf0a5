package cli

import (
	"fmt"
	"io"
	"log/slog"
	"maps"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mvp-joe/harvest/internal/config"
	"github.com/mvp-joe/harvest/internal/harvest"
	"github.com/mvp-joe/harvest/internal/watcher"
)

// watchBindings adds the watch flags to buildBindings.
var watchBindings = func() map[string]string {
	m := map[string]string{
		"watch.poll_interval_seconds": "poll-interval",
		"watch.debounce_milliseconds": "debounce",
		"watch.only_ext":              "watch-only-ext",
		"watch.skip_ext":              "watch-skip-ext",
		"watch.notify":                "notify",
	}
	maps.Copy(m, buildBindings)
	return m
}()

func addWatchFlags(flags *pflag.FlagSet) {
	flags.Float64("poll-interval", 0, "seconds between scans (default 1)")
	flags.Int("debounce", 0, "quiet period in milliseconds before a rebuild (default 800)")
	flags.StringSlice("watch-only-ext", nil, "only react to changes of these extensions")
	flags.StringSlice("watch-skip-ext", nil, "ignore changes of these extensions")
	flags.Bool("notify", false, "use file system notifications to react between scans")
}

var watchCmd = &cobra.Command{
	Use:   "watch [root]",
	Short: "Keep a snapshot current while files change",
	Long: `Watch polls the root (default the current directory) and publishes a new
snapshot version after a quiet period following each change. Only the changed
files are rebuilt; everything else is carried over from the current snapshot.

An existing artifact is reused at startup and refreshed once to pick up
changes made while nothing was watching.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := "."
		if len(args) > 0 {
			root = args[0]
		}
		cfg, err := loadBuildConfig(cmd.Flags(), root, watchBindings)
		if err != nil {
			return err
		}

		ctx, stop := signalContext(cmd.Context())
		defer stop()

		p, w, err := newWatchPipeline(root, cfg, commitPrinter(cmd.OutOrStdout()), logger)
		if err != nil {
			return err
		}
		defer p.Close()

		if !quiet {
			fmt.Fprintf(cmd.OutOrStdout(), "Watching %s (Ctrl+C to stop)\n", p.root)
		}
		return w.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	addBuildFlags(watchCmd.Flags())
	addWatchFlags(watchCmd.Flags())
}

// newWatchPipeline creates the pipeline for root and a watcher publishing to
// its store. Builds run without progress bars.
func newWatchPipeline(root string, cfg *config.Config, onCommit func(watcher.CommitResult), logger *slog.Logger) (*pipeline, *watcher.Watcher, error) {
	p, err := newPipeline(root, cfg, &harvest.NoOpProgressReporter{}, logger)
	if err != nil {
		return nil, nil, err
	}
	w, err := watcher.New(p.builder, p.store, watcher.Options{
		Root:         p.root,
		Policy:       p.policy,
		PollInterval: cfg.Watch.PollInterval(),
		Debounce:     cfg.Watch.Debounce(),
		OnlyExt:      cfg.Watch.OnlyExt,
		SkipExt:      cfg.Watch.SkipExt,
		Ignore:       p.ignore,
		Notify:       cfg.Watch.Notify,
		Resync:       p.store.Current() != nil,
		Logger:       logger,
		OnCommit:     onCommit,
	})
	if err != nil {
		p.Close()
		return nil, nil, err
	}
	return p, w, nil
}

// commitPrinter reports each commit on out unless --quiet is set.
func commitPrinter(out io.Writer) func(watcher.CommitResult) {
	return func(res watcher.CommitResult) {
		if quiet {
			return
		}
		switch {
		case res.Err != nil:
			fmt.Fprintf(out, "✗ Rebuild failed, will retry: %v\n", res.Err)
		case res.Paths == nil:
			fmt.Fprintf(out, "✓ Snapshot v%d (full refresh, %.1fs)\n", res.Version, res.Duration.Seconds())
		default:
			fmt.Fprintf(out, "✓ Snapshot v%d (%s changed, %.1fs)\n", res.Version, formatNumber(len(res.Paths)), res.Duration.Seconds())
		}
	}
}
