package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"net"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mvp-joe/harvest/internal/config"
	"github.com/mvp-joe/harvest/internal/serve"
	"github.com/mvp-joe/harvest/internal/snapshot"
	"github.com/mvp-joe/harvest/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:   "serve [snapshot]",
	Short: "Serve a snapshot over HTTP",
	Long: `Serve exposes a snapshot through a JSON API:

  GET /api/meta     snapshot metadata
  GET /api/search   filtered files or chunks (limit and cursor paginate)
  GET /api/export   filtered items as NDJSON
  GET /api/file     a line range of a file's content
  GET /api/stats    counts by kind, warnings and the last delta
  GET /api/events   server-sent events on every new version

With --watch <root> the root is watched and every new version is served as
soon as it is published. With --follow the artifact is reloaded whenever
another process (harvest watch, harvest reap) rewrites it.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		watchRoot, _ := flags.GetString("watch")
		follow, _ := flags.GetBool("follow")

		configRoot := "."
		if watchRoot != "" {
			configRoot = watchRoot
		}
		cfg, err := loadBuildConfig(flags, configRoot, serveBindings)
		if err != nil {
			return err
		}

		opts := serveOptions{
			WatchRoot: watchRoot,
			Follow:    follow,
			Config:    cfg,
			Logger:    logger,
		}
		if len(args) > 0 {
			opts.Snapshot = args[0]
		}

		ctx, stop := signalContext(cmd.Context())
		defer stop()
		return runServe(ctx, opts)
	},
}

// serveBindings adds serve.addr to watchBindings.
var serveBindings = func() map[string]string {
	m := map[string]string{"serve.addr": "addr"}
	maps.Copy(m, watchBindings)
	return m
}()

func init() {
	rootCmd.AddCommand(serveCmd)
	flags := serveCmd.Flags()
	flags.String("addr", "", "listen address (default 127.0.0.1:8787)")
	flags.String("watch", "", "watch this root and serve every new version")
	flags.Bool("follow", false, "reload the snapshot whenever the artifact changes")
	addBuildFlags(flags)
	addWatchFlags(flags)
}

type serveOptions struct {
	// Snapshot is the artifact to serve. Empty means the configured output
	// path in the working directory.
	Snapshot  string
	WatchRoot string
	Follow    bool
	Config    *config.Config
	Logger    *slog.Logger

	// Listener overrides Config.Serve.Addr.
	Listener net.Listener
}

// runServe serves until ctx is cancelled.
func runServe(ctx context.Context, opts serveOptions) error {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.WatchRoot != "" && opts.Snapshot != "" {
		return errors.New("serve takes either a snapshot or --watch, not both")
	}

	g, ctx := errgroup.WithContext(ctx)

	var source serve.Source
	if opts.WatchRoot != "" {
		p, w, err := newWatchPipeline(opts.WatchRoot, opts.Config, commitLogger(opts.Logger), opts.Logger)
		if err != nil {
			return err
		}
		defer p.Close()
		source = p.store
		g.Go(func() error { return w.Run(ctx) })
	} else {
		store, path, err := openSnapshot(opts)
		if err != nil {
			return err
		}
		source = store
		if opts.Follow {
			g.Go(func() error { return store.Follow(ctx, path, opts.Config.Watch.PollInterval()) })
		}
	}

	srv := serve.New(source, serve.Options{Logger: opts.Logger})
	g.Go(func() error {
		if opts.Listener != nil {
			return srv.Serve(ctx, opts.Listener)
		}
		return srv.Run(ctx, opts.Config.Serve.Addr)
	})
	return g.Wait()
}

// openSnapshot loads the artifact into an in-memory store. A missing
// artifact is only an error when it is not followed.
func openSnapshot(opts serveOptions) (*snapshot.Store, string, error) {
	path := opts.Snapshot
	if path == "" {
		path = opts.Config.OutputPath(".")
	}
	if path == "" {
		return nil, "", ErrNoOutput
	}
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, "", err
	}

	store := snapshot.NewStore(snapshot.StoreOptions{Logger: opts.Logger})
	snap, err := snapshot.Load(path)
	if err == nil {
		err = snap.Validate()
	}
	switch {
	case err == nil:
		store.Seed(snap)
	case opts.Follow && errors.Is(err, fs.ErrNotExist):
		opts.Logger.Info("waiting for snapshot to be written", "path", path)
	default:
		return nil, "", fmt.Errorf("failed to open snapshot %s: %w", path, err)
	}
	return store, path, nil
}

// commitLogger reports watcher commits through the logger.
func commitLogger(logger *slog.Logger) func(res watcher.CommitResult) {
	return func(res watcher.CommitResult) {
		if res.Err != nil {
			logger.Warn("rebuild failed, will retry", "error", res.Err)
			return
		}
		logger.Info("snapshot published", "version", res.Version, "changed", len(res.Paths), "duration", res.Duration)
	}
}
