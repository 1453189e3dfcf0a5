package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mvp-joe/harvest/internal/config"
	"github.com/mvp-joe/harvest/internal/filter"
	"github.com/mvp-joe/harvest/internal/git"
	"github.com/mvp-joe/harvest/internal/harvest"
	"github.com/mvp-joe/harvest/internal/snapshot"
)

// pipeline wires the builder and store for one root.
type pipeline struct {
	root   string
	cfg    *config.Config
	logger *slog.Logger

	output string   // absolute artifact path, empty when nothing is written
	ignore []string // artifact path relative to root, when inside it
	policy *filter.Policy

	builder *harvest.Builder
	store   *snapshot.Store

	// existing is the complete snapshot found at output, if any.
	existing *snapshot.Snapshot
}

func newPipeline(root string, cfg *config.Config, progress harvest.ProgressReporter, logger *slog.Logger) (*pipeline, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", harvest.ErrInvalidRoot, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", harvest.ErrInvalidRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", harvest.ErrInvalidRoot, root)
	}

	format, err := cfg.OutputFormat()
	if err != nil {
		return nil, err
	}

	p := &pipeline{
		root:   abs,
		cfg:    cfg,
		logger: logger,
		output: cfg.OutputPath(abs),
	}
	if rel, ok := relInside(abs, p.output); ok {
		p.ignore = []string{rel}
	}

	p.policy, err = filter.New(cfg.FilterOptions(p.ignore...))
	if err != nil {
		return nil, err
	}

	var revisions harvest.RevisionReader
	if cfg.Build.Revision {
		revisions = git.NewDescriber()
	}

	p.builder, err = harvest.New(harvest.Config{
		Policy:     p.policy,
		MaxFiles:   cfg.Filter.MaxFiles,
		MaxBytes:   cfg.Filter.MaxBytes,
		Workers:    cfg.Build.Workers,
		MemoSize:   cfg.Build.MemoSize,
		Visibility: cfg.VisibilityPolicy(),
		Progress:   progress,
		Logger:     logger,
		Revisions:  revisions,
	})
	if err != nil {
		return nil, err
	}

	p.store = snapshot.NewStore(snapshot.StoreOptions{
		Path:     p.output,
		Format:   format,
		Sections: cfg.Sections(),
		Logger:   logger,
	})
	if p.output != "" {
		p.loadExisting()
	}
	return p, nil
}

// Close releases the builder.
func (p *pipeline) Close() {
	p.builder.Close()
}

// loadExisting seeds the store from the artifact at the output path so
// versions continue across runs. An artifact without data or chunks only
// carries its version forward.
func (p *pipeline) loadExisting() {
	if _, err := os.Stat(p.output); errors.Is(err, fs.ErrNotExist) {
		return
	}
	snap, err := snapshot.Load(p.output)
	if err != nil {
		p.logger.Warn("ignoring unreadable artifact, rebuilding from scratch", "path", p.output, "error", err)
		return
	}
	if !snap.Reusable() {
		p.logger.Info("artifact omits data or chunks, rebuilding all files", "path", p.output)
		p.store.Seed(&snapshot.Snapshot{Metadata: snap.Metadata})
		return
	}
	if err := snap.Validate(); err != nil {
		p.logger.Warn("ignoring inconsistent artifact, rebuilding from scratch", "path", p.output, "error", err)
		return
	}
	p.existing = snap
	p.store.Seed(snap)
}

// previous returns the snapshot an incremental build diffs against: the
// configured previous snapshot, else the existing artifact. full disables
// incremental mode.
func (p *pipeline) previous(full bool) (*snapshot.Snapshot, error) {
	if full {
		return nil, nil
	}
	if path := p.cfg.Incremental.PreviousSnapshotPath; path != "" {
		if !filepath.IsAbs(path) {
			path = filepath.Join(p.root, path)
		}
		return harvest.LoadPrevious(path)
	}
	return p.existing, nil
}

// relInside returns path relative to root in slash form when it lies inside
// root.
func relInside(root, path string) (string, bool) {
	if path == "" {
		return "", false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}
