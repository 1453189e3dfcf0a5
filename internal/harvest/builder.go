// Package harvest builds snapshots from a source tree.
//
// A Build walks the filtered tree (or only the paths named in LimitTo),
// fingerprints every candidate, reuses entries from the previous snapshot
// whose fingerprint or content hash is unchanged, and extracts chunks for the
// rest in parallel. The merge into a single Snapshot happens on one goroutine.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/maypok86/otter"
	"golang.org/x/sync/errgroup"

	"github.com/mvp-joe/harvest/internal/extract"
	"github.com/mvp-joe/harvest/internal/filter"
	"github.com/mvp-joe/harvest/internal/snapshot"
)

var (
	// ErrInvalidRoot is returned when the root is missing or not a directory.
	ErrInvalidRoot = errors.New("invalid harvest root")

	// ErrPreviousSnapshot is returned when the previous snapshot cannot be
	// read. No traversal happens.
	ErrPreviousSnapshot = errors.New("unreadable previous snapshot")
)

// Config holds the settings shared by every Build of a Builder.
type Config struct {
	Policy     *filter.Policy
	MaxFiles   int   // 0 means unlimited
	MaxBytes   int64 // 0 means unlimited
	Workers    int   // 0 means GOMAXPROCS
	MemoSize   int   // extraction memo entries; 0 disables the memo
	Visibility extract.VisibilityPolicy
	Progress   ProgressReporter
	Logger     *slog.Logger

	// Revisions, when set, records the root's revision in the source
	// descriptor. Failures (not a repository) leave it empty.
	Revisions RevisionReader
}

// RevisionReader reports the version-control revision of a directory.
type RevisionReader interface {
	Describe(ctx context.Context, dir string) (*snapshot.Revision, error)
}

// Options select what a single Build covers.
type Options struct {
	Root string

	// Previous enables incremental mode.
	Previous *snapshot.Snapshot

	// LimitTo restricts an incremental build to these relative paths. Every
	// other previous entry is carried over verbatim. Ignored without Previous.
	LimitTo []string
}

// Builder produces snapshots. A Builder may be reused across builds but must
// not run two builds against the same output at once.
type Builder struct {
	cfg       Config
	logger    *slog.Logger
	extractor *extract.Extractor
	memo      *otter.Cache[string, extract.Result]

	// onVisit is called for every filesystem entry the walk touches.
	onVisit func(rel string)
}

// New creates a Builder.
func New(cfg Config) (*Builder, error) {
	if cfg.Policy == nil {
		policy, err := filter.New(filter.Options{})
		if err != nil {
			return nil, err
		}
		cfg.Policy = policy
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.Progress == nil {
		cfg.Progress = &NoOpProgressReporter{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b := &Builder{
		cfg:       cfg,
		logger:    logger,
		extractor: extract.New(cfg.Visibility),
	}

	if cfg.MemoSize > 0 {
		cache, err := otter.MustBuilder[string, extract.Result](cfg.MemoSize).Build()
		if err != nil {
			return nil, fmt.Errorf("failed to create extraction memo: %w", err)
		}
		b.memo = &cache
	}
	return b, nil
}

// Close releases the extraction memo.
func (b *Builder) Close() {
	if b.memo != nil {
		b.memo.Close()
	}
}

// LoadPrevious reads a previous snapshot for incremental builds. Any failure
// is a configuration error wrapping ErrPreviousSnapshot, including an
// artifact written without its data or chunks section.
func LoadPrevious(path string) (*snapshot.Snapshot, error) {
	snap, err := snapshot.Load(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrPreviousSnapshot, path, err)
	}
	if !snap.Reusable() {
		return nil, fmt.Errorf("%w: %s omits the data or chunks section", ErrPreviousSnapshot, path)
	}
	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrPreviousSnapshot, path, err)
	}
	return snap, nil
}

// Build produces a new snapshot. The previous snapshot is never modified.
func (b *Builder) Build(ctx context.Context, opts Options) (*snapshot.Snapshot, error) {
	start := time.Now()

	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRoot, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrInvalidRoot, root)
	}

	prev := newPrevIndex(opts.Previous)

	b.cfg.Progress.OnDiscoveryStart()
	var disc *discovery
	if opts.Previous != nil && opts.LimitTo != nil {
		disc, err = b.discoverLimited(ctx, root, opts.LimitTo, prev)
	} else {
		disc, err = b.discoverTree(ctx, root)
	}
	if err != nil {
		return nil, err
	}
	b.cfg.Progress.OnDiscoveryComplete(len(disc.candidates), len(disc.carried))

	results, err := b.processAll(ctx, root, disc.candidates, prev)
	if err != nil {
		return nil, err
	}

	snap, stats := b.assemble(root, disc, results, prev)
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	if b.cfg.Revisions != nil {
		rev, err := b.cfg.Revisions.Describe(ctx, root)
		if err != nil {
			b.logger.Debug("no revision recorded", "root", root, "error", err)
		}
		snap.Metadata.Source.Revision = rev
	}

	stats.Duration = time.Since(start)
	b.cfg.Progress.OnComplete(stats)
	b.logger.Debug("harvest complete",
		"root", root,
		"files", stats.Files,
		"chunks", stats.Chunks,
		"reused", stats.Reused,
		"warnings", stats.Warnings,
		"duration", stats.Duration)
	return snap, nil
}

// assemble merges carried entries and processed results into a snapshot.
func (b *Builder) assemble(root string, disc *discovery, results []fileResult, prev *prevIndex) (*snapshot.Snapshot, *Stats) {
	snap := &snapshot.Snapshot{
		Data:   make([]snapshot.FileEntry, 0, len(disc.carried)+len(results)),
		Chunks: []snapshot.Chunk{},
	}
	warnings := append([]snapshot.Warning{}, disc.warnings...)
	stats := &Stats{}

	for _, path := range disc.carried {
		i := prev.files[path]
		snap.Data = append(snap.Data, prev.snap.Data[i])
		snap.Chunks = append(snap.Chunks, prev.chunks[path]...)
		warnings = append(warnings, prev.warnings[path]...)
		stats.Reused++
	}

	for _, r := range results {
		warnings = append(warnings, r.warnings...)
		if r.entry == nil {
			continue
		}
		snap.Data = append(snap.Data, *r.entry)
		snap.Chunks = append(snap.Chunks, r.chunks...)

		switch {
		case r.reused:
			stats.Reused++
		case prev.has(r.entry.Path):
			stats.Changed++
		default:
			stats.Added++
		}
	}

	if prev.snap != nil {
		present := make(map[string]bool, len(snap.Data))
		for i := range snap.Data {
			present[snap.Data[i].Path] = true
		}
		for path := range prev.files {
			if !present[path] {
				stats.Removed++
			}
		}
	}

	sort.SliceStable(warnings, func(i, j int) bool {
		if warnings[i].Path != warnings[j].Path {
			return warnings[i].Path < warnings[j].Path
		}
		return warnings[i].Kind < warnings[j].Kind
	})

	snap.Metadata = snapshot.Metadata{
		Schema:     snapshot.Schema,
		SnapshotID: newSnapshotID(),
		Source:     snapshot.Source{Type: snapshot.SourceLocal, Root: root},
		CreatedAt:  time.Now().UTC(),
		Truncated:  disc.truncated,
		Warnings:   warnings,
		Delta: snapshot.Delta{
			Added:   stats.Added,
			Removed: stats.Removed,
			Changed: stats.Changed,
			Reused:  stats.Reused,
		},
		Sections: snapshot.AllSections(),
	}
	if prev.snap == nil {
		// Full builds report no delta.
		snap.Metadata.Delta = snapshot.Delta{}
	}
	snap.Sort()
	snap.Recount()

	stats.Files = snap.Metadata.Counts.TotalFiles
	stats.Chunks = snap.Metadata.Counts.TotalChunks
	stats.Warnings = len(warnings)
	return snap, stats
}

func newSnapshotID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// prevIndex gives path lookups into the previous snapshot.
type prevIndex struct {
	snap     *snapshot.Snapshot
	files    map[string]int
	chunks   map[string][]snapshot.Chunk
	warnings map[string][]snapshot.Warning // extraction warnings travel with reused entries
}

func newPrevIndex(s *snapshot.Snapshot) *prevIndex {
	p := &prevIndex{
		files:    map[string]int{},
		chunks:   map[string][]snapshot.Chunk{},
		warnings: map[string][]snapshot.Warning{},
	}
	if s == nil {
		return p
	}
	p.snap = s
	p.files = s.FileIndex()
	p.chunks = s.ChunksByFile()
	for _, w := range s.Metadata.Warnings {
		if w.Kind == snapshot.WarnExtraction {
			p.warnings[w.Path] = append(p.warnings[w.Path], w)
		}
	}
	return p
}

func (p *prevIndex) has(path string) bool {
	_, ok := p.files[path]
	return ok
}

func (p *prevIndex) entry(path string) *snapshot.FileEntry {
	i, ok := p.files[path]
	if !ok {
		return nil
	}
	return &p.snap.Data[i]
}

// processAll fingerprints and extracts candidates on a bounded worker pool.
// Results keep the candidate order.
func (b *Builder) processAll(ctx context.Context, root string, candidates []candidate, prev *prevIndex) ([]fileResult, error) {
	b.cfg.Progress.OnFileProcessingStart(len(candidates))

	results := make([]fileResult, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Workers)

	for i := range candidates {
		c := candidates[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = b.safeProcess(root, c, prev)
			b.cfg.Progress.OnFileProcessed(c.rel)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
