package harvest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mvp-joe/harvest/internal/filter"
	"github.com/mvp-joe/harvest/internal/identity"
	"github.com/mvp-joe/harvest/internal/snapshot"
)

// candidate is a file selected for processing, with its stat fingerprint.
type candidate struct {
	rel      string
	decision filter.Decision
	size     int64
	mtime    int64 // unix nanoseconds
}

// discovery is the outcome of the walk phase.
type discovery struct {
	candidates []candidate
	carried    []string // previous paths reused without touching the filesystem
	warnings   []snapshot.Warning
	truncated  bool
}

func (d *discovery) warn(rel string, err error) {
	d.warnings = append(d.warnings, snapshot.Warning{Path: rel, Kind: snapshot.WarnPath, Message: err.Error()})
}

func (d *discovery) limitReached(rel string, max int) {
	d.truncated = true
	d.warnings = append(d.warnings, snapshot.Warning{
		Path:    rel,
		Kind:    snapshot.WarnLimit,
		Message: fmt.Sprintf("max_files limit of %d reached", max),
	})
}

// discoverTree walks the whole tree. Skipped directories are pruned, so
// nothing below them is ever read.
func (b *Builder) discoverTree(ctx context.Context, root string) (*discovery, error) {
	d := &discovery{}

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return err
		}
		if b.onVisit != nil {
			b.onVisit(rel)
		}

		if err != nil {
			d.warn(rel, err)
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if entry.IsDir() {
			if b.cfg.Policy.Classify(rel, true) == filter.Skip {
				return filepath.SkipDir
			}
			return nil
		}

		// Symlinks and special files are not followed.
		if !entry.Type().IsRegular() {
			return nil
		}

		decision := b.cfg.Policy.Classify(rel, false)
		if decision == filter.Skip {
			return nil
		}

		if b.cfg.MaxFiles > 0 && len(d.candidates) >= b.cfg.MaxFiles {
			d.limitReached(rel, b.cfg.MaxFiles)
			return filepath.SkipAll
		}

		info, err := entry.Info()
		if err != nil {
			d.warn(rel, err)
			return nil
		}
		d.candidates = append(d.candidates, candidate{
			rel:      rel,
			decision: decision,
			size:     info.Size(),
			mtime:    info.ModTime().UnixNano(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	return d, nil
}

// discoverLimited re-examines only the given paths. Every other previous
// entry is carried over; limited paths that vanished or are now excluded are
// dropped.
func (b *Builder) discoverLimited(ctx context.Context, root string, limit []string, prev *prevIndex) (*discovery, error) {
	d := &discovery{truncated: prev.snap.Metadata.Truncated}

	targets := make(map[string]bool, len(limit))
	for _, p := range limit {
		rel := identity.NormalizePath(p)
		if rel == "" || rel == ".." || strings.HasPrefix(rel, "../") || filepath.IsAbs(rel) {
			continue
		}
		targets[rel] = true
	}

	for i := range prev.snap.Data {
		if path := prev.snap.Data[i].Path; !targets[path] {
			d.carried = append(d.carried, path)
		}
	}

	paths := make([]string, 0, len(targets))
	for rel := range targets {
		paths = append(paths, rel)
	}
	sort.Strings(paths)

	for _, rel := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if b.onVisit != nil {
			b.onVisit(rel)
		}

		info, err := os.Lstat(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				d.warn(rel, err)
			}
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}

		decision := b.cfg.Policy.Classify(rel, false)
		if decision == filter.Skip {
			continue
		}

		if b.cfg.MaxFiles > 0 && len(d.carried)+len(d.candidates) >= b.cfg.MaxFiles {
			d.limitReached(rel, b.cfg.MaxFiles)
			break
		}

		d.candidates = append(d.candidates, candidate{
			rel:      rel,
			decision: decision,
			size:     info.Size(),
			mtime:    info.ModTime().UnixNano(),
		})
	}
	return d, nil
}
