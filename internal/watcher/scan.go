package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"

	"github.com/mvp-joe/harvest/internal/filter"
	"github.com/mvp-joe/harvest/internal/harvest"
	"github.com/mvp-joe/harvest/internal/identity"
)

// editorTempPatterns match base names of files editors and downloaders write
// while saving. They never count as changes.
var editorTempPatterns = []string{
	".#*", "#*#", "*~", "*.swp", "*.swx", "*.swo", "*.tmp", "*.part", "*.crdownload",
}

// scanFilter decides which files the watcher fingerprints.
type scanFilter struct {
	root    string
	policy  *filter.Policy
	onlyExt []string
	skipExt []string
	temp    []glob.Glob
	ignore  map[string]bool
}

func newScanFilter(opts Options) (*scanFilter, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, err
	}

	sf := &scanFilter{
		root:    root,
		policy:  opts.Policy,
		onlyExt: normalizeExts(opts.OnlyExt),
		skipExt: normalizeExts(opts.SkipExt),
		ignore:  make(map[string]bool, len(opts.Ignore)),
	}
	for _, p := range editorTempPatterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", filter.ErrInvalidPattern, p, err)
		}
		sf.temp = append(sf.temp, g)
	}
	for _, p := range opts.Ignore {
		if filepath.IsAbs(p) {
			rel, err := filepath.Rel(root, p)
			if err != nil {
				continue
			}
			p = rel
		}
		sf.ignore[identity.NormalizePath(filepath.ToSlash(p))] = true
	}
	return sf, nil
}

func normalizeExts(exts []string) []string {
	var out []string
	for _, e := range exts {
		if n := filter.NormalizeExt(e); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// watched reports whether a file path participates in change detection.
func (sf *scanFilter) watched(rel string) bool {
	if sf.ignore[rel] {
		return false
	}

	base := path.Base(rel)
	for _, g := range sf.temp {
		if g.Match(base) {
			return false
		}
	}

	lower := strings.ToLower(base)
	for _, ext := range sf.skipExt {
		if strings.HasSuffix(lower, ext) {
			return false
		}
	}
	if len(sf.onlyExt) > 0 {
		for _, ext := range sf.onlyExt {
			if strings.HasSuffix(lower, ext) {
				return sf.policy.Classify(rel, false) != filter.Skip
			}
		}
		return false
	}
	return sf.policy.Classify(rel, false) != filter.Skip
}

// scan fingerprints every watched file. Paths that fail to stat keep their
// fingerprint from prev for this tick and are reported in errored.
func (w *Watcher) scan(ctx context.Context, prev map[string]string) (map[string]string, map[string]bool, error) {
	sf := w.filter
	cur := make(map[string]string, len(prev))
	errored := map[string]bool{}

	err := filepath.WalkDir(sf.root, func(p string, d fs.DirEntry, err error) error {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}

		rel, relErr := filepath.Rel(sf.root, p)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return err
		}

		if err != nil {
			if d != nil && d.IsDir() {
				// Keep everything we knew below an unreadable directory.
				prefix := rel + "/"
				for known, fp := range prev {
					if strings.HasPrefix(known, prefix) {
						cur[known] = fp
						errored[known] = true
					}
				}
				return filepath.SkipDir
			}
			if fp, ok := prev[rel]; ok {
				cur[rel] = fp
			}
			errored[rel] = true
			return nil
		}

		if d.IsDir() {
			if sf.policy.Classify(rel, true) == filter.Skip {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !sf.watched(rel) {
			return nil
		}

		info, err := d.Info()
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			if fp, ok := prev[rel]; ok {
				cur[rel] = fp
			}
			errored[rel] = true
			return nil
		}
		cur[rel] = harvest.Fingerprint(info.ModTime().UnixNano(), info.Size())
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return cur, errored, nil
}
