// Package filter decides, per path, whether a file is skipped, recorded
// path-only, or fully processed.
package filter

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/gobwas/glob"
)

// ErrInvalidPattern is returned when a skip-folder glob does not compile.
var ErrInvalidPattern = errors.New("invalid folder pattern")

// Decision is the outcome of classifying a path.
type Decision int

const (
	// Skip drops the path. For a directory the whole subtree is pruned.
	Skip Decision = iota
	// PathOnly records the file's metadata without content or chunks.
	PathOnly
	// Process reads the file and extracts chunks.
	Process
)

func (d Decision) String() string {
	switch d {
	case Skip:
		return "skip"
	case PathOnly:
		return "path_only"
	case Process:
		return "process"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Options are the user-facing filter settings.
type Options struct {
	OnlyExt           []string
	SkipExt           []string
	SkipFolder        []string // directory names or glob patterns over relative paths
	NoDefaultExcludes bool
	IgnorePaths       []string // exact relative paths always skipped (output artifacts)
}

// compiledPattern holds both the pattern string and compiled glob
type compiledPattern struct {
	pattern string
	glob    glob.Glob
	// top matches first-level directories for "**/x" patterns, which the
	// separator-aware glob would otherwise require a leading slash for.
	top glob.Glob
}

// Policy classifies paths. It is immutable after New and safe for concurrent use.
type Policy struct {
	onlyExt     extSet
	skipExt     extSet
	folderNames map[string]bool
	folderGlobs []compiledPattern
	ignore      map[string]bool

	defaults        bool
	defaultFolders  map[string]bool
	defaultSkipExt  extSet
	defaultPathOnly extSet
	defaultFiles    map[string]bool
}

// New builds a Policy from options. Invalid glob patterns are reported as
// ErrInvalidPattern.
func New(opts Options) (*Policy, error) {
	p := &Policy{
		onlyExt:         newExtSet(opts.OnlyExt),
		skipExt:         newExtSet(opts.SkipExt),
		folderNames:     make(map[string]bool),
		ignore:          make(map[string]bool),
		defaults:        !opts.NoDefaultExcludes,
		defaultFolders:  toSet(DefaultSkipFolders),
		defaultSkipExt:  newExtSet(DefaultSkipExt),
		defaultPathOnly: newExtSet(DefaultPathOnlyExt),
		defaultFiles:    toSet(DefaultSkipFiles),
	}

	for _, raw := range opts.SkipFolder {
		pattern := strings.Trim(strings.TrimSpace(strings.ReplaceAll(raw, "\\", "/")), "/")
		if pattern == "" {
			continue
		}
		if !strings.ContainsAny(pattern, "/*?[{") {
			p.folderNames[pattern] = true
			continue
		}
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPattern, raw, err)
		}
		cp := compiledPattern{pattern: pattern, glob: g}
		if rest, ok := strings.CutPrefix(pattern, "**/"); ok {
			if top, err := glob.Compile(rest, '/'); err == nil {
				cp.top = top
			}
		}
		p.folderGlobs = append(p.folderGlobs, cp)
	}

	for _, ip := range opts.IgnorePaths {
		if ip = cleanRel(ip); ip != "" {
			p.ignore[ip] = true
		}
	}

	return p, nil
}

// Classify returns the decision for a slash-separated path relative to the
// harvest root. Files are also checked against every ancestor directory, so a
// path handed in directly (without a walk) gets the same answer the walk
// would have given.
func (p *Policy) Classify(relPath string, isDir bool) Decision {
	rel := cleanRel(relPath)
	if rel == "" {
		// The root itself is always walked.
		return Process
	}

	if isDir {
		if p.skipDir(rel) {
			return Skip
		}
		return Process
	}

	for dir := path.Dir(rel); dir != "." && dir != "/" && dir != ""; dir = path.Dir(dir) {
		if p.skipDir(dir) {
			return Skip
		}
	}
	return p.classifyFile(rel)
}

// skipDir reports whether a directory (relative path) is pruned.
func (p *Policy) skipDir(rel string) bool {
	name := path.Base(rel)
	if p.folderNames[name] {
		return true
	}
	for _, cp := range p.folderGlobs {
		if cp.glob.Match(rel) {
			return true
		}
		if cp.top != nil && !strings.Contains(rel, "/") && cp.top.Match(rel) {
			return true
		}
	}
	if p.defaults {
		if strings.HasPrefix(name, ".") || p.defaultFolders[name] {
			return true
		}
	}
	return false
}

func (p *Policy) classifyFile(rel string) Decision {
	name := path.Base(rel)
	lower := strings.ToLower(name)

	if p.ignore[rel] {
		return Skip
	}
	for _, suffix := range ArtifactSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return Skip
		}
	}

	if p.skipExt.match(lower) {
		return Skip
	}

	if !p.onlyExt.empty() {
		if !p.onlyExt.match(lower) {
			return Skip
		}
		// An explicit include wins over the default skip and path-only sets.
		return Process
	}

	if p.defaults {
		if strings.HasPrefix(name, ".") || p.defaultFiles[name] {
			return Skip
		}
		if p.defaultSkipExt.match(lower) {
			return Skip
		}
		if p.defaultPathOnly.match(lower) {
			return PathOnly
		}
	}
	return Process
}

// extSet matches lower-cased file names against extensions. Multi-dot
// entries such as ".min.js" are matched as name suffixes.
type extSet struct {
	simple   map[string]bool
	compound []string
}

func newExtSet(exts []string) extSet {
	s := extSet{simple: make(map[string]bool)}
	for _, e := range exts {
		e = NormalizeExt(e)
		if e == "" {
			continue
		}
		if strings.Count(e, ".") > 1 {
			s.compound = append(s.compound, e)
		} else {
			s.simple[e] = true
		}
	}
	return s
}

func (s extSet) empty() bool { return len(s.simple) == 0 && len(s.compound) == 0 }

func (s extSet) match(lowerName string) bool {
	if ext := path.Ext(lowerName); ext != "" && s.simple[ext] {
		return true
	}
	for _, c := range s.compound {
		if strings.HasSuffix(lowerName, c) {
			return true
		}
	}
	return false
}

// NormalizeExt lower-cases an extension and ensures a leading dot, so "PY",
// "py" and ".py" are equivalent.
func NormalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// SplitList splits a comma separated flag value into trimmed, non-empty items.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func cleanRel(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	return p
}

func toSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}
