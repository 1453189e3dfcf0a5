// Package query filters the files and chunks of a completed snapshot.
//
// A Filter is compiled once (patterns, regular expressions, field lists are
// validated up front) and then applied to any number of snapshots. Filters
// that only make sense for one entity are rejected for the other, so a typo
// in a request never silently returns everything.
package query

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/gobwas/glob"

	"github.com/mvp-joe/harvest/internal/extract"
	"github.com/mvp-joe/harvest/internal/snapshot"
)

// Entity selects which snapshot section a query runs over.
type Entity string

const (
	EntityFiles  Entity = "files"
	EntityChunks Entity = "chunks"
)

// ParseEntity validates an entity name. Empty means files.
func ParseEntity(s string) (Entity, error) {
	switch Entity(strings.ToLower(strings.TrimSpace(s))) {
	case "", EntityFiles, "data":
		return EntityFiles, nil
	case EntityChunks:
		return EntityChunks, nil
	default:
		return "", &ValidationError{Field: "entity", Value: s, Message: "unknown entity", Hint: "Use files or chunks."}
	}
}

// Filter is the user-facing query definition. Zero values mean "no constraint".
type Filter struct {
	Entity      Entity
	Language    string
	Kind        string // chunks only
	PathGlob    string // fnmatch style; * also matches across directories
	PathRegex   string
	SymbolRegex string // chunks only
	Public      *bool  // chunks only
	MinLines    int    // chunks only
	MaxLines    int    // chunks only
	ExportNamed string // files only
	HasDefault  bool   // files only
	Fields      []string
}

// Query is a compiled Filter. It is immutable and safe for concurrent use.
type Query struct {
	filter   Filter
	glob     glob.Glob
	pathRe   *regexp.Regexp
	symbolRe *regexp.Regexp
	fields   []string
}

// Compile validates a filter. Every problem is reported in one ValidationErrors.
func Compile(f Filter) (*Query, error) {
	var errs ValidationErrors

	entity, err := ParseEntity(string(f.Entity))
	var ve *ValidationError
	if errors.As(err, &ve) {
		errs = append(errs, *ve)
		entity = EntityFiles
	}
	f.Entity = entity
	q := &Query{filter: f}

	if f.PathGlob != "" {
		g, err := glob.Compile(f.PathGlob)
		if err != nil {
			errs.Add("path_glob", f.PathGlob, "invalid glob", err.Error())
		}
		q.glob = g
	}
	if f.PathRegex != "" {
		re, err := regexp.Compile(f.PathRegex)
		if err != nil {
			errs.Add("path_regex", f.PathRegex, "invalid regular expression", err.Error())
		}
		q.pathRe = re
	}
	if f.SymbolRegex != "" {
		re, err := regexp.Compile(f.SymbolRegex)
		if err != nil {
			errs.Add("symbol_regex", f.SymbolRegex, "invalid regular expression", err.Error())
		}
		q.symbolRe = re
	}

	if f.MinLines < 0 {
		errs.Add("min_lines", fmt.Sprint(f.MinLines), "cannot be negative", "")
	}
	if f.MaxLines < 0 {
		errs.Add("max_lines", fmt.Sprint(f.MaxLines), "cannot be negative", "")
	}
	if f.MaxLines > 0 && f.MinLines > f.MaxLines {
		errs.Add("min_lines", fmt.Sprint(f.MinLines), "exceeds max_lines", "")
	}
	if f.Kind != "" && !validKind(f.Kind) {
		errs.Add("kind", f.Kind, "unknown chunk kind",
			"Use function, class, method, export_named, export_default or other.")
	}

	switch entity {
	case EntityFiles:
		for field, set := range map[string]bool{
			"kind":         f.Kind != "",
			"symbol_regex": f.SymbolRegex != "",
			"public":       f.Public != nil,
			"min_lines":    f.MinLines != 0,
			"max_lines":    f.MaxLines != 0,
		} {
			if set {
				errs.Add(field, "", "applies to chunks only", "Set entity to chunks.")
			}
		}
	case EntityChunks:
		if f.ExportNamed != "" {
			errs.Add("export_named", f.ExportNamed, "applies to files only", "Set entity to files.")
		}
		if f.HasDefault {
			errs.Add("has_default_export", "true", "applies to files only", "Set entity to files.")
		}
	}

	fields, ferrs := compileFields(entity, f.Fields)
	errs = append(errs, ferrs...)
	q.fields = fields

	if errs.HasErrors() {
		errs.sort()
		return nil, errs
	}
	return q, nil
}

// Entity returns the section this query runs over.
func (q *Query) Entity() Entity { return q.filter.Entity }

// Fields returns the projected field list, nil when whole records are returned.
func (q *Query) Fields() []string { return q.fields }

// Files returns the matching file entries in snapshot order.
func (q *Query) Files(snap *snapshot.Snapshot) []snapshot.FileEntry {
	var out []snapshot.FileEntry
	for i := range snap.Data {
		if q.matchFile(&snap.Data[i]) {
			out = append(out, snap.Data[i])
		}
	}
	return out
}

// Chunks returns the matching chunks in snapshot order.
func (q *Query) Chunks(snap *snapshot.Snapshot) []snapshot.Chunk {
	var out []snapshot.Chunk
	for i := range snap.Chunks {
		if q.matchChunk(&snap.Chunks[i]) {
			out = append(out, snap.Chunks[i])
		}
	}
	return out
}

// Run evaluates the query for its entity and applies field projection.
// Items are *FileEntry / *Chunk values, or Record when fields are set.
func (q *Query) Run(snap *snapshot.Snapshot) ([]any, error) {
	var items []any
	if q.filter.Entity == EntityChunks {
		for _, c := range q.Chunks(snap) {
			items = append(items, &c)
		}
	} else {
		for _, f := range q.Files(snap) {
			items = append(items, &f)
		}
	}
	if len(q.fields) == 0 {
		return items, nil
	}
	for i, it := range items {
		rec, err := Project(it, q.fields)
		if err != nil {
			return nil, err
		}
		items[i] = rec
	}
	return items, nil
}

func (q *Query) matchPath(p string) bool {
	if q.glob != nil && !q.glob.Match(p) {
		return false
	}
	if q.pathRe != nil && !q.pathRe.MatchString(p) {
		return false
	}
	return true
}

func (q *Query) matchFile(f *snapshot.FileEntry) bool {
	if q.filter.Language != "" && f.Lang() != q.filter.Language {
		return false
	}
	if !q.matchPath(f.Path) {
		return false
	}
	if q.filter.ExportNamed != "" {
		if f.Exports == nil || !contains(f.Exports.Named, q.filter.ExportNamed) {
			return false
		}
	}
	if q.filter.HasDefault && (f.Exports == nil || f.Exports.Default == nil) {
		return false
	}
	return true
}

func (q *Query) matchChunk(c *snapshot.Chunk) bool {
	if q.filter.Language != "" && (c.Language == nil || *c.Language != q.filter.Language) {
		return false
	}
	if q.filter.Kind != "" && string(c.Kind) != q.filter.Kind {
		return false
	}
	if !q.matchPath(c.FilePath) {
		return false
	}
	if q.symbolRe != nil && !q.symbolRe.MatchString(c.Symbol) {
		return false
	}
	if q.filter.Public != nil && c.Public != *q.filter.Public {
		return false
	}
	lines := c.Lines()
	if q.filter.MinLines > 0 && lines < q.filter.MinLines {
		return false
	}
	if q.filter.MaxLines > 0 && lines > q.filter.MaxLines {
		return false
	}
	return true
}

func validKind(k string) bool {
	switch extract.Kind(k) {
	case extract.KindFunction, extract.KindClass, extract.KindMethod,
		extract.KindExportNamed, extract.KindExportDefault, extract.KindOther:
		return true
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
