// Package snapshot defines the harvest output model and the Store that
// publishes it.
package snapshot

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mvp-joe/harvest/internal/extract"
)

// Schema identifies the serialized layout.
const Schema = "harvest/v2"

// Source types.
const (
	SourceLocal  = "local"
	SourceRemote = "remote"
)

// Truncation reasons for FileEntry.TruncatedReason.
const (
	ReasonPathOnly  = "path_only"
	ReasonSizeLimit = "size_limit"
)

// Warning kinds.
const (
	WarnPath       = "path"
	WarnExtraction = "extraction"
	WarnLimit      = "limit"
)

// FileEntry is one harvested path. Paths are unique within a snapshot.
type FileEntry struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	Path            string             `json:"path"`
	Language        *string            `json:"language"`
	Size            int64              `json:"size"`
	MTime           int64              `json:"mtime"`
	Hash            string             `json:"hash"`
	Fingerprint     string             `json:"fingerprint"`
	PathOnly        bool               `json:"path_only"`
	Truncated       bool               `json:"truncated"`
	TruncatedReason *string            `json:"truncated_reason"`
	Exports         *extract.Exports   `json:"exports"`
	PySymbols       *extract.PySymbols `json:"py_symbols"`
	Content         *string            `json:"content,omitempty"`
}

// Lang returns the language tag, or "" when unknown.
func (f *FileEntry) Lang() string {
	if f.Language == nil {
		return ""
	}
	return *f.Language
}

// Chunk is one extracted symbol with its stable id.
type Chunk struct {
	ID        string       `json:"id"`
	FileID    string       `json:"file_id"`
	FilePath  string       `json:"file_path"`
	Language  *string      `json:"language"`
	Kind      extract.Kind `json:"kind"`
	Symbol    string       `json:"symbol"`
	StartLine int          `json:"start_line"`
	EndLine   int          `json:"end_line"`
	Public    bool         `json:"public"`
	Hash      string       `json:"hash"`
}

// Lines is the number of lines the chunk spans.
func (c *Chunk) Lines() int { return c.EndLine - c.StartLine + 1 }

// Source describes where the tree came from.
type Source struct {
	Type     string    `json:"type"`
	Root     string    `json:"root"`
	Revision *Revision `json:"revision,omitempty"`
}

// Revision is the version-control state of the root at build time.
type Revision struct {
	Worktree string `json:"worktree"`
	Branch   string `json:"branch,omitempty"` // empty on a detached HEAD
	Commit   string `json:"commit,omitempty"` // empty before the first commit
	Remote   string `json:"remote,omitempty"`
	Dirty    bool   `json:"dirty"`
}

// Counts are aggregates recomputed on every build.
type Counts struct {
	TotalFiles      int            `json:"total_files"`
	TotalBytes      int64          `json:"total_bytes"`
	TotalChunks     int            `json:"total_chunks"`
	FilesByLanguage map[string]int `json:"files_by_language"`
}

// Warning records a recovered per-path problem.
type Warning struct {
	Path    string `json:"path"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Delta compares a build against its previous snapshot.
type Delta struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
	Changed int `json:"changed"`
	Reused  int `json:"reused"`
}

// Sections selects which sections are written to the artifact.
type Sections struct {
	Metadata bool `json:"metadata"`
	Data     bool `json:"data"`
	Chunks   bool `json:"chunks"`
}

// AllSections enables every section.
func AllSections() Sections { return Sections{Metadata: true, Data: true, Chunks: true} }

// Metadata is the inventory header of a snapshot.
type Metadata struct {
	Schema     string    `json:"schema"`
	SnapshotID string    `json:"snapshot_id"`
	Version    uint64    `json:"version"`
	Source     Source    `json:"source"`
	Counts     Counts    `json:"counts"`
	CreatedAt  time.Time `json:"created_at"`
	Truncated  bool      `json:"truncated"`
	Warnings   []Warning `json:"warnings"`
	Delta      Delta     `json:"delta"`
	Sections   Sections  `json:"sections"`
}

// Snapshot is the full output unit. A published snapshot is never mutated.
type Snapshot struct {
	Metadata Metadata    `json:"metadata"`
	Data     []FileEntry `json:"data"`
	Chunks   []Chunk     `json:"chunks"`
}

// Reusable reports whether a loaded artifact carried both data and chunks, so
// an incremental build can reuse its entries. Sections describe the artifact
// written; published in-memory snapshots are always complete.
func (s *Snapshot) Reusable() bool {
	return s.Metadata.Sections.Data && s.Metadata.Sections.Chunks
}

// ErrInconsistent is returned by Validate.
var ErrInconsistent = errors.New("inconsistent snapshot")

// Sort puts files in path order and chunks in (file path, start line, end
// line descending, kind, symbol) order.
func (s *Snapshot) Sort() {
	sort.Slice(s.Data, func(i, j int) bool { return s.Data[i].Path < s.Data[j].Path })
	sort.SliceStable(s.Chunks, func(i, j int) bool {
		a, b := &s.Chunks[i], &s.Chunks[j]
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		if a.StartLine != b.StartLine {
			return a.StartLine < b.StartLine
		}
		if a.EndLine != b.EndLine {
			return a.EndLine > b.EndLine
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Symbol < b.Symbol
	})
}

// Recount recomputes the aggregate counts from the assembled sections.
func (s *Snapshot) Recount() {
	c := Counts{FilesByLanguage: make(map[string]int)}
	for i := range s.Data {
		f := &s.Data[i]
		c.TotalFiles++
		c.TotalBytes += f.Size
		if lang := f.Lang(); lang != "" {
			c.FilesByLanguage[lang]++
		}
	}
	c.TotalChunks = len(s.Chunks)
	s.Metadata.Counts = c
}

// FileIndex maps paths to positions in Data.
func (s *Snapshot) FileIndex() map[string]int {
	idx := make(map[string]int, len(s.Data))
	for i := range s.Data {
		idx[s.Data[i].Path] = i
	}
	return idx
}

// ChunksByFile groups chunks by owning file path, preserving order.
func (s *Snapshot) ChunksByFile() map[string][]Chunk {
	out := make(map[string][]Chunk)
	for _, c := range s.Chunks {
		out[c.FilePath] = append(out[c.FilePath], c)
	}
	return out
}

// Validate checks the cross-section invariants: unique paths, every chunk
// owned by a present file, and well-formed line ranges.
func (s *Snapshot) Validate() error {
	seen := make(map[string]string, len(s.Data))
	for _, f := range s.Data {
		if _, dup := seen[f.Path]; dup {
			return fmt.Errorf("%w: duplicate path %q", ErrInconsistent, f.Path)
		}
		seen[f.Path] = f.ID
	}
	for _, c := range s.Chunks {
		fileID, ok := seen[c.FilePath]
		if !ok {
			return fmt.Errorf("%w: chunk %s references missing file %q", ErrInconsistent, c.ID, c.FilePath)
		}
		if c.FileID != fileID {
			return fmt.Errorf("%w: chunk %s file id mismatch", ErrInconsistent, c.ID)
		}
		if c.StartLine < 1 || c.EndLine < c.StartLine {
			return fmt.Errorf("%w: chunk %s has range %d-%d", ErrInconsistent, c.ID, c.StartLine, c.EndLine)
		}
	}
	return nil
}
