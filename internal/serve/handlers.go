package serve

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mvp-joe/harvest/internal/query"
	"github.com/mvp-joe/harvest/internal/snapshot"
)

// exportFilename is suggested to clients saving an export.
const exportFilename = "harvest_export.jsonl"

// Page is a paginated search result. Cursors are offsets into the filtered
// list of the snapshot identified by Version.
type Page struct {
	Items      []any  `json:"items"`
	Total      int    `json:"total"`
	Cursor     int    `json:"cursor"`
	Limit      int    `json:"limit"`
	NextCursor *int   `json:"next_cursor"`
	HasMore    bool   `json:"has_more"`
	Version    uint64 `json:"version"`
}

// FileLines is the /api/file response.
type FileLines struct {
	Path  string `json:"path"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

// Stats is the /api/stats response.
type Stats struct {
	Version        uint64          `json:"version"`
	SnapshotID     string          `json:"snapshot_id"`
	Counts         snapshot.Counts `json:"counts"`
	ChunksByKind   map[string]int  `json:"chunks_by_kind"`
	PathOnlyFiles  int             `json:"path_only_files"`
	TruncatedFiles int             `json:"truncated_files"`
	Warnings       int             `json:"warnings"`
	WarningsByKind map[string]int  `json:"warnings_by_kind"`
	Truncated      bool            `json:"truncated"`
	Delta          snapshot.Delta  `json:"delta"`
}

// current returns the published snapshot or writes 503.
func (s *Server) current(w http.ResponseWriter) *snapshot.Snapshot {
	snap := s.source.Current()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, "no snapshot published yet")
	}
	return snap
}

func (s *Server) handleMeta(w http.ResponseWriter, r *http.Request) {
	snap := s.current(w)
	if snap == nil {
		return
	}
	writeJSON(w, http.StatusOK, snap.Metadata)
}

// handleSearch returns the filtered items. Without limit the bare list is
// returned; with limit a Page.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q, err := compileQuery(params, query.EntityFiles)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := intParam(params, "limit", 0)
	if err == nil && limit < 0 {
		err = errors.New("limit cannot be negative")
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cursor, err := intParam(params, "cursor", 0)
	if err == nil && cursor < 0 {
		err = errors.New("cursor cannot be negative")
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap := s.current(w)
	if snap == nil {
		return
	}
	items, err := q.Run(snap)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if items == nil {
		items = []any{}
	}

	if limit == 0 {
		writeJSON(w, http.StatusOK, items)
		return
	}
	writeJSON(w, http.StatusOK, paginate(items, cursor, limit, snap.Metadata.Version))
}

func paginate(items []any, cursor, limit int, version uint64) Page {
	total := len(items)
	start := min(cursor, total)
	end := total
	if limit < total-start {
		end = start + limit
	}
	page := Page{
		Items:   items[start:end],
		Total:   total,
		Cursor:  cursor,
		Limit:   limit,
		Version: version,
	}
	if end < total {
		next := end
		page.NextCursor = &next
		page.HasMore = true
	}
	return page
}

// handleExport streams matching items as NDJSON. The default entity is chunks.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	q, err := compileQuery(r.URL.Query(), query.EntityChunks)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap := s.current(w)
	if snap == nil {
		return
	}
	items, err := q.Run(snap)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportFilename))
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, it := range items {
		if err := enc.Encode(it); err != nil {
			s.logger.Warn("export aborted", "error", err)
			return
		}
	}
}

// handleFile returns a 1-indexed inclusive line range of a file's content.
// end=0 (or absent) reads to the end of the file.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	p := params.Get("path")
	if p == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	start, err := intParam(params, "start", 1)
	if err != nil || start < 1 {
		writeError(w, http.StatusBadRequest, "start must be a positive line number")
		return
	}
	end, err := intParam(params, "end", 0)
	if err != nil || end < 0 || (end > 0 && end < start) {
		writeError(w, http.StatusBadRequest, "end must be 0 or a line number >= start")
		return
	}

	snap := s.current(w)
	if snap == nil {
		return
	}
	idx, ok := snap.FileIndex()[p]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "file not found", "path": p})
		return
	}
	entry := snap.Data[idx]
	if entry.Content == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "file has no content", "path": p})
		return
	}

	lines := splitLines(*entry.Content)
	if end == 0 || end > len(lines) {
		end = len(lines)
	}
	text := ""
	if start <= end {
		text = strings.Join(lines[start-1:end], "\n")
	}
	writeJSON(w, http.StatusOK, FileLines{Path: p, Start: start, End: end, Text: text})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap := s.current(w)
	if snap == nil {
		return
	}
	writeJSON(w, http.StatusOK, computeStats(snap))
}

func computeStats(snap *snapshot.Snapshot) Stats {
	st := Stats{
		Version:        snap.Metadata.Version,
		SnapshotID:     snap.Metadata.SnapshotID,
		Counts:         snap.Metadata.Counts,
		ChunksByKind:   map[string]int{},
		Warnings:       len(snap.Metadata.Warnings),
		WarningsByKind: map[string]int{},
		Truncated:      snap.Metadata.Truncated,
		Delta:          snap.Metadata.Delta,
	}
	for i := range snap.Chunks {
		st.ChunksByKind[string(snap.Chunks[i].Kind)]++
	}
	for i := range snap.Data {
		if snap.Data[i].PathOnly {
			st.PathOnlyFiles++
		}
		if snap.Data[i].Truncated {
			st.TruncatedFiles++
		}
	}
	for _, warn := range snap.Metadata.Warnings {
		st.WarningsByKind[warn.Kind]++
	}
	return st
}

// compileQuery reads the shared filter parameters.
func compileQuery(params url.Values, defaultEntity query.Entity) (*query.Query, error) {
	f := query.Filter{
		Entity:      query.Entity(params.Get("entity")),
		Language:    params.Get("language"),
		Kind:        params.Get("kind"),
		PathGlob:    params.Get("path_glob"),
		PathRegex:   params.Get("path_regex"),
		SymbolRegex: params.Get("symbol_regex"),
		ExportNamed: params.Get("export_named"),
	}
	if f.Entity == "" {
		f.Entity = defaultEntity
	}
	if v := params.Get("fields"); v != "" {
		f.Fields = []string{v}
	}

	var err error
	if f.Public, err = boolPtrParam(params, "public"); err != nil {
		return nil, err
	}
	if def, err := boolPtrParam(params, "has_default_export"); err != nil {
		return nil, err
	} else if def != nil {
		f.HasDefault = *def
	}
	if f.MinLines, err = intParam(params, "min_lines", 0); err != nil {
		return nil, err
	}
	if f.MaxLines, err = intParam(params, "max_lines", 0); err != nil {
		return nil, err
	}

	return query.Compile(f)
}

func intParam(params url.Values, name string, def int) (int, error) {
	v := params.Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", name, v)
	}
	return n, nil
}

func boolPtrParam(params url.Values, name string) (*bool, error) {
	v := params.Get(name)
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, fmt.Errorf("%s must be true or false, got %q", name, v)
	}
	return &b, nil
}

// splitLines splits on LF, dropping CR and a single trailing newline.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	content = strings.TrimSuffix(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	return strings.Split(content, "\n")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
