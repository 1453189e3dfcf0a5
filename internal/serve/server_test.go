package serve

import (
	"bufio"
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvp-joe/harvest/internal/extract"
	"github.com/mvp-joe/harvest/internal/snapshot"
)

// Test Plan for Serve:
// - Every endpoint answers 503 before the first publish
// - /api/meta returns the current metadata, following new publishes
// - /api/search returns a bare list without limit and a Page with limit
// - Cursor pagination walks the whole result set exactly once
// - A limit near the integer maximum returns the rest of the results
// - Invalid filters and parameters are 400 with a JSON error
// - /api/export streams NDJSON, chunks by default, with projection
// - /api/file returns inclusive line ranges and 404 for unknown or path-only files
// - /api/stats aggregates kinds, warnings and path-only files
// - /api/events pushes the version of each publish
// - Run stops when its context is cancelled

func strp(s string) *string { return &s }

func fixtureSnapshot() *snapshot.Snapshot {
	py, js := strp("python"), strp("javascript")
	s := &snapshot.Snapshot{
		Metadata: snapshot.Metadata{
			Schema:     snapshot.Schema,
			SnapshotID: "0190d6c4-0000-7000-8000-000000000001",
			Source:     snapshot.Source{Type: snapshot.SourceLocal, Root: "/src"},
			Warnings:   []snapshot.Warning{{Path: "bad.json", Kind: snapshot.WarnExtraction, Message: "malformed"}},
			Delta:      snapshot.Delta{Added: 1, Reused: 2},
		},
		Data: []snapshot.FileEntry{
			{ID: "f1", Name: "a.py", Path: "a.py", Language: py, Size: 44,
				Content: strp("class A:\r\n    def m(self):\r\n        pass\r\n\r\ndef f():\r\n    return 1\r\n")},
			{ID: "f2", Name: "b.js", Path: "web/b.js", Language: js, Size: 30,
				Exports: &extract.Exports{Default: strp("B"), Named: []string{}},
				Content: strp("export default function B() {}\n")},
			{ID: "f3", Name: "logo.png", Path: "web/logo.png", PathOnly: true, Truncated: true,
				TruncatedReason: strp(snapshot.ReasonPathOnly)},
		},
		Chunks: []snapshot.Chunk{
			{ID: "c1", FileID: "f1", FilePath: "a.py", Language: py, Kind: extract.KindClass, Symbol: "A", StartLine: 1, EndLine: 3, Public: true},
			{ID: "c2", FileID: "f1", FilePath: "a.py", Language: py, Kind: extract.KindMethod, Symbol: "A.m", StartLine: 2, EndLine: 3, Public: true},
			{ID: "c3", FileID: "f1", FilePath: "a.py", Language: py, Kind: extract.KindFunction, Symbol: "f", StartLine: 5, EndLine: 6, Public: true},
			{ID: "c4", FileID: "f2", FilePath: "web/b.js", Language: js, Kind: extract.KindExportDefault, Symbol: "B", StartLine: 1, EndLine: 1, Public: true},
		},
	}
	s.Recount()
	return s
}

func newTestServer(t *testing.T) (*snapshot.Store, *httptest.Server) {
	t.Helper()
	store := snapshot.NewStore(snapshot.StoreOptions{})
	srv := httptest.NewServer(New(store, Options{}).Handler())
	t.Cleanup(srv.Close)
	return store, srv
}

func publish(t *testing.T, store *snapshot.Store, snap *snapshot.Snapshot) {
	t.Helper()
	require.NoError(t, store.Publish(context.Background(), snap))
}

func getJSON(t *testing.T, srv *httptest.Server, path string, wantStatus int, out any) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, wantStatus, resp.StatusCode, path)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
}

func TestServer_NoSnapshotYet(t *testing.T) {
	t.Parallel()

	_, srv := newTestServer(t)
	for _, path := range []string{"/api/meta", "/api/search", "/api/export", "/api/file?path=a.py", "/api/stats"} {
		var body map[string]string
		getJSON(t, srv, path, http.StatusServiceUnavailable, &body)
		assert.Equal(t, "no snapshot published yet", body["error"])
	}
}

func TestServer_Meta(t *testing.T) {
	t.Parallel()

	store, srv := newTestServer(t)
	publish(t, store, fixtureSnapshot())

	var meta snapshot.Metadata
	getJSON(t, srv, "/api/meta", http.StatusOK, &meta)
	assert.Equal(t, uint64(1), meta.Version)
	assert.Equal(t, 3, meta.Counts.TotalFiles)

	publish(t, store, fixtureSnapshot())
	getJSON(t, srv, "/api/meta", http.StatusOK, &meta)
	assert.Equal(t, uint64(2), meta.Version)
}

func TestServer_Search(t *testing.T) {
	t.Parallel()

	store, srv := newTestServer(t)
	publish(t, store, fixtureSnapshot())

	var files []snapshot.FileEntry
	getJSON(t, srv, "/api/search", http.StatusOK, &files)
	assert.Len(t, files, 3)

	var chunks []snapshot.Chunk
	getJSON(t, srv, "/api/search?entity=chunks&language=python&symbol_regex=%5EA", http.StatusOK, &chunks)
	require.Len(t, chunks, 2)
	assert.Equal(t, "A", chunks[0].Symbol)
	assert.Equal(t, "A.m", chunks[1].Symbol)

	var projected []map[string]any
	getJSON(t, srv, "/api/search?has_default_export=true&fields=path,exports", http.StatusOK, &projected)
	require.Len(t, projected, 1)
	assert.Equal(t, "web/b.js", projected[0]["path"])
	assert.Len(t, projected[0], 2)

	var empty []any
	getJSON(t, srv, "/api/search?language=rust", http.StatusOK, &empty)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestServer_SearchPagination(t *testing.T) {
	t.Parallel()

	store, srv := newTestServer(t)
	publish(t, store, fixtureSnapshot())

	var seen []string
	cursor := 0
	for pages := 0; pages < 10; pages++ {
		var page struct {
			Items      []snapshot.Chunk `json:"items"`
			Total      int              `json:"total"`
			Cursor     int              `json:"cursor"`
			Limit      int              `json:"limit"`
			NextCursor *int             `json:"next_cursor"`
			HasMore    bool             `json:"has_more"`
			Version    uint64           `json:"version"`
		}
		getJSON(t, srv, "/api/search?entity=chunks&limit=3&cursor="+strconv.Itoa(cursor), http.StatusOK, &page)
		assert.Equal(t, 4, page.Total)
		assert.Equal(t, 3, page.Limit)
		assert.Equal(t, uint64(1), page.Version)
		for _, c := range page.Items {
			seen = append(seen, c.ID)
		}
		if !page.HasMore {
			assert.Nil(t, page.NextCursor)
			break
		}
		require.NotNil(t, page.NextCursor)
		cursor = *page.NextCursor
	}
	assert.Equal(t, []string{"c1", "c2", "c3", "c4"}, seen)
}

func TestServer_SearchHugeLimit(t *testing.T) {
	t.Parallel()

	store, srv := newTestServer(t)
	publish(t, store, fixtureSnapshot())

	var page struct {
		Items   []snapshot.Chunk `json:"items"`
		Total   int              `json:"total"`
		HasMore bool             `json:"has_more"`
	}
	getJSON(t, srv, "/api/search?entity=chunks&cursor=1&limit="+strconv.Itoa(math.MaxInt), http.StatusOK, &page)
	assert.Equal(t, 4, page.Total)
	assert.Len(t, page.Items, 3)
	assert.False(t, page.HasMore)

	items := []any{1, 2, 3}
	got := paginate(items, 2, math.MaxInt, 7)
	assert.Equal(t, []any{3}, got.Items)
	assert.Nil(t, got.NextCursor)

	got = paginate(items, 5, math.MaxInt, 7)
	assert.Empty(t, got.Items)
	assert.False(t, got.HasMore)
}

func TestServer_BadRequests(t *testing.T) {
	t.Parallel()

	store, srv := newTestServer(t)
	publish(t, store, fixtureSnapshot())

	for _, path := range []string{
		"/api/search?entity=rows",
		"/api/search?path_regex=(",
		"/api/search?kind=function",
		"/api/search?limit=x",
		"/api/search?limit=-1",
		"/api/search?entity=chunks&public=maybe",
		"/api/search?fields=nope",
		"/api/export?has_default_export=true",
		"/api/file",
		"/api/file?path=a.py&start=0",
		"/api/file?path=a.py&start=3&end=2",
	} {
		var body map[string]string
		getJSON(t, srv, path, http.StatusBadRequest, &body)
		assert.NotEmpty(t, body["error"], path)
	}

	var body map[string]string
	getJSON(t, srv, "/api/nope", http.StatusNotFound, &body)
}

func TestServer_Export(t *testing.T) {
	t.Parallel()

	store, srv := newTestServer(t)
	publish(t, store, fixtureSnapshot())

	resp, err := http.Get(srv.URL + "/api/export?kind=function&fields=symbol,start_line")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "harvest_export.jsonl")

	var lines []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, []string{`{"start_line":5,"symbol":"f"}`}, lines)

	resp2, err := http.Get(srv.URL + "/api/export?entity=files")
	require.NoError(t, err)
	defer resp2.Body.Close()
	scanner = bufio.NewScanner(resp2.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	count := 0
	for scanner.Scan() {
		var entry snapshot.FileEntry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		count++
	}
	assert.Equal(t, 3, count)
}

func TestServer_File(t *testing.T) {
	t.Parallel()

	store, srv := newTestServer(t)
	publish(t, store, fixtureSnapshot())

	tests := []struct {
		query string
		want  FileLines
	}{
		{"path=a.py", FileLines{Path: "a.py", Start: 1, End: 6, Text: "class A:\n    def m(self):\n        pass\n\ndef f():\n    return 1"}},
		{"path=a.py&start=2&end=3", FileLines{Path: "a.py", Start: 2, End: 3, Text: "    def m(self):\n        pass"}},
		{"path=a.py&start=5&end=99", FileLines{Path: "a.py", Start: 5, End: 6, Text: "def f():\n    return 1"}},
		{"path=a.py&start=9", FileLines{Path: "a.py", Start: 9, End: 6, Text: ""}},
		{"path=web/b.js", FileLines{Path: "web/b.js", Start: 1, End: 1, Text: "export default function B() {}"}},
	}
	for _, tt := range tests {
		var got FileLines
		getJSON(t, srv, "/api/file?"+tt.query, http.StatusOK, &got)
		assert.Equal(t, tt.want, got, tt.query)
	}

	var body map[string]string
	getJSON(t, srv, "/api/file?path=missing.py", http.StatusNotFound, &body)
	assert.Equal(t, "file not found", body["error"])
	assert.Equal(t, "missing.py", body["path"])

	getJSON(t, srv, "/api/file?path=web/logo.png", http.StatusNotFound, &body)
	assert.Equal(t, "file has no content", body["error"])
}

func TestServer_Stats(t *testing.T) {
	t.Parallel()

	store, srv := newTestServer(t)
	publish(t, store, fixtureSnapshot())

	var st Stats
	getJSON(t, srv, "/api/stats", http.StatusOK, &st)
	assert.Equal(t, uint64(1), st.Version)
	assert.Equal(t, 3, st.Counts.TotalFiles)
	assert.Equal(t, 4, st.Counts.TotalChunks)
	assert.Equal(t, map[string]int{"class": 1, "method": 1, "function": 1, "export_default": 1}, st.ChunksByKind)
	assert.Equal(t, 1, st.PathOnlyFiles)
	assert.Equal(t, 1, st.TruncatedFiles)
	assert.Equal(t, 1, st.Warnings)
	assert.Equal(t, map[string]int{"extraction": 1}, st.WarningsByKind)
	assert.Equal(t, snapshot.Delta{Added: 1, Reused: 2}, st.Delta)
}

func TestServer_Events(t *testing.T) {
	t.Parallel()

	store, srv := newTestServer(t)
	publish(t, store, fixtureSnapshot())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan string, 8)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if data, ok := strings.CutPrefix(scanner.Text(), "data: "); ok {
				events <- data
			}
		}
		close(events)
	}()

	next := func() string {
		select {
		case e := <-events:
			return e
		case <-time.After(2 * time.Second):
			t.Fatal("no event")
			return ""
		}
	}

	assert.Equal(t, `{"version":1}`, next())
	publish(t, store, fixtureSnapshot())
	assert.Equal(t, `{"version":2}`, next())
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	store := snapshot.NewStore(snapshot.StoreOptions{})
	publish(t, store, fixtureSnapshot())
	s := New(store, Options{ShutdownTimeout: time.Second})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/api/meta")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
