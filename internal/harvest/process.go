package harvest

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/mvp-joe/harvest/internal/extract"
	"github.com/mvp-joe/harvest/internal/filter"
	"github.com/mvp-joe/harvest/internal/identity"
	"github.com/mvp-joe/harvest/internal/snapshot"
)

// fileResult is the outcome of processing one candidate. entry is nil when
// the file could not be read.
type fileResult struct {
	entry    *snapshot.FileEntry
	chunks   []snapshot.Chunk
	warnings []snapshot.Warning
	reused   bool
}

// Fingerprint formats the change-detection fingerprint of a file.
func Fingerprint(mtimeNanos, size int64) string {
	return fmt.Sprintf("%d:%d", mtimeNanos, size)
}

// safeProcess converts a panic in one file into an empty-chunk entry.
func (b *Builder) safeProcess(root string, c candidate, prev *prevIndex) (res fileResult) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("file processing panicked", "path", c.rel, "error", r)
			entry := b.baseEntry(c)
			res = fileResult{
				entry: &entry,
				warnings: []snapshot.Warning{{
					Path:    c.rel,
					Kind:    snapshot.WarnExtraction,
					Message: fmt.Sprintf("panic: %v", r),
				}},
			}
		}
	}()
	return b.process(root, c, prev)
}

func (b *Builder) process(root string, c candidate, prev *prevIndex) fileResult {
	fp := Fingerprint(c.mtime, c.size)
	old := prev.entry(c.rel)

	if reason := b.pathOnlyReason(c.decision, c.size); reason != "" {
		if old != nil && old.Fingerprint == fp && old.PathOnly && old.TruncatedReason != nil && *old.TruncatedReason == reason {
			return fileResult{entry: old, reused: true}
		}
		entry := b.pathOnlyEntry(c, reason)
		return fileResult{entry: &entry}
	}

	// Fast path: an entry whose content was read before and whose
	// fingerprint is unchanged is reused verbatim.
	if old != nil && old.Fingerprint == fp && old.Hash != "" {
		return fileResult{entry: old, chunks: prev.chunks[c.rel], warnings: prev.warnings[c.rel], reused: true}
	}

	content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(c.rel)))
	if err != nil {
		return fileResult{warnings: []snapshot.Warning{{Path: c.rel, Kind: snapshot.WarnPath, Message: err.Error()}}}
	}
	if b.cfg.MaxBytes > 0 && int64(len(content)) > b.cfg.MaxBytes {
		entry := b.pathOnlyEntry(c, snapshot.ReasonSizeLimit)
		return fileResult{entry: &entry}
	}

	hash := identity.ContentHash(content)

	// mtime drift: same bytes, new fingerprint.
	if old != nil && old.Hash == hash {
		refreshed := *old
		refreshed.MTime = c.mtime
		refreshed.Fingerprint = fp
		return fileResult{entry: &refreshed, chunks: prev.chunks[c.rel], warnings: prev.warnings[c.rel], reused: true}
	}

	entry := b.baseEntry(c)
	entry.Size = int64(len(content))
	entry.Hash = hash

	if isBinary(content) {
		entry.PathOnly = true
		entry.Truncated = true
		entry.TruncatedReason = strPtr(snapshot.ReasonPathOnly)
		return fileResult{entry: &entry}
	}

	text := string(content)
	entry.Content = &text

	res, err := b.extractMemo(content, entry.Lang(), c.rel, hash)
	entry.Exports = res.Exports
	entry.PySymbols = res.PySymbols
	if err != nil {
		b.logger.Debug("extraction failed", "path", c.rel, "error", err)
		return fileResult{
			entry:    &entry,
			warnings: []snapshot.Warning{{Path: c.rel, Kind: snapshot.WarnExtraction, Message: err.Error()}},
		}
	}

	return fileResult{entry: &entry, chunks: buildChunks(&entry, content, res.Chunks)}
}

// extractMemo runs the extractor, consulting the memo for content already
// seen at this path in this process.
func (b *Builder) extractMemo(content []byte, language, rel, hash string) (extract.Result, error) {
	if b.memo == nil {
		return b.extractor.Extract(content, language, rel)
	}

	key := language + "\x00" + rel + "\x00" + hash
	if res, ok := b.memo.Get(key); ok {
		return res, nil
	}
	res, err := b.extractor.Extract(content, language, rel)
	if err == nil {
		b.memo.Set(key, res)
	}
	return res, err
}

// buildChunks assigns ids to extraction candidates.
func buildChunks(entry *snapshot.FileEntry, content []byte, cands []extract.Candidate) []snapshot.Chunk {
	if len(cands) == 0 {
		return nil
	}
	lines := identity.Lines(content)
	chunks := make([]snapshot.Chunk, 0, len(cands))
	for _, c := range cands {
		text := identity.Span(lines, c.StartLine, c.EndLine)
		chunks = append(chunks, snapshot.Chunk{
			ID:        identity.ChunkID(entry.ID, string(c.Kind), c.Symbol, text),
			FileID:    entry.ID,
			FilePath:  entry.Path,
			Language:  entry.Language,
			Kind:      c.Kind,
			Symbol:    c.Symbol,
			StartLine: c.StartLine,
			EndLine:   c.EndLine,
			Public:    c.Public,
			Hash:      identity.TextHash(text),
		})
	}
	return chunks
}

func (b *Builder) pathOnlyReason(decision filter.Decision, size int64) string {
	if decision == filter.PathOnly {
		return snapshot.ReasonPathOnly
	}
	if b.cfg.MaxBytes > 0 && size > b.cfg.MaxBytes {
		return snapshot.ReasonSizeLimit
	}
	return ""
}

func (b *Builder) baseEntry(c candidate) snapshot.FileEntry {
	entry := snapshot.FileEntry{
		ID:          identity.FileID(c.rel),
		Name:        path.Base(c.rel),
		Path:        c.rel,
		Size:        c.size,
		MTime:       c.mtime,
		Fingerprint: Fingerprint(c.mtime, c.size),
	}
	if lang := extract.DetectLanguage(c.rel); lang != "" {
		entry.Language = &lang
	}
	return entry
}

func (b *Builder) pathOnlyEntry(c candidate, reason string) snapshot.FileEntry {
	entry := b.baseEntry(c)
	entry.PathOnly = true
	entry.Truncated = true
	entry.TruncatedReason = strPtr(reason)
	return entry
}

// isBinary reports whether the first 512 bytes contain a NUL byte.
func isBinary(content []byte) bool {
	n := len(content)
	if n > 512 {
		n = 512
	}
	for i := 0; i < n; i++ {
		if content[i] == 0 {
			return true
		}
	}
	return false
}

func strPtr(s string) *string { return &s }
