// Package identity computes stable identifiers for harvested files and chunks.
//
// A file id depends only on the file's normalized relative path. A chunk id
// depends on the owning file id, the chunk kind, the symbol name and the
// normalized text of the chunk's own line range. Absolute line numbers never
// enter the hash, so a chunk that moves inside its file keeps its id while an
// edited chunk always gets a new one.
package identity

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"path"
	"strings"
)

const (
	fileDomain  = "harvest/file/v1"
	chunkDomain = "harvest/chunk/v1"
)

// NormalizePath converts a relative path to the slash-separated form used as
// the snapshot key. Leading "./" and duplicate separators are removed.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean(p)
	p = strings.TrimPrefix(p, "./")
	if p == "." {
		return ""
	}
	return p
}

// FileID returns the stable id of a file entry. Content never participates.
func FileID(relPath string) string {
	h := sha256.New()
	writeField(h, fileDomain)
	writeField(h, NormalizePath(relPath))
	return hex.EncodeToString(h.Sum(nil))
}

// ChunkID returns the stable id of a chunk. text is the raw text of the
// chunk's line range; it is normalized before hashing.
func ChunkID(fileID, kind, symbol, text string) string {
	h := sha256.New()
	writeField(h, chunkDomain)
	writeField(h, fileID)
	writeField(h, kind)
	writeField(h, symbol)
	writeField(h, NormalizeText(text))
	return hex.EncodeToString(h.Sum(nil))
}

// TextHash returns the sha256 of the normalized text, hex encoded.
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(NormalizeText(text)))
	return hex.EncodeToString(sum[:])
}

// ContentHash returns the sha256 of raw bytes, hex encoded.
func ContentHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// NormalizeText folds line endings to LF, strips trailing whitespace from
// every line and drops trailing blank lines.
func NormalizeText(text string) string {
	lines := Lines([]byte(text))
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t\f\v")
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// Lines splits content into lines using the numbering shared by the
// extractor and the id assigner: 1-indexed, CRLF and CR count as LF, and a
// terminal newline belongs to the line before it (it does not open an empty
// final line). Empty content has zero lines.
func Lines(content []byte) []string {
	if len(content) == 0 {
		return nil
	}
	s := string(content)
	if strings.ContainsRune(s, '\r') {
		s = strings.ReplaceAll(s, "\r\n", "\n")
		s = strings.ReplaceAll(s, "\r", "\n")
	}
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}

// Span joins lines[start-1:end] with LF. Out of range bounds are clamped.
func Span(lines []string, start, end int) string {
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}

// writeField writes a length-prefixed field so that adjacent fields can never
// be confused ("ab"+"c" vs "a"+"bc").
func writeField(h hash.Hash, s string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	h.Write(n[:])
	h.Write([]byte(s))
}
