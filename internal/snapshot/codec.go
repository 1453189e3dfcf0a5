package snapshot

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Format is an artifact encoding.
type Format string

const (
	FormatJSON   Format = "json"
	FormatJSONL  Format = "jsonl"
	FormatSQLite Format = "sqlite"
)

// ErrUnknownFormat is returned for an unsupported format name.
var ErrUnknownFormat = errors.New("unknown snapshot format")

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatJSONL, FormatSQLite:
		return f, nil
	case "ndjson":
		return FormatJSONL, nil
	case "db", "sqlite3":
		return FormatSQLite, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// FormatFromPath infers the format from a file extension, defaulting to JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson":
		return FormatJSONL
	case ".db", ".sqlite", ".sqlite3":
		return FormatSQLite
	default:
		return FormatJSON
	}
}

// document is the three-section JSON layout with optional sections.
type document struct {
	Metadata *Metadata   `json:"metadata,omitempty"`
	Data     *[]FileEntry `json:"data,omitempty"`
	Chunks   *[]Chunk     `json:"chunks,omitempty"`
}

func sectioned(s *Snapshot, sections Sections) document {
	var doc document
	if sections.Metadata {
		md := s.Metadata
		md.Sections = sections
		if md.Warnings == nil {
			md.Warnings = []Warning{}
		}
		doc.Metadata = &md
	}
	if sections.Data {
		data := s.Data
		if data == nil {
			data = []FileEntry{}
		}
		doc.Data = &data
	}
	if sections.Chunks {
		chunks := s.Chunks
		if chunks == nil {
			chunks = []Chunk{}
		}
		doc.Chunks = &chunks
	}
	return doc
}

// EncodeJSON writes the three-section document.
func EncodeJSON(w io.Writer, s *Snapshot, sections Sections) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(sectioned(s, sections))
}

// DecodeJSON reads a three-section document. Missing sections decode empty.
func DecodeJSON(r io.Reader) (*Snapshot, error) {
	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	var s Snapshot
	if doc.Data != nil {
		s.Data = *doc.Data
	}
	if doc.Chunks != nil {
		s.Chunks = *doc.Chunks
	}
	if doc.Metadata != nil {
		s.Metadata = *doc.Metadata
	} else {
		s.Metadata.Sections = Sections{Data: doc.Data != nil, Chunks: doc.Chunks != nil}
	}
	s.normalize()
	return &s, nil
}

// Record types in the line-delimited encoding.
const (
	recordMetadata = "metadata"
	recordFile     = "file"
	recordChunk    = "chunk"
)

type metadataRecord struct {
	Type string `json:"type"`
	*Metadata
}

type fileRecord struct {
	Type string `json:"type"`
	*FileEntry
}

type chunkRecord struct {
	Type string `json:"type"`
	*Chunk
}

// EncodeJSONL writes one record per line: the metadata record first, then
// files, then chunks.
func EncodeJSONL(w io.Writer, s *Snapshot, sections Sections) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	doc := sectioned(s, sections)

	if doc.Metadata != nil {
		if err := enc.Encode(metadataRecord{Type: recordMetadata, Metadata: doc.Metadata}); err != nil {
			return err
		}
	}
	if doc.Data != nil {
		for i := range *doc.Data {
			if err := enc.Encode(fileRecord{Type: recordFile, FileEntry: &(*doc.Data)[i]}); err != nil {
				return err
			}
		}
	}
	if doc.Chunks != nil {
		for i := range *doc.Chunks {
			if err := enc.Encode(chunkRecord{Type: recordChunk, Chunk: &(*doc.Chunks)[i]}); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// DecodeJSONL reads the line-delimited encoding.
func DecodeJSONL(r io.Reader) (*Snapshot, error) {
	var s Snapshot
	var seen Sections
	br := bufio.NewReader(r)
	lineNo := 0
	for {
		line, err := br.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			lineNo++
			if derr := decodeRecord(&s, &seen, line); derr != nil {
				return nil, fmt.Errorf("decode snapshot line %d: %w", lineNo, derr)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read snapshot: %w", err)
		}
	}
	if !seen.Metadata {
		s.Metadata.Sections = Sections{Data: seen.Data, Chunks: seen.Chunks}
	}
	s.normalize()
	return &s, nil
}

// decodeRecord appends one record to s and marks its section in seen.
func decodeRecord(s *Snapshot, seen *Sections, line []byte) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(line, &head); err != nil {
		return err
	}
	switch head.Type {
	case recordMetadata:
		seen.Metadata = true
		return json.Unmarshal(line, &s.Metadata)
	case recordFile:
		seen.Data = true
		var f FileEntry
		if err := json.Unmarshal(line, &f); err != nil {
			return err
		}
		s.Data = append(s.Data, f)
	case recordChunk:
		seen.Chunks = true
		var c Chunk
		if err := json.Unmarshal(line, &c); err != nil {
			return err
		}
		s.Chunks = append(s.Chunks, c)
	default:
		return fmt.Errorf("unknown record type %q", head.Type)
	}
	return nil
}

func (s *Snapshot) normalize() {
	if s.Data == nil {
		s.Data = []FileEntry{}
	}
	if s.Chunks == nil {
		s.Chunks = []Chunk{}
	}
	if s.Metadata.Warnings == nil {
		s.Metadata.Warnings = []Warning{}
	}
}

// Load reads a snapshot artifact, choosing the decoder from the extension.
func Load(path string) (*Snapshot, error) {
	format := FormatFromPath(path)
	if format == FormatSQLite {
		return loadSQLite(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if format == FormatJSONL {
		return DecodeJSONL(f)
	}
	return DecodeJSON(f)
}

// Write encodes a snapshot to path atomically: a temp file in the same
// directory is written, synced and renamed over the target.
func Write(path string, s *Snapshot, format Format, sections Sections) error {
	if format == FormatSQLite {
		return writeSQLite(path, s, sections)
	}
	return writeAtomic(path, func(w io.Writer) error {
		if format == FormatJSONL {
			return EncodeJSONL(w, s, sections)
		}
		return EncodeJSON(w, s, sections)
	})
}

func writeAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	bw := bufio.NewWriterSize(tmp, 1<<16)
	if err := write(bw); err != nil {
		cleanup()
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := bw.Flush(); err != nil {
		cleanup()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
