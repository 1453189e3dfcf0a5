package snapshot

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mvp-joe/harvest/internal/extract"
)

const (
	createMetadataTable = `CREATE TABLE metadata (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`
	createFilesTable = `CREATE TABLE files (
	path             TEXT PRIMARY KEY,
	id               TEXT NOT NULL,
	name             TEXT NOT NULL,
	language         TEXT,
	size             INTEGER NOT NULL,
	mtime            INTEGER NOT NULL,
	hash             TEXT NOT NULL,
	fingerprint      TEXT NOT NULL,
	path_only        INTEGER NOT NULL,
	truncated        INTEGER NOT NULL,
	truncated_reason TEXT,
	exports          TEXT,
	py_symbols       TEXT,
	content          TEXT
)`
	createChunksTable = `CREATE TABLE chunks (
	ord        INTEGER PRIMARY KEY,
	id         TEXT NOT NULL,
	file_id    TEXT NOT NULL,
	file_path  TEXT NOT NULL,
	language   TEXT,
	kind       TEXT NOT NULL,
	symbol     TEXT NOT NULL,
	start_line INTEGER NOT NULL,
	end_line   INTEGER NOT NULL,
	public     INTEGER NOT NULL,
	hash       TEXT NOT NULL
)`
	createChunksIndex = `CREATE INDEX idx_chunks_file_path ON chunks(file_path)`
)

const metadataKey = "document"

// writeSQLite writes the snapshot into a fresh database next to path and
// renames it into place.
func writeSQLite(path string, s *Snapshot, sections Sections) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp database: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	if err := fillSQLite(tmpPath, sectioned(s, sections)); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp database: %w", err)
	}
	return nil
}

func fillSQLite(dbPath string, doc document) error {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Safe to call even after commit

	for _, ddl := range []string{createMetadataTable, createFilesTable, createChunksTable, createChunksIndex} {
		if _, err := tx.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	if doc.Metadata != nil {
		raw, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		if _, err := sq.Insert("metadata").Columns("key", "value").Values(metadataKey, string(raw)).RunWith(tx).Exec(); err != nil {
			return fmt.Errorf("failed to insert metadata: %w", err)
		}
	}

	if doc.Data != nil {
		for i := range *doc.Data {
			f := &(*doc.Data)[i]
			exports, err := nullableJSON(f.Exports)
			if err != nil {
				return err
			}
			pySymbols, err := nullableJSON(f.PySymbols)
			if err != nil {
				return err
			}
			_, err = sq.Insert("files").
				Columns("path", "id", "name", "language", "size", "mtime", "hash", "fingerprint",
					"path_only", "truncated", "truncated_reason", "exports", "py_symbols", "content").
				Values(f.Path, f.ID, f.Name, f.Language, f.Size, f.MTime, f.Hash, f.Fingerprint,
					f.PathOnly, f.Truncated, f.TruncatedReason, exports, pySymbols, f.Content).
				RunWith(tx).
				Exec()
			if err != nil {
				return fmt.Errorf("failed to insert file %s: %w", f.Path, err)
			}
		}
	}

	if doc.Chunks != nil {
		for i := range *doc.Chunks {
			c := &(*doc.Chunks)[i]
			_, err := sq.Insert("chunks").
				Columns("ord", "id", "file_id", "file_path", "language", "kind", "symbol",
					"start_line", "end_line", "public", "hash").
				Values(i, c.ID, c.FileID, c.FilePath, c.Language, string(c.Kind), c.Symbol,
					c.StartLine, c.EndLine, c.Public, c.Hash).
				RunWith(tx).
				Exec()
			if err != nil {
				return fmt.Errorf("failed to insert chunk %s: %w", c.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// nullableJSON encodes a summary, mapping nil pointers to SQL NULL.
func nullableJSON(v any) (*string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal summary: %w", err)
	}
	if string(raw) == "null" {
		return nil, nil
	}
	s := string(raw)
	return &s, nil
}

// loadSQLite reads a snapshot written by writeSQLite.
func loadSQLite(path string) (*Snapshot, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	var s Snapshot

	var (
		raw     string
		hasMeta bool
	)
	err = sq.Select("value").From("metadata").Where(sq.Eq{"key": metadataKey}).RunWith(db).QueryRow().Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	default:
		if err := json.Unmarshal([]byte(raw), &s.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
		hasMeta = true
	}

	rows, err := sq.Select("path", "id", "name", "language", "size", "mtime", "hash", "fingerprint",
		"path_only", "truncated", "truncated_reason", "exports", "py_symbols", "content").
		From("files").
		OrderBy("path").
		RunWith(db).
		Query()
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	for rows.Next() {
		var (
			f                  FileEntry
			exports, pySymbols sql.NullString
		)
		if err := rows.Scan(&f.Path, &f.ID, &f.Name, &f.Language, &f.Size, &f.MTime, &f.Hash, &f.Fingerprint,
			&f.PathOnly, &f.Truncated, &f.TruncatedReason, &exports, &pySymbols, &f.Content); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		if exports.Valid {
			if err := json.Unmarshal([]byte(exports.String), &f.Exports); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to decode exports for %s: %w", f.Path, err)
			}
		}
		if pySymbols.Valid {
			if err := json.Unmarshal([]byte(pySymbols.String), &f.PySymbols); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to decode py_symbols for %s: %w", f.Path, err)
			}
		}
		s.Data = append(s.Data, f)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating files: %w", err)
	}
	rows.Close()

	rows, err = sq.Select("id", "file_id", "file_path", "language", "kind", "symbol",
		"start_line", "end_line", "public", "hash").
		From("chunks").
		OrderBy("ord").
		RunWith(db).
		Query()
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			c    Chunk
			kind string
		)
		if err := rows.Scan(&c.ID, &c.FileID, &c.FilePath, &c.Language, &kind, &c.Symbol,
			&c.StartLine, &c.EndLine, &c.Public, &c.Hash); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		c.Kind = extract.Kind(kind)
		s.Chunks = append(s.Chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chunks: %w", err)
	}

	// Every table exists regardless of sections; without metadata only
	// non-empty tables count as written.
	if !hasMeta {
		s.Metadata.Sections = Sections{Data: len(s.Data) > 0, Chunks: len(s.Chunks) > 0}
	}
	s.normalize()
	return &s, nil
}
