package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Record is a projected item: only the requested fields, keyed by their
// JSON names.
type Record map[string]any

// FileFields are the projectable fields of a file entry.
var FileFields = []string{
	"id", "name", "path", "language", "size", "mtime", "hash", "fingerprint",
	"path_only", "truncated", "truncated_reason", "exports", "py_symbols", "content",
}

// ChunkFields are the projectable fields of a chunk.
var ChunkFields = []string{
	"id", "file_id", "file_path", "language", "kind", "symbol",
	"start_line", "end_line", "public", "hash",
}

// compileFields trims and validates a field list. Entries may themselves be
// comma separated.
func compileFields(entity Entity, raw []string) ([]string, ValidationErrors) {
	known := FileFields
	if entity == EntityChunks {
		known = ChunkFields
	}

	var fields []string
	var errs ValidationErrors
	for _, item := range raw {
		for _, f := range strings.Split(item, ",") {
			f = strings.TrimSpace(f)
			if f == "" {
				continue
			}
			if !contains(known, f) {
				errs.Add("fields", f, fmt.Sprintf("unknown %s field", entity),
					"Valid fields: "+strings.Join(known, ", ")+".")
				continue
			}
			fields = append(fields, f)
		}
	}
	return fields, errs
}

// Project keeps only the named fields of a file entry or chunk. Fields the
// item does not serialize come back as nil.
func Project(item any, fields []string) (Record, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("failed to encode item: %w", err)
	}
	var full map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&full); err != nil {
		return nil, fmt.Errorf("failed to decode item: %w", err)
	}
	rec := make(Record, len(fields))
	for _, f := range fields {
		rec[f] = full[f]
	}
	return rec, nil
}

// Values returns the record's values in field order, formatted for tabular
// output. Missing and null values are empty strings.
func (r Record) Values(fields []string) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		switch v := r[f].(type) {
		case nil:
			out[i] = ""
		case string:
			out[i] = v
		case json.Number:
			out[i] = v.String()
		case bool:
			out[i] = fmt.Sprint(v)
		default:
			data, err := json.Marshal(v)
			if err != nil {
				out[i] = fmt.Sprint(v)
				continue
			}
			out[i] = string(data)
		}
	}
	return out
}
