// Package extract turns file content into chunk candidates: functions,
// classes, methods and exports with their line ranges and visibility.
//
// Extraction is a closed set of variants selected by language tag. Grammar
// languages are parsed with tree-sitter, Go with go/ast, a handful of
// languages with a structural line scanner, and declarative formats (JSON,
// YAML, TOML) produce a single whole-file chunk.
package extract

import (
	"errors"
	"fmt"
	"sort"
)

// Kind enumerates chunk kinds.
type Kind string

const (
	KindFunction      Kind = "function"
	KindClass         Kind = "class"
	KindExportNamed   Kind = "export_named"
	KindExportDefault Kind = "export_default"
	KindMethod        Kind = "method"
	KindOther         Kind = "other"
)

// Candidate is a chunk before identity assignment.
type Candidate struct {
	Kind      Kind
	Symbol    string
	StartLine int // 1-indexed, inclusive
	EndLine   int // 1-indexed, inclusive
	Public    bool
}

// Exports summarizes the export surface of a JavaScript or TypeScript module.
type Exports struct {
	Default *string  `json:"default"`
	Named   []string `json:"named"`
}

// PySymbols summarizes the module-level symbols of a Python file.
type PySymbols struct {
	Functions []string `json:"functions"`
	Classes   []string `json:"classes"`
	All       []string `json:"all"`
}

// Result is the output of one extraction.
type Result struct {
	Variant   Variant
	Chunks    []Candidate
	Exports   *Exports
	PySymbols *PySymbols
}

// ErrUnclosedBlock is reported when a block-introducing construct never closes.
var ErrUnclosedBlock = errors.New("unclosed block")

// ErrUnbalanced is reported when closing delimiters outnumber opening ones.
var ErrUnbalanced = errors.New("unbalanced delimiters")

// ErrMalformedDocument is reported when a declarative file fails to decode.
var ErrMalformedDocument = errors.New("malformed document")

// ExtractionError records why a file produced no chunks. It is never fatal:
// the caller keeps the file entry and records a warning.
type ExtractionError struct {
	Path     string
	Language string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s (%s): %v", e.Path, e.Language, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Extractor dispatches extraction by language. It is safe for concurrent use:
// every call builds its own parser.
type Extractor struct {
	visibility VisibilityPolicy
	grammars   map[string]*grammar
}

// New creates an Extractor using the given visibility policy.
func New(visibility VisibilityPolicy) *Extractor {
	return &Extractor{
		visibility: visibility.normalized(),
		grammars:   loadGrammars(),
	}
}

// Extract produces chunk candidates for content in the given language. path
// is used for the anonymous default export symbol and for error reporting.
//
// On failure the returned Result still carries the file's symbol summary (when
// one could be computed) and the error is an *ExtractionError.
func (e *Extractor) Extract(content []byte, language, path string) (Result, error) {
	res := Result{Variant: VariantFor(language)}

	switch language {
	case "javascript", "javascriptreact", "typescript", "typescriptreact":
		res.Exports = jsExports(string(content), path)
	case "python":
		res.PySymbols = &PySymbols{All: pythonAllList(string(content))}
	}

	var (
		chunks []Candidate
		err    error
	)
	switch res.Variant {
	case VariantGrammar:
		chunks, err = e.extractGrammar(content, language, path, res.Exports, res.PySymbols)
		if errors.Is(err, errSyntax) {
			chunks, err = e.extractStructural(content, language, res.Exports)
			res.Variant = VariantStructural
		}
	case VariantGo:
		chunks, err = e.extractGo(content)
		if errors.Is(err, errSyntax) {
			chunks, err = e.extractStructural(content, language, res.Exports)
			res.Variant = VariantStructural
		}
	case VariantStructural:
		chunks, err = e.extractStructural(content, language, res.Exports)
	case VariantDeclarative:
		chunks, err = extractDeclarative(content, language, path)
	case VariantNone:
		return res, nil
	}
	if err != nil {
		if res.PySymbols != nil {
			fillPySymbols(res.PySymbols, nil)
		}
		return res, &ExtractionError{Path: path, Language: language, Err: err}
	}

	sortCandidates(chunks)
	res.Chunks = chunks
	if res.PySymbols != nil {
		fillPySymbols(res.PySymbols, chunks)
	}
	return res, nil
}

// errSyntax signals that a parser saw syntax errors and the structural
// scanner should take over.
var errSyntax = errors.New("syntax errors in parse tree")

func sortCandidates(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
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

// clampSpan keeps a span inside [1, total] and start <= end.
func clampSpan(start, end, total int) (int, int) {
	if total < 1 {
		total = 1
	}
	if start < 1 {
		start = 1
	}
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}
	if end < start {
		end = start
	}
	return start, end
}
