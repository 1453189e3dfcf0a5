package extract

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/mvp-joe/harvest/internal/identity"
)

// blockStyle is how a language delimits bodies.
type blockStyle int

const (
	braceBlocks   blockStyle = iota // { ... }
	indentBlocks                    // header: + indented body
	keywordBlocks                   // def ... end
)

type linePattern struct {
	re   *regexp.Regexp
	kind Kind
	// group is the submatch holding the symbol.
	group int
	// scope, when non-zero, is a submatch qualifying the symbol (receiver).
	scope int
}

var (
	braceClass = linePattern{regexp.MustCompile(
		`^\s*(?:(?:export|default|public|private|protected|internal|open|abstract|final|sealed|data|static|partial|inline|value|annotation|case|fileprivate|pub(?:\([^)]*\))?)\s+)*` +
			`(?:class|struct|interface|enum|trait|object|record|protocol|extension|union)\s+([A-Za-z_]\w*)`), KindClass, 1, 0}
	braceFunc = linePattern{regexp.MustCompile(
		`^\s*(?:(?:export|default|public|private|protected|internal|open|override|static|async|suspend|inline|final|abstract|fileprivate|mutating|virtual|unsafe|extern|const|pub(?:\([^)]*\))?)\s+)*` +
			`(?:function\*?|func|fun|fn|def|sub)\s+([A-Za-z_$][\w$]*)`), KindFunction, 1, 0}
	braceModifiedMethod = linePattern{regexp.MustCompile(
		`^\s*(?:(?:public|private|protected|internal|static|virtual|override|abstract|async|sealed|extern|unsafe|new|partial|readonly)\s+)+` +
			`[\w<>\[\],.?]+\s+([A-Za-z_]\w*)\s*\(`), KindFunction, 1, 0}
	cFunc = linePattern{regexp.MustCompile(
		`^(?:[A-Za-z_][\w:<>,*&]*\s+)+[*&]*([A-Za-z_][\w:~]*)\s*\(`), KindFunction, 1, 0}
	shellFunc = linePattern{regexp.MustCompile(
		`^\s*(?:function\s+)?([A-Za-z_][\w:-]*)\s*\(\s*\)`), KindFunction, 1, 0}
	shellKeywordFunc = linePattern{regexp.MustCompile(
		`^\s*function\s+([A-Za-z_][\w:-]*)`), KindFunction, 1, 0}

	goMethodLine = linePattern{regexp.MustCompile(`^func\s+\([^)]*?\*?\s*([A-Za-z_]\w*)(?:\[[^\]]*\])?\)\s*([A-Za-z_]\w*)`), KindMethod, 2, 1}
	goFuncLine   = linePattern{regexp.MustCompile(`^func\s+([A-Za-z_]\w*)`), KindFunction, 1, 0}
	goTypeLine   = linePattern{regexp.MustCompile(`^type\s+([A-Za-z_]\w*)\s+(?:struct|interface)\b`), KindClass, 1, 0}

	pyDef   = linePattern{regexp.MustCompile(`^(\s*)(?:async\s+)?def\s+([A-Za-z_]\w*)`), KindFunction, 2, 0}
	pyClass = linePattern{regexp.MustCompile(`^(\s*)class\s+([A-Za-z_]\w*)`), KindClass, 2, 0}

	rubyClass  = linePattern{regexp.MustCompile(`^\s*class\s+([A-Z][\w:]*)`), KindClass, 1, 0}
	rubyModule = linePattern{regexp.MustCompile(`^\s*module\s+([A-Z][\w:]*)`), KindClass, 1, 0}
	rubyDef    = linePattern{regexp.MustCompile(`^\s*def\s+((?:self\.)?[\w?!=\[\]]+)`), KindFunction, 1, 0}
	luaFunc    = linePattern{regexp.MustCompile(`^\s*(?:local\s+)?function\s+([\w.:]+)`), KindFunction, 1, 0}
)

var controlWords = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true, "return": true, "else": true,
	"catch": true, "sizeof": true, "do": true, "case": true, "new": true, "delete": true,
}

type structuralSpec struct {
	style    blockStyle
	patterns []linePattern
	// topOnly patterns only match at column 0.
	topOnly map[int]bool
	// hashComments strips "# ..." comments.
	hashComments bool
	lua          bool
	// staticPrivate treats "static" as internal linkage (C).
	staticPrivate bool
}

func structuralSpecFor(language string) structuralSpec {
	switch language {
	case "python":
		return structuralSpec{style: indentBlocks, patterns: []linePattern{pyClass, pyDef}}
	case "ruby":
		return structuralSpec{style: keywordBlocks, patterns: []linePattern{rubyClass, rubyModule, rubyDef}, hashComments: true}
	case "lua":
		return structuralSpec{style: keywordBlocks, patterns: []linePattern{luaFunc}, lua: true}
	case "shell":
		return structuralSpec{style: braceBlocks, patterns: []linePattern{shellKeywordFunc, shellFunc}, hashComments: true}
	case "c", "cpp":
		return structuralSpec{style: braceBlocks, patterns: []linePattern{braceClass, cFunc}, topOnly: map[int]bool{1: true}, staticPrivate: true}
	case "go":
		return structuralSpec{style: braceBlocks, patterns: []linePattern{goMethodLine, goFuncLine, goTypeLine}}
	default:
		return structuralSpec{style: braceBlocks, patterns: []linePattern{braceClass, braceFunc, braceModifiedMethod}}
	}
}

// block is a located construct before nesting is resolved.
type block struct {
	kind   Kind
	name   string
	start  int
	end    int
	access Access
}

// extractStructural scans lines for block-introducing constructs and closes
// each block by brace balance, indentation or end keywords.
func (e *Extractor) extractStructural(content []byte, language string, exports *Exports) ([]Candidate, error) {
	lines := identity.Lines(content)
	if len(lines) == 0 {
		return nil, nil
	}
	spec := structuralSpecFor(language)

	var (
		blocks []block
		err    error
	)
	switch spec.style {
	case indentBlocks:
		blocks, err = scanIndentBlocks(lines, spec)
	case keywordBlocks:
		blocks, err = scanKeywordBlocks(lines, spec)
	default:
		blocks, err = scanBraceBlocks(lines, spec)
	}
	if err != nil {
		return nil, err
	}

	var all []string
	if language == "python" {
		all = pythonAllList(string(content))
	}
	return e.nestBlocks(blocks, language, all, exports), nil
}

// nestBlocks resolves containment: functions inside classes become methods
// with qualified symbols, functions nested in functions are dropped.
func (e *Extractor) nestBlocks(blocks []block, language string, pyAll []string, exports *Exports) []Candidate {
	sort.SliceStable(blocks, func(i, j int) bool {
		if blocks[i].start != blocks[j].start {
			return blocks[i].start < blocks[j].start
		}
		return blocks[i].end > blocks[j].end
	})

	type open struct {
		b      block
		symbol string
	}
	var (
		stack []open
		out   []Candidate
	)
	for _, b := range blocks {
		for len(stack) > 0 && stack[len(stack)-1].b.end < b.start {
			stack = stack[:len(stack)-1]
		}
		kind := b.kind
		symbol := b.name
		topLevel := len(stack) == 0
		if !topLevel {
			parent := stack[len(stack)-1]
			if parent.b.kind != KindClass {
				continue
			}
			if kind == KindFunction {
				kind = KindMethod
			}
			symbol = parent.symbol + "." + b.name
		}

		sym := Symbol{Name: b.name, TopLevel: topLevel, Access: b.access}
		switch {
		case topLevel && pyAll != nil:
			sym.ExportMechanism = true
			sym.Exported = contains(pyAll, b.name)
		case topLevel && exports != nil && (exports.Default != nil || len(exports.Named) > 0):
			sym.ExportMechanism = true
			sym.Exported = contains(exports.Named, b.name) || (exports.Default != nil && *exports.Default == b.name)
		}
		if language == "go" {
			sym.Access = goAccess(b.name)
		}
		out = append(out, Candidate{
			Kind:      kind,
			Symbol:    symbol,
			StartLine: b.start,
			EndLine:   b.end,
			Public:    e.visibility.Public(sym),
		})
		stack = append(stack, open{b: b, symbol: symbol})
	}
	return out
}

func matchLine(line string, spec structuralSpec) (Kind, string, bool) {
	for i, p := range spec.patterns {
		if spec.topOnly[i] && (line == "" || line[0] == ' ' || line[0] == '\t') {
			continue
		}
		m := p.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name := m[p.group]
		if controlWords[name] {
			continue
		}
		if p.scope > 0 && m[p.scope] != "" {
			name = m[p.scope] + "." + name
		}
		return p.kind, name, true
	}
	return "", "", false
}

// braceEvents reduces each line to its significant delimiters ({, } and ;),
// ignoring string literals and comments.
func braceEvents(lines []string, hashComments bool) [][]byte {
	events := make([][]byte, len(lines))
	inBlockComment := false
	inTemplate := false
	for i, line := range lines {
		var ev []byte
		var quote byte
		for j := 0; j < len(line); j++ {
			ch := line[j]
			switch {
			case inBlockComment:
				if ch == '*' && j+1 < len(line) && line[j+1] == '/' {
					inBlockComment = false
					j++
				}
			case inTemplate:
				if ch == '\\' {
					j++
				} else if ch == '`' {
					inTemplate = false
				}
			case quote != 0:
				if ch == '\\' {
					j++
				} else if ch == quote {
					quote = 0
				}
			case ch == '/' && j+1 < len(line) && line[j+1] == '/':
				j = len(line)
			case ch == '/' && j+1 < len(line) && line[j+1] == '*':
				inBlockComment = true
				j++
			case hashComments && ch == '#' && (j == 0 || line[j-1] == ' ' || line[j-1] == '\t'):
				j = len(line)
			case ch == '"' || ch == '\'':
				quote = ch
			case ch == '`':
				inTemplate = true
			case ch == '{' || ch == '}' || ch == ';':
				ev = append(ev, ch)
			}
		}
		events[i] = ev
	}
	return events
}

func scanBraceBlocks(lines []string, spec structuralSpec) ([]block, error) {
	events := braceEvents(lines, spec.hashComments)

	depth := 0
	for i, ev := range events {
		for _, ch := range ev {
			switch ch {
			case '{':
				depth++
			case '}':
				depth--
				if depth < 0 {
					return nil, fmt.Errorf("%w: unexpected '}' at line %d", ErrUnbalanced, i+1)
				}
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("%w: %d brace(s) still open at end of file", ErrUnclosedBlock, depth)
	}

	var blocks []block
	for i, line := range lines {
		kind, name, ok := matchLine(line, spec)
		if !ok {
			continue
		}
		end, found := closeBrace(events, i)
		if !found {
			continue
		}
		blocks = append(blocks, block{kind: kind, name: name, start: i + 1, end: end, access: keywordAccess(line, spec.staticPrivate)})
	}
	return blocks, nil
}

// closeBrace finds the line where the block opened at or after line i
// closes. A ';' before the first '{' means a declaration without a body.
func closeBrace(events [][]byte, i int) (int, bool) {
	const lookahead = 8
	depth := 0
	opened := false
	for j := i; j < len(events); j++ {
		if !opened && j-i > lookahead {
			return 0, false
		}
		for _, ch := range events[j] {
			switch ch {
			case ';':
				if !opened {
					return 0, false
				}
			case '{':
				depth++
				opened = true
			case '}':
				depth--
				if opened && depth == 0 {
					return j + 1, true
				}
			}
		}
	}
	return 0, false
}

func keywordAccess(line string, staticPrivate bool) Access {
	fields := strings.Fields(line)
	for _, f := range fields {
		if f == "static" && staticPrivate {
			return AccessPrivate
		}
		switch f {
		case "private", "protected", "fileprivate":
			return AccessPrivate
		case "public", "open":
			return AccessPublic
		}
		if strings.HasPrefix(f, "pub") && (f == "pub" || strings.HasPrefix(f, "pub(")) {
			return AccessPublic
		}
		if strings.Contains(f, "(") || strings.Contains(f, "{") {
			break
		}
	}
	return AccessUnknown
}

func indentOf(line string) int {
	n := 0
	for _, ch := range line {
		switch ch {
		case ' ':
			n++
		case '\t':
			n += 4
		default:
			return n
		}
	}
	return n
}

// stripHashComment drops a trailing "# ..." comment outside quotes.
func stripHashComment(line string) string {
	var quote rune
	for i, ch := range line {
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '"' || ch == '\'':
			quote = ch
		case ch == '#':
			return line[:i]
		}
	}
	return line
}

func scanIndentBlocks(lines []string, spec structuralSpec) ([]block, error) {
	// Lines inside triple-quoted strings never open or close blocks.
	inString := make([]bool, len(lines))
	open := ""
	for i, line := range lines {
		inString[i] = open != ""
		for _, q := range []string{`"""`, `'''`} {
			if open != "" && open != q {
				continue
			}
			if strings.Count(line, q)%2 == 1 {
				if open == "" {
					open = q
				} else {
					open = ""
				}
			}
		}
	}

	var blocks []block
	for i := 0; i < len(lines); i++ {
		if inString[i] {
			continue
		}
		kind, name, ok := matchLine(lines[i], spec)
		if !ok {
			continue
		}
		indent := indentOf(lines[i])

		// The header may wrap inside brackets; it ends where they balance.
		header := i
		depth := 0
		for ; header < len(lines); header++ {
			code := stripHashComment(lines[header])
			depth += strings.Count(code, "(") + strings.Count(code, "[") - strings.Count(code, ")") - strings.Count(code, "]")
			if depth <= 0 {
				break
			}
		}
		if header >= len(lines) {
			return nil, fmt.Errorf("%w: header of %q at line %d never ends", ErrUnclosedBlock, name, i+1)
		}
		code := strings.TrimSpace(stripHashComment(lines[header]))
		if !strings.HasSuffix(code, ":") {
			if strings.Contains(code, ":") {
				// "def f(): return 1" and friends.
				blocks = append(blocks, block{kind: kind, name: name, start: i + 1, end: header + 1})
			}
			continue
		}

		end := 0
		for j := header + 1; j < len(lines); j++ {
			text := strings.TrimSpace(lines[j])
			if inString[j] {
				end = j + 1
				continue
			}
			if text == "" || strings.HasPrefix(text, "#") {
				continue
			}
			if indentOf(lines[j]) <= indent {
				break
			}
			end = j + 1
		}
		if end == 0 {
			return nil, fmt.Errorf("%w: %q at line %d has no body", ErrUnclosedBlock, name, i+1)
		}
		blocks = append(blocks, block{kind: kind, name: name, start: i + 1, end: end})
	}
	return blocks, nil
}

var (
	reRubyOpener    = regexp.MustCompile(`^\s*(?:class|module|def|if|unless|while|until|case|begin|for)\b`)
	reRubyDo        = regexp.MustCompile(`\bdo\s*(?:\|[^|]*\|)?\s*$`)
	reRubyEndless   = regexp.MustCompile(`^\s*def\s+[\w.?!]+(?:\([^)]*\))?\s*=[^=~]`)
	reLuaOpener     = regexp.MustCompile(`\bfunction\b|^\s*(?:if|for|while)\b.*\b(?:then|do)\s*$|^\s*do\s*$`)
	reLuaRepeat     = regexp.MustCompile(`^\s*repeat\b`)
	reLuaUntil      = regexp.MustCompile(`^\s*until\b`)
	reBlockEndToken = regexp.MustCompile(`(?:^|[^.\w])end\b`)
)

func keywordDelta(line string, spec structuralSpec) int {
	code := line
	if spec.hashComments {
		code = stripHashComment(code)
	}
	if spec.lua {
		if k := strings.Index(code, "--"); k >= 0 {
			code = code[:k]
		}
	}
	opens := 0
	if spec.lua {
		opens += len(reLuaOpener.FindAllStringIndex(code, -1))
		if reLuaRepeat.MatchString(code) {
			opens++
		}
		if reLuaUntil.MatchString(code) {
			opens--
		}
	} else if !reRubyEndless.MatchString(code) {
		if reRubyOpener.MatchString(code) {
			opens++
		}
		if reRubyDo.MatchString(code) {
			opens++
		}
	}
	return opens - len(reBlockEndToken.FindAllStringIndex(code, -1))
}

func scanKeywordBlocks(lines []string, spec structuralSpec) ([]block, error) {
	deltas := make([]int, len(lines))
	depth := 0
	for i, line := range lines {
		deltas[i] = keywordDelta(line, spec)
		depth += deltas[i]
		if depth < 0 {
			return nil, fmt.Errorf("%w: unexpected 'end' at line %d", ErrUnbalanced, i+1)
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("%w: %d block(s) still open at end of file", ErrUnclosedBlock, depth)
	}

	var blocks []block
	for i, line := range lines {
		kind, name, ok := matchLine(line, spec)
		if !ok {
			continue
		}
		if deltas[i] <= 0 {
			// One-liner such as "def x; end" or an endless method.
			blocks = append(blocks, block{kind: kind, name: name, start: i + 1, end: i + 1})
			continue
		}
		d := 0
		for j := i; j < len(lines); j++ {
			d += deltas[j]
			if d <= 0 {
				blocks = append(blocks, block{kind: kind, name: name, start: i + 1, end: j + 1})
				break
			}
		}
	}
	return blocks, nil
}
