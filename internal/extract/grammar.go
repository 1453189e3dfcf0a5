package extract

import (
	"strings"
	"sync"

	sitter "github.com/tree-sitter/go-tree-sitter"
	c "github.com/tree-sitter/tree-sitter-c/bindings/go"
	java "github.com/tree-sitter/tree-sitter-java/bindings/go"
	php "github.com/tree-sitter/tree-sitter-php/bindings/go"
	python "github.com/tree-sitter/tree-sitter-python/bindings/go"
	ruby "github.com/tree-sitter/tree-sitter-ruby/bindings/go"
	rust "github.com/tree-sitter/tree-sitter-rust/bindings/go"
	typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"

	"github.com/mvp-joe/harvest/internal/identity"
)

// grammar is the node table for one tree-sitter language.
type grammar struct {
	language *sitter.Language

	// defs maps definition node kinds to chunk kinds. A function found
	// inside a container is reported as a method.
	defs map[string]Kind
	// containers are definitions whose body is scanned for members.
	containers map[string]bool
	// scopes add their name to member symbols without emitting a chunk
	// (Rust impl blocks).
	scopes map[string]bool
	// passthrough nodes are descended into without changing scope:
	// namespaces, declaration lists, preprocessor guards.
	passthrough map[string]bool
	// unwrap maps wrapper nodes to the field holding the definition.
	unwrap map[string]string

	nameOf  func(n *sitter.Node, src []byte) string
	access  func(n, container *sitter.Node, src []byte) Access
	special func(w *walker, n *sitter.Node, scope []string, container *sitter.Node) bool
}

var loadGrammars = sync.OnceValue(func() map[string]*grammar {
	tsx := sitter.NewLanguage(typescript.LanguageTSX())
	ts := sitter.NewLanguage(typescript.LanguageTypescript())
	cLang := sitter.NewLanguage(c.Language())

	return map[string]*grammar{
		"python":          pythonGrammar(sitter.NewLanguage(python.Language())),
		"javascript":      jsGrammar(tsx),
		"javascriptreact": jsGrammar(tsx),
		"typescript":      jsGrammar(ts),
		"typescriptreact": jsGrammar(tsx),
		"rust":            rustGrammar(sitter.NewLanguage(rust.Language())),
		"java":            javaGrammar(sitter.NewLanguage(java.Language())),
		"c":               cGrammar(cLang),
		"cpp":             cGrammar(cLang),
		"ruby":            rubyGrammar(sitter.NewLanguage(ruby.Language())),
		"php":             phpGrammar(sitter.NewLanguage(php.LanguagePHP())),
	}
})

func set(kinds ...string) map[string]bool {
	m := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		m[k] = true
	}
	return m
}

func pythonGrammar(lang *sitter.Language) *grammar {
	return &grammar{
		language: lang,
		defs: map[string]Kind{
			"function_definition": KindFunction,
			"class_definition":    KindClass,
		},
		containers: set("class_definition"),
		unwrap:     map[string]string{"decorated_definition": "definition"},
		nameOf:     fieldName,
		access:     noAccess,
	}
}

func jsGrammar(lang *sitter.Language) *grammar {
	return &grammar{
		language: lang,
		defs: map[string]Kind{
			"function_declaration":           KindFunction,
			"generator_function_declaration": KindFunction,
			"class_declaration":              KindClass,
			"abstract_class_declaration":     KindClass,
			"interface_declaration":          KindClass,
			"method_definition":              KindMethod,
		},
		containers: set("class_declaration", "abstract_class_declaration", "class"),
		nameOf:     fieldName,
		access:     jsAccess,
		special:    jsSpecial,
	}
}

func rustGrammar(lang *sitter.Language) *grammar {
	return &grammar{
		language: lang,
		defs: map[string]Kind{
			"function_item":           KindFunction,
			"function_signature_item": KindFunction,
			"struct_item":             KindClass,
			"enum_item":               KindClass,
			"union_item":              KindClass,
			"trait_item":              KindClass,
		},
		containers:  set("trait_item"),
		scopes:      set("impl_item"),
		passthrough: set("mod_item", "declaration_list"),
		nameOf: func(n *sitter.Node, src []byte) string {
			if n.Kind() == "impl_item" {
				return nodeText(n.ChildByFieldName("type"), src)
			}
			return fieldName(n, src)
		},
		access: rustAccess,
	}
}

func javaGrammar(lang *sitter.Language) *grammar {
	return &grammar{
		language: lang,
		defs: map[string]Kind{
			"class_declaration":       KindClass,
			"interface_declaration":   KindClass,
			"enum_declaration":        KindClass,
			"record_declaration":      KindClass,
			"method_declaration":      KindMethod,
			"constructor_declaration": KindMethod,
		},
		containers:  set("class_declaration", "interface_declaration", "enum_declaration", "record_declaration"),
		passthrough: set("enum_body_declarations"),
		nameOf:      fieldName,
		access:      modifierAccess("modifiers"),
	}
}

func cGrammar(lang *sitter.Language) *grammar {
	return &grammar{
		language: lang,
		defs: map[string]Kind{
			"function_definition": KindFunction,
			"struct_specifier":    KindClass,
			"union_specifier":     KindClass,
			"enum_specifier":      KindClass,
			"type_definition":     KindClass,
		},
		passthrough: set("preproc_ifdef", "preproc_if", "preproc_else", "preproc_elif",
			"linkage_specification", "declaration_list"),
		nameOf: cName,
		access: func(n, _ *sitter.Node, src []byte) Access {
			for i := uint(0); i < n.NamedChildCount(); i++ {
				ch := n.NamedChild(i)
				if ch != nil && ch.Kind() == "storage_class_specifier" && nodeText(ch, src) == "static" {
					return AccessPrivate
				}
			}
			return AccessUnknown
		},
	}
}

func rubyGrammar(lang *sitter.Language) *grammar {
	return &grammar{
		language: lang,
		defs: map[string]Kind{
			"class":            KindClass,
			"module":           KindClass,
			"method":           KindFunction,
			"singleton_method": KindMethod,
		},
		containers:  set("class", "module"),
		passthrough: set("body_statement"),
		nameOf:      fieldName,
		access:      noAccess,
	}
}

func phpGrammar(lang *sitter.Language) *grammar {
	return &grammar{
		language: lang,
		defs: map[string]Kind{
			"function_definition":   KindFunction,
			"class_declaration":     KindClass,
			"interface_declaration": KindClass,
			"trait_declaration":     KindClass,
			"enum_declaration":      KindClass,
			"method_declaration":    KindMethod,
		},
		containers:  set("class_declaration", "interface_declaration", "trait_declaration", "enum_declaration"),
		passthrough: set("namespace_definition", "compound_statement", "declaration_list"),
		nameOf:      fieldName,
		access:      modifierAccess("visibility_modifier"),
	}
}

// extractGrammar parses content with tree-sitter and walks the node table.
func (e *Extractor) extractGrammar(content []byte, language, path string, exports *Exports, py *PySymbols) ([]Candidate, error) {
	g := e.grammars[language]
	if g == nil {
		return nil, errSyntax
	}

	parser := sitter.NewParser()
	defer parser.Close()

	if err := parser.SetLanguage(g.language); err != nil {
		return nil, err
	}

	tree := parser.Parse(content, nil)
	if tree == nil {
		return nil, errSyntax
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, errSyntax
	}

	w := &walker{
		g:       g,
		src:     content,
		total:   len(identity.Lines(content)),
		vis:     e.visibility,
		path:    path,
		exports: exports,
		py:      py,
	}
	w.visit(root, nil, nil)
	return w.out, nil
}

// walker accumulates candidates for one parse tree.
type walker struct {
	g       *grammar
	src     []byte
	total   int
	vis     VisibilityPolicy
	path    string
	exports *Exports
	py      *PySymbols
	out     []Candidate
}

func (w *walker) visit(parent *sitter.Node, scope []string, container *sitter.Node) {
	for i := uint(0); i < parent.NamedChildCount(); i++ {
		if child := parent.NamedChild(i); child != nil {
			w.visitNode(child, scope, container)
		}
	}
}

func (w *walker) visitNode(n *sitter.Node, scope []string, container *sitter.Node) {
	kind := n.Kind()

	if field, ok := w.g.unwrap[kind]; ok {
		if inner := n.ChildByFieldName(field); inner != nil {
			w.visitNode(inner, scope, container)
		}
		return
	}
	if w.g.special != nil && w.g.special(w, n, scope, container) {
		return
	}
	if w.g.passthrough[kind] {
		w.visit(n, scope, container)
		return
	}
	if w.g.scopes[kind] {
		if name := w.g.nameOf(n, w.src); name != "" {
			w.visit(bodyOf(n), push(scope, name), n)
		}
		return
	}

	ck, ok := w.g.defs[kind]
	if !ok {
		return
	}
	name := w.g.nameOf(n, w.src)
	if name == "" {
		return
	}
	if container != nil && ck == KindFunction {
		ck = KindMethod
	}

	sym := Symbol{Name: name, TopLevel: container == nil, Access: w.g.access(n, container, w.src)}
	w.resolveExport(&sym)
	w.emitNode(n, ck, qualify(scope, name), w.vis.Public(sym))

	if w.g.containers[kind] {
		w.visit(bodyOf(n), push(scope, name), n)
	}
}

// resolveExport fills the export fields of a module-level symbol from the
// file's export summary.
func (w *walker) resolveExport(sym *Symbol) {
	if !sym.TopLevel {
		return
	}
	switch {
	case w.py != nil && w.py.All != nil:
		sym.ExportMechanism = true
		sym.Exported = contains(w.py.All, sym.Name)
	case w.exports != nil && (w.exports.Default != nil || len(w.exports.Named) > 0):
		sym.ExportMechanism = true
		sym.Exported = contains(w.exports.Named, sym.Name) ||
			(w.exports.Default != nil && *w.exports.Default == sym.Name)
	}
}

func (w *walker) emitNode(n *sitter.Node, kind Kind, symbol string, public bool) {
	start, end := w.span(n)
	w.out = append(w.out, Candidate{Kind: kind, Symbol: symbol, StartLine: start, EndLine: end, Public: public})
}

// span converts a node's range to 1-indexed inclusive lines. A node that
// ends at column 0 owns only the newline of the previous line.
func (w *walker) span(n *sitter.Node) (int, int) {
	start := int(n.StartPosition().Row) + 1
	endPos := n.EndPosition()
	end := int(endPos.Row) + 1
	if endPos.Column == 0 && end > start {
		end--
	}
	return clampSpan(start, end, w.total)
}

// bodyOf returns the node's body field, or the node itself when the grammar
// keeps members as direct children.
func bodyOf(n *sitter.Node) *sitter.Node {
	if body := n.ChildByFieldName("body"); body != nil {
		return body
	}
	return n
}

func push(scope []string, name string) []string {
	out := make([]string, len(scope), len(scope)+1)
	copy(out, scope)
	return append(out, name)
}

func qualify(scope []string, name string) string {
	if len(scope) == 0 {
		return name
	}
	return strings.Join(scope, ".") + "." + name
}

func nodeText(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n.Utf8Text(src))
}

func fieldName(n *sitter.Node, src []byte) string {
	return nodeText(n.ChildByFieldName("name"), src)
}

func noAccess(_, _ *sitter.Node, _ []byte) Access { return AccessUnknown }

// modifierAccess reads private/protected/public keywords from a modifier
// child node of the given kind.
func modifierAccess(modifierKind string) func(n, container *sitter.Node, src []byte) Access {
	return func(n, _ *sitter.Node, src []byte) Access {
		for i := uint(0); i < n.NamedChildCount(); i++ {
			ch := n.NamedChild(i)
			if ch == nil || ch.Kind() != modifierKind {
				continue
			}
			text := nodeText(ch, src)
			for _, word := range strings.Fields(text) {
				switch word {
				case "private", "protected":
					return AccessPrivate
				case "public":
					return AccessPublic
				}
			}
		}
		return AccessUnknown
	}
}

func rustAccess(n, container *sitter.Node, src []byte) Access {
	if container != nil {
		switch container.Kind() {
		case "trait_item":
			// Trait items share the trait's visibility.
			return rustAccess(container, nil, src)
		case "impl_item":
			if container.ChildByFieldName("trait") != nil {
				return AccessUnknown
			}
		}
	}
	for i := uint(0); i < n.NamedChildCount(); i++ {
		if ch := n.NamedChild(i); ch != nil && ch.Kind() == "visibility_modifier" {
			return AccessPublic
		}
	}
	return AccessPrivate
}

// cName finds the declared name of C definitions. Function names are nested
// inside declarators; aggregates only count when they have a body.
func cName(n *sitter.Node, src []byte) string {
	switch n.Kind() {
	case "function_definition":
		return cDeclaratorName(n.ChildByFieldName("declarator"), src)
	case "type_definition":
		typ := n.ChildByFieldName("type")
		if typ == nil || typ.ChildByFieldName("body") == nil {
			return ""
		}
		return cDeclaratorName(n.ChildByFieldName("declarator"), src)
	default:
		if n.ChildByFieldName("body") == nil {
			return ""
		}
		return fieldName(n, src)
	}
}

func cDeclaratorName(n *sitter.Node, src []byte) string {
	for n != nil {
		switch n.Kind() {
		case "identifier", "type_identifier", "field_identifier":
			return nodeText(n, src)
		}
		next := n.ChildByFieldName("declarator")
		if next == nil {
			break
		}
		n = next
	}
	if n == nil {
		return ""
	}
	for i := uint(0); i < n.NamedChildCount(); i++ {
		if ch := n.NamedChild(i); ch != nil && ch.Kind() == "identifier" {
			return nodeText(ch, src)
		}
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
