package extract

import (
	"path"
	"regexp"
	"sort"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

const jsIdent = `[A-Za-z_$][\w$]*`

var (
	reDefaultIdent   = regexp.MustCompile(`export\s+default\s+(` + jsIdent + `)\b`)
	reDefaultFunc    = regexp.MustCompile(`export\s+default\s+(?:async\s+)?function\*?(?:\s+(` + jsIdent + `))?`)
	reDefaultClass   = regexp.MustCompile(`export\s+default\s+class(?:\s+(` + jsIdent + `))?`)
	reDefaultWrapped = regexp.MustCompile(`export\s+default\s+(?:memo|forwardRef|observer|reactMemo|React\.memo)\(\s*(` + jsIdent + `)\s*\)`)
	reNamedDecl      = regexp.MustCompile(`export\s+(?:declare\s+)?(?:async\s+)?(?:const|let|var|function\*?|class|abstract\s+class|interface|type|enum)\s+(` + jsIdent + `)`)
	reExportClause   = regexp.MustCompile(`export\s*(?:type\s*)?\{([^}]*)\}`)
	reCommonJSObject = regexp.MustCompile(`(?s)module\.exports\s*=\s*\{([^}]*)\}`)
	reCommonJSProp   = regexp.MustCompile(`(?:module\.)?exports\.(` + jsIdent + `)\s*=`)
	reAsAlias        = regexp.MustCompile(`^(` + jsIdent + `)\s+as\s+(` + jsIdent + `)`)
	reLeadingIdent   = regexp.MustCompile(`^(` + jsIdent + `)`)
)

// defaultKeywords are words that can follow "export default" without naming
// the exported value.
var defaultKeywords = map[string]bool{
	"function": true, "class": true, "async": true, "new": true, "await": true,
	"memo": true, "forwardRef": true, "observer": true, "reactMemo": true, "React": true,
}

// jsExports summarizes ES module and CommonJS exports from source text.
func jsExports(src, filePath string) *Exports {
	ex := &Exports{Named: []string{}}

	if m := reDefaultWrapped.FindStringSubmatch(src); m != nil {
		ex.Default = strPtr(m[1])
	}
	if ex.Default == nil {
		if m := reDefaultFunc.FindStringSubmatch(src); m != nil {
			ex.Default = strPtr(orStem(m[1], filePath))
		}
	}
	if ex.Default == nil {
		if m := reDefaultClass.FindStringSubmatch(src); m != nil {
			ex.Default = strPtr(orStem(m[1], filePath))
		}
	}
	if ex.Default == nil {
		for _, m := range reDefaultIdent.FindAllStringSubmatch(src, -1) {
			if !defaultKeywords[m[1]] {
				ex.Default = strPtr(m[1])
				break
			}
		}
	}

	named := make(map[string]bool)
	for _, m := range reNamedDecl.FindAllStringSubmatch(src, -1) {
		named[m[1]] = true
	}
	for _, m := range reExportClause.FindAllStringSubmatch(src, -1) {
		for _, part := range strings.Split(m[1], ",") {
			part = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(part), "type "))
			if part == "" {
				continue
			}
			if am := reAsAlias.FindStringSubmatch(part); am != nil {
				if am[2] == "default" {
					ex.Default = strPtr(am[1])
					continue
				}
				named[am[2]] = true
			} else if lm := reLeadingIdent.FindStringSubmatch(part); lm != nil {
				named[lm[1]] = true
			}
		}
	}
	for _, m := range reCommonJSObject.FindAllStringSubmatch(src, -1) {
		for _, part := range strings.Split(m[1], ",") {
			if lm := reLeadingIdent.FindStringSubmatch(strings.TrimSpace(part)); lm != nil {
				named[lm[1]] = true
			}
		}
	}
	for _, m := range reCommonJSProp.FindAllStringSubmatch(src, -1) {
		named[m[1]] = true
	}

	for n := range named {
		ex.Named = append(ex.Named, n)
	}
	sort.Strings(ex.Named)
	return ex
}

// jsSpecial handles export statements and function-valued declarations,
// which do not map one node to one chunk.
func jsSpecial(w *walker, n *sitter.Node, scope []string, container *sitter.Node) bool {
	switch n.Kind() {
	case "export_statement":
		if container == nil {
			w.jsExport(n, scope)
		}
		return true
	case "lexical_declaration", "variable_declaration":
		if container == nil {
			w.jsDeclarators(n, n, scope, "")
		}
		return true
	}
	return false
}

func (w *walker) jsExport(n *sitter.Node, scope []string) {
	isDefault := false
	for i := uint(0); i < n.ChildCount(); i++ {
		if ch := n.Child(i); ch != nil && ch.Kind() == "default" {
			isDefault = true
			break
		}
	}

	if decl := n.ChildByFieldName("declaration"); decl != nil {
		switch decl.Kind() {
		case "lexical_declaration", "variable_declaration":
			w.jsDeclarators(decl, n, scope, KindExportNamed)
			return
		}
		name := fieldName(decl, w.src)
		kind := KindExportNamed
		if isDefault {
			kind = KindExportDefault
			if name == "" {
				name = stem(w.path)
			}
		}
		if name == "" {
			return
		}
		w.emitExport(n, kind, scope, name)
		if w.g.containers[decl.Kind()] {
			w.visit(bodyOf(decl), push(scope, name), decl)
		}
		return
	}

	if !isDefault {
		// export { a, b as c } and re-exports only feed the summary.
		return
	}

	value := n.ChildByFieldName("value")
	name := ""
	if value != nil {
		switch value.Kind() {
		case "identifier":
			name = nodeText(value, w.src)
		case "call_expression":
			if args := value.ChildByFieldName("arguments"); args != nil && args.NamedChildCount() > 0 {
				if first := args.NamedChild(0); first != nil && first.Kind() == "identifier" {
					name = nodeText(first, w.src)
				}
			}
		default:
			name = fieldName(value, w.src)
		}
	}
	if name == "" {
		name = stem(w.path)
	}
	w.emitExport(n, KindExportDefault, scope, name)
	if value != nil && w.g.containers[value.Kind()] {
		w.visit(bodyOf(value), push(scope, name), value)
	}
}

func (w *walker) emitExport(n *sitter.Node, kind Kind, scope []string, name string) {
	sym := Symbol{Name: name, TopLevel: true, ExportMechanism: true, Exported: true}
	w.emitNode(n, kind, qualify(scope, name), w.vis.Public(sym))
}

// jsDeclarators emits chunks for declarators bound to functions or classes.
// When kind is set (an exported declaration) every declarator is emitted
// with that kind and spans the whole statement.
func (w *walker) jsDeclarators(decl, spanNode *sitter.Node, scope []string, kind Kind) {
	for i := uint(0); i < decl.NamedChildCount(); i++ {
		d := decl.NamedChild(i)
		if d == nil || d.Kind() != "variable_declarator" {
			continue
		}
		name := nodeText(d.ChildByFieldName("name"), w.src)
		if name == "" || strings.ContainsAny(name, "{[") {
			continue
		}
		if kind != "" {
			w.emitExport(spanNode, kind, scope, name)
			continue
		}

		value := d.ChildByFieldName("value")
		if value == nil {
			continue
		}
		var ck Kind
		switch value.Kind() {
		case "arrow_function", "function_expression", "function", "generator_function":
			ck = KindFunction
		case "class":
			ck = KindClass
		default:
			continue
		}
		sym := Symbol{Name: name, TopLevel: true}
		w.resolveExport(&sym)
		w.emitNode(decl, ck, qualify(scope, name), w.vis.Public(sym))
		if ck == KindClass {
			w.visit(bodyOf(value), push(scope, name), value)
		}
	}
}

func jsAccess(n, container *sitter.Node, src []byte) Access {
	if container == nil {
		return AccessUnknown
	}
	if name := n.ChildByFieldName("name"); name != nil && name.Kind() == "private_property_identifier" {
		return AccessPrivate
	}
	for i := uint(0); i < n.NamedChildCount(); i++ {
		ch := n.NamedChild(i)
		if ch == nil || ch.Kind() != "accessibility_modifier" {
			continue
		}
		switch nodeText(ch, src) {
		case "private", "protected":
			return AccessPrivate
		case "public":
			return AccessPublic
		}
	}
	return AccessUnknown
}

// stem is the file name without its extension.
func stem(p string) string {
	base := path.Base(strings.ReplaceAll(p, "\\", "/"))
	return strings.TrimSuffix(base, path.Ext(base))
}

func orStem(name, filePath string) string {
	if name != "" {
		return name
	}
	return stem(filePath)
}

func strPtr(s string) *string { return &s }
