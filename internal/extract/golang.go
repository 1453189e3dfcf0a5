package extract

import (
	"go/ast"
	"go/parser"
	"go/token"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/mvp-joe/harvest/internal/identity"
)

// extractGo parses Go source with go/ast. Functions, methods (symbol
// "Recv.Name") and struct/interface/other type declarations are reported.
func (e *Extractor) extractGo(content []byte) ([]Candidate, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "", content, parser.SkipObjectResolution)
	if err != nil {
		return nil, errSyntax
	}
	total := len(identity.Lines(content))

	var out []Candidate
	add := func(kind Kind, symbol, name string, from, to token.Pos) {
		start, end := clampSpan(fset.Position(from).Line, fset.Position(to).Line, total)
		out = append(out, Candidate{
			Kind:      kind,
			Symbol:    symbol,
			StartLine: start,
			EndLine:   end,
			Public:    e.visibility.Public(Symbol{Name: name, TopLevel: true, Access: goAccess(name)}),
		})
	}

	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			name := d.Name.Name
			if d.Recv != nil && len(d.Recv.List) > 0 {
				recv := receiverName(d.Recv.List[0].Type)
				add(KindMethod, recv+"."+name, name, d.Pos(), d.End())
				continue
			}
			add(KindFunction, name, name, d.Pos(), d.End())
		case *ast.GenDecl:
			if d.Tok != token.TYPE {
				continue
			}
			for _, spec := range d.Specs {
				ts, ok := spec.(*ast.TypeSpec)
				if !ok {
					continue
				}
				from, to := ts.Pos(), ts.End()
				if len(d.Specs) == 1 {
					// Include the "type" keyword of an unparenthesized declaration.
					from, to = d.Pos(), d.End()
				}
				add(KindClass, ts.Name.Name, ts.Name.Name, from, to)
			}
		}
	}
	return out, nil
}

// receiverName strips pointers and type parameters from a receiver type.
func receiverName(expr ast.Expr) string {
	for {
		switch t := expr.(type) {
		case *ast.StarExpr:
			expr = t.X
		case *ast.IndexExpr:
			expr = t.X
		case *ast.IndexListExpr:
			expr = t.X
		case *ast.ParenExpr:
			expr = t.X
		case *ast.Ident:
			return t.Name
		default:
			return ""
		}
	}
}

// goAccess applies Go's exported-identifier rule to the last segment of a
// possibly qualified name.
func goAccess(name string) Access {
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	r, _ := utf8.DecodeRuneInString(name)
	if unicode.IsUpper(r) {
		return AccessPublic
	}
	return AccessPrivate
}
