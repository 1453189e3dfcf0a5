package extract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test Plan for Extractor:
// - Python top-level function reports lines 1-2 and public
// - Python classes report methods with qualified symbols and prefix visibility
// - Python __all__ restricts module-level visibility
// - Decorated definitions start at the def line
// - Python syntax errors fall back to the structural scanner
// - JS/TS exports, plain declarations, arrow functions and class methods
// - Go, Rust, Java, C, Ruby and PHP node tables
// - Markdown and unknown languages produce no chunks
// - Fixture files under testdata/code extract with the expected spans

// find returns the candidate with the given symbol.
func find(t *testing.T, chunks []Candidate, symbol string) Candidate {
	t.Helper()
	for _, c := range chunks {
		if c.Symbol == symbol {
			return c
		}
	}
	require.Failf(t, "chunk not found", "symbol %q in %+v", symbol, chunks)
	return Candidate{}
}

func TestExtract_PythonTopLevelFunction(t *testing.T) {
	t.Parallel()

	ex := New(DefaultVisibility())
	res, err := ex.Extract([]byte("def f():\n    return 1\n"), "python", "a.py")

	require.NoError(t, err)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, Candidate{Kind: KindFunction, Symbol: "f", StartLine: 1, EndLine: 2, Public: true}, res.Chunks[0])
	assert.Equal(t, VariantGrammar, res.Variant)
	require.NotNil(t, res.PySymbols)
	assert.Equal(t, []string{"f"}, res.PySymbols.Functions)
	assert.Empty(t, res.PySymbols.Classes)
}

func TestExtract_PythonClassAndMethods(t *testing.T) {
	t.Parallel()

	src := `class Foo:
    def bar(self):
        return 1

    def _hidden(self):
        pass


def _private():
    pass
`
	ex := New(DefaultVisibility())
	res, err := ex.Extract([]byte(src), "python", "pkg/foo.py")
	require.NoError(t, err)
	require.Len(t, res.Chunks, 4)

	foo := find(t, res.Chunks, "Foo")
	assert.Equal(t, KindClass, foo.Kind)
	assert.Equal(t, 1, foo.StartLine)
	assert.Equal(t, 6, foo.EndLine)
	assert.True(t, foo.Public)

	bar := find(t, res.Chunks, "Foo.bar")
	assert.Equal(t, KindMethod, bar.Kind)
	assert.Equal(t, 2, bar.StartLine)
	assert.Equal(t, 3, bar.EndLine)
	assert.True(t, bar.Public)

	hidden := find(t, res.Chunks, "Foo._hidden")
	assert.False(t, hidden.Public)

	private := find(t, res.Chunks, "_private")
	assert.Equal(t, KindFunction, private.Kind)
	assert.Equal(t, 9, private.StartLine)
	assert.Equal(t, 10, private.EndLine)
	assert.False(t, private.Public)

	assert.Equal(t, []string{"_private"}, res.PySymbols.Functions)
	assert.Equal(t, []string{"Foo"}, res.PySymbols.Classes)
}

func TestExtract_PythonDunderAll(t *testing.T) {
	t.Parallel()

	src := "__all__ = [\"a\"]\n\ndef a():\n    pass\n\ndef b():\n    pass\n"
	res, err := New(DefaultVisibility()).Extract([]byte(src), "python", "m.py")
	require.NoError(t, err)

	assert.True(t, find(t, res.Chunks, "a").Public)
	assert.False(t, find(t, res.Chunks, "b").Public)
	assert.Equal(t, []string{"a"}, res.PySymbols.All)

	// Without the export requirement the module-level rule is name-only.
	res, err = New(VisibilityPolicy{RequireExport: false}).Extract([]byte(src), "python", "m.py")
	require.NoError(t, err)
	assert.True(t, find(t, res.Chunks, "b").Public)
}

func TestExtract_PythonDecorated(t *testing.T) {
	t.Parallel()

	res, err := New(DefaultVisibility()).Extract([]byte("@cache\ndef f():\n    pass\n"), "python", "d.py")
	require.NoError(t, err)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, 2, res.Chunks[0].StartLine)
	assert.Equal(t, 3, res.Chunks[0].EndLine)
}

func TestExtract_PythonSyntaxErrorFallsBack(t *testing.T) {
	t.Parallel()

	res, err := New(DefaultVisibility()).Extract([]byte("def f(:\n    pass\n"), "python", "bad.py")

	require.Error(t, err)
	var xerr *ExtractionError
	require.ErrorAs(t, err, &xerr)
	assert.Equal(t, "bad.py", xerr.Path)
	assert.ErrorIs(t, err, ErrUnclosedBlock)
	assert.Equal(t, VariantStructural, res.Variant)
	assert.Empty(t, res.Chunks)
	require.NotNil(t, res.PySymbols)
}

func TestExtract_JavaScriptModule(t *testing.T) {
	t.Parallel()

	src := `export function add(a, b) {
  return a + b;
}

function helper() {
  return 1;
}

export default class Widget {
  render() {
    return null;
  }
  _internal() {}
}
`
	res, err := New(DefaultVisibility()).Extract([]byte(src), "javascript", "src/widget.js")
	require.NoError(t, err)

	add := find(t, res.Chunks, "add")
	assert.Equal(t, KindExportNamed, add.Kind)
	assert.Equal(t, 1, add.StartLine)
	assert.Equal(t, 3, add.EndLine)
	assert.True(t, add.Public)

	helper := find(t, res.Chunks, "helper")
	assert.Equal(t, KindFunction, helper.Kind)
	assert.False(t, helper.Public, "module-level symbol not exported")

	widget := find(t, res.Chunks, "Widget")
	assert.Equal(t, KindExportDefault, widget.Kind)
	assert.Equal(t, 9, widget.StartLine)
	assert.Equal(t, 14, widget.EndLine)

	render := find(t, res.Chunks, "Widget.render")
	assert.Equal(t, KindMethod, render.Kind)
	assert.Equal(t, 10, render.StartLine)
	assert.Equal(t, 12, render.EndLine)
	assert.True(t, render.Public)

	assert.False(t, find(t, res.Chunks, "Widget._internal").Public)

	require.NotNil(t, res.Exports)
	require.NotNil(t, res.Exports.Default)
	assert.Equal(t, "Widget", *res.Exports.Default)
	assert.Equal(t, []string{"add"}, res.Exports.Named)
}

func TestExtract_JavaScriptArrowAndExportClause(t *testing.T) {
	t.Parallel()

	src := "const Button = () => {\n  return 1;\n};\n\nexport { Button };\n"
	res, err := New(DefaultVisibility()).Extract([]byte(src), "javascriptreact", "Button.jsx")
	require.NoError(t, err)
	require.Len(t, res.Chunks, 1)

	b := res.Chunks[0]
	assert.Equal(t, KindFunction, b.Kind)
	assert.Equal(t, "Button", b.Symbol)
	assert.Equal(t, 1, b.StartLine)
	assert.Equal(t, 3, b.EndLine)
	assert.True(t, b.Public)
}

func TestExtract_JavaScriptAnonymousDefault(t *testing.T) {
	t.Parallel()

	res, err := New(DefaultVisibility()).Extract([]byte("export default function () {\n  return 1;\n}\n"), "javascript", "src/Thing.js")
	require.NoError(t, err)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, KindExportDefault, res.Chunks[0].Kind)
	assert.Equal(t, "Thing", res.Chunks[0].Symbol)
	assert.Equal(t, "Thing", *res.Exports.Default)
}

func TestExtract_TypeScriptInterface(t *testing.T) {
	t.Parallel()

	src := "export interface Props {\n  a: string;\n}\n"
	res, err := New(DefaultVisibility()).Extract([]byte(src), "typescript", "props.ts")
	require.NoError(t, err)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, Candidate{Kind: KindExportNamed, Symbol: "Props", StartLine: 1, EndLine: 3, Public: true}, res.Chunks[0])
}

func TestExtract_Go(t *testing.T) {
	t.Parallel()

	src := `package demo

type Server struct {
	addr string
}

func (s *Server) Start() error {
	return nil
}

func helper() {}
`
	res, err := New(DefaultVisibility()).Extract([]byte(src), "go", "server.go")
	require.NoError(t, err)
	require.Len(t, res.Chunks, 3)

	assert.Equal(t, Candidate{Kind: KindClass, Symbol: "Server", StartLine: 3, EndLine: 5, Public: true}, res.Chunks[0])
	assert.Equal(t, Candidate{Kind: KindMethod, Symbol: "Server.Start", StartLine: 7, EndLine: 9, Public: true}, res.Chunks[1])
	assert.Equal(t, Candidate{Kind: KindFunction, Symbol: "helper", StartLine: 11, EndLine: 11, Public: false}, res.Chunks[2])
}

func TestExtract_GoParseErrorFallsBack(t *testing.T) {
	t.Parallel()

	_, err := New(DefaultVisibility()).Extract([]byte("package x\n\nfunc Broken( {\n"), "go", "broken.go")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnclosedBlock)
}

func TestExtract_Rust(t *testing.T) {
	t.Parallel()

	src := `pub struct Point {
    x: i32,
}

impl Point {
    pub fn new() -> Self {
        Point { x: 0 }
    }

    fn secret(&self) {}
}

fn main() {}
`
	res, err := New(DefaultVisibility()).Extract([]byte(src), "rust", "src/point.rs")
	require.NoError(t, err)
	require.Len(t, res.Chunks, 4)

	point := find(t, res.Chunks, "Point")
	assert.Equal(t, KindClass, point.Kind)
	assert.True(t, point.Public)

	ctor := find(t, res.Chunks, "Point.new")
	assert.Equal(t, KindMethod, ctor.Kind)
	assert.Equal(t, 6, ctor.StartLine)
	assert.Equal(t, 8, ctor.EndLine)
	assert.True(t, ctor.Public)

	assert.False(t, find(t, res.Chunks, "Point.secret").Public)
	assert.False(t, find(t, res.Chunks, "main").Public)
}

func TestExtract_Java(t *testing.T) {
	t.Parallel()

	src := `public class Greeter {
    public String hello() {
        return "hi";
    }

    private void secret() {}
}
`
	res, err := New(DefaultVisibility()).Extract([]byte(src), "java", "Greeter.java")
	require.NoError(t, err)
	require.Len(t, res.Chunks, 3)

	assert.Equal(t, Candidate{Kind: KindClass, Symbol: "Greeter", StartLine: 1, EndLine: 7, Public: true}, res.Chunks[0])
	assert.Equal(t, Candidate{Kind: KindMethod, Symbol: "Greeter.hello", StartLine: 2, EndLine: 4, Public: true}, res.Chunks[1])
	assert.False(t, find(t, res.Chunks, "Greeter.secret").Public)
}

func TestExtract_C(t *testing.T) {
	t.Parallel()

	src := "static int helper(void) {\n    return 1;\n}\n\nint main(void) {\n    return helper();\n}\n"
	res, err := New(DefaultVisibility()).Extract([]byte(src), "c", "main.c")
	require.NoError(t, err)
	require.Len(t, res.Chunks, 2)

	assert.Equal(t, Candidate{Kind: KindFunction, Symbol: "helper", StartLine: 1, EndLine: 3, Public: false}, res.Chunks[0])
	assert.Equal(t, Candidate{Kind: KindFunction, Symbol: "main", StartLine: 5, EndLine: 7, Public: true}, res.Chunks[1])
}

func TestExtract_Ruby(t *testing.T) {
	t.Parallel()

	src := "module Shop\n  class Cart\n    def total\n      0\n    end\n  end\nend\n"
	res, err := New(DefaultVisibility()).Extract([]byte(src), "ruby", "cart.rb")
	require.NoError(t, err)
	require.Len(t, res.Chunks, 3)

	assert.Equal(t, Candidate{Kind: KindClass, Symbol: "Shop", StartLine: 1, EndLine: 7, Public: true}, res.Chunks[0])
	assert.Equal(t, Candidate{Kind: KindClass, Symbol: "Shop.Cart", StartLine: 2, EndLine: 6, Public: true}, res.Chunks[1])
	assert.Equal(t, Candidate{Kind: KindMethod, Symbol: "Shop.Cart.total", StartLine: 3, EndLine: 5, Public: true}, res.Chunks[2])
}

func TestExtract_PHP(t *testing.T) {
	t.Parallel()

	src := `<?php
class Repo {
    public function find() {
        return 1;
    }
    private function load() {}
}
function util() {}
`
	res, err := New(DefaultVisibility()).Extract([]byte(src), "php", "Repo.php")
	require.NoError(t, err)
	require.Len(t, res.Chunks, 4)

	repo := find(t, res.Chunks, "Repo")
	assert.Equal(t, 2, repo.StartLine)
	assert.Equal(t, 7, repo.EndLine)
	assert.True(t, find(t, res.Chunks, "Repo.find").Public)
	assert.False(t, find(t, res.Chunks, "Repo.load").Public)
	assert.Equal(t, KindFunction, find(t, res.Chunks, "util").Kind)
}

func TestExtract_NoneVariant(t *testing.T) {
	t.Parallel()

	ex := New(DefaultVisibility())
	for _, lang := range []string{"markdown", "", "dockerfile"} {
		res, err := ex.Extract([]byte("# Title\n\ntext\n"), lang, "README.md")
		require.NoError(t, err)
		assert.Empty(t, res.Chunks)
		assert.Equal(t, VariantNone, res.Variant)
	}
}

func TestDetectLanguage(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"a.py":               "python",
		"src/App.TSX":        "typescriptreact",
		"lib/x.mjs":          "javascript",
		"cmd/main.go":        "go",
		"docs/README.md":     "markdown",
		"conf/app.yml":       "yaml",
		"Gemfile":            "ruby",
		"assets/logo.png":    "",
		`windows\path\a.rs`: "rust",
	}
	for path, want := range tests {
		assert.Equal(t, want, DetectLanguage(path), path)
	}
}

func TestExtract_Fixtures(t *testing.T) {
	t.Parallel()

	type span struct {
		kind       Kind
		start, end int
		public     bool
	}
	tests := []struct {
		file     string
		language string
		want     map[string]span
	}{
		{
			file:     "go/simple.go",
			language: "go",
			want: map[string]span{
				"Config":            {KindClass, 15, 18, true},
				"Handler":           {KindClass, 20, 22, true},
				"NewHandler":        {KindFunction, 24, 26, true},
				"Handler.ServeHTTP": {KindMethod, 28, 30, true},
				"newMux":            {KindFunction, 32, 36, false},
			},
		},
		{
			file:     "python/shapes.py",
			language: "python",
			want: map[string]span{
				"Circle":          {KindClass, 6, 14, true},
				"Circle.__init__": {KindMethod, 7, 8, false},
				"Circle.area":     {KindMethod, 10, 11, true},
				"Circle._scale":   {KindMethod, 13, 14, false},
				"area":            {KindFunction, 17, 18, true},
				"_unit":           {KindFunction, 21, 22, false},
			},
		},
	}

	ex := New(DefaultVisibility())
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			t.Parallel()

			src, err := os.ReadFile(filepath.Join("..", "..", "testdata", "code", filepath.FromSlash(tt.file)))
			require.NoError(t, err)

			res, err := ex.Extract(src, tt.language, tt.file)
			require.NoError(t, err)
			require.Len(t, res.Chunks, len(tt.want))
			for symbol, want := range tt.want {
				c := find(t, res.Chunks, symbol)
				assert.Equal(t, want, span{c.Kind, c.StartLine, c.EndLine, c.Public}, symbol)
			}
		})
	}
}
