package extract

import (
	"path"
	"strings"
)

// Variant is the extraction strategy selected for a language.
type Variant string

const (
	VariantGrammar     Variant = "grammar"
	VariantGo          Variant = "go"
	VariantStructural  Variant = "structural"
	VariantDeclarative Variant = "declarative"
	VariantNone        Variant = "none"
)

var languageByExt = map[string]string{
	".py":    "python",
	".pyi":   "python",
	".js":    "javascript",
	".mjs":   "javascript",
	".cjs":   "javascript",
	".jsx":   "javascriptreact",
	".ts":    "typescript",
	".mts":   "typescript",
	".cts":   "typescript",
	".tsx":   "typescriptreact",
	".go":    "go",
	".rs":    "rust",
	".java":  "java",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".cxx":   "cpp",
	".hpp":   "cpp",
	".hh":    "cpp",
	".rb":    "ruby",
	".rake":  "ruby",
	".php":   "php",
	".kt":    "kotlin",
	".kts":   "kotlin",
	".swift": "swift",
	".scala": "scala",
	".cs":    "csharp",
	".lua":   "lua",
	".sh":    "shell",
	".bash":  "shell",
	".zsh":   "shell",
	".json":  "json",
	".yml":   "yaml",
	".yaml":  "yaml",
	".toml":  "toml",
	".md":    "markdown",
	".mdx":   "markdown",
}

var languageByName = map[string]string{
	"Dockerfile": "dockerfile",
	"Makefile":   "makefile",
	"Gemfile":    "ruby",
	"Rakefile":   "ruby",
}

// DetectLanguage infers a language tag from a file path. The empty string
// means the language is unknown.
func DetectLanguage(p string) string {
	base := path.Base(strings.ReplaceAll(p, "\\", "/"))
	if lang, ok := languageByName[base]; ok {
		return lang
	}
	return languageByExt[strings.ToLower(path.Ext(base))]
}

// VariantFor returns the extraction variant for a language tag.
func VariantFor(language string) Variant {
	switch language {
	case "python", "javascript", "javascriptreact", "typescript", "typescriptreact",
		"rust", "java", "c", "cpp", "ruby", "php":
		return VariantGrammar
	case "go":
		return VariantGo
	case "kotlin", "swift", "scala", "csharp", "lua", "shell":
		return VariantStructural
	case "json", "yaml", "toml":
		return VariantDeclarative
	default:
		return VariantNone
	}
}
