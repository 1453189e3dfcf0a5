package extract

import (
	"regexp"
	"sort"
	"strings"
)

var (
	reDunderAll = regexp.MustCompile(`(?ms)^__all__\s*(?::[^=]*)?=\s*[\[(](.*?)[\])]`)
	reQuoted    = regexp.MustCompile(`["']([^"']+)["']`)
)

// pythonAllList returns the names listed in a module-level __all__, or nil
// when the module does not declare one.
func pythonAllList(src string) []string {
	m := reDunderAll.FindStringSubmatch(src)
	if m == nil {
		return nil
	}
	names := []string{}
	for _, q := range reQuoted.FindAllStringSubmatch(m[1], -1) {
		names = append(names, strings.TrimSpace(q[1]))
	}
	return names
}

// fillPySymbols records the module-level functions and classes.
func fillPySymbols(ps *PySymbols, chunks []Candidate) {
	ps.Functions = []string{}
	ps.Classes = []string{}
	for _, c := range chunks {
		if strings.Contains(c.Symbol, ".") {
			continue
		}
		switch c.Kind {
		case KindFunction:
			ps.Functions = append(ps.Functions, c.Symbol)
		case KindClass:
			ps.Classes = append(ps.Classes, c.Symbol)
		}
	}
	sort.Strings(ps.Functions)
	sort.Strings(ps.Classes)
	if ps.All == nil {
		ps.All = []string{}
	}
}
