package extract

import "strings"

// Access is a language-level visibility verdict, when the language has one.
type Access int

const (
	// AccessUnknown means the language says nothing; naming and export
	// rules decide.
	AccessUnknown Access = iota
	AccessPublic
	AccessPrivate
)

// VisibilityPolicy decides the public flag of a chunk. The naming rule is a
// heuristic proxy for "public API surface", so it is configurable.
type VisibilityPolicy struct {
	// PrivatePrefixes mark a symbol private by name (default "_").
	PrivatePrefixes []string
	// RequireExport makes module-level symbols private unless exported, in
	// files that use an explicit export mechanism.
	RequireExport bool
}

// DefaultVisibility returns the default policy.
func DefaultVisibility() VisibilityPolicy {
	return VisibilityPolicy{PrivatePrefixes: []string{"_"}, RequireExport: true}
}

func (v VisibilityPolicy) normalized() VisibilityPolicy {
	if v.PrivatePrefixes == nil {
		v.PrivatePrefixes = []string{"_"}
	}
	return v
}

// Symbol describes what the extractor knows about a symbol's visibility.
type Symbol struct {
	Name     string // unqualified name
	TopLevel bool
	// ExportMechanism is true when the file declares its surface explicitly
	// (JS/TS module exports, Python __all__).
	ExportMechanism bool
	Exported        bool
	Access          Access
}

// IsPrivateName reports whether a name carries a private-convention prefix.
func (v VisibilityPolicy) IsPrivateName(name string) bool {
	for _, p := range v.PrivatePrefixes {
		if p != "" && strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// Public applies the policy.
func (v VisibilityPolicy) Public(s Symbol) bool {
	if s.Access == AccessPrivate {
		return false
	}
	if v.IsPrivateName(s.Name) {
		return false
	}
	if s.Access == AccessPublic {
		return true
	}
	if s.TopLevel && v.RequireExport && s.ExportMechanism {
		return s.Exported
	}
	return true
}
