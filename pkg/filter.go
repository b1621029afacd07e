package pkg

import "strings"

// Filter is a predicate descriptor over packages. The zero Filter matches
// every package.
type Filter struct {
	// Query is matched case-insensitively against Name and Identifier
	Query string

	// Sections restricts matches to the listed sections (empty = any)
	Sections []Section
}

// Match reports whether p satisfies the filter
func (f Filter) Match(p *Package) bool {
	if p == nil {
		return false
	}

	if len(f.Sections) > 0 {
		found := false
		for _, s := range f.Sections {
			if p.Section == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if f.Query == "" {
		return true
	}
	q := strings.ToLower(f.Query)
	return strings.Contains(strings.ToLower(p.Name), q) ||
		strings.Contains(strings.ToLower(p.Identifier), q)
}

// Apply returns the packages matching the filter, preserving order.
// The input slice is not modified.
func (f Filter) Apply(packages []*Package) []*Package {
	result := make([]*Package, 0, len(packages))
	for _, p := range packages {
		if f.Match(p) {
			result = append(result, p)
		}
	}
	return result
}

// Equal reports whether two filters describe the same predicate
func (f Filter) Equal(other Filter) bool {
	if f.Query != other.Query || len(f.Sections) != len(other.Sections) {
		return false
	}
	for i := range f.Sections {
		if f.Sections[i] != other.Sections[i] {
			return false
		}
	}
	return true
}
