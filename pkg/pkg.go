// Package pkg holds the package data model shared by the engine bridge,
// the rebuild orchestrator, the package cache and the data providers.
package pkg

import (
	"fmt"
	"sync"
)

// Origin tells where a Package value came from.
type Origin int

const (
	// Unknown is the zero value: a package built by hand that claims no
	// native entry.
	Unknown Origin = iota
	// Parsed packages come from a native index snapshot and own a native
	// sub-resource until Release is called.
	Parsed
	// Cached packages come from the package cache and own nothing.
	Cached
	// Detached packages are copies of a native entry's fields and own nothing.
	Detached
)

// String returns the string representation of Origin
func (o Origin) String() string {
	switch o {
	case Parsed:
		return "parsed"
	case Cached:
		return "cached"
	case Detached:
		return "detached"
	default:
		return "unknown"
	}
}

// Details resolves the optional descriptive fields of a package on demand.
// For parsed packages it is backed by the native index entry; the values are
// never copied eagerly.
type Details interface {
	Field(name string) (string, bool)
	Release()
}

// Key is the identity of a package: two packages are the same entity iff
// both the identifier and the version match.
type Key struct {
	Identifier string
	Version    string
}

// String formats the key as "identifier@version"
func (k Key) String() string {
	return k.Identifier + "@" + k.Version
}

// ParseKey parses "identifier@version". A missing version yields an empty
// Version, which callers treat as "any version".
func ParseKey(s string) Key {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '@' {
			return Key{Identifier: s[:i], Version: s[i+1:]}
		}
	}
	return Key{Identifier: s}
}

// Package represents an installed or cached package
type Package struct {
	Identifier         string
	Version            string
	Name               string
	Section            Section
	Architecture       string // empty when the index does not declare one
	InstalledSizeBytes int64
	Origin             Origin

	// FilePath is the archive location for cached packages
	FilePath string

	details     Details
	releaseOnce sync.Once
}

// New creates a package. details may be nil.
func New(identifier, version, name string, details Details) *Package {
	if name == "" {
		name = identifier
	}
	return &Package{
		Identifier: identifier,
		Version:    version,
		Name:       name,
		Section:    SectionOther,
		details:    details,
	}
}

// Key returns the identity of the package
func (p *Package) Key() Key {
	return Key{Identifier: p.Identifier, Version: p.Version}
}

// Same reports whether p and other denote the same package entity.
func (p *Package) Same(other *Package) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.Identifier == other.Identifier && p.Version == other.Version
}

// String returns "identifier@version"
func (p *Package) String() string {
	return p.Key().String()
}

// Description returns the human description, resolved lazily.
func (p *Package) Description() string {
	return p.field("Description")
}

// IconURL returns the icon URL, resolved lazily.
func (p *Package) IconURL() string {
	return p.field("Icon")
}

// DepictionURL returns the external information URL, resolved lazily.
// Depiction wins over Homepage when both are present.
func (p *Package) DepictionURL() string {
	if v := p.field("Depiction"); v != "" {
		return v
	}
	return p.field("Homepage")
}

func (p *Package) field(name string) string {
	if p.details == nil {
		return ""
	}
	v, _ := p.details.Field(name)
	return v
}

// Details returns the resolver backing the descriptive fields (may be nil)
func (p *Package) Details() Details {
	return p.details
}

// Release frees the native sub-resource held by the package. It is safe to
// call more than once and on packages that hold nothing.
func (p *Package) Release() {
	p.releaseOnce.Do(func() {
		if p.details != nil {
			p.details.Release()
		}
	})
}

// Artifact is a successfully built archive for a package
type Artifact struct {
	Package *Package
	Path    string
}

// String returns a short description of the artifact
func (a Artifact) String() string {
	return fmt.Sprintf("%s -> %s", a.Package, a.Path)
}

// ReleaseAll releases every package in the list.
func ReleaseAll(packages []*Package) {
	for _, p := range packages {
		if p != nil {
			p.Release()
		}
	}
}

// Registry indexes packages by identity
type Registry struct {
	mu       sync.RWMutex
	packages map[Key]*Package
	order    []*Package
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		packages: make(map[Key]*Package),
	}
}

// Enter adds a package to the registry. If a package with the same identity
// is already present the existing one is returned and false is reported.
func (r *Registry) Enter(p *Package) (*Package, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.packages[p.Key()]; ok {
		return existing, false
	}

	r.packages[p.Key()] = p
	r.order = append(r.order, p)
	return p, true
}

// Find looks up a package by key
func (r *Registry) Find(k Key) *Package {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.packages[k]
}

// FindIdentifier returns the first package carrying the identifier,
// regardless of version.
func (r *Registry) FindIdentifier(identifier string) *Package {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.order {
		if p.Identifier == identifier {
			return p
		}
	}
	return nil
}

// AllPackages returns the packages in insertion order
func (r *Registry) AllPackages() []*Package {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Package, len(r.order))
	copy(result, r.order)
	return result
}

// Len returns the number of registered packages
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
