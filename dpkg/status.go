// Package dpkg implements the native rebuilding engine on top of a dpkg
// administrative directory: the status database is the package index and
// installed files are re-packaged into .deb archives.
package dpkg

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Field is one control field. Multi-line values keep their continuation
// lines verbatim, leading space included, separated by "\n".
type Field struct {
	Name  string
	Value string
}

// Stanza is one paragraph of a control file, in file order
type Stanza struct {
	Fields []Field
}

// Get returns the value of a field. Names compare case-insensitively.
func (s *Stanza) Get(name string) (string, bool) {
	for _, f := range s.Fields {
		if strings.EqualFold(f.Name, name) {
			return f.Value, true
		}
	}
	return "", false
}

// Value returns the field value or ""
func (s *Stanza) Value(name string) string {
	v, _ := s.Get(name)
	return v
}

// Installed reports whether the Status field says the package is fully
// installed.
func (s *Stanza) Installed() bool {
	status := strings.Fields(s.Value("Status"))
	return len(status) == 3 && status[2] == "installed"
}

// ParseStatus parses a dpkg status (or Packages) file into stanzas
func ParseStatus(r io.Reader) ([]*Stanza, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024) // Handle large descriptions

	var stanzas []*Stanza
	var current *Stanza

	for scanner.Scan() {
		line := scanner.Text()

		// Empty line indicates end of stanza
		if strings.TrimSpace(line) == "" {
			if current != nil {
				stanzas = append(stanzas, current)
				current = nil
			}
			continue
		}

		// Continuation line (starts with space or tab)
		if line[0] == ' ' || line[0] == '\t' {
			if current != nil && len(current.Fields) > 0 {
				last := &current.Fields[len(current.Fields)-1]
				last.Value += "\n" + line
			}
			continue
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}

		if current == nil {
			current = &Stanza{}
		}
		current.Fields = append(current.Fields, Field{
			Name:  strings.TrimSpace(name),
			Value: strings.TrimSpace(value),
		})
	}

	// Don't forget the last stanza
	if current != nil {
		stanzas = append(stanzas, current)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning status file: %w", err)
	}

	return stanzas, nil
}

// WriteControl writes the stanza as a control file, leaving out the
// fields named in skip.
func WriteControl(w io.Writer, s *Stanza, skip ...string) error {
	for _, f := range s.Fields {
		if containsFold(skip, f.Name) {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s: %s\n", f.Name, f.Value); err != nil {
			return err
		}
	}
	return nil
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// parsePackageList parses a dependency field into package names. Version
// constraints and architecture qualifiers are stripped; every alternative
// of an "a | b" group is returned.
func parsePackageList(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		for _, alt := range strings.Split(part, "|") {
			alt = strings.TrimSpace(alt)
			// Remove version constraints like (>= 1.0)
			if idx := strings.IndexAny(alt, "(["); idx != -1 {
				alt = strings.TrimSpace(alt[:idx])
			}
			// Remove architecture qualifiers like :any
			if idx := strings.Index(alt, ":"); idx != -1 {
				alt = alt[:idx]
			}
			if alt != "" {
				result = append(result, alt)
			}
		}
	}
	return result
}

// leaves returns the stanzas no other stanza depends on, directly or
// through a virtual package it provides.
func leaves(stanzas []*Stanza) []*Stanza {
	providers := make(map[string][]string)
	for _, s := range stanzas {
		id := s.Value("Package")
		for _, virtual := range parsePackageList(s.Value("Provides")) {
			providers[virtual] = append(providers[virtual], id)
		}
	}

	depended := make(map[string]bool)
	for _, s := range stanzas {
		self := s.Value("Package")
		for _, field := range []string{"Depends", "Pre-Depends"} {
			for _, dep := range parsePackageList(s.Value(field)) {
				if dep != self {
					depended[dep] = true
				}
				for _, provider := range providers[dep] {
					if provider != self {
						depended[provider] = true
					}
				}
			}
		}
	}

	var result []*Stanza
	for _, s := range stanzas {
		if !depended[s.Value("Package")] {
			result = append(result, s)
		}
	}
	return result
}
