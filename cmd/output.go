package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"go-repack/pkg"
)

// Output formats accepted by the listing commands
const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

// packageView is the serialized form of a package
type packageView struct {
	Identifier    string `json:"identifier" yaml:"identifier"`
	Version       string `json:"version" yaml:"version"`
	Name          string `json:"name" yaml:"name"`
	Section       string `json:"section" yaml:"section"`
	Architecture  string `json:"architecture,omitempty" yaml:"architecture,omitempty"`
	InstalledSize int64  `json:"installed_size,omitempty" yaml:"installed_size,omitempty"`
	Path          string `json:"path,omitempty" yaml:"path,omitempty"`
}

func viewOf(p *pkg.Package) packageView {
	return packageView{
		Identifier:    p.Identifier,
		Version:       p.Version,
		Name:          p.Name,
		Section:       p.Section.String(),
		Architecture:  p.Architecture,
		InstalledSize: p.InstalledSizeBytes,
		Path:          p.FilePath,
	}
}

// outputFormat picks the format from the --json and --yaml flags
func outputFormat(asJSON, asYAML bool) string {
	switch {
	case asJSON:
		return formatJSON
	case asYAML:
		return formatYAML
	default:
		return formatText
	}
}

// printPackages writes packages to w in the given format
func printPackages(w io.Writer, packages []*pkg.Package, format string) error {
	views := make([]packageView, len(packages))
	for i, p := range packages {
		views[i] = viewOf(p)
	}

	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(views); err != nil {
			return err
		}
		return enc.Close()
	}

	if len(views) == 0 {
		fmt.Fprintln(w, "No packages")
		return nil
	}

	idWidth, verWidth := len("IDENTIFIER"), len("VERSION")
	for _, v := range views {
		idWidth = max(idWidth, len(v.Identifier))
		verWidth = max(verWidth, len(v.Version))
	}

	fmt.Fprintf(w, "%-*s  %-*s  %-16s  %9s  %s\n", idWidth, "IDENTIFIER", verWidth, "VERSION", "SECTION", "SIZE", "NAME")
	for _, v := range views {
		size := "-"
		if v.InstalledSize > 0 {
			size = humanize.IBytes(uint64(v.InstalledSize))
		}
		fmt.Fprintf(w, "%-*s  %-*s  %-16s  %9s  %s\n", idWidth, v.Identifier, verWidth, v.Version, v.Section, size, v.Name)
		if v.Path != "" {
			fmt.Fprintf(w, "%-*s  -> %s\n", idWidth, "", v.Path)
		}
	}
	fmt.Fprintf(w, "\n%d package(s)\n", len(views))
	return nil
}

// parseSections maps --section values onto sections
func parseSections(values []string) ([]pkg.Section, error) {
	sections := make([]pkg.Section, 0, len(values))
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			s := pkg.ParseSection(part)
			if s == pkg.SectionOther && !strings.EqualFold(part, "other") {
				return nil, fmt.Errorf("unknown section %q", part)
			}
			sections = append(sections, s)
		}
	}
	return sections, nil
}

// buildFilter returns nil when neither a query nor sections are given
func buildFilter(query string, sections []string) (*pkg.Filter, error) {
	parsed, err := parseSections(sections)
	if err != nil {
		return nil, err
	}
	if query == "" && len(parsed) == 0 {
		return nil, nil
	}
	return &pkg.Filter{Query: query, Sections: parsed}, nil
}
