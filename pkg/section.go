package pkg

import "strings"

// Section classifies a package
type Section int

const (
	SectionArchiving Section = iota
	SectionDevelopment
	SectionNetworking
	SectionPackaging
	SectionSystem
	SectionTerminalSupport
	SectionTextEditors
	SectionThemes
	SectionTweaks
	SectionUtilities
	SectionOther
)

var sectionNames = [...]string{
	SectionArchiving:       "Archiving",
	SectionDevelopment:     "Development",
	SectionNetworking:      "Networking",
	SectionPackaging:       "Packaging",
	SectionSystem:          "System",
	SectionTerminalSupport: "Terminal Support",
	SectionTextEditors:     "Text Editors",
	SectionThemes:          "Themes",
	SectionTweaks:          "Tweaks",
	SectionUtilities:       "Utilities",
	SectionOther:           "Other",
}

// String returns the display name of the section
func (s Section) String() string {
	if s < 0 || int(s) >= len(sectionNames) {
		return "Other"
	}
	return sectionNames[s]
}

// ParseSection maps a dpkg Section value onto a Section. Matching ignores
// case and treats '_', '-' and ' ' alike. Unknown values map to SectionOther.
func ParseSection(value string) Section {
	norm := normalizeSection(value)
	for i, name := range sectionNames {
		if normalizeSection(name) == norm {
			return Section(i)
		}
	}

	// Common aliases seen in real status files
	switch norm {
	case "terminal", "shell":
		return SectionTerminalSupport
	case "editors", "texteditor":
		return SectionTextEditors
	case "utils", "utility":
		return SectionUtilities
	case "devel", "develop":
		return SectionDevelopment
	case "net", "network":
		return SectionNetworking
	case "admin", "libs", "library", "libraries":
		return SectionSystem
	case "theme", "themes(winterboard)":
		return SectionThemes
	case "tweak":
		return SectionTweaks
	case "archive", "archivers":
		return SectionArchiving
	case "package", "packagers":
		return SectionPackaging
	}
	return SectionOther
}

func normalizeSection(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("_", "", "-", "", " ", "").Replace(s)
	return s
}
