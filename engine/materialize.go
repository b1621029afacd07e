package engine

import (
	"fmt"
	"strconv"
	"strings"

	"go-repack/pkg"
)

// Materialize converts a raw index entry into a package. The package takes
// ownership of raw and resolves its descriptive fields through it; the
// caller must not release raw on success.
func Materialize(raw RawPackage) (*pkg.Package, error) {
	p, err := convert(raw, raw)
	if err != nil {
		return nil, err
	}
	p.Origin = pkg.Parsed
	return p, nil
}

// Snapshot converts a raw index entry into a Detached package that does
// not reference raw. The caller keeps ownership of raw.
func Snapshot(raw RawPackage) (*pkg.Package, error) {
	if raw == nil {
		return convert(nil, nil)
	}
	p, err := convert(raw, pkg.Detach(raw))
	if err != nil {
		return nil, err
	}
	p.Origin = pkg.Detached
	return p, nil
}

func convert(raw RawPackage, details pkg.Details) (*pkg.Package, error) {
	if raw == nil {
		return nil, &ConversionError{Field: "Package", Err: ErrMissingField}
	}

	id := field(raw, "Package")
	if id == "" {
		return nil, &ConversionError{Field: "Package", Err: ErrMissingField}
	}
	version := field(raw, "Version")
	if version == "" {
		return nil, &ConversionError{Identifier: id, Field: "Version", Err: ErrMissingField}
	}

	p := pkg.New(id, version, field(raw, "Name"), details)
	p.Section = pkg.ParseSection(field(raw, "Section"))
	p.Architecture = field(raw, "Architecture")

	if s := field(raw, "Installed-Size"); s != "" {
		kib, err := strconv.ParseInt(s, 10, 64)
		if err != nil || kib < 0 {
			return nil, &ConversionError{
				Identifier: id,
				Field:      "Installed-Size",
				Err:        fmt.Errorf("invalid size %q", s),
			}
		}
		p.InstalledSizeBytes = kib * 1024
	}

	return p, nil
}

func field(raw RawPackage, name string) string {
	v, _ := raw.Field(name)
	return strings.TrimSpace(v)
}
