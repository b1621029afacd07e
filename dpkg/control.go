package dpkg

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/blakesmith/ar"
	"github.com/ulikunitz/xz"
)

// ErrNoControl is reported for archives without a control member
var ErrNoControl = errors.New("no control file in archive")

// ReadControl returns the control stanza of a .deb archive
func ReadControl(path string) (*Stanza, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := ar.NewReader(file)
	for {
		hdr, err := r.Next()
		if err == io.EOF {
			return nil, ErrNoControl
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}

		name := strings.TrimSuffix(strings.TrimSpace(hdr.Name), "/")
		if !strings.HasPrefix(name, "control.tar") {
			continue
		}

		s, err := controlFromTar(r, strings.TrimPrefix(name, "control.tar"))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		return s, nil
	}
}

func controlFromTar(r io.Reader, ext string) (*Stanza, error) {
	switch ext {
	case ".xz":
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		r = xr
	case ".gz":
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer gr.Close()
		r = gr
	case "":
	default:
		return nil, fmt.Errorf("unsupported control compression %q", ext)
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, ErrNoControl
		}
		if err != nil {
			return nil, err
		}
		if strings.TrimPrefix(hdr.Name, "./") != "control" || hdr.Typeflag != tar.TypeReg {
			continue
		}

		stanzas, err := ParseStatus(tr)
		if err != nil {
			return nil, err
		}
		if len(stanzas) == 0 {
			return nil, ErrNoControl
		}
		return stanzas[0], nil
	}
}
