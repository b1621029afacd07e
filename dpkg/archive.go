package dpkg

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/blakesmith/ar"
	"github.com/ulikunitz/xz"

	"go-repack/engine"
	"go-repack/log"
)

// ErrFileListMissing is reported for packages without an info/<pkg>.list
var ErrFileListMissing = errors.New("file list missing")

// controlFiles are the maintainer files copied from info/ into control.tar
var controlFiles = []string{
	"preinst", "postinst", "prerm", "postrm", "config",
	"templates", "triggers", "conffiles", "shlibs", "symbols", "md5sums",
}

// controlSkip are status-only fields that do not belong in a control file
var controlSkip = []string{"Status", "Config-Version"}

// ArchiveName returns the conventional file name of a .deb. The epoch is
// not part of the file name.
func ArchiveName(id, version, arch string) string {
	if _, rest, ok := strings.Cut(version, ":"); ok {
		version = rest
	}
	if arch == "" {
		arch = "all"
	}
	return fmt.Sprintf("%s_%s_%s.deb", id, version, arch)
}

// infoPath finds info/<pkg>.<ext>, trying the multi-arch name first
func (e *Engine) infoPath(s *Stanza, ext string) (string, bool) {
	id := s.Value("Package")
	candidates := []string{id + "." + ext}
	if arch := s.Value("Architecture"); arch != "" {
		candidates = append([]string{id + ":" + arch + "." + ext}, candidates...)
	}
	for _, name := range candidates {
		path := filepath.Join(e.opts.AdminDir, "info", name)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

// writeArchive re-packages one installed package and returns the path of
// the written archive.
func (e *Engine) writeArchive(s *Stanza, outDir string, prefs engine.Compression) (string, error) {
	id := s.Value("Package")
	version := s.Value("Version")
	if id == "" || version == "" {
		return "", errors.New("stanza without Package or Version")
	}

	listPath, ok := e.infoPath(s, "list")
	if !ok {
		return "", ErrFileListMissing
	}

	control, err := e.controlTar(s, prefs)
	if err != nil {
		return "", fmt.Errorf("control archive: %w", err)
	}

	// data.tar is spooled next to the output so its size is known before
	// the ar header is written
	spool, err := os.CreateTemp(outDir, ".repack-data-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(spool.Name())
	defer spool.Close()

	if err := e.dataTar(listPath, spool, prefs); err != nil {
		return "", fmt.Errorf("data archive: %w", err)
	}
	dataSize, err := spool.Seek(0, io.SeekCurrent)
	if err != nil {
		return "", err
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	output := filepath.Join(outDir, ArchiveName(id, version, s.Value("Architecture")))
	tmp, err := os.CreateTemp(outDir, ".repack-*.deb")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	ext := prefs.Kind.Extension()
	members := []struct {
		name string
		size int64
		body io.Reader
	}{
		{"debian-binary", 4, strings.NewReader("2.0\n")},
		{"control.tar" + ext, int64(len(control)), bytes.NewReader(control)},
		{"data.tar" + ext, dataSize, spool},
	}

	w := ar.NewWriter(tmp)
	if err := w.WriteGlobalHeader(); err != nil {
		tmp.Close()
		return "", err
	}
	now := time.Now()
	for _, m := range members {
		hdr := &ar.Header{
			Name:    m.name,
			ModTime: now,
			Mode:    0644,
			Size:    m.size,
		}
		if err := w.WriteHeader(hdr); err != nil {
			tmp.Close()
			return "", err
		}
		if err := copyMember(w, m.body); err != nil {
			tmp.Close()
			return "", err
		}
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), output); err != nil {
		return "", err
	}
	return output, nil
}

// copyMember streams r into the current ar member. ar.Writer pads after
// every odd-sized write, so all writes but the last are full even chunks.
func copyMember(w *ar.Writer, r io.Reader) error {
	buf := make([]byte, 64<<10)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		switch err {
		case nil:
		case io.EOF, io.ErrUnexpectedEOF:
			return nil
		default:
			return err
		}
	}
}

func (e *Engine) controlTar(s *Stanza, prefs engine.Compression) ([]byte, error) {
	var buf bytes.Buffer
	err := compressTar(&buf, prefs, func(tw *tar.Writer) error {
		now := time.Now()
		if err := tw.WriteHeader(dirHeader("./", now)); err != nil {
			return err
		}

		var control bytes.Buffer
		if err := WriteControl(&control, s, controlSkip...); err != nil {
			return err
		}
		if err := writeMember(tw, "./control", 0644, now, control.Bytes()); err != nil {
			return err
		}

		for _, ext := range controlFiles {
			path, ok := e.infoPath(s, ext)
			if !ok {
				continue
			}
			fi, err := os.Stat(path)
			if err != nil {
				return err
			}
			body, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			if err := writeMember(tw, "./"+ext, int64(fi.Mode().Perm()), fi.ModTime(), body); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// dataTar writes the compressed data.tar of the files in listPath to w
func (e *Engine) dataTar(listPath string, w io.Writer, prefs engine.Compression) error {
	list, err := os.Open(listPath)
	if err != nil {
		return err
	}
	defer list.Close()

	return compressTar(w, prefs, func(tw *tar.Writer) error {
		if err := tw.WriteHeader(dirHeader("./", time.Now())); err != nil {
			return err
		}

		scanner := bufio.NewScanner(list)
		for scanner.Scan() {
			rel := strings.TrimSpace(scanner.Text())
			if rel == "" || rel == "/." || rel == "/" {
				continue
			}
			if err := e.addPath(tw, rel); err != nil {
				return err
			}
		}
		return scanner.Err()
	})
}

// addPath adds one entry of the file list. Listed files that no longer
// exist (removed conffiles, diverted files) are skipped with a warning.
func (e *Engine) addPath(tw *tar.Writer, rel string) error {
	path := filepath.Join(e.opts.RootDir, rel)
	fi, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			e.logf(log.SeverityWarning, "listed file %s does not exist, skipping", rel)
			return nil
		}
		return err
	}

	link := ""
	if fi.Mode()&os.ModeSymlink != 0 {
		if link, err = os.Readlink(path); err != nil {
			return err
		}
	}

	hdr, err := tar.FileInfoHeader(fi, link)
	if err != nil {
		return err
	}
	hdr.Name = "." + filepath.ToSlash(rel)
	if fi.IsDir() {
		hdr.Name += "/"
	}
	hdr.Uid, hdr.Gid = 0, 0
	hdr.Uname, hdr.Gname = "root", "root"

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if !fi.Mode().IsRegular() {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}

func dirHeader(name string, modTime time.Time) *tar.Header {
	return &tar.Header{
		Typeflag: tar.TypeDir,
		Name:     name,
		Mode:     0755,
		ModTime:  modTime,
		Uname:    "root",
		Gname:    "root",
	}
}

func writeMember(tw *tar.Writer, name string, mode int64, modTime time.Time, body []byte) error {
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Mode:     mode,
		Size:     int64(len(body)),
		ModTime:  modTime,
		Uname:    "root",
		Gname:    "root",
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := tw.Write(body)
	return err
}

// compressTar runs fill against a tar writer whose compressed output goes
// to w.
func compressTar(w io.Writer, prefs engine.Compression, fill func(tw *tar.Writer) error) error {
	var zw io.WriteCloser
	switch prefs.Kind {
	case engine.CompressionXZ:
		xw, err := xz.WriterConfig{DictCap: xzDictCap(prefs.Level)}.NewWriter(w)
		if err != nil {
			return err
		}
		zw = xw
	case engine.CompressionGzip:
		gw, err := gzip.NewWriterLevel(w, prefs.Level)
		if err != nil {
			return err
		}
		zw = gw
	default:
		zw = nopCloser{w}
	}

	tw := tar.NewWriter(zw)
	if err := fill(tw); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return zw.Close()
}

// xzDictCap maps a 0-9 level onto an LZMA dictionary size (256 KiB to 4 MiB)
func xzDictCap(level int) int {
	if level < 0 {
		level = 0
	}
	if level > 9 {
		level = 9
	}
	return 1 << (18 + level/2)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
