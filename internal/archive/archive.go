// Package archive unpacks downloaded client archives (.zip, .tar.gz and
// .tar.xz) into a directory tree.
//
// Extraction is staged in a sibling directory and renamed into place, so a
// destination that exists is always complete. Entries that would escape the
// destination are rejected; links and device nodes are skipped.
package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"
)

// Format identifies an archive container.
type Format int

const (
	FormatUnknown Format = iota
	FormatZip
	FormatTarGz
	FormatTarXz
)

// Extension returns the canonical file extension for f.
func (f Format) Extension() string {
	switch f {
	case FormatTarGz:
		return ".tar.gz"
	case FormatTarXz:
		return ".tar.xz"
	case FormatZip:
		return ".zip"
	default:
		return ""
	}
}

// ErrUnsafePath reports an entry that would be written outside the
// destination.
var ErrUnsafePath = errors.New("archive entry escapes destination")

// FormatFromName detects the format from a file name or URL. Unrecognized
// names report FormatUnknown.
func FormatFromName(name string) Format {
	if u, err := url.Parse(name); err == nil && u.Path != "" {
		name = u.Path
	}
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz
	case strings.HasSuffix(lower, ".tar.xz"), strings.HasSuffix(lower, ".txz"):
		return FormatTarXz
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip
	default:
		return FormatUnknown
	}
}

var (
	zipMagic  = []byte("PK\x03\x04")
	gzipMagic = []byte{0x1f, 0x8b}
	xzMagic   = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
)

// Detect sniffs the format from the first bytes of the file at path.
func Detect(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()
	head := make([]byte, 6)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return FormatUnknown, fmt.Errorf("read archive header: %w", err)
	}
	head = head[:n]
	switch {
	case bytes.HasPrefix(head, zipMagic):
		return FormatZip, nil
	case bytes.HasPrefix(head, gzipMagic):
		return FormatTarGz, nil
	case bytes.HasPrefix(head, xzMagic):
		return FormatTarXz, nil
	default:
		return FormatUnknown, nil
	}
}

// Extract unpacks the archive at src into dest and returns the number of
// regular files written. dest must not exist.
func Extract(src, dest string) (int, error) {
	format, err := Detect(src)
	if err != nil {
		return 0, err
	}
	if format == FormatUnknown {
		format = FormatFromName(src)
	}
	if format == FormatUnknown {
		return 0, fmt.Errorf("unsupported archive format: %s", filepath.Base(src))
	}
	if _, err := os.Stat(dest); err == nil {
		return 0, fmt.Errorf("destination already exists: %s", dest)
	}

	staging := dest + ".partial"
	if err := os.RemoveAll(staging); err != nil {
		return 0, fmt.Errorf("clear staging directory: %w", err)
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return 0, fmt.Errorf("create staging directory: %w", err)
	}

	var count int
	switch format {
	case FormatZip:
		count, err = extractZip(src, staging)
	default:
		count, err = extractTar(src, staging, format)
	}
	if err != nil {
		os.RemoveAll(staging)
		return 0, err
	}
	if err := os.Rename(staging, dest); err != nil {
		os.RemoveAll(staging)
		return 0, fmt.Errorf("move extracted tree into place: %w", err)
	}
	return count, nil
}

func extractZip(src, dest string) (int, error) {
	zr, err := zip.OpenReader(src)
	if errors.Is(err, zip.ErrInsecurePath) {
		if zr != nil {
			zr.Close()
		}
		return 0, fmt.Errorf("%w: %v", ErrUnsafePath, err)
	}
	if err != nil {
		return 0, fmt.Errorf("open zip: %w", err)
	}
	defer zr.Close()

	count := 0
	for _, file := range zr.File {
		target, err := safeJoin(dest, file.Name)
		if err != nil {
			return count, err
		}
		mode := file.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, 0o755); err != nil {
				return count, fmt.Errorf("create directory: %w", err)
			}
		case mode.IsRegular():
			rc, err := file.Open()
			if err != nil {
				return count, fmt.Errorf("open zip entry %s: %w", file.Name, err)
			}
			err = writeFile(target, rc)
			rc.Close()
			if err != nil {
				return count, err
			}
			count++
		}
	}
	return count, nil
}

func extractTar(src, dest string, format Format) (int, error) {
	f, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	var reader io.Reader
	switch format {
	case FormatTarXz:
		xzr, err := xz.NewReader(f)
		if err != nil {
			return 0, fmt.Errorf("xz reader: %w", err)
		}
		reader = xzr
	default:
		gzr, err := gzip.NewReader(f)
		if err != nil {
			return 0, fmt.Errorf("gzip reader: %w", err)
		}
		defer gzr.Close()
		reader = gzr
	}

	tr := tar.NewReader(reader)
	count := 0
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("read header: %w", err)
		}
		target, err := safeJoin(dest, header.Name)
		if err != nil {
			return count, err
		}
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return count, fmt.Errorf("create directory: %w", err)
			}
		case tar.TypeReg:
			if err := writeFile(target, tr); err != nil {
				return count, err
			}
			count++
		}
	}
}

func writeFile(target string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", target, err)
	}
	return out.Close()
}

func safeJoin(dest, name string) (string, error) {
	slashed := strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(slashed, "/") || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	for _, part := range strings.Split(slashed, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
		}
	}
	cleaned := path.Clean(slashed)
	if cleaned == "." {
		return dest, nil
	}
	return filepath.Join(dest, filepath.FromSlash(cleaned)), nil
}
