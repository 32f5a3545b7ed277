package bundle

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/edsrzf/mmap-go"
	"github.com/zeebo/blake3"
)

// Extension is the file suffix of bundle files.
const Extension = ".bundle"

// Digest returns the hex BLAKE3-256 digest of data.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Open memory-maps path and decodes it.
func Open(path string) (*Bundle, error) {
	var b *Bundle
	err := withMapped(path, func(data []byte) error {
		var err error
		b, err = Decode(data)
		return err
	})
	return b, err
}

// OpenInfo memory-maps path and lists entry headers plus the file digest.
func OpenInfo(path string) ([]EntryInfo, string, error) {
	var (
		infos  []EntryInfo
		digest string
	)
	err := withMapped(path, func(data []byte) error {
		var err error
		if infos, err = Inspect(data); err != nil {
			return err
		}
		digest = Digest(data)
		return nil
	})
	return infos, digest, err
}

// withMapped calls fn with the read-only mapping of path. fn must not retain
// the slice.
func withMapped(path string, fn func(data []byte) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open bundle: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat bundle: %w", err)
	}
	if info.Size() == 0 {
		return &FormatError{Offset: 0, Reason: "empty file"}
	}

	mapped, err := mmap.Map(file, mmap.RDONLY, 0)
	if err != nil {
		return fmt.Errorf("map bundle: %w", err)
	}
	defer mapped.Unmap()

	return fn(mapped)
}

// WriteFile writes data to path atomically via a temp file and rename.
func WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create bundle directory: %w", err)
	}
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("write bundle temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("replace bundle file: %w", err)
	}
	return nil
}

// PackDir builds a bundle from the regular files directly inside dir, sorted
// by name.
func PackDir(dir string) ([]byte, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}
	names := make([]string, 0, len(dirEntries))
	for _, entry := range dirEntries {
		if entry.Type().IsRegular() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	builder := NewBuilder()
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		if err := builder.Add(name, data); err != nil {
			return nil, err
		}
	}
	return builder.Finalize()
}

// Unpack writes each distinct entry of b into dir. Entry names containing
// path separators or parent references are rejected.
func Unpack(b *Bundle, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	var written []string
	for _, name := range b.Names() {
		if !safeEntryName(name) {
			return written, fmt.Errorf("unsafe entry name %q", name)
		}
		data, _ := b.Lookup(name)
		target := filepath.Join(dir, name)
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return written, fmt.Errorf("write %s: %w", name, err)
		}
		written = append(written, target)
	}
	return written, nil
}

func safeEntryName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) {
		return false
	}
	return fs.ValidPath(name)
}

// IsFormatError reports whether err stems from malformed bundle bytes.
func IsFormatError(err error) bool {
	var formatErr *FormatError
	return errors.As(err, &formatErr)
}
