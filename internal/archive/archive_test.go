package archive_test

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ulikunitz/xz"

	"shroomdump/internal/archive"
)

type file struct {
	name string
	body string
}

var clientFiles = []file{
	{name: "client/figure_hair.dcr", body: "XFIR"},
	{name: "client/cast/hh_furni_chair.cct", body: "FGDM"},
}

func writeZip(t *testing.T, path string, files []file) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := zw.Create(f.name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(f.body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func tarBytes(t *testing.T, files []file) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, f := range files {
		if err := tw.WriteHeader(&tar.Header{Name: f.name, Mode: 0o644, Size: int64(len(f.body)), Typeflag: tar.TypeReg}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(f.body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func assertExtracted(t *testing.T, dest string) {
	t.Helper()
	for _, f := range clientFiles {
		data, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(f.name)))
		if err != nil {
			t.Fatalf("read %s: %v", f.name, err)
		}
		if string(data) != f.body {
			t.Fatalf("%s: got %q", f.name, data)
		}
	}
	if _, err := os.Stat(dest + ".partial"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("staging directory left behind: %v", err)
	}
}

func TestExtractZip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "origins_client_14.zip")
	writeZip(t, src, clientFiles)

	dest := filepath.Join(dir, "client_14")
	n, err := archive.Extract(src, dest)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 files, got %d", n)
	}
	assertExtracted(t, dest)
}

func TestExtractTarGz(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(tarBytes(t, clientFiles)); err != nil {
		t.Fatal(err)
	}
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(dir, "client.tar.gz")
	if err := os.WriteFile(src, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	dest := filepath.Join(dir, "client_14")
	if _, err := archive.Extract(src, dest); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	assertExtracted(t, dest)
}

func TestExtractTarXz(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := xw.Write(tarBytes(t, clientFiles)); err != nil {
		t.Fatal(err)
	}
	if err := xw.Close(); err != nil {
		t.Fatal(err)
	}
	// Misleading name: the format is sniffed from the content.
	src := filepath.Join(dir, "client.bin")
	if err := os.WriteFile(src, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	dest := filepath.Join(dir, "client_14")
	if _, err := archive.Extract(src, dest); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	assertExtracted(t, dest)
}

func TestExtractRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "evil.zip")
	writeZip(t, src, []file{{name: "../escape.txt", body: "x"}})

	dest := filepath.Join(dir, "out", "client")
	_, err := archive.Extract(src, dest)
	if !errors.Is(err, archive.ErrUnsafePath) {
		t.Fatalf("expected unsafe path error, got %v", err)
	}
	if _, err := os.Stat(dest); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("destination should not exist after failure: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "out", "escape.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("entry escaped the destination")
	}
}

func TestFormatFromName(t *testing.T) {
	cases := map[string]archive.Format{
		"https://cdn.example.com/client/win.zip?v=3": archive.FormatZip,
		"client.tar.gz":                              archive.FormatTarGz,
		"client.TXZ":                                 archive.FormatTarXz,
		"client.exe":                                 archive.FormatUnknown,
	}
	for name, want := range cases {
		if got := archive.FormatFromName(name); got != want {
			t.Errorf("FormatFromName(%q) = %v, want %v", name, got, want)
		}
	}
}
