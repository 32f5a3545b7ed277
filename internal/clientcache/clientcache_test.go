package clientcache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"shroomdump/internal/logging"
)

func makeClient(t *testing.T, root, version string, age time.Duration) string {
	t.Helper()
	dir := Dir(root, version)
	if err := os.MkdirAll(filepath.Join(dir, "dcr"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "dcr", "hh_furni.cct"), []byte("cast"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	stamp := time.Now().Add(-age)
	if err := os.Chtimes(dir, stamp, stamp); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	return dir
}

func TestListMissingDirectory(t *testing.T) {
	for _, dir := range []string{"", "   ", "/nonexistent/path/12345"} {
		clients, err := List(dir)
		if err != nil || len(clients) != 0 {
			t.Errorf("List(%q) = %v, %v; want empty", dir, clients, err)
		}
	}
}

func TestListNewestFirst(t *testing.T) {
	root := t.TempDir()
	makeClient(t, root, "100", 2*time.Hour)
	makeClient(t, root, "101", time.Hour)
	if err := os.MkdirAll(filepath.Join(root, "client_102.partial"), 0o755); err != nil {
		t.Fatalf("mkdir partial: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "gamedata"), 0o755); err != nil {
		t.Fatalf("mkdir gamedata: %v", err)
	}

	clients, err := List(root)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(clients) != 2 {
		t.Fatalf("expected 2 clients, got %d", len(clients))
	}
	if clients[0].Version != "101" || clients[1].Version != "100" {
		t.Fatalf("unexpected order: %s, %s", clients[0].Version, clients[1].Version)
	}
	if clients[0].Size != 4 {
		t.Fatalf("size = %d, want 4", clients[0].Size)
	}
}

func TestPruneKeepsNewestAndRemovesLeftovers(t *testing.T) {
	root := t.TempDir()
	oldDir := makeClient(t, root, "100", 2*time.Hour)
	newDir := makeClient(t, root, "101", time.Hour)
	archive := ArchivePath(root, "101", ".zip")
	if err := os.WriteFile(archive, []byte("zip"), 0o644); err != nil {
		t.Fatalf("write archive: %v", err)
	}
	partial := filepath.Join(root, "client_102.partial")
	if err := os.MkdirAll(partial, 0o755); err != nil {
		t.Fatalf("mkdir partial: %v", err)
	}

	result := Prune(context.Background(), root, 0, logging.NewNop())
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %+v", result.Errors)
	}
	if len(result.Removed) != 3 {
		t.Fatalf("removed %v, want 3 paths", result.Removed)
	}
	for _, gone := range []string{oldDir, archive, partial} {
		if _, err := os.Stat(gone); !os.IsNotExist(err) {
			t.Errorf("%s should have been removed", gone)
		}
	}
	if _, err := os.Stat(newDir); err != nil {
		t.Errorf("newest client should remain: %v", err)
	}
}
