// Package clientcache manages the unpacked Origins clients kept in the
// download directory between runs.
package clientcache

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"shroomdump/internal/logging"
)

const (
	// DirPrefix names unpacked client directories: client_<version>.
	DirPrefix = "client_"
	// ArchivePrefix names downloaded client archives: origins_client_<version>.<ext>.
	ArchivePrefix = "origins_client_"

	partialSuffix = ".partial"
)

// Dir returns the unpacked client directory for version.
func Dir(downloadDir, version string) string {
	return filepath.Join(downloadDir, DirPrefix+version)
}

// ArchivePath returns the download path of the client archive for version.
func ArchivePath(downloadDir, version, ext string) string {
	return filepath.Join(downloadDir, ArchivePrefix+version+ext)
}

// Client is one unpacked client directory.
type Client struct {
	Version string
	Path    string
	ModTime time.Time
	Size    int64
}

// PruneResult contains the outcome of a prune.
type PruneResult struct {
	Removed []string
	Errors  []PruneError
}

// PruneError pairs a path with its removal error.
type PruneError struct {
	Path  string
	Error error
}

// List returns the unpacked clients in downloadDir, newest first. A missing
// directory yields no clients.
func List(downloadDir string) ([]Client, error) {
	downloadDir = strings.TrimSpace(downloadDir)
	if downloadDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(downloadDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var clients []Client
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || !strings.HasPrefix(name, DirPrefix) || strings.HasSuffix(name, partialSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(downloadDir, name)
		size, _ := dirSize(path)
		clients = append(clients, Client{
			Version: strings.TrimPrefix(name, DirPrefix),
			Path:    path,
			ModTime: info.ModTime(),
			Size:    size,
		})
	}
	sort.SliceStable(clients, func(i, j int) bool {
		if !clients[i].ModTime.Equal(clients[j].ModTime) {
			return clients[i].ModTime.After(clients[j].ModTime)
		}
		return clients[i].Version > clients[j].Version
	})
	return clients, nil
}

// Prune removes all but the keep newest clients, plus any leftover client
// archives and partial extractions. keep below 1 is treated as 1.
func Prune(ctx context.Context, downloadDir string, keep int, logger *slog.Logger) PruneResult {
	result := PruneResult{}
	if keep < 1 {
		keep = 1
	}

	clients, err := List(downloadDir)
	if err != nil {
		result.Errors = append(result.Errors, PruneError{Path: downloadDir, Error: err})
		return result
	}

	var targets []string
	for i, client := range clients {
		if i >= keep {
			targets = append(targets, client.Path)
		}
	}
	targets = append(targets, leftovers(downloadDir)...)

	for _, path := range targets {
		if ctx.Err() != nil {
			result.Errors = append(result.Errors, PruneError{Path: path, Error: ctx.Err()})
			break
		}
		if err := os.RemoveAll(path); err != nil {
			result.Errors = append(result.Errors, PruneError{Path: path, Error: err})
			if logger != nil {
				logger.Warn("failed to remove client data",
					logging.String("path", path),
					logging.Error(err),
					logging.String(logging.FieldEventType, "client_prune_failed"),
					logging.String(logging.FieldErrorHint, "check paths.download_dir permissions"),
					logging.String(logging.FieldImpact, "disk space not reclaimed"),
				)
			}
			continue
		}
		result.Removed = append(result.Removed, path)
		if logger != nil {
			logger.Info("removed client data",
				logging.String("path", path),
				logging.String(logging.FieldEventType, "client_prune"),
			)
		}
	}
	return result
}

// leftovers finds client archives and partial extractions that a completed
// download would have removed.
func leftovers(downloadDir string) []string {
	entries, err := os.ReadDir(downloadDir)
	if err != nil {
		return nil
	}
	var paths []string
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case strings.HasPrefix(name, ArchivePrefix):
			paths = append(paths, filepath.Join(downloadDir, name))
		case entry.IsDir() && strings.HasPrefix(name, DirPrefix) && strings.HasSuffix(name, partialSuffix):
			paths = append(paths, filepath.Join(downloadDir, name))
		}
	}
	return paths
}

// dirSize sums regular file sizes under path, best effort.
func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}
