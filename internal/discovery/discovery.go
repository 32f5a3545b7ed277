package discovery

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"shroomdump/internal/logging"
)

// Kind is the asset category used to pick output directories.
type Kind string

const (
	KindFigure    Kind = "figure"
	KindFurniture Kind = "furniture"
	KindRoom      Kind = "room"
	KindOther     Kind = "other"
)

// Kinds lists every kind in classification precedence order.
var Kinds = []Kind{KindFigure, KindFurniture, KindRoom, KindOther}

// Container is the Director container format of an input file.
type Container string

const (
	// ContainerDCR is a Shockwave movie (.dcr).
	ContainerDCR Container = "dcr"
	// ContainerCCT is an external cast (.cct); heavier to decode.
	ContainerCCT Container = "cct"
)

// Containers lists the recognized containers.
var Containers = []Container{ContainerDCR, ContainerCCT}

// DefaultMaxDepth is used when Options.MaxDepth is not positive.
const DefaultMaxDepth = 10

// Asset describes one discovered input file.
type Asset struct {
	Path      string
	RelPath   string
	BaseName  string
	Kind      Kind
	Container Container
}

// Options configures Discover.
type Options struct {
	MaxDepth int
	// Exclude holds doublestar globs matched against slash-separated paths
	// relative to the root. A matching directory is not descended.
	Exclude []string
	Logger  *slog.Logger
}

var (
	figureBaseTokens    = []string{"figure", "avatar", "head", "body"}
	figurePathTokens    = []string{"figure", "avatar"}
	furnitureBaseTokens = []string{"furni", "furniture", "hh_furni", "hh_cat_gfx"}
	furniturePathTokens = []string{"furni", "furniture"}
	roomTokens          = []string{"room", "tile"}
)

// Classify returns the kind for a base name and path. Matching is
// case-insensitive.
func Classify(baseName, path string) Kind {
	base := strings.ToLower(baseName)
	lowerPath := strings.ToLower(filepath.ToSlash(path))
	switch {
	case containsAny(base, figureBaseTokens) || containsAny(lowerPath, figurePathTokens):
		return KindFigure
	case containsAny(base, furnitureBaseTokens) || containsAny(lowerPath, furniturePathTokens):
		return KindFurniture
	case containsAny(base, roomTokens) || containsAny(lowerPath, roomTokens):
		return KindRoom
	default:
		return KindOther
	}
}

func containsAny(value string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(value, token) {
			return true
		}
	}
	return false
}

// ContainerOf returns the container for a file name, or false when the
// extension is not recognized.
func ContainerOf(name string) (Container, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".dcr":
		return ContainerDCR, true
	case ".cct":
		return ContainerCCT, true
	default:
		return "", false
	}
}

// Discover walks root and returns one Asset per recognized container file, in
// lexical walk order. Unreadable subdirectories are logged and skipped.
func Discover(root string, opts Options) ([]Asset, error) {
	logger := logging.NewComponentLogger(opts.Logger, "discovery")
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve discovery root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat discovery root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("discovery root %q is not a directory", absRoot)
	}

	var assets []Asset
	skippedDeep := 0
	walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == absRoot {
				return err
			}
			logging.WarnWithContext(logger, "skipping unreadable path", "discovery_unreadable",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldImpact, "assets below this path are not extracted"),
			)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		rel, relErr := filepath.Rel(absRoot, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if rel != "." && excluded(rel, opts.Exclude) {
			logger.Debug("excluded by glob", logging.String("path", rel))
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if depth := strings.Count(rel, "/") + 1; rel != "." && depth > maxDepth {
				skippedDeep++
				logger.Debug("directory exceeds depth ceiling",
					logging.String("path", rel),
					logging.Int("depth", depth),
					logging.Int("max_depth", maxDepth),
				)
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		container, ok := ContainerOf(d.Name())
		if !ok {
			return nil
		}
		baseName := strings.TrimSuffix(d.Name(), filepath.Ext(d.Name()))
		assets = append(assets, Asset{
			Path:      path,
			RelPath:   rel,
			BaseName:  baseName,
			Kind:      Classify(baseName, rel),
			Container: container,
		})
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walk %s: %w", absRoot, walkErr)
	}

	counts := Count(assets)
	logger.Info("discovered client assets",
		logging.Int("total", len(assets)),
		logging.Int("dcr", counts.ByContainer[ContainerDCR]),
		logging.Int("cct", counts.ByContainer[ContainerCCT]),
		logging.Int("skipped_deep_dirs", skippedDeep),
	)
	return assets, nil
}

func excluded(rel string, patterns []string) bool {
	for _, pattern := range patterns {
		matched, err := doublestar.Match(pattern, rel)
		if err != nil {
			continue
		}
		if matched {
			return true
		}
	}
	return false
}

// Counts summarizes a discovery result.
type Counts struct {
	ByKind      map[Kind]int
	ByContainer map[Container]int
}

// Count tallies assets by kind and by container.
func Count(assets []Asset) Counts {
	counts := Counts{ByKind: map[Kind]int{}, ByContainer: map[Container]int{}}
	for _, asset := range assets {
		counts.ByKind[asset.Kind]++
		counts.ByContainer[asset.Container]++
	}
	return counts
}

// Partition is the subset of assets sharing a kind and container.
type Partition struct {
	Kind      Kind
	Container Container
	Assets    []Asset
}

// Label names the partition in progress output, e.g. "furniture dcr".
func (p Partition) Label() string {
	return string(p.Kind) + " " + string(p.Container)
}

// PartitionAssets groups assets by (kind, container). Empty partitions are
// omitted; the rest follow Kinds then Containers order and keep discovery
// order within.
func PartitionAssets(assets []Asset) []Partition {
	type key struct {
		kind      Kind
		container Container
	}
	groups := map[key][]Asset{}
	for _, asset := range assets {
		k := key{asset.Kind, asset.Container}
		groups[k] = append(groups[k], asset)
	}
	var out []Partition
	for _, kind := range Kinds {
		for _, container := range Containers {
			if members := groups[key{kind, container}]; len(members) > 0 {
				out = append(out, Partition{Kind: kind, Container: container, Assets: members})
			}
		}
	}
	return out
}

// ErrNoAssets is returned by callers that require at least one asset.
var ErrNoAssets = errors.New("no recognized assets found")
