package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"shroomdump/internal/bundle"
	"shroomdump/internal/discovery"
	"shroomdump/internal/services/decoder"
)

// IndexName is the generated metadata entry in every asset bundle.
const IndexName = "index.json"

var (
	imageExtensions    = map[string]struct{}{".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".bmp": {}}
	metadataExtensions = map[string]struct{}{".xml": {}, ".bin": {}}

	// {size}_{action}_{part}_{id}_{direction}_{frame}, e.g. h_std_hd_1_2_0,
	// after any cast member number prefix is stripped.
	spriteName = regexp.MustCompile(`^([hs]+)_([^_]+)_([^_]+)_(\d+)_(\d+)_(\d+)$`)
)

// Sprite is one figure frame parsed from its file name. RegX and RegY come
// from the decoder's member listing and stay 0 without one.
type Sprite struct {
	Name      string `json:"name"`
	Size      string `json:"size"`
	Action    string `json:"action"`
	Part      string `json:"part"`
	PartName  string `json:"partName"`
	ID        int    `json:"id"`
	Direction int    `json:"direction"`
	Frame     int    `json:"frame"`
	FileName  string `json:"fileName"`
	RegX      int    `json:"regX"`
	RegY      int    `json:"regY"`
}

// AssetIndex is the index.json document of an asset bundle.
type AssetIndex struct {
	Type          string            `json:"type"`
	BaseName      string            `json:"baseName"`
	Kind          string            `json:"kind"`
	Container     string            `json:"container"`
	Images        []string          `json:"images"`
	Metadata      []string          `json:"metadata"`
	Sprites       map[string]Sprite `json:"sprites,omitempty"`
	Visualization *Visualization    `json:"visualization,omitempty"`
	Index         *FurnitureIndex   `json:"index,omitempty"`
	Assets        *FurnitureAssets  `json:"assets,omitempty"`
}

// Visualization is the default furniture visualization.
type Visualization struct {
	Type           string                         `json:"type"`
	Visualizations map[string]VisualizationLayout `json:"visualizations"`
}

// VisualizationLayout describes one visualization size.
type VisualizationLayout struct {
	LayerCount int              `json:"layerCount"`
	Angle      int              `json:"angle"`
	Layers     map[string]Layer `json:"layers"`
}

// Layer is one furniture layer.
type Layer struct {
	Z     int `json:"z"`
	Alpha int `json:"alpha"`
}

// FurnitureIndex names the logic and visualization of a furniture item.
type FurnitureIndex struct {
	Type          string `json:"type"`
	Logic         string `json:"logic"`
	Visualization string `json:"visualization"`
	Name          string `json:"name"`
}

// FurnitureAssets is the (empty) asset table of a furniture item.
type FurnitureAssets struct {
	Type   string         `json:"type"`
	Name   string         `json:"name"`
	Assets map[string]any `json:"assets"`
}

// ParseSprite parses a figure frame file name. ok is false for names that do
// not follow the sprite convention.
func ParseSprite(fileName string) (Sprite, bool) {
	stem := spriteKey(strings.TrimSuffix(fileName, filepath.Ext(fileName)))
	m := spriteName.FindStringSubmatch(stem)
	if m == nil {
		return Sprite{}, false
	}
	id, _ := strconv.Atoi(m[4])
	direction, _ := strconv.Atoi(m[5])
	frame, _ := strconv.Atoi(m[6])
	return Sprite{
		Name:      stem,
		Size:      m[1],
		Action:    m[2],
		Part:      m[3],
		PartName:  PartTypeName(m[3]),
		ID:        id,
		Direction: direction,
		Frame:     frame,
		FileName:  fileName,
	}, true
}

// splitFiles separates decoded files into images and metadata by extension,
// each sorted by base name. Other files are dropped.
func splitFiles(files []string) (images, metadata []string) {
	for _, file := range files {
		ext := strings.ToLower(filepath.Ext(file))
		if _, ok := imageExtensions[ext]; ok {
			images = append(images, file)
		} else if _, ok := metadataExtensions[ext]; ok {
			metadata = append(metadata, file)
		}
	}
	byBase := func(list []string) {
		sort.Slice(list, func(i, j int) bool { return filepath.Base(list[i]) < filepath.Base(list[j]) })
	}
	byBase(images)
	byBase(metadata)
	return images, metadata
}

// buildIndex derives the index document for an asset from its file names.
// points holds figure registration points by sprite name.
func buildIndex(asset discovery.Asset, images, metadata []string, points map[string]point) AssetIndex {
	index := AssetIndex{
		Type:      "origins_" + string(asset.Kind),
		BaseName:  asset.BaseName,
		Kind:      string(asset.Kind),
		Container: string(asset.Container),
		Images:    baseNames(images),
		Metadata:  baseNames(metadata),
	}
	switch asset.Kind {
	case discovery.KindFigure:
		sprites := map[string]Sprite{}
		for _, name := range index.Images {
			sprite, ok := ParseSprite(name)
			if !ok {
				continue
			}
			if reg, ok := points[sprite.Name]; ok {
				sprite.RegX, sprite.RegY = reg.X, reg.Y
			}
			sprites[sprite.Name] = sprite
		}
		if len(sprites) > 0 {
			index.Sprites = sprites
		}
	case discovery.KindFurniture:
		index.Visualization = &Visualization{
			Type: "origins",
			Visualizations: map[string]VisualizationLayout{
				"1": {LayerCount: 1, Angle: 45, Layers: map[string]Layer{"0": {Z: 0, Alpha: 255}}},
			},
		}
		index.Index = &FurnitureIndex{
			Type:          "origins",
			Logic:         "furniture_basic",
			Visualization: "furniture_basic",
			Name:          asset.BaseName,
		}
		index.Assets = &FurnitureAssets{Type: "origins", Name: asset.BaseName, Assets: map[string]any{}}
	}
	return index
}

// buildAssetBundle packages the decoded files of asset. Images come first,
// then metadata, then for figures with sprites the offset manifest, then
// index.json.
func buildAssetBundle(asset discovery.Asset, files []string) ([]byte, int, error) {
	images, metadata := splitFiles(files)
	builder := bundle.NewBuilder()
	for _, path := range append(append([]string(nil), images...), metadata...) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, 0, fmt.Errorf("read %s: %w", filepath.Base(path), err)
		}
		if err := builder.Add(filepath.Base(path), data); err != nil {
			return nil, 0, err
		}
	}
	var points map[string]point
	if asset.Kind == discovery.KindFigure {
		points = readMembers(files)
	}
	index := buildIndex(asset, images, metadata, points)
	if len(index.Sprites) > 0 && !containsBase(metadata, FigureManifestName) {
		manifest, err := buildFigureManifest(asset.BaseName, index.Sprites)
		if err != nil {
			return nil, 0, fmt.Errorf("encode figure manifest: %w", err)
		}
		if err := builder.Add(FigureManifestName, manifest); err != nil {
			return nil, 0, err
		}
	}
	indexJSON, err := json.Marshal(index)
	if err != nil {
		return nil, 0, fmt.Errorf("encode index: %w", err)
	}
	if err := builder.Add(IndexName, indexJSON); err != nil {
		return nil, 0, err
	}
	entries := builder.Len()
	data, err := builder.Finalize()
	if err != nil {
		return nil, 0, err
	}
	return data, entries, nil
}

// writeManifest records a failed extraction inside the asset's dump directory.
func writeManifest(dumpDir, source, projectURL string) error {
	if err := os.MkdirAll(dumpDir, 0o755); err != nil {
		return err
	}
	body := fmt.Sprintf("Container extraction failed.\nSource: %s\nDecoder: %s\n", source, projectURL)
	return os.WriteFile(filepath.Join(dumpDir, decoder.ManifestName), []byte(body), 0o644)
}

func containsBase(paths []string, name string) bool {
	for _, path := range paths {
		if filepath.Base(path) == name {
			return true
		}
	}
	return false
}

func baseNames(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, path := range paths {
		out = append(out, filepath.Base(path))
	}
	return out
}
