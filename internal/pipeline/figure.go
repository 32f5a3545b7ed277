package pipeline

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"shroomdump/internal/bundle"
	"shroomdump/internal/discovery"
	"shroomdump/internal/logging"
)

const (
	// MembersName is the cast member listing the decoder writes next to the
	// extracted bitmaps. It carries the registration point of every bitmap.
	MembersName = "Members.csv"
	// FigureManifestName is the offset manifest added to figure bundles.
	FigureManifestName = "manifest.xml"
	// FigureMapName is written to the output root after extraction.
	FigureMapName = "figuremap.xml"
	// FigureDataName is the figure data document copied next to the figure map.
	FigureDataName = "figuredata.xml"

	figureLibraryPrefix = "hh_human_"
)

var registrationPoint = regexp.MustCompile(`\(\s*(-?\d+)\s*,\s*(-?\d+)\s*\)`)

var partTypeNames = map[string]string{
	"hr": "hair",
	"hd": "head",
	"bd": "body",
	"ch": "shirt",
	"lg": "leg",
	"sh": "shoe",
	"ha": "hats",
	"he": "head_accessory",
	"ea": "eye_accessory",
	"fa": "face_accessory",
	"ca": "chest_accessory",
	"wa": "waist_accessory",
	"fc": "face",
	"ey": "eyes",
	"ri": "item",
	"li": "left_item",
	"lh": "left_hand",
	"rh": "right_hand",
	"ls": "left_sleeve",
	"rs": "right_sleeve",
	"cc": "chest_print",
	"cp": "chest_patch",
	"fx": "effects",
}

// PartTypeName returns the readable name of a figure part code, or the code
// itself when it is not known.
func PartTypeName(code string) string {
	if name, ok := partTypeNames[code]; ok {
		return name
	}
	return code
}

type point struct {
	X int
	Y int
}

// parseMembers reads the registration points of bitmap members, keyed by
// member name and by file name stem. The header row is skipped, rows that are
// not bitmaps or carry no "(x, y)" point are ignored. On a malformed row the
// points read so far are returned with the error.
func parseMembers(r io.Reader) (map[string]point, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	points := map[string]point{}
	for row := 0; ; row++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return points, nil
		}
		if err != nil {
			return points, err
		}
		if row == 0 || len(record) < 4 || !strings.EqualFold(strings.TrimSpace(record[1]), "bitmap") {
			continue
		}
		m := registrationPoint.FindStringSubmatch(record[3])
		if m == nil {
			continue
		}
		x, _ := strconv.Atoi(m[1])
		y, _ := strconv.Atoi(m[2])
		p := point{X: x, Y: y}
		if name := strings.TrimSpace(record[2]); name != "" {
			points[name] = p
		}
		if len(record) > 4 {
			if file := strings.TrimSpace(record[4]); file != "" {
				points[spriteKey(strings.TrimSuffix(file, filepath.Ext(file)))] = p
			}
		}
	}
}

func readMembers(files []string) map[string]point {
	for _, path := range files {
		if !strings.EqualFold(filepath.Base(path), MembersName) {
			continue
		}
		f, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer f.Close()
		points, _ := parseMembers(f)
		return points
	}
	return nil
}

// spriteKey strips the cast member number some decoders prefix file names
// with ("12_h_std_bd_1_2_0" becomes "h_std_bd_1_2_0").
func spriteKey(stem string) string {
	if number, rest, ok := strings.Cut(stem, "_"); ok && number != "" && strings.Trim(number, "0123456789") == "" {
		return rest
	}
	return stem
}

type figureManifest struct {
	XMLName xml.Name      `xml:"manifest"`
	Library figureLibrary `xml:"library"`
}

type figureLibrary struct {
	Name    string        `xml:"name,attr"`
	Version string        `xml:"version,attr"`
	Assets  []figureAsset `xml:"assets>asset"`
}

type figureAsset struct {
	Name     string       `xml:"name,attr"`
	MimeType string       `xml:"mimeType,attr"`
	Params   []assetParam `xml:"param"`
}

type assetParam struct {
	Key   string `xml:"key,attr"`
	Value string `xml:"value,attr"`
}

// buildFigureManifest lists every sprite of a figure library with its offset
// param, in sprite name order.
func buildFigureManifest(library string, sprites map[string]Sprite) ([]byte, error) {
	names := make([]string, 0, len(sprites))
	for name := range sprites {
		names = append(names, name)
	}
	sort.Strings(names)

	doc := figureManifest{Library: figureLibrary{Name: library, Version: "0.1"}}
	for _, name := range names {
		sprite := sprites[name]
		doc.Library.Assets = append(doc.Library.Assets, figureAsset{
			Name:     name,
			MimeType: mimeType(sprite.FileName),
			Params:   []assetParam{{Key: "offset", Value: fmt.Sprintf("%d,%d", sprite.RegX, sprite.RegY)}},
		})
	}
	return marshalXML(doc)
}

type figureMap struct {
	XMLName xml.Name    `xml:"map"`
	Libs    []figureLib `xml:"lib"`
}

type figureLib struct {
	ID       string       `xml:"id,attr"`
	Revision int          `xml:"revision,attr"`
	Parts    []figurePart `xml:"part"`
}

type figurePart struct {
	ID   int    `xml:"id,attr"`
	Type string `xml:"type,attr"`
}

// buildFigureMap maps every part id and type found in the sprites of each
// library to that library. Libraries and parts are sorted.
func buildFigureMap(libraries map[string]map[string]Sprite) ([]byte, error) {
	ids := make([]string, 0, len(libraries))
	for id := range libraries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	doc := figureMap{}
	for _, id := range ids {
		seen := map[figurePart]struct{}{}
		var parts []figurePart
		for _, sprite := range libraries[id] {
			part := figurePart{ID: sprite.ID, Type: sprite.Part}
			if _, ok := seen[part]; ok {
				continue
			}
			seen[part] = struct{}{}
			parts = append(parts, part)
		}
		sort.Slice(parts, func(i, j int) bool {
			if parts[i].Type != parts[j].Type {
				return parts[i].Type < parts[j].Type
			}
			return parts[i].ID < parts[j].ID
		})
		doc.Libs = append(doc.Libs, figureLib{ID: id, Revision: 1, Parts: parts})
	}
	return marshalXML(doc)
}

func marshalXML(doc any) ([]byte, error) {
	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), append(body, '\n')...), nil
}

func mimeType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".bmp":
		return "image/bmp"
	default:
		return "image/png"
	}
}

// writeFigureMap reads the sprite tables of the avatar part bundles produced
// in this run and writes the figure map plus a copy of the figure data to the
// output root. Without avatar part bundles nothing is written.
func (p *Pipeline) writeFigureMap(ctx context.Context, items []Item) (string, error) {
	logger := logging.WithContext(ctx, p.logger)
	libraries := map[string]map[string]Sprite{}
	for _, item := range items {
		if item.Kind != string(discovery.KindFigure) || !strings.HasPrefix(item.Name, figureLibraryPrefix) || item.Output == "" {
			continue
		}
		b, err := bundle.Open(item.Output)
		if err != nil {
			return "", fmt.Errorf("open %s: %w", item.Output, err)
		}
		raw, ok := b.Lookup(IndexName)
		if !ok {
			continue
		}
		var index AssetIndex
		if err := json.Unmarshal(raw, &index); err != nil {
			return "", fmt.Errorf("decode index of %s: %w", item.Output, err)
		}
		if len(index.Sprites) > 0 {
			libraries[item.Name] = index.Sprites
		}
	}
	if len(libraries) == 0 {
		logger.Info("no avatar part libraries extracted, figure map skipped")
		return "", nil
	}

	data, err := buildFigureMap(libraries)
	if err != nil {
		return "", fmt.Errorf("encode figure map: %w", err)
	}
	if err := os.MkdirAll(p.cfg.Paths.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	out := filepath.Join(p.cfg.Paths.OutputDir, FigureMapName)
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return "", fmt.Errorf("write figure map: %w", err)
	}

	figureData, err := os.ReadFile(filepath.Join(p.cfg.Paths.DownloadDir, FigureDataName))
	if err == nil {
		err = os.WriteFile(filepath.Join(p.cfg.Paths.OutputDir, FigureDataName), figureData, 0o644)
	}
	if err != nil {
		logger.Debug("figure data not copied", logging.Error(err))
	}

	logger.Info("figure map written",
		logging.String("path", out),
		logging.Int("libraries", len(libraries)),
	)
	return out, nil
}
