package discovery_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"shroomdump/internal/discovery"
)

func writeFiles(t *testing.T, root string, rels ...string) {
	t.Helper()
	for _, rel := range rels {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte("XFIR"), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
}

func byBase(assets []discovery.Asset) map[string]discovery.Asset {
	out := make(map[string]discovery.Asset, len(assets))
	for _, a := range assets {
		out[a.BaseName] = a
	}
	return out
}

func TestDiscoverClassifiesScenarioTree(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "figure_hair.dcr", "hh_furni_chair.dcr", "tile_room.cct", "misc.dcr", "readme.txt")

	assets, err := discovery.Discover(root, discovery.Options{})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(assets) != 4 {
		t.Fatalf("expected 4 assets, got %d: %+v", len(assets), assets)
	}

	want := map[string]discovery.Kind{
		"figure_hair":    discovery.KindFigure,
		"hh_furni_chair": discovery.KindFurniture,
		"tile_room":      discovery.KindRoom,
		"misc":           discovery.KindOther,
	}
	got := byBase(assets)
	for base, kind := range want {
		asset, ok := got[base]
		if !ok {
			t.Fatalf("missing asset %s", base)
		}
		if asset.Kind != kind {
			t.Errorf("%s: kind = %s, want %s", base, asset.Kind, kind)
		}
		if !filepath.IsAbs(asset.Path) {
			t.Errorf("%s: path %q is not absolute", base, asset.Path)
		}
	}
	if got["tile_room"].Container != discovery.ContainerCCT || got["misc"].Container != discovery.ContainerDCR {
		t.Fatalf("unexpected containers: %+v", got)
	}
}

func TestClassifyPrecedenceAndPathTokens(t *testing.T) {
	tests := []struct {
		base, path string
		want       discovery.Kind
	}{
		{"avatar_room", "avatar_room.dcr", discovery.KindFigure},
		{"hh_cat_gfx_all", "hh_cat_gfx_all.cct", discovery.KindFurniture},
		{"chair", "Furniture/chair.dcr", discovery.KindFurniture},
		{"sprites", "FIGURE/sprites.dcr", discovery.KindFigure},
		{"Body_Parts", "x/Body_Parts.cct", discovery.KindFigure},
		{"lobby", "rooms/lobby.dcr", discovery.KindRoom},
		{"furni_tile", "furni_tile.dcr", discovery.KindFurniture},
		{"sound", "sound.cct", discovery.KindOther},
	}
	for _, tt := range tests {
		if got := discovery.Classify(tt.base, tt.path); got != tt.want {
			t.Errorf("Classify(%q, %q) = %s, want %s", tt.base, tt.path, got, tt.want)
		}
	}
}

func TestDiscoverDepthCeilingAndExclude(t *testing.T) {
	root := t.TempDir()
	deep := strings.Repeat("d/", 4)
	writeFiles(t, root,
		"a/shallow.dcr",
		deep+"too_deep.dcr",
		"sound/ignored.cct",
		"upper/CASE.DCR",
	)

	assets, err := discovery.Discover(root, discovery.Options{MaxDepth: 3, Exclude: []string{"sound/**"}})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	got := byBase(assets)
	if _, ok := got["shallow"]; !ok {
		t.Error("expected shallow asset")
	}
	if _, ok := got["too_deep"]; ok {
		t.Error("asset beyond depth ceiling should be skipped")
	}
	if _, ok := got["ignored"]; ok {
		t.Error("excluded asset should be skipped")
	}
	if asset, ok := got["CASE"]; !ok || asset.Container != discovery.ContainerDCR {
		t.Error("extension match should be case-insensitive")
	}
}

func TestDiscoverRejectsMissingRoot(t *testing.T) {
	if _, err := discovery.Discover(filepath.Join(t.TempDir(), "nope"), discovery.Options{}); err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestPartitionAssets(t *testing.T) {
	assets := []discovery.Asset{
		{BaseName: "misc", Kind: discovery.KindOther, Container: discovery.ContainerDCR},
		{BaseName: "chair", Kind: discovery.KindFurniture, Container: discovery.ContainerCCT},
		{BaseName: "hair", Kind: discovery.KindFigure, Container: discovery.ContainerDCR},
		{BaseName: "table", Kind: discovery.KindFurniture, Container: discovery.ContainerCCT},
		{BaseName: "sofa", Kind: discovery.KindFurniture, Container: discovery.ContainerDCR},
	}
	parts := discovery.PartitionAssets(assets)

	var labels []string
	for _, p := range parts {
		labels = append(labels, p.Label())
	}
	want := []string{"figure dcr", "furniture dcr", "furniture cct", "other dcr"}
	if strings.Join(labels, ",") != strings.Join(want, ",") {
		t.Fatalf("labels = %v, want %v", labels, want)
	}
	if parts[2].Assets[0].BaseName != "chair" || parts[2].Assets[1].BaseName != "table" {
		t.Fatalf("partition lost discovery order: %+v", parts[2].Assets)
	}

	counts := discovery.Count(assets)
	if counts.ByKind[discovery.KindFurniture] != 3 || counts.ByContainer[discovery.ContainerCCT] != 2 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
}
