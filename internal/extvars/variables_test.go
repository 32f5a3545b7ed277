package extvars_test

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"shroomdump/internal/extvars"
	"shroomdump/internal/services"
)

func TestParseAndResolveScenario(t *testing.T) {
	set := extvars.Parse("a=1\nb=${a}-2\n# comment\n")

	if got := set.Map(); !reflect.DeepEqual(got, map[string]string{"a": "1", "b": "${a}-2"}) {
		t.Fatalf("parse = %v", got)
	}

	resolved := extvars.Resolve(set)
	if got := resolved.Map(); !reflect.DeepEqual(got, map[string]string{"a": "1", "b": "1-2"}) {
		t.Fatalf("resolve = %v", got)
	}
	if set.Value("b") != "${a}-2" {
		t.Fatal("Resolve must not mutate its input")
	}
}

func TestParseSkipsNoise(t *testing.T) {
	text := "\r\n   # indented comment\nno separator here\n key = value = with equals \r\nempty=\n=orphan\n"
	set := extvars.Parse(text)

	if got := set.Keys(); !reflect.DeepEqual(got, []string{"key", "empty", ""}) {
		t.Fatalf("keys = %q", got)
	}
	if set.Value("key") != "value = with equals" {
		t.Fatalf("value = %q", set.Value("key"))
	}
	if v, ok := set.Get("empty"); !ok || v != "" {
		t.Fatalf("empty value not kept: %q %v", v, ok)
	}
}

func TestParseDuplicateKeyLastWins(t *testing.T) {
	set := extvars.Parse("x=1\ny=2\nx=3\n")
	if set.Value("x") != "3" {
		t.Fatalf("x = %q, want 3", set.Value("x"))
	}
	if got := set.Keys(); !reflect.DeepEqual(got, []string{"x", "y"}) {
		t.Fatalf("keys = %q", got)
	}
}

func TestResolveChainsAndUnknownKeys(t *testing.T) {
	set := extvars.Parse(strings.Join([]string{
		"url=${host}/${path}",
		"path=${base}/dcr",
		"base=v1",
		"host=https://example.com",
		"other=${missing}/x",
	}, "\n"))

	resolved := extvars.Resolve(set)
	if got := resolved.Value("url"); got != "https://example.com/v1/dcr" {
		t.Fatalf("url = %q", got)
	}
	if got := resolved.Value("other"); got != "${missing}/x" {
		t.Fatalf("unknown reference should stay literal, got %q", got)
	}
	if left := extvars.Unresolved(resolved); len(left) != 0 {
		t.Fatalf("unexpected unresolved keys %v", left)
	}
}

func TestResolveCycleTerminates(t *testing.T) {
	set := extvars.Parse("a=${b}x\nb=${a}y\nself=${self}\n")
	resolved := extvars.Resolve(set)

	if resolved.Len() != 3 {
		t.Fatalf("len = %d", resolved.Len())
	}
	if !strings.Contains(resolved.Value("a"), "${") {
		t.Fatalf("cyclic value should keep a literal placeholder, got %q", resolved.Value("a"))
	}
	if resolved.Value("self") != "${self}" {
		t.Fatalf("self reference = %q", resolved.Value("self"))
	}
}

func TestResolveRepeatedSelfReferenceStaysLiteral(t *testing.T) {
	lines := []string{"k0=root"}
	want := "root"
	for i := 1; i <= 11; i++ {
		lines = append(lines, fmt.Sprintf("k%d=${k%d}/%d", i, i-1, i))
		want += fmt.Sprintf("/%d", i)
	}
	lines = append(lines, "a=${a}${a}", "b=${a}|${k11}")

	resolved := extvars.Resolve(extvars.Parse(strings.Join(lines, "\n")))

	if got := resolved.Value("a"); got != "${a}${a}" {
		t.Fatalf("a = %q", got)
	}
	if got := resolved.Value("k11"); got != want {
		t.Fatalf("k11 = %q, want %q", got, want)
	}
	if got := resolved.Value("b"); got != "${a}${a}|"+want {
		t.Fatalf("b = %q", got)
	}
	if left := extvars.Unresolved(resolved); !reflect.DeepEqual(left, []string{"a", "b"}) {
		t.Fatalf("unresolved = %v", left)
	}
}

func TestResolveCapsDoublingChain(t *testing.T) {
	lines := []string{"d0=" + strings.Repeat("x", 16)}
	for i := 1; i <= 30; i++ {
		lines = append(lines, fmt.Sprintf("d%d=${d%d}${d%d}", i, i-1, i-1))
	}

	resolved := extvars.Resolve(extvars.Parse(strings.Join(lines, "\n")))

	if got := len(resolved.Value("d16")); got != 1<<20 {
		t.Fatalf("len(d16) = %d", got)
	}
	last := resolved.Value("d30")
	if len(last) > 2<<20 {
		t.Fatalf("len(d30) = %d, expected expansion to stop near 1 MiB", len(last))
	}
	if !strings.Contains(last, "${") {
		t.Fatal("expected capped value to keep a literal reference")
	}
}

func TestExtractGroupsKeepsDiscoveryOrder(t *testing.T) {
	set := extvars.Parse("cast.entry.10=hh_people\ncast.entry.2=hh_furni\nroom.cast.1=hh_room\ncast.entry.x=extra\n")

	got := extvars.ExtractGroups(set, extvars.PrefixCastEntry)
	want := []extvars.GroupEntry{{Index: "10", Value: "hh_people"}, {Index: "2", Value: "hh_furni"}, {Index: "x", Value: "extra"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("groups = %+v", got)
	}
	if len(extvars.ExtractGroups(set, "nothing.")) != 0 {
		t.Fatal("expected no entries for unknown prefix")
	}
}

func TestOriginsRequire(t *testing.T) {
	set := extvars.Resolve(extvars.Parse("base=https://cdn\nflash.dynamic.download.url=${base}/dcr/\ncast.entry.1=hh_people\n"))
	vars := extvars.ExtractOrigins(set)
	if vars.FlashDynamicDownloadURL != "https://cdn/dcr/" {
		t.Fatalf("download url = %q", vars.FlashDynamicDownloadURL)
	}
	if len(vars.CastEntries) != 1 {
		t.Fatalf("cast entries = %+v", vars.CastEntries)
	}

	err := vars.Require()
	if !errors.Is(err, services.ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
	if !strings.Contains(err.Error(), extvars.KeyFigurePartList) {
		t.Fatalf("error should name the missing key: %v", err)
	}
}

func TestStandardView(t *testing.T) {
	set := extvars.Parse(strings.Join([]string{
		"external.figurepartlist.txt=https://cdn/figuredata.xml",
		"furnidata.load.url=https://cdn/furnidata.xml",
		"flash.dynamic.avatar.download.url=https://cdn/avatar/",
	}, "\n"))
	vars := extvars.ExtractStandard(set)
	if err := vars.Require(); err != nil {
		t.Fatalf("Require: %v", err)
	}
	if vars.EffectMapURL != "https://cdn/avatar/effectmap.xml" {
		t.Fatalf("effect map = %q", vars.EffectMapURL)
	}
	docs := vars.Documents()
	if len(docs) != 3 {
		t.Fatalf("documents = %v", docs)
	}
	if _, ok := docs["figuremap.xml"]; ok {
		t.Fatal("figure map has no URL and should be omitted")
	}

	if err := extvars.ExtractStandard(extvars.NewVariableSet()).Require(); services.KindOf(err) != services.KindConfig {
		t.Fatalf("expected config kind, got %v", err)
	}
}
