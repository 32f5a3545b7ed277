package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"shroomdump/internal/bundle"
	"shroomdump/internal/config"
	"shroomdump/internal/ledger"
)

type cliTestEnv struct {
	configPath string
	baseDir    string
	outputDir  string
	ledgerPath string
}

func setupCLITestEnv(t *testing.T, standardURL string) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	t.Setenv("HOME", filepath.Join(base, "home"))
	t.Setenv("SHROOMDUMP_ORIGINS_URL", "")
	t.Setenv("SHROOMDUMP_EXTERNAL_VARIABLES_URL", "")

	env := &cliTestEnv{
		configPath: filepath.Join(base, "config.toml"),
		baseDir:    base,
		outputDir:  filepath.Join(base, "assets"),
		ledgerPath: filepath.Join(base, "ledger.db"),
	}
	content := fmt.Sprintf(`[paths]
download_dir = %q
output_dir = %q
tool_dir = %q
log_dir = %q
ledger_path = %q

[origins]
external_variables_url = ""

[standard]
external_variables_url = %q

[network]
request_timeout_seconds = 5
max_retries = 1
initial_delay_ms = 1
max_delay_ms = 5
`,
		filepath.Join(base, "downloads"),
		env.outputDir,
		filepath.Join(base, "tools"),
		filepath.Join(base, "logs"),
		env.ledgerPath,
		standardURL,
	)
	if err := os.WriteFile(env.configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return env
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func gamedataServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/external_variables.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "gamedata.base=%s/gamedata\n", srv.URL)
		fmt.Fprintln(w, "external.figurepartlist.txt=${gamedata.base}/figuredata.xml")
		fmt.Fprintln(w, "furnidata.load.url=${gamedata.base}/furnidata.xml")
		fmt.Fprintln(w, "cast.entry.1=hh_people")
		fmt.Fprintln(w, "cast.entry.2=hh_furni")
	})
	mux.HandleFunc("/gamedata/figuredata.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<figuredata/>")
	})
	mux.HandleFunc("/gamedata/furnidata.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<furnidata/>")
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t, "http://example.invalid/vars")

	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, "Enabled modes: standard")

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected config init to refuse overwriting")
	}
}

func TestBundlePackInspectUnpack(t *testing.T) {
	src := t.TempDir()
	files := map[string]string{"a.xml": "<a/>", "b.png": "png-bytes", "c.bin": "binary"}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(src, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	target := filepath.Join(t.TempDir(), "sample.bundle")

	out, _, err := runCLI(t, []string{"bundle", "pack", src, target}, "")
	if err != nil {
		t.Fatalf("bundle pack: %v", err)
	}
	requireContains(t, out, "Wrote "+target)

	out, _, err = runCLI(t, []string{"bundle", "inspect", "--json", target}, "")
	if err != nil {
		t.Fatalf("bundle inspect: %v", err)
	}
	var info bundleInfoJSON
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("decode inspect output: %v\n%s", err, out)
	}
	if len(info.Entries) != 3 || info.Entries[0].Name != "a.xml" || info.Entries[1].Compression != bundle.CompressionNone.String() {
		t.Fatalf("unexpected entries: %+v", info.Entries)
	}

	out, _, err = runCLI(t, []string{"bundle", "inspect", target}, "")
	if err != nil {
		t.Fatalf("bundle inspect table: %v", err)
	}
	requireContains(t, out, "3 entries")
	requireContains(t, out, "BLAKE3: "+info.Digest)

	dest := filepath.Join(t.TempDir(), "out")
	if _, _, err := runCLI(t, []string{"bundle", "unpack", target, dest}, ""); err != nil {
		t.Fatalf("bundle unpack: %v", err)
	}
	for name, body := range files {
		data, err := os.ReadFile(filepath.Join(dest, name))
		if err != nil || string(data) != body {
			t.Fatalf("unpacked %s = %q, %v", name, data, err)
		}
	}

	if _, _, err := runCLI(t, []string{"bundle", "pack", src, target}, ""); err == nil {
		t.Fatal("expected pack to refuse overwriting without --overwrite")
	}
}

func TestVarsCommandResolvesGroups(t *testing.T) {
	srv := gamedataServer(t)
	env := setupCLITestEnv(t, srv.URL+"/external_variables.txt")

	out, _, err := runCLI(t, []string{"vars", "--json", srv.URL + "/external_variables.txt"}, env.configPath)
	if err != nil {
		t.Fatalf("vars: %v", err)
	}
	var values map[string]string
	if err := json.Unmarshal([]byte(out), &values); err != nil {
		t.Fatalf("decode vars output: %v\n%s", err, out)
	}
	if got := values["furnidata.load.url"]; got != srv.URL+"/gamedata/furnidata.xml" {
		t.Fatalf("furnidata.load.url = %q", got)
	}

	out, _, err = runCLI(t, []string{"vars", "--group", "cast.entry."}, env.configPath)
	if err != nil {
		t.Fatalf("vars --group: %v", err)
	}
	requireContains(t, out, "hh_people")
	requireContains(t, out, "hh_furni")
}

func TestDumpStandardModeAndHistory(t *testing.T) {
	srv := gamedataServer(t)
	env := setupCLITestEnv(t, srv.URL+"/external_variables.txt")

	out, _, err := runCLI(t, []string{"dump", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	var run runJSON
	if err := json.Unmarshal([]byte(out), &run); err != nil {
		t.Fatalf("decode dump output: %v\n%s", err, out)
	}
	if run.Status != string(ledger.RunCompleted) || len(run.Modes) != 1 || len(run.Modes[0].Succeeded) != 2 {
		t.Fatalf("unexpected run: %+v", run)
	}

	b, err := bundle.Open(filepath.Join(env.outputDir, "gamedata.bundle"))
	if err != nil {
		t.Fatalf("open gamedata bundle: %v", err)
	}
	if data, ok := b.Lookup("figuredata.xml"); !ok || string(data) != "<figuredata/>" {
		t.Fatalf("figuredata entry = %q, %v", data, ok)
	}

	out, _, err = runCLI(t, []string{"history"}, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, run.RunID)
	requireContains(t, out, "completed")

	out, _, err = runCLI(t, []string{"history", "--run", run.RunID}, env.configPath)
	if err != nil {
		t.Fatalf("history --run: %v", err)
	}
	requireContains(t, out, "furnidata.xml")
}

func TestApplyDumpFlags(t *testing.T) {
	base := config.Default()
	base.Standard.ExternalVariablesURL = "http://standard/vars"

	cfg, err := applyDumpFlags(&base, dumpFlags{mode: "origins", outputDir: "/tmp/out"})
	if err != nil {
		t.Fatalf("applyDumpFlags: %v", err)
	}
	if cfg.Standard.ExternalVariablesURL != "" || cfg.Paths.OutputDir != "/tmp/out" {
		t.Fatalf("unexpected overrides: %+v", cfg.Paths)
	}
	if base.Standard.ExternalVariablesURL == "" {
		t.Fatal("applyDumpFlags mutated the loaded config")
	}

	if _, err := applyDumpFlags(&base, dumpFlags{mode: "everything"}); err == nil {
		t.Fatal("expected invalid mode error")
	}

	base.Origins.ExternalVariablesURL = ""
	if _, err := applyDumpFlags(&base, dumpFlags{mode: "origins"}); err == nil {
		t.Fatal("expected error when the selected mode has no URL")
	}
}

func TestClientsPrune(t *testing.T) {
	env := setupCLITestEnv(t, "http://example.invalid/vars")
	downloads := filepath.Join(env.baseDir, "downloads")
	for _, version := range []string{"7", "8"} {
		if err := os.MkdirAll(filepath.Join(downloads, "client_"+version), 0o755); err != nil {
			t.Fatalf("mkdir client: %v", err)
		}
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(filepath.Join(downloads, "client_7"), old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	out, _, err := runCLI(t, []string{"clients"}, env.configPath)
	if err != nil {
		t.Fatalf("clients: %v", err)
	}
	requireContains(t, out, "client_8")

	out, _, err = runCLI(t, []string{"clients", "prune"}, env.configPath)
	if err != nil {
		t.Fatalf("clients prune: %v", err)
	}
	requireContains(t, out, "Removed "+filepath.Join(downloads, "client_7"))
	if _, err := os.Stat(filepath.Join(downloads, "client_8")); err != nil {
		t.Fatalf("newest client removed: %v", err)
	}
}
