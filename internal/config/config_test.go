package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"shroomdump/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("SHROOMDUMP_ORIGINS_URL", "")
	t.Setenv("SHROOMDUMP_EXTERNAL_VARIABLES_URL", "")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantDownload := filepath.Join(tempHome, ".local", "share", "shroomdump", "downloads")
	if cfg.Paths.DownloadDir != wantDownload {
		t.Fatalf("unexpected download dir: got %q want %q", cfg.Paths.DownloadDir, wantDownload)
	}
	if cfg.Extraction.DCRConcurrency != 4 || cfg.Extraction.CCTConcurrency != 2 {
		t.Fatalf("unexpected concurrency defaults: %+v", cfg.Extraction)
	}
	if cfg.Extraction.MaxDepth != 10 {
		t.Fatalf("unexpected max depth: %d", cfg.Extraction.MaxDepth)
	}
	if cfg.Standard.ExternalVariablesURL != "" {
		t.Fatalf("expected empty standard URL, got %q", cfg.Standard.ExternalVariablesURL)
	}
	if cfg.Origins.ExternalVariablesURL != config.Default().Origins.ExternalVariablesURL {
		t.Fatalf("unexpected origins URL: %q", cfg.Origins.ExternalVariablesURL)
	}
	if got := cfg.DecoderExecutable(); !strings.HasPrefix(got, cfg.Paths.ToolDir) {
		t.Fatalf("decoder executable %q not under tool dir", got)
	}
}

func TestLoadCustomConfig(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("SHROOMDUMP_ORIGINS_URL", "")
	t.Setenv("SHROOMDUMP_EXTERNAL_VARIABLES_URL", "")

	configPath := filepath.Join(t.TempDir(), "config.toml")
	content := []byte(`
[paths]
download_dir = "~/dl"
output_dir = "/tmp/shroom-out"

[standard]
external_variables_url = "https://example.com/external_variables.txt"

[extraction]
dcr_concurrency = 8
cct_concurrency = 3
exclude = ["**/sound/**"]

[logging]
format = "JSON"
level = "Debug"
`)
	if err := os.WriteFile(configPath, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected explicit config to be used, got %q exists=%v", resolved, exists)
	}
	if cfg.Paths.DownloadDir != filepath.Join(tempHome, "dl") {
		t.Fatalf("unexpected download dir: %q", cfg.Paths.DownloadDir)
	}
	if cfg.Paths.OutputDir != "/tmp/shroom-out" {
		t.Fatalf("unexpected output dir: %q", cfg.Paths.OutputDir)
	}
	if cfg.Extraction.DCRConcurrency != 8 || cfg.Extraction.CCTConcurrency != 3 {
		t.Fatalf("unexpected concurrency: %+v", cfg.Extraction)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("logging not normalized: %+v", cfg.Logging)
	}
	if len(cfg.Decoder.Dependencies) != 3 {
		t.Fatalf("expected default dependencies retained, got %v", cfg.Decoder.Dependencies)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(configPath, []byte("[paths]\nstaging_dir = \"/x\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(configPath); err == nil {
		t.Fatal("expected unknown key to be rejected")
	}
}

func TestEnvOverridesURLs(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SHROOMDUMP_ORIGINS_URL", "https://mirror.example/ev")
	t.Setenv("SHROOMDUMP_EXTERNAL_VARIABLES_URL", "https://mirror.example/std")

	cfg, _, _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Origins.ExternalVariablesURL != "https://mirror.example/ev" {
		t.Fatalf("origins env not applied: %q", cfg.Origins.ExternalVariablesURL)
	}
	if cfg.Standard.ExternalVariablesURL != "https://mirror.example/std" {
		t.Fatalf("standard env not applied: %q", cfg.Standard.ExternalVariablesURL)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"no urls", func(c *config.Config) {
			c.Origins.ExternalVariablesURL = ""
			c.Standard.ExternalVariablesURL = ""
		}, "at least one of"},
		{"relative url", func(c *config.Config) { c.Standard.ExternalVariablesURL = "vars.txt" }, "absolute URL"},
		{"cct above dcr", func(c *config.Config) { c.Extraction.CCTConcurrency = 9 }, "cct_concurrency"},
		{"bad glob", func(c *config.Config) { c.Extraction.Exclude = []string{"[a-"} }, "invalid glob"},
		{"backoff below one", func(c *config.Config) { c.Network.BackoffFactor = 0.5 }, "backoff_factor"},
		{"binary with slash", func(c *config.Config) { c.Decoder.BinaryName = "bin/x" }, "binary_name"},
		{"bad log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not contain %q", err, tt.want)
			}
		})
	}

	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestSampleConfigParsesAndMatchesDefaults(t *testing.T) {
	var cfg config.Config
	if err := toml.Unmarshal([]byte(config.SampleConfig()), &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	def := config.Default()
	if cfg.Extraction.DCRConcurrency != def.Extraction.DCRConcurrency ||
		cfg.Extraction.CCTConcurrency != def.Extraction.CCTConcurrency ||
		cfg.Extraction.MaxDepth != def.Extraction.MaxDepth {
		t.Fatalf("sample extraction section drifted from defaults: %+v", cfg.Extraction)
	}
	if cfg.Decoder.BinaryName != def.Decoder.BinaryName || cfg.Decoder.DecodeCommand != def.Decoder.DecodeCommand {
		t.Fatalf("sample decoder section drifted: %+v", cfg.Decoder)
	}
	if cfg.Network != def.Network {
		t.Fatalf("sample network section drifted: %+v", cfg.Network)
	}
}

func TestCreateSampleAndEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("sample not written: %v", err)
	}

	cfg := config.Default()
	cfg.Paths.DownloadDir = filepath.Join(dir, "dl")
	cfg.Paths.OutputDir = filepath.Join(dir, "out")
	cfg.Paths.ToolDir = filepath.Join(dir, "tools")
	cfg.Paths.LogDir = ""
	cfg.Paths.LedgerPath = filepath.Join(dir, "db", "ledger.db")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, p := range []string{cfg.Paths.DownloadDir, cfg.Paths.OutputDir, cfg.Paths.ToolDir, filepath.Join(dir, "db")} {
		if info, err := os.Stat(p); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s", p)
		}
	}
}
