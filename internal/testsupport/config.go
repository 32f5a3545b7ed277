package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"shroomdump/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DownloadDir = filepath.Join(base, "downloads")
	cfgVal.Paths.OutputDir = filepath.Join(base, "assets")
	cfgVal.Paths.ToolDir = filepath.Join(base, "tools")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.LedgerPath = filepath.Join(base, "ledger.db")
	cfgVal.Network.MaxRetries = 1
	cfgVal.Network.InitialDelayMS = 1
	cfgVal.Network.MaxDelayMS = 5
	cfgVal.Network.RequestTimeoutSeconds = 5

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithOriginsURL points the origins dump at url; empty disables it.
func WithOriginsURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Origins.ExternalVariablesURL = url
	}
}

// WithClientURLsEndpoint overrides the origins client URL endpoint.
func WithClientURLsEndpoint(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Origins.ClientURLsEndpoint = url
	}
}

// WithStandardURL points the gamedata dump at url; empty disables it.
func WithStandardURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Standard.ExternalVariablesURL = url
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, git, make and the configured
// package manager are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"git", "make"}
			if b.cfg.Decoder.PackageManager != "" {
				names = append(names, b.cfg.Decoder.PackageManager)
			}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// WithPrebuiltDecoder places an executable at the decoder's expected path so
// no fetch or build is attempted.
func WithPrebuiltDecoder() ConfigOption {
	return func(b *configBuilder) {
		exe := b.cfg.DecoderExecutable()
		if err := os.MkdirAll(filepath.Dir(exe), 0o755); err != nil {
			b.t.Fatalf("mkdir decoder dir: %v", err)
		}
		if err := os.WriteFile(exe, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
			b.t.Fatalf("write decoder stub: %v", err)
		}
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DownloadDir)
}
