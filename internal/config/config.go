package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains filesystem locations used by a dump run.
type Paths struct {
	DownloadDir string `toml:"download_dir"`
	OutputDir   string `toml:"output_dir"`
	ToolDir     string `toml:"tool_dir"`
	LogDir      string `toml:"log_dir"`
	LedgerPath  string `toml:"ledger_path"`
}

// Origins contains configuration for the Shockwave-era client dump.
type Origins struct {
	ExternalVariablesURL string `toml:"external_variables_url"`
	ClientURLsEndpoint   string `toml:"client_urls_endpoint"`
	Platform             string `toml:"platform"`
}

// Standard contains configuration for the gamedata-only dump.
type Standard struct {
	ExternalVariablesURL string `toml:"external_variables_url"`
}

// Decoder describes how the external container decoder is fetched, built and run.
type Decoder struct {
	RepositoryURL         string   `toml:"repository_url"`
	BinaryName            string   `toml:"binary_name"`
	DecodeCommand         string   `toml:"decode_command"`
	PackageManager        string   `toml:"package_manager"`
	Dependencies          []string `toml:"dependencies"`
	InstallTimeoutSeconds int      `toml:"install_timeout_seconds"`
	BuildCommand          []string `toml:"build_command"`
	DecodeTimeoutSeconds  int      `toml:"decode_timeout_seconds"`
}

// Extraction controls discovery and batch extraction.
type Extraction struct {
	DCRConcurrency int      `toml:"dcr_concurrency"`
	CCTConcurrency int      `toml:"cct_concurrency"`
	MaxDepth       int      `toml:"max_depth"`
	Exclude        []string `toml:"exclude"`
}

// Network controls HTTP timeouts, retry backoff and fetch caching.
type Network struct {
	RequestTimeoutSeconds int     `toml:"request_timeout_seconds"`
	MaxRetries            int     `toml:"max_retries"`
	InitialDelayMS        int     `toml:"initial_delay_ms"`
	MaxDelayMS            int     `toml:"max_delay_ms"`
	BackoffFactor         float64 `toml:"backoff_factor"`
	CacheTTLSeconds       int     `toml:"cache_ttl_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for shroomdump.
//
// Configuration sections by subsystem:
//   - Paths: download, output, tool checkout, logs and run ledger
//   - Origins: external variables URL and client URL endpoint for the Shockwave dump
//   - Standard: external variables URL for the gamedata dump
//   - Decoder: decoder repository, build and invocation
//   - Extraction: per-container concurrency, walk depth, exclude globs
//   - Network: timeouts, retry backoff, fetch cache TTL
//   - Logging: log format and level
type Config struct {
	Paths      Paths      `toml:"paths"`
	Origins    Origins    `toml:"origins"`
	Standard   Standard   `toml:"standard"`
	Decoder    Decoder    `toml:"decoder"`
	Extraction Extraction `toml:"extraction"`
	Network    Network    `toml:"network"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. A missing file is not an error; defaults apply.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			var strict *toml.StrictMissingError
			if errors.As(err, &strict) {
				return nil, "", false, fmt.Errorf("parse config: %s", strings.TrimSpace(strict.String()))
			}
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("shroomdump.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories a dump run writes into.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DownloadDir, c.Paths.OutputDir, c.Paths.ToolDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if dir := filepath.Dir(c.Paths.LedgerPath); c.Paths.LedgerPath != "" && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create ledger directory %q: %w", dir, err)
		}
	}
	return nil
}

// DecoderCheckoutDir returns the directory holding the decoder source checkout.
func (c *Config) DecoderCheckoutDir() string {
	return filepath.Join(c.Paths.ToolDir, c.Decoder.BinaryName+"-src")
}

// DecoderExecutable returns the expected path of the built decoder binary.
func (c *Config) DecoderExecutable() string {
	return filepath.Join(c.DecoderCheckoutDir(), c.Decoder.BinaryName)
}

// InstallTimeout returns the dependency install ceiling.
func (c *Config) InstallTimeout() time.Duration {
	return time.Duration(c.Decoder.InstallTimeoutSeconds) * time.Second
}

// DecodeTimeout returns the per-file decode ceiling.
func (c *Config) DecodeTimeout() time.Duration {
	return time.Duration(c.Decoder.DecodeTimeoutSeconds) * time.Second
}

// RequestTimeout returns the HTTP request timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Network.RequestTimeoutSeconds) * time.Second
}

// CacheTTL returns how long fetched documents stay cached within a process.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Network.CacheTTLSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// SampleConfig returns the embedded sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
