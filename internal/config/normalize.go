package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeOrigins()
	c.normalizeStandard()
	c.normalizeDecoder()
	c.normalizeExtraction()
	c.normalizeNetwork()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	fields := []struct {
		name  string
		value *string
		def   string
	}{
		{"paths.download_dir", &c.Paths.DownloadDir, defaultDownloadDir},
		{"paths.output_dir", &c.Paths.OutputDir, defaultOutputDir},
		{"paths.tool_dir", &c.Paths.ToolDir, defaultToolDir},
		{"paths.log_dir", &c.Paths.LogDir, ""},
		{"paths.ledger_path", &c.Paths.LedgerPath, ""},
	}
	for _, field := range fields {
		trimmed := strings.TrimSpace(*field.value)
		if trimmed == "" {
			trimmed = field.def
		}
		expanded, err := expandPath(trimmed)
		if err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
		*field.value = expanded
	}
	return nil
}

func (c *Config) normalizeOrigins() {
	if value, ok := os.LookupEnv(envOriginsURL); ok && strings.TrimSpace(value) != "" {
		c.Origins.ExternalVariablesURL = value
	}
	c.Origins.ExternalVariablesURL = strings.TrimSpace(c.Origins.ExternalVariablesURL)
	c.Origins.ClientURLsEndpoint = strings.TrimSpace(c.Origins.ClientURLsEndpoint)
	if c.Origins.ClientURLsEndpoint == "" {
		c.Origins.ClientURLsEndpoint = defaultClientURLsEndpoint
	}
	c.Origins.Platform = strings.ToLower(strings.TrimSpace(c.Origins.Platform))
	if c.Origins.Platform == "" {
		c.Origins.Platform = defaultPlatform
	}
}

func (c *Config) normalizeStandard() {
	if value, ok := os.LookupEnv(envStandardURL); ok && strings.TrimSpace(value) != "" {
		c.Standard.ExternalVariablesURL = value
	}
	c.Standard.ExternalVariablesURL = strings.TrimSpace(c.Standard.ExternalVariablesURL)
}

func (c *Config) normalizeDecoder() {
	c.Decoder.RepositoryURL = strings.TrimSpace(c.Decoder.RepositoryURL)
	if c.Decoder.RepositoryURL == "" {
		c.Decoder.RepositoryURL = defaultDecoderRepository
	}
	c.Decoder.BinaryName = strings.TrimSpace(c.Decoder.BinaryName)
	if c.Decoder.BinaryName == "" {
		c.Decoder.BinaryName = defaultDecoderBinary
	}
	c.Decoder.DecodeCommand = strings.TrimSpace(c.Decoder.DecodeCommand)
	if c.Decoder.DecodeCommand == "" {
		c.Decoder.DecodeCommand = defaultDecodeCommand
	}
	c.Decoder.PackageManager = strings.TrimSpace(c.Decoder.PackageManager)
	c.Decoder.Dependencies = compactStrings(c.Decoder.Dependencies)
	c.Decoder.BuildCommand = compactStrings(c.Decoder.BuildCommand)
	if len(c.Decoder.BuildCommand) == 0 {
		c.Decoder.BuildCommand = append([]string(nil), defaultBuildCommand...)
	}
	if c.Decoder.InstallTimeoutSeconds <= 0 {
		c.Decoder.InstallTimeoutSeconds = defaultInstallTimeoutSeconds
	}
	if c.Decoder.DecodeTimeoutSeconds <= 0 {
		c.Decoder.DecodeTimeoutSeconds = defaultDecodeTimeoutSeconds
	}
}

func (c *Config) normalizeExtraction() {
	if c.Extraction.DCRConcurrency <= 0 {
		c.Extraction.DCRConcurrency = defaultDCRConcurrency
	}
	if c.Extraction.CCTConcurrency <= 0 {
		c.Extraction.CCTConcurrency = defaultCCTConcurrency
	}
	if c.Extraction.MaxDepth <= 0 {
		c.Extraction.MaxDepth = defaultMaxDepth
	}
	c.Extraction.Exclude = compactStrings(c.Extraction.Exclude)
}

func (c *Config) normalizeNetwork() {
	if c.Network.RequestTimeoutSeconds <= 0 {
		c.Network.RequestTimeoutSeconds = defaultRequestTimeoutSeconds
	}
	if c.Network.InitialDelayMS <= 0 {
		c.Network.InitialDelayMS = defaultInitialDelayMS
	}
	if c.Network.MaxDelayMS <= 0 {
		c.Network.MaxDelayMS = defaultMaxDelayMS
	}
	if c.Network.BackoffFactor == 0 {
		c.Network.BackoffFactor = defaultBackoffFactor
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func compactStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
