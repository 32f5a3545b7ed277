package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateURLs(); err != nil {
		return err
	}
	if err := c.validateDecoder(); err != nil {
		return err
	}
	if err := c.validateExtraction(); err != nil {
		return err
	}
	if err := c.validateNetwork(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateURLs() error {
	checks := []struct {
		name     string
		value    string
		required bool
	}{
		{"origins.external_variables_url", c.Origins.ExternalVariablesURL, false},
		{"origins.client_urls_endpoint", c.Origins.ClientURLsEndpoint, true},
		{"standard.external_variables_url", c.Standard.ExternalVariablesURL, false},
		{"decoder.repository_url", c.Decoder.RepositoryURL, true},
	}
	for _, check := range checks {
		if check.value == "" {
			if check.required {
				return fmt.Errorf("%s must be set", check.name)
			}
			continue
		}
		parsed, err := url.Parse(check.value)
		if err != nil {
			return fmt.Errorf("%s: %w", check.name, err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", check.name, check.value)
		}
	}
	if c.Origins.ExternalVariablesURL == "" && c.Standard.ExternalVariablesURL == "" {
		return errors.New("at least one of origins.external_variables_url or standard.external_variables_url must be set")
	}
	return nil
}

func (c *Config) validateDecoder() error {
	if strings.ContainsAny(c.Decoder.BinaryName, `/\`) {
		return fmt.Errorf("decoder.binary_name must be a file name, got %q", c.Decoder.BinaryName)
	}
	if strings.ContainsAny(c.Decoder.DecodeCommand, " \t") {
		return fmt.Errorf("decoder.decode_command must be a single word, got %q", c.Decoder.DecodeCommand)
	}
	if len(c.Decoder.Dependencies) > 0 && c.Decoder.PackageManager == "" {
		return errors.New("decoder.package_manager must be set when decoder.dependencies is non-empty")
	}
	return nil
}

func (c *Config) validateExtraction() error {
	if c.Extraction.CCTConcurrency > c.Extraction.DCRConcurrency {
		return fmt.Errorf("extraction.cct_concurrency (%d) must not exceed extraction.dcr_concurrency (%d)",
			c.Extraction.CCTConcurrency, c.Extraction.DCRConcurrency)
	}
	for _, pattern := range c.Extraction.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("extraction.exclude: invalid glob %q", pattern)
		}
	}
	return nil
}

func (c *Config) validateNetwork() error {
	if c.Network.MaxRetries < 0 {
		return errors.New("network.max_retries must be >= 0")
	}
	if c.Network.BackoffFactor < 1 {
		return errors.New("network.backoff_factor must be >= 1")
	}
	if c.Network.MaxDelayMS < c.Network.InitialDelayMS {
		return errors.New("network.max_delay_ms must be >= network.initial_delay_ms")
	}
	if c.Network.CacheTTLSeconds < 0 {
		return errors.New("network.cache_ttl_seconds must be >= 0")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
