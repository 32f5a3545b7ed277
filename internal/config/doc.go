// Package config loads, normalizes, and validates shroomdump configuration.
//
// It embeds the sample config.toml, resolves the config file location
// (explicit path, ~/.config/shroomdump/config.toml, then ./shroomdump.toml),
// applies defaults, expands ~ in paths, honours the SHROOMDUMP_* environment
// fallbacks, and exposes typed accessors for timeouts and decoder locations.
//
// This is not the operator-hosted external variables document; that text is
// parsed by package extvars.
package config
