// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Unirate Contributors

// Package config loads and validates server configuration from a YAML file
// and command-line flags. Flags take precedence over the file.
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Config holds the full server configuration.
type Config struct {
	DatabaseURL string `koanf:"database_url"`

	ListenAddr  string `koanf:"listen_addr"`
	MetricsAddr string `koanf:"metrics_addr"`
	LogFormat   string `koanf:"log_format"`

	ResetBaseURL string `koanf:"reset_base_url"`

	Secrets struct {
		Access  string `koanf:"access"`
		Refresh string `koanf:"refresh"`
		Reset   string `koanf:"reset"`
	} `koanf:"secrets"`

	Cleanup struct {
		Interval     time.Duration `koanf:"interval"`
		StartupDelay time.Duration `koanf:"startup_delay"`
	} `koanf:"cleanup"`
}

// Defaults for optional settings.
const (
	DefaultListenAddr   = ":8080"
	DefaultMetricsAddr  = "127.0.0.1:9100"
	DefaultLogFormat    = "json"
	DefaultResetBaseURL = "https://unirate.example/reset-password"
)

// Load reads configuration from the given YAML file (optional, "" to skip)
// and overlays the flag set.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_FILE_FAILED").
				With("path", path).
				Wrap(err)
		}
	}

	if flags != nil {
		// Flag names use dashes, config keys use underscores.
		provider := posflag.ProviderWithValue(flags, ".", k, func(key, value string) (string, any) {
			return strings.ReplaceAll(key, "-", "_"), value
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	cfg := &Config{
		ListenAddr:   DefaultListenAddr,
		MetricsAddr:  DefaultMetricsAddr,
		LogFormat:    DefaultLogFormat,
		ResetBaseURL: DefaultResetBaseURL,
	}
	cfg.Cleanup.Interval = time.Hour
	cfg.Cleanup.StartupDelay = 10 * time.Second

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, oops.Code("CONFIG_UNMARSHAL_FAILED").Wrap(err)
	}
	return cfg, nil
}

// ValidateDatabase checks the settings needed for database-only commands.
func (c *Config) ValidateDatabase() error {
	if c.DatabaseURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database_url is required")
	}
	return nil
}

// Validate checks that the full server configuration is complete and consistent.
func (c *Config) Validate() error {
	if err := c.ValidateDatabase(); err != nil {
		return err
	}
	if c.Secrets.Access == "" || c.Secrets.Refresh == "" || c.Secrets.Reset == "" {
		return oops.Code("CONFIG_INVALID").Errorf("all three signing secrets are required")
	}
	if c.Secrets.Access == c.Secrets.Refresh || c.Secrets.Access == c.Secrets.Reset || c.Secrets.Refresh == c.Secrets.Reset {
		return oops.Code("CONFIG_INVALID").Errorf("signing secrets must be distinct")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return oops.Code("CONFIG_INVALID").Errorf("log_format must be 'json' or 'text', got %q", c.LogFormat)
	}
	if c.Cleanup.Interval <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("cleanup interval must be positive")
	}
	return nil
}
