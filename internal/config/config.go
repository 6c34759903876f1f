// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LedgerCache Contributors

package config

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	lcerr "github.com/ledgercache-dev/ledgercache/pkg/errors"
)

// Config is the top-level LedgerCache configuration.
type Config struct {
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Server    ServerConfig    `mapstructure:"server"`
}

// UpstreamConfig holds the reporting API connection settings.
type UpstreamConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Program     string        `mapstructure:"program"`
	AppToken    string        `mapstructure:"app_token"`
	AccessToken string        `mapstructure:"access_token"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Rate        RateConfig    `mapstructure:"rate"`
}

// RateConfig sets the upstream call budget.
type RateConfig struct {
	MaxRequests int           `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
}

// StorageConfig selects the storage backend and data location.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// SyncConfig tunes sync runs.
type SyncConfig struct {
	Workers int           `mapstructure:"workers"`
	MinSpan time.Duration `mapstructure:"min_span"`
	HardCap int           `mapstructure:"hard_cap"`
}

// ServerConfig controls the local HTTP API.
type ServerConfig struct {
	Listen      string   `mapstructure:"listen"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix LEDGERCACHE_).
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("upstream.base_url", "https://diva-api.marqeta.com/data/v2")
	v.SetDefault("upstream.timeout", 30*time.Second)
	v.SetDefault("upstream.rate.max_requests", 300)
	v.SetDefault("upstream.rate.window", 5*time.Minute)
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.path", "./data")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("sync.workers", 4)
	v.SetDefault("sync.min_span", 24*time.Hour)
	v.SetDefault("sync.hard_cap", 10000)
	v.SetDefault("server.listen", "127.0.0.1:18990")

	// Environment
	v.SetEnvPrefix("LEDGERCACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// File
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, lcerr.Errorf(lcerr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, lcerr.Errorf(lcerr.CodeConfigLoadReadFailure, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, lcerr.Errorf(lcerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors. It returns all
// validation errors found, collecting every issue rather than stopping at
// the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateUpstream()...)
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateEmbedding()...)
	errs = append(errs, c.validateSync()...)
	errs = append(errs, c.validateServer()...)

	return errs
}

func (c *Config) validateUpstream() []error {
	var errs []error

	if c.Upstream.BaseURL == "" {
		errs = append(errs, lcerr.Errorf(lcerr.CodeConfigValidateInvalidValue,
			"config: upstream.base_url must not be empty"))
	} else if !strings.HasPrefix(c.Upstream.BaseURL, "http://") && !strings.HasPrefix(c.Upstream.BaseURL, "https://") {
		errs = append(errs, lcerr.Errorf(lcerr.CodeConfigValidateInvalidValue,
			"config: upstream.base_url must start with http:// or https://, got %q", c.Upstream.BaseURL))
	}

	if c.Upstream.Rate.MaxRequests < 1 {
		errs = append(errs, lcerr.Errorf(lcerr.CodeConfigValidateInvalidValue,
			"config: upstream.rate.max_requests must be at least 1, got %d", c.Upstream.Rate.MaxRequests))
	}
	if c.Upstream.Rate.Window <= 0 {
		errs = append(errs, lcerr.Errorf(lcerr.CodeConfigValidateInvalidValue,
			"config: upstream.rate.window must be positive, got %s", c.Upstream.Rate.Window))
	}
	if c.Upstream.Timeout <= 0 {
		errs = append(errs, lcerr.Errorf(lcerr.CodeConfigValidateInvalidValue,
			"config: upstream.timeout must be positive, got %s", c.Upstream.Timeout))
	}

	return errs
}

func (c *Config) validateStorage() []error {
	var errs []error

	validBackends := map[string]bool{"sqlite": true}
	if !validBackends[c.Storage.Backend] {
		errs = append(errs, lcerr.Errorf(lcerr.CodeConfigValidateInvalidValue,
			"config: storage.backend must be one of [sqlite], got %q", c.Storage.Backend))
	}
	if c.Storage.Path == "" {
		errs = append(errs, lcerr.Errorf(lcerr.CodeConfigValidateInvalidValue,
			"config: storage.path must not be empty"))
	}

	return errs
}

func (c *Config) validateEmbedding() []error {
	var errs []error

	if c.Embedding.Model == "" {
		errs = append(errs, lcerr.Errorf(lcerr.CodeConfigValidateInvalidValue,
			"config: embedding.model must not be empty"))
	}
	if c.Embedding.Dimensions < 1 {
		errs = append(errs, lcerr.Errorf(lcerr.CodeConfigValidateInvalidValue,
			"config: embedding.dimensions must be at least 1, got %d", c.Embedding.Dimensions))
	}

	return errs
}

func (c *Config) validateSync() []error {
	var errs []error

	if c.Sync.Workers < 1 {
		errs = append(errs, lcerr.Errorf(lcerr.CodeConfigValidateInvalidValue,
			"config: sync.workers must be at least 1, got %d", c.Sync.Workers))
	}
	if c.Sync.MinSpan <= 0 {
		errs = append(errs, lcerr.Errorf(lcerr.CodeConfigValidateInvalidValue,
			"config: sync.min_span must be positive, got %s", c.Sync.MinSpan))
	}
	if c.Sync.HardCap < 1 {
		errs = append(errs, lcerr.Errorf(lcerr.CodeConfigValidateInvalidValue,
			"config: sync.hard_cap must be at least 1, got %d", c.Sync.HardCap))
	}

	return errs
}

func (c *Config) validateServer() []error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, lcerr.Errorf(lcerr.CodeConfigValidateInvalidValue,
			"config: server.listen must not be empty"))
		return errs
	}

	_, portStr, err := net.SplitHostPort(c.Server.Listen)
	if err != nil {
		errs = append(errs, lcerr.Errorf(lcerr.CodeConfigValidateInvalidValue,
			"config: server.listen must be a valid host:port address, got %q: %w", c.Server.Listen, err))
		return errs
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		errs = append(errs, lcerr.Errorf(lcerr.CodeConfigValidateInvalidValue,
			"config: server.listen port must be a number, got %q", portStr))
	} else if port < 1 || port > 65535 {
		errs = append(errs, lcerr.Errorf(lcerr.CodeConfigValidateInvalidValue,
			"config: server.listen port must be between 1 and 65535, got %d", port))
	}

	return errs
}
