// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LedgerCache Contributors

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ledgercache.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://diva-api.marqeta.com/data/v2", cfg.Upstream.BaseURL)
	assert.Equal(t, 300, cfg.Upstream.Rate.MaxRequests)
	assert.Equal(t, 5*time.Minute, cfg.Upstream.Rate.Window)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
	assert.Equal(t, 1536, cfg.Embedding.Dimensions)
	assert.Equal(t, 4, cfg.Sync.Workers)
	assert.Equal(t, 24*time.Hour, cfg.Sync.MinSpan)
	assert.Equal(t, 10000, cfg.Sync.HardCap)
	assert.Equal(t, "127.0.0.1:18990", cfg.Server.Listen)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
upstream:
  program: acme-cards
  rate:
    max_requests: 100
    window: 1m
sync:
  workers: 8
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "acme-cards", cfg.Upstream.Program)
	assert.Equal(t, 100, cfg.Upstream.Rate.MaxRequests)
	assert.Equal(t, time.Minute, cfg.Upstream.Rate.Window)
	assert.Equal(t, 8, cfg.Sync.Workers)
	// Untouched values keep their defaults.
	assert.Equal(t, 10000, cfg.Sync.HardCap)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LEDGERCACHE_UPSTREAM_APP_TOKEN", "env-app-token")
	t.Setenv("LEDGERCACHE_EMBEDDING_API_KEY", "env-api-key")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "env-app-token", cfg.Upstream.AppToken)
	assert.Equal(t, "env-api-key", cfg.Embedding.APIKey)
}

func TestLoad_MissingFileFails(t *testing.T) {
	_, err := Load("/nonexistent/ledgercache.yaml")
	require.Error(t, err)
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := &Config{
		Upstream: UpstreamConfig{
			BaseURL: "ftp://wrong",
			Timeout: -time.Second,
			Rate:    RateConfig{MaxRequests: 0, Window: 0},
		},
		Storage:   StorageConfig{Backend: "bolt", Path: ""},
		Embedding: EmbeddingConfig{Model: "", Dimensions: 0},
		Sync:      SyncConfig{Workers: 0, MinSpan: 0, HardCap: 0},
		Server:    ServerConfig{Listen: "not-an-address"},
	}

	errs := cfg.Validate()
	assert.GreaterOrEqual(t, len(errs), 10)
}

func TestValidate_ListenPortRange(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Server.Listen = "127.0.0.1:99999"
	errs := cfg.Validate()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "between 1 and 65535")
}

func TestBootstrapDefaultYAMLIsValid(t *testing.T) {
	path := writeConfig(t, string(DefaultConfigYAML))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
}
