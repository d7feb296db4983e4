package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreiashu/geosync"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "geosync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	s, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, geosync.DefaultConfig(), s.Config)
	assert.Equal(t, "info", s.LogLevel)
}

func TestLoadEmptyFile(t *testing.T) {
	s, err := Load(writeConfig(t, "\n  \n"), nil)
	require.NoError(t, err)
	assert.Equal(t, geosync.DefaultConfig(), s.Config)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
cache_dir: /var/cache/geosync
artifact_name: world.gbdb
artifact_url: https://example.com/world.gbdb
digest_url: https://example.com/world.gbdb.sha256
refresh_interval_seconds: 3600
digest_timeout: 10s
download_timeout: 5m
max_retries: 5
retry_wait_min: 500ms
retry_wait_max: 10s
digest_algorithm: blake3
verify_download: false
geohash_precision: 9
log_level: debug
`)

	s, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, geosync.Config{
		CacheDir:         "/var/cache/geosync",
		ArtifactName:     "world.gbdb",
		ArtifactURL:      "https://example.com/world.gbdb",
		DigestURL:        "https://example.com/world.gbdb.sha256",
		RefreshInterval:  time.Hour,
		DigestTimeout:    10 * time.Second,
		DownloadTimeout:  5 * time.Minute,
		MaxRetries:       5,
		RetryWaitMin:     500 * time.Millisecond,
		RetryWaitMax:     10 * time.Second,
		DigestAlgorithm:  "blake3",
		VerifyDownload:   false,
		GeohashPrecision: 9,
	}, s.Config)
	assert.Equal(t, "debug", s.LogLevel)
	assert.NoError(t, s.Validate())
}

func TestLoadPrecedence(t *testing.T) {
	path := writeConfig(t, `
cache_dir: /from/file
artifact_url: https://file.example.com/a.gbdb
refresh_interval_seconds: 60
log_level: warn
`)
	t.Setenv("GEOSYNC_CACHE_DIR", "/from/env")
	t.Setenv("GEOSYNC_REFRESH_INTERVAL_SECONDS", "120")
	t.Setenv("GEOSYNC_LOG_LEVEL", "error")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log-level", "info", "")
	flags.String("cache-dir", "", "")
	require.NoError(t, flags.Parse([]string{"--log-level=debug"}))

	s, err := Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, "/from/env", s.CacheDir, "env overrides file")
	assert.Equal(t, 2*time.Minute, s.RefreshInterval)
	assert.Equal(t, "https://file.example.com/a.gbdb", s.ArtifactURL)
	assert.Equal(t, "debug", s.LogLevel, "set flag overrides env")
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "cache_dir: [unterminated"), nil)
	assert.Error(t, err)
}
