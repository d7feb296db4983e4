package geosync

import (
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "./geosync-data", cfg.CacheDir)
	assert.Equal(t, "cities.gbdb", cfg.ArtifactName)
	assert.Equal(t, 24*time.Hour, cfg.RefreshInterval)
	assert.Equal(t, 30*time.Second, cfg.DigestTimeout)
	assert.Equal(t, 30*time.Minute, cfg.DownloadTimeout)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, "sha256", cfg.DigestAlgorithm)
	assert.True(t, cfg.VerifyDownload)
	assert.Equal(t, 7, cfg.GeohashPrecision)
	assert.Equal(t, "geosync-data/cities.gbdb", cfg.Path())
}

func TestNewConfigOptions(t *testing.T) {
	cfg := NewConfig(
		WithCacheDir("/tmp/geo"),
		WithArtifactName("world.gbdb"),
		WithURLs("https://example.com/world.gbdb", "https://example.com/world.gbdb.sha256"),
		WithRefreshInterval(time.Minute),
		WithTimeouts(time.Second, time.Minute),
		WithRetries(5, 10*time.Millisecond, time.Second),
		WithDigestAlgorithm("blake3"),
		WithVerifyDownload(false),
		WithGeohashPrecision(9),
	)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "/tmp/geo/world.gbdb", cfg.Path())
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, "blake3", cfg.DigestAlgorithm)
	assert.False(t, cfg.VerifyDownload)
	assert.Equal(t, 9, cfg.GeohashPrecision)
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		return NewConfig(WithURLs("http://example.com/a.gbdb", "http://example.com/a.gbdb.sha256"))
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr int
	}{
		{"valid", func(c *Config) {}, 0},
		{"missing urls", func(c *Config) { c.ArtifactURL, c.DigestURL = "", "" }, 2},
		{"relative url", func(c *Config) { c.ArtifactURL = "/a.gbdb" }, 1},
		{"ftp url", func(c *Config) { c.DigestURL = "ftp://example.com/a.sha256" }, 1},
		{"artifact name with directory", func(c *Config) { c.ArtifactName = "../a.gbdb" }, 1},
		{"artifact name dot", func(c *Config) { c.ArtifactName = "." }, 1},
		{"empty cache dir", func(c *Config) { c.CacheDir = "" }, 1},
		{"zero interval", func(c *Config) { c.RefreshInterval = 0 }, 1},
		{"zero timeouts", func(c *Config) { c.DigestTimeout, c.DownloadTimeout = 0, 0 }, 2},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }, 1},
		{"retry waits inverted", func(c *Config) { c.RetryWaitMin, c.RetryWaitMax = time.Minute, time.Second }, 1},
		{"unknown algorithm", func(c *Config) { c.DigestAlgorithm = "md5" }, 1},
		{"geohash precision", func(c *Config) { c.GeohashPrecision = 13 }, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == 0 {
				assert.NoError(t, err)
				return
			}
			var merr *multierror.Error
			require.True(t, errors.As(err, &merr), "error %v is not a multierror", err)
			assert.Len(t, merr.Errors, tt.wantErr)
		})
	}
}
