package geosync

import (
	"net/url"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/andreiashu/geosync/enrich"
	"github.com/andreiashu/geosync/internal/digest"
)

// Config describes the artifact to keep in sync and how to fetch it.
type Config struct {
	CacheDir         string        // Directory holding the cached artifact (default: "./geosync-data")
	ArtifactName     string        // File name of the artifact inside CacheDir (default: "cities.gbdb")
	ArtifactURL      string        // Where the artifact is downloaded from
	DigestURL        string        // Where the artifact's current digest is published
	RefreshInterval  time.Duration // Time between refresh cycles (default: 24h)
	DigestTimeout    time.Duration // Bound on one digest check, retries included (default: 30s)
	DownloadTimeout  time.Duration // Bound on one download, retries included (default: 30m)
	MaxRetries       int           // Retries per HTTP request (default: 3)
	RetryWaitMin     time.Duration // Minimum backoff between retries (default: 1s)
	RetryWaitMax     time.Duration // Maximum backoff between retries (default: 30s)
	DigestAlgorithm  string        // "sha256" or "blake3" (default: "sha256")
	VerifyDownload   bool          // Check downloaded bytes against the remote digest (default: true)
	GeohashPrecision int           // Geohash length in enrichment records (default: 7)
}

// ConfigOption is a functional option for NewConfig.
type ConfigOption func(*Config)

// WithCacheDir sets the directory holding the cached artifact.
func WithCacheDir(dir string) ConfigOption {
	return func(c *Config) {
		c.CacheDir = dir
	}
}

// WithArtifactName sets the file name of the cached artifact.
func WithArtifactName(name string) ConfigOption {
	return func(c *Config) {
		c.ArtifactName = name
	}
}

// WithURLs sets the artifact and digest URLs.
func WithURLs(artifactURL, digestURL string) ConfigOption {
	return func(c *Config) {
		c.ArtifactURL = artifactURL
		c.DigestURL = digestURL
	}
}

// WithRefreshInterval sets the time between refresh cycles.
func WithRefreshInterval(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.RefreshInterval = d
	}
}

// WithTimeouts bounds the digest check and the download.
func WithTimeouts(digestTimeout, downloadTimeout time.Duration) ConfigOption {
	return func(c *Config) {
		c.DigestTimeout = digestTimeout
		c.DownloadTimeout = downloadTimeout
	}
}

// WithRetries sets the per-request retry policy.
func WithRetries(maxRetries int, waitMin, waitMax time.Duration) ConfigOption {
	return func(c *Config) {
		c.MaxRetries = maxRetries
		c.RetryWaitMin = waitMin
		c.RetryWaitMax = waitMax
	}
}

// WithDigestAlgorithm selects the hash used on both sides of the comparison.
func WithDigestAlgorithm(name string) ConfigOption {
	return func(c *Config) {
		c.DigestAlgorithm = name
	}
}

// WithVerifyDownload toggles checking downloads against the remote digest.
func WithVerifyDownload(verify bool) ConfigOption {
	return func(c *Config) {
		c.VerifyDownload = verify
	}
}

// WithGeohashPrecision sets the geohash length of enrichment records.
func WithGeohashPrecision(n int) ConfigOption {
	return func(c *Config) {
		c.GeohashPrecision = n
	}
}

// DefaultConfig returns the defaults. ArtifactURL and DigestURL have no
// default and must be set.
func DefaultConfig() Config {
	return Config{
		CacheDir:         "./geosync-data",
		ArtifactName:     "cities.gbdb",
		RefreshInterval:  24 * time.Hour,
		DigestTimeout:    30 * time.Second,
		DownloadTimeout:  30 * time.Minute,
		MaxRetries:       3,
		RetryWaitMin:     time.Second,
		RetryWaitMax:     30 * time.Second,
		DigestAlgorithm:  string(digest.SHA256),
		VerifyDownload:   true,
		GeohashPrecision: enrich.DefaultGeohashPrecision,
	}
}

// NewConfig applies opts on top of DefaultConfig.
func NewConfig(opts ...ConfigOption) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Path returns the location of the cached artifact.
func (c Config) Path() string {
	return filepath.Join(c.CacheDir, c.ArtifactName)
}

// Validate reports every problem with the configuration at once.
func (c Config) Validate() error {
	var result *multierror.Error

	if c.CacheDir == "" {
		result = multierror.Append(result, errors.Errorf("cache dir must be set"))
	}
	if c.ArtifactName == "" || c.ArtifactName == "." || c.ArtifactName == ".." || filepath.Base(c.ArtifactName) != c.ArtifactName {
		result = multierror.Append(result, errors.Errorf("artifact name %q must be a plain file name", c.ArtifactName))
	}
	if err := validateURL("artifact url", c.ArtifactURL); err != nil {
		result = multierror.Append(result, err)
	}
	if err := validateURL("digest url", c.DigestURL); err != nil {
		result = multierror.Append(result, err)
	}
	if c.RefreshInterval <= 0 {
		result = multierror.Append(result, errors.Errorf("refresh interval must be positive, got %s", c.RefreshInterval))
	}
	if c.DigestTimeout <= 0 {
		result = multierror.Append(result, errors.Errorf("digest timeout must be positive, got %s", c.DigestTimeout))
	}
	if c.DownloadTimeout <= 0 {
		result = multierror.Append(result, errors.Errorf("download timeout must be positive, got %s", c.DownloadTimeout))
	}
	if c.MaxRetries < 0 {
		result = multierror.Append(result, errors.Errorf("max retries must not be negative, got %d", c.MaxRetries))
	}
	if c.RetryWaitMin < 0 || c.RetryWaitMax < c.RetryWaitMin {
		result = multierror.Append(result, errors.Errorf("retry waits must satisfy 0 <= min (%s) <= max (%s)", c.RetryWaitMin, c.RetryWaitMax))
	}
	if _, err := digest.ParseAlgorithm(c.DigestAlgorithm); err != nil {
		result = multierror.Append(result, err)
	}
	if c.GeohashPrecision < 1 || c.GeohashPrecision > 12 {
		result = multierror.Append(result, errors.Errorf("geohash precision must be between 1 and 12, got %d", c.GeohashPrecision))
	}
	return result.ErrorOrNil()
}

func validateURL(name, raw string) error {
	if raw == "" {
		return errors.Errorf("%s must be set", name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return errors.Errorf("%s %q: %v", name, raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.Errorf("%s %q must be an absolute http(s) URL", name, raw)
	}
	return nil
}
