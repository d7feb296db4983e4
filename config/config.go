// Package config loads geosync settings from a YAML file, GEOSYNC_*
// environment variables and command-line flags, in increasing order of
// precedence.
package config

import (
	"bytes"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/andreiashu/geosync"
)

const envPrefix = "GEOSYNC"

// Configuration keys.
const (
	KeyCacheDir               = "cache_dir"
	KeyArtifactName           = "artifact_name"
	KeyArtifactURL            = "artifact_url"
	KeyDigestURL              = "digest_url"
	KeyRefreshIntervalSeconds = "refresh_interval_seconds"
	KeyDigestTimeout          = "digest_timeout"
	KeyDownloadTimeout        = "download_timeout"
	KeyMaxRetries             = "max_retries"
	KeyRetryWaitMin           = "retry_wait_min"
	KeyRetryWaitMax           = "retry_wait_max"
	KeyDigestAlgorithm        = "digest_algorithm"
	KeyVerifyDownload         = "verify_download"
	KeyGeohashPrecision       = "geohash_precision"
	KeyLogLevel               = "log_level"
)

// Settings is everything a geosync process reads from its configuration.
type Settings struct {
	geosync.Config
	LogLevel string
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"log-level":     KeyLogLevel,
	"cache-dir":     KeyCacheDir,
	"artifact-url":  KeyArtifactURL,
	"digest-url":    KeyDigestURL,
	"artifact-name": KeyArtifactName,
}

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides and then any of flags that were set. flags may be
// nil. The result is not validated; callers pass it to geosync.New, which
// does.
func Load(path string, flags *pflag.FlagSet) (Settings, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, errors.Wrap(err, "reading config file")
		}
		if len(bytes.TrimSpace(data)) > 0 {
			if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
				return Settings{}, errors.Wrapf(err, "parsing %s", path)
			}
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return Settings{}, errors.Wrapf(err, "binding flag --%s", name)
				}
			}
		}
	}

	return Settings{
		Config: geosync.Config{
			CacheDir:         v.GetString(KeyCacheDir),
			ArtifactName:     v.GetString(KeyArtifactName),
			ArtifactURL:      v.GetString(KeyArtifactURL),
			DigestURL:        v.GetString(KeyDigestURL),
			RefreshInterval:  time.Duration(v.GetInt64(KeyRefreshIntervalSeconds)) * time.Second,
			DigestTimeout:    v.GetDuration(KeyDigestTimeout),
			DownloadTimeout:  v.GetDuration(KeyDownloadTimeout),
			MaxRetries:       v.GetInt(KeyMaxRetries),
			RetryWaitMin:     v.GetDuration(KeyRetryWaitMin),
			RetryWaitMax:     v.GetDuration(KeyRetryWaitMax),
			DigestAlgorithm:  v.GetString(KeyDigestAlgorithm),
			VerifyDownload:   v.GetBool(KeyVerifyDownload),
			GeohashPrecision: v.GetInt(KeyGeohashPrecision),
		},
		LogLevel: v.GetString(KeyLogLevel),
	}, nil
}

func setDefaults(v *viper.Viper) {
	d := geosync.DefaultConfig()
	v.SetDefault(KeyCacheDir, d.CacheDir)
	v.SetDefault(KeyArtifactName, d.ArtifactName)
	v.SetDefault(KeyArtifactURL, "")
	v.SetDefault(KeyDigestURL, "")
	v.SetDefault(KeyRefreshIntervalSeconds, int64(d.RefreshInterval/time.Second))
	v.SetDefault(KeyDigestTimeout, d.DigestTimeout.String())
	v.SetDefault(KeyDownloadTimeout, d.DownloadTimeout.String())
	v.SetDefault(KeyMaxRetries, d.MaxRetries)
	v.SetDefault(KeyRetryWaitMin, d.RetryWaitMin.String())
	v.SetDefault(KeyRetryWaitMax, d.RetryWaitMax.String())
	v.SetDefault(KeyDigestAlgorithm, d.DigestAlgorithm)
	v.SetDefault(KeyVerifyDownload, d.VerifyDownload)
	v.SetDefault(KeyGeohashPrecision, d.GeohashPrecision)
	v.SetDefault(KeyLogLevel, "info")
}
