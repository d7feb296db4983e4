// Command geosync keeps a geo-location database in sync with a remote
// artifact, builds artifacts from Geonames dumps, and queries them.
//
// Usage:
//
//	geosync build --download --from ./geonames-data --out ./dist/cities.gbdb
//	geosync run --artifact-url https://example.com/cities.gbdb --digest-url https://example.com/cities.gbdb.sha256
//	geosync lookup "Austin, TX"
package main

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/andreiashu/geosync/config"
)

type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string

	// Overrides bound into config.Load by name.
	cacheDir     string
	artifactName string
	artifactURL  string
	digestURL    string
}

func newRootCmd(out io.Writer) *cobra.Command {
	g := &globalOptions{}

	cmd := &cobra.Command{
		Use:           "geosync",
		Short:         "keep a geo-location database in sync with its remote copy",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)

	f := cmd.PersistentFlags()
	f.StringVar(&g.configPath, "config", "", "path to a YAML config file")
	f.StringVar(&g.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	f.StringVar(&g.logFormat, "log-format", "text", "log format (text or json)")
	f.StringVar(&g.cacheDir, "cache-dir", "", "directory holding the cached artifact")
	f.StringVar(&g.artifactName, "artifact-name", "", "file name of the cached artifact")
	f.StringVar(&g.artifactURL, "artifact-url", "", "URL the artifact is downloaded from")
	f.StringVar(&g.digestURL, "digest-url", "", "URL publishing the artifact's digest")

	cmd.AddCommand(
		newRunCmd(g),
		newRefreshCmd(g, out),
		newCheckCmd(g, out),
		newBuildCmd(g, out),
		newLookupCmd(g, out),
		newDigestCmd(g, out),
	)
	return cmd
}

// load reads the settings for cmd and returns them with a logger writing to
// the command's error stream.
func (g *globalOptions) load(cmd *cobra.Command) (config.Settings, *logrus.Logger, error) {
	s, err := config.Load(g.configPath, cmd.Flags())
	if err != nil {
		return config.Settings{}, nil, err
	}

	logger := logrus.New()
	logger.SetOutput(cmd.ErrOrStderr())
	level, err := logrus.ParseLevel(s.LogLevel)
	if err != nil {
		return config.Settings{}, nil, errors.Wrap(err, "invalid log level")
	}
	logger.SetLevel(level)
	switch g.logFormat {
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return config.Settings{}, nil, errors.Errorf("unknown log format %q", g.logFormat)
	}
	return s, logger, nil
}

func main() {
	cmd := newRootCmd(os.Stdout)
	if err := cmd.Execute(); err != nil {
		logrus.WithError(err).Error("geosync failed")
		os.Exit(1)
	}
}
