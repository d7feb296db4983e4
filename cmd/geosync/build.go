package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/andreiashu/geosync/geodb"
	"github.com/andreiashu/geosync/internal/digest"
	"github.com/andreiashu/geosync/internal/fetch"
)

const geonamesDumpURL = "https://download.geonames.org/export/dump/"

const buildHelp = `
Build an artifact from raw Geonames dumps and write its digest next to it.

The source directory must contain the cities archive (cities1000.zip by
default) and countryInfo.txt; admin1CodesASCII.txt is used when present.
Both files written are what "geosync run" expects to find at the artifact
and digest URLs.

With --download, dumps missing from the source directory are fetched from
--dump-url first.
`

type buildOptions struct {
	from          string
	output        string
	citiesFile    string
	compression   string
	algorithm     string
	minPopulation int32
	download      bool
	dumpURL       string
}

func newBuildCmd(g *globalOptions, out io.Writer) *cobra.Command {
	o := &buildOptions{}

	cmd := &cobra.Command{
		Use:   "build",
		Short: "build an artifact from Geonames dumps",
		Long:  buildHelp,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.download {
				_, logger, err := g.load(cmd)
				if err != nil {
					return err
				}
				if err := o.fetchDumps(cmd.Context(), logger.WithField("component", "build")); err != nil {
					return err
				}
			}
			return o.run(out)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.from, "from", "./geonames-data", "directory containing the Geonames dumps")
	f.StringVar(&o.output, "out", "./cities.gbdb", "artifact to write")
	f.StringVar(&o.citiesFile, "cities-file", geodb.GeonamesCitiesFile, "cities archive inside --from")
	f.StringVar(&o.compression, "compression", "zstd", "artifact compression (none or zstd)")
	f.StringVar(&o.algorithm, "algorithm", string(digest.SHA256), "digest algorithm (sha256 or blake3)")
	f.Int32Var(&o.minPopulation, "min-population", 0, "skip cities below this population")
	f.BoolVar(&o.download, "download", false, "download dumps missing from --from")
	f.StringVar(&o.dumpURL, "dump-url", geonamesDumpURL, "base URL of the Geonames dump directory")
	return cmd
}

// fetchDumps downloads every dump not already present in o.from.
func (o *buildOptions) fetchDumps(ctx context.Context, log logrus.FieldLogger) error {
	base, err := url.Parse(o.dumpURL)
	if err != nil {
		return errors.Wrap(err, "invalid dump URL")
	}
	if err := os.MkdirAll(o.from, 0755); err != nil {
		return errors.Wrap(err, "creating data directory")
	}

	f := &fetch.Fetcher{Logger: log}
	for _, name := range []string{o.citiesFile, geodb.GeonamesCountriesFile, geodb.GeonamesAdmin1File} {
		dest := filepath.Join(o.from, name)
		if _, err := os.Stat(dest); err == nil {
			continue
		}
		src := base.ResolveReference(&url.URL{Path: name}).String()
		res, err := f.Download(ctx, src, dest, "")
		if err != nil {
			return errors.Wrapf(err, "downloading %s", name)
		}
		log.WithFields(logrus.Fields{"file": name, "size": humanize.Bytes(uint64(res.Bytes))}).Info("downloaded dump")
	}
	return nil
}

func (o *buildOptions) run(out io.Writer) error {
	compression, err := geodb.ParseCompression(o.compression)
	if err != nil {
		return err
	}
	alg, err := digest.ParseAlgorithm(o.algorithm)
	if err != nil {
		return err
	}

	db, err := geodb.BuildGeonames(o.from,
		geodb.WithCitiesFile(o.citiesFile),
		geodb.WithMinPopulation(o.minPopulation),
		geodb.WithSource("geonames:"+o.citiesFile),
	)
	if err != nil {
		return err
	}
	if err := geodb.WriteFile(o.output, db, compression); err != nil {
		return errors.Wrapf(err, "writing %s", o.output)
	}

	sum, err := digest.File(o.output, alg)
	if err != nil {
		return err
	}
	digestPath := digestFileName(o.output, alg)
	line := fmt.Sprintf("%s  %s\n", sum, filepath.Base(o.output))
	if err := os.WriteFile(digestPath, []byte(line), 0644); err != nil {
		return errors.Wrapf(err, "writing %s", digestPath)
	}

	fi, err := os.Stat(o.output)
	if err != nil {
		return err
	}
	meta := db.Metadata()
	fmt.Fprintf(out, "wrote %s: %s cities, %s countries, %s (%s)\n",
		o.output, humanize.Comma(int64(meta.CityCount)), humanize.Comma(int64(meta.CountryCount)),
		humanize.Bytes(uint64(fi.Size())), compression)
	fmt.Fprintf(out, "wrote %s: %s\n", digestPath, sum)
	return nil
}

// digestFileName names the digest file after the tool that verifies it,
// e.g. cities.gbdb.sha256 for sha256sum -c.
func digestFileName(artifact string, alg digest.Algorithm) string {
	return artifact + "." + string(alg)
}
