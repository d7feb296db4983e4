package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/andreiashu/geosync"
	"github.com/andreiashu/geosync/enrich"
)

const lookupHelp = `
Look up a place in an artifact.

With a query argument the name is geocoded ("Austin", "Paris, FR",
"London, Ontario"). With --reverse the nearest city to the coordinates is
returned. The artifact defaults to the cached one.
`

type lookupOptions struct {
	artifact string
	reverse  string
	country  string
	fuzzy    int
}

func newLookupCmd(g *globalOptions, out io.Writer) *cobra.Command {
	o := &lookupOptions{}

	cmd := &cobra.Command{
		Use:   "lookup [QUERY]",
		Short: "geocode a place name or reverse geocode coordinates",
		Long:  lookupHelp,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := g.load(cmd)
			if err != nil {
				return err
			}
			if o.artifact == "" {
				o.artifact = s.Path()
			}
			var query string
			if len(args) == 1 {
				query = args[0]
			}
			if (query == "") == (o.reverse == "") {
				return errors.New("give either a query or --reverse")
			}

			res := geosync.NewResource(geosync.WithTableOptions(enrich.WithGeohashPrecision(s.GeohashPrecision)))
			if err := res.Publish(o.artifact); err != nil {
				return err
			}
			return o.run(out, res.Table(), query)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.artifact, "artifact", "", "artifact to query (default: the cached artifact)")
	f.StringVar(&o.reverse, "reverse", "", "reverse geocode \"LAT,LNG\"")
	f.StringVar(&o.country, "country", "", "only match cities in this ISO country")
	f.IntVar(&o.fuzzy, "fuzzy", 0, "edit distance tolerated in the city name (max 3)")
	return cmd
}

func (o *lookupOptions) run(out io.Writer, table *enrich.Table, query string) error {
	var (
		rec enrich.Record
		ok  bool
	)
	if o.reverse != "" {
		lat, lng, err := parseLatLng(o.reverse)
		if err != nil {
			return err
		}
		rec, ok = table.Reverse(lat, lng)
	} else {
		rec, ok = table.Geocode(query, enrich.GeocodeOptions{Country: o.country, FuzzyDistance: o.fuzzy})
	}
	if !ok {
		return errors.New("no match")
	}

	place := []string{rec.City}
	if rec.RegionName != "" {
		place = append(place, rec.RegionName)
	}
	if rec.CountryName != "" {
		place = append(place, rec.CountryName)
	} else {
		place = append(place, rec.Country)
	}
	fmt.Fprintf(out, "%s\n", strings.Join(place, ", "))
	fmt.Fprintf(out, "  coordinates: %.5f, %.5f\n", rec.Latitude, rec.Longitude)
	fmt.Fprintf(out, "  population:  %s\n", humanize.Comma(int64(rec.Population)))
	fmt.Fprintf(out, "  geohash:     %s\n", rec.Geohash)
	return nil
}

func parseLatLng(s string) (float64, float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, errors.Errorf("coordinates %q must be \"LAT,LNG\"", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, errors.Wrap(err, "latitude")
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, errors.Wrap(err, "longitude")
	}
	return lat, lng, nil
}
