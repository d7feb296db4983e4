package geodb

import (
	"archive/zip"
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Geonames dump files read by BuildGeonames, relative to the data directory.
const (
	GeonamesCitiesFile    = "cities1000.zip"
	GeonamesCountriesFile = "countryInfo.txt"
	GeonamesAdmin1File    = "admin1CodesASCII.txt"
)

// GeonamesConfig selects the Geonames dumps to build from.
type GeonamesConfig struct {
	CitiesFile    string // Zip archive of the cities table (default: cities1000.zip)
	MinPopulation int32  // Skip cities below this population
	Source        string // Recorded in Metadata.Source (default: "geonames")
	Now           func() time.Time
}

// GeonamesOption is a functional option for BuildGeonames.
type GeonamesOption func(*GeonamesConfig)

// WithCitiesFile builds from a different cities archive, e.g. cities15000.zip.
func WithCitiesFile(name string) GeonamesOption {
	return func(c *GeonamesConfig) {
		c.CitiesFile = name
	}
}

// WithMinPopulation drops cities smaller than n.
func WithMinPopulation(n int32) GeonamesOption {
	return func(c *GeonamesConfig) {
		c.MinPopulation = n
	}
}

// WithSource sets the source label stored in the metadata.
func WithSource(source string) GeonamesOption {
	return func(c *GeonamesConfig) {
		c.Source = source
	}
}

// BuildGeonames parses the raw Geonames dumps in dir into a database.
// The cities archive and the country table are required; the admin1 table
// is optional.
func BuildGeonames(dir string, opts ...GeonamesOption) (*DB, error) {
	cfg := &GeonamesConfig{
		CitiesFile: GeonamesCitiesFile,
		Source:     "geonames",
		Now:        time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	countries, err := loadGeonamesCountries(filepath.Join(dir, GeonamesCountriesFile))
	if err != nil {
		return nil, errors.Wrap(err, "loading geonames country info")
	}
	cities, err := loadGeonamesCities(filepath.Join(dir, cfg.CitiesFile), cfg.MinPopulation)
	if err != nil {
		return nil, errors.Wrap(err, "loading geonames cities")
	}
	divisions, err := loadGeonamesAdmin1(filepath.Join(dir, GeonamesAdmin1File))
	if err != nil && !os.IsNotExist(errors.Cause(err)) {
		return nil, errors.Wrap(err, "loading geonames admin1 codes")
	}

	SortCities(cities)
	return New(Metadata{Built: cfg.Now().UTC(), Source: cfg.Source}, countries, divisions, cities)
}

func loadGeonamesCities(path string, minPopulation int32) ([]City, error) {
	rz, err := zip.OpenReader(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening zip file")
	}
	defer rz.Close()

	var cities []City
	for _, f := range rz.File {
		if cities, err = readGeonamesCityEntry(f, cities, minPopulation); err != nil {
			return nil, err
		}
	}
	return cities, nil
}

// readGeonamesCityEntry appends the cities of one archive entry. Rows are
// tab-separated with 19 columns; rows with unparseable coordinates are
// skipped rather than placed at (0,0).
func readGeonamesCityEntry(f *zip.File, cities []City, minPopulation int32) ([]City, error) {
	fi, err := f.Open()
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s in zip", f.Name)
	}
	defer fi.Close()

	scanner := bufio.NewScanner(fi)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		fields := strings.SplitN(scanner.Text(), "\t", 19)
		if len(fields) != 19 {
			continue
		}

		lat, errLat := strconv.ParseFloat(fields[4], 32)
		lng, errLng := strconv.ParseFloat(fields[5], 32)
		if errLat != nil || errLng != nil {
			continue
		}
		pop, _ := strconv.Atoi(fields[14])
		if int32(pop) < minPopulation {
			continue
		}

		name := strings.TrimSpace(fields[1])
		if name == "" {
			continue
		}
		cities = append(cities, City{
			Name:       name,
			AltNames:   fields[3],
			Country:    fields[8],
			Region:     fields[10],
			Latitude:   float32(lat),
			Longitude:  float32(lng),
			Population: int32(pop),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading %s", f.Name)
	}
	return cities, nil
}

func loadGeonamesCountries(path string) ([]Country, error) {
	fi, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening file")
	}
	defer fi.Close()

	var countries []Country
	scanner := bufio.NewScanner(fi)
	for scanner.Scan() {
		t := scanner.Text()
		if len(t) == 0 || t[0] == '#' {
			continue
		}

		fields := strings.SplitN(t, "\t", 19)
		if len(fields) != 19 || fields[0] == "" || fields[0] == "0" {
			continue
		}

		isoNumeric, _ := strconv.Atoi(fields[2])
		pop, _ := strconv.Atoi(fields[7])
		gid, _ := strconv.Atoi(fields[16])
		countries = append(countries, Country{
			ISO:          fields[0],
			ISO3:         fields[1],
			ISONumeric:   int16(isoNumeric),
			Name:         fields[4],
			Capital:      fields[5],
			Population:   int32(pop),
			Continent:    fields[8],
			CurrencyCode: fields[10],
			Languages:    fields[15],
			GeonameID:    int32(gid),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading country info")
	}
	return countries, nil
}

// loadGeonamesAdmin1 parses admin1CodesASCII.txt.
// Format: CC.CODE<tab>Name<tab>AsciiName<tab>GeonameId
func loadGeonamesAdmin1(path string) ([]AdminDivision, error) {
	fi, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening file")
	}
	defer fi.Close()

	var divisions []AdminDivision
	scanner := bufio.NewScanner(fi)
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), "\t")
		if len(fields) < 2 {
			continue
		}
		parts := strings.SplitN(fields[0], ".", 2)
		if len(parts) != 2 {
			continue
		}
		divisions = append(divisions, AdminDivision{
			Country: parts[0],
			Code:    strings.ToUpper(parts[1]),
			Name:    fields[1],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading admin1 codes")
	}
	return divisions, nil
}
