// Package geodb holds the geo-location database that geosync keeps in sync:
// an immutable snapshot of cities, countries and first-level administrative
// divisions, and the single-file artifact format it is distributed in.
//
// A *DB is never modified after construction, so any number of goroutines
// may read from it without locking.
package geodb

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// City is a populated place.
type City struct {
	Name       string  // City name
	AltNames   string  // Alternate names (comma-separated)
	Country    string  // ISO 3166-1 alpha-2 country code (e.g., "US", "FR")
	Region     string  // Admin1 code (e.g., "TX", "08")
	Latitude   float32 // Latitude in degrees
	Longitude  float32 // Longitude in degrees
	Population int32   // Population count
}

// Country contains metadata about a country.
type Country struct {
	ISO          string
	ISO3         string
	ISONumeric   int16
	Name         string
	Capital      string
	Continent    string
	CurrencyCode string
	Languages    string
	Population   int32
	GeonameID    int32
}

// AdminDivision is a first-level administrative division (state, province, etc.)
type AdminDivision struct {
	Country string // ISO country code
	Code    string // Admin1 code (e.g., "TX", "08")
	Name    string // Full name (e.g., "Texas", "Ontario")
}

// Metadata describes a database snapshot.
type Metadata struct {
	Version      uint16
	Built        time.Time
	Source       string
	CityCount    int
	CountryCount int
}

// maxValidationErrors bounds how many problems a single validation reports.
const maxValidationErrors = 20

// DB is a loaded, validated database snapshot.
type DB struct {
	meta      Metadata
	cities    []City
	countries []Country
	byISO     map[string]int
	divisions map[string]map[string]AdminDivision
}

// New builds a database from in-memory records. The slices are owned by the
// returned DB and must not be modified afterwards. Counts and the format
// version in meta are filled in from the records.
func New(meta Metadata, countries []Country, divisions []AdminDivision, cities []City) (*DB, error) {
	meta.Version = FormatVersion
	meta.CityCount = len(cities)
	meta.CountryCount = len(countries)
	return fromSnapshot(&snapshot{
		Meta:      meta,
		Countries: countries,
		Divisions: divisions,
		Cities:    cities,
	})
}

// fromSnapshot validates s and indexes it into a DB.
func fromSnapshot(s *snapshot) (*DB, error) {
	if err := validate(s); err != nil {
		return nil, errors.Wrap(err, "validating snapshot")
	}

	strs := newInterner(len(s.Countries) + 1)
	db := &DB{
		meta:      s.Meta,
		cities:    s.Cities,
		countries: s.Countries,
		byISO:     make(map[string]int, len(s.Countries)),
		divisions: make(map[string]map[string]AdminDivision),
	}
	for i := range db.cities {
		db.cities[i].Country = strs.intern(db.cities[i].Country)
		db.cities[i].Region = strs.intern(db.cities[i].Region)
	}
	for i, co := range db.countries {
		db.byISO[co.ISO] = i
	}
	for _, d := range s.Divisions {
		code := strings.ToUpper(d.Code)
		if db.divisions[d.Country] == nil {
			db.divisions[d.Country] = make(map[string]AdminDivision)
		}
		db.divisions[d.Country][code] = d
	}
	return db, nil
}

func validate(s *snapshot) error {
	var result *multierror.Error
	full := func() bool { return result != nil && len(result.Errors) >= maxValidationErrors }

	if s.Meta.CityCount != len(s.Cities) {
		result = multierror.Append(result, fmt.Errorf("metadata declares %d cities, found %d", s.Meta.CityCount, len(s.Cities)))
	}
	if s.Meta.CountryCount != len(s.Countries) {
		result = multierror.Append(result, fmt.Errorf("metadata declares %d countries, found %d", s.Meta.CountryCount, len(s.Countries)))
	}
	if len(s.Cities) == 0 {
		result = multierror.Append(result, errors.New("no cities"))
	}

	known := make(map[string]bool, len(s.Countries))
	for i, co := range s.Countries {
		if len(co.ISO) != 2 {
			result = multierror.Append(result, fmt.Errorf("country[%d] %q: ISO code %q is not 2 letters", i, co.Name, co.ISO))
		}
		known[co.ISO] = true
		if full() {
			return result
		}
	}

	for i, c := range s.Cities {
		switch {
		case strings.TrimSpace(c.Name) == "":
			result = multierror.Append(result, fmt.Errorf("city[%d]: empty name", i))
		case !validCoordinate(c.Latitude, 90) || !validCoordinate(c.Longitude, 180):
			result = multierror.Append(result, fmt.Errorf("city[%d] %q: coordinates (%v, %v) out of range", i, c.Name, c.Latitude, c.Longitude))
		case len(known) > 0 && !known[c.Country]:
			result = multierror.Append(result, fmt.Errorf("city[%d] %q: unknown country %q", i, c.Name, c.Country))
		}
		if full() {
			break
		}
	}
	return result.ErrorOrNil()
}

func validCoordinate(v float32, limit float64) bool {
	f := float64(v)
	return !math.IsNaN(f) && f >= -limit && f <= limit
}

// Metadata returns the snapshot metadata.
func (db *DB) Metadata() Metadata { return db.meta }

// Len returns the number of cities.
func (db *DB) Len() int { return len(db.cities) }

// City returns the i-th city.
func (db *DB) City(i int) City { return db.cities[i] }

// Cities returns every city, sorted by name. The slice is shared with the
// DB and must be treated as read-only.
func (db *DB) Cities() []City { return db.cities }

// Each calls fn for every city in order until fn returns false.
func (db *DB) Each(fn func(i int, c City) bool) {
	for i := range db.cities {
		if !fn(i, db.cities[i]) {
			return
		}
	}
}

// Countries returns country metadata. Read-only, like Cities.
func (db *DB) Countries() []Country { return db.countries }

// Country looks up a country by its ISO code.
func (db *DB) Country(iso string) (Country, bool) {
	i, ok := db.byISO[strings.ToUpper(iso)]
	if !ok {
		return Country{}, false
	}
	return db.countries[i], true
}

// AdminDivision looks up a division by country and code. Codes are
// case-insensitive.
func (db *DB) AdminDivision(country, code string) (AdminDivision, bool) {
	d, ok := db.divisions[strings.ToUpper(country)][strings.ToUpper(code)]
	return d, ok
}

// AdminDivisionCountry returns the country that uses code as a division
// code, or "" when no country or more than one country does.
// Examples: "TX" -> "US", "NSW" -> "AU".
func (db *DB) AdminDivisionCountry(code string) string {
	code = strings.ToUpper(code)
	match := ""
	for country, divisions := range db.divisions {
		if _, ok := divisions[code]; !ok {
			continue
		}
		if match != "" {
			return ""
		}
		match = country
	}
	return match
}

// snapshot returns the DB in its serialisable form.
func (db *DB) snapshot() *snapshot {
	divisions := make([]AdminDivision, 0, len(db.divisions))
	for _, byCode := range db.divisions {
		for _, d := range byCode {
			divisions = append(divisions, d)
		}
	}
	sort.Slice(divisions, func(i, j int) bool {
		if divisions[i].Country != divisions[j].Country {
			return divisions[i].Country < divisions[j].Country
		}
		return divisions[i].Code < divisions[j].Code
	})
	return &snapshot{
		Meta:      db.meta,
		Countries: db.countries,
		Divisions: divisions,
		Cities:    db.cities,
	}
}

// interner deduplicates the country and region strings of a snapshot so
// that ~150K cities share a few thousand backing strings.
type interner struct {
	seen map[string]string
}

func newInterner(capacity int) *interner {
	return &interner{seen: make(map[string]string, capacity)}
}

func (in *interner) intern(s string) string {
	if v, ok := in.seen[s]; ok {
		return v
	}
	in.seen[s] = s
	return s
}

// SortCities orders cities by name, case-insensitively, breaking ties by
// country and then descending population so the order is deterministic.
func SortCities(cities []City) {
	sort.SliceStable(cities, func(i, j int) bool {
		a, b := strings.ToLower(cities[i].Name), strings.ToLower(cities[j].Name)
		if a != b {
			return a < b
		}
		if cities[i].Country != cities[j].Country {
			return cities[i].Country < cities[j].Country
		}
		return cities[i].Population > cities[j].Population
	})
}
