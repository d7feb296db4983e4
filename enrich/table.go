// Package enrich builds the lookup table that enrichment callers query: a
// spatial index and a name index derived from one published geodb.DB.
//
// A Table is immutable once built and is tied to exactly the database it was
// built from (see Source), so a new Table is built every time a new database
// is published.
package enrich

import (
	"math"
	"sort"
	"strings"

	geohash "github.com/TomiHiltunen/geohash-golang"
	"github.com/golang/geo/s2"

	"github.com/andreiashu/geosync/geodb"
)

// s2CellLevel is the granularity of the spatial index. Level 10 cells are
// roughly 10km x 10km at the equator.
const s2CellLevel = 10

// maxReverseDistance is ~100km in radians on the unit sphere. Reverse
// returns nothing when the closest city is farther than this.
const maxReverseDistance = 0.0157

// nearbyDistance is ~10km in radians on the unit sphere.
const nearbyDistance = 0.00157

// DefaultGeohashPrecision is the geohash length reported in records.
const DefaultGeohashPrecision = 7

// Record is the enrichment result for one city.
type Record struct {
	City        string
	Country     string
	CountryName string
	Region      string
	RegionName  string
	Latitude    float64
	Longitude   float64
	Population  int32
	Geohash     string
}

type config struct {
	geohashPrecision int
}

// Option configures a Table.
type Option func(*config)

// WithGeohashPrecision sets the geohash length of returned records (1-12).
func WithGeohashPrecision(n int) Option {
	return func(c *config) {
		if n >= 1 && n <= 12 {
			c.geohashPrecision = n
		}
	}
}

// Table answers forward and reverse lookups against one database.
// Safe for concurrent use.
type Table struct {
	db            *geodb.DB
	nameIndex     map[string][]int    // lowercase primary or alt name -> city indices
	cellIndex     map[s2.CellID][]int // level-10 cell -> city indices
	countryByName map[string]string   // lowercase country name -> ISO
	config        config
}

// New indexes db. db must not be nil.
func New(db *geodb.DB, opts ...Option) *Table {
	cfg := config{geohashPrecision: DefaultGeohashPrecision}
	for _, opt := range opts {
		opt(&cfg)
	}

	t := &Table{
		db:            db,
		nameIndex:     make(map[string][]int, db.Len()),
		cellIndex:     make(map[s2.CellID][]int),
		countryByName: make(map[string]string, len(db.Countries())),
		config:        cfg,
	}
	for i, city := range db.Cities() {
		t.indexName(city.Name, i)
		if city.AltNames != "" {
			for _, alt := range strings.Split(city.AltNames, ",") {
				t.indexName(alt, i)
			}
		}
		cell := cellOf(float64(city.Latitude), float64(city.Longitude))
		t.cellIndex[cell] = append(t.cellIndex[cell], i)
	}
	for _, co := range db.Countries() {
		t.countryByName[strings.ToLower(co.Name)] = co.ISO
	}
	return t
}

func (t *Table) indexName(name string, i int) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return
	}
	idx := t.nameIndex[key]
	if len(idx) > 0 && idx[len(idx)-1] == i {
		return
	}
	t.nameIndex[key] = append(idx, i)
}

func cellOf(lat, lng float64) s2.CellID {
	return s2.CellIDFromLatLng(s2.LatLngFromDegrees(lat, lng)).Parent(s2CellLevel)
}

// Source returns the database the table was built from.
func (t *Table) Source() *geodb.DB { return t.db }

// Len returns the number of distinct names indexed.
func (t *Table) Len() int { return len(t.nameIndex) }

type reverseCandidate struct {
	idx  int
	dist float64
}

// Reverse returns the city closest to the given coordinates. If the closest
// city is small, a city at least ten times larger within ~10km wins, so
// coordinates in a suburb resolve to the metropolis around it.
func (t *Table) Reverse(lat, lng float64) (Record, bool) {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return Record{}, false
	}

	query := s2.LatLngFromDegrees(lat, lng)
	var candidates []reverseCandidate
	for _, cell := range neighbourhood(cellOf(lat, lng)) {
		for _, idx := range t.cellIndex[cell] {
			c := t.db.City(idx)
			ll := s2.LatLngFromDegrees(float64(c.Latitude), float64(c.Longitude))
			candidates = append(candidates, reverseCandidate{idx: idx, dist: float64(query.Distance(ll))})
		}
	}
	if len(candidates) == 0 {
		return Record{}, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.dist != b.dist {
			return a.dist < b.dist
		}
		ca, cb := t.db.City(a.idx), t.db.City(b.idx)
		if ca.Population != cb.Population {
			return ca.Population > cb.Population
		}
		return a.idx < b.idx
	})

	best := candidates[0]
	if best.dist > maxReverseDistance {
		return Record{}, false
	}
	if pop := t.db.City(best.idx).Population; pop < 500_000 {
		for _, c := range candidates[1:] {
			if c.dist > nearbyDistance {
				break
			}
			if t.db.City(c.idx).Population > pop*10 {
				best = c
				break
			}
		}
	}
	return t.record(t.db.City(best.idx)), true
}

// neighbourhood returns cell, its four edge neighbours and the four corner
// cells between them.
func neighbourhood(cell s2.CellID) []s2.CellID {
	cells := make([]s2.CellID, 0, 9)
	seen := make(map[s2.CellID]bool, 9)
	add := func(c s2.CellID) {
		if !seen[c] {
			seen[c] = true
			cells = append(cells, c)
		}
	}
	add(cell)
	edges := cell.EdgeNeighbors()
	for _, e := range edges {
		add(e)
	}
	for _, e := range edges {
		for _, corner := range e.EdgeNeighbors() {
			add(corner)
		}
	}
	return cells
}

func (t *Table) record(c geodb.City) Record {
	r := Record{
		City:       c.Name,
		Country:    c.Country,
		Region:     c.Region,
		Latitude:   float64(c.Latitude),
		Longitude:  float64(c.Longitude),
		Population: c.Population,
	}
	if co, ok := t.db.Country(c.Country); ok {
		r.CountryName = co.Name
	}
	if d, ok := t.db.AdminDivision(c.Country, c.Region); ok {
		r.RegionName = d.Name
	}
	if gh := geohash.Encode(r.Latitude, r.Longitude); len(gh) > t.config.geohashPrecision {
		r.Geohash = gh[:t.config.geohashPrecision]
	} else {
		r.Geohash = gh
	}
	return r
}
