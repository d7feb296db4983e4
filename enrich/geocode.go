package enrich

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// maxGeocodeInputLen bounds the query length so fuzzy matching stays cheap.
const maxGeocodeInputLen = 256

// maxFuzzyDistance caps GeocodeOptions.FuzzyDistance. Every fuzzy query scans
// the whole name index.
const maxFuzzyDistance = 3

// Hint scores. A matching primary name outweighs a matching country plus
// region so "Paris, TX" still prefers a city actually called Paris.
const (
	scoreCountry   = 4
	scoreRegion    = 4
	scoreExactName = 7
	scoreAltName   = 3
)

// GeocodeOptions configures forward lookups.
type GeocodeOptions struct {
	Country       string // Only consider cities in this ISO country
	FuzzyDistance int    // Max edit distance for typo tolerance (0 = disabled)
}

// query is a parsed "City, Region, Country" string.
type query struct {
	name      string
	key       string
	hints     []string
	countries map[string]bool
}

func (t *Table) parseQuery(q string) query {
	q = strings.TrimSpace(q)
	if runes := []rune(q); len(runes) > maxGeocodeInputLen {
		q = string(runes[:maxGeocodeInputLen])
	}

	parts := strings.Split(q, ",")
	pq := query{
		name:      strings.TrimSpace(parts[0]),
		countries: make(map[string]bool),
	}
	pq.key = strings.ToLower(pq.name)
	for _, p := range parts[1:] {
		h := strings.TrimSpace(p)
		if h == "" {
			continue
		}
		pq.hints = append(pq.hints, h)
		if co, ok := t.db.Country(h); ok {
			pq.countries[co.ISO] = true
		}
		if iso, ok := t.countryByName[strings.ToLower(h)]; ok {
			pq.countries[iso] = true
		}
		if iso := t.db.AdminDivisionCountry(h); iso != "" {
			pq.countries[iso] = true
		}
	}
	return pq
}

// Geocode resolves a place name such as "Austin", "Paris, FR" or
// "London, Ontario" to a city. Hints after the first comma may be country
// codes, country names, region codes or region names. The best candidate is
// the one with the highest hint score, then the largest population.
func (t *Table) Geocode(q string, opts ...GeocodeOptions) (Record, bool) {
	var options GeocodeOptions
	if len(opts) > 0 {
		options = opts[0]
	}
	if options.FuzzyDistance > maxFuzzyDistance {
		options.FuzzyDistance = maxFuzzyDistance
	}

	pq := t.parseQuery(q)
	if pq.key == "" {
		return Record{}, false
	}

	best, bestScore := -1, -1
	for idx := range t.candidates(pq.key, options.FuzzyDistance) {
		c := t.db.City(idx)
		if options.Country != "" && !strings.EqualFold(c.Country, options.Country) {
			continue
		}
		score := t.score(pq, idx)
		if best < 0 || score > bestScore || (score == bestScore && betterTie(t, idx, best)) {
			best, bestScore = idx, score
		}
	}
	if best < 0 {
		return Record{}, false
	}
	return t.record(t.db.City(best)), true
}

// candidates returns the indices of cities whose primary or alternate name
// is key, or within maxDist edits of it.
func (t *Table) candidates(key string, maxDist int) map[int]struct{} {
	set := make(map[int]struct{})
	for _, idx := range t.nameIndex[key] {
		set[idx] = struct{}{}
	}
	if maxDist <= 0 || utf8.RuneCountInString(key) <= 2 {
		return set
	}

	keyLen := utf8.RuneCountInString(key)
	for name, indices := range t.nameIndex {
		if d := utf8.RuneCountInString(name) - keyLen; d > maxDist || -d > maxDist {
			continue
		}
		if levenshtein.ComputeDistance(key, name) > maxDist {
			continue
		}
		for _, idx := range indices {
			set[idx] = struct{}{}
		}
	}
	return set
}

func (t *Table) score(pq query, idx int) int {
	c := t.db.City(idx)
	score := 0
	if pq.countries[c.Country] {
		score += scoreCountry
	}

	var regionName string
	if d, ok := t.db.AdminDivision(c.Country, c.Region); ok {
		regionName = d.Name
	}
	for _, h := range pq.hints {
		if (c.Region != "" && strings.EqualFold(h, c.Region)) || (regionName != "" && strings.EqualFold(h, regionName)) {
			score += scoreRegion
			break
		}
	}

	switch {
	case strings.EqualFold(c.Name, pq.name):
		score += scoreExactName
	case c.AltNames != "":
		for _, alt := range strings.Split(c.AltNames, ",") {
			if strings.EqualFold(strings.TrimSpace(alt), pq.name) {
				score += scoreAltName
				break
			}
		}
	}
	return score
}

// betterTie reports whether city a beats city b on equal score.
func betterTie(t *Table, a, b int) bool {
	pa, pb := t.db.City(a).Population, t.db.City(b).Population
	if pa != pb {
		return pa > pb
	}
	return a < b
}
