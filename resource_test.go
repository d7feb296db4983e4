package geosync

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreiashu/geosync/enrich"
	"github.com/andreiashu/geosync/geodb"
)

// fixtureDB returns a small valid database. extra cities named
// "Town 1".."Town n" are appended so databases can be told apart by size.
func fixtureDB(t testing.TB, source string, extra int) *geodb.DB {
	t.Helper()

	countries := []geodb.Country{
		{ISO: "US", ISO3: "USA", Name: "United States"},
		{ISO: "AU", ISO3: "AUS", Name: "Australia"},
	}
	divisions := []geodb.AdminDivision{
		{Country: "US", Code: "TX", Name: "Texas"},
		{Country: "AU", Code: "02", Name: "New South Wales"},
	}
	cities := []geodb.City{
		{Name: "Austin", Country: "US", Region: "TX", Latitude: 30.26715, Longitude: -97.74306, Population: 978908},
		{Name: "Sydney", Country: "AU", Region: "02", Latitude: -33.86785, Longitude: 151.20732, Population: 4627345},
	}
	for i := 1; i <= extra; i++ {
		cities = append(cities, geodb.City{
			Name:       fmt.Sprintf("Town %d", i),
			Country:    "US",
			Region:     "TX",
			Latitude:   31 + float32(i)/100,
			Longitude:  -98,
			Population: int32(i),
		})
	}
	geodb.SortCities(cities)

	db, err := geodb.New(geodb.Metadata{Source: source}, countries, divisions, cities)
	require.NoError(t, err)
	return db
}

func encodeDB(t testing.TB, db *geodb.DB) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, geodb.Encode(&buf, db, geodb.CompressionZstd))
	return buf.Bytes()
}

func writeDB(t testing.TB, path string, db *geodb.DB) {
	t.Helper()
	require.NoError(t, geodb.WriteFile(path, db, geodb.CompressionZstd))
}

func TestResourceEmpty(t *testing.T) {
	res := NewResource()
	assert.Nil(t, res.DB())
	assert.Nil(t, res.Table())
	assert.False(t, res.Ready())
}

func TestResourcePublish(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cities.gbdb")
	writeDB(t, path, fixtureDB(t, "first", 0))

	res := NewResource(WithTableOptions(enrich.WithGeohashPrecision(4)))
	require.NoError(t, res.Publish(path))

	db := res.DB()
	require.NotNil(t, db)
	assert.Equal(t, "first", db.Metadata().Source)
	assert.True(t, res.Ready())
	assert.Same(t, db, res.Table().Source())

	rec, ok := res.Table().Reverse(30.26715, -97.74306)
	require.True(t, ok)
	assert.Equal(t, "Austin", rec.City)
	assert.Len(t, rec.Geohash, 4)
}

func TestResourcePublishReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cities.gbdb")
	res := NewResource()

	writeDB(t, path, fixtureDB(t, "first", 0))
	require.NoError(t, res.Publish(path))
	first := res.DB()

	writeDB(t, path, fixtureDB(t, "second", 3))
	require.NoError(t, res.Publish(path))

	assert.NotSame(t, first, res.DB())
	assert.Equal(t, "second", res.DB().Metadata().Source)
	assert.Equal(t, 5, res.DB().Len())
	assert.Same(t, res.DB(), res.Table().Source())
	// Earlier readers keep a usable database.
	assert.Equal(t, 2, first.Len())
}

func TestResourcePublishFailSoft(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "cities.gbdb")
	writeDB(t, good, fixtureDB(t, "good", 0))

	res := NewResource()
	require.NoError(t, res.Publish(good))
	db, table := res.DB(), res.Table()

	corrupt := filepath.Join(dir, "corrupt.gbdb")
	data := encodeDB(t, fixtureDB(t, "corrupt", 10))
	require.NoError(t, os.WriteFile(corrupt, data[:len(data)/2], 0644))

	tests := []struct {
		name string
		path string
	}{
		{"truncated artifact", corrupt},
		{"missing artifact", filepath.Join(dir, "absent.gbdb")},
		{"directory", dir},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, res.Publish(tt.path))
			assert.Same(t, db, res.DB())
			assert.Same(t, table, res.Table())
			assert.True(t, res.Ready())
		})
	}
}

func TestResourcePublishFailSoftWhenEmpty(t *testing.T) {
	res := NewResource()
	require.Error(t, res.Publish(filepath.Join(t.TempDir(), "absent.gbdb")))
	assert.Nil(t, res.DB())
	assert.Nil(t, res.Table())
}

// TestResourceConcurrentReaders publishes a sequence of generations while
// readers check that every database they observe is complete and that a
// table is never newer than the database published next to it. Run with
// -race.
func TestResourceConcurrentReaders(t *testing.T) {
	const generations = 20
	dir := t.TempDir()
	paths := make([]string, generations)
	for i := range paths {
		paths[i] = filepath.Join(dir, fmt.Sprintf("gen-%02d.gbdb", i))
		writeDB(t, paths[i], fixtureDB(t, fmt.Sprintf("gen-%02d", i), i))
	}

	res := NewResource()
	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}

				table := res.Table()
				db := res.DB()
				if db == nil {
					if table != nil {
						t.Error("table published before its database")
						return
					}
					continue
				}
				meta := db.Metadata()
				if db.Len() != meta.CityCount || len(db.Cities()) != meta.CityCount {
					t.Errorf("partial database: %d cities, metadata says %d", db.Len(), meta.CityCount)
					return
				}
				if table != nil && table.Source().Metadata().Source > meta.Source {
					t.Errorf("table from %s observed with database %s", table.Source().Metadata().Source, meta.Source)
					return
				}
			}
		}()
	}

	for _, p := range paths {
		require.NoError(t, res.Publish(p))
	}
	close(done)
	wg.Wait()

	assert.Equal(t, fmt.Sprintf("gen-%02d", generations-1), res.DB().Metadata().Source)
	assert.True(t, res.Ready())
}
