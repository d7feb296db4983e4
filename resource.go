package geosync

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/andreiashu/geosync/enrich"
	"github.com/andreiashu/geosync/geodb"
)

// Resource owns the published database and the enrichment table derived
// from it. Readers call DB and Table at any time; Publish replaces both.
//
// The database and the table are guarded by separate locks that are never
// held together. The table is always replaced after the database, so a
// reader that sees a new table will also see its database, while a reader
// may briefly see a new database next to the previous table.
type Resource struct {
	publishMu sync.Mutex // serialises Publish calls

	dbMu sync.RWMutex
	db   *geodb.DB

	tableMu sync.RWMutex
	table   *enrich.Table

	tableOpts []enrich.Option
}

// ResourceOption configures a Resource.
type ResourceOption func(*Resource)

// WithTableOptions sets the options used to build every enrichment table.
func WithTableOptions(opts ...enrich.Option) ResourceOption {
	return func(r *Resource) {
		r.tableOpts = append(r.tableOpts, opts...)
	}
}

// NewResource returns an empty resource.
func NewResource(opts ...ResourceOption) *Resource {
	r := &Resource{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// defaultTableOptions sets the table options used by later publishes when
// none were given to NewResource.
func (r *Resource) defaultTableOptions(opts ...enrich.Option) {
	r.publishMu.Lock()
	defer r.publishMu.Unlock()
	if len(r.tableOpts) == 0 {
		r.tableOpts = opts
	}
}

// DB returns the published database, or nil before the first successful
// Publish. The returned DB stays valid after later publishes.
func (r *Resource) DB() *geodb.DB {
	r.dbMu.RLock()
	defer r.dbMu.RUnlock()
	return r.db
}

// Table returns the enrichment table, or nil before the first successful
// Publish.
func (r *Resource) Table() *enrich.Table {
	r.tableMu.RLock()
	defer r.tableMu.RUnlock()
	return r.table
}

// Ready reports whether the enrichment table was built from the currently
// published database.
func (r *Resource) Ready() bool {
	table := r.Table()
	return table != nil && table.Source() == r.DB()
}

// Publish loads the artifact at path and makes it visible to readers. If the
// file cannot be loaded the error is returned and both the database and the
// table are left exactly as they were.
func (r *Resource) Publish(path string) error {
	db, err := geodb.Open(path)
	if err != nil {
		return errors.Wrap(err, "loading artifact")
	}

	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	r.dbMu.Lock()
	r.db = db
	r.dbMu.Unlock()

	table := enrich.New(r.DB(), r.tableOpts...)

	r.tableMu.Lock()
	r.table = table
	r.tableMu.Unlock()
	return nil
}
