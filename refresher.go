// Package geosync keeps an in-process geo-location database in sync with a
// remote artifact.
//
// A Refresher periodically compares the digest of the cached artifact with
// the digest published next to the remote one, downloads the artifact when
// they differ, and publishes it through a Resource. Readers use the Resource
// and never wait on downloads or parsing:
//
//	res := geosync.NewResource()
//	r, err := geosync.New(geosync.NewConfig(
//		geosync.WithURLs("https://example.com/cities.gbdb", "https://example.com/cities.gbdb.sha256"),
//	), res)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go r.Run(ctx)
//
//	if table := res.Table(); table != nil {
//	    rec, ok := table.Reverse(30.26715, -97.74306)
//	}
package geosync

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/andreiashu/geosync/enrich"
	"github.com/andreiashu/geosync/internal/digest"
	"github.com/andreiashu/geosync/internal/fetch"
)

// Outcome classifies one refresh cycle.
type Outcome int

const (
	// OutcomeNone means no cycle has completed yet.
	OutcomeNone Outcome = iota
	// OutcomeUnchanged means the cached artifact already matches the remote.
	OutcomeUnchanged
	// OutcomeUpdated means a new artifact was downloaded and published.
	OutcomeUpdated
	// OutcomeCheckFailed means the remote digest could not be obtained.
	OutcomeCheckFailed
	// OutcomeFetchFailed means the download failed; the cache is unchanged.
	OutcomeFetchFailed
	// OutcomePublishFailed means the downloaded artifact could not be loaded;
	// readers keep the previous database.
	OutcomePublishFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeUpdated:
		return "updated"
	case OutcomeCheckFailed:
		return "check-failed"
	case OutcomeFetchFailed:
		return "fetch-failed"
	case OutcomePublishFailed:
		return "publish-failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Failed reports whether the outcome is a failure.
func (o Outcome) Failed() bool {
	return o >= OutcomeCheckFailed
}

// Stats are cumulative counters for a Refresher.
type Stats struct {
	Cycles      uint64 // Refresh cycles run
	Checks      uint64 // Digest checks attempted
	Downloads   uint64 // Successful downloads
	Publishes   uint64 // Successful publishes, including the initial load
	Failures    uint64 // Cycles that ended in a failure outcome
	LastOutcome Outcome
	LastSuccess time.Time // End of the last unchanged or updated cycle
	LastError   string
}

// Refresher keeps a Resource in sync with the remote artifact.
type Refresher struct {
	cfg      Config
	resource *Resource

	client   *retryablehttp.Client
	logger   logrus.FieldLogger
	clock    clockwork.Clock
	progress func(written, total int64)

	comparator *digest.Comparator
	fetcher    *fetch.Fetcher

	group singleflight.Group

	mu    sync.Mutex
	stats Stats
}

// Option configures a Refresher.
type Option func(*Refresher)

// WithHTTPClient replaces the retrying HTTP client built from the config.
func WithHTTPClient(client *retryablehttp.Client) Option {
	return func(r *Refresher) {
		r.client = client
	}
}

// WithLogger sets the logger. The default is the logrus standard logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(r *Refresher) {
		r.logger = logger
	}
}

// WithClock sets the clock driving the refresh ticker.
func WithClock(clock clockwork.Clock) Option {
	return func(r *Refresher) {
		r.clock = clock
	}
}

// WithProgress sets a callback invoked as downloads progress.
func WithProgress(fn func(written, total int64)) Option {
	return func(r *Refresher) {
		r.progress = fn
	}
}

// New validates cfg and returns a Refresher publishing into res. Unless res
// was created with WithTableOptions, its tables use the geohash precision
// from cfg.
func New(cfg Config, res *Resource, opts ...Option) (*Refresher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	if res == nil {
		return nil, errors.New("resource must not be nil")
	}
	alg, _ := digest.ParseAlgorithm(cfg.DigestAlgorithm)

	r := &Refresher{cfg: cfg, resource: res}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logrus.StandardLogger().WithField("component", "geosync")
	}
	if r.clock == nil {
		r.clock = clockwork.NewRealClock()
	}
	if r.client == nil {
		r.client = NewHTTPClient(cfg, r.logger)
	}
	res.defaultTableOptions(enrich.WithGeohashPrecision(cfg.GeohashPrecision))

	r.comparator = &digest.Comparator{
		Client:    r.client,
		URL:       cfg.DigestURL,
		Algorithm: alg,
		Timeout:   cfg.DigestTimeout,
		Logger:    r.logger.WithField("component", "digest"),
	}
	r.fetcher = &fetch.Fetcher{
		Client:    r.client,
		Algorithm: alg,
		Logger:    r.logger.WithField("component", "fetch"),
		Progress:  r.progress,
	}
	return r, nil
}

// Path returns the location of the cached artifact.
func (r *Refresher) Path() string {
	return r.cfg.Path()
}

// Resource returns the resource the Refresher publishes into.
func (r *Refresher) Resource() *Resource {
	return r.resource
}

// Stats returns a snapshot of the counters.
func (r *Refresher) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Run creates the cache directory, publishes whatever artifact is already
// cached, then runs a refresh cycle immediately and once per
// RefreshInterval until ctx is cancelled. Failing to create the cache
// directory is the only error returned before ctx is done; cycle failures
// are logged and retried on the next tick.
func (r *Refresher) Run(ctx context.Context) error {
	if err := os.MkdirAll(r.cfg.CacheDir, 0755); err != nil {
		return errors.Wrapf(err, "creating cache directory %s", r.cfg.CacheDir)
	}

	path := r.Path()
	if err := r.resource.Publish(path); err != nil {
		r.logger.WithError(err).WithField("path", path).Warn("No usable cached artifact, waiting for the first refresh")
	} else {
		r.countPublish()
		r.logger.WithFields(logrus.Fields{
			"path":   path,
			"cities": r.resource.DB().Len(),
		}).Info("Loaded cached artifact")
	}

	ticker := r.clock.NewTicker(r.cfg.RefreshInterval)
	defer ticker.Stop()

	r.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			r.Refresh(ctx)
		}
	}
}

// Refresh runs one cycle. Calls made while a cycle is in flight wait for it
// and share its outcome instead of starting another.
func (r *Refresher) Refresh(ctx context.Context) (Outcome, error) {
	v, err, _ := r.group.Do("refresh", func() (interface{}, error) {
		outcome, err := r.cycle(ctx)
		r.record(outcome, err)
		return outcome, err
	})
	return v.(Outcome), err
}

func (r *Refresher) cycle(ctx context.Context) (Outcome, error) {
	path := r.Path()
	log := r.logger.WithField("path", path)

	r.count(func(s *Stats) { s.Checks++ })
	cmp, err := r.comparator.Compare(ctx, path)
	if err != nil {
		log.WithError(err).Error("Digest check failed")
		return OutcomeCheckFailed, err
	}
	if !cmp.Different {
		log.WithField("digest", cmp.Remote).Debug("Artifact unchanged")
		return OutcomeUnchanged, nil
	}

	expected := ""
	if r.cfg.VerifyDownload {
		expected = cmp.Remote
	}
	dctx, cancel := context.WithTimeout(ctx, r.cfg.DownloadTimeout)
	res, err := r.fetcher.Download(dctx, r.cfg.ArtifactURL, path, expected)
	cancel()
	if err != nil {
		log.WithError(err).WithField("url", r.cfg.ArtifactURL).Error("Download failed")
		return OutcomeFetchFailed, err
	}
	r.count(func(s *Stats) { s.Downloads++ })

	if err := r.resource.Publish(path); err != nil {
		log.WithError(err).Warn("Downloaded artifact could not be published, keeping the previous database")
		return OutcomePublishFailed, err
	}
	r.countPublish()

	log.WithFields(logrus.Fields{
		"digest": res.Digest,
		"cities": r.resource.DB().Len(),
	}).Info("Published new artifact")
	return OutcomeUpdated, nil
}

func (r *Refresher) count(fn func(*Stats)) {
	r.mu.Lock()
	fn(&r.stats)
	r.mu.Unlock()
}

func (r *Refresher) countPublish() {
	r.count(func(s *Stats) { s.Publishes++ })
}

func (r *Refresher) record(outcome Outcome, err error) {
	now := r.clock.Now()
	r.count(func(s *Stats) {
		s.Cycles++
		s.LastOutcome = outcome
		if outcome.Failed() {
			s.Failures++
			if err != nil {
				s.LastError = err.Error()
			}
			return
		}
		s.LastSuccess = now
		s.LastError = ""
	})
	r.logger.WithField("outcome", outcome).Debug("Refresh cycle finished")
}
