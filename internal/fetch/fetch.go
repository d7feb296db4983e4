// Package fetch downloads the artifact. The body is streamed into a
// temporary file next to the destination, hashed while it is written, and
// renamed over the destination only once it is complete and verified.
package fetch

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/andreiashu/geosync/internal/digest"
)

// lockRetryDelay is how often a contended destination lock is retried.
const lockRetryDelay = 250 * time.Millisecond

var (
	// ErrUnexpectedStatus is returned when the artifact URL does not answer 200.
	ErrUnexpectedStatus = errors.New("fetch: unexpected HTTP status")
	// ErrNoContentLength is returned when the response does not declare its size.
	ErrNoContentLength = errors.New("fetch: response has no content length")
	// ErrIncompleteBody is returned when the body ends before the declared size.
	ErrIncompleteBody = errors.New("fetch: incomplete body")
	// ErrDigestMismatch is returned when the downloaded bytes do not hash to
	// the expected digest.
	ErrDigestMismatch = errors.New("fetch: digest mismatch")
)

// Result describes a completed download.
type Result struct {
	Bytes  int64
	Digest string
}

// Fetcher downloads artifacts over HTTP.
type Fetcher struct {
	Client    *retryablehttp.Client
	Algorithm digest.Algorithm
	Logger    logrus.FieldLogger
	// Progress, when set, is called after every chunk with the bytes written
	// so far (never more than total) and the declared total.
	Progress func(written, total int64)
}

// defaultClient is shared by every Fetcher without a Client.
var defaultClient = sync.OnceValue(func() *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.Logger = nil
	return client
})

func (f *Fetcher) client() *retryablehttp.Client {
	if f.Client != nil {
		return f.Client
	}
	return defaultClient()
}

func (f *Fetcher) logger() logrus.FieldLogger {
	if f.Logger != nil {
		return f.Logger
	}
	return logrus.StandardLogger().WithField("component", "fetch")
}

// Download streams url into dest. When expectedDigest is non-empty the
// downloaded bytes must hash to it. On any failure dest is left as it was.
func (f *Fetcher) Download(ctx context.Context, url, dest, expectedDigest string) (Result, error) {
	log := f.logger().WithFields(logrus.Fields{"url": url, "path": dest})

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, errors.Wrap(err, "creating artifact request")
	}
	resp, err := f.client().Do(req)
	if err != nil {
		return Result{}, errors.Wrapf(err, "requesting %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, errors.Wrapf(ErrUnexpectedStatus, "%s from %s", resp.Status, url)
	}
	total := resp.ContentLength
	if total < 0 {
		return Result{}, errors.Wrap(ErrNoContentLength, url)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return Result{}, errors.Wrap(err, "creating destination directory")
	}
	lock := flock.New(dest + ".lock")
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return Result{}, errors.Wrapf(err, "locking %s", dest)
	}
	if !locked {
		return Result{}, errors.Errorf("could not lock %s", dest)
	}
	defer lock.Unlock()

	log.WithField("bytes", humanize.Bytes(uint64(total))).Info("Downloading artifact")

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return Result{}, errors.Wrap(err, "creating temporary file")
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	h := f.Algorithm.New()
	pw := &progressWriter{total: total, report: f.progress(log)}
	written, err := io.Copy(io.MultiWriter(tmp, h, pw), resp.Body)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return Result{}, errors.Wrapf(ErrIncompleteBody, "got %d of %d bytes", written, total)
	}
	if err != nil {
		return Result{}, errors.Wrapf(err, "streaming %s after %s", url, humanize.Bytes(uint64(written)))
	}
	if written != total {
		return Result{}, errors.Wrapf(ErrIncompleteBody, "got %d of %d bytes", written, total)
	}

	sum := digest.Sum(h)
	if expectedDigest != "" && sum != digest.Parse(expectedDigest) {
		return Result{}, errors.Wrapf(ErrDigestMismatch, "got %s, want %s", sum, digest.Parse(expectedDigest))
	}

	if err := tmp.Sync(); err != nil {
		return Result{}, errors.Wrap(err, "syncing artifact")
	}
	if err := tmp.Close(); err != nil {
		return Result{}, errors.Wrap(err, "closing artifact")
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return Result{}, errors.Wrap(err, "setting artifact permissions")
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return Result{}, errors.Wrap(err, "renaming artifact into place")
	}
	success = true

	log.WithFields(logrus.Fields{
		"bytes":  humanize.Bytes(uint64(written)),
		"digest": sum,
	}).Info("Downloaded artifact")
	return Result{Bytes: written, Digest: sum}, nil
}

// progress combines the caller's callback with a log line every 10%.
func (f *Fetcher) progress(log logrus.FieldLogger) func(written, total int64) {
	nextDecile := int64(1)
	return func(written, total int64) {
		if f.Progress != nil {
			f.Progress(written, total)
		}
		if total <= 0 {
			return
		}
		decile := written * 10 / total
		if decile < nextDecile {
			return
		}
		nextDecile = decile + 1
		log.Debugf("Downloaded %s of %s (%d%%)",
			humanize.Bytes(uint64(written)), humanize.Bytes(uint64(total)), decile*10)
	}
}

// progressWriter counts bytes on their way to disk. The count reported is
// capped at the declared total so an oversized body cannot report >100%.
type progressWriter struct {
	written int64
	total   int64
	report  func(written, total int64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	if p.written > p.total {
		p.written = p.total
	}
	p.report(p.written, p.total)
	return len(b), nil
}
