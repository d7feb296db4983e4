// Package digest decides whether the cached artifact differs from the remote
// one by comparing a locally computed content hash with the digest the
// remote side publishes next to the artifact.
package digest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"
)

// maxDigestBody bounds how much of the digest response is read. A digest
// file holds one hex string and optionally a file name.
const maxDigestBody = 4 << 10

var (
	// ErrUnknownAlgorithm is returned by ParseAlgorithm.
	ErrUnknownAlgorithm = errors.New("digest: unknown algorithm")
	// ErrUnexpectedStatus is returned when the digest URL does not answer 200.
	ErrUnexpectedStatus = errors.New("digest: unexpected HTTP status")
	// ErrEmptyDigest is returned when the digest URL answers with no digest.
	ErrEmptyDigest = errors.New("digest: empty remote digest")
)

// Algorithm names a content hash.
type Algorithm string

const (
	// SHA256 produces the same hex output as sha256sum.
	SHA256 Algorithm = "sha256"
	// BLAKE3 produces 256-bit BLAKE3 hex output, as b3sum does.
	BLAKE3 Algorithm = "blake3"
)

// ParseAlgorithm parses an algorithm name. The empty string selects SHA256.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(name))) {
	case "", SHA256:
		return SHA256, nil
	case BLAKE3:
		return BLAKE3, nil
	default:
		return "", errors.Wrapf(ErrUnknownAlgorithm, "%q", name)
	}
}

// New returns a fresh hash for the algorithm. Unknown algorithms fall back
// to SHA256.
func (a Algorithm) New() hash.Hash {
	if a == BLAKE3 {
		return blake3.New()
	}
	return sha256.New()
}

// Sum returns the hex digest accumulated in h.
func Sum(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

// File streams the file at path through the algorithm and returns its hex
// digest.
func File(path string, alg Algorithm) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "opening %s for hashing", path)
	}
	defer f.Close()

	h := alg.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.Wrapf(err, "hashing %s", path)
	}
	return Sum(h), nil
}

// Parse normalises the body of a digest file. Both a bare digest and
// sha256sum style "<digest>  <file name>" lines are accepted.
func Parse(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}

// Result is the outcome of a comparison.
type Result struct {
	Local     string // "" when the local file is missing or unreadable
	Remote    string
	Different bool
}

// Comparator compares a local file against the digest published at URL.
type Comparator struct {
	Client    *retryablehttp.Client
	URL       string
	Algorithm Algorithm
	Timeout   time.Duration // Bounds the remote request, retries included; 0 disables
	Logger    logrus.FieldLogger
}

// defaultClient is shared by every Comparator without a Client.
var defaultClient = sync.OnceValue(func() *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.Logger = nil
	return client
})

func (c *Comparator) client() *retryablehttp.Client {
	if c.Client != nil {
		return c.Client
	}
	return defaultClient()
}

func (c *Comparator) logger() logrus.FieldLogger {
	if c.Logger != nil {
		return c.Logger
	}
	return logrus.StandardLogger().WithField("component", "digest")
}

// Remote fetches and parses the remote digest.
func (c *Comparator) Remote(ctx context.Context) (string, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return "", errors.Wrap(err, "creating digest request")
	}
	resp, err := c.client().Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "fetching digest from %s", c.URL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Wrapf(ErrUnexpectedStatus, "%s from %s", resp.Status, c.URL)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDigestBody))
	if err != nil {
		return "", errors.Wrapf(err, "reading digest from %s", c.URL)
	}
	remote := Parse(string(body))
	if remote == "" {
		return "", errors.Wrap(ErrEmptyDigest, c.URL)
	}
	return remote, nil
}

// Compare fetches the remote digest and hashes localPath. A missing or
// unreadable local file hashes to "" and therefore always differs. Only a
// failure to obtain the remote digest is an error.
func (c *Comparator) Compare(ctx context.Context, localPath string) (Result, error) {
	remote, err := c.Remote(ctx)
	if err != nil {
		return Result{}, err
	}

	local, err := File(localPath, c.Algorithm)
	if err != nil {
		c.logger().WithError(err).WithField("path", localPath).Debug("Local artifact not hashable, treating as changed")
		local = ""
	}
	return Result{Local: local, Remote: remote, Different: local != remote}, nil
}

// IsDifferent reports whether localPath differs from the remote artifact.
func (c *Comparator) IsDifferent(ctx context.Context, localPath string) (bool, error) {
	r, err := c.Compare(ctx, localPath)
	if err != nil {
		return false, err
	}
	return r.Different, nil
}
