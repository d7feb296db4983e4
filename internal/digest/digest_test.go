package digest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"
)

var artifact = []byte("GEOBDB\x01\x00 not really a database")

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func writeArtifact(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cities.gbdb")
	require.NoError(t, os.WriteFile(path, artifact, 0644))
	return path
}

func quietClient() *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.Logger = nil
	c.RetryMax = 0
	return c
}

func newComparator(t *testing.T, handler http.HandlerFunc) *Comparator {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger, _ := test.NewNullLogger()
	return &Comparator{
		Client:    quietClient(),
		URL:       srv.URL + "/cities.gbdb.sha256",
		Algorithm: SHA256,
		Timeout:   5 * time.Second,
		Logger:    logger,
	}
}

func serveText(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"abc123", "abc123"},
		{"  abc123\n", "abc123"},
		{"\tABC123\r\n", "abc123"},
		{"abc123  cities.gbdb\n", "abc123"},
		{"", ""},
		{" \n\t ", ""},
	}
	for _, tt := range tests {
		if got := Parse(tt.in); got != tt.want {
			t.Errorf("Parse(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseAlgorithm(t *testing.T) {
	tests := []struct {
		in      string
		want    Algorithm
		wantErr bool
	}{
		{"", SHA256, false},
		{"sha256", SHA256, false},
		{"SHA256", SHA256, false},
		{" blake3 ", BLAKE3, false},
		{"md5", "", true},
	}
	for _, tt := range tests {
		got, err := ParseAlgorithm(tt.in)
		if tt.wantErr {
			assert.True(t, errors.Is(err, ErrUnknownAlgorithm), "ParseAlgorithm(%q) error = %v", tt.in, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestFile(t *testing.T) {
	path := writeArtifact(t)

	got, err := File(path, SHA256)
	require.NoError(t, err)
	assert.Equal(t, sha256Hex(artifact), got)

	b3 := blake3.Sum256(artifact)
	got, err = File(path, BLAKE3)
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(b3[:]), got)

	_, err = File(filepath.Join(t.TempDir(), "missing"), SHA256)
	assert.Error(t, err)
}

func TestCompareEqualIgnoresWhitespace(t *testing.T) {
	path := writeArtifact(t)
	sum := sha256Hex(artifact)

	bodies := []string{
		sum,
		sum + "\n",
		"  " + sum + "  \n\n",
		strings.ToUpper(sum) + "\r\n",
		sum + "  cities.gbdb\n",
	}
	for _, body := range bodies {
		c := newComparator(t, serveText(body))
		r, err := c.Compare(context.Background(), path)
		require.NoError(t, err, "body %q", body)
		assert.False(t, r.Different, "body %q", body)
		assert.Equal(t, sum, r.Local)
		assert.Equal(t, sum, r.Remote)
	}
}

func TestCompareDetectsChange(t *testing.T) {
	path := writeArtifact(t)
	c := newComparator(t, serveText(sha256Hex([]byte("something newer"))))

	different, err := c.IsDifferent(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, different)
}

func TestCompareMissingLocalFile(t *testing.T) {
	c := newComparator(t, serveText(sha256Hex(artifact)))

	r, err := c.Compare(context.Background(), filepath.Join(t.TempDir(), "absent.gbdb"))
	require.NoError(t, err)
	assert.True(t, r.Different)
	assert.Empty(t, r.Local)
}

func TestCompareBLAKE3(t *testing.T) {
	path := writeArtifact(t)
	b3 := blake3.Sum256(artifact)
	c := newComparator(t, serveText(hex.EncodeToString(b3[:])+"\n"))
	c.Algorithm = BLAKE3

	different, err := c.IsDifferent(context.Background(), path)
	require.NoError(t, err)
	assert.False(t, different)
}

func TestCompareRemoteErrors(t *testing.T) {
	path := writeArtifact(t)

	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.NotFound(w, r)
			},
			wantErr: ErrUnexpectedStatus,
		},
		{
			name:    "empty body",
			handler: serveText(" \n"),
			wantErr: ErrEmptyDigest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newComparator(t, tt.handler)
			_, err := c.IsDifferent(context.Background(), path)
			assert.True(t, errors.Is(err, tt.wantErr), "error = %v, want %v", err, tt.wantErr)
		})
	}
}

func TestCompareUnreachable(t *testing.T) {
	srv := httptest.NewServer(serveText("x"))
	url := srv.URL
	srv.Close()

	c := &Comparator{Client: quietClient(), URL: url, Algorithm: SHA256}
	_, err := c.Compare(context.Background(), writeArtifact(t))
	assert.Error(t, err)
}

func TestCompareTimeout(t *testing.T) {
	release := make(chan struct{})
	c := newComparator(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)
	c.Timeout = 50 * time.Millisecond

	start := time.Now()
	_, err := c.Compare(context.Background(), writeArtifact(t))
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestComparatorSharesDefaultClient(t *testing.T) {
	a, b := &Comparator{}, &Comparator{}
	assert.Same(t, a.client(), b.client())

	own := retryablehttp.NewClient()
	assert.Same(t, own, (&Comparator{Client: own}).client())
}
