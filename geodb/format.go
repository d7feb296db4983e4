package geodb

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// Artifact layout: 6-byte magic, 1-byte format version, 1-byte compression
// tag, then a gob-encoded snapshot (compressed according to the tag).
const (
	magic     = "GEOBDB"
	headerLen = len(magic) + 2

	// FormatVersion is the artifact format version written by Encode.
	FormatVersion = 1
)

var (
	// ErrBadMagic is returned when a file is not a geodb artifact.
	ErrBadMagic = errors.New("geodb: not a database artifact")
	// ErrUnsupportedVersion is returned for artifacts written by a newer format.
	ErrUnsupportedVersion = errors.New("geodb: unsupported format version")
	// ErrUnknownCompression is returned for an unrecognised compression tag.
	ErrUnknownCompression = errors.New("geodb: unknown compression")
)

// Compression identifies how the snapshot body of an artifact is encoded.
// The values are stored in the artifact header; changing them breaks
// compatibility with existing files.
type Compression uint8

const (
	// CompressionNone stores the gob stream as-is.
	CompressionNone Compression = 0
	// CompressionZstd compresses the gob stream with zstd.
	CompressionZstd Compression = 1
)

// String returns the human-readable name of a compression tag.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses a compression name as printed by String.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none", "":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, errors.Wrapf(ErrUnknownCompression, "%q", name)
	}
}

// snapshot is the gob payload of an artifact.
type snapshot struct {
	Meta      Metadata
	Countries []Country
	Divisions []AdminDivision
	Cities    []City
}

// Open reads and validates the artifact at path.
func Open(path string) (*DB, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	defer f.Close()

	db, err := Decode(bufio.NewReader(f))
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s", path)
	}
	return db, nil
}

// Decode reads an artifact from r and validates it.
func Decode(r io.Reader) (*DB, error) {
	var header [headerLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, errors.Wrap(ErrBadMagic, "short header")
		}
		return nil, errors.Wrap(err, "reading header")
	}
	if string(header[:len(magic)]) != magic {
		return nil, ErrBadMagic
	}
	if v := header[len(magic)]; v != FormatVersion {
		return nil, errors.Wrapf(ErrUnsupportedVersion, "version %d", v)
	}

	body := r
	switch c := Compression(header[len(magic)+1]); c {
	case CompressionNone:
	case CompressionZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, "creating zstd reader")
		}
		defer dec.Close()
		body = dec
	default:
		return nil, errors.Wrapf(ErrUnknownCompression, "tag %d", uint8(c))
	}

	var s snapshot
	if err := gob.NewDecoder(body).Decode(&s); err != nil {
		return nil, errors.Wrap(err, "decoding snapshot")
	}
	return fromSnapshot(&s)
}

// Encode writes db to w as an artifact.
func Encode(w io.Writer, db *DB, c Compression) error {
	if c != CompressionNone && c != CompressionZstd {
		return errors.Wrapf(ErrUnknownCompression, "tag %d", uint8(c))
	}
	header := make([]byte, 0, headerLen)
	header = append(header, magic...)
	header = append(header, FormatVersion, byte(c))
	if _, err := w.Write(header); err != nil {
		return errors.Wrap(err, "writing header")
	}

	if c == CompressionNone {
		return errors.Wrap(gob.NewEncoder(w).Encode(db.snapshot()), "encoding snapshot")
	}

	enc, err := zstd.NewWriter(w)
	if err != nil {
		return errors.Wrap(err, "creating zstd writer")
	}
	if err := gob.NewEncoder(enc).Encode(db.snapshot()); err != nil {
		enc.Close()
		return errors.Wrap(err, "encoding snapshot")
	}
	return errors.Wrap(enc.Close(), "flushing zstd stream")
}

// WriteFile writes db to path. The artifact is staged in a temporary file in
// the same directory and renamed into place, so readers of path see either
// the previous file or the complete new one.
func WriteFile(path string, db *DB, c Compression) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "creating output directory")
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "creating temporary file")
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	w := bufio.NewWriter(tmp)
	if err := Encode(w, db, c); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return errors.Wrap(err, "flushing artifact")
	}
	if err := tmp.Sync(); err != nil {
		return errors.Wrap(err, "syncing artifact")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "closing artifact")
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return errors.Wrap(err, "setting artifact permissions")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errors.Wrap(err, "renaming artifact into place")
	}
	success = true
	return nil
}
