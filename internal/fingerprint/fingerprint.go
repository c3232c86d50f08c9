// Package fingerprint derives content-addressed identities and storage keys
// for uploaded images.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/example/cat-wrangler/internal/faults"
)

// DateHourLayout is the key's date segment format (UTC).
const DateHourLayout = "2006-01-02-15"

const debugSuffix = "-debug"

// allowedExtensions are the image types accepted for upload.
var allowedExtensions = map[string]struct{}{
	"jpg":  {},
	"jpeg": {},
	"png":  {},
}

// Sum computes the SHA-256 digest of r as lowercase hex. Identical byte
// content always yields the identical fingerprint, independent of filename.
func Sum(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", faults.Validation("fingerprint.sum", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SumBytes computes the SHA-256 digest of b as lowercase hex.
func SumBytes(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// SumFile computes the SHA-256 digest of the file at path.
func SumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", faults.Validation("fingerprint.sum_file", err)
	}
	defer f.Close()
	return Sum(f)
}

// ValidateExtension checks that name carries an allowed image extension and
// returns it normalized (lowercase, no dot).
func ValidateExtension(name string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if _, ok := allowedExtensions[ext]; !ok {
		return "", faults.Validation("fingerprint.validate_extension",
			fmt.Errorf("unsupported file extension %q for %q", ext, name))
	}
	return ext, nil
}

// KeyParts is the decomposed form of a storage key:
//
//	{fingerprint}/{client_id}/{batch_id}/{YYYY-MM-DD-HH}/{epoch}[-debug].{ext}
//
// The fingerprint leads the key so concurrent writes spread across the
// store's partitions instead of piling onto a timestamp prefix. The -debug
// suffix is a side channel asking the worker to persist verbose logs for
// this one object.
type KeyParts struct {
	Fingerprint string
	ClientID    string
	BatchID     int64
	DateHour    string
	UploadTS    int64
	Debug       bool
	Ext         string
}

// BuildKey renders p into a storage key.
func BuildKey(p KeyParts) string {
	dateHour := p.DateHour
	if dateHour == "" {
		dateHour = time.Unix(p.UploadTS, 0).UTC().Format(DateHourLayout)
	}
	suffix := ""
	if p.Debug {
		suffix = debugSuffix
	}
	return fmt.Sprintf("%s/%s/%d/%s/%d%s.%s",
		p.Fingerprint, p.ClientID, p.BatchID, dateHour, p.UploadTS, suffix, p.Ext)
}

// NewKeyParts assembles key parts for an upload happening now.
func NewKeyParts(fprint, clientID string, batchID int64, now time.Time, ext string, debug bool) KeyParts {
	return KeyParts{
		Fingerprint: fprint,
		ClientID:    clientID,
		BatchID:     batchID,
		DateHour:    now.UTC().Format(DateHourLayout),
		UploadTS:    now.Unix(),
		Debug:       debug,
		Ext:         ext,
	}
}

// ParseKey recovers the key parts from a storage key. A legacy "batch-"
// prefix on the batch segment is tolerated.
func ParseKey(key string) (KeyParts, error) {
	const op = "fingerprint.parse_key"

	segments := strings.Split(key, "/")
	if len(segments) != 5 {
		return KeyParts{}, faults.Integrity(op,
			fmt.Errorf("key %q does not match the expected format", key))
	}

	batchSeg := strings.TrimPrefix(segments[2], "batch-")
	batchID, err := strconv.ParseInt(batchSeg, 10, 64)
	if err != nil {
		return KeyParts{}, faults.Integrity(op,
			fmt.Errorf("invalid batch id segment %q: %w", segments[2], err))
	}

	last := segments[4]
	dot := strings.LastIndex(last, ".")
	if dot <= 0 || dot == len(last)-1 {
		return KeyParts{}, faults.Integrity(op,
			fmt.Errorf("missing extension in key segment %q", last))
	}
	base, ext := last[:dot], last[dot+1:]

	debug := strings.HasSuffix(base, debugSuffix)
	if debug {
		base = strings.TrimSuffix(base, debugSuffix)
	}

	uploadTS, err := strconv.ParseInt(base, 10, 64)
	if err != nil {
		return KeyParts{}, faults.Integrity(op,
			fmt.Errorf("invalid timestamp segment %q: %w", last, err))
	}

	if segments[0] == "" || segments[1] == "" {
		return KeyParts{}, faults.Integrity(op,
			fmt.Errorf("empty fingerprint or client segment in key %q", key))
	}

	return KeyParts{
		Fingerprint: segments[0],
		ClientID:    segments[1],
		BatchID:     batchID,
		DateHour:    segments[3],
		UploadTS:    uploadTS,
		Debug:       debug,
		Ext:         strings.ToLower(ext),
	}, nil
}
