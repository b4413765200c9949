package downloader

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"

	rdhttp "github.com/wolfv/repodata-tools/internal/http"
)

var (
	// ErrDownload is returned when the artifact cannot be fetched.
	ErrDownload = errors.New("downloader: download failed")

	// ErrChecksumMismatch is returned when a downloaded artifact does not
	// match its expected checksum.
	ErrChecksumMismatch = errors.New("downloader: checksum mismatch")
)

// Digests describes a downloaded file.
type Digests struct {
	Size   int64
	MD5    string
	SHA256 string
}

// Fetch downloads url to dest, creating parent directories as needed, and
// returns the file's digests. Failed attempts truncate dest before the
// next one, so a partial file is never left behind on success.
func Fetch(ctx context.Context, client *rdhttp.Client, url, dest string) (*Digests, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}

	f, err := os.Create(dest)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", dest, err)
	}
	defer f.Close()

	var digests *Digests
	err = client.Fetch(ctx, url, func(body io.Reader) error {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return err
		}
		if err := f.Truncate(0); err != nil {
			return err
		}

		d, err := copyWithDigests(f, body)
		if err != nil {
			return err
		}
		digests = d
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDownload, url, err)
	}

	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("sync %s: %w", dest, err)
	}
	return digests, nil
}

// FileDigests computes the digests of a local file.
func FileDigests(path string) (*Digests, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return copyWithDigests(io.Discard, f)
}

// VerifyMD5 compares the MD5 of a file with an expected hex digest using a
// constant-time comparison. The comparison ignores hex case.
func VerifyMD5(d *Digests, expected string) error {
	if !equalHex(d.MD5, expected) {
		return fmt.Errorf("%w: expected md5 %s, got %s", ErrChecksumMismatch, expected, d.MD5)
	}
	return nil
}

// VerifyFileMD5 hashes path and checks it against expected.
func VerifyFileMD5(path, expected string) error {
	d, err := FileDigests(path)
	if err != nil {
		return fmt.Errorf("hash %s: %w", path, err)
	}
	return VerifyMD5(d, expected)
}

func equalHex(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func copyWithDigests(w io.Writer, r io.Reader) (*Digests, error) {
	md5h := md5.New()
	sha := sha256.New()

	n, err := io.Copy(io.MultiWriter(w, md5h, sha), r)
	if err != nil {
		return nil, err
	}
	return &Digests{
		Size:   n,
		MD5:    sum(md5h),
		SHA256: sum(sha),
	}, nil
}

func sum(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}
