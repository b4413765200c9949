// Package downloader fetches package artifacts into a scratch directory and
// verifies them.
//
// Downloads go through the retrying HTTP client; the file is truncated
// before every attempt. MD5 and SHA-256 digests are computed while the
// body is written, and [VerifyMD5] compares against the expected digest in
// constant time.
//
// # Usage
//
//	d, err := downloader.Fetch(ctx, client, url, filepath.Join(dir, subdir, pkg))
//	if err != nil {
//	    return err // wraps ErrDownload
//	}
//	if err := downloader.VerifyMD5(d, md5); err != nil {
//	    return err // wraps ErrChecksumMismatch
//	}
package downloader
