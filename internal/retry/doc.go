// Package retry holds the single retry policy shared by every remote call:
// the HTTP client, the content store, the release store, the commit
// producer and the indexing step.
//
// Operations return an error to ask for another attempt and wrap it with
// [Permanent] to stop immediately. Once attempts run out the last error is
// returned unchanged, so callers can still match it with errors.Is.
//
//	err := retry.Do(ctx, retry.Default(), func() error {
//	    return client.Ping(ctx)
//	})
package retry
