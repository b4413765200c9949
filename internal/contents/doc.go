// Package contents publishes shard documents to a write-once store.
//
// Two stores are provided: [GitHubStore] commits documents to a repository
// through the GitHub contents API and [BucketStore] writes objects to any
// gocloud bucket. [Publisher] sits on top of either and guarantees that a
// path, once written, is never overwritten.
package contents
