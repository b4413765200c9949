// Package release mirrors package artifacts and their shards into GitHub
// releases.
//
// Every package gets a release tagged <subdir>/<package>. The tag points at
// a commit supplied by a [CommitProducer], normally an empty commit pushed
// to the releases repository by [GitCommitter]. Assets are identified by
// base file name and uploaded at most once per release.
package release
