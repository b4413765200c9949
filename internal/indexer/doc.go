// Package indexer builds repodata shards for single package artifacts.
//
// [Builder.Build] lays out a throwaway channel directory, downloads the
// artifact into <scratch>/<subdir>/<package>, verifies its md5, runs the
// indexing tool (conda index by default) over the directory and extracts
// the package's entries from channeldata.json and <subdir>/repodata.json.
//
// Download and indexing failures are retried; checksum mismatches and
// malformed tool output are not.
package indexer
