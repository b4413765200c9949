// Package shard defines repodata shards and how they are laid out in a
// git-backed shard tree.
//
// A shard is a small JSON document describing one package artifact: its
// repodata record, its channeldata record, the labels it was published under
// and where the artifact can be downloaded. Documents are addressed by a
// path derived only from the subdir and package filename, so a writer can
// check for a document before creating it without any locking.
//
// # Storage Layout
//
//	shards/{subdir}/{h0}/{h1}/{h2}/{package}.json
//
// where h0..h2 are the first three hex characters of SHA-1({package}).
// See [Path]. Documents written under the first layout can be located with
// [LegacyPath].
//
// # Document Format
//
//	{
//	  "channeldata": {...},
//	  "channeldata_version": 1,
//	  "feedstock": "foo-feedstock",
//	  "labels": ["main"],
//	  "package": "foo-1.0-0.tar.bz2",
//	  "repodata": {...},
//	  "repodata_version": 1,
//	  "subdir": "linux-64",
//	  "url": "https://github.com/.../foo-1.0-0.tar.bz2"
//	}
//
// [Encode] always produces this byte-for-byte form (sorted keys, two-space
// indentation) so that commits of the shard tree diff cleanly.
//
// # Reading
//
// Use [LoadSubdir] to read all documents of a subdir from any
// gocloud.dev/blob bucket, typically a fileblob bucket over a local checkout
// of the shard repository. [Validate] reports misplaced or malformed
// documents without failing.
package shard
