package shard

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"unicode"
)

const (
	// Root is the top-level directory of the shard tree.
	Root = "shards"

	// Depth is the number of hash-prefix directory levels.
	Depth = 3

	legacyDepth = 12
)

// Path returns the storage path of the shard for pkg in subdir:
//
//	shards/<subdir>/<h0>/<h1>/<h2>/<pkg>.json
//
// where h0..h2 are the first hex characters of SHA-1(pkg). Paths always use
// forward slashes.
func Path(subdir, pkg string) string {
	sum := sha1.Sum([]byte(pkg))
	prefix := hex.EncodeToString(sum[:])[:Depth]

	parts := make([]string, 0, Depth+3)
	parts = append(parts, Root, subdir)
	for i := 0; i < Depth; i++ {
		parts = append(parts, prefix[i:i+1])
	}
	parts = append(parts, pkg+".json")
	return strings.Join(parts, "/")
}

// LegacyPath returns the path used by the first shard layout, one directory
// per alphanumeric character of the package name, padded with "z".
// It is only used to recognise old documents.
func LegacyPath(subdir, pkg string) string {
	var chars []string
	for _, r := range pkg {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			chars = append(chars, string(r))
		}
	}
	for len(chars) < legacyDepth {
		chars = append(chars, "z")
	}

	parts := make([]string, 0, legacyDepth+3)
	parts = append(parts, Root, subdir)
	parts = append(parts, chars[:legacyDepth]...)
	parts = append(parts, pkg+".json")
	return strings.Join(parts, "/")
}

// SubdirPrefix returns the key prefix under which all shards of subdir live.
func SubdirPrefix(subdir string) string {
	return Root + "/" + subdir + "/"
}
