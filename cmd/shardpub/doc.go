// Command shardpub publishes repodata shards for conda packages.
//
// Usage:
//
//	shardpub publish [--event FILE | --subdir S --package P --url U] [options]
//	shardpub path SUBDIR PACKAGE [--legacy]
//	shardpub load --bucket URL --subdir S [--workers N] [--progress]
//	shardpub validate --bucket URL --subdir S
//	shardpub links [KEY]
//
// Exit codes:
//
//	0  success
//	1  general error
//	2  invalid arguments or configuration
//	3  invalid dispatch event
//	4  artifact download failed
//	5  checksum mismatch
//	6  indexing failed
//	7  shard store error
//	8  release error
//	9  validation failed
//	10 load failed
package main
