// Package logging builds the zap loggers used by the shardpub commands.
package logging
