// Package config defines configuration structures for the shardpub CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (SHARDPUB_ prefix, plus GITHUB_TOKEN and
//     GITHUB_EVENT_PATH)
//   - YAML configuration file
//
// Flags override the environment, which overrides the file, which
// overrides [Default].
package config
