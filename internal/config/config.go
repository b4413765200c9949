package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines configuration for the shardpub CLI.
type Config struct {
	Token        string      `yaml:"token"`
	APIRoot      string      `yaml:"api_root"`
	UploadRoot   string      `yaml:"upload_root"`
	ShardsRepo   string      `yaml:"shards_repo"`
	ReleasesRepo string      `yaml:"releases_repo"`
	LinksRepo    string      `yaml:"links_repo"`
	Branch       string      `yaml:"branch"`
	Store        string      `yaml:"store"`
	Checkout     string      `yaml:"checkout"`
	MakeCommit   bool        `yaml:"make_commit"`
	GitName      string      `yaml:"git_name"`
	GitEmail     string      `yaml:"git_email"`
	Indexer      []string    `yaml:"indexer"`
	ScratchDir   string      `yaml:"scratch_dir"`
	EventPath    string      `yaml:"event_path"`
	Workers      int         `yaml:"workers"`
	LogLevel     string      `yaml:"log_level"`
	LogFormat    string      `yaml:"log_format"`
	Pushgateway  string      `yaml:"pushgateway"`
	Retry        RetryConfig `yaml:"retry"`
}

// RetryConfig defines retry behavior.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// StoreGitHub selects the GitHub contents API as shard store. Any other
// store value is a gocloud bucket URL.
const StoreGitHub = "github"

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		APIRoot:      "https://api.github.com/",
		UploadRoot:   "https://uploads.github.com/",
		ShardsRepo:   "regro/repodata-shards",
		ReleasesRepo: "regro/releases",
		LinksRepo:    "regro/repodata",
		Branch:       "master",
		Store:        StoreGitHub,
		Checkout:     ".",
		MakeCommit:   true,
		GitName:      "conda-forge-daemon",
		GitEmail:     "64793534+conda-forge-daemon@users.noreply.github.com",
		Indexer:      []string{"conda", "index", "--no-progress"},
		Workers:      8,
		LogLevel:     "info",
		LogFormat:    "console",
		Retry: RetryConfig{
			Attempts:   10,
			Backoff:    time.Second,
			MaxBackoff: 60 * time.Second,
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string durations and an
// optional make_commit.
type yamlConfig struct {
	APIRoot      string          `yaml:"api_root"`
	UploadRoot   string          `yaml:"upload_root"`
	ShardsRepo   string          `yaml:"shards_repo"`
	ReleasesRepo string          `yaml:"releases_repo"`
	LinksRepo    string          `yaml:"links_repo"`
	Branch       string          `yaml:"branch"`
	Store        string          `yaml:"store"`
	Checkout     string          `yaml:"checkout"`
	MakeCommit   *bool           `yaml:"make_commit"`
	GitName      string          `yaml:"git_name"`
	GitEmail     string          `yaml:"git_email"`
	Indexer      []string        `yaml:"indexer"`
	ScratchDir   string          `yaml:"scratch_dir"`
	Workers      int             `yaml:"workers"`
	LogLevel     string          `yaml:"log_level"`
	LogFormat    string          `yaml:"log_format"`
	Pushgateway  string          `yaml:"pushgateway"`
	Retry        yamlRetryConfig `yaml:"retry"`
}

type yamlRetryConfig struct {
	Attempts   int    `yaml:"attempts"`
	Backoff    string `yaml:"backoff"`
	MaxBackoff string `yaml:"max_backoff"`
}

// LoadFromFile loads configuration from a YAML file on top of the
// defaults. Tokens are never read from files.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	override := Config{
		APIRoot:      yc.APIRoot,
		UploadRoot:   yc.UploadRoot,
		ShardsRepo:   yc.ShardsRepo,
		ReleasesRepo: yc.ReleasesRepo,
		LinksRepo:    yc.LinksRepo,
		Branch:       yc.Branch,
		Store:        yc.Store,
		Checkout:     yc.Checkout,
		GitName:      yc.GitName,
		GitEmail:     yc.GitEmail,
		Indexer:      yc.Indexer,
		ScratchDir:   yc.ScratchDir,
		Workers:      yc.Workers,
		LogLevel:     yc.LogLevel,
		LogFormat:    yc.LogFormat,
		Pushgateway:  yc.Pushgateway,
		Retry:        RetryConfig{Attempts: yc.Retry.Attempts},
	}
	if yc.Retry.Backoff != "" {
		d, err := time.ParseDuration(yc.Retry.Backoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.backoff: %w", err)
		}
		override.Retry.Backoff = d
	}
	if yc.Retry.MaxBackoff != "" {
		d, err := time.ParseDuration(yc.Retry.MaxBackoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.max_backoff: %w", err)
		}
		override.Retry.MaxBackoff = d
	}

	cfg := Default().Merge(override)
	if yc.MakeCommit != nil {
		cfg.MakeCommit = *yc.MakeCommit
	}
	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the SHARDPUB_ prefix; GITHUB_TOKEN and
// GITHUB_EVENT_PATH, as set by GitHub Actions, are honored too.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		c.Token = v
	}
	if v := os.Getenv("GITHUB_EVENT_PATH"); v != "" {
		c.EventPath = v
	}

	strs := map[string]*string{
		"SHARDPUB_TOKEN":         &c.Token,
		"SHARDPUB_API_ROOT":      &c.APIRoot,
		"SHARDPUB_UPLOAD_ROOT":   &c.UploadRoot,
		"SHARDPUB_SHARDS_REPO":   &c.ShardsRepo,
		"SHARDPUB_RELEASES_REPO": &c.ReleasesRepo,
		"SHARDPUB_LINKS_REPO":    &c.LinksRepo,
		"SHARDPUB_BRANCH":        &c.Branch,
		"SHARDPUB_STORE":         &c.Store,
		"SHARDPUB_CHECKOUT":      &c.Checkout,
		"SHARDPUB_GIT_NAME":      &c.GitName,
		"SHARDPUB_GIT_EMAIL":     &c.GitEmail,
		"SHARDPUB_SCRATCH_DIR":   &c.ScratchDir,
		"SHARDPUB_EVENT_PATH":    &c.EventPath,
		"SHARDPUB_LOG_LEVEL":     &c.LogLevel,
		"SHARDPUB_LOG_FORMAT":    &c.LogFormat,
		"SHARDPUB_PUSHGATEWAY":   &c.Pushgateway,
	}
	for name, field := range strs {
		if v := os.Getenv(name); v != "" {
			*field = v
		}
	}

	if v := os.Getenv("SHARDPUB_INDEXER"); v != "" {
		c.Indexer = strings.Fields(v)
	}
	if v := os.Getenv("SHARDPUB_MAKE_COMMIT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse SHARDPUB_MAKE_COMMIT: %w", err)
		}
		c.MakeCommit = b
	}
	if v := os.Getenv("SHARDPUB_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse SHARDPUB_WORKERS: %w", err)
		}
		c.Workers = n
	}
	if v := os.Getenv("SHARDPUB_RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse SHARDPUB_RETRY_ATTEMPTS: %w", err)
		}
		c.Retry.Attempts = n
	}
	if v := os.Getenv("SHARDPUB_RETRY_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse SHARDPUB_RETRY_BACKOFF: %w", err)
		}
		c.Retry.Backoff = d
	}
	if v := os.Getenv("SHARDPUB_RETRY_MAX_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse SHARDPUB_RETRY_MAX_BACKOFF: %w", err)
		}
		c.Retry.MaxBackoff = d
	}

	return nil
}

// Validate checks the settings every command relies on. Publishing needs
// more; see ValidatePublish.
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return errors.New("config: workers must be positive")
	}
	if c.Retry.Attempts <= 0 {
		return errors.New("config: retry.attempts must be positive")
	}
	if c.Retry.Backoff < 0 || c.Retry.MaxBackoff < 0 {
		return errors.New("config: retry backoff must not be negative")
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("config: unknown log_format %q", c.LogFormat)
	}
	return nil
}

// ValidatePublish checks the settings needed to publish a package.
func (c *Config) ValidatePublish() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Token == "" {
		return errors.New("config: token is required (set GITHUB_TOKEN)")
	}
	if c.ReleasesRepo == "" {
		return errors.New("config: releases_repo is required")
	}
	if c.Store == "" {
		return errors.New("config: store is required")
	}
	if c.Store == StoreGitHub && c.ShardsRepo == "" {
		return errors.New("config: shards_repo is required for the github store")
	}
	if c.Branch == "" {
		return errors.New("config: branch is required")
	}
	if len(c.Indexer) == 0 {
		return errors.New("config: indexer command is required")
	}
	if c.MakeCommit && c.Checkout == "" {
		return errors.New("config: checkout is required when make_commit is set")
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored; MakeCommit is never merged.
func (c Config) Merge(override Config) Config {
	strs := []struct{ dst, src *string }{
		{&c.Token, &override.Token},
		{&c.APIRoot, &override.APIRoot},
		{&c.UploadRoot, &override.UploadRoot},
		{&c.ShardsRepo, &override.ShardsRepo},
		{&c.ReleasesRepo, &override.ReleasesRepo},
		{&c.LinksRepo, &override.LinksRepo},
		{&c.Branch, &override.Branch},
		{&c.Store, &override.Store},
		{&c.Checkout, &override.Checkout},
		{&c.GitName, &override.GitName},
		{&c.GitEmail, &override.GitEmail},
		{&c.ScratchDir, &override.ScratchDir},
		{&c.EventPath, &override.EventPath},
		{&c.LogLevel, &override.LogLevel},
		{&c.LogFormat, &override.LogFormat},
		{&c.Pushgateway, &override.Pushgateway},
	}
	for _, s := range strs {
		if *s.src != "" {
			*s.dst = *s.src
		}
	}

	if len(override.Indexer) > 0 {
		c.Indexer = append([]string(nil), override.Indexer...)
	}
	if override.Workers != 0 {
		c.Workers = override.Workers
	}
	if override.Retry.Attempts != 0 {
		c.Retry.Attempts = override.Retry.Attempts
	}
	if override.Retry.Backoff != 0 {
		c.Retry.Backoff = override.Retry.Backoff
	}
	if override.Retry.MaxBackoff != 0 {
		c.Retry.MaxBackoff = override.Retry.MaxBackoff
	}
	return c
}
