package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/wolfv/repodata-tools/internal/config"
	"github.com/wolfv/repodata-tools/internal/contents"
	"github.com/wolfv/repodata-tools/internal/dispatch"
	"github.com/wolfv/repodata-tools/internal/indexer"
	"github.com/wolfv/repodata-tools/internal/logging"
	"github.com/wolfv/repodata-tools/internal/pipeline"
	"github.com/wolfv/repodata-tools/pkg/shard"
)

// Exit codes
const (
	ExitSuccess          = 0
	ExitGeneralError     = 1
	ExitInvalidArgs      = 2
	ExitInvalidEvent     = 3
	ExitDownloadFailed   = 4
	ExitChecksumMismatch = 5
	ExitIndexingFailed   = 6
	ExitStoreError       = 7
	ExitReleaseError     = 8
	ExitValidationFailed = 9
	ExitLoadFailed       = 10
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\n[shardpub] Received interrupt, shutting down...")
		cancel()
	}()

	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

// exitError carries an exit code through cobra's RunE.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit status %d", e.code)
}

func (e *exitError) Unwrap() error {
	return e.err
}

func usageError(err error) error {
	return &exitError{code: ExitInvalidArgs, err: err}
}

// globalOptions holds the persistent flags.
type globalOptions struct {
	configFile string
	logLevel   string
	logFormat  string
	stdout     io.Writer
	stderr     io.Writer
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return exitCode(err)
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOptions{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "shardpub",
		Short: "Publish repodata shards for conda packages",
		Long: `shardpub builds a repodata shard for a freshly uploaded package artifact,
mirrors the artifact and its shard into a GitHub release and stores the shard
in the shard repository. It is meant to run from GitHub Actions on repository
dispatch events, but every step can also be driven by hand.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usageError(fmt.Errorf("unknown command %q", args[0]))
			}
			cmd.Help()
			return usageError(errors.New("a command is required"))
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configFile, "config", "", "YAML config file")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&opts.logFormat, "log-format", "", "log format (console, json)")

	root.AddCommand(
		newPublishCmd(opts),
		newPathCmd(opts),
		newLoadCmd(opts),
		newValidateCmd(opts),
		newLinksCmd(opts),
	)
	return root
}

// loadConfig layers the config file, the environment and the global flags
// over the defaults.
func (o *globalOptions) loadConfig() (config.Config, error) {
	cfg := config.Default()
	if o.configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(o.configFile)
		if err != nil {
			return cfg, usageError(err)
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return cfg, usageError(err)
	}
	cfg = cfg.Merge(config.Config{LogLevel: o.logLevel, LogFormat: o.logFormat})
	if err := cfg.Validate(); err != nil {
		return cfg, usageError(err)
	}
	return cfg, nil
}

func (o *globalOptions) newLogger(cfg config.Config) (*zap.Logger, error) {
	logger, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: o.stderr,
	})
	if err != nil {
		return nil, usageError(err)
	}
	return logger, nil
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return usageError(fmt.Errorf("%s expects %d arguments, got %d", cmd.Name(), n, len(args)))
		}
		return nil
	}
}

// exitCode maps an error to the exit code table.
func exitCode(err error) int {
	var exitErr *exitError
	switch {
	case errors.As(err, &exitErr):
		return exitErr.code
	case errors.Is(err, dispatch.ErrNotRelease), errors.Is(err, dispatch.ErrInvalidPayload):
		return ExitInvalidEvent
	case errors.Is(err, indexer.ErrChecksumMismatch):
		return ExitChecksumMismatch
	case errors.Is(err, indexer.ErrDownload):
		return ExitDownloadFailed
	case errors.Is(err, indexer.ErrIndexing), errors.Is(err, indexer.ErrMalformedOutput):
		return ExitIndexingFailed
	case errors.Is(err, pipeline.ErrRelease):
		return ExitReleaseError
	case errors.Is(err, contents.ErrStoreUnavailable), errors.Is(err, contents.ErrPublish):
		return ExitStoreError
	case errors.Is(err, shard.ErrPartialLoad):
		return ExitLoadFailed
	default:
		return ExitGeneralError
	}
}
