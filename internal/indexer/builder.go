package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/wolfv/repodata-tools/internal/downloader"
	rdhttp "github.com/wolfv/repodata-tools/internal/http"
	"github.com/wolfv/repodata-tools/internal/retry"
	"github.com/wolfv/repodata-tools/internal/runner"
	"github.com/wolfv/repodata-tools/pkg/shard"
)

var (
	// ErrDownload is returned when the artifact cannot be fetched.
	ErrDownload = downloader.ErrDownload

	// ErrChecksumMismatch is returned when the artifact does not match the
	// md5 from the dispatch event. It is never retried.
	ErrChecksumMismatch = downloader.ErrChecksumMismatch

	// ErrIndexing is returned when the indexing tool exits non-zero or
	// cannot be started.
	ErrIndexing = errors.New("indexer: indexing tool failed")

	// ErrMalformedOutput is returned when the indexing tool's output lacks
	// the records for the package.
	ErrMalformedOutput = errors.New("indexer: malformed indexer output")
)

// DefaultCommand is the indexing tool invocation. The scratch directory is
// appended as the last argument.
var DefaultCommand = []string{"conda", "index", "--no-progress"}

// Request identifies the artifact to build a shard for.
type Request struct {
	Subdir    string
	Package   string
	Label     string
	Feedstock string
	URL       string
	MD5       string // optional; verified when set
}

// Builder downloads artifacts, runs the indexing tool over them and turns
// its output into shards.
type Builder struct {
	Client  *rdhttp.Client
	Runner  runner.Runner
	Command []string
	Retry   retry.Policy
	Logger  *zap.Logger
}

// NewBuilder returns a Builder with the default indexing command.
func NewBuilder(client *rdhttp.Client, r runner.Runner, policy retry.Policy, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		Client:  client,
		Runner:  r,
		Command: DefaultCommand,
		Retry:   policy,
		Logger:  logger,
	}
}

// ArtifactPath is where Build stores the downloaded artifact.
func ArtifactPath(scratch string, req Request) string {
	return filepath.Join(scratch, req.Subdir, req.Package)
}

// Build produces the shard for req using scratch as the channel directory.
// It returns the shard and the path of the downloaded artifact.
func (b *Builder) Build(ctx context.Context, req Request, scratch string) (*shard.Shard, string, error) {
	for _, dir := range []string{"noarch", req.Subdir} {
		if err := os.MkdirAll(filepath.Join(scratch, dir), 0o755); err != nil {
			return nil, "", fmt.Errorf("indexer: prepare channel dir: %w", err)
		}
	}

	artifact := ArtifactPath(scratch, req)
	digests, err := downloader.Fetch(ctx, b.Client, req.URL, artifact)
	if err != nil {
		return nil, "", err
	}
	b.Logger.Info("downloaded artifact",
		zap.String("url", req.URL),
		zap.Int64("size", digests.Size),
		zap.String("md5", digests.MD5),
	)

	if req.MD5 != "" {
		if err := downloader.VerifyMD5(digests, req.MD5); err != nil {
			return nil, "", err
		}
	}

	if err := b.index(ctx, scratch); err != nil {
		return nil, "", err
	}

	s, err := assemble(scratch, req)
	if err != nil {
		return nil, "", err
	}
	return s, artifact, nil
}

// index runs the indexing tool over dir, retrying failed runs.
func (b *Builder) index(ctx context.Context, dir string) error {
	command := b.Command
	if len(command) == 0 {
		command = DefaultCommand
	}
	cmd := runner.Command{Args: append(slices.Clone(command), dir)}

	return retry.Do(ctx, b.Retry, func() error {
		res, err := b.Runner.Run(ctx, cmd)
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrIndexing, err)
			if errors.Is(err, exec.ErrNotFound) || ctx.Err() != nil {
				return retry.Permanent(err)
			}
			return err
		}
		if res.ExitCode != 0 {
			b.Logger.Warn("indexing tool failed",
				zap.Stringer("cmd", cmd),
				zap.Int("exit_code", res.ExitCode),
				zap.ByteString("stderr", tail(res.Stderr, 2048)),
			)
			return fmt.Errorf("%w: %s exited with %d: %s",
				ErrIndexing, cmd, res.ExitCode, strings.TrimSpace(string(tail(res.Stderr, 512))))
		}
		return nil
	})
}

func tail(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[len(b)-n:]
}
