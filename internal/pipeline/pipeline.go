package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wolfv/repodata-tools/internal/contents"
	"github.com/wolfv/repodata-tools/internal/dispatch"
	"github.com/wolfv/repodata-tools/internal/indexer"
	"github.com/wolfv/repodata-tools/internal/metrics"
	"github.com/wolfv/repodata-tools/internal/release"
	"github.com/wolfv/repodata-tools/pkg/shard"
)

// ErrRelease is returned when the release or one of its assets cannot be
// created.
var ErrRelease = errors.New("pipeline: release failed")

// ShardAssetName is the release asset holding the shard document.
const ShardAssetName = "repodata_shard.json"

// ShardBuilder produces a shard and the local artifact it describes.
type ShardBuilder interface {
	Build(ctx context.Context, req indexer.Request, scratch string) (*shard.Shard, string, error)
}

// ReleaseStore finds or creates releases and attaches assets to them.
type ReleaseStore interface {
	GetOrCreate(ctx context.Context, subdir, pkg string) (*release.Release, error)
	Upload(ctx context.Context, rel *release.Release, path, contentType string) (release.Asset, error)
}

// ShardStore checks for and publishes shard documents.
type ShardStore interface {
	Exists(ctx context.Context, path string) (bool, error)
	Publish(ctx context.Context, sh *shard.Shard, path string) (contents.Result, error)
}

// Outcome summarizes a run.
type Outcome struct {
	ShardPath string

	// Exists is set when the shard was already stored before the run; no
	// other step was taken.
	Exists bool

	Tag         string
	ArtifactURL string
	ShardURL    string

	// Published is set when this run wrote the shard.
	Published bool
}

// Pipeline publishes one package: it builds the shard, mirrors the
// artifact and the shard into a release and stores the shard.
type Pipeline struct {
	Builder  ShardBuilder
	Releases ReleaseStore
	Shards   ShardStore
	Metrics  metrics.Metrics
	Logger   *zap.Logger

	// ScratchDir is where per-run temporary directories are created.
	// Defaults to os.TempDir().
	ScratchDir string
}

func (p *Pipeline) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

func (p *Pipeline) metrics() metrics.Metrics {
	if p.Metrics == nil {
		return metrics.Noop{}
	}
	return p.Metrics
}

// Run publishes the package described by payload. A shard that already
// exists ends the run successfully before anything else happens.
func (p *Pipeline) Run(ctx context.Context, payload dispatch.Payload) (out Outcome, err error) {
	m := p.metrics()
	defer func() {
		switch {
		case err != nil:
			m.IncRuns(metrics.OutcomeFailed)
		case out.Exists:
			m.IncRuns(metrics.OutcomeExists)
		case out.Published:
			m.IncRuns(metrics.OutcomePublished)
		default:
			m.IncRuns(metrics.OutcomeNoShard)
		}
	}()

	logger := p.logger().With(
		zap.String("subdir", payload.Subdir),
		zap.String("package", payload.Package),
	)
	out.ShardPath = shard.Path(payload.Subdir, payload.Package)

	exists, err := timed(m, "check", func() (bool, error) {
		return p.Shards.Exists(ctx, out.ShardPath)
	})
	if err != nil {
		return out, fmt.Errorf("check shard: %w", err)
	}
	logger.Info("checked shard", zap.String("path", out.ShardPath), zap.Bool("exists", exists))
	if exists {
		out.Exists = true
		logger.Info("shard already exists, nothing to publish")
		return out, nil
	}

	scratch, err := os.MkdirTemp(p.ScratchDir, "shardpub-*")
	if err != nil {
		return out, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	req := indexer.Request{
		Subdir:    payload.Subdir,
		Package:   payload.Package,
		Label:     payload.Label,
		Feedstock: payload.Feedstock,
		URL:       payload.URL,
		MD5:       payload.MD5,
	}
	type built struct {
		shard    *shard.Shard
		artifact string
	}
	b, err := timed(m, "build", func() (built, error) {
		sh, artifact, err := p.Builder.Build(ctx, req, scratch)
		return built{sh, artifact}, err
	})
	if err != nil {
		return out, fmt.Errorf("build shard: %w", err)
	}
	sh := b.shard

	rel, err := timed(m, "release", func() (*release.Release, error) {
		return p.Releases.GetOrCreate(ctx, payload.Subdir, payload.Package)
	})
	if err != nil {
		return out, fmt.Errorf("%w: %w", ErrRelease, err)
	}
	out.Tag = rel.Tag

	artifactAsset, err := p.upload(ctx, rel, b.artifact, ArtifactContentType(payload.Package))
	if err != nil {
		return out, err
	}
	out.ArtifactURL = artifactAsset.DownloadURL
	sh.SetURL(artifactAsset.DownloadURL)

	shardFile := filepath.Join(scratch, ShardAssetName)
	data, err := shard.Encode(sh)
	if err != nil {
		return out, err
	}
	if err := os.WriteFile(shardFile, data, 0o644); err != nil {
		return out, fmt.Errorf("write shard: %w", err)
	}
	shardAsset, err := p.upload(ctx, rel, shardFile, "application/json")
	if err != nil {
		return out, err
	}
	out.ShardURL = shardAsset.DownloadURL

	if !payload.AddShard {
		logger.Info("add_shard is false, not publishing shard")
		return out, nil
	}

	res, err := timed(m, "publish", func() (contents.Result, error) {
		return p.Shards.Publish(ctx, sh, out.ShardPath)
	})
	if err != nil {
		return out, fmt.Errorf("publish shard: %w", err)
	}
	out.Published = res.Published
	logger.Info("run complete",
		zap.String("tag", out.Tag),
		zap.String("artifact_url", out.ArtifactURL),
		zap.Bool("published", out.Published),
	)
	return out, nil
}

func (p *Pipeline) upload(ctx context.Context, rel *release.Release, path, contentType string) (release.Asset, error) {
	m := p.metrics()
	_, known := rel.Asset(filepath.Base(path))

	asset, err := timed(m, "upload", func() (release.Asset, error) {
		return p.Releases.Upload(ctx, rel, path, contentType)
	})
	if err != nil {
		return asset, fmt.Errorf("%w: upload %s: %w", ErrRelease, filepath.Base(path), err)
	}
	if known {
		m.IncAssetUploads(metrics.AssetSkipped)
	} else {
		m.IncAssetUploads(metrics.AssetUploaded)
	}
	return asset, nil
}

// ArtifactContentType is the media type artifacts are uploaded with.
func ArtifactContentType(pkg string) string {
	if strings.HasSuffix(pkg, ".conda") {
		return "application/zip"
	}
	return "application/x-bzip2"
}

func timed[T any](m metrics.Metrics, stage string, fn func() (T, error)) (T, error) {
	start := time.Now()
	v, err := fn()
	m.ObserveStage(stage, time.Since(start).Seconds())
	return v, err
}
