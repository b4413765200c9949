package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wolfv/repodata-tools/internal/config"
	"github.com/wolfv/repodata-tools/internal/contents"
	"github.com/wolfv/repodata-tools/internal/dispatch"
	rdhttp "github.com/wolfv/repodata-tools/internal/http"
	"github.com/wolfv/repodata-tools/internal/indexer"
	"github.com/wolfv/repodata-tools/internal/logging"
	"github.com/wolfv/repodata-tools/internal/metrics"
	"github.com/wolfv/repodata-tools/internal/pipeline"
	"github.com/wolfv/repodata-tools/internal/release"
	"github.com/wolfv/repodata-tools/internal/retry"
	"github.com/wolfv/repodata-tools/internal/runner"
)

type publishOptions struct {
	event        string
	subdir       string
	pkg          string
	url          string
	label        string
	feedstock    string
	md5          string
	noShard      bool
	store        string
	checkout     string
	noCommit     bool
	releasesRepo string
	shardsRepo   string
}

func newPublishCmd(g *globalOptions) *cobra.Command {
	o := &publishOptions{}
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Build, release and store the shard of one package",
		Long: `Build the repodata shard of a package artifact, attach the artifact and the
shard to the release <subdir>/<package> and store the shard in the shard
repository. Exits successfully without doing anything if the shard is already
stored.

The package is read from the dispatch event at --event (default
$GITHUB_EVENT_PATH) unless --package is given.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(cmd.Context(), g, o)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.event, "event", "", "repository dispatch event file")
	f.StringVar(&o.subdir, "subdir", "", "package subdir, e.g. linux-64")
	f.StringVar(&o.pkg, "package", "", "package file name")
	f.StringVar(&o.url, "url", "", "artifact download url")
	f.StringVar(&o.label, "label", "main", "channel label")
	f.StringVar(&o.feedstock, "feedstock", "", "feedstock the package was built by")
	f.StringVar(&o.md5, "md5", "", "expected md5 of the artifact")
	f.BoolVar(&o.noShard, "no-shard", false, "upload release assets but do not store the shard")
	f.StringVar(&o.store, "store", "", `shard store: "github" or a bucket url`)
	f.StringVar(&o.checkout, "checkout", "", "local checkout of the releases repository")
	f.BoolVar(&o.noCommit, "no-commit", false, "tag the checkout's HEAD instead of pushing a new commit")
	f.StringVar(&o.releasesRepo, "releases-repo", "", "owner/name of the releases repository")
	f.StringVar(&o.shardsRepo, "shards-repo", "", "owner/name of the shard repository")
	return cmd
}

func (o *publishOptions) payload(cfg config.Config) (*dispatch.Payload, error) {
	if o.pkg != "" {
		p := &dispatch.Payload{
			Subdir:    o.subdir,
			Package:   o.pkg,
			URL:       o.url,
			Label:     o.label,
			Feedstock: o.feedstock,
			AddShard:  !o.noShard,
			MD5:       o.md5,
		}
		if err := p.Validate(); err != nil {
			return nil, usageError(err)
		}
		return p, nil
	}

	path := o.event
	if path == "" {
		path = cfg.EventPath
	}
	if path == "" {
		return nil, usageError(errors.New("no event: pass --event, set GITHUB_EVENT_PATH or use --package"))
	}
	p, err := dispatch.Load(path)
	if err != nil {
		return nil, err
	}
	if o.noShard {
		p.AddShard = false
	}
	return p, nil
}

func runPublish(ctx context.Context, g *globalOptions, o *publishOptions) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	cfg = cfg.Merge(config.Config{
		Store:        o.store,
		Checkout:     o.checkout,
		ReleasesRepo: o.releasesRepo,
		ShardsRepo:   o.shardsRepo,
	})
	if o.noCommit {
		cfg.MakeCommit = false
	}
	if err := cfg.ValidatePublish(); err != nil {
		return usageError(err)
	}

	payload, err := o.payload(cfg)
	if err != nil {
		return err
	}

	base, err := g.newLogger(cfg)
	if err != nil {
		return err
	}
	defer base.Sync()
	logger, runID := logging.WithRunID(base)

	var m metrics.Metrics = metrics.Noop{}
	var prom *metrics.Prom
	if cfg.Pushgateway != "" {
		prom = metrics.NewProm("shardpub")
		m = prom
	}

	p, closeFn, err := newPipeline(ctx, cfg, logger, m)
	if err != nil {
		return err
	}
	defer closeFn()

	logger.Info("publishing package",
		zap.String("subdir", payload.Subdir),
		zap.String("package", payload.Package),
		zap.String("url", payload.URL),
		zap.Bool("add_shard", payload.AddShard),
	)
	out, err := p.Run(ctx, *payload)

	if prom != nil {
		grouping := map[string]string{"run_id": runID, "subdir": payload.Subdir}
		if perr := prom.Push(cfg.Pushgateway, "shardpub", grouping); perr != nil {
			logger.Warn("failed to push metrics", zap.Error(perr))
		}
	}
	if err != nil {
		return err
	}

	switch {
	case out.Exists:
		fmt.Fprintf(g.stdout, "shard already exists: %s\n", out.ShardPath)
	case out.Published:
		fmt.Fprintf(g.stdout, "published %s\n", out.ShardPath)
	case payload.AddShard:
		fmt.Fprintf(g.stdout, "shard %s was stored by a concurrent run\n", out.ShardPath)
	default:
		fmt.Fprintf(g.stdout, "released %s without storing the shard\n", out.Tag)
	}
	return nil
}

// newPipeline wires the publishing components from cfg. The returned
// function releases the shard store.
func newPipeline(ctx context.Context, cfg config.Config, logger *zap.Logger, m metrics.Metrics) (*pipeline.Pipeline, func(), error) {
	policy := retry.Policy{
		Attempts:   cfg.Retry.Attempts,
		Backoff:    cfg.Retry.Backoff,
		MaxBackoff: cfg.Retry.MaxBackoff,
	}

	apiOpts := rdhttp.DefaultOptions()
	apiOpts.Token = cfg.Token
	apiOpts.Retry = policy
	api := rdhttp.NewClient(apiOpts)

	// Artifacts live on third-party hosts; never send them the token.
	dlOpts := rdhttp.DefaultOptions()
	dlOpts.Retry = policy
	downloads := rdhttp.NewClient(dlOpts)

	closeFn := func() {}
	var store contents.Store
	if cfg.Store == config.StoreGitHub {
		store = contents.NewGitHubStore(api, contents.GitHubOptions{
			APIRoot: cfg.APIRoot,
			Repo:    cfg.ShardsRepo,
			Branch:  cfg.Branch,
			Logger:  logger,
		})
	} else {
		bs, closeBucket, err := contents.OpenBucketStore(ctx, cfg.Store)
		if err != nil {
			return nil, nil, usageError(err)
		}
		store = bs
		closeFn = func() { closeBucket() }
	}

	gh, err := release.NewGitHubClient(api.HTTPClient(), cfg.Token, cfg.APIRoot, cfg.UploadRoot)
	if err != nil {
		closeFn()
		return nil, nil, usageError(err)
	}
	committer := &release.GitCommitter{
		Dir:        cfg.Checkout,
		MakeCommit: cfg.MakeCommit,
		Identity:   release.Identity{Name: cfg.GitName, Email: cfg.GitEmail},
		Auth:       release.TokenAuth(cfg.Token),
		Retry:      policy,
		Logger:     logger,
	}
	releases, err := release.NewManager(gh, release.Options{
		Repo:    cfg.ReleasesRepo,
		Commits: committer,
		Retry:   policy,
		Logger:  logger,
	})
	if err != nil {
		closeFn()
		return nil, nil, usageError(err)
	}

	builder := indexer.NewBuilder(downloads, runner.NewExec(logger), policy, logger)
	builder.Command = cfg.Indexer

	return &pipeline.Pipeline{
		Builder:    builder,
		Releases:   releases,
		Shards:     contents.NewPublisher(store, logger),
		Metrics:    m,
		Logger:     logger,
		ScratchDir: cfg.ScratchDir,
	}, closeFn, nil
}
