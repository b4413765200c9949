package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gocloud.dev/blob"

	"github.com/wolfv/repodata-tools/internal/metrics"
	"github.com/wolfv/repodata-tools/internal/progress"
	"github.com/wolfv/repodata-tools/pkg/shard"
)

type loadOptions struct {
	bucket   string
	subdir   string
	workers  int
	progress bool
	output   string
}

func newLoadCmd(g *globalOptions) *cobra.Command {
	o := &loadOptions{}
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load every shard of a subdir into one index",
		Long: `Read every shard document of a subdir from a bucket (for example a
file:// URL pointing at a checkout of the shard repository) and write the
index, keyed by <subdir>/<package>, as JSON. Any unreadable document fails
the whole load.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd.Context(), g, o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.bucket, "bucket", "", "bucket URL holding the shards (required)")
	f.StringVar(&o.subdir, "subdir", "", "subdir to load (required)")
	f.IntVar(&o.workers, "workers", 0, "parallel readers (default from config)")
	f.BoolVar(&o.progress, "progress", false, "report progress on stderr")
	f.StringVarP(&o.output, "output", "o", "-", `output file, "-" for stdout`)
	return cmd
}

func runLoad(ctx context.Context, g *globalOptions, o *loadOptions) error {
	if o.bucket == "" || o.subdir == "" {
		return usageError(fmt.Errorf("--bucket and --subdir are required"))
	}
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	workers := cfg.Workers
	if o.workers > 0 {
		workers = o.workers
	}

	logger, err := g.newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	bkt, err := blob.OpenBucket(ctx, o.bucket)
	if err != nil {
		return usageError(fmt.Errorf("open bucket: %w", err))
	}
	defer bkt.Close()

	opts := shard.LoadOptions{Workers: workers}
	if o.progress {
		keys, err := shard.List(ctx, bkt, o.subdir)
		if err != nil {
			return &exitError{code: ExitLoadFailed, err: err}
		}
		reporter := progress.NewReporter(progress.Options{
			Subdir:  o.subdir,
			Total:   len(keys),
			Workers: workers,
			Output:  g.stderr,
		})
		reporter.Start()
		defer reporter.Stop()
		opts.OnLoaded = reporter.Loaded
	}

	index, err := shard.LoadSubdir(ctx, bkt, o.subdir, opts)
	if err != nil {
		return &exitError{code: ExitLoadFailed, err: err}
	}
	logger.Info("loaded shards", zap.String("subdir", o.subdir), zap.Int("count", len(index)))
	if cfg.Pushgateway != "" {
		prom := metrics.NewProm("shardpub")
		prom.AddShardsLoaded(o.subdir, len(index))
		if err := prom.Push(cfg.Pushgateway, "shardpub_load", map[string]string{"subdir": o.subdir}); err != nil {
			logger.Warn("failed to push metrics", zap.Error(err))
		}
	}

	var w io.Writer = g.stdout
	if o.output != "-" {
		f, err := os.Create(o.output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(index); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}

func newValidateCmd(g *globalOptions) *cobra.Command {
	var bucket, subdir string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check that every shard of a subdir is well formed and correctly placed",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if bucket == "" || subdir == "" {
				return usageError(fmt.Errorf("--bucket and --subdir are required"))
			}
			if _, err := g.loadConfig(); err != nil {
				return err
			}
			ctx := cmd.Context()

			bkt, err := blob.OpenBucket(ctx, bucket)
			if err != nil {
				return usageError(fmt.Errorf("open bucket: %w", err))
			}
			defer bkt.Close()

			result, err := shard.Validate(ctx, bkt, subdir)
			if err != nil {
				return &exitError{code: ExitLoadFailed, err: err}
			}

			fmt.Fprintf(g.stdout, "Subdir: %s\n", subdir)
			fmt.Fprintf(g.stdout, "Shards: %d\n", result.ShardCount)
			if result.Valid {
				fmt.Fprintln(g.stdout, "Status: VALID")
				return nil
			}
			fmt.Fprintln(g.stdout, "Status: INVALID")
			fmt.Fprintf(g.stdout, "Malformed: %d\n", result.Malformed)
			fmt.Fprintf(g.stdout, "Misplaced: %d\n", result.Misplaced)
			for _, e := range result.Errors {
				fmt.Fprintf(g.stdout, "  - %s\n", e)
			}
			return &exitError{code: ExitValidationFailed, err: fmt.Errorf("%d of %d shards are invalid", result.Malformed+result.Misplaced, result.ShardCount)}
		},
	}
	cmd.Flags().StringVar(&bucket, "bucket", "", "bucket URL holding the shards (required)")
	cmd.Flags().StringVar(&subdir, "subdir", "", "subdir to validate (required)")
	return cmd
}
