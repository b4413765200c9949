package shard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
	"golang.org/x/sync/errgroup"
)

// ErrPartialLoad is returned by LoadSubdir when any document could not be
// read. No partial index is returned.
var ErrPartialLoad = errors.New("shard: partial load")

// DefaultWorkers is the number of parallel readers used by LoadSubdir.
const DefaultWorkers = 8

// shardPattern matches a document key relative to its subdir prefix.
var shardPattern = strings.Repeat("*/", Depth) + "*.json"

// LoadOptions configures LoadSubdir.
type LoadOptions struct {
	// Workers is the number of parallel readers. Default: 8
	Workers int

	// OnLoaded, if set, is called from worker goroutines after each document
	// is read. It must be safe for concurrent use.
	OnLoaded func(key string)
}

// List returns the keys of all shard documents of subdir, sorted. Only keys
// with exactly Depth hash directories are returned.
func List(ctx context.Context, bucket *blob.Bucket, subdir string) ([]string, error) {
	prefix := SubdirPrefix(subdir)
	iter := bucket.List(&blob.ListOptions{Prefix: prefix})

	var keys []string
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("shard: list %s: %w", prefix, err)
		}
		if obj.IsDir {
			continue
		}
		ok, err := doublestar.Match(shardPattern, strings.TrimPrefix(obj.Key, prefix))
		if err != nil {
			return nil, fmt.Errorf("shard: match %s: %w", obj.Key, err)
		}
		if ok {
			keys = append(keys, obj.Key)
		}
	}

	sort.Strings(keys)
	return keys, nil
}

// LoadSubdir reads every shard document of subdir and indexes them by
// "<subdir>/<package>". Documents are split into contiguous chunks, one per
// worker; each worker returns its own slice and the results are merged once
// all workers are done.
//
// Any unreadable or malformed document aborts the whole load with an error
// wrapping ErrPartialLoad.
func LoadSubdir(ctx context.Context, bucket *blob.Bucket, subdir string, opts LoadOptions) (map[string]*Shard, error) {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}

	keys, err := List(ctx, bucket, subdir)
	if err != nil {
		return nil, err
	}

	chunks := partition(keys, opts.Workers)
	results := make([][]*Shard, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		g.Go(func() error {
			shards, err := readChunk(gctx, bucket, chunk, opts.OnLoaded)
			if err != nil {
				return err
			}
			results[i] = shards
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, r := range results {
		total += len(r)
	}
	if total != len(keys) {
		return nil, fmt.Errorf("%w: read %d of %d documents", ErrPartialLoad, total, len(keys))
	}

	index := make(map[string]*Shard, total)
	for _, r := range results {
		for _, s := range r {
			index[s.Key()] = s
		}
	}
	return index, nil
}

// Read loads a single shard document.
func Read(ctx context.Context, bucket *blob.Bucket, key string) (*Shard, error) {
	data, err := bucket.ReadAll(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("shard: read %s: %w", key, err)
	}
	s, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return s, nil
}

func readChunk(ctx context.Context, bucket *blob.Bucket, keys []string, onLoaded func(string)) ([]*Shard, error) {
	shards := make([]*Shard, 0, len(keys))
	for _, key := range keys {
		s, err := Read(ctx, bucket, key)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPartialLoad, err)
		}
		shards = append(shards, s)
		if onLoaded != nil {
			onLoaded(key)
		}
	}
	return shards, nil
}

// partition splits keys into at most n contiguous chunks of near-equal size.
func partition(keys []string, n int) [][]string {
	if len(keys) == 0 {
		return nil
	}
	size := (len(keys) + n - 1) / n

	chunks := make([][]string, 0, n)
	for start := 0; start < len(keys); start += size {
		end := min(start+size, len(keys))
		chunks = append(chunks, keys[start:end])
	}
	return chunks
}

// isNotExist returns true if the error indicates the object doesn't exist.
func isNotExist(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}
