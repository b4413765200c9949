package contents

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/wolfv/repodata-tools/pkg/shard"
)

// CommitMessage is the message recorded with every published shard. The
// markers keep CI on the shard repository from running.
func CommitMessage(subdir, pkg string) string {
	return fmt.Sprintf("[ci skip] [skip ci] [cf admin skip] ***NO_CI*** added %s/%s", subdir, pkg)
}

// Result describes the outcome of Publish.
type Result struct {
	Path      string
	Published bool // false when the shard was already stored
}

// Publisher writes shards to a Store exactly once. Transient failures are
// retried by the store's transport, not here.
type Publisher struct {
	store  Store
	logger *zap.Logger
}

// NewPublisher returns a Publisher writing to store.
func NewPublisher(store Store, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{store: store, logger: logger}
}

// Exists reports whether a shard is stored at path.
func (p *Publisher) Exists(ctx context.Context, path string) (bool, error) {
	return p.store.Exists(ctx, path)
}

// Publish stores sh at path unless something is already there. Losing a
// create race to another writer counts as success.
func (p *Publisher) Publish(ctx context.Context, sh *shard.Shard, path string) (Result, error) {
	res := Result{Path: path}

	ok, err := p.store.Exists(ctx, path)
	if err != nil {
		return res, err
	}
	if ok {
		p.logger.Info("shard already published", zap.String("path", path))
		return res, nil
	}

	data, err := shard.Encode(sh)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrPublish, err)
	}

	err = p.store.Create(ctx, path, data, CommitMessage(sh.Subdir, sh.Package))
	switch {
	case err == nil:
		res.Published = true
		p.logger.Info("published shard", zap.String("path", path), zap.Int("bytes", len(data)))
		return res, nil
	case errors.Is(err, ErrExists):
		p.logger.Info("shard published concurrently", zap.String("path", path))
		return res, nil
	default:
		return res, fmt.Errorf("%w: %s: %w", ErrPublish, path, err)
	}
}
