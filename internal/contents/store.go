package contents

import (
	"context"
	"errors"
)

var (
	// ErrExists is returned by Store.Create when the path is already taken.
	ErrExists = errors.New("contents: path already exists")

	// ErrStoreUnavailable is returned when the store cannot answer after
	// retries.
	ErrStoreUnavailable = errors.New("contents: store unavailable")

	// ErrPublish is returned when a shard cannot be written.
	ErrPublish = errors.New("contents: publish failed")
)

// Store is a write-once document store addressed by slash-separated paths.
type Store interface {
	// Exists reports whether a document is stored at path.
	Exists(ctx context.Context, path string) (bool, error)

	// Create stores data at path. It returns ErrExists if path is taken and
	// never overwrites.
	Create(ctx context.Context, path string, data []byte, message string) error
}
