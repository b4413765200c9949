package contents

import (
	"context"
	"fmt"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// BucketStore stores documents as objects in a gocloud bucket. The
// existence check and the write are separate calls, so two writers racing
// on one path both succeed and the second write wins with identical bytes.
type BucketStore struct {
	bucket *blob.Bucket
}

// NewBucketStore wraps an open bucket. The caller owns the bucket.
func NewBucketStore(bucket *blob.Bucket) *BucketStore {
	return &BucketStore{bucket: bucket}
}

// OpenBucketStore opens the bucket at url (file://, mem://, s3://, gs://).
func OpenBucketStore(ctx context.Context, url string) (*BucketStore, func() error, error) {
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("open bucket: %w", err)
	}
	return NewBucketStore(bucket), bucket.Close, nil
}

// Bucket returns the underlying bucket.
func (s *BucketStore) Bucket() *blob.Bucket {
	return s.bucket
}

func (s *BucketStore) Exists(ctx context.Context, path string) (bool, error) {
	ok, err := s.bucket.Exists(ctx, path)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, path, err)
	}
	return ok, nil
}

func (s *BucketStore) Create(ctx context.Context, path string, data []byte, message string) error {
	ok, err := s.Exists(ctx, path)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%w: %s", ErrExists, path)
	}

	opts := &blob.WriterOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"message": message},
	}
	if err := s.bucket.WriteAll(ctx, path, data, opts); err != nil {
		if gcerrors.Code(err) == gcerrors.AlreadyExists || gcerrors.Code(err) == gcerrors.FailedPrecondition {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
