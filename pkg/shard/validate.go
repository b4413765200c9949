package shard

import (
	"context"
	"fmt"

	"gocloud.dev/blob"
)

// ValidationResult contains the results of validating a subdir's shards.
type ValidationResult struct {
	Valid      bool     // true if every document is well formed and correctly placed
	ShardCount int      // number of documents found
	Malformed  int      // documents that could not be decoded
	Misplaced  int      // documents whose key differs from Path(subdir, package)
	Errors     []string // detailed error messages
}

// Validate checks that every shard document under subdir decodes and lives
// at the path derived from its own subdir and package.
//
// Returns an error if:
//   - The bucket cannot be listed (network/permission error)
//   - A listed document disappears or cannot be read
//   - The context is cancelled
//
// Note: Malformed or misplaced documents are NOT returned as errors.
// Instead, they are reported in the ValidationResult with Valid=false.
func Validate(ctx context.Context, bucket *blob.Bucket, subdir string) (*ValidationResult, error) {
	keys, err := List(ctx, bucket, subdir)
	if err != nil {
		return nil, err
	}

	result := &ValidationResult{
		Valid:      true,
		ShardCount: len(keys),
		Errors:     make([]string, 0),
	}

	for _, key := range keys {
		data, err := bucket.ReadAll(ctx, key)
		if err != nil {
			if isNotExist(err) {
				return nil, fmt.Errorf("shard: %s vanished during validation: %w", key, err)
			}
			return nil, fmt.Errorf("shard: read %s: %w", key, err)
		}

		s, err := Decode(data)
		if err == nil {
			err = s.Validate()
		}
		if err != nil {
			result.Valid = false
			result.Malformed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", key, err))
			continue
		}

		if s.Subdir != subdir {
			result.Valid = false
			result.Misplaced++
			result.Errors = append(result.Errors,
				fmt.Sprintf("%s: subdir %q does not match %q", key, s.Subdir, subdir))
			continue
		}

		if want := Path(s.Subdir, s.Package); want != key {
			result.Valid = false
			result.Misplaced++
			result.Errors = append(result.Errors,
				fmt.Sprintf("%s: expected at %s", key, want))
		}
	}

	return result, nil
}
