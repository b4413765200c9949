package shard

import (
	"context"
	"testing"
)

func TestValidate(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)
	writeShard(t, bucket, "linux-64", "a-1.0-0.tar.bz2")
	writeShard(t, bucket, "linux-64", "b-1.0-0.tar.bz2")

	result, err := Validate(ctx, bucket, "linux-64")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !result.Valid {
		t.Errorf("expected valid, got invalid: %v", result.Errors)
	}
	if result.ShardCount != 2 {
		t.Errorf("expected 2 shards, got %d", result.ShardCount)
	}
}

func TestValidateMisplaced(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)
	s := writeShard(t, bucket, "linux-64", "a-1.0-0.tar.bz2")

	// Same document stored under another package's path.
	data, err := Encode(s)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := bucket.WriteAll(ctx, Path("linux-64", "zzz-1.0-0.tar.bz2"), data, nil); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}

	result, err := Validate(ctx, bucket, "linux-64")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Valid {
		t.Error("expected invalid result")
	}
	if result.Misplaced != 1 {
		t.Errorf("expected 1 misplaced shard, got %d", result.Misplaced)
	}
}

func TestValidateMalformed(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)
	writeShard(t, bucket, "linux-64", "a-1.0-0.tar.bz2")
	if err := bucket.WriteAll(ctx, Path("linux-64", "bad-1.0-0.tar.bz2"), []byte("nope"), nil); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}

	result, err := Validate(ctx, bucket, "linux-64")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Valid || result.Malformed != 1 {
		t.Errorf("expected one malformed shard, got %+v", result)
	}
	if len(result.Errors) != 1 {
		t.Errorf("expected 1 error message, got %v", result.Errors)
	}
}
