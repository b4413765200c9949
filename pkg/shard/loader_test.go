package shard

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"
)

func openBucket(t *testing.T) *blob.Bucket {
	t.Helper()
	bucket, err := blob.OpenBucket(context.Background(), "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	t.Cleanup(func() { bucket.Close() })
	return bucket
}

func writeShard(t *testing.T, bucket *blob.Bucket, subdir, pkg string) *Shard {
	t.Helper()
	s := &Shard{
		Channeldata:        map[string]any{"subdirs": []any{subdir}},
		ChanneldataVersion: 1,
		Feedstock:          "test-feedstock",
		Labels:             []string{"main"},
		Package:            pkg,
		Repodata:           map[string]any{"name": "test"},
		RepodataVersion:    1,
		Subdir:             subdir,
		URL:                "https://example.com/" + pkg,
	}
	data, err := Encode(s)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := bucket.WriteAll(context.Background(), Path(subdir, pkg), data, nil); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	return s
}

func TestLoadSubdir(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)

	want := make(map[string]bool)
	for i := 0; i < 16; i++ {
		s := writeShard(t, bucket, "linux-64", fmt.Sprintf("pkg%d-1.0-0.tar.bz2", i))
		want[s.Key()] = true
	}
	// Other subdirs and stray files are not part of the index.
	writeShard(t, bucket, "osx-64", "other-1.0-0.tar.bz2")
	if err := bucket.WriteAll(ctx, "shards/linux-64/README.md", []byte("hi"), nil); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}

	var loaded atomic.Int32
	index, err := LoadSubdir(ctx, bucket, "linux-64", LoadOptions{
		Workers:  8,
		OnLoaded: func(string) { loaded.Add(1) },
	})
	if err != nil {
		t.Fatalf("LoadSubdir: %v", err)
	}

	if len(index) != 16 {
		t.Fatalf("expected 16 entries, got %d", len(index))
	}
	for key, s := range index {
		if !want[key] {
			t.Errorf("unexpected key %q", key)
		}
		if key != s.Subdir+"/"+s.Package {
			t.Errorf("key %q does not match shard content %s/%s", key, s.Subdir, s.Package)
		}
	}
	if loaded.Load() != 16 {
		t.Errorf("expected 16 progress callbacks, got %d", loaded.Load())
	}
}

func TestLoadSubdirFewerFilesThanWorkers(t *testing.T) {
	bucket := openBucket(t)
	for i := 0; i < 3; i++ {
		writeShard(t, bucket, "noarch", fmt.Sprintf("small%d-1.0-0.tar.bz2", i))
	}

	index, err := LoadSubdir(context.Background(), bucket, "noarch", LoadOptions{Workers: 8})
	if err != nil {
		t.Fatalf("LoadSubdir: %v", err)
	}
	if len(index) != 3 {
		t.Errorf("expected 3 entries, got %d", len(index))
	}
}

func TestLoadSubdirEmpty(t *testing.T) {
	index, err := LoadSubdir(context.Background(), openBucket(t), "win-64", LoadOptions{})
	if err != nil {
		t.Fatalf("LoadSubdir: %v", err)
	}
	if len(index) != 0 {
		t.Errorf("expected empty index, got %d entries", len(index))
	}
}

func TestLoadSubdirMalformed(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)
	for i := 0; i < 10; i++ {
		writeShard(t, bucket, "linux-64", fmt.Sprintf("ok%d-1.0-0.tar.bz2", i))
	}
	bad := Path("linux-64", "bad-1.0-0.tar.bz2")
	if err := bucket.WriteAll(ctx, bad, []byte("{truncated"), nil); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}

	index, err := LoadSubdir(ctx, bucket, "linux-64", LoadOptions{Workers: 4})
	if !errors.Is(err, ErrPartialLoad) {
		t.Fatalf("expected ErrPartialLoad, got %v", err)
	}
	if index != nil {
		t.Error("no partial index should be returned")
	}
}

func TestLoadSubdirMissingIdentity(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)
	if err := bucket.WriteAll(ctx, Path("linux-64", "anon-1.0-0.tar.bz2"), []byte(`{"subdir": "linux-64"}`), nil); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}

	_, err := LoadSubdir(ctx, bucket, "linux-64", LoadOptions{})
	if !errors.Is(err, ErrPartialLoad) || !errors.Is(err, ErrInvalidShard) {
		t.Errorf("expected ErrPartialLoad wrapping ErrInvalidShard, got %v", err)
	}
}

func TestListSkipsWrongDepth(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)
	writeShard(t, bucket, "linux-64", "good-1.0-0.tar.bz2")
	if err := bucket.WriteAll(ctx, LegacyPath("linux-64", "old-1.0-0.tar.bz2"), []byte("{}"), nil); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	if err := bucket.WriteAll(ctx, "shards/linux-64/a/b/shallow.json", []byte("{}"), nil); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}

	keys, err := List(ctx, bucket, "linux-64")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 1 || keys[0] != Path("linux-64", "good-1.0-0.tar.bz2") {
		t.Errorf("unexpected keys %v", keys)
	}
}

func TestPartition(t *testing.T) {
	keys := make([]string, 17)
	for i := range keys {
		keys[i] = fmt.Sprint(i)
	}

	chunks := partition(keys, 8)
	if len(chunks) > 8 {
		t.Fatalf("expected at most 8 chunks, got %d", len(chunks))
	}

	next := 0
	for _, chunk := range chunks {
		for _, k := range chunk {
			if k != keys[next] {
				t.Fatalf("chunks are not contiguous: got %s, want %s", k, keys[next])
			}
			next++
		}
	}
	if next != len(keys) {
		t.Errorf("partition dropped keys: %d of %d", next, len(keys))
	}

	if partition(nil, 8) != nil {
		t.Error("expected no chunks for no keys")
	}
}
