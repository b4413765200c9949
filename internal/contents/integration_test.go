//go:build integration

package contents

import (
	"context"
	"testing"
	"time"

	_ "gocloud.dev/blob/s3blob"
	"go.uber.org/zap/zaptest"

	"github.com/wolfv/repodata-tools/internal/testutils"
	"github.com/wolfv/repodata-tools/pkg/shard"
)

func TestBucketStoreMinio(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	minio := testutils.StartMinioContainer(t, ctx, "shards-test-bucket")
	defer func() {
		if err := minio.Close(ctx); err != nil {
			t.Logf("failed to terminate minio container: %v", err)
		}
	}()

	store, closeFn, err := OpenBucketStore(ctx, minio.BucketURL)
	if err != nil {
		t.Fatalf("OpenBucketStore: %v", err)
	}
	defer closeFn()

	p := NewPublisher(store, zaptest.NewLogger(t))
	s := &shard.Shard{
		Labels:   []string{"main"},
		Package:  "foo-1.0-0.tar.bz2",
		Subdir:   "linux-64",
		URL:      "https://example.com/foo-1.0-0.tar.bz2",
		Repodata: map[string]any{"name": "foo"},
	}
	path := shard.Path(s.Subdir, s.Package)

	res, err := p.Publish(ctx, s, path)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !res.Published {
		t.Fatal("first publish reported no write")
	}
	res, err = p.Publish(ctx, s, path)
	if err != nil {
		t.Fatalf("second Publish: %v", err)
	}
	if res.Published {
		t.Error("second publish wrote again")
	}

	attrs, err := store.Bucket().Attributes(ctx, path)
	if err != nil {
		t.Fatalf("Attributes: %v", err)
	}
	if attrs.ContentType != "application/json" {
		t.Errorf("content type = %q", attrs.ContentType)
	}

	index, err := shard.LoadSubdir(ctx, store.Bucket(), "linux-64", shard.LoadOptions{Workers: 2})
	if err != nil {
		t.Fatalf("LoadSubdir: %v", err)
	}
	if got := index["linux-64/foo-1.0-0.tar.bz2"]; got == nil || got.URL != s.URL {
		t.Errorf("loaded index = %v", index)
	}
}
