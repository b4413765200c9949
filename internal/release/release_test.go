package release

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-github/v66/github"

	"github.com/wolfv/repodata-tools/internal/retry"
	"github.com/wolfv/repodata-tools/internal/testutils"
)

const (
	testRepo = "regro/releases"
	testSHA  = "0123456789abcdef0123456789abcdef01234567"
)

var testPolicy = retry.Policy{Attempts: 3, Backoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

func newTestManager(t *testing.T, fake *testutils.FakeGitHub, commits *atomic.Int32) *Manager {
	t.Helper()
	gh, err := NewGitHubClient(http.DefaultClient, "token", fake.URL(), fake.URL())
	if err != nil {
		t.Fatalf("NewGitHubClient: %v", err)
	}
	m, err := NewManager(gh, Options{
		Repo: testRepo,
		Commits: CommitFunc(func(ctx context.Context, subdir, pkg string) (string, error) {
			commits.Add(1)
			return testSHA, nil
		}),
		Retry: testPolicy,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestGetOrCreateCreatesRelease(t *testing.T) {
	fake := testutils.NewFakeGitHub(t)
	var commits atomic.Int32
	m := newTestManager(t, fake, &commits)

	rel, err := m.GetOrCreate(context.Background(), "linux-64", "foo-1.0-0.tar.bz2")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	const tag = "linux-64/foo-1.0-0.tar.bz2"
	if rel.Tag != tag {
		t.Errorf("expected tag %s, got %s", tag, rel.Tag)
	}
	if len(rel.Assets) != 0 {
		t.Errorf("expected no assets, got %v", rel.Assets)
	}
	if commits.Load() != 1 {
		t.Errorf("expected 1 commit, got %d", commits.Load())
	}

	tags := fake.Tags()
	if len(tags) != 1 {
		t.Fatalf("expected 1 tag object, got %d", len(tags))
	}
	if tags[0].Tag != tag || tags[0].Message != tag || tags[0].Object != testSHA || tags[0].ObjectType != "commit" {
		t.Errorf("unexpected tag object %+v", tags[0])
	}

	sha, ok := fake.Ref(testRepo, "refs/tags/"+tag)
	if !ok || sha != tags[0].SHA {
		t.Errorf("expected ref refs/tags/%s -> tag object %s, got %q (%v)", tag, tags[0].SHA, sha, ok)
	}
	if sha == testSHA {
		t.Error("tag ref points at the commit, the tag would be lightweight")
	}

	stored, ok := fake.Release(testRepo, tag)
	if !ok {
		t.Fatal("release not created")
	}
	if stored.ID != rel.ID {
		t.Errorf("expected release id %d, got %d", stored.ID, rel.ID)
	}
}

func TestGetOrCreateFindsExistingRelease(t *testing.T) {
	fake := testutils.NewFakeGitHub(t)
	fake.AddRelease(testRepo, "noarch/bar-2.0-py_0.tar.bz2", "bar-2.0-py_0.tar.bz2", "repodata_shard.json")
	var commits atomic.Int32
	m := newTestManager(t, fake, &commits)

	rel, err := m.GetOrCreate(context.Background(), "noarch", "bar-2.0-py_0.tar.bz2")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if commits.Load() != 0 {
		t.Errorf("expected no commit for an existing release")
	}
	if len(rel.Assets) != 2 {
		t.Fatalf("expected 2 assets, got %d", len(rel.Assets))
	}
	if _, ok := rel.Asset("repodata_shard.json"); !ok {
		t.Error("expected repodata_shard.json asset")
	}
	if n := fake.CountRequests("POST "); n != 0 {
		t.Errorf("expected no writes, got %d", n)
	}
}

func TestGetOrCreateRetriesServerErrors(t *testing.T) {
	fake := testutils.NewFakeGitHub(t)
	var commits atomic.Int32
	m := newTestManager(t, fake, &commits)

	fake.FailNext(http.MethodGet, 2)
	if _, err := m.GetOrCreate(context.Background(), "linux-64", "foo-1.0-0.tar.bz2"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if _, ok := fake.Release(testRepo, "linux-64/foo-1.0-0.tar.bz2"); !ok {
		t.Error("release not created")
	}
}

func TestGetOrCreateCommitFailure(t *testing.T) {
	fake := testutils.NewFakeGitHub(t)
	gh, err := NewGitHubClient(http.DefaultClient, "", fake.URL(), "")
	if err != nil {
		t.Fatal(err)
	}
	boom := errors.New("push rejected")
	m, err := NewManager(gh, Options{
		Repo: testRepo,
		Commits: CommitFunc(func(context.Context, string, string) (string, error) {
			return "", boom
		}),
		Retry: testPolicy,
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = m.GetOrCreate(context.Background(), "linux-64", "foo-1.0-0.tar.bz2")
	if !errors.Is(err, boom) {
		t.Errorf("expected commit error, got %v", err)
	}
	if len(fake.Tags()) != 0 {
		t.Error("no tag may be created without a commit")
	}
}

func TestUploadIsIdempotent(t *testing.T) {
	fake := testutils.NewFakeGitHub(t)
	var commits atomic.Int32
	m := newTestManager(t, fake, &commits)
	ctx := context.Background()

	rel, err := m.GetOrCreate(ctx, "linux-64", "foo-1.0-0.tar.bz2")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	dir := t.TempDir()
	first := filepath.Join(dir, "a", "repodata_shard.json")
	second := filepath.Join(dir, "b", "repodata_shard.json")
	writeFile(t, first, `{"first": true}`)
	writeFile(t, second, `{"second": true}`)

	a1, err := m.Upload(ctx, rel, first, "application/json")
	if err != nil {
		t.Fatalf("first Upload: %v", err)
	}
	a2, err := m.Upload(ctx, rel, second, "application/json")
	if err != nil {
		t.Fatalf("second Upload: %v", err)
	}

	if a1.ID != a2.ID || a2.Name != "repodata_shard.json" {
		t.Errorf("expected the same asset twice, got %+v and %+v", a1, a2)
	}
	if len(rel.Assets) != 1 {
		t.Errorf("expected 1 known asset, got %d", len(rel.Assets))
	}
	stored, _ := fake.Release(testRepo, rel.Tag)
	if len(stored.Assets) != 1 {
		t.Errorf("expected 1 stored asset, got %d", len(stored.Assets))
	}
	if n := fake.CountRequests("POST /repos/regro/releases/releases/"); n != 1 {
		t.Errorf("expected 1 upload request, got %d", n)
	}
	if stored.Assets[0].ContentType != "application/json" {
		t.Errorf("unexpected content type %q", stored.Assets[0].ContentType)
	}

	resp, err := http.Get(a1.DownloadURL)
	if err != nil {
		t.Fatalf("download asset: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"first": true}` {
		t.Errorf("unexpected asset content %q", body)
	}
}

func TestUploadRecoversFromStaleAssetList(t *testing.T) {
	fake := testutils.NewFakeGitHub(t)
	stored := fake.AddRelease(testRepo, "linux-64/foo-1.0-0.tar.bz2", "foo-1.0-0.tar.bz2")
	var commits atomic.Int32
	m := newTestManager(t, fake, &commits)

	path := filepath.Join(t.TempDir(), "foo-1.0-0.tar.bz2")
	writeFile(t, path, "artifact")

	rel := &Release{ID: stored.ID, Tag: stored.Tag}
	a, err := m.Upload(context.Background(), rel, path, "application/x-bzip2")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if a.ID != stored.Assets[0].ID {
		t.Errorf("expected existing asset %d, got %d", stored.Assets[0].ID, a.ID)
	}
	if len(stored.Assets) != 1 {
		t.Errorf("expected 1 stored asset, got %d", len(stored.Assets))
	}
}

func TestSplitRepo(t *testing.T) {
	tests := []struct {
		in      string
		owner   string
		name    string
		wantErr bool
	}{
		{in: "regro/releases", owner: "regro", name: "releases"},
		{in: "regro", wantErr: true},
		{in: "/releases", wantErr: true},
		{in: "a/b/c", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			owner, name, err := SplitRepo(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %q", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("SplitRepo: %v", err)
			}
			if owner != tt.owner || name != tt.name {
				t.Errorf("expected %s/%s, got %s/%s", tt.owner, tt.name, owner, name)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	notFound := &github.ErrorResponse{Response: &http.Response{StatusCode: http.StatusNotFound}}
	if !isNotFound(notFound) {
		t.Error("expected 404 to be recognized")
	}

	var permanent *backoff.PermanentError
	if !errors.As(classify(notFound), &permanent) {
		t.Error("expected 4xx to be permanent")
	}

	serverErr := &github.ErrorResponse{Response: &http.Response{StatusCode: http.StatusBadGateway}}
	if errors.As(classify(serverErr), &permanent) {
		t.Error("expected 5xx to be retryable")
	}
}
