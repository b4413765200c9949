package release

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/go-github/v66/github"
	"go.uber.org/zap"

	"github.com/wolfv/repodata-tools/internal/retry"
)

// Asset is a file attached to a release. Its name is unique within the
// release.
type Asset struct {
	ID          int64
	Name        string
	ContentType string
	Size        int
	DownloadURL string
}

// Release is a tagged release and the assets known to be attached to it.
type Release struct {
	ID     int64
	Tag    string
	Assets []Asset
}

// Asset returns the attached asset called name.
func (r *Release) Asset(name string) (Asset, bool) {
	for _, a := range r.Assets {
		if a.Name == name {
			return a, true
		}
	}
	return Asset{}, false
}

// Tag returns the release tag for a package.
func Tag(subdir, pkg string) string {
	return subdir + "/" + pkg
}

// Options configures a Manager.
type Options struct {
	Repo    string // owner/name of the releases repository
	Commits CommitProducer
	Retry   retry.Policy
	Logger  *zap.Logger
}

// Manager finds or creates per-package releases and uploads their assets.
type Manager struct {
	gh      *github.Client
	owner   string
	repo    string
	commits CommitProducer
	policy  retry.Policy
	logger  *zap.Logger
}

// NewManager returns a Manager for opts.Repo.
func NewManager(gh *github.Client, opts Options) (*Manager, error) {
	owner, repo, err := SplitRepo(opts.Repo)
	if err != nil {
		return nil, err
	}
	if opts.Commits == nil {
		return nil, fmt.Errorf("release: commit producer is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := opts.Retry
	if policy.Notify == nil {
		policy = policy.WithNotify(func(err error, wait time.Duration) {
			logger.Warn("retrying github call", zap.Error(err), zap.Duration("wait", wait))
		})
	}
	return &Manager{
		gh:      gh,
		owner:   owner,
		repo:    repo,
		commits: opts.Commits,
		policy:  policy,
		logger:  logger,
	}, nil
}

// GetOrCreate returns the release tagged subdir/pkg, creating the tag and
// the release from a fresh commit when it does not exist yet.
func (m *Manager) GetOrCreate(ctx context.Context, subdir, pkg string) (*Release, error) {
	tag := Tag(subdir, pkg)

	rel, err := m.getByTag(ctx, tag)
	if err != nil {
		return nil, fmt.Errorf("get release %s: %w", tag, err)
	}
	if rel == nil {
		rel, err = m.create(ctx, subdir, pkg)
		if err != nil {
			return nil, fmt.Errorf("create release %s: %w", tag, err)
		}
	}

	assets, err := m.listAssets(ctx, rel.GetID())
	if err != nil {
		return nil, fmt.Errorf("list assets of %s: %w", tag, err)
	}

	return &Release{ID: rel.GetID(), Tag: tag, Assets: assets}, nil
}

// getByTag returns nil, nil when no release has the tag.
func (m *Manager) getByTag(ctx context.Context, tag string) (*github.RepositoryRelease, error) {
	return retry.DoValue(ctx, m.policy, func() (*github.RepositoryRelease, error) {
		rel, _, err := m.gh.Repositories.GetReleaseByTag(ctx, m.owner, m.repo, tag)
		if isNotFound(err) {
			return nil, nil
		}
		return rel, classify(err)
	})
}

func (m *Manager) create(ctx context.Context, subdir, pkg string) (*github.RepositoryRelease, error) {
	tag := Tag(subdir, pkg)

	sha, err := m.commits.Commit(ctx, subdir, pkg)
	if err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	m.logger.Info("creating release", zap.String("tag", tag), zap.String("sha", sha))

	tagObj, err := retry.DoValue(ctx, m.policy, func() (*github.Tag, error) {
		t, _, err := m.gh.Git.CreateTag(ctx, m.owner, m.repo, &github.Tag{
			Tag:     github.String(tag),
			Message: github.String(tag),
			Object:  &github.GitObject{SHA: github.String(sha), Type: github.String("commit")},
		})
		return t, classify(err)
	})
	if err != nil {
		return nil, fmt.Errorf("create tag: %w", err)
	}

	// The ref points at the tag object so the tag stays annotated.
	err = retry.Do(ctx, m.policy, func() error {
		_, _, err := m.gh.Git.CreateRef(ctx, m.owner, m.repo, &github.Reference{
			Ref:    github.String("refs/tags/" + tag),
			Object: &github.GitObject{SHA: github.String(tagObj.GetSHA())},
		})
		if isAlreadyExists(err) {
			return nil
		}
		return classify(err)
	})
	if err != nil {
		return nil, fmt.Errorf("create ref: %w", err)
	}

	rel, err := retry.DoValue(ctx, m.policy, func() (*github.RepositoryRelease, error) {
		rel, _, err := m.gh.Repositories.CreateRelease(ctx, m.owner, m.repo, &github.RepositoryRelease{
			TagName:         github.String(tag),
			TargetCommitish: github.String(sha),
			Name:            github.String(""),
			Body:            github.String(""),
		})
		return rel, classify(err)
	})
	if isAlreadyExists(err) {
		// Another run created it between our lookup and now.
		rel, err = m.getByTag(ctx, tag)
		if err == nil && rel == nil {
			err = fmt.Errorf("release %s reported as existing but not found", tag)
		}
	}
	return rel, err
}

func (m *Manager) listAssets(ctx context.Context, id int64) ([]Asset, error) {
	var assets []Asset
	opts := &github.ListOptions{PerPage: 100}
	for {
		var resp *github.Response
		page, err := retry.DoValue(ctx, m.policy, func() ([]*github.ReleaseAsset, error) {
			page, r, err := m.gh.Repositories.ListReleaseAssets(ctx, m.owner, m.repo, id, opts)
			resp = r
			return page, classify(err)
		})
		if err != nil {
			return nil, err
		}
		for _, a := range page {
			assets = append(assets, fromGitHub(a))
		}
		if resp == nil || resp.NextPage == 0 {
			return assets, nil
		}
		opts.Page = resp.NextPage
	}
}

// Upload attaches the file at path to rel under its base name. If rel
// already has an asset with that name, the known asset is returned and
// nothing is uploaded.
func (m *Manager) Upload(ctx context.Context, rel *Release, path, contentType string) (Asset, error) {
	name := filepath.Base(path)
	if a, ok := rel.Asset(name); ok {
		m.logger.Info("asset already uploaded", zap.String("tag", rel.Tag), zap.String("name", name))
		return a, nil
	}

	uploaded, err := retry.DoValue(ctx, m.policy, func() (*github.ReleaseAsset, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, retry.Permanent(err)
		}
		defer f.Close()

		a, _, err := m.gh.Repositories.UploadReleaseAsset(ctx, m.owner, m.repo, rel.ID,
			&github.UploadOptions{Name: name, MediaType: contentType}, f)
		return a, classify(err)
	})
	if isAlreadyExists(err) {
		// A previous run uploaded it after we listed the assets.
		assets, lerr := m.listAssets(ctx, rel.ID)
		if lerr != nil {
			return Asset{}, fmt.Errorf("upload %s: %w", name, lerr)
		}
		rel.Assets = assets
		if a, ok := rel.Asset(name); ok {
			return a, nil
		}
	}
	if err != nil {
		return Asset{}, fmt.Errorf("upload %s: %w", name, err)
	}

	a := fromGitHub(uploaded)
	rel.Assets = append(rel.Assets, a)
	m.logger.Info("uploaded asset",
		zap.String("tag", rel.Tag),
		zap.String("name", a.Name),
		zap.Int("size", a.Size),
	)
	return a, nil
}

func fromGitHub(a *github.ReleaseAsset) Asset {
	return Asset{
		ID:          a.GetID(),
		Name:        a.GetName(),
		ContentType: a.GetContentType(),
		Size:        a.GetSize(),
		DownloadURL: a.GetBrowserDownloadURL(),
	}
}
