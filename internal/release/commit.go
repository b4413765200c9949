package release

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"go.uber.org/zap"

	"github.com/wolfv/repodata-tools/internal/retry"
)

// CommitProducer supplies the commit a new release tag points to.
type CommitProducer interface {
	Commit(ctx context.Context, subdir, pkg string) (string, error)
}

// CommitFunc adapts a function to CommitProducer.
type CommitFunc func(ctx context.Context, subdir, pkg string) (string, error)

func (f CommitFunc) Commit(ctx context.Context, subdir, pkg string) (string, error) {
	return f(ctx, subdir, pkg)
}

// CommitMessage is the message of the empty commit backing a release.
func CommitMessage(subdir, pkg string) string {
	return fmt.Sprintf("%s/%s [ci skip] [cf admin skip] ***NO_CI***", subdir, pkg)
}

// Identity is the author of generated commits.
type Identity struct {
	Name  string
	Email string
}

// DefaultIdentity is the bot account commits are attributed to.
var DefaultIdentity = Identity{
	Name:  "conda-forge-daemon",
	Email: "64793534+conda-forge-daemon@users.noreply.github.com",
}

// GitCommitter produces release commits in a local checkout of the
// releases repository.
//
// With MakeCommit set, every call fetches the remote, moves the local
// branch to the remote head, adds an empty commit and pushes it. Concurrent
// runs are not coordinated; a rejected push is retried from a fresh fetch.
// Without MakeCommit the current HEAD is returned.
type GitCommitter struct {
	Dir        string
	Remote     string
	Branch     string
	MakeCommit bool
	Identity   Identity
	Auth       transport.AuthMethod
	Retry      retry.Policy
	Logger     *zap.Logger
}

// TokenAuth authenticates https remotes with a GitHub token.
func TokenAuth(token string) transport.AuthMethod {
	if token == "" {
		return nil
	}
	return &githttp.BasicAuth{Username: "x-access-token", Password: token}
}

func (g *GitCommitter) logger() *zap.Logger {
	if g.Logger == nil {
		return zap.NewNop()
	}
	return g.Logger
}

func (g *GitCommitter) remote() string {
	if g.Remote == "" {
		return git.DefaultRemoteName
	}
	return g.Remote
}

func (g *GitCommitter) Commit(ctx context.Context, subdir, pkg string) (string, error) {
	repo, err := git.PlainOpen(g.Dir)
	if err != nil {
		return "", fmt.Errorf("open checkout %s: %w", g.Dir, err)
	}

	if !g.MakeCommit {
		head, err := repo.Head()
		if err != nil {
			return "", fmt.Errorf("resolve HEAD: %w", err)
		}
		return head.Hash().String(), nil
	}

	msg := CommitMessage(subdir, pkg)
	return retry.DoValue(ctx, g.Retry, func() (string, error) {
		hash, err := g.commitOnce(ctx, repo, msg)
		if err != nil {
			g.logger().Warn("release commit attempt failed", zap.Error(err))
			return "", err
		}
		return hash.String(), nil
	})
}

func (g *GitCommitter) commitOnce(ctx context.Context, repo *git.Repository, msg string) (plumbing.Hash, error) {
	remote := g.remote()

	err := repo.FetchContext(ctx, &git.FetchOptions{RemoteName: remote, Auth: g.Auth, Force: true})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return plumbing.ZeroHash, fmt.Errorf("fetch %s: %w", remote, err)
	}

	branch, err := g.branch(repo)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName(remote, branch.Short()), true)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve %s/%s: %w", remote, branch.Short(), err)
	}

	if err := repo.Storer.SetReference(plumbing.NewHashReference(branch, remoteRef.Hash())); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("update %s: %w", branch, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("worktree: %w", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: branch, Force: true}); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("checkout %s: %w", branch, err)
	}

	identity := g.Identity
	if identity.Name == "" {
		identity = DefaultIdentity
	}
	hash, err := wt.Commit(msg, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  identity.Name,
			Email: identity.Email,
			When:  time.Now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit: %w", err)
	}

	refSpec := gitconfig.RefSpec(fmt.Sprintf("%s:%s", branch, branch))
	err = repo.PushContext(ctx, &git.PushOptions{
		RemoteName: remote,
		RefSpecs:   []gitconfig.RefSpec{refSpec},
		Auth:       g.Auth,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return plumbing.ZeroHash, fmt.Errorf("push %s: %w", branch.Short(), err)
	}

	g.logger().Info("pushed release commit", zap.String("sha", hash.String()), zap.String("branch", branch.Short()))
	return hash, nil
}

// branch is the configured branch, or the branch HEAD is on.
func (g *GitCommitter) branch(repo *git.Repository) (plumbing.ReferenceName, error) {
	if g.Branch != "" {
		return plumbing.NewBranchReferenceName(g.Branch), nil
	}
	head, err := repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	if head.Type() != plumbing.SymbolicReference || !head.Target().IsBranch() {
		return "", fmt.Errorf("HEAD is detached, set a branch")
	}
	return head.Target(), nil
}
