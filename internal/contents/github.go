package contents

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	rdhttp "github.com/wolfv/repodata-tools/internal/http"
)

// DefaultAPIRoot is the public GitHub REST endpoint.
const DefaultAPIRoot = "https://api.github.com"

// GitHubStore stores documents in a GitHub repository through the contents
// API. Every create is a commit on Branch.
type GitHubStore struct {
	client  *rdhttp.Client
	apiRoot string
	repo    string
	branch  string
	logger  *zap.Logger
}

// GitHubOptions configures a GitHubStore.
type GitHubOptions struct {
	APIRoot string // defaults to DefaultAPIRoot
	Repo    string // owner/name
	Branch  string
	Logger  *zap.Logger
}

// NewGitHubStore returns a store backed by the contents API of opts.Repo.
func NewGitHubStore(client *rdhttp.Client, opts GitHubOptions) *GitHubStore {
	apiRoot := opts.APIRoot
	if apiRoot == "" {
		apiRoot = DefaultAPIRoot
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GitHubStore{
		client:  client,
		apiRoot: strings.TrimSuffix(apiRoot, "/"),
		repo:    opts.Repo,
		branch:  opts.Branch,
		logger:  logger,
	}
}

func (s *GitHubStore) contentsURL(path string) string {
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return fmt.Sprintf("%s/repos/%s/contents/%s", s.apiRoot, s.repo, strings.Join(segments, "/"))
}

func apiHeader() http.Header {
	h := http.Header{}
	h.Set("Accept", "application/vnd.github+json")
	return h
}

// Exists returns true on 200 and false on 404. Any other answer, after
// retries, is ErrStoreUnavailable.
func (s *GitHubStore) Exists(ctx context.Context, path string) (bool, error) {
	u := s.contentsURL(path)
	if s.branch != "" {
		u += "?ref=" + url.QueryEscape(s.branch)
	}

	resp, err := s.client.Do(ctx, http.MethodGet, u, nil, apiHeader())
	if err != nil {
		return false, fmt.Errorf("%w: get %s: %w", ErrStoreUnavailable, path, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("%w: get %s: %w", ErrStoreUnavailable, path, rdhttp.StatusError(resp.StatusCode))
	}
}

type createRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch,omitempty"`
}

// Create commits data to path. The contents API refuses to replace a file
// unless its sha is supplied, which turns a lost race into ErrExists. A 409
// means the branch moved under the write; the client retries it and, once
// retries are exhausted, it is ErrStoreUnavailable.
func (s *GitHubStore) Create(ctx context.Context, path string, data []byte, message string) error {
	body, err := json.Marshal(createRequest{
		Message: message,
		Content: base64.StdEncoding.EncodeToString(data),
		Branch:  s.branch,
	})
	if err != nil {
		return fmt.Errorf("encode create request: %w", err)
	}

	resp, err := s.client.Do(ctx, http.MethodPut, s.contentsURL(path), body, apiHeader())
	if err != nil {
		return fmt.Errorf("%w: put %s: %w", ErrStoreUnavailable, path, err)
	}

	switch {
	case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK:
		s.logger.Debug("created document", zap.String("path", path), zap.Int("status", resp.StatusCode))
		return nil
	case resp.StatusCode == http.StatusUnprocessableEntity && missingSHA(resp.Body):
		return fmt.Errorf("%w: %s", ErrExists, path)
	default:
		return fmt.Errorf("put %s: %w: %s", path, rdhttp.StatusError(resp.StatusCode), bytes.TrimSpace(resp.Body))
	}
}

// missingSHA recognizes the validation error returned when a PUT without
// sha targets an existing file: `Invalid request. "sha" wasn't supplied.`
func missingSHA(body []byte) bool {
	var apiErr struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &apiErr); err != nil {
		return false
	}
	return strings.Contains(apiErr.Message, `"sha" wasn't supplied`)
}
