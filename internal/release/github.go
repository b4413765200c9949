package release

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v66/github"

	"github.com/wolfv/repodata-tools/internal/retry"
)

// NewGitHubClient returns a go-github client using httpClient. Empty roots
// keep the public GitHub endpoints.
func NewGitHubClient(httpClient *http.Client, token, apiRoot, uploadRoot string) (*github.Client, error) {
	gh := github.NewClient(httpClient)
	if token != "" {
		gh = gh.WithAuthToken(token)
	}
	if apiRoot != "" {
		u, err := parseRoot(apiRoot)
		if err != nil {
			return nil, fmt.Errorf("api root: %w", err)
		}
		gh.BaseURL = u
	}
	if uploadRoot == "" {
		uploadRoot = apiRoot
	}
	if uploadRoot != "" {
		u, err := parseRoot(uploadRoot)
		if err != nil {
			return nil, fmt.Errorf("upload root: %w", err)
		}
		gh.UploadURL = u
	}
	return gh, nil
}

func parseRoot(raw string) (*url.URL, error) {
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	return url.Parse(raw)
}

// SplitRepo splits "owner/name".
func SplitRepo(full string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(full, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("invalid repository %q, expected owner/name", full)
	}
	return owner, name, nil
}

func isNotFound(err error) bool {
	var er *github.ErrorResponse
	return errors.As(err, &er) && er.Response != nil && er.Response.StatusCode == http.StatusNotFound
}

// isAlreadyExists matches the validation error GitHub returns when a
// release, asset or ref with the same name already exists.
func isAlreadyExists(err error) bool {
	var er *github.ErrorResponse
	if !errors.As(err, &er) || er.Response == nil || er.Response.StatusCode != http.StatusUnprocessableEntity {
		return false
	}
	for _, e := range er.Errors {
		if e.Code == "already_exists" {
			return true
		}
	}
	return strings.Contains(strings.ToLower(er.Message), "already exists")
}

// classify marks client errors other than rate limiting as permanent.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return err
	}
	var er *github.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		code := er.Response.StatusCode
		if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
			return retry.Permanent(err)
		}
	}
	return err
}
