package testutils

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// FakeFile is a document stored through the fake contents API.
type FakeFile struct {
	Content []byte
	Message string
	Branch  string
}

// FakeAsset is a release asset held by FakeGitHub.
type FakeAsset struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
	DownloadURL string `json:"browser_download_url"`

	data []byte
}

// FakeRelease is a release held by FakeGitHub.
type FakeRelease struct {
	ID     int64
	Repo   string
	Tag    string
	Target string
	Assets []*FakeAsset
}

// FakeTag is an annotated tag object created through the git data API.
type FakeTag struct {
	SHA        string
	Tag        string
	Message    string
	Object     string
	ObjectType string
}

// FakeGitHub is an in-memory implementation of the parts of the GitHub REST
// API used to publish shards: repository contents, releases, release
// assets, tag objects and refs.
type FakeGitHub struct {
	Server *httptest.Server

	mu       sync.Mutex
	files    map[string]*FakeFile
	releases map[string]*FakeRelease
	tags     []FakeTag
	refs     map[string]string
	requests []string
	nextID   int64
	fail     map[string]int
}

// NewFakeGitHub starts a fake GitHub API server that is closed when the
// test ends.
func NewFakeGitHub(t *testing.T) *FakeGitHub {
	t.Helper()
	f := &FakeGitHub{
		files:    make(map[string]*FakeFile),
		releases: make(map[string]*FakeRelease),
		refs:     make(map[string]string),
		fail:     make(map[string]int),
		nextID:   1,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/{owner}/{repo}/contents/{path...}", f.handleContents)
	mux.HandleFunc("/repos/{owner}/{repo}/releases", f.handleCreateRelease)
	mux.HandleFunc("/repos/{owner}/{repo}/releases/{rest...}", f.handleReleases)
	mux.HandleFunc("POST /repos/{owner}/{repo}/git/tags", f.handleCreateTag)
	mux.HandleFunc("POST /repos/{owner}/{repo}/git/refs", f.handleCreateRef)
	mux.HandleFunc("GET /download/{owner}/{repo}/{rest...}", f.handleDownload)

	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		f.mu.Lock()
		f.requests = append(f.requests, key)
		fail := f.fail[r.Method] > 0
		if fail {
			f.fail[r.Method]--
		}
		f.mu.Unlock()
		if fail {
			http.Error(w, `{"message":"Server Error"}`, http.StatusBadGateway)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.Server.Close)
	return f
}

// URL is the API root, with a trailing slash.
func (f *FakeGitHub) URL() string {
	return f.Server.URL + "/"
}

// FailNext makes the next n requests with the given method fail with 502.
func (f *FakeGitHub) FailNext(method string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[method] += n
}

// PutFile stores a document directly, bypassing the API.
func (f *FakeGitHub) PutFile(repo, path string, content []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[repo+"/"+path] = &FakeFile{Content: content}
}

// File returns the document stored at path in repo.
func (f *FakeGitHub) File(repo, path string) (*FakeFile, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[repo+"/"+path]
	return file, ok
}

// FileCount returns the number of stored documents across all repos.
func (f *FakeGitHub) FileCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.files)
}

// Release returns the release for tag in repo.
func (f *FakeGitHub) Release(repo, tag string) (*FakeRelease, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rel, ok := f.releases[repo+"@"+tag]
	return rel, ok
}

// AddRelease creates a release directly, bypassing the API.
func (f *FakeGitHub) AddRelease(repo, tag string, assets ...string) *FakeRelease {
	f.mu.Lock()
	defer f.mu.Unlock()
	rel := f.newReleaseLocked(repo, tag, "")
	for _, name := range assets {
		f.addAssetLocked(rel, name, "application/octet-stream", nil)
	}
	return rel
}

// Tags returns the tag objects created so far.
func (f *FakeGitHub) Tags() []FakeTag {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FakeTag(nil), f.tags...)
}

// Ref returns the object a ref points to.
func (f *FakeGitHub) Ref(repo, ref string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sha, ok := f.refs[repo+"@"+ref]
	return sha, ok
}

// Requests returns "METHOD path" for every request received.
func (f *FakeGitHub) Requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

// CountRequests returns how many requests start with prefix.
func (f *FakeGitHub) CountRequests(prefix string) int {
	n := 0
	for _, r := range f.Requests() {
		if strings.HasPrefix(r, prefix) {
			n++
		}
	}
	return n
}

func repoOf(r *http.Request) string {
	return r.PathValue("owner") + "/" + r.PathValue("repo")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func notFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
}

func (f *FakeGitHub) handleContents(w http.ResponseWriter, r *http.Request) {
	key := repoOf(r) + "/" + r.PathValue("path")

	switch r.Method {
	case http.MethodGet:
		f.mu.Lock()
		file, ok := f.files[key]
		f.mu.Unlock()
		if !ok {
			notFound(w)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"path":     r.PathValue("path"),
			"encoding": "base64",
			"content":  base64.StdEncoding.EncodeToString(file.Content),
		})

	case http.MethodPut:
		var req struct {
			Message string `json:"message"`
			Content string `json:"content"`
			Branch  string `json:"branch"`
			SHA     string `json:"sha"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
			return
		}
		content, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "content is not valid Base64"})
			return
		}

		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.files[key]; ok && req.SHA == "" {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"message": "Invalid request.\n\n\"sha\" wasn't supplied.",
			})
			return
		}
		f.files[key] = &FakeFile{Content: content, Message: req.Message, Branch: req.Branch}
		writeJSON(w, http.StatusCreated, map[string]any{
			"content": map[string]string{"path": r.PathValue("path")},
		})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *FakeGitHub) newReleaseLocked(repo, tag, target string) *FakeRelease {
	rel := &FakeRelease{ID: f.nextID, Repo: repo, Tag: tag, Target: target}
	f.nextID++
	f.releases[repo+"@"+tag] = rel
	return rel
}

func (f *FakeGitHub) addAssetLocked(rel *FakeRelease, name, contentType string, data []byte) *FakeAsset {
	a := &FakeAsset{
		ID:          f.nextID,
		Name:        name,
		ContentType: contentType,
		Size:        len(data),
		DownloadURL: fmt.Sprintf("%s/download/%s/%s/%s", f.Server.URL, rel.Repo, rel.Tag, name),
		data:        data,
	}
	f.nextID++
	rel.Assets = append(rel.Assets, a)
	return a
}

func (f *FakeGitHub) releaseJSON(rel *FakeRelease) map[string]any {
	return map[string]any{
		"id":               rel.ID,
		"tag_name":         rel.Tag,
		"target_commitish": rel.Target,
		"name":             "",
		"body":             "",
		"upload_url":       fmt.Sprintf("%s/repos/%s/releases/%d/assets{?name,label}", f.Server.URL, rel.Repo, rel.ID),
		"assets":           rel.Assets,
	}
}

func (f *FakeGitHub) handleCreateRelease(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		TagName         string `json:"tag_name"`
		TargetCommitish string `json:"target_commitish"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	repo := repoOf(r)
	if _, ok := f.releases[repo+"@"+req.TagName]; ok {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"message": "Validation Failed",
			"errors":  []map[string]string{{"resource": "Release", "code": "already_exists", "field": "tag_name"}},
		})
		return
	}
	rel := f.newReleaseLocked(repo, req.TagName, req.TargetCommitish)
	writeJSON(w, http.StatusCreated, f.releaseJSON(rel))
}

// handleReleases serves releases/tags/{tag} and releases/{id}/assets. The
// tag may itself contain slashes.
func (f *FakeGitHub) handleReleases(w http.ResponseWriter, r *http.Request) {
	repo := repoOf(r)
	rest := r.PathValue("rest")

	if tag, ok := strings.CutPrefix(rest, "tags/"); ok && r.Method == http.MethodGet {
		f.mu.Lock()
		defer f.mu.Unlock()
		rel, ok := f.releases[repo+"@"+tag]
		if !ok {
			notFound(w)
			return
		}
		writeJSON(w, http.StatusOK, f.releaseJSON(rel))
		return
	}

	idStr, ok := strings.CutSuffix(rest, "/assets")
	if !ok {
		notFound(w)
		return
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		notFound(w)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var rel *FakeRelease
	for _, candidate := range f.releases {
		if candidate.ID == id && candidate.Repo == repo {
			rel = candidate
		}
	}
	if rel == nil {
		notFound(w)
		return
	}

	switch r.Method {
	case http.MethodGet:
		assets := append([]*FakeAsset(nil), rel.Assets...)
		sort.Slice(assets, func(i, j int) bool { return assets[i].ID < assets[j].ID })
		writeJSON(w, http.StatusOK, assets)

	case http.MethodPost:
		name := r.URL.Query().Get("name")
		for _, a := range rel.Assets {
			if a.Name == name {
				writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
					"message": "Validation Failed",
					"errors":  []map[string]string{{"resource": "ReleaseAsset", "code": "already_exists", "field": "name"}},
				})
				return
			}
		}
		data, err := io.ReadAll(r.Body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
			return
		}
		a := f.addAssetLocked(rel, name, r.Header.Get("Content-Type"), data)
		writeJSON(w, http.StatusCreated, a)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *FakeGitHub) handleCreateTag(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tag     string `json:"tag"`
		Message string `json:"message"`
		Object  string `json:"object"`
		Type    string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	sha := fmt.Sprintf("%040x", f.nextID)
	f.nextID++
	f.tags = append(f.tags, FakeTag{SHA: sha, Tag: req.Tag, Message: req.Message, Object: req.Object, ObjectType: req.Type})
	writeJSON(w, http.StatusCreated, map[string]any{
		"tag":     req.Tag,
		"sha":     sha,
		"message": req.Message,
		"object":  map[string]string{"sha": req.Object, "type": req.Type},
	})
}

func (f *FakeGitHub) handleCreateRef(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	key := repoOf(r) + "@" + req.Ref
	if _, ok := f.refs[key]; ok {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "Reference already exists"})
		return
	}
	f.refs[key] = req.SHA
	objType := "commit"
	for _, t := range f.tags {
		if t.SHA == req.SHA {
			objType = "tag"
		}
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"ref":    req.Ref,
		"object": map[string]string{"sha": req.SHA, "type": objType},
	})
}

func (f *FakeGitHub) handleDownload(w http.ResponseWriter, r *http.Request) {
	rest := r.PathValue("rest")
	i := strings.LastIndex(rest, "/")
	if i < 0 {
		notFound(w)
		return
	}
	tag, name := rest[:i], rest[i+1:]

	f.mu.Lock()
	defer f.mu.Unlock()
	rel, ok := f.releases[repoOf(r)+"@"+tag]
	if !ok {
		notFound(w)
		return
	}
	for _, a := range rel.Assets {
		if a.Name == name {
			w.Header().Set("Content-Type", a.ContentType)
			w.Write(a.data)
			return
		}
	}
	notFound(w)
}
