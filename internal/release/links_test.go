package release

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	rdhttp "github.com/wolfv/repodata-tools/internal/http"
)

// linksFixture is a bzip2-compressed links.json with two entries.
const linksFixture = "QlpoOTFBWSZTWQtfNB4AAEgbgFAH9RAAALtn3nogAGoSpqZNGmmjIAA0CVT01DQNAADT1B4tylk0opcbHB4sgNGBkMB5pvESUgliiITBDNMCJ6Ym4waWlgZIRFDqsVhzzsd4ozz00IGA5SrCAMNR0+RpgH0fxdyRThQkAtfNB4A="

func testHTTPClient() *rdhttp.Client {
	opts := rdhttp.DefaultOptions()
	opts.Retry = testPolicy
	return rdhttp.NewClient(opts)
}

func TestLatestLinks(t *testing.T) {
	data, err := base64.StdEncoding.DecodeString(linksFixture)
	if err != nil {
		t.Fatal(err)
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-bzip2")
		w.Write(data)
	}))
	defer server.Close()

	links, err := LatestLinks(context.Background(), testHTTPClient(), server.URL+"/links.json.bz2")
	if err != nil {
		t.Fatalf("LatestLinks: %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("expected 2 links, got %d", len(links))
	}
	if got := links["linux-64/foo-1.0-0.tar.bz2"]; got != "https://example.com/foo-1.0-0.tar.bz2" {
		t.Errorf("unexpected link %q", got)
	}
}

func TestLatestLinksCorrupt(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte("not bzip2"))
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := LatestLinks(ctx, testHTTPClient(), server.URL); err == nil {
		t.Fatal("expected error for corrupt index")
	}
	if calls != 1 {
		t.Errorf("corrupt index should not be retried, got %d requests", calls)
	}
}

func TestLinksURL(t *testing.T) {
	want := "https://github.com/regro/repodata/releases/latest/download/links.json.bz2"
	if got := LinksURL("regro/repodata"); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}
