package release

import (
	"compress/bzip2"
	"context"
	"encoding/json"
	"fmt"
	"io"

	rdhttp "github.com/wolfv/repodata-tools/internal/http"
	"github.com/wolfv/repodata-tools/internal/retry"
)

// LinksURL is where the latest package link index of repo is published.
func LinksURL(repo string) string {
	return fmt.Sprintf("https://github.com/%s/releases/latest/download/links.json.bz2", repo)
}

// LatestLinks downloads and decodes the bzip2-compressed link index at url.
// Keys are "<subdir>/<package>", values are artifact download URLs.
func LatestLinks(ctx context.Context, client *rdhttp.Client, url string) (map[string]string, error) {
	var links map[string]string
	err := client.Fetch(ctx, url, func(r io.Reader) error {
		links = nil
		if err := json.NewDecoder(bzip2.NewReader(r)).Decode(&links); err != nil {
			return retry.Permanent(fmt.Errorf("decode links: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	return links, nil
}
