package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	rdhttp "github.com/wolfv/repodata-tools/internal/http"
	"github.com/wolfv/repodata-tools/internal/release"
	"github.com/wolfv/repodata-tools/internal/retry"
)

func newLinksCmd(g *globalOptions) *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "links [KEY]",
		Short: "Print the latest package links table",
		Long: `Fetch the bzip2 compressed links table published by the repodata
repository and print it as JSON. With KEY, print only the link of that
"<subdir>/<package>" entry.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 1 {
				return usageError(fmt.Errorf("links expects at most 1 argument, got %d", len(args)))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if url == "" {
				url = release.LinksURL(cfg.LinksRepo)
			}

			opts := rdhttp.DefaultOptions()
			opts.Retry = retry.Policy{
				Attempts:   cfg.Retry.Attempts,
				Backoff:    cfg.Retry.Backoff,
				MaxBackoff: cfg.Retry.MaxBackoff,
			}
			links, err := release.LatestLinks(cmd.Context(), rdhttp.NewClient(opts), url)
			if err != nil {
				return err
			}

			if len(args) == 1 {
				link, ok := links[args[0]]
				if !ok {
					return fmt.Errorf("no link for %q", args[0])
				}
				fmt.Fprintln(g.stdout, link)
				return nil
			}
			enc := json.NewEncoder(g.stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(links)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "links table URL (default: latest release of links_repo)")
	return cmd
}
