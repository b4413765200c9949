package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wolfv/repodata-tools/pkg/shard"
)

func newPathCmd(g *globalOptions) *cobra.Command {
	var legacy bool
	cmd := &cobra.Command{
		Use:   "path SUBDIR PACKAGE",
		Short: "Print the shard path of a package",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if legacy {
				fmt.Fprintln(g.stdout, shard.LegacyPath(args[0], args[1]))
				return nil
			}
			fmt.Fprintln(g.stdout, shard.Path(args[0], args[1]))
			return nil
		},
	}
	cmd.Flags().BoolVar(&legacy, "legacy", false, "print the character based path of the old repository layout")
	return cmd
}
