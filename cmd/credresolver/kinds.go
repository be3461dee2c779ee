package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/diggerhq/credresolver/resolver"
	"github.com/spf13/cobra"
)

func newKindsCmd() *cobra.Command {
	var access string

	cmd := &cobra.Command{
		Use:   "kinds",
		Short: "List the S3 request kinds resolvers can match on",
		Args:  cobra.NoArgs,
		// no configuration needed
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds := resolver.RequestKinds()
			if access != "" {
				level, ok := resolver.ParseAccessLevel(access)
				if !ok {
					return fmt.Errorf("unknown access level %q", access)
				}
				kinds = resolver.RequestKindsWithAccess(level)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, kind := range kinds {
				fmt.Fprintf(w, "%s\t%s\n", kind, kind.AccessLevel())
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&access, "access", "", "only list kinds with this access level")
	return cmd
}
