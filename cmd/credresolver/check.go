package main

import (
	"fmt"
	"strings"

	"github.com/diggerhq/credresolver/resolver"
	"github.com/spf13/cobra"
)

func newCheckCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Load the configured credentials resolver and report the outcome",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result := resolver.Load(s.cfg, s.principal)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "principal:  %s\n", s.principal)
			fmt.Fprintf(out, "resolver:   %s\n", result.Name)
			fmt.Fprintf(out, "outcome:    %s\n", result.Outcome)
			fmt.Fprintf(out, "registered: %s\n", strings.Join(resolver.DefaultRegistry.Names(), ", "))
			if result.Failed() {
				fmt.Fprintf(out, "error:      %v\n", result.Err)
				return fmt.Errorf("credentials resolver %s could not be loaded (%s), calls fall back to the default chain", result.Name, result.Outcome)
			}
			return nil
		},
	}
}
