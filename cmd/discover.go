package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/tap-acuite/internal/catalog"
)

func newDiscoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Print the catalog of streams this tap can emit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := catalog.Discover()
			if err != nil {
				return err
			}
			data, err := cat.Marshal()
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintln(cmd.OutOrStdout(), string(data)); err != nil {
				return fmt.Errorf("write catalog: %w", err)
			}
			return nil
		},
	}
}
